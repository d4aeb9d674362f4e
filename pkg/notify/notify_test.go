package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, onPost func(body map[string]any)) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat.postMessage", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = r.ParseForm()
		if r.Header.Get("Content-Type") == "application/json" {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		if onPost != nil {
			onPost(body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C1","ts":"123.456"}`))
	})
	return httptest.NewServer(mux)
}

func TestNewService_ReturnsNilWhenUnconfigured(t *testing.T) {
	assert.Nil(t, NewService(Config{}))
	assert.Nil(t, NewService(Config{Token: "x"}))
	assert.Nil(t, NewService(Config{Channel: "x"}))
}

func TestNotifyPipelineStarted_IsNoOpOnNilService(t *testing.T) {
	var s *Service
	assert.NotPanics(t, func() {
		s.NotifyPipelineStarted(context.Background(), PipelineStartedInput{PipelineID: "p1"})
	})
}

func TestNotifyPipelineStarted_PostsMessage(t *testing.T) {
	posted := false
	srv := newTestServer(t, func(body map[string]any) { posted = true })
	defer srv.Close()

	client := NewClientWithAPIURL("xoxb-test", "C123", srv.URL+"/")
	s := NewServiceWithClient(client, "https://dashboard.invalid")

	s.NotifyPipelineStarted(context.Background(), PipelineStartedInput{
		PipelineID: "org/repo#1@1", IssueRef: "org/repo#1", Category: "simple", Action: "start_code_agent",
	})
	require.Eventually(t, func() bool { return posted }, time.Second, 10*time.Millisecond)
}

func TestNotifyPipelineTerminal_PostsMergedAndAbandoned(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()

	client := NewClientWithAPIURL("xoxb-test", "C123", srv.URL+"/")
	s := NewServiceWithClient(client, "https://dashboard.invalid")

	assert.NotPanics(t, func() {
		s.NotifyPipelineTerminal(context.Background(), PipelineTerminalInput{PipelineID: "p1", IssueRef: "org/repo#1", Status: "merged"})
		s.NotifyPipelineTerminal(context.Background(), PipelineTerminalInput{PipelineID: "p2", IssueRef: "org/repo#2", Status: "abandoned", Error: "claim TTL exceeded"})
	})
}

func TestNotifyEscalation_PostsMessage(t *testing.T) {
	srv := newTestServer(t, nil)
	defer srv.Close()

	client := NewClientWithAPIURL("xoxb-test", "C123", srv.URL+"/")
	s := NewServiceWithClient(client, "https://dashboard.invalid")

	assert.NotPanics(t, func() {
		s.NotifyEscalation(context.Background(), EscalationInput{PipelineID: "p1", IssueRef: "org/repo#1", Reason: "files_touched exceeds threshold"})
	})
}

func TestTruncateForSlack_TruncatesLongText(t *testing.T) {
	long := make([]byte, maxBlockTextLength+500)
	for i := range long {
		long[i] = 'a'
	}
	out := truncateForSlack(string(long))
	assert.Less(t, len(out), len(long))
	assert.Contains(t, out, "truncated")
}

func TestTruncateForSlack_LeavesShortTextUnchanged(t *testing.T) {
	assert.Equal(t, "short", truncateForSlack("short"))
}
