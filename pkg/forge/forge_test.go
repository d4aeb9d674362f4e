package forge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-forge/core/pkg/coreerrors"
	"github.com/agent-forge/core/pkg/ratelimit"
)

// fakeLimiter always allows unless denyNext is set, and records every call.
type fakeLimiter struct {
	denyNext   bool
	denyReason string
	calls      []string
	records    []bool
}

func (f *fakeLimiter) Check(op ratelimit.OpKind, target, digest string) ratelimit.Verdict {
	f.calls = append(f.calls, string(op))
	if f.denyNext {
		return ratelimit.Verdict{Allowed: false, Reason: f.denyReason}
	}
	return ratelimit.Allow
}

func (f *fakeLimiter) Record(op ratelimit.OpKind, target, digest string, success bool) {
	f.records = append(f.records, success)
}

func (f *fakeLimiter) UpdateAPIBudget(remaining int) {}

func newTestClient(t *testing.T, server *httptest.Server, limiter Limiter) *Client {
	t.Helper()
	c, err := New(Config{Token: "test-token", BaseURL: server.URL + "/", RequestTimeout: 0}, limiter)
	require.NoError(t, err)
	return c
}

func TestCreateComment_SendsBodyAndRecordsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 1, "body": "hello"})
	}))
	defer server.Close()

	limiter := &fakeLimiter{}
	client := newTestClient(t, server, limiter)

	comment, err := client.CreateComment(context.Background(), "org", "repo", 42, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", comment.GetBody())
	require.Len(t, limiter.records, 1)
	assert.True(t, limiter.records[0])
}

func TestCreateComment_DeniedByLimiterNeverHitsForge(t *testing.T) {
	hit := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	limiter := &fakeLimiter{denyNext: true, denyReason: "burst cap reached"}
	client := newTestClient(t, server, limiter)

	_, err := client.CreateComment(context.Background(), "org", "repo", 42, "hello")
	require.Error(t, err)
	assert.False(t, hit, "a denied check must never reach the forge API")
}

func TestMergePullRequest_ForgeErrorSurfacesAsForgeUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	limiter := &fakeLimiter{}
	client := newTestClient(t, server, limiter)

	err := client.MergePullRequest(context.Background(), "org", "repo", 7, "merge it")
	require.ErrorIs(t, err, coreerrors.ErrForgeUnavailable)
}
