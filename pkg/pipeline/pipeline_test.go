package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLabelReleaser struct {
	mu      sync.Mutex
	removed []string
}

func (f *fakeLabelReleaser) RemoveLabel(ctx context.Context, owner, repo string, number int, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, label)
	return nil
}

func (f *fakeLabelReleaser) removedLabels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

func TestClaim_StartsInClaimedState(t *testing.T) {
	o := New(Config{})
	rec := o.Claim("org/repo#1", "agent-1")
	assert.Equal(t, StatusClaimed, rec.Status)
}

func TestAdvance_FollowsStateMachineOrder(t *testing.T) {
	o := New(Config{})
	rec := o.Claim("org/repo#1", "agent-1")

	require.NoError(t, o.Advance(rec, StatusAnalyzed))
	require.NoError(t, o.Advance(rec, StatusDispatched))
	require.NoError(t, o.Advance(rec, StatusExecuting))
	require.NoError(t, o.Advance(rec, StatusReviewing))
	require.NoError(t, o.Advance(rec, StatusMerged))
	assert.Equal(t, StatusMerged, rec.Status)
}

func TestAdvance_RejectsSkippedTransition(t *testing.T) {
	o := New(Config{})
	rec := o.Claim("org/repo#1", "agent-1")
	err := o.Advance(rec, StatusDispatched)
	assert.Error(t, err)
}

func TestFail_RetriesUntilMaxAttemptsThenAbandons(t *testing.T) {
	o := New(Config{MaxAttempts: 2, BackoffBase: time.Millisecond, BackoffCap: time.Second})
	rec := o.Claim("org/repo#1", "agent-1")
	require.NoError(t, o.Advance(rec, StatusAnalyzed))
	require.NoError(t, o.Advance(rec, StatusDispatched))
	require.NoError(t, o.Advance(rec, StatusExecuting))

	_, retry := o.Fail(rec, assert.AnError)
	assert.True(t, retry)
	assert.Equal(t, StatusFailed, rec.Status)

	require.NoError(t, o.Advance(rec, StatusExecuting))
	_, retry = o.Fail(rec, assert.AnError)
	assert.False(t, retry)
	assert.Equal(t, StatusAbandoned, rec.Status)
}

func TestAbandon_TerminatesRecordUnconditionally(t *testing.T) {
	o := New(Config{})
	rec := o.Claim("org/repo#1", "agent-1")
	o.Abandon(rec, "cancelled by supervisor")
	assert.Equal(t, StatusAbandoned, rec.Status)
	assert.Equal(t, "cancelled by supervisor", rec.Error)
}

func TestAbandon_ReleasesClaimLabel(t *testing.T) {
	o := New(Config{})
	releaser := &fakeLabelReleaser{}
	o.SetLabelReleaser(releaser)

	rec := o.Claim("org/repo#1", "agent-1")
	o.Abandon(rec, "cancelled by supervisor")

	assert.Equal(t, []string{"claimed-by-agent-1"}, releaser.removedLabels())
}

func TestFail_ReleasesClaimLabelOnceAttemptsExhausted(t *testing.T) {
	o := New(Config{MaxAttempts: 1, BackoffBase: time.Millisecond, BackoffCap: time.Second})
	releaser := &fakeLabelReleaser{}
	o.SetLabelReleaser(releaser)

	rec := o.Claim("org/repo#1", "agent-1")
	require.NoError(t, o.Advance(rec, StatusAnalyzed))
	require.NoError(t, o.Advance(rec, StatusDispatched))
	require.NoError(t, o.Advance(rec, StatusExecuting))

	_, retry := o.Fail(rec, assert.AnError)
	assert.False(t, retry)
	assert.Equal(t, []string{"claimed-by-agent-1"}, releaser.removedLabels())
}

func TestRecover_ReleasesClaimLabelForStaleRecord(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "pipelines.json")

	o := New(Config{StatePath: statePath, ClaimTTL: 10 * time.Millisecond})
	rec := o.Claim("org/repo#1", "agent-1")
	require.NoError(t, o.Advance(rec, StatusAnalyzed))

	time.Sleep(20 * time.Millisecond)

	releaser := &fakeLabelReleaser{}
	o2 := New(Config{StatePath: statePath, ClaimTTL: 10 * time.Millisecond})
	o2.SetLabelReleaser(releaser)
	require.NoError(t, o2.Recover())

	assert.Equal(t, []string{"claimed-by-agent-1"}, releaser.removedLabels())
}

func TestNotifyDispatched_AdvancesMatchingRecord(t *testing.T) {
	o := New(Config{})
	rec := o.Claim("org/repo#1", "agent-1")
	require.NoError(t, o.Advance(rec, StatusAnalyzed))

	o.NotifyDispatched(rec.ID, nil)
	assert.Equal(t, StatusDispatched, rec.Status)
}

func TestPersistAndRecover_AbandonsStaleNonTerminalRecords(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "pipelines.json")

	o := New(Config{StatePath: statePath, ClaimTTL: 10 * time.Millisecond})
	rec := o.Claim("org/repo#1", "agent-1")
	require.NoError(t, o.Advance(rec, StatusAnalyzed))

	time.Sleep(20 * time.Millisecond)

	o2 := New(Config{StatePath: statePath, ClaimTTL: 10 * time.Millisecond})
	require.NoError(t, o2.Recover())

	records := o2.Records()
	require.Len(t, records, 1)
	assert.Equal(t, StatusAbandoned, records[0].Status)
}

func TestRecover_NoStateFileIsNotAnError(t *testing.T) {
	o := New(Config{StatePath: filepath.Join(t.TempDir(), "missing.json")})
	require.NoError(t, o.Recover())
	assert.Empty(t, o.Records())
}

func TestRunRecoverySweep_AbandonsStaleRecordsInBackground(t *testing.T) {
	o := New(Config{ClaimTTL: 10 * time.Millisecond, RecoverySweep: 5 * time.Millisecond})
	rec := o.Claim("org/repo#1", "agent-1")
	require.NoError(t, o.Advance(rec, StatusAnalyzed))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.RunRecoverySweep(ctx)
	defer o.Stop()

	require.Eventually(t, func() bool {
		return rec.Status == StatusAbandoned
	}, time.Second, 5*time.Millisecond)
}
