package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-forge/core/pkg/config"
)

func testConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		PerMinute:              map[string]int{string(OpIssueComment): 3},
		PerHour:                map[string]int{},
		PerDay:                 map[string]int{},
		Cooldown:               map[string]time.Duration{},
		BurstCap:               10,
		BurstWindow:            60 * time.Second,
		MaxDuplicateOperations: 2,
		DuplicateWindow:        time.Hour,
		SafetyThreshold:        50,
		EventLogCapacity:       10000,
	}
}

func TestCheck_DeniesFourthCommentWithinMinute(t *testing.T) {
	l := New(testConfig())
	l.UpdateAPIBudget(5000)

	for i := 0; i < 3; i++ {
		v := l.Check(OpIssueComment, "issue-1", "")
		require.True(t, v.Allowed, "attempt %d should be allowed", i+1)
		l.Record(OpIssueComment, "issue-1", "", true)
	}

	v := l.Check(OpIssueComment, "issue-1", "")
	assert.False(t, v.Allowed, "4th comment within 60s must be denied")
}

func TestCheck_DeniesDuplicateOnThirdOccurrence(t *testing.T) {
	cfg := testConfig()
	cfg.PerMinute = map[string]int{} // isolate duplicate-detection behavior
	l := New(cfg)
	l.UpdateAPIBudget(5000)

	digest := "same-content-digest"
	for i := 0; i < 2; i++ {
		v := l.Check(OpIssueComment, "issue-1", digest)
		require.True(t, v.Allowed, "occurrence %d should be allowed", i+1)
		l.Record(OpIssueComment, "issue-1", digest, true)
	}

	v := l.Check(OpIssueComment, "issue-1", digest)
	assert.False(t, v.Allowed, "3rd duplicate within the window must be denied")
}

func TestCheck_DeniesWhenAPIBudgetAtSafetyThreshold(t *testing.T) {
	cfg := testConfig()
	l := New(cfg)
	l.UpdateAPIBudget(50) // equals SafetyThreshold

	v := l.Check(OpIssueComment, "issue-1", "")
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "safety threshold")
}

func TestCheck_BurstCapAdmitsTenDeniesEleventh(t *testing.T) {
	cfg := testConfig()
	cfg.PerMinute = map[string]int{} // isolate burst behavior
	cfg.MaxDuplicateOperations = 0
	cfg.BurstCap = 10
	cfg.BurstWindow = 60 * time.Second
	l := New(cfg)
	l.UpdateAPIBudget(5000)

	admitted := 0
	for i := 0; i < 11; i++ {
		v := l.Check(OpIssueComment, "issue-1", uniqueDigest(i))
		if !v.Allowed {
			break
		}
		l.Record(OpIssueComment, "issue-1", uniqueDigest(i), true)
		admitted++
	}

	assert.Equal(t, 10, admitted, "exactly 10 of 11 distinct attempts should be admitted")

	stats := l.Stats()
	assert.Equal(t, 10, stats.TotalEvents)
	assert.Equal(t, 10, stats.SuccessfulOps)
}

func uniqueDigest(i int) string {
	return string(rune('a' + i))
}

func TestRecord_MustBeCalledOnceEvenOnFailure(t *testing.T) {
	l := New(testConfig())
	l.UpdateAPIBudget(5000)

	l.Record(OpIssueComment, "issue-1", "", false)
	stats := l.Stats()
	assert.Equal(t, 1, stats.TotalEvents)
	assert.Equal(t, 0, stats.SuccessfulOps)
}

func TestCheck_CooldownBlocksRapidRepeat(t *testing.T) {
	cfg := testConfig()
	cfg.PerMinute = map[string]int{}
	cfg.Cooldown = map[string]time.Duration{string(OpPRMerge): time.Minute}
	l := New(cfg)
	l.UpdateAPIBudget(5000)

	require.True(t, l.Check(OpPRMerge, "pr-1", "").Allowed)
	l.Record(OpPRMerge, "pr-1", "", true)

	v := l.Check(OpPRMerge, "pr-1", "")
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "cooldown")
}
