package coreerrors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"rate limited", NewRateLimited("burst cap", 30*time.Second), KindRateLimited},
		{"forge unavailable", NewForgeUnavailable("create_comment", fmt.Errorf("dial tcp: timeout")), KindForgeUnavailable},
		{"invalid instruction", NewInvalidInstruction("forbidden operation requested"), KindInvalidInstruction},
		{"plain llm unavailable", fmt.Errorf("wrap: %w", ErrLLMUnavailable), KindLLMUnavailable},
		{"unrelated error", fmt.Errorf("boom"), KindUnknown},
		{"nil", nil, KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ErrLLMUnavailable))
	assert.True(t, Retryable(ErrAgentError))
	assert.False(t, Retryable(ErrCancelled))
	assert.False(t, Retryable(ErrFatal))
	assert.False(t, Retryable(nil))
}

func TestRateLimitedErrorMessage(t *testing.T) {
	err := NewRateLimited("cooldown active", 45*time.Second)
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Contains(t, err.Error(), "cooldown active")
	assert.Contains(t, err.Error(), "45s")
}
