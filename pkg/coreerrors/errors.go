// Package coreerrors defines the closed error taxonomy shared by every
// orchestration component. Every error raised inside the core should be, or
// wrap, one of the sentinels below so that callers can branch on Classify
// instead of string-matching messages.
package coreerrors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels forming the closed error taxonomy.
var (
	// ErrRateLimited is transient: C2 returns it instead of calling the forge.
	ErrRateLimited = errors.New("rate limited")
	// ErrForgeUnavailable is a failed forge call; C2 surfaces it on the first
	// failure without retrying, and fails fast with it while its circuit
	// breaker is open.
	ErrForgeUnavailable = errors.New("forge unavailable")
	// ErrLLMUnavailable means the provider is down or timed out.
	ErrLLMUnavailable = errors.New("llm unavailable")
	// ErrConflict means a claim race was lost, or a label was already set.
	ErrConflict = errors.New("conflict")
	// ErrInvalidInstruction means issue content failed validation.
	ErrInvalidInstruction = errors.New("invalid instruction")
	// ErrAgentError means an agent reported an internal failure.
	ErrAgentError = errors.New("agent error")
	// ErrCancelled means the supervisor or a timeout cancelled the work.
	ErrCancelled = errors.New("cancelled")
	// ErrFatal means a programmer error or invariant violation.
	ErrFatal = errors.New("fatal")
)

// Kind names one of the taxonomy's sentinel buckets.
type Kind string

const (
	KindRateLimited        Kind = "rate_limited"
	KindForgeUnavailable   Kind = "forge_unavailable"
	KindLLMUnavailable     Kind = "llm_unavailable"
	KindConflict           Kind = "conflict"
	KindInvalidInstruction Kind = "invalid_instruction"
	KindAgentError         Kind = "agent_error"
	KindCancelled          Kind = "cancelled"
	KindFatal              Kind = "fatal"
	KindUnknown            Kind = "unknown"
)

var sentinelsByKind = map[Kind]error{
	KindRateLimited:        ErrRateLimited,
	KindForgeUnavailable:   ErrForgeUnavailable,
	KindLLMUnavailable:     ErrLLMUnavailable,
	KindConflict:           ErrConflict,
	KindInvalidInstruction: ErrInvalidInstruction,
	KindAgentError:         ErrAgentError,
	KindCancelled:          ErrCancelled,
	KindFatal:              ErrFatal,
}

// Classify maps an error to its taxonomy Kind by walking its Unwrap chain
// against the closed sentinel set. Errors that wrap none of the sentinels
// classify as KindUnknown — callers should treat that as non-retryable,
// since an unclassified error is, by construction, not one this core knows
// how to recover from.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for kind, sentinel := range sentinelsByKind {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindUnknown
}

// Retryable reports whether the pipeline orchestrator should retry work that
// failed with err.
func Retryable(err error) bool {
	switch Classify(err) {
	case KindLLMUnavailable, KindAgentError:
		return true
	default:
		return false
	}
}

// RateLimitedError carries the human-readable reason and retry hint C1
// attaches to a Deny verdict.
type RateLimitedError struct {
	Reason     string
	RetryAfter time.Duration // zero means no specific hint
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited: %s (retry after %s)", e.Reason, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited: %s", e.Reason)
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }

// NewRateLimited builds a RateLimitedError.
func NewRateLimited(reason string, retryAfter time.Duration) error {
	return &RateLimitedError{Reason: reason, RetryAfter: retryAfter}
}

// ForgeError wraps a forge-originated failure with the operation that failed.
type ForgeError struct {
	Op  string
	Err error
}

func (e *ForgeError) Error() string { return fmt.Sprintf("forge %s: %v", e.Op, e.Err) }
func (e *ForgeError) Unwrap() error { return e.Err }

// NewForgeUnavailable wraps err as an ErrForgeUnavailable for operation op.
func NewForgeUnavailable(op string, err error) error {
	return &ForgeError{Op: op, Err: fmt.Errorf("%w: %v", ErrForgeUnavailable, err)}
}

// InvalidInstructionError carries the reason an issue's content failed
// validation.
type InvalidInstructionError struct {
	Reason string
}

func (e *InvalidInstructionError) Error() string {
	return fmt.Sprintf("invalid instruction: %s", e.Reason)
}

func (e *InvalidInstructionError) Unwrap() error { return ErrInvalidInstruction }

// NewInvalidInstruction builds an InvalidInstructionError.
func NewInvalidInstruction(reason string) error {
	return &InvalidInstructionError{Reason: reason}
}
