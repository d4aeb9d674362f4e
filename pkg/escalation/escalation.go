// Package escalation implements C7: consulted by a running agent during
// execution, it takes an Escalation Context and returns Escalate or
// Continue, via a threshold table over independent numeric/boolean fields
// combined with any-of semantics.
package escalation

import (
	"fmt"
	"sync"
)

// Context is the Escalation Context the decider consults.
type Context struct {
	PipelineID            string
	FilesTouched          int
	ComponentsTouched     int
	FailedAttempts        int
	ElapsedMinutes        float64
	ArchitectureChanges   bool
	CoordinationRequested bool
}

// Verdict is Escalate(reason) or Continue.
type Verdict struct {
	Escalate bool
	Reason   string
}

// Continue is the canonical non-escalating verdict.
var Continue = Verdict{Escalate: false}

// Thresholds configures the escalation trigger boundaries.
type Thresholds struct {
	FilesTouched      int
	ComponentsTouched int
	FailedAttempts    int
	ElapsedMinutes    float64
}

// DefaultThresholds returns the built-in escalation thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{FilesTouched: 5, ComponentsTouched: 3, FailedAttempts: 2, ElapsedMinutes: 30}
}

// Decider is C7. Escalation is idempotent: an already-escalated pipeline ID
// ignores further escalation requests.
type Decider struct {
	thresholds Thresholds

	mu        sync.Mutex
	escalated map[string]bool
}

// New constructs a Decider.
func New(thresholds Thresholds) *Decider {
	return &Decider{thresholds: thresholds, escalated: make(map[string]bool)}
}

// Evaluate checks ctx against every trigger (any is sufficient) and returns
// Escalate on the first matching trigger, or Continue.
func (d *Decider) Evaluate(ctx Context) Verdict {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.escalated[ctx.PipelineID] {
		return Continue
	}

	verdict := d.check(ctx)
	if verdict.Escalate {
		d.escalated[ctx.PipelineID] = true
	}
	return verdict
}

func (d *Decider) check(ctx Context) Verdict {
	switch {
	case ctx.FilesTouched > d.thresholds.FilesTouched:
		return Verdict{Escalate: true, Reason: fmt.Sprintf("files touched %d exceeds %d", ctx.FilesTouched, d.thresholds.FilesTouched)}
	case ctx.ComponentsTouched > d.thresholds.ComponentsTouched:
		return Verdict{Escalate: true, Reason: fmt.Sprintf("components touched %d exceeds %d", ctx.ComponentsTouched, d.thresholds.ComponentsTouched)}
	case ctx.FailedAttempts >= d.thresholds.FailedAttempts:
		return Verdict{Escalate: true, Reason: fmt.Sprintf("failed attempts %d reached %d", ctx.FailedAttempts, d.thresholds.FailedAttempts)}
	case ctx.ElapsedMinutes > d.thresholds.ElapsedMinutes:
		return Verdict{Escalate: true, Reason: fmt.Sprintf("elapsed %.1fm exceeds %.1fm", ctx.ElapsedMinutes, d.thresholds.ElapsedMinutes)}
	case ctx.ArchitectureChanges:
		return Verdict{Escalate: true, Reason: "architecture changes detected"}
	case ctx.CoordinationRequested:
		return Verdict{Escalate: true, Reason: "coordination requested"}
	default:
		return Continue
	}
}

// Reset clears the idempotency marker for pipelineID, used when a Pipeline
// Record is reset to a fresh attempt.
func (d *Decider) Reset(pipelineID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.escalated, pipelineID)
}
