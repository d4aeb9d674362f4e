package escalation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate_EachTriggerEscalatesIndependently(t *testing.T) {
	cases := []struct {
		name string
		ctx  Context
	}{
		{"files", Context{PipelineID: "p1", FilesTouched: 6}},
		{"components", Context{PipelineID: "p2", ComponentsTouched: 4}},
		{"failed attempts", Context{PipelineID: "p3", FailedAttempts: 2}},
		{"elapsed", Context{PipelineID: "p4", ElapsedMinutes: 31}},
		{"architecture", Context{PipelineID: "p5", ArchitectureChanges: true}},
		{"coordination", Context{PipelineID: "p6", CoordinationRequested: true}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			d := New(DefaultThresholds())
			verdict := d.Evaluate(c.ctx)
			assert.True(t, verdict.Escalate)
			assert.NotEmpty(t, verdict.Reason)
		})
	}
}

func TestEvaluate_BelowAllThresholdsContinues(t *testing.T) {
	d := New(DefaultThresholds())
	verdict := d.Evaluate(Context{PipelineID: "p1", FilesTouched: 1, ComponentsTouched: 1, FailedAttempts: 0, ElapsedMinutes: 5})
	assert.Equal(t, Continue, verdict)
}

func TestEvaluate_IsIdempotentPerPipeline(t *testing.T) {
	d := New(DefaultThresholds())
	ctx := Context{PipelineID: "p1", FilesTouched: 10}

	first := d.Evaluate(ctx)
	assert.True(t, first.Escalate)

	second := d.Evaluate(ctx)
	assert.Equal(t, Continue, second, "an already-escalated pipeline ignores further requests")
}

func TestReset_AllowsReEscalation(t *testing.T) {
	d := New(DefaultThresholds())
	ctx := Context{PipelineID: "p1", FilesTouched: 10}

	d.Evaluate(ctx)
	d.Reset("p1")

	verdict := d.Evaluate(ctx)
	assert.True(t, verdict.Escalate)
}
