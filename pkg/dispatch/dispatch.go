// Package dispatch implements C8: it turns Routing Decisions into running
// work inside the Agent Registry, queuing on Busy behind a bounded per-role
// FIFO, and tracks a cancellation token per dispatched pipeline under a
// mutex-guarded registry. The Dispatcher runs no goroutines of its own and
// has no shutdown step; Cancel is the per-pipeline stop signal.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/agent-forge/core/pkg/agent"
	"github.com/agent-forge/core/pkg/coordinator"
	"github.com/agent-forge/core/pkg/escalation"
)

// Outcome is the result of a dispatch attempt.
type Outcome struct {
	Accepted   bool
	PipelineID string
	Reason     string
}

// Registry is the subset of pkg/agent.Registry C8 needs.
type Registry interface {
	Acquire(role string) (*agent.Instance, error)
	Release(inst *agent.Instance)
}

// PipelineNotifier is notified when a pipeline advances to dispatched, so
// C9 can persist the transition.
type PipelineNotifier interface {
	NotifyDispatched(pipelineID string, instance *agent.Instance)
}

// EscalationDecider is the subset of pkg/escalation.Decider C8 needs to
// evaluate an Escalation Context reported by a running agent.
type EscalationDecider interface {
	Evaluate(ctx escalation.Context) escalation.Verdict
}

// CoordinatorRouter is the subset of pkg/coordinator.Gateway C8 needs to
// re-enter routing when an agent escalates.
type CoordinatorRouter interface {
	Route(ctx context.Context, ref coordinator.IssueRef) (coordinator.Decision, error)
}

// Dispatcher is C8.
type Dispatcher struct {
	registry Registry
	notifier PipelineNotifier
	logger   *slog.Logger
	decider  EscalationDecider
	router   CoordinatorRouter

	mu          sync.Mutex
	queues      map[string][]queued
	cancelFuncs map[string]context.CancelFunc
	execCtx     map[string]context.Context
	queueCap    int
}

type queued struct {
	pipelineID string
	decision   coordinator.Decision
}

// New constructs a Dispatcher. queueCapacity bounds each per-role FIFO.
func New(registry Registry, notifier PipelineNotifier, queueCapacity int) *Dispatcher {
	if queueCapacity <= 0 {
		queueCapacity = 100
	}
	return &Dispatcher{
		registry:    registry,
		notifier:    notifier,
		queues:      make(map[string][]queued),
		cancelFuncs: make(map[string]context.CancelFunc),
		execCtx:     make(map[string]context.Context),
		queueCap:    queueCapacity,
		logger:      slog.Default().With("component", "dispatcher"),
	}
}

// Dispatch attempts to acquire an Instance for decision.RequiredRole. On
// Busy it queues (bounded FIFO, overflow -> Rejected). On success it
// notifies C9 that the pipeline has advanced to dispatched.
func (d *Dispatcher) Dispatch(ctx context.Context, pipelineID string, decision coordinator.Decision) Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()

	inst, err := d.registry.Acquire(decision.RequiredRole)
	if err == nil {
		d.registerCancel(ctx, pipelineID)
		d.notifier.NotifyDispatched(pipelineID, inst)
		return Outcome{Accepted: true, PipelineID: pipelineID}
	}

	if err != agent.ErrBusy {
		return Outcome{Accepted: false, Reason: err.Error()}
	}

	queue := d.queues[decision.RequiredRole]
	if len(queue) >= d.queueCap {
		return Outcome{Accepted: false, Reason: "queue overflow for role " + decision.RequiredRole}
	}
	d.queues[decision.RequiredRole] = append(queue, queued{pipelineID: pipelineID, decision: decision})
	return Outcome{Accepted: true, PipelineID: pipelineID, Reason: "queued"}
}

func (d *Dispatcher) registerCancel(ctx context.Context, pipelineID string) {
	execCtx, cancel := context.WithCancel(ctx)
	d.cancelFuncs[pipelineID] = cancel
	d.execCtx[pipelineID] = execCtx
}

// ExecutionContext returns the cooperative-cancellation context handed to
// whatever runs pipelineID's work. Agents must check it at every suspension
// point (I/O, LLM call, shell op).
func (d *Dispatcher) ExecutionContext(pipelineID string) (context.Context, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ctx, ok := d.execCtx[pipelineID]
	return ctx, ok
}

// Cancel propagates a cooperative cancellation signal to pipelineID's
// dispatched work.
func (d *Dispatcher) Cancel(pipelineID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	cancel, ok := d.cancelFuncs[pipelineID]
	if !ok {
		return false
	}
	cancel()
	delete(d.cancelFuncs, pipelineID)
	delete(d.execCtx, pipelineID)
	return true
}

// Release frees inst's slot and attempts to dispatch the next queued
// decision for its role, if any.
func (d *Dispatcher) Release(ctx context.Context, role string, inst *agent.Instance) {
	d.mu.Lock()
	queue := d.queues[role]
	var next *queued
	if len(queue) > 0 {
		next = &queue[0]
		d.queues[role] = queue[1:]
	}
	d.mu.Unlock()

	d.registry.Release(inst)

	if next != nil {
		d.Dispatch(ctx, next.pipelineID, next.decision)
	}
}

// SetEscalation wires C7 and a handle back into C6, enabling Escalate.
// Optional: a Dispatcher with neither set treats Escalate as a no-op, which
// existing callers and tests rely on.
func (d *Dispatcher) SetEscalation(decider EscalationDecider, router CoordinatorRouter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.decider = decider
	d.router = router
}

// Escalate evaluates an Escalation Context reported for pipelineID's running
// agent. On an Escalate verdict it re-enters the coordinator with ref to
// produce a fresh Decision and re-dispatches pipelineID against it, closing
// the loop C7 hands back to C8. On Continue, or when escalation is not
// configured, it is a no-op and returns escalated=false.
func (d *Dispatcher) Escalate(ctx context.Context, pipelineID string, ref coordinator.IssueRef, escCtx escalation.Context) (decision coordinator.Decision, escalated bool, err error) {
	d.mu.Lock()
	decider, router := d.decider, d.router
	d.mu.Unlock()
	if decider == nil || router == nil {
		return coordinator.Decision{}, false, nil
	}

	escCtx.PipelineID = pipelineID
	verdict := decider.Evaluate(escCtx)
	if !verdict.Escalate {
		return coordinator.Decision{}, false, nil
	}
	d.logger.Info("escalating pipeline to coordinator", "pipeline_id", pipelineID, "reason", verdict.Reason)

	decision, err = router.Route(ctx, ref)
	if err != nil {
		return coordinator.Decision{}, true, fmt.Errorf("re-routing escalated pipeline: %w", err)
	}
	outcome := d.Dispatch(ctx, pipelineID, decision)
	if !outcome.Accepted {
		return decision, true, fmt.Errorf("re-dispatch after escalation rejected: %s", outcome.Reason)
	}
	return decision, true, nil
}

// QueueDepth reports how many decisions are queued for role.
func (d *Dispatcher) QueueDepth(role string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues[role])
}
