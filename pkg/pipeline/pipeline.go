// Package pipeline implements C9: it owns every Pipeline Record from claim
// to a terminal state, persists them for crash recovery, and periodically
// sweeps stale records past their claim TTL. Each Record is mutex-protected
// with thread-safe status mutators, and the recovery sweep is a periodic
// scan-and-recover loop over persisted state.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agent-forge/core/pkg/agent"
	"github.com/agent-forge/core/pkg/store"
)

// claimLabelPrefix mirrors pkg/polling's label scheme; duplicated here
// rather than imported to avoid a dependency cycle (polling imports this
// package already).
const claimLabelPrefix = "claimed-by-"

// Status is one node of the Pipeline Record state machine.
type Status string

const (
	StatusClaimed    Status = "claimed"
	StatusAnalyzed   Status = "analyzed"
	StatusDispatched Status = "dispatched"
	StatusExecuting  Status = "executing"
	StatusReviewing  Status = "reviewing"
	StatusMerged     Status = "merged"
	StatusFailed     Status = "failed"
	StatusAbandoned  Status = "abandoned"
)

func (s Status) terminal() bool {
	return s == StatusMerged || s == StatusAbandoned
}

// Record is one Pipeline Record.
type Record struct {
	ID           string    `json:"id"`
	IssueRef     string    `json:"issue_ref"`
	ClaimantID   string    `json:"claimant_id"`
	Status       Status    `json:"status"`
	Attempts     int       `json:"attempts"`
	ClaimedAt    time.Time `json:"claimed_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Error        string    `json:"error,omitempty"`
	SubIssueRefs []string  `json:"sub_issue_refs,omitempty"`

	mu sync.Mutex
}

func (r *Record) setStatus(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Status = s
	r.UpdatedAt = time.Now()
}

func (r *Record) snapshot() Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Record{
		ID: r.ID, IssueRef: r.IssueRef, ClaimantID: r.ClaimantID, Status: r.Status,
		Attempts: r.Attempts, ClaimedAt: r.ClaimedAt, UpdatedAt: r.UpdatedAt,
		Error: r.Error, SubIssueRefs: r.SubIssueRefs,
	}
}

// Config configures retry backoff, claim TTL, and persistence.
type Config struct {
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	ClaimTTL      time.Duration
	StatePath     string
	RecoverySweep time.Duration
}

// LabelReleaser is the subset of pkg/forge.Client needed to release a claim
// label when a pipeline is abandoned, so a human can re-assign the issue.
type LabelReleaser interface {
	RemoveLabel(ctx context.Context, owner, repo string, number int, label string) error
}

// Orchestrator is C9.
type Orchestrator struct {
	cfg      Config
	logger   *slog.Logger
	releaser LabelReleaser

	mu      sync.Mutex
	records map[string]*Record

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs an Orchestrator with an empty record set. Call Recover to
// rehydrate persisted state on boot.
func New(cfg Config) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 30 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 10 * time.Minute
	}
	return &Orchestrator{
		cfg:     cfg,
		records: make(map[string]*Record),
		stopCh:  make(chan struct{}),
		logger:  slog.Default().With("component", "pipeline-orchestrator"),
	}
}

// SetLabelReleaser wires the forge client used to release claim labels on
// abandonment. Optional: an Orchestrator with no releaser skips label
// release entirely, which existing callers and tests rely on.
func (o *Orchestrator) SetLabelReleaser(r LabelReleaser) {
	o.releaser = r
}

// parseIssueRef splits an "owner/repo#number" issue reference.
func parseIssueRef(ref string) (owner, repo string, number int, err error) {
	hashParts := strings.SplitN(ref, "#", 2)
	if len(hashParts) != 2 {
		return "", "", 0, fmt.Errorf("malformed issue ref %q", ref)
	}
	slashParts := strings.SplitN(hashParts[0], "/", 2)
	if len(slashParts) != 2 {
		return "", "", 0, fmt.Errorf("malformed issue ref %q", ref)
	}
	n, err := strconv.Atoi(hashParts[1])
	if err != nil {
		return "", "", 0, fmt.Errorf("malformed issue ref %q: %w", ref, err)
	}
	return slashParts[0], slashParts[1], n, nil
}

// releaseClaimLabel removes rec's claim label from its issue so a human can
// re-assign it. A no-op when no releaser is configured; failures are logged
// rather than propagated since abandonment must complete either way.
func (o *Orchestrator) releaseClaimLabel(rec *Record) {
	if o.releaser == nil {
		return
	}
	owner, repo, number, err := parseIssueRef(rec.IssueRef)
	if err != nil {
		o.logger.Warn("failed to parse issue ref for claim label release", "pipeline_id", rec.ID, "error", err)
		return
	}
	label := claimLabelPrefix + rec.ClaimantID
	if err := o.releaser.RemoveLabel(context.Background(), owner, repo, number, label); err != nil {
		o.logger.Warn("failed to release claim label", "pipeline_id", rec.ID, "error", err)
	}
}

// Claim starts a new Pipeline Record in state claimed.
func (o *Orchestrator) Claim(issueRef, claimantID string) *Record {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := time.Now()
	rec := &Record{
		ID:         fmt.Sprintf("%s@%d", issueRef, now.UnixNano()),
		IssueRef:   issueRef,
		ClaimantID: claimantID,
		Status:     StatusClaimed,
		ClaimedAt:  now,
		UpdatedAt:  now,
	}
	o.records[rec.ID] = rec
	o.persistLocked()
	return rec
}

// Advance transitions rec to the next status in the state machine. It
// rejects transitions not reachable from rec's current status.
func (o *Orchestrator) Advance(rec *Record, next Status) error {
	if !validTransition(rec.Status, next) {
		return fmt.Errorf("invalid transition %s -> %s", rec.Status, next)
	}
	rec.setStatus(next)
	o.persist()
	return nil
}

func validTransition(from, to Status) bool {
	switch to {
	case StatusAbandoned:
		return !from.terminal()
	case StatusAnalyzed:
		return from == StatusClaimed
	case StatusDispatched:
		return from == StatusAnalyzed
	case StatusExecuting:
		return from == StatusDispatched || from == StatusFailed
	case StatusReviewing:
		return from == StatusExecuting
	case StatusMerged:
		return from == StatusReviewing
	case StatusFailed:
		return from == StatusExecuting
	default:
		return false
	}
}

// NotifyDispatched implements dispatch.PipelineNotifier: it advances the
// matching record to dispatched. instance is accepted for interface
// compatibility but not otherwise consulted here.
func (o *Orchestrator) NotifyDispatched(pipelineID string, _ *agent.Instance) {
	o.mu.Lock()
	rec, ok := o.records[pipelineID]
	o.mu.Unlock()
	if !ok {
		o.logger.Warn("dispatched notification for unknown pipeline", "pipeline_id", pipelineID)
		return
	}
	if err := o.Advance(rec, StatusDispatched); err != nil {
		o.logger.Warn("failed to advance pipeline to dispatched", "pipeline_id", pipelineID, "error", err)
	}
}

// AdvanceByID looks up pipelineID and advances it to next, for callers (the
// coordinator/dispatch wiring) that only carry the pipeline ID rather than a
// live *Record.
func (o *Orchestrator) AdvanceByID(pipelineID string, next Status) error {
	o.mu.Lock()
	rec, ok := o.records[pipelineID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("advance: unknown pipeline %s", pipelineID)
	}
	return o.Advance(rec, next)
}

// AgentReport is the progress an executing agent — which runs outside this
// process — sends back as it moves through execution, review, and merge, or
// reports a failed attempt.
type AgentReport struct {
	PipelineID string
	Status     Status
	Err        error
}

// ApplyAgentReport is the seam a real executor calls to advance a pipeline
// past dispatched. A StatusFailed report is routed through Fail so retry and
// backoff accounting applies; every other status goes through AdvanceByID.
func (o *Orchestrator) ApplyAgentReport(report AgentReport) error {
	if report.Status == StatusFailed {
		o.mu.Lock()
		rec, ok := o.records[report.PipelineID]
		o.mu.Unlock()
		if !ok {
			return fmt.Errorf("apply agent report: unknown pipeline %s", report.PipelineID)
		}
		o.Fail(rec, report.Err)
		return nil
	}
	return o.AdvanceByID(report.PipelineID, report.Status)
}

// Fail records an execution failure. If attempts remain, it moves the record
// to failed and returns an exponential backoff delay (base, doubling,
// capped) with willRetry true; it schedules nothing itself. Otherwise it
// transitions the record to abandoned.
func (o *Orchestrator) Fail(rec *Record, cause error) (retryAfter time.Duration, willRetry bool) {
	rec.mu.Lock()
	rec.Attempts++
	attempts := rec.Attempts
	if cause != nil {
		rec.Error = cause.Error()
	}
	rec.mu.Unlock()

	if attempts >= o.cfg.MaxAttempts {
		_ = o.Advance(rec, StatusFailed)
		_ = o.Advance(rec, StatusAbandoned)
		o.releaseClaimLabel(rec)
		return 0, false
	}

	_ = o.Advance(rec, StatusFailed)
	delay := backoffDelay(attempts, o.cfg.BackoffBase, o.cfg.BackoffCap)
	return delay, true
}

// backoffDelay computes an exponential backoff with up to 20% jitter,
// capped at cap, to avoid synchronized retries across records.
func backoffDelay(attempt int, base, cap time.Duration) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > cap {
			d = cap
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 5))
	return d + jitter
}

// Abandon transitions rec to abandoned unconditionally (external cancel or
// claim expiry).
func (o *Orchestrator) Abandon(rec *Record, reason string) {
	rec.mu.Lock()
	rec.Error = reason
	rec.mu.Unlock()
	_ = o.Advance(rec, StatusAbandoned)
	o.releaseClaimLabel(rec)
}

// ActiveRecord returns the non-terminal record claiming issueRef, if any. C10
// consults this before attempting a new claim so a single process never
// double-claims an issue it is already working.
func (o *Orchestrator) ActiveRecord(issueRef string) (Record, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, r := range o.records {
		s := r.snapshot()
		if s.IssueRef == issueRef && !s.Status.terminal() {
			return s, true
		}
	}
	return Record{}, false
}

// Records returns a snapshot of every known record.
func (o *Orchestrator) Records() []Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Record, 0, len(o.records))
	for _, r := range o.records {
		out = append(out, r.snapshot())
	}
	return out
}

// persistedRecord is the on-disk shape: Record without its mutex.
type persistedRecord struct {
	ID           string    `json:"id"`
	IssueRef     string    `json:"issue_ref"`
	ClaimantID   string    `json:"claimant_id"`
	Status       Status    `json:"status"`
	Attempts     int       `json:"attempts"`
	ClaimedAt    time.Time `json:"claimed_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Error        string    `json:"error,omitempty"`
	SubIssueRefs []string  `json:"sub_issue_refs,omitempty"`
}

func (o *Orchestrator) persist() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.persistLocked()
}

func (o *Orchestrator) persistLocked() {
	if o.cfg.StatePath == "" {
		return
	}
	out := make([]persistedRecord, 0, len(o.records))
	for _, r := range o.records {
		s := r.snapshot()
		out = append(out, persistedRecord{
			ID: s.ID, IssueRef: s.IssueRef, ClaimantID: s.ClaimantID, Status: s.Status,
			Attempts: s.Attempts, ClaimedAt: s.ClaimedAt, UpdatedAt: s.UpdatedAt,
			Error: s.Error, SubIssueRefs: s.SubIssueRefs,
		})
	}
	data, err := json.Marshal(out)
	if err != nil {
		o.logger.Error("failed to marshal pipeline state", "error", err)
		return
	}
	if err := store.WriteAtomic(o.cfg.StatePath, data, 0o600); err != nil {
		o.logger.Error("failed to persist pipeline state", "error", err)
	}
}

// Recover rehydrates persisted records and transitions any non-terminal
// record older than the claim TTL to abandoned, releasing its claim.
func (o *Orchestrator) Recover() error {
	if o.cfg.StatePath == "" {
		return nil
	}
	data, err := os.ReadFile(o.cfg.StatePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading pipeline state: %w", err)
	}
	var persisted []persistedRecord
	if err := json.Unmarshal(data, &persisted); err != nil {
		return fmt.Errorf("parsing pipeline state: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	cutoff := time.Now().Add(-o.cfg.ClaimTTL)
	for _, p := range persisted {
		rec := &Record{
			ID: p.ID, IssueRef: p.IssueRef, ClaimantID: p.ClaimantID, Status: p.Status,
			Attempts: p.Attempts, ClaimedAt: p.ClaimedAt, UpdatedAt: p.UpdatedAt,
			Error: p.Error, SubIssueRefs: p.SubIssueRefs,
		}
		if !rec.Status.terminal() && rec.ClaimedAt.Before(cutoff) {
			rec.Status = StatusAbandoned
			rec.Error = "claim TTL exceeded across restart"
			rec.UpdatedAt = time.Now()
			o.logger.Warn("abandoned stale pipeline on recovery", "pipeline_id", rec.ID)
			o.releaseClaimLabel(rec)
		}
		o.records[rec.ID] = rec
	}
	return nil
}

// RunRecoverySweep starts a background loop that periodically abandons
// non-terminal records past the claim TTL, mirroring the detection cadence
// a live process would apply to crashed peers' leftovers.
func (o *Orchestrator) RunRecoverySweep(ctx context.Context) {
	interval := o.cfg.RecoverySweep
	if interval <= 0 {
		interval = time.Minute
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-o.stopCh:
				return
			case <-ticker.C:
				o.sweepStale()
			}
		}
	}()
}

func (o *Orchestrator) sweepStale() {
	o.mu.Lock()
	cutoff := time.Now().Add(-o.cfg.ClaimTTL)
	var stale []*Record
	for _, r := range o.records {
		if !r.Status.terminal() && r.ClaimedAt.Before(cutoff) {
			stale = append(stale, r)
		}
	}
	o.mu.Unlock()

	for _, rec := range stale {
		o.Abandon(rec, "claim TTL exceeded")
	}
}

// Stop halts the recovery sweep goroutine.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
	o.wg.Wait()
}
