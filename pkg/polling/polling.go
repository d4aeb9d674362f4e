// Package polling implements C10: it periodically queries the forge for
// agent-ready issues, runs the at-most-one-worker claim protocol, and hands
// claimed issues to the Coordinator Gateway. The poll loop selects on a stop
// channel and ctx.Done alongside its ticker so it exits promptly rather than
// waiting out a full interval. An optional cron-expression schedule is
// available via robfig/cron/v3 for fixed-schedule polling.
package polling

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v66/github"
	"github.com/robfig/cron/v3"

	"github.com/agent-forge/core/pkg/coordinator"
	"github.com/agent-forge/core/pkg/pipeline"
)

const claimLabelPrefix = "claimed-by-"

var defaultSkipLabels = []string{"wontfix", "manual-only", "blocked"}

// Forge is the subset of pkg/forge.Client C10 needs.
type Forge interface {
	ListOpenIssues(ctx context.Context, owner, repo, label string) ([]*github.Issue, error)
	GetIssue(ctx context.Context, owner, repo string, number int) (*github.Issue, error)
	AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error
	RemoveLabel(ctx context.Context, owner, repo string, number int, label string) error
	CreateComment(ctx context.Context, owner, repo string, number int, body string) (*github.IssueComment, error)
	ListComments(ctx context.Context, owner, repo string, number int) ([]*github.IssueComment, error)
}

// Coordinator routes a claimed issue to a Routing Decision and carries it
// through dispatch. pipelineID identifies the Pipeline Record C10 just
// claimed, so the gateway can advance it as routing and dispatch complete.
type Coordinator interface {
	Route(ctx context.Context, pipelineID string, ref coordinator.IssueRef) (coordinator.Decision, error)
}

// Pipelines is the subset of pkg/pipeline.Orchestrator C10 needs.
type Pipelines interface {
	ActiveRecord(issueRef string) (pipeline.Record, bool)
	Claim(issueRef, claimantID string) *pipeline.Record
}

// Config configures a Poller.
type Config struct {
	Owner         string
	Repo          string
	Interval      time.Duration
	CronSchedule  string
	ReadyLabel    string
	SkipLabels    []string
	BotIdentities []string
	ClaimantID    string
}

// Poller is C10.
type Poller struct {
	cfg       Config
	forge     Forge
	gateway   Coordinator
	pipelines Pipelines
	logger    *slog.Logger

	skipLabels map[string]bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a Poller.
func New(forge Forge, gateway Coordinator, pipelines Pipelines, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.ReadyLabel == "" {
		cfg.ReadyLabel = "agent-ready"
	}
	skip := make(map[string]bool, len(defaultSkipLabels)+len(cfg.SkipLabels))
	for _, l := range defaultSkipLabels {
		skip[l] = true
	}
	for _, l := range cfg.SkipLabels {
		skip[l] = true
	}
	return &Poller{
		cfg:        cfg,
		forge:      forge,
		gateway:    gateway,
		pipelines:  pipelines,
		skipLabels: skip,
		stopCh:     make(chan struct{}),
		logger:     slog.Default().With("component", "polling-engine"),
	}
}

// Run starts the poll loop. If cfg.CronSchedule is set it drives polls off a
// cron schedule instead of the fixed interval; either way Run blocks until
// ctx is cancelled or Stop is called.
func (p *Poller) Run(ctx context.Context) {
	if p.cfg.CronSchedule != "" {
		p.runCron(ctx)
		return
	}
	p.runTicker(ctx)
}

func (p *Poller) runTicker(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.pollOnce(ctx); err != nil {
				p.logger.Error("poll cycle failed", "error", err)
			}
		}
	}
}

func (p *Poller) runCron(ctx context.Context) {
	c := cron.New()
	_, err := c.AddFunc(p.cfg.CronSchedule, func() {
		if err := p.pollOnce(ctx); err != nil {
			p.logger.Error("poll cycle failed", "error", err)
		}
	})
	if err != nil {
		p.logger.Error("invalid cron schedule, falling back to fixed interval", "schedule", p.cfg.CronSchedule, "error", err)
		p.runTicker(ctx)
		return
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	select {
	case <-ctx.Done():
	case <-p.stopCh:
	}
}

// Stop halts the poll loop. Run returns once the current poll cycle, if any,
// completes.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

// PollOnce runs a single poll cycle synchronously, for manual triggering and
// tests that want to drive the claim/route/dispatch path deterministically
// rather than waiting out Run's ticker.
func (p *Poller) PollOnce(ctx context.Context) error {
	return p.pollOnce(ctx)
}

// pollOnce runs a single poll cycle: list agent-ready issues, process them
// oldest-first, sequentially, to keep API budget predictable.
func (p *Poller) pollOnce(ctx context.Context) error {
	issues, err := p.forge.ListOpenIssues(ctx, p.cfg.Owner, p.cfg.Repo, p.cfg.ReadyLabel)
	if err != nil {
		return fmt.Errorf("listing agent-ready issues: %w", err)
	}
	for _, issue := range issues {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		p.processIssue(ctx, issue)
	}
	return nil
}

func (p *Poller) processIssue(ctx context.Context, issue *github.Issue) {
	ref := fmt.Sprintf("%s/%s#%d", p.cfg.Owner, p.cfg.Repo, issue.GetNumber())

	if reason, skip := p.shouldSkip(issue); skip {
		p.logger.Debug("skipping issue", "issue", ref, "reason", reason)
		return
	}

	if _, active := p.pipelines.ActiveRecord(ref); active {
		p.logger.Debug("skipping issue with active pipeline record", "issue", ref)
		return
	}

	claimed, err := p.claim(ctx, issue)
	if err != nil {
		p.logger.Warn("claim attempt failed", "issue", ref, "error", err)
		return
	}
	if !claimed {
		p.logger.Debug("lost claim race", "issue", ref)
		return
	}

	rec := p.pipelines.Claim(ref, p.claimantIdentity())

	coordRef := coordinator.IssueRef{
		Owner:  p.cfg.Owner,
		Repo:   p.cfg.Repo,
		Number: issue.GetNumber(),
		Title:  issue.GetTitle(),
		Body:   issue.GetBody(),
		Labels: labelNames(issue),
	}
	if _, err := p.gateway.Route(ctx, rec.ID, coordRef); err != nil {
		p.logger.Error("coordinator routing failed", "issue", ref, "error", err)
	}
}

// shouldSkip evaluates the closed set of skip conditions that do not
// require a refetch: skip-labelled, already claimed, or a pull request
// rather than an issue.
func (p *Poller) shouldSkip(issue *github.Issue) (string, bool) {
	if issue.IsPullRequest() {
		return "is a pull request", true
	}
	for _, l := range issue.Labels {
		name := l.GetName()
		if p.skipLabels[name] {
			return "carries skip label " + name, true
		}
		if strings.HasPrefix(name, claimLabelPrefix) {
			return "already claimed", true
		}
	}
	return "", false
}

// claim performs the atomic-label claim protocol: apply our claim label,
// refetch, and verify we won any race against a concurrent claimant by
// comparing the earliest claim comment's timestamp.
func (p *Poller) claim(ctx context.Context, issue *github.Issue) (bool, error) {
	ourLabel := claimLabelPrefix + p.claimantIdentity()
	if err := p.forge.AddLabels(ctx, p.cfg.Owner, p.cfg.Repo, issue.GetNumber(), []string{ourLabel}); err != nil {
		return false, fmt.Errorf("applying claim label: %w", err)
	}

	claimBody := fmt.Sprintf("%s claiming at %s", ourLabel, time.Now().UTC().Format(time.RFC3339Nano))
	if _, err := p.forge.CreateComment(ctx, p.cfg.Owner, p.cfg.Repo, issue.GetNumber(), claimBody); err != nil {
		return false, fmt.Errorf("posting claim comment: %w", err)
	}

	refetched, err := p.forge.GetIssue(ctx, p.cfg.Owner, p.cfg.Repo, issue.GetNumber())
	if err != nil {
		return false, fmt.Errorf("refetching issue: %w", err)
	}

	competing := false
	for _, l := range refetched.Labels {
		name := l.GetName()
		if strings.HasPrefix(name, claimLabelPrefix) && name != ourLabel {
			competing = true
			break
		}
	}
	if !competing {
		return true, nil
	}

	comments, err := p.forge.ListComments(ctx, p.cfg.Owner, p.cfg.Repo, issue.GetNumber())
	if err != nil {
		return false, fmt.Errorf("listing claim comments: %w", err)
	}
	won := p.wonClaimRace(comments, ourLabel)
	if !won {
		p.logger.Info("lost concurrent claim race, releasing label", "issue", issue.GetNumber())
		if err := p.forge.RemoveLabel(ctx, p.cfg.Owner, p.cfg.Repo, issue.GetNumber(), ourLabel); err != nil {
			p.logger.Warn("failed to release claim label after lost race", "issue", issue.GetNumber(), "error", err)
		}
	}
	return won, nil
}

// wonClaimRace returns true if ourLabel's claim comment is the earliest
// among all claim comments on the issue.
func (p *Poller) wonClaimRace(comments []*github.IssueComment, ourLabel string) bool {
	var earliest *github.IssueComment
	for _, c := range comments {
		if !strings.Contains(c.GetBody(), claimLabelPrefix) {
			continue
		}
		if earliest == nil || c.GetCreatedAt().Before(earliest.GetCreatedAt().Time) {
			earliest = c
		}
	}
	if earliest == nil {
		return true
	}
	return strings.HasPrefix(earliest.GetBody(), ourLabel)
}

func (p *Poller) claimantIdentity() string {
	if len(p.cfg.BotIdentities) > 0 {
		return p.cfg.BotIdentities[0]
	}
	return p.cfg.ClaimantID
}

func labelNames(issue *github.Issue) []string {
	names := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		names = append(names, l.GetName())
	}
	return names
}
