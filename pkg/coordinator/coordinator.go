// Package coordinator implements C6, the mandatory single entry point for
// every claimed issue: given an issue's fetched content, it produces
// exactly one Routing Decision and records it on the issue via one label
// and one comment, run-once-per-input and produce-one-result.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/go-github/v66/github"

	"github.com/agent-forge/core/pkg/complexity"
	"github.com/agent-forge/core/pkg/llm"
)

// Action is the closed set of routing actions C6 may produce.
type Action string

const (
	ActionStartCodeAgent               Action = "start_code_agent"
	ActionStartCodeAgentWithEscalation Action = "start_code_agent_with_escalation"
	ActionStartCoordinatorOrchestration Action = "start_coordinator_orchestration"
)

// Priority is the closed set of priorities attached to a Decision.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Decision is the Routing Decision value C6 produces.
type Decision struct {
	IssueRef          string
	Action            Action
	EscalationEnabled bool
	Priority          Priority
	RequiredRole      string
	Category          complexity.Category
	Rationale         string
}

// Forge is the subset of pkg/forge.Client C6 needs for its bounded side
// effects.
type Forge interface {
	AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error
	CreateComment(ctx context.Context, owner, repo string, number int, body string) (*github.IssueComment, error)
}

// IssueRef identifies the issue being routed.
type IssueRef struct {
	Owner  string
	Repo   string
	Number int
	Title  string
	Body   string
	Labels []string
}

func (r IssueRef) key() string { return fmt.Sprintf("%s/%s#%d", r.Owner, r.Repo, r.Number) }

// Gateway is C6.
type Gateway struct {
	forge      Forge
	llmChain   *llm.Chain
	llmModel   string
	llmTimeout time.Duration
	decided    map[string]bool // idempotency: issues already labeled/commented
	logger     *slog.Logger
}

// Config configures the optional LLM refinement step.
type Config struct {
	LLMTimeout time.Duration
	LLMModel   string
}

// New constructs a Gateway. llmChain may be nil, in which case C6 always
// falls back to C5's output alone.
func New(forge Forge, llmChain *llm.Chain, cfg Config) *Gateway {
	timeout := cfg.LLMTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{
		forge:      forge,
		llmChain:   llmChain,
		llmModel:   cfg.LLMModel,
		llmTimeout: timeout,
		decided:    make(map[string]bool),
		logger:     slog.Default().With("component", "coordinator-gateway"),
	}
}

// Route produces exactly one Decision for ref. It never starts agents,
// executes code, or touches workspaces.
func (g *Gateway) Route(ctx context.Context, ref IssueRef) (Decision, error) {
	analysis := complexity.Score(complexity.Input{Title: ref.Title, Body: ref.Body, Labels: ref.Labels})
	category := analysis.Category
	rationale := fmt.Sprintf("score %d (confidence %.2f)", analysis.Score, analysis.Confidence)

	if g.llmChain != nil {
		refined, ok := g.refineWithLLM(ctx, ref, analysis)
		if ok {
			category = refined
			rationale += "; refined by coordinator agent"
		}
	}

	decision := decisionFor(ref.key(), category, rationale)

	if err := g.recordDecision(ctx, ref, decision); err != nil {
		g.logger.Warn("failed to record coordinator decision", "issue", ref.key(), "error", err)
	}

	return decision, nil
}

func decisionFor(issueKey string, category complexity.Category, rationale string) Decision {
	d := Decision{IssueRef: issueKey, Category: category, Rationale: rationale}
	switch category {
	case complexity.CategorySimple:
		d.Action = ActionStartCodeAgent
		d.EscalationEnabled = false
		d.Priority = PriorityNormal
		d.RequiredRole = "developer"
	case complexity.CategoryUncertain:
		d.Action = ActionStartCodeAgentWithEscalation
		d.EscalationEnabled = true
		d.Priority = PriorityHigh
		d.RequiredRole = "developer"
	default: // complex
		d.Action = ActionStartCoordinatorOrchestration
		d.EscalationEnabled = false
		d.Priority = PriorityHigh
		d.RequiredRole = "coordinator"
	}
	return d
}

// refineWithLLM optionally consults an LLM-backed coordinator agent to
// refine C5's category with semantic analysis. On timeout or any provider
// failure it returns ok=false and the caller keeps C5's output.
func (g *Gateway) refineWithLLM(ctx context.Context, ref IssueRef, analysis complexity.Analysis) (complexity.Category, bool) {
	ctx, cancel := context.WithTimeout(ctx, g.llmTimeout)
	defer cancel()

	prompt := fmt.Sprintf(
		"Issue: %s\n\n%s\n\nHeuristic category: %s (score %d). Respond with exactly one word: simple, uncertain, or complex.",
		ref.Title, ref.Body, analysis.Category, analysis.Score,
	)
	result, err := g.llmChain.Complete(ctx, g.llmModel, []llm.Message{{Role: "user", Content: prompt}}, 16, 0)
	if err != nil {
		g.logger.Warn("coordinator LLM refinement unavailable, falling back to heuristic score", "issue", ref.key(), "error", err)
		return "", false
	}

	switch parseCategory(result.Text) {
	case complexity.CategorySimple:
		return complexity.CategorySimple, true
	case complexity.CategoryUncertain:
		return complexity.CategoryUncertain, true
	case complexity.CategoryComplex:
		return complexity.CategoryComplex, true
	default:
		return "", false
	}
}

func parseCategory(text string) complexity.Category {
	switch {
	case contains(text, "complex"):
		return complexity.CategoryComplex
	case contains(text, "uncertain"):
		return complexity.CategoryUncertain
	case contains(text, "simple"):
		return complexity.CategorySimple
	default:
		return ""
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := 0; j < len(needle); j++ {
			a, b := haystack[i+j], needle[j]
			if a >= 'A' && a <= 'Z' {
				a += 'a' - 'A'
			}
			if a != b {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// recordDecision applies the bounded, idempotent side effects: one label,
// one comment. Re-running Route on an already-decided issue is a no-op.
func (g *Gateway) recordDecision(ctx context.Context, ref IssueRef, decision Decision) error {
	if g.decided[ref.key()] {
		return nil
	}
	label := fmt.Sprintf("coordinator-approved-%s", decision.Category)
	if err := g.forge.AddLabels(ctx, ref.Owner, ref.Repo, ref.Number, []string{label}); err != nil {
		return fmt.Errorf("labeling decision: %w", err)
	}
	body := fmt.Sprintf("Routed as **%s** (%s). Action: `%s`.", decision.Category, decision.Rationale, decision.Action)
	if _, err := g.forge.CreateComment(ctx, ref.Owner, ref.Repo, ref.Number, body); err != nil {
		// A comment failure due to rate-limiting does not block the
		// Decision; persistence can be retried later by C9.
		g.logger.Warn("coordinator comment deferred", "issue", ref.key(), "error", err)
		return nil
	}
	g.decided[ref.key()] = true
	return nil
}
