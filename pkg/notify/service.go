package notify

import (
	"context"
	"log/slog"
	"time"
)

// Config holds the parameters needed to construct a Service.
type Config struct {
	Token        string
	Channel      string
	DashboardURL string
}

// PipelineStartedInput describes a pipeline beginning work.
type PipelineStartedInput struct {
	PipelineID string
	IssueRef   string
	Category   string
	Action     string
}

// PipelineTerminalInput describes a pipeline reaching a terminal state.
type PipelineTerminalInput struct {
	PipelineID string
	IssueRef   string
	Status     string // merged, abandoned
	Error      string
}

// EscalationInput describes an escalation handoff to a human.
type EscalationInput struct {
	PipelineID string
	IssueRef   string
	Reason     string
}

// Service handles Slack notification delivery. Nil-safe: every method is a
// no-op when the service itself is nil, so callers can wire an unconfigured
// Service in without branching on whether Slack is enabled.
type Service struct {
	client       *Client
	dashboardURL string
	logger       *slog.Logger
}

// NewService creates a Service, or nil if Token or Channel is unset.
func NewService(cfg Config) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client:       NewClient(cfg.Token, cfg.Channel),
		dashboardURL: cfg.DashboardURL,
		logger:       slog.Default().With("component", "notify-service"),
	}
}

// NewServiceWithClient builds a Service around a pre-built Client, for
// testing against a mock API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "notify-service"),
	}
}

// NotifyPipelineStarted posts a "work started" notification. Fail-open:
// delivery errors are logged, never returned.
func (s *Service) NotifyPipelineStarted(ctx context.Context, input PipelineStartedInput) {
	if s == nil {
		return
	}
	blocks := buildStartedMessage(input, s.dashboardURL)
	if err := s.client.PostMessage(ctx, blocks, "", 5*time.Second); err != nil {
		s.logger.Error("failed to send pipeline started notification", "pipeline_id", input.PipelineID, "error", err)
	}
}

// NotifyPipelineTerminal posts a terminal-state notification. Fail-open.
func (s *Service) NotifyPipelineTerminal(ctx context.Context, input PipelineTerminalInput) {
	if s == nil {
		return
	}
	blocks := buildTerminalMessage(input, s.dashboardURL)
	if err := s.client.PostMessage(ctx, blocks, "", 10*time.Second); err != nil {
		s.logger.Error("failed to send pipeline terminal notification", "pipeline_id", input.PipelineID, "status", input.Status, "error", err)
	}
}

// NotifyEscalation posts an escalation-to-human notification. Fail-open.
func (s *Service) NotifyEscalation(ctx context.Context, input EscalationInput) {
	if s == nil {
		return
	}
	blocks := buildEscalationMessage(input, s.dashboardURL)
	if err := s.client.PostMessage(ctx, blocks, "", 5*time.Second); err != nil {
		s.logger.Error("failed to send escalation notification", "pipeline_id", input.PipelineID, "error", err)
	}
}
