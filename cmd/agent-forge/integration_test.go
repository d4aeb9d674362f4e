package main

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-github/v66/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-forge/core/pkg/agent"
	"github.com/agent-forge/core/pkg/coordinator"
	"github.com/agent-forge/core/pkg/dispatch"
	"github.com/agent-forge/core/pkg/escalation"
	"github.com/agent-forge/core/pkg/pipeline"
	"github.com/agent-forge/core/pkg/polling"
	"github.com/agent-forge/core/pkg/store"
)

// fakeIntegrationForge satisfies both polling.Forge and coordinator.Forge
// with the minimum behavior the end-to-end wiring exercises.
type fakeIntegrationForge struct {
	issues    []*github.Issue
	overrides map[int]*github.Issue
	comments  map[int][]*github.IssueComment
}

func newFakeIntegrationForge(issues ...*github.Issue) *fakeIntegrationForge {
	return &fakeIntegrationForge{
		issues:    issues,
		overrides: make(map[int]*github.Issue),
		comments:  make(map[int][]*github.IssueComment),
	}
}

func (f *fakeIntegrationForge) ListOpenIssues(ctx context.Context, owner, repo, label string) ([]*github.Issue, error) {
	return f.issues, nil
}

func (f *fakeIntegrationForge) GetIssue(ctx context.Context, owner, repo string, number int) (*github.Issue, error) {
	if o, ok := f.overrides[number]; ok {
		return o, nil
	}
	for _, i := range f.issues {
		if i.GetNumber() == number {
			return i, nil
		}
	}
	return nil, assert.AnError
}

func (f *fakeIntegrationForge) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	existing := f.mustIssue(number)
	for _, l := range labels {
		name := l
		existing.Labels = append(existing.Labels, &github.Label{Name: &name})
	}
	f.overrides[number] = existing
	return nil
}

func (f *fakeIntegrationForge) RemoveLabel(ctx context.Context, owner, repo string, number int, label string) error {
	existing := f.mustIssue(number)
	kept := existing.Labels[:0]
	for _, l := range existing.Labels {
		if l.GetName() != label {
			kept = append(kept, l)
		}
	}
	existing.Labels = kept
	f.overrides[number] = existing
	return nil
}

func (f *fakeIntegrationForge) CreateComment(ctx context.Context, owner, repo string, number int, body string) (*github.IssueComment, error) {
	c := &github.IssueComment{Body: &body, CreatedAt: &github.Timestamp{Time: time.Now()}}
	f.comments[number] = append(f.comments[number], c)
	return c, nil
}

func (f *fakeIntegrationForge) ListComments(ctx context.Context, owner, repo string, number int) ([]*github.IssueComment, error) {
	return f.comments[number], nil
}

func (f *fakeIntegrationForge) mustIssue(number int) *github.Issue {
	if o, ok := f.overrides[number]; ok {
		return o
	}
	for _, i := range f.issues {
		if i.GetNumber() == number {
			return i
		}
	}
	panic("unknown issue number in fake forge")
}

func integrationIssue(n int, title, body string, labels ...string) *github.Issue {
	ls := make([]*github.Label, 0, len(labels))
	for _, l := range labels {
		name := l
		ls = append(ls, &github.Label{Name: &name})
	}
	num := n
	return &github.Issue{Number: &num, Title: &title, Body: &body, Labels: ls}
}

func integrationAgentRegistry() *agent.Registry {
	return agent.New([]store.AgentProfile{
		{AgentID: "dev", Role: store.RoleDeveloper, Lifecycle: store.LifecycleOnDemand, ConcurrencyLimit: 2},
		{AgentID: "coord", Role: store.RoleCoordinator, Lifecycle: store.LifecycleOnDemand, ConcurrencyLimit: 2},
	}, agent.Config{GlobalCeiling: 10})
}

// newIntegrationStack wires the real C10 (polling) -> C6 (coordinator) -> C8
// (dispatch) -> C9 (pipeline) path together, exactly as cmd/agent-forge's
// boot sequence does, but with a fake forge in place of a live one.
func newIntegrationStack(forge *fakeIntegrationForge) (*polling.Poller, *pipeline.Orchestrator, *dispatch.Dispatcher, *coordinator.Gateway) {
	pipelines := pipeline.New(pipeline.Config{})
	pipelines.SetLabelReleaser(forge)

	gateway := coordinator.New(forge, nil, coordinator.Config{})
	registry := integrationAgentRegistry()
	dispatcher := dispatch.New(registry, pipelines, 10)
	escalator := escalation.New(escalation.DefaultThresholds())
	dispatcher.SetEscalation(escalator, gateway)

	routingGateway := &pipelineGateway{
		coordinator: gateway,
		dispatcher:  dispatcher,
		pipelines:   pipelines,
		notifier:    nil,
	}

	poller := polling.New(forge, routingGateway, pipelines, polling.Config{
		Owner: "org", Repo: "repo", ClaimantID: "agent-forge-bot",
	})

	return poller, pipelines, dispatcher, gateway
}

// TestIntegration_TypoFixReachesMerged drives a simple issue through claim,
// routing, dispatch, and a stubbed agent run all the way to merged.
func TestIntegration_TypoFixReachesMerged(t *testing.T) {
	forge := newFakeIntegrationForge(integrationIssue(1, "Fix typo in README", "s/teh/the/", "agent-ready"))
	poller, pipelines, _, _ := newIntegrationStack(forge)

	ctx := context.Background()
	require.NoError(t, poller.PollOnce(ctx))

	rec, active := pipelines.ActiveRecord("org/repo#1")
	require.True(t, active)
	assert.Equal(t, pipeline.StatusDispatched, rec.Status)

	require.NoError(t, pipelines.ApplyAgentReport(pipeline.AgentReport{PipelineID: rec.ID, Status: pipeline.StatusExecuting}))
	require.NoError(t, pipelines.ApplyAgentReport(pipeline.AgentReport{PipelineID: rec.ID, Status: pipeline.StatusReviewing}))
	require.NoError(t, pipelines.ApplyAgentReport(pipeline.AgentReport{PipelineID: rec.ID, Status: pipeline.StatusMerged}))

	records := pipelines.Records()
	require.Len(t, records, 1)
	assert.Equal(t, pipeline.StatusMerged, records[0].Status)
}

// TestIntegration_AuthRedesignRoutesToCoordinatorRole drives a complex issue
// through claim, routing, and dispatch, verifying C6's complex category
// routes dispatch to the coordinator role rather than developer.
func TestIntegration_AuthRedesignRoutesToCoordinatorRole(t *testing.T) {
	body := "Redesign the authentication architecture across multiple services. " +
		"This requires restructuring the framework and coordinating several teams."
	forge := newFakeIntegrationForge(integrationIssue(2, "Redesign auth architecture", body, "agent-ready", "architecture"))
	poller, pipelines, _, gateway := newIntegrationStack(forge)

	ctx := context.Background()
	require.NoError(t, poller.PollOnce(ctx))

	rec, active := pipelines.ActiveRecord("org/repo#2")
	require.True(t, active)
	assert.Equal(t, pipeline.StatusDispatched, rec.Status)

	decision, err := gateway.Route(ctx, coordinator.IssueRef{
		Owner: "org", Repo: "repo", Number: 2, Title: "Redesign auth architecture",
		Body: body, Labels: []string{"agent-ready", "architecture"},
	})
	require.NoError(t, err)
	assert.Equal(t, "coordinator", decision.RequiredRole)
}

// TestIntegration_UncertainEscalatesReEntersCoordinator simulates an
// escalation-enabled pipeline whose executing agent trips an escalation
// threshold, verifying C8 re-enters C6 and produces a fresh Decision rather
// than dead-ending the pipeline.
func TestIntegration_UncertainEscalatesReEntersCoordinator(t *testing.T) {
	body := "Several users report this breaks but the root cause is unclear. " +
		"There might be `config.yaml` involved.\n- [ ] reproduce locally\n- [ ] check config parsing, needs investigation."
	forge := newFakeIntegrationForge(integrationIssue(3, "Unclear scope issue", body, "agent-ready"))
	poller, pipelines, dispatcher, _ := newIntegrationStack(forge)

	ctx := context.Background()
	require.NoError(t, poller.PollOnce(ctx))

	rec, active := pipelines.ActiveRecord("org/repo#3")
	require.True(t, active)
	require.NoError(t, pipelines.ApplyAgentReport(pipeline.AgentReport{PipelineID: rec.ID, Status: pipeline.StatusExecuting}))

	ref := coordinator.IssueRef{Owner: "org", Repo: "repo", Number: 3, Title: "Unclear scope issue", Body: body}
	decision, escalated, err := dispatcher.Escalate(ctx, rec.ID, ref, escalation.Context{
		FilesTouched:   10,
		ElapsedMinutes: 45,
	})
	require.NoError(t, err)
	require.True(t, escalated)
	assert.NotEmpty(t, decision.Action)
}
