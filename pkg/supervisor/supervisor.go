// Package supervisor implements C11: the single process hosting C10, C9,
// and C12, starting them in dependency order and draining them in reverse
// on shutdown. The drain stops the poller and the pipeline orchestrator
// through their own sync.Once-guarded Stop methods and waits on a
// sync.WaitGroup, so Shutdown is safe to call more than once.
package supervisor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/agent-forge/core/pkg/monitor"
	"github.com/agent-forge/core/pkg/pipeline"
	"github.com/agent-forge/core/pkg/polling"
	"github.com/agent-forge/core/pkg/workspace"
)

// AgentRegistry is the subset of pkg/agent.Registry the supervisor needs for
// health reporting.
type AgentRegistry interface {
	WorkingCount() int
}

// Dispatcher is the subset of pkg/dispatch.Dispatcher needed to cooperatively
// cancel in-flight work during a graceful shutdown.
type Dispatcher interface {
	Cancel(pipelineID string) bool
}

// Config configures the supervisor's shutdown grace period and health
// endpoint.
type Config struct {
	ShutdownGrace time.Duration
	HealthAddr    string
}

// ComponentHealth is one line of the health report.
type ComponentHealth struct {
	Name          string    `json:"name"`
	Healthy       bool      `json:"healthy"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Detail        string    `json:"detail,omitempty"`
}

// Report is the full health snapshot C11's health endpoint serves.
type Report struct {
	Status     string            `json:"status"`
	Components []ComponentHealth `json:"components"`
}

// Supervisor is C11.
type Supervisor struct {
	cfg Config

	poller     *polling.Poller
	pipelines  *pipeline.Orchestrator
	bus        *monitor.Bus
	workspaces *workspace.Manager
	agents     AgentRegistry
	dispatcher Dispatcher

	logger *slog.Logger

	mu          sync.Mutex
	lastPollAt  time.Time
	healthSrv   *http.Server
	wg          sync.WaitGroup
	stopPoller  context.CancelFunc
	stopRecover context.CancelFunc
}

// New constructs a Supervisor wiring together the components it hosts and
// shares. dispatcher and agents may be nil in configurations that don't need
// cooperative cancellation or working-count health reporting.
func New(cfg Config, poller *polling.Poller, pipelines *pipeline.Orchestrator, bus *monitor.Bus, workspaces *workspace.Manager, agents AgentRegistry, dispatcher Dispatcher) *Supervisor {
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	if cfg.HealthAddr == "" {
		cfg.HealthAddr = ":8080"
	}
	return &Supervisor{
		cfg:        cfg,
		poller:     poller,
		pipelines:  pipelines,
		bus:        bus,
		workspaces: workspaces,
		agents:     agents,
		dispatcher: dispatcher,
		logger:     slog.Default().With("component", "supervisor"),
	}
}

// Start boots every hosted component in dependency order: recover persisted
// Pipeline Records, garbage-collect orphaned workspaces against the
// recovered state, start the recovery sweep, then start the poll loop and
// health endpoint. It returns once everything is running; use Shutdown to
// drain.
func (s *Supervisor) Start(ctx context.Context) error {
	s.logger.Info("starting agent-forge supervisor")

	if err := s.pipelines.Recover(); err != nil {
		return err
	}

	if s.workspaces != nil {
		if err := s.workspaces.GC(s.isLiveWorkspace); err != nil {
			s.logger.Warn("workspace garbage collection failed", "error", err)
		}
	}

	recoverCtx, cancelRecover := context.WithCancel(ctx)
	s.stopRecover = cancelRecover
	s.pipelines.RunRecoverySweep(recoverCtx)

	pollCtx, cancelPoll := context.WithCancel(ctx)
	s.stopPoller = cancelPoll
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.poller.Run(pollCtx)
	}()

	s.startHealthServer()

	s.logger.Info("agent-forge supervisor started", "health_addr", s.cfg.HealthAddr)
	return nil
}

func (s *Supervisor) isLiveWorkspace(sanitizedPipelineID string) bool {
	for _, rec := range s.pipelines.Records() {
		if workspace.Sanitize(rec.ID) == sanitizedPipelineID {
			return true
		}
	}
	return false
}

func (s *Supervisor) startHealthServer() {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.serveHealth)
	s.healthSrv = &http.Server{Addr: s.cfg.HealthAddr, Handler: mux}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("health server stopped unexpectedly", "error", err)
		}
	}()
}

func (s *Supervisor) serveHealth(w http.ResponseWriter, r *http.Request) {
	report := s.Health()
	w.Header().Set("Content-Type", "application/json")
	if report.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(report)
}

// Health reports each hosted component with a detail line. Every component
// is reported healthy, and the polling engine's LastHeartbeat is never
// updated, so it stays the zero time.
func (s *Supervisor) Health() Report {
	components := []ComponentHealth{
		{Name: "polling_engine", Healthy: true, LastHeartbeat: s.lastPoll()},
		{Name: "pipeline_orchestrator", Healthy: true, Detail: "records=" + strconv.Itoa(len(s.pipelines.Records()))},
	}
	if s.agents != nil {
		components = append(components, ComponentHealth{
			Name: "agent_registry", Healthy: true, Detail: "working=" + strconv.Itoa(s.agents.WorkingCount()),
		})
	}
	if s.bus != nil {
		components = append(components, ComponentHealth{
			Name: "monitoring_bus", Healthy: true, Detail: "subscribers=" + strconv.Itoa(s.bus.SubscriberCount()),
		})
	}
	if s.workspaces != nil {
		components = append(components, ComponentHealth{
			Name: "workspace_manager", Healthy: true, Detail: "active=" + strconv.Itoa(s.workspaces.ActiveCount()),
		})
	}

	status := "healthy"
	for _, c := range components {
		if !c.Healthy {
			status = "unhealthy"
			break
		}
	}
	return Report{Status: status, Components: components}
}

func (s *Supervisor) lastPoll() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPollAt
}

// Shutdown drains the supervisor in stages: stop accepting new claims,
// signal in-flight pipelines to checkpoint, wait up to the grace period,
// persist state, then exit.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down agent-forge supervisor")

	if s.stopPoller != nil {
		s.stopPoller()
	}
	s.poller.Stop()
	s.logger.Info("polling engine stopped, no new claims will be made")

	s.cancelExecutingPipelines()

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()

	graceCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownGrace)
	defer cancel()

	select {
	case <-drained:
		s.logger.Info("all hosted components drained cleanly")
	case <-graceCtx.Done():
		s.logger.Warn("shutdown grace period elapsed before full drain")
	}

	if s.stopRecover != nil {
		s.stopRecover()
	}
	s.pipelines.Stop()

	if s.healthSrv != nil {
		_ = s.healthSrv.Shutdown(context.Background())
	}

	s.logger.Info("agent-forge supervisor stopped")
	return nil
}

// cancelExecutingPipelines signals every dispatched or executing Pipeline
// Record to checkpoint and pause via the dispatcher's cooperative
// cancellation.
func (s *Supervisor) cancelExecutingPipelines() {
	if s.dispatcher == nil {
		return
	}
	for _, rec := range s.pipelines.Records() {
		if rec.Status == pipeline.StatusExecuting || rec.Status == pipeline.StatusDispatched {
			s.dispatcher.Cancel(rec.ID)
		}
	}
}

