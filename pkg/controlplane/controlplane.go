// Package controlplane serves the read-only HTTP/WebSocket API operators use
// to observe a running agent-forge process: agent and pipeline listings, a
// liveness/health view, Prometheus metrics, and a live event tail.
package controlplane

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agent-forge/core/pkg/agent"
	"github.com/agent-forge/core/pkg/monitor"
	"github.com/agent-forge/core/pkg/pipeline"
	"github.com/agent-forge/core/pkg/supervisor"
)

// Health is the subset of pkg/supervisor.Supervisor the control plane needs
// to serve /health.
type Health interface {
	Health() supervisor.Report
}

// Agents is the subset of pkg/agent.Registry the control plane needs.
type Agents interface {
	Snapshot() []agent.InstanceView
}

// Pipelines is the subset of pkg/pipeline.Orchestrator the control plane
// needs.
type Pipelines interface {
	Records() []pipeline.Record
}

// Server is the control plane's gin router and its read-only dependencies.
type Server struct {
	agents    Agents
	pipelines Pipelines
	bus       *monitor.Bus
	health    Health

	router *gin.Engine
}

// New constructs a Server and registers every route.
func New(agents Agents, pipelines Pipelines, bus *monitor.Bus, health Health) *Server {
	s := &Server{agents: agents, pipelines: pipelines, bus: bus, health: health}

	router := gin.Default()
	router.GET("/health", s.handleHealth)
	router.GET("/agents", s.handleAgents)
	router.GET("/pipelines", s.handlePipelines)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if bus != nil {
		router.GET("/events", s.handleEvents)
	}
	s.router = router
	return s
}

// Router exposes the underlying gin engine, e.g. for ListenAndServe or
// testing with httptest.
func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) handleHealth(c *gin.Context) {
	report := s.health.Health()
	status := http.StatusOK
	if report.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

func (s *Server) handleAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": s.agents.Snapshot()})
}

func (s *Server) handlePipelines(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pipelines": s.pipelines.Records()})
}

func (s *Server) handleEvents(c *gin.Context) {
	s.bus.ServeTail(c.Writer, c.Request)
}
