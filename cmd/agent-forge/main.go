// Command agent-forge boots the whole orchestration process: it loads
// configuration, wires every component in dependency order, and serves the
// control plane until an OS termination signal triggers a graceful
// shutdown. Config directory is resolved from a flag with an env-var
// fallback, a .env file is loaded if present, and every failure before the
// control plane is up is fatal.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/agent-forge/core/pkg/accounts"
	"github.com/agent-forge/core/pkg/agent"
	"github.com/agent-forge/core/pkg/config"
	"github.com/agent-forge/core/pkg/controlplane"
	"github.com/agent-forge/core/pkg/coordinator"
	"github.com/agent-forge/core/pkg/dispatch"
	"github.com/agent-forge/core/pkg/escalation"
	"github.com/agent-forge/core/pkg/forge"
	"github.com/agent-forge/core/pkg/llm"
	"github.com/agent-forge/core/pkg/monitor"
	"github.com/agent-forge/core/pkg/notify"
	"github.com/agent-forge/core/pkg/pipeline"
	"github.com/agent-forge/core/pkg/polling"
	"github.com/agent-forge/core/pkg/ratelimit"
	"github.com/agent-forge/core/pkg/store"
	"github.com/agent-forge/core/pkg/supervisor"
	"github.com/agent-forge/core/pkg/workspace"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("AGENT_FORGE_CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("warning: could not load %s: %v", envPath, err)
		log.Printf("continuing with existing environment variables")
	} else {
		log.Printf("loaded environment from %s", envPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sys, err := config.Load(ctx, *configDir)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	accountProfiles, err := store.LoadAccountProfiles(sys.SecretStore.Dir)
	if err != nil {
		log.Fatalf("failed to load account profiles: %v", err)
	}
	accountsList := make([]accounts.Profile, 0, len(accountProfiles))
	for _, p := range accountProfiles {
		accountsList = append(accountsList, accounts.Profile{
			Ref: p.Ref, DisplayName: p.DisplayName, Email: p.Email, Capabilities: p.Capabilities,
		})
	}
	accountMgr, err := accounts.Load(accountsList, sys.SecretStore.Dir)
	if err != nil {
		log.Fatalf("failed to load account credentials: %v", err)
	}

	agentProfiles, err := store.LoadProfiles(sys.ProfileDir.Dir)
	if err != nil {
		log.Fatalf("failed to load agent profiles: %v", err)
	}
	agentRegistry := agent.New(agentProfiles, agent.Config{
		GlobalCeiling:         sys.Concurrency.GlobalCeiling,
		HeartbeatInterval:     sys.Concurrency.HeartbeatInterval,
		HeartbeatMissMultiple: sys.Concurrency.HeartbeatMissMultiple,
	})

	limiter := ratelimit.New(sys.RateLimit)

	forgeToken := os.Getenv(sys.Forge.TokenEnv)
	if forgeToken == "" {
		log.Fatalf("forge token env var %s is not set", sys.Forge.TokenEnv)
	}
	forgeClient, err := forge.New(forge.Config{
		Token:            forgeToken,
		BaseURL:          sys.Forge.BaseURL,
		RequestTimeout:   sys.Forge.RequestTimeout,
		CircuitFailures:  sys.Forge.CircuitFailures,
		CircuitResetTime: sys.Forge.CircuitResetTime,
	}, limiter)
	if err != nil {
		log.Fatalf("failed to construct forge client: %v", err)
	}

	llmChain := buildLLMChain(sys)

	gateway := coordinator.New(forgeClient, llmChain, coordinator.Config{
		LLMTimeout: sys.Coordinator.LLMTimeout,
	})

	pipelines := pipeline.New(pipeline.Config{
		MaxAttempts:   sys.Pipeline.MaxAttempts,
		BackoffBase:   sys.Pipeline.BackoffBase,
		BackoffCap:    sys.Pipeline.BackoffCap,
		ClaimTTL:      sys.Pipeline.ClaimTTL,
		StatePath:     sys.Pipeline.StatePath,
		RecoverySweep: sys.Pipeline.RecoverySweep,
	})
	pipelines.SetLabelReleaser(forgeClient)

	escalator := escalation.New(escalation.Thresholds{
		FilesTouched:      sys.Escalation.FilesTouchedThreshold,
		ComponentsTouched: sys.Escalation.ComponentsTouchedThreshold,
		FailedAttempts:    sys.Escalation.FailedAttemptsThreshold,
		ElapsedMinutes:    sys.Escalation.ElapsedThreshold.Minutes(),
	})
	dispatcher := dispatch.New(agentRegistry, pipelines, sys.Dispatch.QueueCapacity)
	dispatcher.SetEscalation(escalator, gateway)

	ws, err := workspace.New(sys.Workspace.RootDir)
	if err != nil {
		log.Fatalf("failed to initialize workspace manager: %v", err)
	}

	bus := monitor.New(sys.Monitor.SubscriberQueueDepth)
	monitor.MustRegister(prometheus.DefaultRegisterer)

	notifier := buildNotifier(sys)

	routingGateway := &pipelineGateway{
		coordinator: gateway,
		dispatcher:  dispatcher,
		pipelines:   pipelines,
		notifier:    notifier,
	}

	poller := polling.New(forgeClient, routingGateway, pipelines, polling.Config{
		Owner:         sys.Forge.Owner,
		Repo:          sys.Forge.Repo,
		Interval:      sys.Polling.Interval,
		CronSchedule:  sys.Polling.CronSchedule,
		ReadyLabel:    sys.Polling.ReadyLabel,
		SkipLabels:    sys.Polling.SkipLabels,
		BotIdentities: sys.Polling.BotIdentities,
	})

	svc := supervisor.New(supervisor.Config{
		ShutdownGrace: sys.Supervisor.ShutdownGrace,
		HealthAddr:    sys.Supervisor.HealthAddr,
	}, poller, pipelines, bus, ws, agentRegistry, dispatcher)

	if err := svc.Start(ctx); err != nil {
		log.Fatalf("failed to start supervisor: %v", err)
	}

	cp := controlplane.New(agentRegistry, pipelines, bus, svc)
	controlPlaneAddr := getEnv("AGENT_FORGE_CONTROL_PLANE_ADDR", ":8081")
	go func() {
		slog.Info("control plane listening", "addr", controlPlaneAddr)
		if err := cp.Router().Run(controlPlaneAddr); err != nil {
			slog.Error("control plane stopped unexpectedly", "error", err)
		}
	}()

	// accountMgr resolves forge identities for executing agents' own forge
	// calls (outside this process's boundary); this boot path only needs
	// to have loaded and validated it before serving traffic.
	_ = accountMgr

	// The code-execution loop itself runs outside this process; whatever
	// hosts it reports progress back via pipelines.ApplyAgentReport as it
	// moves a dispatched pipeline through executing, reviewing, and merged
	// (or reports a failed attempt), and calls dispatcher.Escalate when the
	// executing agent's escalation thresholds trip.

	<-ctx.Done()
	slog.Info("termination signal received, shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), sys.Supervisor.ShutdownGrace+time.Second)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown failed: %v", err)
	}
}

func buildLLMChain(sys *config.System) *llm.Chain {
	var providers []llm.Provider
	for _, name := range orderedProviderNames(sys) {
		pc := sys.LLMProviders[name]
		apiKey := os.Getenv(pc.APIKeyEnv)
		if apiKey == "" {
			slog.Warn("skipping LLM provider with unset API key", "provider", name, "env", pc.APIKeyEnv)
			continue
		}
		switch pc.Kind {
		case "anthropic":
			providers = append(providers, llm.NewAnthropicProvider(pc.Name, apiKey, pc.BaseURL))
		case "openai":
			providers = append(providers, llm.NewOpenAIProvider(pc.Name, apiKey, pc.BaseURL))
		}
	}
	if len(providers) == 0 {
		return nil
	}
	return llm.NewChain(providers...)
}

// orderedProviderNames puts the configured primary provider first so it
// becomes the Chain's primary, followed by every other configured provider.
func orderedProviderNames(sys *config.System) []string {
	var names []string
	if _, ok := sys.LLMProviders[sys.Coordinator.PrimaryProvider]; ok {
		names = append(names, sys.Coordinator.PrimaryProvider)
	}
	if sys.Coordinator.FallbackProvider != "" {
		if _, ok := sys.LLMProviders[sys.Coordinator.FallbackProvider]; ok {
			names = append(names, sys.Coordinator.FallbackProvider)
		}
	}
	for name := range sys.LLMProviders {
		if name != sys.Coordinator.PrimaryProvider && name != sys.Coordinator.FallbackProvider {
			names = append(names, name)
		}
	}
	return names
}

func buildNotifier(sys *config.System) *notify.Service {
	if sys.Notify.TokenEnv == "" || sys.Notify.Channel == "" {
		return nil
	}
	token := os.Getenv(sys.Notify.TokenEnv)
	return notify.NewService(notify.Config{
		Token:        token,
		Channel:      sys.Notify.Channel,
		DashboardURL: sys.Notify.DashboardURL,
	})
}

// pipelineGateway bridges C10's claim loop to C6's routing decision and C8's
// dispatch: it advances the claimed Pipeline Record to analyzed once C6 has
// decided, best-effort notifies Slack, then dispatches; C8 in turn has C9
// advance the record to dispatched when an instance is acquired.
type pipelineGateway struct {
	coordinator *coordinator.Gateway
	dispatcher  *dispatch.Dispatcher
	pipelines   *pipeline.Orchestrator
	notifier    *notify.Service
}

func (g *pipelineGateway) Route(ctx context.Context, pipelineID string, ref coordinator.IssueRef) (coordinator.Decision, error) {
	decision, err := g.coordinator.Route(ctx, ref)
	if err != nil {
		return decision, err
	}

	if err := g.pipelines.AdvanceByID(pipelineID, pipeline.StatusAnalyzed); err != nil {
		return decision, fmt.Errorf("advancing pipeline to analyzed: %w", err)
	}

	issueRef := fmt.Sprintf("%s/%s#%d", ref.Owner, ref.Repo, ref.Number)
	g.notifier.NotifyPipelineStarted(ctx, notify.PipelineStartedInput{
		PipelineID: pipelineID,
		IssueRef:   issueRef,
		Category:   string(decision.Category),
		Action:     string(decision.Action),
	})

	outcome := g.dispatcher.Dispatch(ctx, pipelineID, decision)
	if !outcome.Accepted {
		return decision, fmt.Errorf("dispatch rejected: %s", outcome.Reason)
	}
	return decision, nil
}
