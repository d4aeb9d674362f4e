package config

import "time"

// Defaults returns the built-in configuration defaults. A loaded YAML file
// overrides these field by field.
func Defaults() *System {
	return &System{
		RateLimit: RateLimitConfig{
			PerMinute:              map[string]int{"issue_comment": 3, "pr_comment": 3},
			PerHour:                map[string]int{"issue_comment": 30, "pr_comment": 30, "issue_create": 10},
			PerDay:                 map[string]int{"issue_comment": 200, "pr_create": 50},
			Cooldown:               map[string]time.Duration{"pr_merge": 10 * time.Second},
			BurstCap:               10,
			BurstWindow:            60 * time.Second,
			MaxDuplicateOperations: 2,
			DuplicateWindow:        time.Hour,
			SafetyThreshold:        500,
			EventLogCapacity:       10000,
		},
		Concurrency: ConcurrencyConfig{
			GlobalCeiling:         1,
			IdleTimeout:           10 * time.Minute,
			HeartbeatInterval:     30 * time.Second,
			HeartbeatMissMultiple: 3,
		},
		Pipeline: PipelineConfig{
			MaxAttempts:   3,
			BackoffBase:   30 * time.Second,
			BackoffCap:    10 * time.Minute,
			AnalyzeTimeout: 60 * time.Second,
			ExecuteTimeout: 30 * time.Minute,
			ReviewTimeout:  10 * time.Minute,
			ClaimTTL:       60 * time.Minute,
			StatePath:      "./data/pipelines.json",
			RecoverySweep:  time.Minute,
		},
		Polling: PollingConfig{
			Interval:   300 * time.Second,
			ReadyLabel: "agent-ready",
			SkipLabels: []string{"wontfix", "manual-only", "blocked"},
		},
		Dispatch: DispatchConfig{QueueCapacity: 100},
		Forge: ForgeConfig{
			TokenEnv:         "AGENT_FORGE_FORGE_TOKEN",
			RequestTimeout:   30 * time.Second,
			CircuitFailures:  3,
			CircuitResetTime: time.Minute,
		},
		Supervisor: SupervisorConfig{
			ShutdownGrace: 30 * time.Second,
			HealthAddr:    ":8080",
		},
		Monitor:   MonitorConfig{SubscriberQueueDepth: 1000},
		Workspace: WorkspaceConfig{RootDir: "./data/workspaces"},
		Coordinator: CoordinatorConfig{
			LLMTimeout:      30 * time.Second,
			PrimaryProvider: "anthropic-primary",
		},
		Escalation: EscalationConfig{
			FilesTouchedThreshold:      5,
			ComponentsTouchedThreshold: 3,
			FailedAttemptsThreshold:    2,
			ElapsedThreshold:           30 * time.Minute,
		},
		SecretStore: SecretStoreConfig{Dir: "./config/secrets"},
		ProfileDir:  ProfileDirConfig{Dir: "./config/agents"},
	}
}
