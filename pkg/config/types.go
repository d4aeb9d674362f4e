package config

import "time"

// RateLimitConfig configures C1's per-op-kind windows, burst cap and dedup.
type RateLimitConfig struct {
	// PerMinute/PerHour/PerDay are op-kind → max-count maps. A missing
	// op-kind is treated as unlimited for that window.
	PerMinute map[string]int `yaml:"per_minute" validate:"omitempty"`
	PerHour   map[string]int `yaml:"per_hour" validate:"omitempty"`
	PerDay    map[string]int `yaml:"per_day" validate:"omitempty"`
	// Cooldown is the minimum spacing between two ops of the same kind.
	Cooldown map[string]time.Duration `yaml:"cooldown" validate:"omitempty"`
	// BurstCap is the max operations of any kind within BurstWindow.
	BurstCap    int           `yaml:"burst_cap" validate:"min=1"`
	BurstWindow time.Duration `yaml:"burst_window" validate:"min=1s"`
	// MaxDuplicateOperations is how many times identical content may be
	// sent within DuplicateWindow before the next attempt is denied.
	MaxDuplicateOperations int           `yaml:"max_duplicate_operations" validate:"min=0"`
	DuplicateWindow        time.Duration `yaml:"duplicate_window" validate:"min=1s"`
	// SafetyThreshold denies every write once the forge's reported
	// remaining budget drops to or below this value.
	SafetyThreshold int `yaml:"safety_threshold" validate:"min=0"`
	// EventLogCapacity bounds the in-memory ring buffer of Rate-Limit Events.
	EventLogCapacity int `yaml:"event_log_capacity" validate:"min=1"`
}

// ConcurrencyConfig configures C4's global ceiling.
type ConcurrencyConfig struct {
	// GlobalCeiling is the max Agent Instances in state "working" at once.
	// Defaults conservatively to 1.
	GlobalCeiling int `yaml:"global_ceiling" validate:"min=1"`
	// IdleTimeout is loaded and validated but not passed to the agent
	// registry; idle on-demand instances are not torn down.
	IdleTimeout time.Duration `yaml:"idle_timeout" validate:"min=0"`
	// HeartbeatInterval is the max gap between heartbeats while working.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" validate:"min=1s"`
	// HeartbeatMissMultiple is how many missed intervals trigger an error
	// transition: more than 3x the heartbeat interval.
	HeartbeatMissMultiple int `yaml:"heartbeat_miss_multiple" validate:"min=1"`
}

// PipelineConfig configures C9's retry/backoff/timeout behavior.
type PipelineConfig struct {
	MaxAttempts       int           `yaml:"max_attempts" validate:"min=1"`
	BackoffBase       time.Duration `yaml:"backoff_base" validate:"min=1s"`
	BackoffCap        time.Duration `yaml:"backoff_cap" validate:"min=1s"`
	AnalyzeTimeout    time.Duration `yaml:"analyze_timeout" validate:"min=1s"`
	ExecuteTimeout    time.Duration `yaml:"execute_timeout" validate:"min=1s"`
	ReviewTimeout     time.Duration `yaml:"review_timeout" validate:"min=1s"`
	ClaimTTL          time.Duration `yaml:"claim_ttl" validate:"min=1s"`
	StatePath         string        `yaml:"state_path" validate:"required"`
	RecoverySweep     time.Duration `yaml:"recovery_sweep" validate:"min=1s"`
}

// PollingConfig configures C10.
type PollingConfig struct {
	Interval      time.Duration `yaml:"interval" validate:"min=1s"`
	CronSchedule  string        `yaml:"cron_schedule" validate:"omitempty"`
	ReadyLabel    string        `yaml:"ready_label" validate:"required"`
	SkipLabels    []string      `yaml:"skip_labels" validate:"omitempty"`
	BotIdentities []string      `yaml:"bot_identities" validate:"omitempty"`
}

// DispatchConfig configures C8's per-role queue.
type DispatchConfig struct {
	QueueCapacity int `yaml:"queue_capacity" validate:"min=1"`
}

// ForgeConfig configures C2's underlying code-forge client.
type ForgeConfig struct {
	Owner              string        `yaml:"owner" validate:"omitempty"`
	Repo               string        `yaml:"repo" validate:"omitempty"`
	TokenEnv           string        `yaml:"token_env" validate:"required"`
	BaseURL            string        `yaml:"base_url" validate:"omitempty,url"`
	RequestTimeout     time.Duration `yaml:"request_timeout" validate:"min=1s"`
	CircuitFailures    uint32        `yaml:"circuit_failures" validate:"min=1"`
	CircuitResetTime   time.Duration `yaml:"circuit_reset_time" validate:"min=1s"`
}

// NotifyConfig configures the optional Slack notifier.
type NotifyConfig struct {
	TokenEnv     string `yaml:"token_env" validate:"omitempty"`
	Channel      string `yaml:"channel" validate:"omitempty"`
	DashboardURL string `yaml:"dashboard_url" validate:"omitempty,url"`
}

// LLMProviderConfig describes one configured LLM backend.
type LLMProviderConfig struct {
	Name        string        `yaml:"name" validate:"required"`
	Kind        string        `yaml:"kind" validate:"required,oneof=anthropic openai"`
	Model       string        `yaml:"model" validate:"required"`
	APIKeyEnv   string        `yaml:"api_key_env" validate:"required"`
	BaseURL     string        `yaml:"base_url,omitempty" validate:"omitempty,url"`
	Timeout     time.Duration `yaml:"timeout" validate:"min=1s"`
	MaxTokens   int           `yaml:"max_tokens" validate:"min=1"`
	Temperature float64       `yaml:"temperature" validate:"min=0,max=2"`
}

// SupervisorConfig configures C11.
type SupervisorConfig struct {
	ShutdownGrace time.Duration `yaml:"shutdown_grace" validate:"min=1s"`
	HealthAddr    string        `yaml:"health_addr" validate:"required"`
}

// MonitorConfig configures C12.
type MonitorConfig struct {
	SubscriberQueueDepth int `yaml:"subscriber_queue_depth" validate:"min=1"`
}

// WorkspaceConfig configures C13.
type WorkspaceConfig struct {
	RootDir string `yaml:"root_dir" validate:"required"`
}

// CoordinatorConfig configures C6's optional LLM refinement step.
type CoordinatorConfig struct {
	LLMTimeout      time.Duration `yaml:"llm_timeout" validate:"min=1s"`
	PrimaryProvider string        `yaml:"primary_provider" validate:"required"`
	FallbackProvider string       `yaml:"fallback_provider" validate:"omitempty"`
}

// EscalationConfig configures C7's triggers.
type EscalationConfig struct {
	FilesTouchedThreshold      int           `yaml:"files_touched_threshold" validate:"min=1"`
	ComponentsTouchedThreshold int           `yaml:"components_touched_threshold" validate:"min=1"`
	FailedAttemptsThreshold    int           `yaml:"failed_attempts_threshold" validate:"min=1"`
	ElapsedThreshold           time.Duration `yaml:"elapsed_threshold" validate:"min=1m"`
}

// SecretStoreConfig configures where C3 reads per-identity credentials from.
type SecretStoreConfig struct {
	Dir string `yaml:"dir" validate:"required"`
}

// ProfileDirConfig configures where C4 reads agent profiles from.
type ProfileDirConfig struct {
	Dir string `yaml:"dir" validate:"required"`
}
