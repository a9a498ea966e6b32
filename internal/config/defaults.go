package config

const (
	defaultConfigPath        = "~/.config/specforge/config.toml"
	defaultDataDir           = "~/.local/share/specforge"
	defaultArtifactDir       = "~/.local/share/specforge/artifacts"
	defaultLogDir            = "~/.local/share/specforge/logs"
	defaultAPIBind           = "127.0.0.1:7490"
	defaultStoreDriver       = DriverSQLite
	defaultBusyTimeoutMS     = 5000
	defaultLLMProvider       = ProviderOpenRouter
	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1/chat/completions"
	defaultOpenRouterModel   = "google/gemini-3-flash-preview"
	defaultAnthropicModel    = "claude-sonnet-4-5"
	defaultLLMReferer        = "https://github.com/specforge/specforge"
	defaultLLMTitle          = "specforge"
	defaultLLMTimeout        = 60
	defaultLLMMaxTokens      = 4096
	defaultVerifierRetries   = 3
	defaultVerifierBaseMS    = 500
	defaultClaimTimeout      = 600
	defaultVerifierBatch     = 10
	defaultGatePoolSize      = 5
	defaultCompileAttempts   = 2
	defaultCompileRepairs    = 2
	defaultRenderTimeout     = 1800
	defaultWorkers           = 2
	defaultPollInterval      = 5
	defaultHeartbeatInterval = 15
	defaultHeartbeatTimeout  = 120
	defaultSelectDefer       = 30
	defaultReverifyPoll      = 30
	defaultNtfyTimeout       = 10
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultTelemetryExporter = "stdout"
	defaultTelemetryInterval = 60
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:     defaultDataDir,
			ArtifactDir: defaultArtifactDir,
			LogDir:      defaultLogDir,
			APIBind:     defaultAPIBind,
		},
		Store: Store{
			Driver:        defaultStoreDriver,
			BusyTimeoutMS: defaultBusyTimeoutMS,
		},
		LLM: LLM{
			Provider:       defaultLLMProvider,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeout,
			MaxTokens:      defaultLLMMaxTokens,
		},
		Verifier: Verifier{
			MaxRetries:          defaultVerifierRetries,
			RetryBaseMillis:     defaultVerifierBaseMS,
			ClaimTimeoutSeconds: defaultClaimTimeout,
			BatchSize:           defaultVerifierBatch,
		},
		Gate: Gate{
			PoolSize: defaultGatePoolSize,
		},
		Compiler: Compiler{
			MaxAttempts: defaultCompileAttempts,
			MaxRepairs:  defaultCompileRepairs,
		},
		Render: Render{
			TimeoutSeconds: defaultRenderTimeout,
		},
		Workflow: Workflow{
			Workers:              defaultWorkers,
			QueuePollInterval:    defaultPollInterval,
			HeartbeatInterval:    defaultHeartbeatInterval,
			HeartbeatTimeout:     defaultHeartbeatTimeout,
			SelectDeferSeconds:   defaultSelectDefer,
			ReverifyPollInterval: defaultReverifyPoll,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Telemetry: Telemetry{
			Exporter:        defaultTelemetryExporter,
			IntervalSeconds: defaultTelemetryInterval,
		},
	}
}
