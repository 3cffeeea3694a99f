package config

const (
	defaultDataDir         = "~/.local/share/loom"
	defaultLogDir          = "~/.local/share/loom/logs"
	defaultScratchpadDir   = "~/.local/share/loom/scratchpad"
	defaultAPIBind         = "127.0.0.1:7733"
	defaultLogFormat       = "console"
	defaultLogLevel        = "info"
	defaultGenBaseURL      = "https://openrouter.ai/api/v1/chat/completions"
	defaultGenModel        = "google/gemini-3-flash-preview"
	defaultGenTimeout      = 60
	defaultWorkers         = 2
	defaultMaxAttempts     = 3
	defaultRetryBase       = 5
	defaultRetryMax        = 30
	defaultPollInterval    = 1
	defaultLeaseSeconds    = 120
	defaultReclaimInterval = 15
	defaultNtfyTimeout     = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:       defaultDataDir,
			LogDir:        defaultLogDir,
			ScratchpadDir: defaultScratchpadDir,
			APIBind:       defaultAPIBind,
		},
		Generation: Generation{
			BaseURL:        defaultGenBaseURL,
			Model:          defaultGenModel,
			TimeoutSeconds: defaultGenTimeout,
		},
		Dispatch: Dispatch{
			Workers:          defaultWorkers,
			MaxAttempts:      defaultMaxAttempts,
			RetryBaseSeconds: defaultRetryBase,
			RetryMaxSeconds:  defaultRetryMax,
			PollInterval:     defaultPollInterval,
			LeaseSeconds:     defaultLeaseSeconds,
			ReclaimInterval:  defaultReclaimInterval,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyTimeout,
		},
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}
