package config

const (
	defaultDataDir             = "~/.local/share/scribe"
	defaultLogDir              = "~/.local/share/scribe/logs"
	defaultAPIBind             = "127.0.0.1:7493"
	defaultMaxFileSizeMiB      = 2048
	defaultSessionTimeout      = 86400
	defaultQueueMaxAttempts    = 3
	defaultQueueLeaseDuration  = 120
	defaultQueuePollInterval   = 2
	defaultWorkerCount         = 2
	defaultProcessingTimeout   = 7200
	defaultHeartbeatInterval   = 15
	defaultErrorRetryInterval  = 10
	defaultEngineBinary        = "uvx"
	defaultEngineModel         = "large-v3"
	defaultEngineLanguage      = "en"
	defaultJobRetentionDays    = 30
	defaultRetentionSweepEvery = 300
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Upload: Upload{
			MaxFileSizeMiB: defaultMaxFileSizeMiB,
			SessionTimeout: defaultSessionTimeout,
		},
		Queue: Queue{
			MaxAttempts:   defaultQueueMaxAttempts,
			LeaseDuration: defaultQueueLeaseDuration,
			PollInterval:  defaultQueuePollInterval,
		},
		Worker: Worker{
			Count:              defaultWorkerCount,
			ProcessingTimeout:  defaultProcessingTimeout,
			HeartbeatInterval:  defaultHeartbeatInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			EnrichmentEnabled:  true,
		},
		Engine: Engine{
			Binary:   defaultEngineBinary,
			Model:    defaultEngineModel,
			Language: defaultEngineLanguage,
		},
		Retention: Retention{
			JobRetentionDays: defaultJobRetentionDays,
			SweepInterval:    defaultRetentionSweepEvery,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
