package config

const (
	defaultDatabaseURL        = "~/.local/share/spool/spool.db"
	defaultInputMediaPath     = "~/spool/input"
	defaultOutputDir          = "~/spool/output"
	defaultLogDir             = "~/.local/share/spool/logs"
	defaultAPIBind            = "127.0.0.1:7917"
	defaultWorkerConcurrency  = 1
	defaultTMDBCacheTTLDays   = 30
	defaultTMDBBaseURL        = "https://api.themoviedb.org/3"
	defaultTMDBLanguage       = "en-US"
	defaultLogFormat          = "auto"
	defaultLogLevel           = "info"
	defaultQueuePollInterval  = 5
	defaultErrorRetryInterval = 10
	defaultHeartbeatInterval  = 15
	defaultHeartbeatTimeout   = 120
	defaultJobMaxAttempts     = 3
	defaultStaleJobGrace      = 300
	defaultScreenshotCount    = 4
	defaultQBCategory         = "spool"
	defaultNotifyTimeout      = 10
	defaultReleaseGroup       = "SPL"
	defaultApprovalMode       = "auto"
)

// Approval modes.
const (
	ApprovalAuto = "auto"
	ApprovalHold = "hold"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		DatabaseURL:       defaultDatabaseURL,
		InputMediaPath:    defaultInputMediaPath,
		OutputDir:         defaultOutputDir,
		LogDir:            defaultLogDir,
		APIBind:           defaultAPIBind,
		WorkerConcurrency: defaultWorkerConcurrency,
		TMDBCacheTTLDays:  defaultTMDBCacheTTLDays,
		TMDB: TMDB{
			BaseURL:  defaultTMDBBaseURL,
			Language: defaultTMDBLanguage,
		},
		QBittorrent: QBittorrent{
			Category: defaultQBCategory,
		},
		Screenshots: Screenshots{
			Count: defaultScreenshotCount,
		},
		Approval: Approval{
			Mode: defaultApprovalMode,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Uploads:        true,
			Failures:       true,
			Duplicates:     true,
			Batches:        true,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
			JobMaxAttempts:     defaultJobMaxAttempts,
			StaleJobGrace:      defaultStaleJobGrace,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Naming: Naming{
			ReleaseGroup: defaultReleaseGroup,
		},
	}
}
