package config

const (
	defaultConfigPath             = "~/.config/mediadump/config.toml"
	defaultScratchDir             = "~/.local/share/mediadump/workdir"
	defaultArchiveDir             = "~/.local/share/mediadump/archives"
	defaultLogDir                 = "~/.local/share/mediadump/logs"
	defaultBind                   = "127.0.0.1:8765"
	defaultMaxBodyBytes           = 8 << 20
	defaultMaxConcurrentJobs      = 4
	defaultShutdownTimeoutSeconds = 10
	defaultFetchTimeoutSeconds    = 30
	defaultFetchAttempts          = 3
	defaultMaxFileBytes           = 512 << 20
	defaultUserAgent              = "mediadump/dev"
	defaultFFmpegBinary           = "ffmpeg"
	defaultTranscodeTimeout       = 60
	defaultTranscodeFormat        = "mp3"
	defaultTranscodeQuality       = 2
	defaultPipelineConcurrency    = 4
	defaultMaxReferences          = 2000
	defaultStaleAfterMinutes      = 60
	defaultSweepIntervalMinutes   = 15
	defaultNtfyRequestTimeout     = 10
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultLogRetentionDays       = 14
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			ScratchDir: defaultScratchDir,
			ArchiveDir: defaultArchiveDir,
			LogDir:     defaultLogDir,
		},
		Server: Server{
			Bind:                   defaultBind,
			MaxBodyBytes:           defaultMaxBodyBytes,
			MaxConcurrentJobs:      defaultMaxConcurrentJobs,
			ShutdownTimeoutSeconds: defaultShutdownTimeoutSeconds,
		},
		Fetch: Fetch{
			TimeoutSeconds: defaultFetchTimeoutSeconds,
			Attempts:       defaultFetchAttempts,
			MaxFileBytes:   defaultMaxFileBytes,
			UserAgent:      defaultUserAgent,
		},
		Transcode: Transcode{
			FFmpegBinary:   defaultFFmpegBinary,
			TimeoutSeconds: defaultTranscodeTimeout,
			Format:         defaultTranscodeFormat,
			Quality:        defaultTranscodeQuality,
		},
		Pipeline: Pipeline{
			Concurrency:   defaultPipelineConcurrency,
			MaxReferences: defaultMaxReferences,
		},
		Workspace: Workspace{
			StaleAfterMinutes:    defaultStaleAfterMinutes,
			SweepIntervalMinutes: defaultSweepIntervalMinutes,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNtfyRequestTimeout,
			NotifyOnSuccess:       true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
