package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"mediadump/internal/services"
)

// supportedFormats maps a transcode target extension to ffmpeg codec arguments.
var supportedFormats = map[string][]string{
	"mp3":  {"-c:a", "libmp3lame"},
	"m4a":  {"-c:a", "aac"},
	"ogg":  {"-c:a", "libvorbis"},
	"opus": {"-c:a", "libopus"},
	"wav":  {"-c:a", "pcm_s16le"},
	"flac": {"-c:a", "flac"},
}

// Validate ensures the configuration is usable. Errors match
// services.ErrConfiguration.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return services.Wrap(services.ErrConfiguration, "config", "validate", "", err)
	}
	return nil
}

func (c *Config) validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateFetch(); err != nil {
		return err
	}
	if err := c.validateTranscode(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateWorkspace(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.MaxBodyBytes <= 0 {
		return errors.New("server.max_body_bytes must be positive")
	}
	return ensurePositiveMap(map[string]int{
		"server.max_concurrent_jobs":      c.Server.MaxConcurrentJobs,
		"server.shutdown_timeout_seconds": c.Server.ShutdownTimeoutSeconds,
	})
}

func (c *Config) validateFetch() error {
	if err := ensurePositiveMap(map[string]int{
		"fetch.timeout_seconds": c.Fetch.TimeoutSeconds,
		"fetch.attempts":        c.Fetch.Attempts,
	}); err != nil {
		return err
	}
	if c.Fetch.BackoffBaseMS < 0 || c.Fetch.BackoffMaxMS < 0 {
		return errors.New("fetch.backoff_base_ms and fetch.backoff_max_ms must not be negative")
	}
	if c.Fetch.BackoffMaxMS > 0 && c.Fetch.BackoffMaxMS < c.Fetch.BackoffBaseMS {
		return errors.New("fetch.backoff_max_ms must be at least fetch.backoff_base_ms")
	}
	if c.Fetch.MaxFileBytes < 0 {
		return errors.New("fetch.max_file_bytes must not be negative (0 disables the limit)")
	}
	return nil
}

func (c *Config) validateTranscode() error {
	if c.Transcode.TimeoutSeconds <= 0 {
		return errors.New("transcode.timeout_seconds must be positive")
	}
	if _, ok := supportedFormats[c.Transcode.Format]; !ok {
		return fmt.Errorf("transcode.format: unsupported value %q (supported: %v)", c.Transcode.Format, SupportedFormats())
	}
	if c.Transcode.Quality < 0 || c.Transcode.Quality > 9 {
		return errors.New("transcode.quality must be between 0 and 9")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	return ensurePositiveMap(map[string]int{
		"pipeline.concurrency":    c.Pipeline.Concurrency,
		"pipeline.max_references": c.Pipeline.MaxReferences,
	})
}

func (c *Config) validateWorkspace() error {
	return ensurePositiveMap(map[string]int{
		"workspace.stale_after_minutes":    c.Workspace.StaleAfterMinutes,
		"workspace.sweep_interval_minutes": c.Workspace.SweepIntervalMinutes,
	})
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic == "" {
		return nil
	}
	if !strings.HasPrefix(c.Notifications.NtfyTopic, "http://") && !strings.HasPrefix(c.Notifications.NtfyTopic, "https://") {
		return fmt.Errorf("notifications.ntfy_topic: expected a full topic URL, got %q", c.Notifications.NtfyTopic)
	}
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		return errors.New("notifications.request_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if c.Logging.RetentionDays < 0 {
		return errors.New("logging.retention_days must not be negative (0 disables pruning)")
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}

// CodecArgs returns the ffmpeg codec arguments for the configured target format.
func (c *Config) CodecArgs() []string {
	args := supportedFormats[c.Transcode.Format]
	out := make([]string, len(args))
	copy(out, args)
	return out
}

// SupportedFormats lists the accepted transcode.format values.
func SupportedFormats() []string {
	formats := make([]string, 0, len(supportedFormats))
	for name := range supportedFormats {
		formats = append(formats, name)
	}
	sort.Strings(formats)
	return formats
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
