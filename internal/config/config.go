package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains scratch, archive, and log directory configuration.
type Paths struct {
	ScratchDir string `toml:"scratch_dir"`
	ArchiveDir string `toml:"archive_dir"`
	LogDir     string `toml:"log_dir"`
}

// Server contains HTTP controller settings.
type Server struct {
	Bind                   string `toml:"bind"`
	MaxBodyBytes           int64  `toml:"max_body_bytes"`
	MaxConcurrentJobs      int    `toml:"max_concurrent_jobs"`
	ShutdownTimeoutSeconds int    `toml:"shutdown_timeout_seconds"`
	Token                  string `toml:"token"`
}

// Fetch contains remote download settings.
type Fetch struct {
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Attempts       int    `toml:"attempts"`
	BackoffBaseMS  int    `toml:"backoff_base_ms"`
	BackoffMaxMS   int    `toml:"backoff_max_ms"`
	MaxFileBytes   int64  `toml:"max_file_bytes"`
	UserAgent      string `toml:"user_agent"`
}

// Transcode contains voice conversion settings.
type Transcode struct {
	FFmpegBinary   string `toml:"ffmpeg_binary"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Format         string `toml:"format"`
	Quality        int    `toml:"quality"`
}

// Pipeline contains per-job processing limits.
type Pipeline struct {
	Concurrency   int    `toml:"concurrency"`
	MaxReferences int    `toml:"max_references"`
	MinFreeBytes  uint64 `toml:"min_free_bytes"`
}

// Workspace contains stale scratch sweeping settings.
type Workspace struct {
	StaleAfterMinutes    int `toml:"stale_after_minutes"`
	SweepIntervalMinutes int `toml:"sweep_interval_minutes"`
}

// Notifications contains ntfy settings for daemon job alerts.
type Notifications struct {
	NtfyTopic             string `toml:"ntfy_topic"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	NotifyOnSuccess       bool   `toml:"notify_on_success"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for mediadump.
//
// Configuration sections by subsystem:
//   - Paths: scratch, archive, and log directories
//   - Server: HTTP bind address and request limits
//   - Fetch: download timeout, retries, and size limit
//   - Transcode: ffmpeg command, timeout, and target format
//   - Pipeline: item concurrency and manifest limits
//   - Workspace: stale job directory sweeping
//   - Notifications: ntfy alerts for daemon jobs
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Server        Server        `toml:"server"`
	Fetch         Fetch         `toml:"fetch"`
	Transcode     Transcode     `toml:"transcode"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Workspace     Workspace     `toml:"workspace"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("mediadump.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the scratch, archive, and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.ScratchDir, c.Paths.ArchiveDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// FFmpegBinary returns the configured encoder command.
func (c *Config) FFmpegBinary() string {
	if bin := strings.TrimSpace(c.Transcode.FFmpegBinary); bin != "" {
		return bin
	}
	return defaultFFmpegBinary
}

// FetchTimeout returns the per-attempt download timeout.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// FetchBackoff returns the base and maximum retry delays.
func (c *Config) FetchBackoff() (time.Duration, time.Duration) {
	return time.Duration(c.Fetch.BackoffBaseMS) * time.Millisecond,
		time.Duration(c.Fetch.BackoffMaxMS) * time.Millisecond
}

// TranscodeTimeout returns the encoder execution timeout.
func (c *Config) TranscodeTimeout() time.Duration {
	return time.Duration(c.Transcode.TimeoutSeconds) * time.Second
}

// StaleAfter returns the age after which scratch entries are swept.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Workspace.StaleAfterMinutes) * time.Minute
}

// SweepInterval returns how often the daemon sweeps the scratch root.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Workspace.SweepIntervalMinutes) * time.Minute
}

// NotificationTimeout returns the per-request ntfy timeout.
func (c *Config) NotificationTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful HTTP shutdown budget.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
