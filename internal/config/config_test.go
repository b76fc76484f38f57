package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"mediadump/internal/config"
	"mediadump/internal/services"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantScratch := filepath.Join(tempHome, ".local", "share", "mediadump", "workdir")
	if cfg.Paths.ScratchDir != wantScratch {
		t.Fatalf("unexpected scratch dir: got %q want %q", cfg.Paths.ScratchDir, wantScratch)
	}
	if cfg.Server.Bind != "127.0.0.1:8765" {
		t.Fatalf("unexpected bind: %q", cfg.Server.Bind)
	}
	if cfg.Fetch.Attempts != 3 {
		t.Fatalf("expected 3 fetch attempts, got %d", cfg.Fetch.Attempts)
	}
	if cfg.FetchTimeout() != 30*time.Second {
		t.Fatalf("unexpected fetch timeout: %s", cfg.FetchTimeout())
	}
	if cfg.TranscodeTimeout() != 60*time.Second {
		t.Fatalf("unexpected transcode timeout: %s", cfg.TranscodeTimeout())
	}
	if cfg.Transcode.Format != "mp3" {
		t.Fatalf("unexpected transcode format: %q", cfg.Transcode.Format)
	}
	if cfg.FFmpegBinary() != "ffmpeg" {
		t.Fatalf("unexpected ffmpeg binary: %q", cfg.FFmpegBinary())
	}
	if base, max := cfg.FetchBackoff(); base != 0 || max != 0 {
		t.Fatalf("expected immediate retries by default, got base=%s max=%s", base, max)
	}
}

func TestLoadCustomConfigOverrides(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	configPath := filepath.Join(t.TempDir(), "config.toml")
	content := `
[paths]
scratch_dir = "~/scratch"
archive_dir = "/tmp/mediadump-archives"

[server]
bind = "0.0.0.0:9000"
max_concurrent_jobs = 2

[fetch]
attempts = 5
backoff_base_ms = 100
backoff_max_ms = 400

[transcode]
format = ".M4A"

[logging]
format = "JSON"
level = "DEBUG"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: %q", resolved)
	}
	if cfg.Paths.ScratchDir != filepath.Join(tempHome, "scratch") {
		t.Fatalf("unexpected scratch dir: %q", cfg.Paths.ScratchDir)
	}
	if cfg.Server.Bind != "0.0.0.0:9000" || cfg.Server.MaxConcurrentJobs != 2 {
		t.Fatalf("unexpected server section: %+v", cfg.Server)
	}
	base, max := cfg.FetchBackoff()
	if base != 100*time.Millisecond || max != 400*time.Millisecond {
		t.Fatalf("unexpected backoff: base=%s max=%s", base, max)
	}
	if cfg.Transcode.Format != "m4a" {
		t.Fatalf("expected normalized format m4a, got %q", cfg.Transcode.Format)
	}
	if got := cfg.CodecArgs(); len(got) != 2 || got[1] != "aac" {
		t.Fatalf("unexpected codec args: %v", got)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging section: %+v", cfg.Logging)
	}
}

func TestEnvironmentFallbacks(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("MEDIADUMP_BIND", "127.0.0.1:9999")
	t.Setenv("MEDIADUMP_FFMPEG", "/opt/ffmpeg/bin/ffmpeg")
	t.Setenv("MEDIADUMP_TOKEN", " secret ")
	t.Setenv("MEDIADUMP_NTFY_TOPIC", "https://ntfy.example/dumps ")

	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Bind != "127.0.0.1:9999" {
		t.Fatalf("expected bind from env, got %q", cfg.Server.Bind)
	}
	if cfg.FFmpegBinary() != "/opt/ffmpeg/bin/ffmpeg" {
		t.Fatalf("expected ffmpeg from env, got %q", cfg.FFmpegBinary())
	}
	if cfg.Server.Token != "secret" {
		t.Fatalf("expected trimmed token from env, got %q", cfg.Server.Token)
	}
	if cfg.Notifications.NtfyTopic != "https://ntfy.example/dumps" {
		t.Fatalf("expected ntfy topic from env, got %q", cfg.Notifications.NtfyTopic)
	}
}

func TestValidateRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"attempts", func(c *config.Config) { c.Fetch.Attempts = 0 }, "fetch.attempts"},
		{"timeout", func(c *config.Config) { c.Fetch.TimeoutSeconds = -1 }, "fetch.timeout_seconds"},
		{"backoff order", func(c *config.Config) { c.Fetch.BackoffBaseMS = 500; c.Fetch.BackoffMaxMS = 100 }, "backoff_max_ms"},
		{"format", func(c *config.Config) { c.Transcode.Format = "aiff" }, "transcode.format"},
		{"quality", func(c *config.Config) { c.Transcode.Quality = 12 }, "transcode.quality"},
		{"concurrency", func(c *config.Config) { c.Pipeline.Concurrency = 0 }, "pipeline.concurrency"},
		{"jobs", func(c *config.Config) { c.Server.MaxConcurrentJobs = 0 }, "server.max_concurrent_jobs"},
		{"log level", func(c *config.Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"ntfy topic", func(c *config.Config) { c.Notifications.NtfyTopic = "dumps" }, "notifications.ntfy_topic"},
		{"ntfy timeout", func(c *config.Config) {
			c.Notifications.NtfyTopic = "https://ntfy.example/dumps"
			c.Notifications.RequestTimeoutSeconds = 0
		}, "notifications.request_timeout_seconds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
			if !errors.Is(err, services.ErrConfiguration) {
				t.Fatalf("expected configuration error marker, got %v", err)
			}
		})
	}
}

func TestSampleConfigParsesAndValidates(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		t.Fatalf("sample is not valid TOML: %v", err)
	}
	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("sample failed to load: %v", err)
	}
}

func TestEnsureDirectoriesCreatesPaths(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.ScratchDir = filepath.Join(base, "scratch")
	cfg.Paths.ArchiveDir = filepath.Join(base, "archives")
	cfg.Paths.LogDir = ""
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.ScratchDir, cfg.Paths.ArchiveDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q: %v", dir, err)
		}
	}
}

func TestEncodeRoundTripsEffectiveConfig(t *testing.T) {
	cfg := config.Default()
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(data), "max_references = 2000") {
		t.Fatalf("expected pipeline section in encoded config:\n%s", data)
	}
}
