package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"mediadump/internal/config"
	"mediadump/internal/daemon"
	"mediadump/internal/deps"
	"mediadump/internal/logging"
	"mediadump/internal/notifications"
	"mediadump/internal/pipeline"
	"mediadump/internal/preflight"
	"mediadump/internal/server"
	"mediadump/internal/transcode"
	"mediadump/internal/workspace"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	Version     string
}

// Run starts the mediadump daemon and blocks until SIGINT/SIGTERM or ctx ends.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logPath := filepath.Join(cfg.Paths.LogDir, logging.LogFileName)
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logPath},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logging.CleanupOldLogs(logger, cfg.Paths.LogDir, cfg.Logging.RetentionDays, time.Now())
	pidPath := filepath.Join(cfg.Paths.LogDir, "mediadump.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	if failed := preflight.Failed(preflight.RunAll(signalCtx, cfg)); len(failed) > 0 {
		for _, check := range failed {
			logging.ErrorWithContext(logger, "preflight check failed", "preflight_failed",
				logging.String("check", check.Name),
				logging.String("detail", check.Detail),
				logging.String(logging.FieldErrorHint, "fix the path or permissions named in detail"),
			)
		}
		return fmt.Errorf("preflight: %d check(s) failed; first: %s: %s", len(failed), failed[0].Name, failed[0].Detail)
	}

	ffmpeg := deps.ResolveFFmpeg(cfg.FFmpegBinary())
	toolchain := transcode.ToolchainFromStatus(ffmpeg)
	logDependencySnapshot(signalCtx, logger, cfg, ffmpeg)

	workspaces := workspace.NewManager(cfg.Paths.ScratchDir, logger)
	jobs := newNotifyingRunner(pipeline.NewFromConfig(cfg, toolchain, workspaces, logger), notifications.NewService(cfg), logger)
	defer jobs.Wait()
	srv := server.NewFromConfig(cfg, jobs, toolchain, opts.Version, logger)

	d, err := daemon.New(cfg, workspaces, srv, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		return err
	}
	defer d.Stop()

	status := d.Status()
	logger.Info("mediadump daemon ready",
		logging.String("address", status.Address),
		logging.String("lock_file", status.LockFilePath),
		logging.Int("initial_sweep_removed", status.LastSweep.Removed),
		logging.String(logging.FieldEventType, "daemon_ready"),
	)

	<-signalCtx.Done()
	status = d.Status()
	logger.Info("mediadump daemon shutting down",
		logging.Int("active_jobs", status.ActiveJobs),
		logging.Time("last_sweep", status.LastSweep.At),
	)
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(ctx context.Context, logger *slog.Logger, cfg *config.Config, ffmpeg deps.Status) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("ffmpeg_available", ffmpeg.Available),
		logging.String("ffmpeg_binary", ffmpeg.Command),
		logging.String("target_format", cfg.Transcode.Format),
		logging.Int("item_concurrency", cfg.Pipeline.Concurrency),
		logging.Int("max_concurrent_jobs", cfg.Server.MaxConcurrentJobs),
	}
	if ffmpeg.Available {
		attrs = append(attrs, logging.String("ffmpeg_version", deps.ProbeVersion(ctx, ffmpeg.Command)))
	} else {
		logging.WarnWithContext(logger, "ffmpeg not found; voices will be archived in their original format", "transcoder_unavailable",
			logging.String("detail", ffmpeg.Detail),
			logging.String(logging.FieldErrorHint, "install ffmpeg or set transcode.ffmpeg_binary"),
			logging.String(logging.FieldImpact, "voice clips are not converted"),
		)
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
