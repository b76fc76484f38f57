package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"mediadump/internal/config"
	"mediadump/internal/logging"
	"mediadump/internal/workspace"
)

// LockFileName is created inside the scratch directory while a daemon runs.
const LockFileName = ".mediadump.lock"

// HTTPServer is the job controller lifecycle the daemon drives.
type HTTPServer interface {
	Start() error
	Addr() string
	Shutdown(ctx context.Context) error
}

// Daemon coordinates the HTTP controller and the stale sweeper and enforces
// single-instance execution per scratch root.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	workspaces *workspace.Manager
	server     HTTPServer

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	cancel    context.CancelFunc
	sweepDone chan struct{}

	mu        sync.Mutex
	lastSweep SweepReport
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	Address      string
	LockFilePath string
	ActiveJobs   int
	LastSweep    SweepReport
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, workspaces *workspace.Manager, server HTTPServer, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || workspaces == nil || server == nil {
		return nil, errors.New("daemon requires config, workspace manager, and server")
	}

	lockPath := LockPath(cfg)
	return &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		workspaces: workspaces,
		server:     server,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}, nil
}

// LockPath returns the daemon lock file for the configured scratch root.
func LockPath(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.ScratchDir, LockFileName)
}

// Running reports whether another process currently holds the daemon lock.
func Running(cfg *config.Config) (bool, error) {
	path := LockPath(cfg)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	probe := flock.New(path)
	ok, err := probe.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe daemon lock: %w", err)
	}
	if !ok {
		return true, nil
	}
	_ = probe.Unlock()
	return false, nil
}

// Start acquires the daemon lock, runs an initial sweep, starts the periodic
// sweeper, and starts the HTTP server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("create scratch directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another mediadump daemon is already running on this scratch directory")
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	d.SweepOnce(sweepCtx)

	if err := d.server.Start(); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start server: %w", err)
	}

	d.cancel = cancel
	d.sweepDone = make(chan struct{})
	go d.runSweeper(sweepCtx, d.cfg.SweepInterval())

	d.running.Store(true)
	d.logger.Info("mediadump daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.server.Addr()),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop shuts the HTTP server down, waiting up to the configured shutdown
// timeout for in-flight jobs, stops the sweeper, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownTimeout())
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		logging.WarnWithContext(d.logger, "http server did not shut down cleanly", "server_shutdown_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "raise server.shutdown_timeout_seconds if jobs are routinely cut off"),
			logging.String(logging.FieldImpact, "in-flight exports were aborted"),
		)
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.sweepDone != nil {
		<-d.sweepDone
		d.sweepDone = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("mediadump daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	last := d.lastSweep
	d.mu.Unlock()
	return Status{
		Running:      d.running.Load(),
		Address:      d.server.Addr(),
		LockFilePath: d.lockPath,
		ActiveJobs:   d.workspaces.ActiveJobs(),
		LastSweep:    last,
	}
}
