package daemon

import (
	"context"
	"time"

	"mediadump/internal/logging"
)

// SweepReport summarizes one stale sweep.
type SweepReport struct {
	At      time.Time
	Removed int
	Errors  int
}

func (d *Daemon) runSweeper(ctx context.Context, interval time.Duration) {
	defer close(d.sweepDone)
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.SweepOnce(ctx)
		}
	}
}

// SweepOnce removes job directories and archives older than the configured
// stale age. Workspaces of running jobs are skipped.
func (d *Daemon) SweepOnce(ctx context.Context) SweepReport {
	result := d.workspaces.CleanStale(ctx, d.cfg.Paths.ArchiveDir, d.cfg.StaleAfter())
	report := SweepReport{At: time.Now(), Removed: len(result.Removed), Errors: len(result.Errors)}

	d.mu.Lock()
	d.lastSweep = report
	d.mu.Unlock()

	switch {
	case report.Errors > 0:
		logging.WarnWithContext(d.logger, "stale sweep finished with errors", "stale_sweep_failed",
			logging.Int("removed", report.Removed),
			logging.Int("errors", report.Errors),
			logging.String("first_error_path", result.Errors[0].Path),
			logging.Error(result.Errors[0].Error),
			logging.String(logging.FieldErrorHint, "check scratch_dir and archive_dir permissions"),
			logging.String(logging.FieldImpact, "disk space not reclaimed"),
		)
	case report.Removed > 0:
		d.logger.Info("stale sweep removed leftovers",
			logging.Int("removed", report.Removed),
			logging.String(logging.FieldEventType, "stale_sweep"),
		)
	default:
		d.logger.Debug("stale sweep found nothing to remove")
	}
	return report
}
