package daemonrun

import (
	"context"
	"log/slog"
	"sync"

	"mediadump/internal/logging"
	"mediadump/internal/manifest"
	"mediadump/internal/notifications"
	"mediadump/internal/pipeline"
	"mediadump/internal/server"
	"mediadump/internal/services"
)

// notifyingRunner publishes a notification for every finished job. Rejected
// requests (4xx) are the caller's problem and are not announced. Delivery runs
// in the background so a slow ntfy server never delays the archive.
type notifyingRunner struct {
	next     server.Runner
	notifier notifications.Service
	logger   *slog.Logger
	pending  sync.WaitGroup
}

func newNotifyingRunner(next server.Runner, notifier notifications.Service, logger *slog.Logger) *notifyingRunner {
	return &notifyingRunner{
		next:     next,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "notifications"),
	}
}

func (r *notifyingRunner) Run(ctx context.Context, m manifest.Manifest) (*pipeline.Result, error) {
	result, err := r.next.Run(ctx, m)
	if err != nil && services.HTTPStatus(err) < 500 {
		logging.WithContext(ctx, r.logger).Debug("job rejected; notification skipped",
			logging.String("code", services.ErrorCode(err)),
		)
		return result, err
	}

	event, payload := jobEvent(ctx, result, err)
	notifyCtx := context.WithoutCancel(ctx)
	r.pending.Go(func() {
		if pubErr := r.notifier.Publish(notifyCtx, event, payload); pubErr != nil {
			logging.WarnWithContext(logging.WithContext(notifyCtx, r.logger), "job notification failed", "notification_failed",
				logging.String("event", string(event)),
				logging.Error(pubErr),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access"),
				logging.String(logging.FieldImpact, "job outcome not announced"),
			)
		}
	})
	return result, err
}

// Wait blocks until queued notifications have been delivered or failed.
func (r *notifyingRunner) Wait() {
	r.pending.Wait()
}

func jobEvent(ctx context.Context, result *pipeline.Result, err error) (notifications.Event, notifications.Payload) {
	jobID, _ := services.JobIDFromContext(ctx)
	if err != nil {
		return notifications.EventJobFailed, notifications.Payload{
			"jobID": jobID,
			"code":  services.ErrorCode(err),
			"error": err,
		}
	}
	if result.JobID != "" {
		jobID = result.JobID
	}
	return notifications.EventJobCompleted, notifications.Payload{
		"jobID":    jobID,
		"archived": len(result.Entries),
		"total":    result.Stats.Voices + result.Stats.Videos,
		"failed":   result.Stats.Failed,
		"duration": result.Stats.Duration,
	}
}
