package daemonrun

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mediadump/internal/manifest"
	"mediadump/internal/notifications"
	"mediadump/internal/pipeline"
	"mediadump/internal/services"
)

type recordingNotifier struct {
	mu       sync.Mutex
	events   []notifications.Event
	payloads []notifications.Payload
	err      error
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	n.payloads = append(n.payloads, payload)
	return n.err
}

type stubRunner struct {
	result *pipeline.Result
	err    error
}

func (s stubRunner) Run(context.Context, manifest.Manifest) (*pipeline.Result, error) {
	return s.result, s.err
}

func TestNotifyingRunnerPublishesCompletion(t *testing.T) {
	notifier := &recordingNotifier{}
	result := &pipeline.Result{
		JobID:   "job-ok",
		Entries: []string{"voices/1_0.mp3", "videos/2_0.mp4"},
		Stats:   pipeline.Stats{Voices: 2, Videos: 1, Failed: 1, Duration: 3 * time.Second},
	}
	runner := newNotifyingRunner(stubRunner{result: result}, notifier, nil)

	got, err := runner.Run(context.Background(), manifest.Manifest{})
	if err != nil || got != result {
		t.Fatalf("expected result passed through, got %v %v", got, err)
	}
	runner.Wait()

	if len(notifier.events) != 1 || notifier.events[0] != notifications.EventJobCompleted {
		t.Fatalf("unexpected events %v", notifier.events)
	}
	payload := notifier.payloads[0]
	if payload["jobID"] != "job-ok" || payload["archived"] != 2 || payload["total"] != 3 || payload["failed"] != 1 {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestNotifyingRunnerPublishesFailureAndKeepsError(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("ntfy down")}
	jobErr := services.Wrap(services.ErrArchive, "archive", "build", "write archive", errors.New("disk full"))
	runner := newNotifyingRunner(stubRunner{err: jobErr}, notifier, nil)

	ctx := services.WithJobID(context.Background(), "job-bad")
	if _, err := runner.Run(ctx, manifest.Manifest{}); !errors.Is(err, services.ErrArchive) {
		t.Fatalf("expected archive error passed through, got %v", err)
	}
	runner.Wait()

	if len(notifier.events) != 1 || notifier.events[0] != notifications.EventJobFailed {
		t.Fatalf("unexpected events %v", notifier.events)
	}
	payload := notifier.payloads[0]
	if payload["jobID"] != "job-bad" || payload["code"] != services.ErrorCode(jobErr) {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestNotifyingRunnerSkipsRejectedManifests(t *testing.T) {
	for _, jobErr := range []error{
		services.Wrap(services.ErrInvalidManifest, "manifest", "validate", "voice 0: url is empty", nil),
		services.Wrap(services.ErrEmptyManifest, "manifest", "validate", "manifest has no voices or videos", nil),
	} {
		notifier := &recordingNotifier{}
		runner := newNotifyingRunner(stubRunner{err: jobErr}, notifier, nil)

		if _, err := runner.Run(context.Background(), manifest.Manifest{}); !errors.Is(err, jobErr) {
			t.Fatalf("expected rejection passed through, got %v", err)
		}
		runner.Wait()

		if len(notifier.events) != 0 {
			t.Fatalf("expected no notification for %s, got %v", services.ErrorCode(jobErr), notifier.events)
		}
	}
}
