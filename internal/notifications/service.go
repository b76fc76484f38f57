package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mediadump/internal/config"
)

const userAgent = "mediadump/notify"

// Event identifies a notification type.
type Event string

const (
	EventJobCompleted Event = "job_completed"
	EventJobFailed    Event = "job_failed"
	EventTest         Event = "test"
)

// Payload carries event fields. Keys are event specific.
type Payload map[string]any

// Service publishes job events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := cfg.NotificationTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:        topic,
		client:          &http.Client{Timeout: timeout},
		notifyOnSuccess: cfg.Notifications.NotifyOnSuccess,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint        string
	client          *http.Client
	notifyOnSuccess bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := n.format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) format(event Event, payload Payload) (message, bool) {
	jobID := payload.text("jobID")
	switch event {
	case EventJobCompleted:
		if !n.notifyOnSuccess {
			return message{}, false
		}
		archived, total, failed := payload.count("archived"), payload.count("total"), payload.count("failed")
		body := fmt.Sprintf("📦 Export %s: %d of %d items archived in %s", shortID(jobID), archived, total, payload.elapsed("duration"))
		tags := []string{"mediadump", "export", "completed"}
		if failed > 0 {
			body = fmt.Sprintf("%s\n%d item(s) could not be fetched", body, failed)
			tags = append(tags, "partial")
		}
		return message{title: "mediadump - Export Complete", body: body, tags: tags}, true
	case EventJobFailed:
		detail := payload.text("error")
		if detail == "" {
			detail = "unknown"
		}
		body := fmt.Sprintf("❌ Export %s failed", shortID(jobID))
		if code := payload.text("code"); code != "" {
			body += " (" + code + ")"
		}
		return message{
			title:    "mediadump - Export Failed",
			body:     body + ": " + detail,
			tags:     []string{"mediadump", "export", "failed"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "mediadump - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"mediadump", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (p Payload) text(key string) string {
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	case error:
		return strings.TrimSpace(v.Error())
	default:
		return ""
	}
}

func (p Payload) count(key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

func (p Payload) elapsed(key string) time.Duration {
	d, _ := p[key].(time.Duration)
	d = d.Round(time.Second)
	if d < 0 {
		return 0
	}
	return d
}

func shortID(jobID string) string {
	if len(jobID) > 8 {
		return jobID[:8]
	}
	if jobID == "" {
		return "job"
	}
	return jobID
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
