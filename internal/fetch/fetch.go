package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mediadump/internal/logging"
	"mediadump/internal/services"
)

const (
	defaultAttemptTimeout = 30 * time.Second
	defaultAttempts       = 3
	defaultUserAgent      = "mediadump"
	partSuffix            = ".part"
)

// errTooLarge marks a body that exceeded the configured size limit.
var errTooLarge = errors.New("response exceeds size limit")

// Result is the outcome of one Fetch. Failures are values, never panics, and a
// failed Result guarantees that nothing exists at the destination path.
type Result struct {
	Path       string
	Bytes      int64
	Attempts   int
	StatusCode int
	Err        error
}

// Succeeded reports whether the resource was written to Path.
func (r Result) Succeeded() bool {
	return r.Err == nil && r.Path != ""
}

// Reason returns a human-readable failure description, or "" on success.
func (r Result) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Fetcher downloads remote media to local files with bounded retries.
type Fetcher struct {
	httpClient     *http.Client
	attemptTimeout time.Duration
	maxAttempts    int
	baseDelay      time.Duration
	maxDelay       time.Duration
	maxBytes       int64
	userAgent      string
	sleeper        func(time.Duration)
	logger         *slog.Logger
}

// Option customizes the fetcher.
type Option func(*Fetcher)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		if client != nil {
			f.httpClient = client
		}
	}
}

// WithAttemptTimeout bounds connection setup and the wait for response
// headers, and then any stall between body reads. A transfer that keeps
// delivering bytes may take longer. Defaults to 30s.
func WithAttemptTimeout(timeout time.Duration) Option {
	return func(f *Fetcher) {
		if timeout > 0 {
			f.attemptTimeout = timeout
		}
	}
}

// WithRetryMaxAttempts sets the total number of attempts (defaults to 3).
func WithRetryMaxAttempts(attempts int) Option {
	return func(f *Fetcher) {
		f.maxAttempts = attempts
	}
}

// WithRetryBackoff sets exponential backoff between attempts. A zero base
// retries immediately.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(f *Fetcher) {
		f.baseDelay = baseDelay
		f.maxDelay = maxDelay
	}
}

// WithMaxBytes caps the accepted body size. Zero disables the limit.
func WithMaxBytes(limit int64) Option {
	return func(f *Fetcher) {
		f.maxBytes = limit
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(agent string) Option {
	return func(f *Fetcher) {
		if agent = strings.TrimSpace(agent); agent != "" {
			f.userAgent = agent
		}
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(f *Fetcher) {
		f.sleeper = sleeper
	}
}

// WithLogger attaches a logger for per-attempt diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// New constructs a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		attemptTimeout: defaultAttemptTimeout,
		maxAttempts:    defaultAttempts,
		userAgent:      defaultUserAgent,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	if f.httpClient == nil {
		f.httpClient = newHTTPClient(f.attemptTimeout)
	}
	f.logger = logging.NewComponentLogger(f.logger, "fetch")
	return f
}

// Fetch retrieves rawURL into destination. Each attempt streams into
// destination+".part" which is renamed into place only after the whole body
// has been received.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, destination string) Result {
	attempts := f.attempts()
	logger := logging.WithContext(ctx, f.logger)
	var (
		lastErr    error
		lastStatus int
		made       int
	)

	for attempt := 1; attempt <= attempts; attempt++ {
		made = attempt
		written, status, err := f.fetchOnce(ctx, rawURL, destination)
		if err == nil {
			return Result{Path: destination, Bytes: written, Attempts: attempt, StatusCode: status}
		}
		lastErr, lastStatus = err, status

		if !f.retryable(ctx, err) || attempt == attempts {
			break
		}
		logger.Debug("fetch attempt failed; retrying",
			logging.String("url", rawURL),
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", attempts),
			logging.Error(err),
		)
		if err := f.sleep(ctx, f.backoffDelay(attempt)); err != nil {
			lastErr = err
			break
		}
	}

	return Result{
		Attempts:   made,
		StatusCode: lastStatus,
		Err:        services.Wrap(services.ErrFetch, "fetch", "download", rawURL, lastErr),
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL, destination string) (int64, int, error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stall := newStallTimer(f.attemptTimeout, cancel)
	defer stall.stop()

	written, status, err := f.download(attemptCtx, rawURL, destination, stall)
	if err != nil && (stall.Fired() || isNetTimeout(err)) {
		err = services.Wrap(services.ErrTimeout, "fetch", "download",
			fmt.Sprintf("no progress for %s", f.attemptTimeout), err)
	}
	return written, status, err
}

func (f *Fetcher) download(ctx context.Context, rawURL, destination string, stall *stallTimer) (int64, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, 0, &permanentError{err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("http error (timeout=%s): %w", f.attemptTimeout, err)
	}
	defer resp.Body.Close()
	stall.touch()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, resp.StatusCode, &statusError{StatusCode: resp.StatusCode}
	}
	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return 0, resp.StatusCode, &permanentError{err: fmt.Errorf("%w: content length %d > %d", errTooLarge, resp.ContentLength, f.maxBytes)}
	}

	written, err := writeAtomic(destination, &progressReader{r: resp.Body, stall: stall}, f.maxBytes)
	return written, resp.StatusCode, err
}

func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// writeAtomic streams body into destination+".part" and renames it into place.
// The partial file is removed on any failure.
func writeAtomic(destination string, body io.Reader, limit int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return 0, &permanentError{err: fmt.Errorf("create destination directory: %w", err)}
	}
	partPath := destination + partSuffix
	file, err := os.OpenFile(partPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, &permanentError{err: fmt.Errorf("create partial file: %w", err)}
	}

	reader := body
	if limit > 0 {
		reader = io.LimitReader(body, limit+1)
	}
	written, copyErr := io.Copy(file, reader)
	closeErr := file.Close()

	switch {
	case copyErr != nil:
		_ = os.Remove(partPath)
		return written, fmt.Errorf("read body: %w", copyErr)
	case limit > 0 && written > limit:
		_ = os.Remove(partPath)
		return written, &permanentError{err: fmt.Errorf("%w: more than %d bytes", errTooLarge, limit)}
	case closeErr != nil:
		_ = os.Remove(partPath)
		return written, &permanentError{err: fmt.Errorf("close partial file: %w", closeErr)}
	}

	if err := os.Rename(partPath, destination); err != nil {
		_ = os.Remove(partPath)
		return written, &permanentError{err: fmt.Errorf("finalize download: %w", err)}
	}
	return written, nil
}

func (f *Fetcher) attempts() int {
	if f == nil || f.maxAttempts <= 0 {
		return 1
	}
	return f.maxAttempts
}

func (f *Fetcher) retryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	var status *statusError
	if errors.As(err, &status) {
		return status.Retryable()
	}
	// Transport errors, per-attempt timeouts, and truncated bodies.
	return true
}

func (f *Fetcher) backoffDelay(attempt int) time.Duration {
	if f.baseDelay <= 0 {
		return 0
	}
	delay := f.baseDelay
	for i := 1; i < attempt; i++ {
		if f.maxDelay > 0 && delay > f.maxDelay/2 {
			delay = f.maxDelay
			break
		}
		delay *= 2
	}
	if f.maxDelay > 0 && delay > f.maxDelay {
		return f.maxDelay
	}
	return delay
}

func (f *Fetcher) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	if f.sleeper != nil {
		f.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
