package daemonctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mediadump/internal/config"
	"mediadump/internal/manifest"
	"mediadump/internal/server"
)

// Client talks to a running mediadump daemon over HTTP.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithToken sends "Authorization: Bearer <token>" on export requests.
func WithToken(token string) Option {
	return func(cl *Client) {
		cl.token = strings.TrimSpace(token)
	}
}

// New constructs a client for the daemon at bind ("host:port" or a full URL).
func New(bind string, opts ...Option) *Client {
	base := strings.TrimRight(strings.TrimSpace(bind), "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	c := &Client{
		baseURL: base,
		http:    &http.Client{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// NewFromConfig targets the configured bind address with the configured token.
func NewFromConfig(cfg *config.Config) *Client {
	return New(cfg.Server.Bind, WithToken(cfg.Server.Token))
}

// BaseURL returns the daemon URL the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIError is a non-2xx daemon response.
type APIError struct {
	Status   int
	Response server.ErrorResponse
}

func (e *APIError) Error() string {
	r := e.Response
	if r.JobID != "" {
		return fmt.Sprintf("daemon returned %d (%s, job %s): %s", e.Status, r.Code, r.JobID, r.Error)
	}
	return fmt.Sprintf("daemon returned %d (%s): %s", e.Status, r.Code, r.Error)
}

// Health fetches GET /health. A short timeout applies when ctx has no deadline.
func (c *Client) Health(ctx context.Context) (server.Health, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return server.Health{}, fmt.Errorf("build health request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return server.Health{}, fmt.Errorf("daemon unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return server.Health{}, decodeAPIError(resp)
	}
	var health server.Health
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return server.Health{}, fmt.Errorf("decode health response: %w", err)
	}
	return health, nil
}

// Export posts m to /dump and copies the archive into w. It returns the job
// id reported by the daemon and the number of archive bytes written.
func (c *Client) Export(ctx context.Context, m manifest.Manifest, w io.Writer) (string, int64, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return "", 0, fmt.Errorf("encode manifest: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/dump", bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("build export request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("daemon unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, decodeAPIError(resp)
	}
	jobID := resp.Header.Get("X-Job-ID")
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return jobID, n, fmt.Errorf("receive archive: %w", err)
	}
	return jobID, n, nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &apiErr.Response); err != nil || apiErr.Response.Code == "" {
		apiErr.Response.Code = "unknown"
		apiErr.Response.Error = strings.TrimSpace(string(data))
		if apiErr.Response.Error == "" {
			apiErr.Response.Error = http.StatusText(resp.StatusCode)
		}
	}
	return apiErr
}

// IsUnreachable reports whether err means no daemon answered.
func IsUnreachable(err error) bool {
	var apiErr *APIError
	return err != nil && !errors.As(err, &apiErr)
}
