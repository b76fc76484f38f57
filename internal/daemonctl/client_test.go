package daemonctl

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mediadump/internal/manifest"
	"mediadump/internal/pipeline"
	"mediadump/internal/server"
	"mediadump/internal/services"
	"mediadump/internal/transcode"
)

type runnerFunc func(ctx context.Context, m manifest.Manifest) (*pipeline.Result, error)

func (f runnerFunc) Run(ctx context.Context, m manifest.Manifest) (*pipeline.Result, error) {
	return f(ctx, m)
}

func daemonServer(t *testing.T, opts ...server.Option) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	runner := runnerFunc(func(ctx context.Context, _ manifest.Manifest) (*pipeline.Result, error) {
		jobID, _ := services.JobIDFromContext(ctx)
		path := filepath.Join(dir, jobID+".zip")
		if err := os.WriteFile(path, []byte("PK-archive"), 0o644); err != nil {
			return nil, err
		}
		return &pipeline.Result{JobID: jobID, ArchivePath: path}, nil
	})
	srv := httptest.NewServer(server.New(runner, opts...).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestHealth(t *testing.T) {
	srv := daemonServer(t, server.WithVersion("9.9.9"), server.WithToolchain(transcode.Toolchain{Detail: `binary "ffmpeg" not found`}))
	health, err := New(strings.TrimPrefix(srv.URL, "http://")).Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Version != "9.9.9" || health.Transcoder.Available {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestHealthUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url).Health(context.Background())
	if err == nil || !IsUnreachable(err) {
		t.Fatalf("expected unreachable error, got %v", err)
	}
}

func TestExportStreamsArchive(t *testing.T) {
	srv := daemonServer(t, server.WithToken("tok"))
	m := manifest.Manifest{Videos: []manifest.MediaReference{{URL: "http://media.test/v", Timestamp: 1}}}

	var buf bytes.Buffer
	jobID, n, err := New(srv.URL, WithToken("tok")).Export(context.Background(), m, &buf)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if jobID == "" || n != int64(buf.Len()) || buf.String() != "PK-archive" {
		t.Fatalf("unexpected export: job=%q n=%d body=%q", jobID, n, buf.String())
	}
}

func TestExportDecodesAPIErrors(t *testing.T) {
	srv := daemonServer(t, server.WithToken("tok"))
	client := New(srv.URL, WithToken("tok"))

	_, _, err := client.Export(context.Background(), manifest.Manifest{}, io.Discard)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Response.Code != "empty_manifest" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
	if IsUnreachable(err) {
		t.Fatal("api errors are not unreachable errors")
	}

	_, _, err = New(srv.URL).Export(context.Background(), manifest.Manifest{
		Videos: []manifest.MediaReference{{URL: "http://media.test/v", Timestamp: 1}},
	}, io.Discard)
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %v", err)
	}
}

func TestNewNormalizesBaseURL(t *testing.T) {
	cases := map[string]string{
		"127.0.0.1:8765":         "http://127.0.0.1:8765",
		"http://localhost:9000/": "http://localhost:9000",
		" https://dump.example ": "https://dump.example",
	}
	for in, want := range cases {
		if got := New(in).BaseURL(); got != want {
			t.Fatalf("New(%q).BaseURL() = %q, want %q", in, got, want)
		}
	}
}
