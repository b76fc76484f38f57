package pipeline_test

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mediadump/internal/fetch"
	"mediadump/internal/logging"
	"mediadump/internal/manifest"
	"mediadump/internal/pipeline"
	"mediadump/internal/services"
	"mediadump/internal/transcode"
	"mediadump/internal/workspace"
)

const (
	voiceBytes = "OggS-voice-payload"
	videoBytes = "mp4-video-payload"
)

func mediaServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/voice.ogg", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, voiceBytes)
	})
	mux.HandleFunc("/voice.m4a", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, voiceBytes)
	})
	mux.HandleFunc("/video", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, videoBytes)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

type env struct {
	scratch  string
	archives string
	mgr      *workspace.Manager
}

func newEnv(t *testing.T) env {
	t.Helper()
	base := t.TempDir()
	e := env{
		scratch:  filepath.Join(base, "scratch"),
		archives: filepath.Join(base, "archives"),
	}
	e.mgr = workspace.NewManager(e.scratch, logging.NewNop())
	return e
}

func fakeFFmpeg() transcode.Option {
	return transcode.WithCommandRunner(func(_ context.Context, _ string, args ...string) error {
		return os.WriteFile(args[len(args)-1], []byte("mp3:"+voiceBytes), 0o644)
	})
}

func availableConverter() *transcode.Transcoder {
	return transcode.New(transcode.Toolchain{EncoderPath: "ffmpeg", Available: true}, fakeFFmpeg())
}

func (e env) pipeline(converter pipeline.Converter, opts ...pipeline.Option) *pipeline.Pipeline {
	opts = append([]pipeline.Option{pipeline.WithArchiveDir(e.archives)}, opts...)
	return pipeline.New(e.mgr, fetch.New(fetch.WithRetryMaxAttempts(2)), converter, opts...)
}

func archiveContents(t *testing.T, path string) map[string]string {
	t.Helper()
	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer zr.Close()
	out := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open entry: %v", err)
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		out[f.Name] = string(data)
	}
	return out
}

func assertNoWorkspaces(t *testing.T, scratch string) {
	t.Helper()
	entries, err := os.ReadDir(scratch)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("read scratch: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no workspaces left, found %d", len(entries))
	}
}

func TestRunConvertsVoiceAndArchivesVideo(t *testing.T) {
	server := mediaServer(t)
	e := newEnv(t)
	p := e.pipeline(availableConverter())

	m := manifest.Manifest{
		Voices: []manifest.MediaReference{{URL: server.URL + "/voice.ogg", Timestamp: 1000}},
		Videos: []manifest.MediaReference{{URL: server.URL + "/video", Timestamp: 2000}},
	}
	result, err := p.Run(context.Background(), m)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	contents := archiveContents(t, result.ArchivePath)
	if len(contents) != 2 {
		t.Fatalf("expected exactly 2 entries, got %v", contents)
	}
	if contents["voices/1000_0.mp3"] != "mp3:"+voiceBytes {
		t.Fatalf("unexpected converted voice entry: %q", contents["voices/1000_0.mp3"])
	}
	if contents["videos/2000_0.mp4"] != videoBytes {
		t.Fatalf("unexpected video entry: %q", contents["videos/2000_0.mp4"])
	}
	if result.Stats.Converted != 1 || result.Stats.Fetched != 2 || result.Stats.Failed != 0 {
		t.Fatalf("unexpected stats: %+v", result.Stats)
	}
	assertNoWorkspaces(t, e.scratch)

	if err := result.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(result.ArchivePath); !os.IsNotExist(err) {
		t.Fatalf("expected archive removed, err=%v", err)
	}
	if err := result.Cleanup(); err != nil {
		t.Fatalf("second Cleanup should be a no-op, got %v", err)
	}
}

func TestRunSkipsUnreachableVoice(t *testing.T) {
	server := mediaServer(t)
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	e := newEnv(t)
	p := e.pipeline(availableConverter())
	m := manifest.Manifest{
		Voices: []manifest.MediaReference{{URL: deadURL + "/voice.ogg", Timestamp: 1000}},
		Videos: []manifest.MediaReference{{URL: server.URL + "/video", Timestamp: 2000}},
	}
	result, err := p.Run(context.Background(), m)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer result.Cleanup()

	contents := archiveContents(t, result.ArchivePath)
	if len(contents) != 1 || contents["videos/2000_0.mp4"] != videoBytes {
		t.Fatalf("expected only the video entry, got %v", contents)
	}
	voice := result.Items[0]
	if voice.Kind != manifest.KindVoice || voice.Fetched || voice.Reason == "" || voice.Entry != "" {
		t.Fatalf("unexpected voice report: %+v", voice)
	}
	if voice.Code != "fetch_failure" {
		t.Fatalf("expected fetch_failure code, got %q", voice.Code)
	}
	if result.Stats.Failed != 1 {
		t.Fatalf("expected one failed item, got %+v", result.Stats)
	}
	assertNoWorkspaces(t, e.scratch)
}

func TestRunKeepsOriginalWhenTranscoderUnavailable(t *testing.T) {
	server := mediaServer(t)
	e := newEnv(t)
	p := e.pipeline(transcode.New(transcode.Toolchain{}))

	m := manifest.Manifest{Voices: []manifest.MediaReference{
		{URL: server.URL + "/voice.ogg", Timestamp: 1000},
		{URL: server.URL + "/voice.m4a", Timestamp: 1001},
	}}
	result, err := p.Run(context.Background(), m)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer result.Cleanup()

	contents := archiveContents(t, result.ArchivePath)
	if contents["voices/1000_0.ogg"] != voiceBytes || contents["voices/1001_1.m4a"] != voiceBytes {
		t.Fatalf("expected original voice bytes, got %v", contents)
	}
	if result.Stats.Unavailable != 2 {
		t.Fatalf("expected 2 unavailable conversions, got %+v", result.Stats)
	}
}

func TestRunKeepsOriginalWhenTranscoderFails(t *testing.T) {
	server := mediaServer(t)
	e := newEnv(t)
	failing := transcode.New(transcode.Toolchain{EncoderPath: "ffmpeg", Available: true},
		transcode.WithCommandRunner(func(context.Context, string, ...string) error {
			return errors.New("exit status 1")
		}))
	p := e.pipeline(failing)

	result, err := p.Run(context.Background(), manifest.Manifest{
		Voices: []manifest.MediaReference{{URL: server.URL + "/voice.ogg", Timestamp: 5}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer result.Cleanup()

	contents := archiveContents(t, result.ArchivePath)
	if len(contents) != 1 || contents["voices/5_0.ogg"] != voiceBytes {
		t.Fatalf("expected original entry only, got %v", contents)
	}
	if result.Items[0].Conversion != transcode.KindKeptOriginal {
		t.Fatalf("unexpected conversion kind: %v", result.Items[0].Conversion)
	}
}

func TestRunRejectsEmptyManifestBeforeFilesystemWork(t *testing.T) {
	e := newEnv(t)
	p := e.pipeline(availableConverter())

	result, err := p.Run(context.Background(), manifest.Manifest{})
	if !errors.Is(err, services.ErrEmptyManifest) {
		t.Fatalf("expected ErrEmptyManifest, got %v", err)
	}
	if result != nil {
		t.Fatal("expected no result")
	}
	for _, dir := range []string{e.scratch, e.archives} {
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Fatalf("expected %s not to be created, err=%v", dir, err)
		}
	}
}

func TestRunWorkspaceFailureIsFatal(t *testing.T) {
	server := mediaServer(t)
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	mgr := workspace.NewManager(filepath.Join(blocker, "scratch"), logging.NewNop())
	p := pipeline.New(mgr, fetch.New(), availableConverter(), pipeline.WithArchiveDir(t.TempDir()))

	_, err := p.Run(context.Background(), manifest.Manifest{
		Videos: []manifest.MediaReference{{URL: server.URL + "/video", Timestamp: 1}},
	})
	if !errors.Is(err, services.ErrWorkspace) {
		t.Fatalf("expected ErrWorkspace, got %v", err)
	}
	if services.HTTPStatus(err) != http.StatusInternalServerError {
		t.Fatalf("expected 500 mapping, got %d", services.HTTPStatus(err))
	}
}

func TestRunArchiveFailureLeavesNothingBehind(t *testing.T) {
	server := mediaServer(t)
	e := newEnv(t)
	blocker := filepath.Join(t.TempDir(), "archives-file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	p := pipeline.New(e.mgr, fetch.New(), availableConverter(), pipeline.WithArchiveDir(blocker))

	result, err := p.Run(context.Background(), manifest.Manifest{
		Voices: []manifest.MediaReference{{URL: server.URL + "/voice.ogg", Timestamp: 1}},
	})
	if !errors.Is(err, services.ErrArchive) {
		t.Fatalf("expected ErrArchive, got %v", err)
	}
	if result != nil {
		t.Fatal("expected no result on archive failure")
	}
	assertNoWorkspaces(t, e.scratch)
}

func TestRunCancelledJobReleasesWorkspace(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	blocking := fetcherFunc(func(ctx context.Context, _, _ string) fetch.Result {
		cancel()
		<-ctx.Done()
		return fetch.Result{Err: ctx.Err()}
	})
	p := pipeline.New(e.mgr, blocking, availableConverter(), pipeline.WithArchiveDir(e.archives))

	_, err := p.Run(ctx, manifest.Manifest{
		Videos: []manifest.MediaReference{{URL: "http://media.test/video", Timestamp: 1}},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	assertNoWorkspaces(t, e.scratch)
	if entries, _ := os.ReadDir(e.archives); len(entries) != 0 {
		t.Fatalf("expected no archives, found %d", len(entries))
	}
}

type fetcherFunc func(ctx context.Context, rawURL, destination string) fetch.Result

func (f fetcherFunc) Fetch(ctx context.Context, rawURL, destination string) fetch.Result {
	return f(ctx, rawURL, destination)
}

func TestRunBoundsConcurrency(t *testing.T) {
	e := newEnv(t)
	var (
		inFlight atomic.Int32
		peak     atomic.Int32
		mu       sync.Mutex
		seen     []string
	)
	fetcher := fetcherFunc(func(_ context.Context, rawURL, destination string) fetch.Result {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		seen = append(seen, filepath.Base(destination))
		mu.Unlock()
		if err := os.WriteFile(destination, []byte(rawURL), 0o644); err != nil {
			return fetch.Result{Err: err}
		}
		return fetch.Result{Path: destination, Attempts: 1}
	})
	p := pipeline.New(e.mgr, fetcher, transcode.New(transcode.Toolchain{}),
		pipeline.WithArchiveDir(e.archives), pipeline.WithConcurrency(2))

	var videos []manifest.MediaReference
	for i := 0; i < 8; i++ {
		videos = append(videos, manifest.MediaReference{URL: "http://media.test/v", Timestamp: int64(100 + i)})
	}
	result, err := p.Run(context.Background(), manifest.Manifest{Videos: videos})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer result.Cleanup()

	if got := peak.Load(); got > 2 {
		t.Fatalf("expected at most 2 concurrent fetches, saw %d", got)
	}
	if len(seen) != 8 || len(result.Entries) != 8 {
		t.Fatalf("expected 8 items processed, got seen=%d entries=%d", len(seen), len(result.Entries))
	}
	for i, item := range result.Items {
		if item.Index != i || item.Entry == "" {
			t.Fatalf("items out of manifest order: %+v", result.Items)
		}
	}
	if !slices.Contains(result.Entries, "videos/107_7.mp4") {
		t.Fatalf("missing expected entry in %v", result.Entries)
	}
}

func TestRunUsesGeneratedJobID(t *testing.T) {
	server := mediaServer(t)
	e := newEnv(t)
	const id = "6f1c1d2e-3b4a-4c5d-8e9f-0a1b2c3d4e5f"
	p := e.pipeline(availableConverter(), pipeline.WithJobIDGenerator(func() string { return id }))

	result, err := p.Run(context.Background(), manifest.Manifest{
		Videos: []manifest.MediaReference{{URL: server.URL + "/video", Timestamp: 1}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer result.Cleanup()
	if result.JobID != id || result.ArchivePath != filepath.Join(e.archives, id+".zip") {
		t.Fatalf("unexpected job identity: %s %s", result.JobID, result.ArchivePath)
	}
}

func TestRunPrefersJobIDFromContext(t *testing.T) {
	server := mediaServer(t)
	e := newEnv(t)
	const id = "0d8f5a3c-2b1e-4f6a-9c7d-5e4f3a2b1c0d"
	p := e.pipeline(availableConverter(), pipeline.WithJobIDGenerator(func() string {
		t.Fatal("generator should not be called when ctx carries a job id")
		return ""
	}))

	ctx := services.WithJobID(context.Background(), id)
	result, err := p.Run(ctx, manifest.Manifest{
		Videos: []manifest.MediaReference{{URL: server.URL + "/video", Timestamp: 1}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer result.Cleanup()
	if result.JobID != id {
		t.Fatalf("expected job id %s, got %s", id, result.JobID)
	}
}
