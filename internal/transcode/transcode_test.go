package transcode_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"testing"
	"time"

	"mediadump/internal/deps"
	"mediadump/internal/services"
	"mediadump/internal/transcode"
)

var available = transcode.Toolchain{EncoderPath: "ffmpeg", Available: true}

func writeSource(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("ogg-data"), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// fakeEncoder writes content to the last argument, mimicking ffmpeg's output path.
func fakeEncoder(content string, calls *[][]string) func(context.Context, string, ...string) error {
	return func(_ context.Context, name string, args ...string) error {
		if calls != nil {
			*calls = append(*calls, append([]string{name}, args...))
		}
		return os.WriteFile(args[len(args)-1], []byte(content), 0o644)
	}
}

func TestConvertVoiceUnavailableLeavesSource(t *testing.T) {
	src := writeSource(t, "1000_0.ogg")
	called := false
	tr := transcode.New(transcode.Toolchain{}, transcode.WithCommandRunner(func(context.Context, string, ...string) error {
		called = true
		return nil
	}))

	out := tr.ConvertVoice(context.Background(), src)
	if out.Kind != transcode.KindUnavailable || out.Path != src {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if called {
		t.Fatal("runner must not be invoked without an encoder")
	}
	if !exists(src) {
		t.Fatal("expected source untouched")
	}
}

func TestConvertVoiceSuccessReplacesSource(t *testing.T) {
	src := writeSource(t, "1000_0.ogg")
	var calls [][]string
	tr := transcode.New(available, transcode.WithCommandRunner(fakeEncoder("mp3-data", &calls)))

	out := tr.ConvertVoice(context.Background(), src)
	want := filepath.Join(filepath.Dir(src), "1000_0.mp3")
	if out.Kind != transcode.KindConverted || out.Path != want || out.Err != nil {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if exists(src) {
		t.Fatal("expected source removed after conversion")
	}
	data, err := os.ReadFile(want)
	if err != nil || string(data) != "mp3-data" {
		t.Fatalf("unexpected converted data %q (err=%v)", data, err)
	}
	if len(calls) != 1 {
		t.Fatalf("expected one encoder call, got %d", len(calls))
	}
	args := calls[0]
	if args[0] != "ffmpeg" || !slices.Contains(args, "-y") || !slices.Contains(args, "libmp3lame") {
		t.Fatalf("unexpected encoder args: %v", args)
	}
	if idx := slices.Index(args, "-i"); idx < 0 || args[idx+1] != src {
		t.Fatalf("expected -i %s in %v", src, args)
	}
	if idx := slices.Index(args, "-q:a"); idx < 0 || args[idx+1] != "2" {
		t.Fatalf("expected default quality in %v", args)
	}
}

func TestConvertVoiceFailureKeepsOriginal(t *testing.T) {
	src := writeSource(t, "1000_0.ogg")
	partial := filepath.Join(filepath.Dir(src), "1000_0.mp3")
	tr := transcode.New(available, transcode.WithCommandRunner(func(_ context.Context, _ string, args ...string) error {
		_ = os.WriteFile(args[len(args)-1], []byte("half"), 0o644)
		return errors.New("exit status 1")
	}))

	out := tr.ConvertVoice(context.Background(), src)
	if out.Kind != transcode.KindKeptOriginal || out.Path != src {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.Reason == "" {
		t.Fatal("expected failure reason")
	}
	if !errors.Is(out.Err, services.ErrConversion) || !errors.Is(out.Err, services.ErrExternalTool) {
		t.Fatalf("expected conversion and external tool markers, got %v", out.Err)
	}
	if !exists(src) {
		t.Fatal("expected original preserved")
	}
	if exists(partial) {
		t.Fatal("expected partial output removed")
	}
}

func TestConvertVoiceEmptyOutputKeepsOriginal(t *testing.T) {
	src := writeSource(t, "5_1.ogg")
	tr := transcode.New(available, transcode.WithCommandRunner(fakeEncoder("", nil)))

	out := tr.ConvertVoice(context.Background(), src)
	if out.Kind != transcode.KindKeptOriginal {
		t.Fatalf("expected kept original for empty output, got %+v", out)
	}
	if exists(filepath.Join(filepath.Dir(src), "5_1.mp3")) {
		t.Fatal("expected empty output removed")
	}
}

func TestConvertVoiceTimeoutKeepsOriginal(t *testing.T) {
	src := writeSource(t, "7_0.ogg")
	tr := transcode.New(available,
		transcode.WithTimeout(20*time.Millisecond),
		transcode.WithCommandRunner(func(ctx context.Context, _ string, _ ...string) error {
			<-ctx.Done()
			return ctx.Err()
		}),
	)

	out := tr.ConvertVoice(context.Background(), src)
	if out.Kind != transcode.KindKeptOriginal || !exists(src) {
		t.Fatalf("unexpected outcome after timeout: %+v", out)
	}
	if !errors.Is(out.Err, services.ErrConversion) || !errors.Is(out.Err, services.ErrTimeout) {
		t.Fatalf("expected conversion timeout markers, got %v", out.Err)
	}
}

func TestConvertVoicePanicKeepsOriginal(t *testing.T) {
	src := writeSource(t, "8_0.ogg")
	tr := transcode.New(available, transcode.WithCommandRunner(func(context.Context, string, ...string) error {
		panic("boom")
	}))

	out := tr.ConvertVoice(context.Background(), src)
	if out.Kind != transcode.KindKeptOriginal || !exists(src) {
		t.Fatalf("unexpected outcome after panic: %+v", out)
	}
}

func TestConvertVoiceSameExtensionReplacesInPlace(t *testing.T) {
	src := writeSource(t, "9_0.mp3")
	var calls [][]string
	tr := transcode.New(available, transcode.WithCommandRunner(fakeEncoder("reencoded", &calls)))

	out := tr.ConvertVoice(context.Background(), src)
	if out.Kind != transcode.KindConverted || out.Path != src {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	data, _ := os.ReadFile(src)
	if string(data) != "reencoded" {
		t.Fatalf("expected source replaced, got %q", data)
	}
	if output := calls[0][len(calls[0])-1]; output == src {
		t.Fatal("encoder must not write over its own input")
	}
	entries, _ := os.ReadDir(filepath.Dir(src))
	if len(entries) != 1 {
		t.Fatalf("expected exactly one surviving file, got %d", len(entries))
	}
}

func TestConvertVoiceCustomFormat(t *testing.T) {
	src := writeSource(t, "1_0.ogg")
	var calls [][]string
	tr := transcode.New(available,
		transcode.WithFormat(".OPUS", []string{"-c:a", "libopus"}),
		transcode.WithCommandRunner(fakeEncoder("opus", &calls)),
	)
	if tr.TargetExt() != ".opus" {
		t.Fatalf("unexpected target ext %q", tr.TargetExt())
	}

	out := tr.ConvertVoice(context.Background(), src)
	if out.Kind != transcode.KindConverted || filepath.Ext(out.Path) != ".opus" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if slices.Contains(calls[0], "-q:a") {
		t.Fatalf("opus should not receive -q:a: %v", calls[0])
	}
}

func TestConvertVoiceRealRunnerWithStubBinary(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs not supported on windows")
	}
	stub := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\nfor last; do :; done\nprintf converted > \"$last\"\n"
	if err := os.WriteFile(stub, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	src := writeSource(t, "2_0.ogg")

	tr := transcode.New(transcode.ToolchainFromStatus(deps.Status{Command: stub, Available: true}))
	out := tr.ConvertVoice(context.Background(), src)
	if out.Kind != transcode.KindConverted {
		t.Fatalf("expected conversion via stub binary, got %+v", out)
	}
	if exists(src) {
		t.Fatal("expected source removed")
	}
}

func TestKindString(t *testing.T) {
	cases := map[transcode.Kind]string{
		transcode.KindConverted:    "converted",
		transcode.KindKeptOriginal: "kept_original",
		transcode.KindUnavailable:  "unavailable",
		transcode.Kind(0):          "unknown",
	}
	for kind, want := range cases {
		if kind.String() != want {
			t.Fatalf("Kind(%d).String() = %q, want %q", kind, kind.String(), want)
		}
	}
}
