package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mediadump/internal/deps"
	"mediadump/internal/logging"
	"mediadump/internal/services"
)

const (
	defaultTimeout = 60 * time.Second
	defaultFormat  = "mp3"
	defaultQuality = 2
)

type commandRunner func(ctx context.Context, name string, args ...string) error

// Toolchain locates the external encoder. It is resolved once at startup and
// injected so tests can supply a fake or absent binary.
type Toolchain struct {
	EncoderPath string
	Available   bool
	Detail      string
}

// ToolchainFromStatus converts a dependency probe into a Toolchain.
func ToolchainFromStatus(status deps.Status) Toolchain {
	return Toolchain{
		EncoderPath: status.Command,
		Available:   status.Available && strings.TrimSpace(status.Command) != "",
		Detail:      status.Detail,
	}
}

// Kind enumerates conversion outcomes.
type Kind int

const (
	// KindConverted means the source was replaced by the converted file.
	KindConverted Kind = iota + 1
	// KindKeptOriginal means the encoder ran but failed; the source is untouched.
	KindKeptOriginal
	// KindUnavailable means no encoder is configured; the source is untouched.
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindConverted:
		return "converted"
	case KindKeptOriginal:
		return "kept_original"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Outcome reports which single file survives a conversion attempt. Err is set
// for KindKeptOriginal and matches services.ErrConversion.
type Outcome struct {
	Kind   Kind
	Path   string
	Reason string
	Err    error
}

// Transcoder converts voice clips with ffmpeg.
type Transcoder struct {
	toolchain Toolchain
	format    string
	codecArgs []string
	quality   int
	timeout   time.Duration
	run       commandRunner
	logger    *slog.Logger
}

// Option customizes the transcoder.
type Option func(*Transcoder)

// WithCommandRunner overrides how the encoder process is executed.
func WithCommandRunner(r commandRunner) Option {
	return func(t *Transcoder) {
		if r != nil {
			t.run = r
		}
	}
}

// WithTimeout bounds a single encoder invocation (defaults to 60s).
func WithTimeout(timeout time.Duration) Option {
	return func(t *Transcoder) {
		if timeout > 0 {
			t.timeout = timeout
		}
	}
}

// WithFormat sets the target extension and the codec arguments passed to ffmpeg.
func WithFormat(format string, codecArgs []string) Option {
	return func(t *Transcoder) {
		format = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
		if format == "" {
			return
		}
		t.format = format
		t.codecArgs = append([]string(nil), codecArgs...)
	}
}

// WithQuality sets the VBR quality passed as -q:a for lossy formats.
func WithQuality(quality int) Option {
	return func(t *Transcoder) {
		t.quality = quality
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transcoder) {
		t.logger = logger
	}
}

// New constructs a Transcoder for the given toolchain.
func New(toolchain Toolchain, opts ...Option) *Transcoder {
	t := &Transcoder{
		toolchain: toolchain,
		format:    defaultFormat,
		codecArgs: []string{"-c:a", "libmp3lame"},
		quality:   defaultQuality,
		timeout:   defaultTimeout,
		run:       defaultCommandRunner,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	t.logger = logging.NewComponentLogger(t.logger, "transcode")
	return t
}

// Toolchain returns the encoder configuration in use.
func (t *Transcoder) Toolchain() Toolchain {
	return t.toolchain
}

// TargetExt returns the converted file extension including the dot.
func (t *Transcoder) TargetExt() string {
	return "." + t.format
}

// ConvertVoice converts sourcePath to the target format. Exactly one of the
// source or the converted file exists afterwards. It never returns an error.
func (t *Transcoder) ConvertVoice(ctx context.Context, sourcePath string) (outcome Outcome) {
	if !t.toolchain.Available {
		return Outcome{Kind: KindUnavailable, Path: sourcePath, Reason: "encoder unavailable"}
	}

	ext := filepath.Ext(sourcePath)
	stem := strings.TrimSuffix(sourcePath, ext)
	target := stem + t.TargetExt()
	inPlace := strings.EqualFold(ext, t.TargetExt())
	output := target
	if inPlace {
		output = stem + ".transcode" + t.TargetExt()
	}

	defer func() {
		if r := recover(); r != nil {
			_ = os.Remove(output)
			outcome = t.keep(ctx, sourcePath, fmt.Errorf("encoder panic: %v", r))
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	if err := t.run(runCtx, t.toolchain.EncoderPath, t.buildArgs(sourcePath, output)...); err != nil {
		_ = os.Remove(output)
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return t.keep(ctx, sourcePath, fmt.Errorf("%w: encoder timed out after %s", services.ErrTimeout, t.timeout))
		}
		return t.keep(ctx, sourcePath, fmt.Errorf("%w: %w", services.ErrExternalTool, err))
	}

	info, err := os.Stat(output)
	if err != nil || info.Size() == 0 {
		_ = os.Remove(output)
		return t.keep(ctx, sourcePath, errors.New("encoder produced no output"))
	}

	if inPlace {
		if err := os.Rename(output, sourcePath); err != nil {
			_ = os.Remove(output)
			return t.keep(ctx, sourcePath, fmt.Errorf("replace source: %w", err))
		}
		return Outcome{Kind: KindConverted, Path: sourcePath}
	}
	if err := os.Remove(sourcePath); err != nil {
		_ = os.Remove(output)
		return t.keep(ctx, sourcePath, fmt.Errorf("remove source: %w", err))
	}
	return Outcome{Kind: KindConverted, Path: target}
}

func (t *Transcoder) keep(ctx context.Context, sourcePath string, cause error) Outcome {
	err := services.Wrap(services.ErrConversion, "transcode", "convert", filepath.Base(sourcePath), cause)
	logging.WarnWithContext(logging.WithContext(ctx, t.logger), "voice conversion failed; keeping original", "transcode_fallback",
		logging.String("source", filepath.Base(sourcePath)),
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, "check ffmpeg installation and codec support"),
		logging.String(logging.FieldImpact, "voice clip archived in its original format"),
	)
	return Outcome{Kind: KindKeptOriginal, Path: sourcePath, Reason: cause.Error(), Err: err}
}

func (t *Transcoder) buildArgs(input, output string) []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error", "-y", "-i", input, "-vn"}
	args = append(args, t.codecArgs...)
	if usesQualityScale(t.format) {
		args = append(args, "-q:a", strconv.Itoa(t.quality))
	}
	return append(args, output)
}

func usesQualityScale(format string) bool {
	switch format {
	case "mp3", "ogg", "m4a":
		return true
	default:
		return false
	}
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	var stderr strings.Builder
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 512 {
			detail = detail[len(detail)-512:]
		}
		return fmt.Errorf("%s: %w: %s", filepath.Base(name), err, detail)
	}
	return nil
}
