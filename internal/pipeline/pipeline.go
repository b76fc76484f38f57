package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mediadump/internal/archive"
	"mediadump/internal/config"
	"mediadump/internal/fetch"
	"mediadump/internal/logging"
	"mediadump/internal/manifest"
	"mediadump/internal/services"
	"mediadump/internal/transcode"
	"mediadump/internal/workspace"
)

const defaultConcurrency = 4

// Fetcher downloads one remote file.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, destination string) fetch.Result
}

// Converter converts one voice clip in place.
type Converter interface {
	ConvertVoice(ctx context.Context, sourcePath string) transcode.Outcome
}

// Pipeline runs export jobs: fetch every reference into an isolated
// workspace, convert voices, archive, and tear down.
type Pipeline struct {
	workspaces    *workspace.Manager
	fetcher       Fetcher
	converter     Converter
	archiveDir    string
	concurrency   int
	maxReferences int
	minFreeBytes  uint64
	newJobID      func() string
	logger        *slog.Logger
}

// Option customizes the pipeline.
type Option func(*Pipeline)

// WithArchiveDir sets where finished archives are written. Defaults to the
// system temp directory.
func WithArchiveDir(dir string) Option {
	return func(p *Pipeline) {
		p.archiveDir = dir
	}
}

// WithConcurrency bounds how many items are processed at once. 1 processes
// items sequentially.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithMaxReferences caps manifest size. Zero disables the limit.
func WithMaxReferences(n int) Option {
	return func(p *Pipeline) {
		p.maxReferences = n
	}
}

// WithMinFreeBytes refuses jobs when the scratch filesystem is nearly full.
func WithMinFreeBytes(n uint64) Option {
	return func(p *Pipeline) {
		p.minFreeBytes = n
	}
}

// WithJobIDGenerator overrides job id generation (useful for tests).
func WithJobIDGenerator(fn func() string) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.newJobID = fn
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// New constructs a Pipeline from its collaborators.
func New(workspaces *workspace.Manager, fetcher Fetcher, converter Converter, opts ...Option) *Pipeline {
	p := &Pipeline{
		workspaces:  workspaces,
		fetcher:     fetcher,
		converter:   converter,
		archiveDir:  os.TempDir(),
		concurrency: defaultConcurrency,
		newJobID:    uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.logger = logging.NewComponentLogger(p.logger, "pipeline")
	return p
}

// NewFromConfig wires a Pipeline with the configured fetcher, transcoder, and
// workspace manager. The toolchain is resolved once by the caller.
func NewFromConfig(cfg *config.Config, toolchain transcode.Toolchain, workspaces *workspace.Manager, logger *slog.Logger) *Pipeline {
	base, maxDelay := cfg.FetchBackoff()
	fetcher := fetch.New(
		fetch.WithAttemptTimeout(cfg.FetchTimeout()),
		fetch.WithRetryMaxAttempts(cfg.Fetch.Attempts),
		fetch.WithRetryBackoff(base, maxDelay),
		fetch.WithMaxBytes(cfg.Fetch.MaxFileBytes),
		fetch.WithUserAgent(cfg.Fetch.UserAgent),
		fetch.WithLogger(logger),
	)
	converter := transcode.New(toolchain,
		transcode.WithTimeout(cfg.TranscodeTimeout()),
		transcode.WithFormat(cfg.Transcode.Format, cfg.CodecArgs()),
		transcode.WithQuality(cfg.Transcode.Quality),
		transcode.WithLogger(logger),
	)
	if workspaces == nil {
		workspaces = workspace.NewManager(cfg.Paths.ScratchDir, logger)
	}
	return New(workspaces, fetcher, converter,
		WithArchiveDir(cfg.Paths.ArchiveDir),
		WithConcurrency(cfg.Pipeline.Concurrency),
		WithMaxReferences(cfg.Pipeline.MaxReferences),
		WithMinFreeBytes(cfg.Pipeline.MinFreeBytes),
		WithLogger(logger),
	)
}

// Workspaces exposes the workspace manager (for sweeping and health).
func (p *Pipeline) Workspaces() *workspace.Manager {
	return p.workspaces
}

// Run executes one export job. On success the caller owns the archive and
// must call Result.Cleanup after delivering it. On error no archive exists.
// The workspace is always removed before Run returns. A job id already
// carried by ctx is used instead of generating one.
func (p *Pipeline) Run(ctx context.Context, m manifest.Manifest) (*Result, error) {
	if m.Empty() {
		return nil, services.Wrap(services.ErrEmptyManifest, "pipeline", "run", "manifest has no voices or videos", nil)
	}
	if err := m.Validate(p.maxReferences); err != nil {
		return nil, err
	}

	jobID, ok := services.JobIDFromContext(ctx)
	if !ok {
		jobID = p.newJobID()
		ctx = services.WithJobID(ctx, jobID)
	}
	logger := logging.WithContext(ctx, p.logger)
	started := time.Now()
	p.logState(logger, StatePending, logging.Int("voices", len(m.Voices)), logging.Int("videos", len(m.Videos)))

	if err := p.workspaces.CheckFreeSpace(p.minFreeBytes); err != nil {
		p.logFailure(logger, err)
		return nil, err
	}

	result := &Result{
		JobID:       jobID,
		ArchivePath: filepath.Join(p.archiveDir, jobID+".zip"),
	}
	err := p.workspaces.With(ctx, jobID, func(ws workspace.Workspace) error {
		p.logState(logger, StateFetching)
		result.Items = p.processItems(services.WithStage(ctx, "fetch"), ws, m)
		if err := ctx.Err(); err != nil {
			return services.Wrap(services.ErrTransient, "pipeline", "run", "job cancelled", err)
		}

		p.logState(logger, StateArchiving)
		summary, err := archive.Build(services.WithStage(ctx, "archive"), ws.Root, result.ArchivePath)
		if err != nil {
			return err
		}
		result.Entries = summary.Entries
		result.Stats.ArchiveBytes = summary.Bytes
		return nil
	})
	if err != nil {
		_ = result.Cleanup()
		p.logFailure(logger, err)
		return nil, err
	}

	archiveBytes := result.Stats.ArchiveBytes
	result.Stats = summarize(result.Items)
	result.Stats.ArchiveBytes = archiveBytes
	result.Stats.Duration = time.Since(started)
	p.logState(logger, StateDone,
		logging.Int("fetched", result.Stats.Fetched),
		logging.Int("failed", result.Stats.Failed),
		logging.Int("converted", result.Stats.Converted),
		logging.Int("kept_original", result.Stats.KeptOriginal),
		logging.Int("entries", len(result.Entries)),
		logging.Int64("archive_bytes", archiveBytes),
		logging.Duration("duration", result.Stats.Duration.Round(time.Millisecond)),
	)
	return result, nil
}

type task struct {
	kind  manifest.Kind
	index int
	ref   manifest.MediaReference
}

// processItems fetches (and for voices, converts) every reference on a
// bounded pool. Item failures are recorded, never returned.
func (p *Pipeline) processItems(ctx context.Context, ws workspace.Workspace, m manifest.Manifest) []ItemReport {
	tasks := make([]task, 0, m.Total())
	for i, ref := range m.Voices {
		tasks = append(tasks, task{kind: manifest.KindVoice, index: i, ref: ref})
	}
	for i, ref := range m.Videos {
		tasks = append(tasks, task{kind: manifest.KindVideo, index: i, ref: ref})
	}

	reports := make([]ItemReport, len(tasks))
	sampler := logging.NewProgressSampler(10)
	logger := logging.WithContext(ctx, p.logger)
	var done atomic.Int64

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, tk := range tasks {
		g.Go(func() error {
			reports[i] = p.processItem(ctx, ws, tk)
			finished := int(done.Add(1))
			if sampler.ShouldLog(finished, len(tasks)) {
				logger.Info("export progress",
					logging.Int("done", finished),
					logging.Int("total", len(tasks)),
					logging.String(logging.FieldEventType, "job_progress"),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

func (p *Pipeline) processItem(ctx context.Context, ws workspace.Workspace, tk task) ItemReport {
	report := ItemReport{
		Kind:      tk.kind,
		Index:     tk.index,
		Timestamp: tk.ref.Timestamp,
		URL:       tk.ref.URL,
	}
	if err := ctx.Err(); err != nil {
		report.Reason = "job cancelled before fetch"
		return report
	}

	var dir, name string
	switch tk.kind {
	case manifest.KindVoice:
		dir, name = ws.VoiceDir, voiceFileName(tk.ref.URL, tk.ref.Timestamp, tk.index)
	default:
		dir, name = ws.VideoDir, videoFileName(tk.ref.Timestamp, tk.index)
	}

	fetched := p.fetcher.Fetch(ctx, tk.ref.URL, filepath.Join(dir, name))
	report.Attempts = fetched.Attempts
	if !fetched.Succeeded() {
		report.Reason = fetched.Reason()
		report.Code = services.ErrorCode(fetched.Err)
		logging.WarnWithContext(logging.WithContext(ctx, p.logger), "media fetch failed; item skipped", "item_fetch_failed",
			logging.String("kind", string(tk.kind)),
			logging.Int("index", tk.index),
			logging.Int("attempts", fetched.Attempts),
			logging.String("code", report.Code),
			logging.Error(fetched.Err),
			logging.String(logging.FieldErrorHint, "check that the media URL is reachable and not expired"),
			logging.String(logging.FieldImpact, "item missing from the archive"),
		)
		return report
	}
	report.Fetched = true
	report.Bytes = fetched.Bytes
	finalPath := fetched.Path

	if tk.kind == manifest.KindVoice {
		outcome := p.converter.ConvertVoice(services.WithStage(ctx, "transcode"), fetched.Path)
		report.Conversion = outcome.Kind
		switch outcome.Kind {
		case transcode.KindConverted:
			finalPath = outcome.Path
		case transcode.KindKeptOriginal:
			report.Reason = outcome.Reason
		case transcode.KindUnavailable:
		default:
			report.Reason = "unknown conversion outcome"
		}
	}

	if rel, err := filepath.Rel(ws.Root, finalPath); err == nil {
		report.Entry = filepath.ToSlash(rel)
	}
	return report
}

func (p *Pipeline) logState(logger *slog.Logger, state State, attrs ...logging.Attr) {
	attrs = append(attrs,
		logging.String("state", string(state)),
		logging.String(logging.FieldEventType, "job_"+string(state)),
	)
	logger.Info("export job "+string(state), logging.Args(attrs...)...)
}

func (p *Pipeline) logFailure(logger *slog.Logger, err error) {
	logging.ErrorWithContext(logger, "export job failed", "job_failed",
		logging.String("state", string(StateFailed)),
		logging.String("code", services.ErrorCode(err)),
		logging.Error(err),
	)
}
