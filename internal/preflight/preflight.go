package preflight

import (
	"context"

	"mediadump/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes every readiness check for the given config. A missing
// transcoder is reported as passed because exports fall back to original
// audio.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Scratch directory", cfg.Paths.ScratchDir),
		CheckDirectoryAccess("Archive directory", cfg.Paths.ArchiveDir),
	}
	if cfg.Pipeline.MinFreeBytes > 0 {
		results = append(results, CheckFreeSpace("Scratch free space", cfg.Paths.ScratchDir, cfg.Pipeline.MinFreeBytes))
	}
	results = append(results, CheckTranscoder(ctx, cfg.FFmpegBinary()))
	return results
}

// Failed returns the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
