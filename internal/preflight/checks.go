package preflight

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"mediadump/internal/config"
	"mediadump/internal/deps"
	"mediadump/internal/workspace"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if err := workspace.CheckAccess(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies the filesystem holding path has at least minBytes available.
func CheckFreeSpace(name, path string, minBytes uint64) Result {
	free, err := workspace.FreeBytes(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: statfs: %v)", path, err)}
	}
	detail := fmt.Sprintf("%s free", humanBytes(free))
	if free < minBytes {
		return Result{Name: name, Detail: fmt.Sprintf("%s; %s required", detail, humanBytes(minBytes))}
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckTranscoder resolves the ffmpeg binary and probes its version. An
// unavailable encoder passes with a degraded detail.
func CheckTranscoder(ctx context.Context, command string) Result {
	const name = "Transcoder"

	status := deps.ResolveFFmpeg(command)
	if !status.Available {
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s; voices kept in original format", status.Detail)}
	}
	version := deps.ProbeVersion(ctx, status.Command)
	if version == "" {
		return Result{Name: name, Passed: true, Detail: status.Command}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", status.Command, version)}
}

// CheckSystemDeps evaluates all external binaries for the given config. Both
// the daemon and the CLI deps command use this list.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	return []deps.Status{deps.ResolveFFmpeg(cfg.FFmpegBinary())}
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
