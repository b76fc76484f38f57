package workspace

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"mediadump/internal/logging"
)

// CleanStaleResult contains the outcome of a stale entry sweep.
type CleanStaleResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// EntryInfo describes a job directory or archive left on disk.
type EntryInfo struct {
	Name    string
	Path    string
	ModTime time.Time
	Size    int64
}

// CleanStale sweeps job directories under the scratch root and archives under
// archiveDir whose newest modification is older than maxAge. Workspaces held
// by this manager are never removed.
func (m *Manager) CleanStale(ctx context.Context, archiveDir string, maxAge time.Duration) CleanStaleResult {
	return cleanStale(ctx, m.root, archiveDir, maxAge, m.isActive, m.logger)
}

// CleanStale sweeps a scratch root and archive directory without an owning
// manager, for one-shot CLI use.
func CleanStale(ctx context.Context, scratchDir, archiveDir string, maxAge time.Duration, logger *slog.Logger) CleanStaleResult {
	return cleanStale(ctx, scratchDir, archiveDir, maxAge, nil, logger)
}

func cleanStale(ctx context.Context, scratchDir, archiveDir string, maxAge time.Duration, active func(string) bool, logger *slog.Logger) CleanStaleResult {
	result := CleanStaleResult{}
	cutoff := time.Now().Add(-maxAge)

	for _, entry := range listEntries(scratchDir, isJobDir, &result) {
		if ctx.Err() != nil {
			return result
		}
		if active != nil && active(entry.Name) {
			continue
		}
		if entry.ModTime.Before(cutoff) {
			removeEntry(entry, "job directory", &result, logger)
		}
	}
	for _, entry := range listEntries(archiveDir, isArchiveFile, &result) {
		if ctx.Err() != nil {
			return result
		}
		if active != nil && active(archiveJobID(entry.Name)) {
			continue
		}
		if entry.ModTime.Before(cutoff) {
			removeEntry(entry, "archive", &result, logger)
		}
	}
	return result
}

// ListEntries returns job directories under scratchDir and archives under
// archiveDir with their sizes.
func ListEntries(scratchDir, archiveDir string) ([]EntryInfo, error) {
	var result CleanStaleResult
	entries := listEntries(scratchDir, isJobDir, &result)
	entries = append(entries, listEntries(archiveDir, isArchiveFile, &result)...)
	if len(result.Errors) > 0 {
		return entries, result.Errors[0].Error
	}
	return entries, nil
}

func listEntries(dir string, match func(fs.DirEntry) bool, result *CleanStaleResult) []EntryInfo {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			result.Errors = append(result.Errors, CleanupError{Path: dir, Error: err})
		}
		return nil
	}

	var out []EntryInfo
	for _, entry := range entries {
		if !match(entry) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		modTime, size, err := newestModTime(path)
		if err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
			continue
		}
		out = append(out, EntryInfo{Name: entry.Name(), Path: path, ModTime: modTime, Size: size})
	}
	return out
}

func removeEntry(entry EntryInfo, kind string, result *CleanStaleResult, logger *slog.Logger) {
	if err := os.RemoveAll(entry.Path); err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: entry.Path, Error: err})
		logging.WarnWithContext(logger, "failed to remove stale "+kind, "workspace_cleanup_failed",
			logging.String("path", entry.Path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check scratch_dir and archive_dir permissions"),
			logging.String(logging.FieldImpact, "disk space not reclaimed"),
		)
		return
	}
	result.Removed = append(result.Removed, entry.Path)
	if logger != nil {
		logger.Info("removed stale "+kind,
			logging.String("path", entry.Path),
			logging.Duration("age", time.Since(entry.ModTime).Round(time.Second)),
			logging.String(logging.FieldEventType, "workspace_cleanup"),
		)
	}
}

func isJobDir(entry fs.DirEntry) bool {
	if !entry.IsDir() {
		return false
	}
	_, err := uuid.Parse(entry.Name())
	return err == nil
}

func isArchiveFile(entry fs.DirEntry) bool {
	if entry.IsDir() {
		return false
	}
	name := entry.Name()
	return strings.HasSuffix(name, ".zip") || strings.HasSuffix(name, ".zip.part")
}

func archiveJobID(name string) string {
	name = strings.TrimSuffix(name, ".part")
	return strings.TrimSuffix(name, ".zip")
}

// newestModTime walks path and returns the latest modification time and the
// total size of regular files. Files land in subdirectories as a job runs, so
// the root's own mtime alone would undercount activity.
func newestModTime(path string) (time.Time, int64, error) {
	var (
		newest time.Time
		size   int64
	)
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		if info.Mode().IsRegular() {
			size += info.Size()
		}
		return nil
	})
	return newest, size, err
}
