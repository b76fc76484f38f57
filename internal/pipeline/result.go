package pipeline

import (
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"

	"mediadump/internal/manifest"
	"mediadump/internal/transcode"
)

// State is a job lifecycle step.
type State string

const (
	StatePending   State = "pending"
	StateFetching  State = "fetching"
	StateArchiving State = "archiving"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

// ItemReport records what happened to one manifest reference.
type ItemReport struct {
	Kind       manifest.Kind
	Index      int
	Timestamp  int64
	URL        string
	Fetched    bool
	Attempts   int
	Bytes      int64
	Reason     string
	Code       string
	Conversion transcode.Kind
	Entry      string
}

// Stats aggregates item outcomes for logging and CLI summaries.
type Stats struct {
	Voices       int
	Videos       int
	Fetched      int
	Failed       int
	Converted    int
	KeptOriginal int
	Unavailable  int
	ArchiveBytes int64
	Duration     time.Duration
}

// Result is a finished job. The caller owns ArchivePath and must call Cleanup
// once the archive has been delivered.
type Result struct {
	JobID       string
	ArchivePath string
	Entries     []string
	Items       []ItemReport
	Stats       Stats

	cleanupOnce sync.Once
	cleanupErr  error
}

// Cleanup removes the archive. It is safe to call more than once.
func (r *Result) Cleanup() error {
	if r == nil {
		return nil
	}
	r.cleanupOnce.Do(func() {
		if r.ArchivePath == "" {
			return
		}
		if err := os.Remove(r.ArchivePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			r.cleanupErr = err
		}
	})
	return r.cleanupErr
}

func summarize(items []ItemReport) Stats {
	var stats Stats
	for _, item := range items {
		switch item.Kind {
		case manifest.KindVoice:
			stats.Voices++
		case manifest.KindVideo:
			stats.Videos++
		}
		if !item.Fetched {
			stats.Failed++
			continue
		}
		stats.Fetched++
		switch item.Conversion {
		case transcode.KindConverted:
			stats.Converted++
		case transcode.KindKeptOriginal:
			stats.KeptOriginal++
		case transcode.KindUnavailable:
			stats.Unavailable++
		}
	}
	return stats
}
