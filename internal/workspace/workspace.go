package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"mediadump/internal/logging"
	"mediadump/internal/services"
)

const (
	// VoicesDir holds downloaded voice clips inside a job workspace.
	VoicesDir = "voices"
	// VideosDir holds downloaded video clips inside a job workspace.
	VideosDir = "videos"
)

// Workspace is the isolated directory tree owned by one job.
type Workspace struct {
	JobID    string
	Root     string
	VoiceDir string
	VideoDir string
}

// Manager allocates and releases per-job workspaces under a scratch root.
type Manager struct {
	root   string
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

// NewManager constructs a Manager rooted at scratchDir.
func NewManager(scratchDir string, logger *slog.Logger) *Manager {
	return &Manager{
		root:   strings.TrimSpace(scratchDir),
		logger: logging.NewComponentLogger(logger, "workspace"),
		active: make(map[string]struct{}),
	}
}

// ActiveJobs reports how many workspaces are currently allocated by this manager.
func (m *Manager) ActiveJobs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Allocate creates <root>/<jobID>/{voices,videos}. The job id must be a UUID
// and must not already have a workspace.
func (m *Manager) Allocate(jobID string) (Workspace, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return Workspace{}, services.Wrap(services.ErrWorkspace, "workspace", "allocate", fmt.Sprintf("invalid job id %q", jobID), err)
	}
	if m.root == "" {
		return Workspace{}, services.Wrap(services.ErrWorkspace, "workspace", "allocate", "scratch directory not configured", nil)
	}
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return Workspace{}, services.Wrap(services.ErrWorkspace, "workspace", "allocate", "create scratch root", err)
	}

	ws := Workspace{
		JobID:    jobID,
		Root:     filepath.Join(m.root, jobID),
		VoiceDir: filepath.Join(m.root, jobID, VoicesDir),
		VideoDir: filepath.Join(m.root, jobID, VideosDir),
	}
	if err := os.Mkdir(ws.Root, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return Workspace{}, services.Wrap(services.ErrWorkspace, "workspace", "allocate", "job id already in use", err)
		}
		return Workspace{}, services.Wrap(services.ErrWorkspace, "workspace", "allocate", "create job directory", err)
	}
	for _, dir := range []string{ws.VoiceDir, ws.VideoDir} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			_ = os.RemoveAll(ws.Root)
			return Workspace{}, services.Wrap(services.ErrWorkspace, "workspace", "allocate", "create media directory", err)
		}
	}

	m.mu.Lock()
	m.active[jobID] = struct{}{}
	m.mu.Unlock()
	return ws, nil
}

// Release removes the job's workspace. Releasing an absent workspace is a no-op.
func (m *Manager) Release(jobID string) error {
	m.mu.Lock()
	delete(m.active, jobID)
	m.mu.Unlock()

	if _, err := uuid.Parse(jobID); err != nil || m.root == "" {
		return nil
	}
	if err := os.RemoveAll(filepath.Join(m.root, jobID)); err != nil {
		return services.Wrap(services.ErrWorkspace, "workspace", "release", "remove job directory", err)
	}
	return nil
}

// With allocates a workspace, runs fn, and releases the workspace exactly once
// on every exit path. A panic in fn is re-raised after release. Release
// failures are logged and left to the stale sweeper; fn's result is returned
// unchanged.
func (m *Manager) With(ctx context.Context, jobID string, fn func(Workspace) error) error {
	ws, err := m.Allocate(jobID)
	if err != nil {
		return err
	}
	logger := logging.WithContext(services.WithJobID(ctx, jobID), m.logger)
	logger.Debug("workspace allocated", logging.String("path", ws.Root))

	defer func() {
		if releaseErr := m.Release(jobID); releaseErr != nil {
			logging.WarnWithContext(logger, "workspace release failed; directory remains", "workspace_release_failed",
				logging.String("path", ws.Root),
				logging.Error(releaseErr),
				logging.String(logging.FieldErrorHint, "check scratch_dir permissions; the stale sweeper will retry"),
				logging.String(logging.FieldImpact, "disk space not reclaimed until the next sweep"),
			)
		} else {
			logger.Debug("workspace released", logging.String("path", ws.Root))
		}
	}()

	return fn(ws)
}

func (m *Manager) isActive(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[name]
	return ok
}
