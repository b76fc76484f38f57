package workspace

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"mediadump/internal/services"
)

// FreeBytes reports the space available to unprivileged users on the
// filesystem holding path.
func FreeBytes(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	return st.Bavail * uint64(st.Bsize), nil //nolint:gosec
}

// CheckFreeSpace fails with a workspace error when the scratch filesystem has
// less than minBytes available. A zero minimum disables the check.
func (m *Manager) CheckFreeSpace(minBytes uint64) error {
	if minBytes == 0 {
		return nil
	}
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return services.Wrap(services.ErrWorkspace, "workspace", "free space", "create scratch root", err)
	}
	free, err := FreeBytes(m.root)
	if err != nil {
		return services.Wrap(services.ErrWorkspace, "workspace", "free space", "", err)
	}
	if free < minBytes {
		return services.Wrap(services.ErrWorkspace, "workspace", "free space",
			fmt.Sprintf("%d bytes free on scratch filesystem; %d required", free, minBytes), nil)
	}
	return nil
}

// CheckAccess verifies path is a directory the process can read, write, and traverse.
func CheckAccess(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return fmt.Errorf("insufficient permissions: %w", err)
	}
	return nil
}
