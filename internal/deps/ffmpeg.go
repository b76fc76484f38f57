package deps

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const versionProbeTimeout = 5 * time.Second

// FFmpegRequirement describes the voice transcoder binary.
func FFmpegRequirement(command string) Requirement {
	return Requirement{
		Name:        "FFmpeg",
		Command:     command,
		Description: "Converts voice messages to the configured audio format",
		Optional:    true,
	}
}

// ResolveFFmpeg reports the ffmpeg binary the transcoder will execute.
//
// The configured command is resolved through PATH first. When that fails and
// the command is the bare default, an ffmpeg sitting next to the running
// mediadump executable is accepted, matching bundled release layouts. A
// missing encoder is never fatal: exports fall back to original audio.
func ResolveFFmpeg(command string) Status {
	status := checkBinary(FFmpegRequirement(command))
	if status.Available {
		return status
	}
	if strings.TrimSpace(command) != "ffmpeg" {
		return status
	}
	self, err := os.Executable()
	if err != nil {
		return status
	}
	if candidate, ok := sidecarCandidate(self, "ffmpeg"); ok {
		if info, statErr := os.Stat(candidate); statErr == nil && isExecutable(info) {
			status.Command = candidate
			status.Available = true
			status.Detail = ""
		}
	}
	return status
}

// ProbeVersion runs "<command> -version" and returns the first output line.
// An empty string means the binary could not be executed.
func ProbeVersion(ctx context.Context, command string) string {
	if strings.TrimSpace(command) == "" {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, command, "-version").Output() //nolint:gosec
	if err != nil {
		return ""
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text())
	}
	return ""
}

func sidecarCandidate(executable, name string) (string, bool) {
	if executable == "" {
		return "", false
	}
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(filepath.Dir(executable), name), true
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
