package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"mediadump/internal/logging"
	"mediadump/internal/manifest"
	"mediadump/internal/pipeline"
	"mediadump/internal/services"
)

const requestIDHeader = "X-Request-ID"

// Health is the GET /health payload.
type Health struct {
	Status        string           `json:"status"`
	Version       string           `json:"version"`
	Transcoder    TranscoderStatus `json:"transcoder"`
	ActiveJobs    int              `json:"active_jobs"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// TranscoderStatus describes the voice encoder the daemon resolved at startup.
type TranscoderStatus struct {
	Available bool   `json:"available"`
	Command   string `json:"command,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "method_not_allowed", "")
		return
	}
	s.writeJSON(w, http.StatusOK, Health{
		Status:  "ok",
		Version: s.version,
		Transcoder: TranscoderStatus{
			Available: s.toolchain.Available,
			Command:   s.toolchain.EncoderPath,
			Detail:    s.toolchain.Detail,
		},
		ActiveJobs:    s.ActiveJobs(),
		UptimeSeconds: int64(s.now().Sub(s.started) / time.Second),
	})
}

func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed", "method_not_allowed", "")
		return
	}

	requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
	if requestID == "" {
		requestID = s.newRequestID()
	}
	jobID := uuid.NewString()
	ctx := services.WithJobID(services.WithRequestID(r.Context(), requestID), jobID)
	logger := logging.WithContext(ctx, s.logger)
	w.Header().Set(requestIDHeader, requestID)
	w.Header().Set("X-Job-ID", jobID)

	m, err := manifest.Decode(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), "body_too_large", jobID)
			return
		}
		s.writeJobError(w, err, jobID)
		return
	}
	if m.Empty() {
		s.writeJobError(w, services.Wrap(services.ErrEmptyManifest, "server", "dump", "manifest has no voices or videos", nil), jobID)
		return
	}

	select {
	case s.jobs <- struct{}{}:
	case <-ctx.Done():
		logger.Info("client went away waiting for a job slot")
		return
	}
	s.active.Add(1)
	result, err := func() (*pipeline.Result, error) {
		defer func() {
			s.active.Add(-1)
			<-s.jobs
		}()
		return s.runner.Run(ctx, m)
	}()
	if err != nil {
		s.writeJobError(w, err, jobID)
		return
	}
	defer func() {
		if cleanupErr := result.Cleanup(); cleanupErr != nil {
			logging.WarnWithContext(logger, "archive cleanup failed", "archive_cleanup_failed",
				logging.String("path", result.ArchivePath),
				logging.Error(cleanupErr),
				logging.String(logging.FieldErrorHint, "check archive_dir permissions; the stale sweeper will retry"),
				logging.String(logging.FieldImpact, "archive remains on disk until the next sweep"),
			)
		}
	}()

	s.streamArchive(w, result, logger)
}

func (s *Server) streamArchive(w http.ResponseWriter, result *pipeline.Result, logger *slog.Logger) {
	f, err := os.Open(result.ArchivePath)
	if err != nil {
		s.writeJobError(w, services.Wrap(services.ErrArchive, "server", "stream", "open archive", err), result.JobID)
		return
	}
	defer f.Close()

	h := w.Header()
	h.Set("Content-Type", "application/zip")
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "media_dump_"+result.JobID+".zip"))
	h.Set("X-Job-ID", result.JobID)
	if info, statErr := f.Stat(); statErr == nil {
		h.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	}
	w.WriteHeader(http.StatusOK)

	written, err := io.Copy(w, f)
	if err != nil {
		logging.WarnWithContext(logger, "archive transmission interrupted", "archive_stream_failed",
			logging.Int64("bytes_written", written),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "client disconnected or the connection failed"),
			logging.String(logging.FieldImpact, "client received a truncated archive"),
		)
		return
	}
	logger.Info("archive delivered",
		logging.Int64("bytes", written),
		logging.Int("entries", len(result.Entries)),
		logging.String(logging.FieldEventType, "archive_delivered"),
	)
}

func newRequestID() string {
	return uuid.NewString()
}
