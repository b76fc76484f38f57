package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"

	"mediadump/internal/logging"
	"mediadump/internal/services"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	JobID string `json:"job_id,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message, code, jobID string) {
	s.writeJSON(w, status, ErrorResponse{Error: message, Code: code, JobID: jobID})
}

// writeJobError maps a pipeline error onto its status and stable code.
// Internal failures never echo error details to the client.
func (s *Server) writeJobError(w http.ResponseWriter, err error, jobID string) {
	status := services.HTTPStatus(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	w.Header().Del("Content-Disposition")
	s.writeError(w, status, message, services.ErrorCode(err), jobID)
}

// recoverMiddleware turns handler panics into 500 responses.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "handler panic", "handler_panic",
				logging.String("path", r.URL.Path),
				logging.String("panic", fmt.Sprint(rec)),
				logging.String("stack", string(debug.Stack())),
			)
			s.writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError), "internal", w.Header().Get("X-Job-ID"))
		}()
		next.ServeHTTP(w, r)
	})
}
