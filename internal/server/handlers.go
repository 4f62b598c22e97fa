package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gpte-dev/gpte/internal/jobs"
)

// maxBodyBytes bounds request bodies; prompts are the largest payload.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// readBody decodes a required JSON object body into v, writing the error
// response itself when it cannot.
func readBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErr(w, http.StatusRequestEntityTooLarge, "Body is too large")
			return false
		}

		writeErr(w, http.StatusBadRequest, "Invalid JSON payload")

		return false
	}

	if len(body) == 0 {
		writeErr(w, http.StatusBadRequest, "Body is required")
		return false
	}

	if err := json.Unmarshal(body, v); err != nil {
		writeErr(w, http.StatusBadRequest, "Invalid JSON payload")
		return false
	}

	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleDefaultProject(w http.ResponseWriter, _ *http.Request) {
	root, err := s.projectsRoot()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"project_path": root})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var cfg jobs.Config
	if !readBody(w, r, &cfg) {
		return
	}

	id, err := s.runner.Submit(r.Context(), cfg)
	if err != nil {
		var invalid *jobs.ValidationError

		switch {
		case errors.As(err, &invalid):
			writeErr(w, http.StatusBadRequest, invalid.Message)
		case errors.Is(err, jobs.ErrBusy):
			writeErr(w, http.StatusConflict, "A job is already running")
		case errors.Is(err, jobs.ErrClosed):
			writeErr(w, http.StatusServiceUnavailable, "Backend is shutting down")
		default:
			s.logger.Error("job submission failed", slog.String("event.type", "job.submit.error"), slog.String("error", err.Error()))
			writeErr(w, http.StatusInternalServerError, fmt.Sprintf("Failed to start job: %v", err))
		}

		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id})
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.runner.Registry().List()})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	snap, err := s.runner.Registry().Get(r.PathValue("id"))
	if err != nil {
		writeErr(w, http.StatusNotFound, "Job not found")
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

type inputRequest struct {
	Input json.RawMessage `json:"input"`
}

// text returns the answer. A missing field is an empty answer; null is rejected.
func (in inputRequest) text() (string, bool) {
	if in.Input == nil {
		return "", true
	}

	var s string
	if err := json.Unmarshal(in.Input, &s); err == nil {
		return s, true
	}

	if string(in.Input) == "null" {
		return "", false
	}

	// Numbers and booleans are forwarded as written.
	return string(in.Input), true
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if !readBody(w, r, &req) {
		return
	}

	text, ok := req.text()
	if !ok {
		writeErr(w, http.StatusBadRequest, "input is required")
		return
	}

	err := s.runner.SendInput(r.PathValue("id"), text)

	var delivery *jobs.DeliveryError

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case errors.Is(err, jobs.ErrNotFound):
		writeErr(w, http.StatusNotFound, "Job not found")
	case errors.Is(err, jobs.ErrNotAcceptingInput):
		writeErr(w, http.StatusBadRequest, "Job is not accepting input")
	case errors.As(err, &delivery):
		writeErr(w, http.StatusInternalServerError, delivery.Error())
	default:
		writeErr(w, http.StatusInternalServerError, fmt.Sprintf("Failed to send input: %v", err))
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	err := s.runner.Cancel(r.PathValue("id"))

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	case errors.Is(err, jobs.ErrNotFound):
		writeErr(w, http.StatusNotFound, "Job not found")
	case errors.Is(err, jobs.ErrTerminal), errors.Is(err, jobs.ErrInvalidTransition):
		writeErr(w, http.StatusConflict, "Job is not running")
	default:
		writeErr(w, http.StatusInternalServerError, fmt.Sprintf("Failed to cancel job: %v", err))
	}
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeErr(w, http.StatusNotFound, "Not found")
}
