package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/barff/frankd/internal/injector"
	"github.com/barff/frankd/internal/scheduler"
	"github.com/barff/frankd/internal/timer"
)

// maxBodyBytes bounds request bodies; prompts are the largest payload.
const maxBodyBytes = 1 << 20

// StartRequest is the optional body of POST /api/v1/pollers/{name}/start
// and /trigger.
type StartRequest struct {
	Interval string `json:"interval,omitempty"`
}

// parseInterval reads an optional positive interval. Empty means zero.
func (req StartRequest) parseInterval() (time.Duration, error) {
	if req.Interval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(req.Interval)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid interval %q", req.Interval)
	}
	return d, nil
}

// InjectRequest is the body of POST /api/v1/inject.
type InjectRequest struct {
	Text       string `json:"text"`
	Target     string `json:"target,omitempty"`
	AutoSubmit *bool  `json:"auto_submit,omitempty"`
}

// InputRequest is the body of POST /api/v1/input.
type InputRequest struct {
	HasText bool `json:"has_text"`
}

// ActionResponse acknowledges a control request.
type ActionResponse struct {
	Status   string                  `json:"status"`
	Poller   string                  `json:"poller,omitempty"`
	Target   string                  `json:"target,omitempty"`
	Interval string                  `json:"interval,omitempty"`
	Detail   *scheduler.PollerStatus `json:"detail,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

// statusFor maps core errors onto HTTP status codes.
func statusFor(err error) int {
	var injErr *injector.InjectError
	switch {
	case errors.Is(err, scheduler.ErrUnknownPoller):
		return http.StatusNotFound
	case errors.Is(err, injector.ErrTargetNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, scheduler.ErrEmptyText), errors.Is(err, timer.ErrBadInterval):
		return http.StatusBadRequest
	case errors.As(err, &injErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes an optional JSON body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "healthy"}
	if s.version != "" {
		resp["version"] = s.version
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status(r.Context()))
}

func (s *Server) handlePoller(w http.ResponseWriter, r *http.Request) {
	st, err := s.ctrl.PollerStatus(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req StartRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	interval, err := req.parseInterval()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	applied, err := s.ctrl.Start(name, interval)
	if err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			// Bad cron expressions in config surface here.
			code = http.StatusBadRequest
		}
		writeError(w, code, err)
		return
	}

	resp := ActionResponse{Status: "started", Poller: name}
	if applied > 0 {
		resp.Interval = applied.String()
	}
	if st, err := s.ctrl.PollerStatus(r.Context(), name); err == nil {
		resp.Detail = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	err := s.ctrl.Stop(name)
	switch {
	case errors.Is(err, timer.ErrJoinTimeout):
		// The loop saw the stop and exits after its tick.
		writeJSON(w, http.StatusAccepted, ActionResponse{Status: "stop_requested", Poller: name})
		return
	case err != nil:
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{Status: "stopped", Poller: name})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req StartRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	interval, err := req.parseInterval()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	applied, err := s.ctrl.Trigger(name, interval)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	resp := ActionResponse{Status: "triggered", Poller: name}
	if applied > 0 {
		resp.Interval = applied.String()
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleInject(w http.ResponseWriter, r *http.Request) {
	var req InjectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	autoSubmit := req.AutoSubmit == nil || *req.AutoSubmit

	if err := s.ctrl.Inject(r.Context(), req.Text, req.Target, autoSubmit); err != nil {
		code := statusFor(err)
		if code >= http.StatusInternalServerError {
			s.logger.Warn("Inject request failed", slog.String("target", req.Target), slog.Any("error", err))
		}
		writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{Status: "injected", Target: req.Target})
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	var req InputRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.ctrl.ReportInput(req.HasText)
	writeJSON(w, http.StatusOK, ActionResponse{Status: "recorded"})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.State())
}
