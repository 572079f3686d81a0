package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/vrpn-core/internal/journal"
	"github.com/nerrad567/vrpn-core/internal/process"
)

// healthCheckTimeout bounds each component check in /health.
const healthCheckTimeout = 2 * time.Second

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Server     process.State     `json:"server"`
	Components map[string]string `json:"components,omitempty"`
}

// handleHealth reports "ok" when every component is healthy and
// "degraded" otherwise. The supervised server's state is informational:
// a stopped server does not make the supervisor unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.version,
		Server:  s.supervisor.Stats().State,
	}

	if len(s.health) > 0 {
		resp.Components = make(map[string]string, len(s.health))
		for name, checker := range s.health {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := checker.HealthCheck(ctx)
			cancel()
			if err != nil {
				resp.Components[name] = err.Error()
				resp.Status = "degraded"
				continue
			}
			resp.Components[name] = "ok"
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// handleGetServer returns the supervisor's current stats.
func (s *Server) handleGetServer(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.supervisor.Stats())
}

func (s *Server) handleStartServer(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, r, "start", s.supervisor.Start)
}

func (s *Server) handleStopServer(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, r, "stop", func(ctx context.Context) error {
		_, err := s.supervisor.Stop(ctx)
		return err
	})
}

func (s *Server) handleRestartServer(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, r, "restart", s.supervisor.Restart)
}

// runAction performs a lifecycle action and answers with the resulting
// stats. Lifecycle actions outlive the request: a client disconnecting
// mid-start must not kill the server it asked for. They are still bounded
// by the action timeout.
func (s *Server) runAction(w http.ResponseWriter, r *http.Request, action string, fn func(context.Context) error) {
	s.logger.Info("server action requested", "action", action, "request_id", requestID(r.Context()))

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.actionTimeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		switch {
		case errors.Is(err, process.ErrAlreadyRunning), errors.Is(err, process.ErrNotRunning):
			writeConflict(w, err.Error())
		default:
			s.logger.Error("server action failed", "action", action, "error", err)
			writeInternalError(w, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, s.supervisor.Stats())
}

// handleListRuns returns the run journal, most recent first.
//
// Query parameters: limit, offset, outcome.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeUnavailable(w, "run journal is disabled")
		return
	}

	q := r.URL.Query()
	filter := journal.Filter{
		ServerName: q.Get("server"),
		Outcome:    journal.Outcome(q.Get("outcome")),
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeBadRequest(w, "limit must be a non-negative integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeBadRequest(w, "offset must be a non-negative integer")
		return
	}

	result, err := s.runs.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing runs failed", "error", err)
		writeInternalError(w, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleGetRun returns a single run.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeUnavailable(w, "run journal is disabled")
		return
	}

	id := chi.URLParam(r, "id")
	run, err := s.runs.Get(r.Context(), id)
	if errors.Is(err, journal.ErrRunNotFound) {
		writeNotFound(w, "run not found: "+id)
		return
	}
	if err != nil {
		s.logger.Error("getting run failed", "run_id", id, "error", err)
		writeInternalError(w, "failed to get run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
