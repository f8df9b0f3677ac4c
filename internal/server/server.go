// Package server is the local control API. The CLI talks to a running
// daemon through it, and Prometheus scrapes /metrics. It binds loopback by
// default and carries no authentication of its own.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/archiegate/guardian/internal/audit"
	"github.com/archiegate/guardian/internal/gate"
	"github.com/archiegate/guardian/internal/model"
	"github.com/archiegate/guardian/internal/orch"
	"github.com/archiegate/guardian/internal/widget"
)

// Server exposes daemon state and control over HTTP.
type Server struct {
	gate     *gate.Gate
	manager  *widget.Manager
	orch     *orch.Orchestrator
	auditLog *audit.Log
	registry *prometheus.Registry
	logger   *slog.Logger
}

// New wires the server. registry may be nil to disable /metrics.
func New(g *gate.Gate, m *widget.Manager, o *orch.Orchestrator, a *audit.Log, reg *prometheus.Registry, logger *slog.Logger) *Server {
	return &Server{gate: g, manager: m, orch: o, auditLog: a, registry: reg, logger: logger}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /logs", s.handleLogs)
	mux.HandleFunc("GET /escalations", s.handleEscalations)
	mux.HandleFunc("POST /escalations/{id}/approve", s.handleResolve(true))
	mux.HandleFunc("POST /escalations/{id}/deny", s.handleResolve(false))
	mux.HandleFunc("POST /permission", s.handlePermission)
	mux.HandleFunc("POST /widgets/{name}/enable", s.handleWidgetToggle(true))
	mux.HandleFunc("POST /widgets/{name}/disable", s.handleWidgetToggle(false))
	mux.HandleFunc("POST /widgets/{name}/action", s.handleWidgetAction)
	mux.HandleFunc("POST /feedback", s.handleFeedback)
	if s.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return mux
}

// Serve runs until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// StatusResponse is the /status payload.
type StatusResponse struct {
	PermissionLevel string                `json:"permission_level"`
	Widgets         []widget.WidgetStatus `json:"widgets"`
	Stats           orch.Stats            `json:"stats"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		PermissionLevel: string(s.gate.Level()),
		Widgets:         s.manager.Status(),
		Stats:           s.orch.Stats(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Stats())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Recent(queryInt(r, "n", 20)))
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	lines, err := s.auditLog.Tail(queryInt(r, "n", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, lines)
}

func (s *Server) handleEscalations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.gate.Pending())
}

func (s *Server) handleResolve(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := s.gate.Resolve(id, approve); err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "approved": approve})
	}
}

func (s *Server) handlePermission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level string `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	level, err := model.ParsePermissionLevel(req.Level)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.gate.SetLevel(level); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"permission_level": string(level)})
}

func (s *Server) handleWidgetToggle(enable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		var err error
		if enable {
			err = s.manager.Enable(name)
		} else {
			err = s.manager.Disable(name)
		}
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"widget": name, "enabled": enable})
	}
}

func (s *Server) handleWidgetAction(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req struct {
		Action string            `json:"action"`
		Params map[string]string `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	result, err := s.manager.Action(r.Context(), name, req.Action, req.Params)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": result})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var fb model.FeedbackRecord
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := s.orch.SubmitFeedback(fb); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"event_id": fb.EventID})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
