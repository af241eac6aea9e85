package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tsundoku/internal/library"
	"tsundoku/internal/logging"
	"tsundoku/internal/metrics"
	"tsundoku/internal/services"
)

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	handler http.Handler

	listener net.Listener
	server   *http.Server
}

func newAPIServer(bind string, d *Daemon, gatherer prometheus.Gatherer, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(bind),
		logger: logger,
		daemon: d,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/library", srv.handleLibrary)
	mux.HandleFunc("/api/announcements", srv.handleAnnouncements)
	mux.HandleFunc("/api/errors", srv.handleErrors)
	mux.HandleFunc("/api/jobs/", srv.handleTrigger)
	if gatherer != nil {
		mux.Handle("/metrics", metrics.Handler(gatherer))
	}
	srv.handler = mux
	return srv
}

// Handler exposes the daemon's HTTP routes.
func (d *Daemon) Handler() http.Handler { return d.api.handler }

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.listener, s.server = listener, server

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		s.server = nil
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status())
}

func (s *apiServer) handleLibrary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	query := r.URL.Query()
	var (
		entries []library.Entry
		err     error
	)
	switch strings.TrimSpace(query.Get("view")) {
	case "ready":
		entries = s.daemon.tracker.ReadyToWatch()
	case "waiting":
		entries = s.daemon.tracker.WaitingForEpisodes()
	default:
		entries, err = s.daemon.tracker.List(library.Status(strings.TrimSpace(query.Get("status"))))
	}
	if err != nil {
		s.writeError(w, http.StatusBadRequest, services.Summary(err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"titles": entries})
}

func (s *apiServer) handleAnnouncements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"groups": s.daemon.tracker.Groups()})
}

func (s *apiServer) handleErrors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	s.writeJSON(w, http.StatusOK, map[string]any{"errors": s.daemon.tracker.Errors(limit)})
}

// handleTrigger starts a job out of schedule: POST /api/jobs/{reconcile|discovery}.
func (s *apiServer) handleTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var job func(context.Context) error
	name := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	switch name {
	case jobReconcile:
		job = s.daemon.RunReconcile
	case jobDiscovery:
		job = s.daemon.RunDiscovery
	default:
		s.writeError(w, http.StatusNotFound, "unknown job")
		return
	}
	if !s.daemon.Running() {
		s.writeError(w, http.StatusServiceUnavailable, "daemon not running")
		return
	}
	s.daemon.wg.Add(1)
	go func() {
		defer s.daemon.wg.Done()
		if err := job(s.daemon.ctx); err != nil {
			s.log().Warn("triggered job failed", logging.String("job", name), logging.Error(err))
		}
	}()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job": name})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String("component", "api-server"))
	}
	return logging.NewNop()
}

// Addr returns the address the API server listens on, or "" when disabled.
func (d *Daemon) Addr() string {
	if d.api.listener == nil {
		return ""
	}
	return d.api.listener.Addr().String()
}
