// Package server exposes the local HTTP API: status and alarm snapshots,
// command dispatch, health endpoints and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/alarm"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/command"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/internal/vacuumagent/core"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/pkg/log"
	"github.com/luxiaoze-up/doubleconeshooting-sub000/pkg/options"
)

// StatusProvider assembles the full northbound snapshot.
type StatusProvider func() core.Status

// Server is the agent's HTTP face.
type Server struct {
	http     *http.Server
	status   StatusProvider
	alarms   *alarm.Manager
	registry *command.Registry
	ready    func() bool
	logger   log.Logger
}

// New builds the server; Run starts listening.
func New(opts *options.HttpOptions, status StatusProvider, alarms *alarm.Manager, registry *command.Registry, ready func() bool) *Server {
	s := &Server{
		status:   status,
		alarms:   alarms,
		registry: registry,
		ready:    ready,
		logger:   log.WithName("http"),
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReadyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/alarms", s.handleAlarms).Methods(http.MethodGet)
	v1.HandleFunc("/alarms/history", s.handleAlarmHistory).Methods(http.MethodGet)
	v1.HandleFunc("/commands", s.handleCommandList).Methods(http.MethodGet)
	v1.HandleFunc("/commands/{name}", s.handleCommand).Methods(http.MethodPost)

	s.http = &http.Server{
		Addr:         opts.Addr,
		Handler:      r,
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
	}
	return s
}

// Run serves until the context ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil && !s.ready() {
		http.Error(w, "plc link down", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleAlarms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.alarms.ActiveAlarms())
}

func (s *Server) handleAlarmHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.alarms.History())
}

func (s *Server) handleCommandList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Names())
}

type commandResponse struct {
	Command string `json:"command"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.registry.Dispatch(r.Context(), name, body); err != nil {
		writeJSON(w, statusFor(err), commandResponse{Command: name, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{Command: name, OK: true})
}

// statusFor maps the typed command failures onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, command.ErrUnknownCommand):
		return http.StatusNotFound
	case errors.Is(err, core.ErrBadIndex):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrWrongMode), errors.Is(err, core.ErrBusy), errors.Is(err, core.ErrNoPermit):
		return http.StatusConflict
	case errors.Is(err, core.ErrNotConnected):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
