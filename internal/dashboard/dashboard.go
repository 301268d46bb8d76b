// Package dashboard serves the watch-mode status surface on loopback:
// JSON endpoints for the change set, the active run, and diagnostics,
// plus a websocket stream of progress output and job lifecycle events.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/proofsync/proofsync/internal/changeset"
	"github.com/proofsync/proofsync/internal/diagnostics"
	"github.com/proofsync/proofsync/internal/jobs"
	"github.com/proofsync/proofsync/internal/jobserver"
	"github.com/proofsync/proofsync/internal/syncer"
	"github.com/proofsync/proofsync/internal/version"
)

// VerifyTrigger starts a verification of the workspace's main file. It
// returns jobs.ErrBusy when a run is already active.
type VerifyTrigger func() error

// Server is the loopback status server.
type Server struct {
	port    int
	tracker *changeset.Tracker
	diags   *diagnostics.Store
	runner  *jobs.Runner
	trigger VerifyTrigger
	logger  *log.Logger

	httpSrv *http.Server

	mu        sync.Mutex
	lastSync  *syncer.Stats
	lastState string
	lastRunID string

	wsMu    sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// New creates a dashboard server. trigger may be nil, which disables the
// verify endpoint.
func New(port int, tracker *changeset.Tracker, diags *diagnostics.Store, runner *jobs.Runner, trigger VerifyTrigger) *Server {
	return &Server{
		port:    port,
		tracker: tracker,
		diags:   diags,
		runner:  runner,
		trigger: trigger,
		logger:  log.With("component", "dashboard"),
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Start begins serving. Non-blocking; listener errors are logged.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/diagnostics", s.handleDiagnostics)
	mux.HandleFunc("/api/verify", s.handleVerify)
	mux.HandleFunc("/api/cancel", s.handleCancel)
	mux.HandleFunc("/ws/progress", s.handleProgressWS)

	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler: mux,
	}

	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("dashboard server stopped", "err", err)
		}
	}()
	s.logger.Info("dashboard listening", "addr", s.httpSrv.Addr)
	return nil
}

// Shutdown stops the server and drops all websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeClients()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// SetLastSync records the stats of the most recent successful sync cycle.
func (s *Server) SetLastSync(stats syncer.Stats) {
	s.mu.Lock()
	s.lastSync = &stats
	s.mu.Unlock()
}

// Observer returns a jobs.Observer that mirrors every snapshot to the
// websocket clients and tracks the run's current state for /api/status.
func (s *Server) Observer() jobs.Observer {
	return jobs.ObserverFunc(func(run *jobs.Run, state jobs.State, snap jobserver.Snapshot) {
		s.mu.Lock()
		s.lastState = state.String()
		s.lastRunID = run.ID
		s.mu.Unlock()

		s.Broadcast(Event{
			Type:    "snapshot",
			RunID:   run.ID,
			State:   state.String(),
			Phase:   snap.CurrentPhase(),
			Percent: snap.Percent,
			Queue:   snap.QueueNum,
			Errors:  snap.ErrorCount,
		})
	})
}

type statusPayload struct {
	Version    string        `json:"version"`
	ChangeSet  []string      `json:"changeSet"`
	ActiveRun  string        `json:"activeRun,omitempty"`
	ActiveJob  string        `json:"activeJob,omitempty"`
	RunState   string        `json:"runState,omitempty"`
	LastSync   *syncer.Stats `json:"lastSync,omitempty"`
	ServerTime time.Time     `json:"serverTime"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	payload := statusPayload{
		Version:    version.Version,
		ChangeSet:  s.tracker.Snapshot(),
		ServerTime: time.Now(),
	}
	if run := s.runner.Active(); run != nil {
		payload.ActiveRun = run.ID
		payload.ActiveJob = run.JobID
		s.mu.Lock()
		if s.lastRunID == run.ID {
			payload.RunState = s.lastState
		}
		s.mu.Unlock()
	}
	s.mu.Lock()
	payload.LastSync = s.lastSync
	s.mu.Unlock()

	writeJSON(w, payload)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.diags.All())
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.trigger == nil {
		http.Error(w, "verify trigger not configured", http.StatusNotImplemented)
		return
	}
	if err := s.trigger(); err != nil {
		if errors.Is(err, jobs.ErrBusy) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"status": "started"})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.runner.Cancel() {
		http.Error(w, "no active job", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{"status": "cancelling"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
