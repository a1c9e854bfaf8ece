// Package adminapi implements the relay control plane's admin HTTP surface:
// health, status, rescan trigger, and redirect lookup, grounded on the
// teacher's internal/api.Server (mux.Router + ListenAndServe/Shutdown).
package adminapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/relaycast/relaycast/internal/relay"
)

// Server is the admin HTTP API server.
type Server struct {
	router     *mux.Router
	addr       string
	server     *http.Server
	supervisor *relay.Supervisor
	slaves     *relay.SlaveRegistry
	rescan     func()
	hub        http.Handler // adminws hub's ServeHTTP, wired via RegisterHub
}

// NewServer builds a Server bound to addr (e.g. ":8080").
func NewServer(addr string, supervisor *relay.Supervisor, slaves *relay.SlaveRegistry, rescan func()) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		addr:       addr,
		supervisor: supervisor,
		slaves:     slaves,
		rescan:     rescan,
	}
	s.setupRoutes()
	return s
}

// RegisterHub wires the adminws event hub onto /adminws.
func (s *Server) RegisterHub(hub http.Handler) {
	s.hub = hub
	s.router.Handle("/adminws", hub).Methods("GET")
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/rescan", s.handleRescan).Methods("POST")
	s.router.HandleFunc("/redirect", s.handleRedirect).Methods("GET")
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	staticCount, masterCount, running := s.supervisor.Snapshot()
	resp := map[string]interface{}{
		"static_relays":   staticCount,
		"master_relays":   masterCount,
		"running":         running,
		"relay_log_lines": relay.RelayLogLines(),
	}
	if s.slaves != nil {
		resp["slave_hosts"] = s.slaves.Len()
	}
	writeJSON(w, resp)
}

func (s *Server) handleRescan(w http.ResponseWriter, r *http.Request) {
	if s.rescan != nil {
		s.rescan()
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleRedirect implements the listener redirect response (spec.md §6):
// GET /redirect?mount=/foo picks a random slave host and sends an HTTP 302
// with Location: http://<server>:<port><mount> so the listener reconnects
// there directly.
func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	mount := r.URL.Query().Get("mount")
	if mount == "" {
		http.Error(w, "mount query parameter required", http.StatusBadRequest)
		return
	}
	if s.slaves == nil {
		http.Error(w, "no slave hosts configured", http.StatusNotFound)
		return
	}
	host, ok := s.slaves.PickRandom()
	if !ok {
		http.Error(w, "no slave hosts available", http.StatusServiceUnavailable)
		return
	}
	location := fmt.Sprintf("http://%s:%d%s", host.Server, host.Port, mount)
	http.Redirect(w, r, location, http.StatusFound)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// Start runs the HTTP server, blocking until it stops or errors.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
