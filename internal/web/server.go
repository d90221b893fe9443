// Package web serves the local JSON API, the event websocket and the
// Prometheus endpoint.
package web

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"smartweb-monitor/internal/automation"
	"smartweb-monitor/internal/metrics"
	"smartweb-monitor/internal/monitor"
	"smartweb-monitor/internal/store"
)

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed CORS and WebSocket origin patterns.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithAutomation sets the automation engine and script manager.
func WithAutomation(engine *automation.Engine, mgr *automation.Manager) ServerOption {
	return func(s *Server) {
		s.autoEngine = engine
		s.scriptMgr = mgr
	}
}

// WithJournal exposes recorded frames under /api/journal.
func WithJournal(j store.FrameLog) ServerOption {
	return func(s *Server) {
		s.journal = j
	}
}

// WithVersion sets the application version string.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// Server is the HTTP server for the local API.
type Server struct {
	mon            *monitor.Monitor
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	registry       *prometheus.Registry
	apiKey         string
	allowedOrigins []string
	scriptMgr      *automation.Manager
	autoEngine     *automation.Engine
	journal        store.FrameLog
	version        string
	wg             sync.WaitGroup
	unsubEvents    func()
}

// NewServer creates a new web server and starts its websocket hub.
func NewServer(mon *monitor.Monitor, logger *slog.Logger, opts ...ServerOption) (*Server, error) {
	s := &Server{
		mon:      mon,
		logger:   logger.With("component", "web"),
		mux:      http.NewServeMux(),
		registry: prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.registry.Register(metrics.NewCollector(mon)); err != nil {
		return nil, fmt.Errorf("register collector: %w", err)
	}
	if err := s.registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}

	s.wsHub = NewWSHub(logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	s.unsubEvents = mon.Events().OnAll(func(event monitor.Event) {
		s.wsHub.Broadcast(event)
	})

	s.routes()
	return s, nil
}

// Stop shuts down the WebSocket hub and waits for its goroutine.
func (s *Server) Stop() {
	if s.unsubEvents != nil {
		s.unsubEvents()
	}
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	// State
	s.mux.HandleFunc("GET /api/status", s.handleAPIStatus)
	s.mux.HandleFunc("GET /api/devices", s.handleAPIListDevices)
	s.mux.HandleFunc("GET /api/devices/{id}", s.handleAPIGetDevice)
	s.mux.HandleFunc("GET /api/cameras", s.handleAPIListCameras)
	s.mux.HandleFunc("GET /api/cameras/all", s.handleAPIListAllCameras)
	s.mux.HandleFunc("GET /api/system", s.handleAPISystem)
	s.mux.HandleFunc("GET /api/journal", s.handleAPIJournal)
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	// Session
	s.mux.HandleFunc("POST /api/connect", s.handleAPIConnect)
	s.mux.HandleFunc("POST /api/disconnect", s.handleAPIDisconnect)
	s.mux.HandleFunc("POST /api/login", s.handleAPILogin)
	s.mux.HandleFunc("POST /api/logout", s.handleAPILogout)
	s.mux.HandleFunc("POST /api/monitor/{topic}/start", s.handleAPIMonitorStart)
	s.mux.HandleFunc("POST /api/monitor/{topic}/stop", s.handleAPIMonitorStop)

	// Commands
	s.mux.HandleFunc("POST /api/autoscan", s.handleAPIAutoScan)
	s.mux.HandleFunc("POST /api/cameras/scan", s.handleAPIScanCameras)
	s.mux.HandleFunc("POST /api/cameras/{name}/snapshot", s.handleAPISnapshot)
	s.mux.HandleFunc("POST /api/cameras/{name}/groups", s.handleAPIAddGroupToCamera)
	s.mux.HandleFunc("POST /api/groups", s.handleAPIAddGroup)
	s.mux.HandleFunc("DELETE /api/groups/{group}", s.handleAPIRemoveGroup)
	s.mux.HandleFunc("POST /api/command", s.handleAPICommand)

	// Automations
	s.mux.HandleFunc("GET /api/automations", s.handleAPIListAutomations)
	s.mux.HandleFunc("GET /api/automations/{id}", s.handleAPIGetAutomation)
	s.mux.HandleFunc("POST /api/automations", s.handleAPICreateAutomation)
	s.mux.HandleFunc("PUT /api/automations/{id}", s.handleAPIUpdateAutomation)
	s.mux.HandleFunc("DELETE /api/automations/{id}", s.handleAPIDeleteAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/toggle", s.handleAPIToggleAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/run", s.handleAPIRunAutomation)

	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying auth and CORS middleware.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS: check Origin on mutating requests to prevent CSRF.
	if len(s.allowedOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if r.Method == http.MethodOptions {
				if s.isOriginAllowed(origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
					w.Header().Set("Access-Control-Max-Age", "3600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}

			if r.Method != http.MethodGet {
				if !s.isOriginAllowed(origin) {
					http.Error(w, "Forbidden", http.StatusForbidden)
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	// Browsers cannot set headers on a websocket upgrade, so only /api/ is
	// key-protected. /metrics is left open for scrapers.
	if s.apiKey != "" && strings.HasPrefix(r.URL.Path, "/api/") {
		key := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}
