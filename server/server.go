// Package server is the HTTP transport in front of the mvc front controller
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"appfuel/config"
	"appfuel/mvc"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthFunc reports the health of the application. A non-nil error makes
// /health answer 503.
type HealthFunc func(ctx context.Context) (map[string]interface{}, error)

// Server routes /health, /metrics and /ws itself and every other path to
// the front controller
type Server struct {
	config *config.Config
	router *mux.Router
	front  *mvc.Front
	health HealthFunc
	logger *zap.SugaredLogger

	limitersMu sync.Mutex
	limiters   map[string]*limiterEntry

	hub *hub

	mu       sync.Mutex
	server   *http.Server
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New wires the router. The idle limiter cleanup starts here when rate
// limiting is enabled and runs until Stop.
func New(cfg *config.Config, front *mvc.Front, health HealthFunc, logger *zap.SugaredLogger) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		config:   cfg,
		router:   mux.NewRouter(),
		front:    front,
		health:   health,
		logger:   logger,
		limiters: make(map[string]*limiterEntry),
		hub:      newHub(),
		stopCh:   make(chan struct{}),
	}
	s.setupRoutes()

	if cfg.Server.RateLimit.Enabled {
		go s.cleanupLimiters(cfg.Server.RateLimit.CleanupInterval)
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.recoveryMiddleware)
	if s.config.Server.RateLimit.Enabled {
		s.router.Use(s.rateLimitMiddleware)
	}
	if s.config.Auth.Enabled {
		s.router.Use(s.authMiddleware)
	}

	s.router.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if s.front != nil {
		s.router.HandleFunc("/ws", s.serveWebSocket)
		s.router.PathPrefix("/").Handler(s.front)
	}
}

// Handler is the routed handler with all middleware applied
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr is host:port from the configuration
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Server.Host, strconv.Itoa(s.config.Server.Port))
}

func (s *Server) newHTTPServer() *http.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.server = &http.Server{
		Addr:         s.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}
	return s.server
}

// Start serves plain HTTP until Stop. It returns http.ErrServerClosed after
// a clean stop.
func (s *Server) Start() error {
	srv := s.newHTTPServer()
	s.logger.Infow("HTTP server listening", "addr", srv.Addr)
	return srv.ListenAndServe()
}

// StartTLS serves HTTPS with the configured certificate and key
func (s *Server) StartTLS() error {
	srv := s.newHTTPServer()
	s.logger.Infow("HTTPS server listening", "addr", srv.Addr)
	return srv.ListenAndServeTLS(s.config.Server.CertFile, s.config.Server.KeyFile)
}

// ListenAndServe starts TLS or plain HTTP per configuration
func (s *Server) ListenAndServe() error {
	if s.config.Server.TLS {
		return s.StartTLS()
	}
	return s.Start()
}

// Stop ends the cleanup goroutine, closes websocket clients and shuts the
// http server down. It is safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.hub.closeAll()

		s.mu.Lock()
		srv := s.server
		s.mu.Unlock()
		if srv == nil {
			return
		}
		if serr := srv.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("failed to shut down http server: %w", serr)
		}
	})
	return err
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if s.health != nil {
		details, err := s.health(r.Context())
		for k, v := range details {
			body[k] = v
		}
		if err != nil {
			s.logger.Warnw("Health check failed", "error", err)
			body["status"] = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError logs err in full and sends only msg to the client
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error, msg string) {
	s.logger.Errorw("HTTP request failed",
		"request_id", RequestID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"error", err)
	http.Error(w, msg, status)
}

// IsServerClosed reports whether err is the normal result of Stop
func IsServerClosed(err error) bool {
	return errors.Is(err, http.ErrServerClosed)
}
