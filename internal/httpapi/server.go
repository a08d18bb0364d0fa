package httpapi

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/sawpanic/finengine/internal/clock"
	"github.com/sawpanic/finengine/internal/dispatcher"
	"github.com/sawpanic/finengine/internal/engine"
	"github.com/sawpanic/finengine/internal/query"
	"github.com/sawpanic/finengine/internal/trend"
)

type requestIDKey struct{}

// ServerConfig holds the HTTP listener and timeout settings.
type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// DefaultServerConfig returns the Engine's HTTP defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           "127.0.0.1",
		Port:           8090,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 25 * time.Second,
	}
}

// Server is the Engine's HTTP trigger & query surface: a synchronous
// cycle trigger, a delivery trigger, the Public Query Surface, trend and
// comparison views, Prometheus metrics, and a websocket live feed.
type Server struct {
	Orchestrator *engine.Orchestrator
	Dispatcher   *dispatcher.Dispatcher
	Query        *query.Service
	Trend        *trend.Service
	Clock        clock.Clock
	Hub          *Hub
	Metrics      *Metrics
	Registry     *prometheus.Registry
	Log          zerolog.Logger

	router *mux.Router
	server *http.Server
	config ServerConfig
}

// NewServer builds a Server and wires its routes. It probes the configured
// port for availability before returning so a bind failure surfaces at
// construction rather than at Serve time.
func NewServer(config ServerConfig, orch *engine.Orchestrator, disp *dispatcher.Dispatcher, q *query.Service, tr *trend.Service, clk clock.Clock, reg *prometheus.Registry, log zerolog.Logger) (*Server, error) {
	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("httpapi: port %d is busy or unavailable: %w", config.Port, err)
	}
	listener.Close()

	s := &Server{
		Orchestrator: orch,
		Dispatcher:   disp,
		Query:        q,
		Trend:        tr,
		Clock:        clk,
		Hub:          NewHub(log),
		Metrics:      NewMetrics(reg),
		Registry:     reg,
		Log:          log,
		router:       mux.NewRouter(),
		config:       config,
	}

	s.setupRoutes()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.corsMiddleware)

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(s.jsonContentTypeMiddleware)
	api.Use(s.timeoutMiddleware)

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/cycles", s.handleTriggerCycle).Methods(http.MethodPost)
	api.HandleFunc("/cycles/{id}/deliver", s.handleDeliverRecommendation).Methods(http.MethodPost)
	api.HandleFunc("/reports/{role}", s.handleReport).Methods(http.MethodGet)
	api.HandleFunc("/trends/90d", s.handleNinetyDayTrend).Methods(http.MethodGet)
	api.HandleFunc("/comparisons/period", s.handlePeriodComparison).Methods(http.MethodGet)
	api.HandleFunc("/comparisons/target", s.handleTargetComparison).Methods(http.MethodGet)

	// /metrics and /live are exempt from the JSON content-type middleware:
	// one serves Prometheus text exposition, the other upgrades to a
	// websocket frame.
	s.router.Handle("/metrics", Handler(s.Registry)).Methods(http.MethodGet)
	s.router.Handle("/live", s.Hub).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, fmt.Errorf("no such route: %s %s", r.Method, r.URL.Path))
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		s.Log.Info().
			Str("request_id", fmt.Sprint(r.Context().Value(requestIDKey{}))).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timeout := s.config.RequestTimeout
		if timeout <= 0 {
			timeout = 25 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Start runs the HTTP listener, blocking until Shutdown is called.
func (s *Server) Start() error {
	s.Log.Info().Str("address", s.GetAddress()).Msg("starting httpapi server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Log.Info().Msg("shutting down httpapi server")
	return s.server.Shutdown(ctx)
}

// GetAddress returns the configured listen address.
func (s *Server) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// responseWrapper captures the status code written for request logging.
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade on /live take over the connection
// through the logging wrapper.
func (rw *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("httpapi: response writer does not support hijacking")
	}
	return h.Hijack()
}
