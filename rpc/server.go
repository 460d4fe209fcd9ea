package rpc

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vetoken/core"
)

// Config carries the dependencies and limits for the inspection API.
type Config struct {
	Node   *core.Node
	Logger *slog.Logger

	// RequestsPerMinute caps each client's request rate; zero disables
	// limiting. Burst defaults to a single request.
	RequestsPerMinute float64
	Burst             int

	// MetricsEnabled mounts the prometheus registry at /metrics.
	MetricsEnabled bool
}

// Server is the read-only HTTP surface over a node: protocol views, the
// websocket event stream and operational endpoints. No mutating operation
// is exposed; writes happen through the embedding process.
type Server struct {
	node    *core.Node
	log     *slog.Logger
	limiter *rateLimiter
	router  http.Handler
}

// NewServer wires the routes and middleware around the node.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Node == nil {
		return nil, errors.New("rpc: node not configured")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		node: cfg.Node,
		log:  logger,
	}
	if cfg.RequestsPerMinute > 0 {
		s.limiter = newRateLimiter(cfg.RequestsPerMinute, cfg.Burst)
	}
	s.router = s.buildRouter(cfg.MetricsEnabled)
	return s, nil
}

// Handler exposes the configured router; callers own the http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter(metricsEnabled bool) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.requestID)
	r.Use(s.observe)
	if s.limiter != nil {
		r.Use(s.limiter.middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/status", s.handleStatus)
	r.Get("/epochs/current", s.handleCurrentEpoch)
	r.Get("/accounts/{addr}", s.handleAccount)
	r.Get("/receivers", s.handleReceivers)
	r.Get("/receivers/{id}", s.handleReceiver)
	r.Get("/ws/events", s.handleEventsWS)

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

// Start serves the API on addr until the listener fails. Most callers use
// Handler with their own http.Server for timeouts and shutdown.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return srv.ListenAndServe()
}
