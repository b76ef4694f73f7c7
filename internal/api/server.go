// Package api exposes the ingestion service over HTTP.
//
// Routes:
//   - POST   /upload            score and mitigate a CSV batch
//   - GET    /external-dataset  score the configured dataset file
//   - POST   /benchmark         compare both scorers on a CSV batch
//   - POST   /simulate-alert    raise a manual alert
//   - GET    /alerts            newest alerts first
//   - GET    /blocks/{ip}       block state of one address
//   - DELETE /blocks/{ip}       remove a block
//   - GET    /ws                live alert feed
//   - GET    /healthz, /ready   liveness and readiness
//
// Every failure is answered with {"status":"error","message":...}.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
)

// Service is the subset of app.Service the transport needs.
type Service interface {
	Upload(ctx context.Context, r io.Reader) (*domain.MitigationResult, error)
	ExternalDataset(ctx context.Context) ([]float64, error)
	Benchmark(ctx context.Context, r io.Reader) (*domain.BenchmarkReport, error)
	SimulateAlert(ctx context.Context, addr string, details map[string]any) (*domain.Alert, error)
	Recent(ctx context.Context, n int) ([]*domain.Alert, error)
	IsBlocked(ctx context.Context, addr string) (bool, error)
	Unblock(ctx context.Context, addr string) error
}

type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64
	AllowedOrigins  []string
}

func DefaultConfig() Config {
	return Config{
		Addr:            ":8000",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxUploadBytes:  32 << 20,
		AllowedOrigins:  []string{"*"},
	}
}

// Server owns the HTTP listener. Auth, Hub, Health and Model are optional.
type Server struct {
	cfg     Config
	svc     Service
	auth    *Authenticator
	hub     *Hub
	health  http.Handler
	model   func() any
	handler http.Handler
	server  *http.Server
}

type Options struct {
	Auth   *Authenticator
	Hub    *Hub
	Health http.Handler
	Model  func() any // readiness detail for the sequence model
}

func NewServer(cfg Config, svc Service, opts Options) *Server {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = def.MaxUploadBytes
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = def.AllowedOrigins
	}

	s := &Server{
		cfg:    cfg,
		svc:    svc,
		auth:   opts.Auth,
		hub:    opts.Hub,
		health: opts.Health,
		model:  opts.Model,
	}
	s.handler = s.routes()
	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(recoverer)

	r.Get("/healthz", s.handleLiveness)
	r.Get("/ready", s.handleReadiness)
	r.Get("/alerts", s.handleAlerts)
	r.Get("/blocks/{ip}", s.handleBlockState)
	r.Get("/external-dataset", s.handleExternalDataset)
	if s.hub != nil {
		r.Get("/ws", s.hub.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		if s.auth != nil {
			r.Use(s.auth.Middleware)
		}
		r.Post("/upload", s.handleUpload)
		r.Post("/benchmark", s.handleBenchmark)
		r.Post("/simulate-alert", s.handleSimulateAlert)
		r.Delete("/blocks/{ip}", s.handleUnblock)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(r)
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Warn()
		}
		event.
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("HTTP request")
	})
}

// recoverer converts panics into the JSON error envelope.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Error().
					Interface("panic", rec).
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("path", r.URL.Path).
					Msg("Handler panic recovered")
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
