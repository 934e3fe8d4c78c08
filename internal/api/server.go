// Package api serves the engine's HTTP surface: media upload, transcript
// lifecycle, edit sessions, SSE events, health and metrics.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/scribeworks/transcript-engine/internal/metrics"
)

// ServerOptions bundles the handlers and settings for the HTTP server.
type ServerOptions struct {
	Addr        string
	AuthToken   string
	CORSOrigins []string

	// RateLimitRPS caps requests per client IP on the API group; 0
	// disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int

	ReadTimeout time.Duration
	IdleTimeout time.Duration

	Health      *HealthHandler
	Media       *MediaHandler
	Transcripts *TranscriptsHandler
	Sessions    *SessionsHandler
	Events      *EventsHandler

	Log zerolog.Logger
}

// Server wraps the HTTP listener and its router.
type Server struct {
	srv *http.Server
	log zerolog.Logger
}

// NewServer builds the router and the underlying http.Server. Health and
// metrics stay outside the auth gate so probes and scrapers work without a
// token.
func NewServer(opts ServerOptions) *Server {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(opts.Log))
	r.Use(metrics.InstrumentHandler)
	r.Use(CORSWithOrigins(opts.CORSOrigins))

	r.Get("/api/v1/health", opts.Health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(opts.AuthToken))
		if opts.RateLimitRPS > 0 {
			burst := opts.RateLimitBurst
			if burst < 1 {
				burst = 1
			}
			r.Use(RateLimiter(opts.RateLimitRPS, burst))
		}
		opts.Media.Routes(r)
		opts.Transcripts.Routes(r)
		opts.Sessions.Routes(r)
		opts.Events.Routes(r)
	})

	return &Server{
		srv: &http.Server{
			Addr:        opts.Addr,
			Handler:     r,
			ReadTimeout: opts.ReadTimeout,
			IdleTimeout: opts.IdleTimeout,
			// No WriteTimeout: SSE connections stay open indefinitely.
		},
		log: opts.Log.With().Str("component", "http").Logger(),
	}
}

// Start blocks serving requests until the listener closes.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.srv.Shutdown(ctx)
}
