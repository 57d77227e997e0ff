// Package server exposes the read API over HTTP: reserve listings,
// record detail, point queries, operators, health, and metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/reservemap/reservemap/internal/geo"
	"github.com/reservemap/reservemap/internal/model"
	"github.com/reservemap/reservemap/internal/query"
)

// Store is the read surface the handlers need.
type Store interface {
	Ping(ctx context.Context) error
	Reserve(ctx context.Context, id string) (model.Reserve, error)
	ReservesInBBox(ctx context.Context, b geo.BBox, f model.Filter, limit, offset int) ([]model.Reserve, error)
	Operators(ctx context.Context) ([]model.Operator, error)
}

// PointQuerier answers which reserves contain a point.
type PointQuerier interface {
	At(ctx context.Context, p geo.Point, f model.Filter) ([]query.Match, error)
}

// ReadyChecker reports whether the invalidation consumer holds its
// partition assignment.
type ReadyChecker interface {
	Readiness() (ready bool, partitions []int32)
}

type Options struct {
	Addr     string
	Store    Store
	Engine   PointQuerier
	Ready    ReadyChecker // optional, nil skips the events check
	Metrics  http.Handler // optional, serves /metrics when set
	Logger   zerolog.Logger
	Register prometheus.Registerer
}

// Server owns the router. Handler is safe for concurrent use.
type Server struct {
	addr    string
	store   Store
	engine  PointQuerier
	ready   ReadyChecker
	log     zerolog.Logger
	metrics *metricSet
	handler http.Handler
}

func New(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("server: store is required")
	}
	if opts.Engine == nil {
		return nil, errors.New("server: query engine is required")
	}
	s := &Server{
		addr:    opts.Addr,
		store:   opts.Store,
		engine:  opts.Engine,
		ready:   opts.Ready,
		log:     opts.Logger,
		metrics: newMetricSet(opts.Register),
	}
	s.handler = s.routes(opts.Metrics)
	return s, nil
}

func (s *Server) routes(metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverer)
	r.Use(requestID)
	r.Use(s.accessLog)
	r.Use(cors)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/reserves", s.listReserves)
		r.Get("/reserves/at-point", s.atPoint)
		r.Get("/reserves/{id}", s.getReserve)
		r.Get("/operators", s.listOperators)
	})
	return r
}

// Handler returns the assembled router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("http listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.log.Info().Msg("http server stopped")
		return nil
	case err := <-errCh:
		return err
	}
}
