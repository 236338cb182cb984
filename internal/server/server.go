// Package server provides the local dashboard HTTP API over the state store.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"git.cscs.ch/openchami/chamicore-ui/internal/config"
	"git.cscs.ch/openchami/chamicore-ui/internal/state"
	"git.cscs.ch/openchami/chamicore-ui/internal/syncer"
	"git.cscs.ch/openchami/chamicore-ui/pkg/types"
)

const (
	apiPrefix             = "/ui/v1"
	defaultTriggerTimeout = 60 * time.Second
	defaultKeepAlive      = 15 * time.Second
)

// Store is the read/refresh surface of the state store used by handlers.
// *state.Store satisfies it.
type Store interface {
	Snapshot() types.Snapshot
	Version() string
	Connected() bool
	List(resource string) ([]types.Record, bool)
	MachineDetail(id string) (types.Record, bool)
	ReversedActivities() []types.Record
	Error() state.Failure
	Refresh(ctx context.Context, resource string) (state.Outcome, error)
	RefreshMachineDetail(ctx context.Context, id string) state.Outcome
}

// Refresher triggers whole-store refresh cycles. *syncer.Syncer satisfies it.
type Refresher interface {
	Trigger(ctx context.Context) (syncer.Counts, error)
	Status() syncer.Status
}

// EventSource yields change envelopes for SSE clients. *events.Broker
// satisfies it.
type EventSource interface {
	Subscribe() (<-chan types.ChangeEvent, func())
}

// Server wraps HTTP routes and dependencies.
type Server struct {
	store     Store
	cfg       config.Config
	version   string
	commit    string
	buildDate string
	logger    zerolog.Logger

	refresher      Refresher
	events         EventSource
	metrics        http.Handler
	triggerTimeout time.Duration
	keepAlive      time.Duration

	router chi.Router
}

// Option configures server construction.
type Option func(*Server)

// WithRefresher enables POST /ui/v1/refresh.
func WithRefresher(r Refresher) Option {
	return func(s *Server) {
		s.refresher = r
	}
}

// WithEvents enables the SSE change stream.
func WithEvents(src EventSource) Option {
	return func(s *Server) {
		s.events = src
	}
}

// WithMetricsHandler serves h on /metrics when metrics are enabled.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithKeepAlive sets the SSE comment interval.
func WithKeepAlive(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.keepAlive = d
		}
	}
}

// New constructs the dashboard API server.
func New(st Store, cfg config.Config, version, commit, buildDate string, logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		store:          st,
		cfg:            cfg,
		version:        version,
		commit:         commit,
		buildDate:      buildDate,
		logger:         logger.With().Str("component", "server").Logger(),
		triggerTimeout: defaultTriggerTimeout,
		keepAlive:      defaultKeepAlive,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.buildRouter()
	return s
}

// Router returns the configured router.
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	if s.cfg.TracesEnabled {
		r.Use(func(next http.Handler) http.Handler {
			return otelhttp.NewHandler(next, "chamicore-ui")
		})
	}
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(recoverer)
	r.Use(middleware.SetHeader("X-Content-Type-Options", "nosniff"))
	r.Use(middleware.SetHeader("X-Frame-Options", "DENY"))
	if s.cfg.DevMode {
		r.Use(devCORS)
	}
	r.Use(middleware.SetHeader("X-API-Version", "ui/v1"))
	r.Use(middleware.SetHeader("Cache-Control", "no-store"))

	r.Group(func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/readiness", s.handleReadiness)
		r.Get("/version", s.handleVersion)
		if s.cfg.MetricsEnabled && s.metrics != nil {
			r.Method(http.MethodGet, "/metrics", s.metrics)
		}
	})

	r.Route(apiPrefix, func(r chi.Router) {
		r.Get("/state", s.handleGetState)
		r.Get("/error", s.handleGetError)
		r.Get("/activities/recent", s.handleGetRecentActivities)
		r.Get("/events", s.handleEvents)

		r.Get("/refresh", s.handleRefreshStatus)
		r.Post("/refresh", s.handleRefreshAll)

		r.Get("/"+state.ResourceVersion, s.handleGetVersion)
		r.Post("/"+state.ResourceVersion+"/refresh", s.handleRefreshResource(state.ResourceVersion))
		for _, resource := range state.Resources() {
			if resource == state.ResourceVersion {
				continue
			}
			r.Get("/"+resource, s.handleGetList(resource))
			r.Post("/"+resource+"/refresh", s.handleRefreshResource(resource))
		}

		r.Get("/machines/{id}", s.handleGetMachineDetail)
		r.Post("/machines/{id}/refresh", s.handleRefreshMachineDetail)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondProblem(w, r, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondProblem(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}
