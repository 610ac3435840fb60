// Package web serves the admin HTTP API: health, metrics, status, manual triggers
// and run history.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"credit-reset/internal/clock"
	"credit-reset/internal/domain/model"
	"credit-reset/internal/domain/ports/adapter"
	"credit-reset/internal/domain/ports/repository"
	portuc "credit-reset/internal/domain/ports/usecase"
	"credit-reset/internal/infra/metrics"
	"credit-reset/internal/infra/ratelimit"
)

// Trigger is the subset of sched.Trigger the API drives.
type Trigger interface {
	Run(ctx context.Context, kind model.CheckpointKind) ([]*model.RunSummary, error)
	NextRuns() map[string]time.Time
}

type AccountLister interface {
	Accounts() []string
}

type LimiterStatus interface {
	Status() ratelimit.Status
}

// ManualLimiter caps manual triggers per checkpoint; nil means unlimited.
type ManualLimiter interface {
	Allow(ctx context.Context, kind string) (bool, error)
}

type Deps struct {
	Trigger  Trigger
	Accounts AccountLister
	Delayed  portuc.DelayedResetInspector
	Locker   adapter.Locker
	History  repository.HistoryRepository
	Limiter  LimiterStatus
	Manual   ManualLimiter
	Auth     *AuthManager
	Clock    clock.Clock
}

type Server struct {
	Deps
	auth   *AuthManager
	server *http.Server
	log    *zerolog.Logger
}

func NewServer(deps Deps, logger *zerolog.Logger) *Server {
	if deps.History == nil {
		deps.History = repository.NoopHistory{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.SystemClock{}
	}
	l := logger.With().Str("component", "AdminAPI").Logger()
	return &Server{Deps: deps, auth: deps.Auth, log: &l}
}

// Routes builds the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.metricsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/status", s.handleStatus)
		r.Post("/checkpoints/{kind}/run", s.handleRunCheckpoint)
		r.Get("/history", s.handleHistory)
	})
	return r
}

// metricsMiddleware counts requests by route pattern and status code.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.IncAdminRequest(route, status)
	})
}

// Start serves on :port until Shutdown.
func (s *Server) Start(port int) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Int("port", port).Msg("admin api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func queryInt(r *http.Request, name string, def, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}
