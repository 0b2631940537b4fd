package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"pulsemon/config"
	"pulsemon/core/history"
	"pulsemon/core/monitoring"
	"pulsemon/core/store"
)

// Server is the read-only status surface over the check store. All writes go
// through config reloads, never through HTTP.
type Server struct {
	cfg      *config.AppConfig
	store    store.Store
	queue    store.QueueStore
	detector *monitoring.Detector
	oracle   *monitoring.Oracle
	history  *history.Aggregator
	logger   *zap.Logger

	httpSrv *http.Server
}

func New(cfg *config.AppConfig, st store.Store, queue store.QueueStore, detector *monitoring.Detector, oracle *monitoring.Oracle, agg *history.Aggregator, logger *zap.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		queue:    queue,
		detector: detector,
		oracle:   oracle,
		history:  agg,
		logger:   logger,
	}
	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.loggingMiddleware)

	r.MethodFunc(http.MethodGet, "/healthz", s.handleHealth)

	r.Route("/api", func(api chi.Router) {
		api.Use(s.jsonMiddleware)
		api.MethodFunc(http.MethodGet, "/monitors", s.handleListMonitors)
		api.MethodFunc(http.MethodGet, "/monitors/{id:[0-9]+}", s.handleGetMonitor)
		api.MethodFunc(http.MethodGet, "/monitors/{id:[0-9]+}/checks", s.handleListChecks)
		api.MethodFunc(http.MethodGet, "/monitors/{id:[0-9]+}/response-times", s.handleResponseTimes)
		api.MethodFunc(http.MethodGet, "/monitors/{id:[0-9]+}/history", s.handleHistory)
		api.MethodFunc(http.MethodGet, "/monitors/{id:[0-9]+}/maintenance", s.handleMaintenance)
		api.MethodFunc(http.MethodGet, "/monitors/{id:[0-9]+}/flapping", s.handleFlapping)
		api.MethodFunc(http.MethodGet, "/incidents", s.handleListIncidents)
		api.MethodFunc(http.MethodGet, "/queue", s.handleQueueStats)
	})
	return r
}

// Start blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	if s.logger != nil {
		s.logger.Info("api listening", zap.String("addr", s.httpSrv.Addr))
	}
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
