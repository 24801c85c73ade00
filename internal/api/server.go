package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/rule-aggregator/internal/aggregator"
	"github.com/JakeFAU/rule-aggregator/internal/config"
	"github.com/JakeFAU/rule-aggregator/internal/ingest"
	"github.com/JakeFAU/rule-aggregator/internal/metrics"
	"github.com/JakeFAU/rule-aggregator/internal/runner"
	"github.com/JakeFAU/rule-aggregator/internal/telemetry"
)

const requestTimeout = 60 * time.Second

// RecordReader returns the persisted collection.
type RecordReader interface {
	Stored(ctx context.Context) []ingest.Record
}

// Runs starts aggregation runs.
type Runs interface {
	Submit(ctx context.Context, trigger string) (ingest.Run, error)
	RunNow(ctx context.Context, trigger string) (ingest.Run, aggregator.Result, error)
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Server wires HTTP handlers to the aggregator and run bookkeeping.
type Server struct {
	router  chi.Router
	records RecordReader
	runs    Runs
	history *RunHandler
	ready   []ReadinessCheck
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	records RecordReader,
	runs Runs,
	history RunHistory,
	cfg config.Config,
	logger *zap.Logger,
	ready ...ReadinessCheck,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		records: records,
		runs:    runs,
		history: NewRunHandler(history, logger),
		ready:   ready,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(telemetry.Middleware)

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(requestTimeout))
		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
		r.Get("/ping", s.ping)
	})

	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		// Aggregating an empty store can outlast the request timeout.
		r.Get("/characters", s.listRecords)
		r.Route("/v1", func(r chi.Router) {
			r.Get("/records", s.listRecords)
			r.Route("/runs", func(r chi.Router) {
				r.Use(timeoutMiddleware(requestTimeout))
				r.Post("/", s.submitRun)
				r.Get("/", s.history.ListRuns)
				r.Get("/{run_id}", s.history.GetRun)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	for _, check := range s.ready {
		if err := check(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) ping(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
}

// listRecords serves the stored collection, aggregating first when nothing
// is stored. A failed aggregation answers with an empty collection.
func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	records := s.records.Stored(r.Context())
	if len(records) == 0 {
		run, res, err := s.runs.RunNow(context.WithoutCancel(r.Context()), runner.TriggerAutoFetch)
		if err != nil {
			s.logger.Error("aggregation for empty store failed", zap.String("run_id", run.ID), zap.Error(err))
			records = []ingest.Record{}
		} else {
			records = res.Records
		}
	}
	if records == nil {
		records = []ingest.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) submitRun(w http.ResponseWriter, r *http.Request) {
	queueCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	run, err := s.runs.Submit(queueCtx, runner.TriggerAPI)
	if err != nil {
		s.logger.Error("submit run failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "failed to queue run")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": run.ID, "status": string(run.Status)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
