// Package api exposes health checks, metrics and manual run control over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maltedev/olx-listing-scraper/internal/coordinator"
)

const (
	pendingWarnThreshold    = 1000
	deadLetterFailThreshold = 100
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// OutboxStats reports the relay backlog.
type OutboxStats interface {
	PendingCount(ctx context.Context) (int64, error)
	DeadLetterCount(ctx context.Context) (int64, error)
}

// Runner starts scrape runs and reports on them.
type Runner interface {
	Start(ctx context.Context) error
	Running() bool
	LastReport() *coordinator.Report
}

type Handlers struct {
	db     Pinger
	outbox OutboxStats
	runner Runner
	// runCtx outlives the request that triggered a run.
	runCtx context.Context
	logger *slog.Logger
}

// NewHandlers wires the handlers. outbox may be nil when the relay is disabled.
func NewHandlers(runCtx context.Context, db Pinger, outbox OutboxStats, runner Runner, logger *slog.Logger) *Handlers {
	return &Handlers{
		db:     db,
		outbox: outbox,
		runner: runner,
		runCtx: runCtx,
		logger: logger.With("component", "api"),
	}
}

// NewRouter builds the chi router with the middleware stack.
func NewRouter(h *Handlers, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", h.DatabaseHealth)
	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/runs", h.StartRun)
		r.Get("/runs/last", h.LastRun)
	})

	return r
}

// DatabaseHealth checks that the database answers a trivial query.
func (h *Handlers) DatabaseHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		h.logger.Error("error connecting to the database", "error", err)
		h.respondJSON(w, http.StatusInternalServerError, map[string]string{"detail": "Error connecting to the db"})
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"message": "Database is working!"})
}

// Health reports scrape and outbox status.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":  "ok",
		"running": h.runner.Running(),
	}
	status := http.StatusOK

	if h.outbox != nil {
		pending, err := h.outbox.PendingCount(r.Context())
		if err != nil {
			h.logger.Warn("failed to count pending outbox events", "error", err)
		}
		deadLetter, err := h.outbox.DeadLetterCount(r.Context())
		if err != nil {
			h.logger.Warn("failed to count dead letter events", "error", err)
		}

		health["outbox"] = map[string]any{
			"pending":     pending,
			"dead_letter": deadLetter,
		}

		if pending > pendingWarnThreshold {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if deadLetter > deadLetterFailThreshold {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	if report := h.runner.LastReport(); report != nil {
		lastRun := map[string]any{
			"run_id":      report.RunID,
			"finished_at": report.FinishedAt,
			"succeeded":   report.Succeeded,
			"failed":      report.Failed,
		}
		if report.Error != "" {
			lastRun["error"] = report.Error
		}
		health["last_run"] = lastRun
	}

	h.respondJSON(w, status, health)
}

// StartRun triggers a scrape run in the background.
func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	if err := h.runner.Start(h.runCtx); err != nil {
		if errors.Is(err, coordinator.ErrRunInProgress) {
			h.respondError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("failed to start run", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to start run")
		return
	}

	h.logger.Info("run triggered over http", "remote", r.RemoteAddr)
	h.respondJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (h *Handlers) LastRun(w http.ResponseWriter, r *http.Request) {
	report := h.runner.LastReport()
	if report == nil {
		h.respondError(w, http.StatusNotFound, "no run has finished yet")
		return
	}
	h.respondJSON(w, http.StatusOK, report)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
