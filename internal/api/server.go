package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/FairForge/gridwatch/internal/config"
	"github.com/FairForge/gridwatch/internal/feedback"
	"github.com/FairForge/gridwatch/internal/registry"
	"github.com/FairForge/gridwatch/internal/retrain"
	"github.com/FairForge/gridwatch/internal/scheduler"
	"github.com/FairForge/gridwatch/internal/tasks"
	"github.com/FairForge/gridwatch/internal/training"
)

// Server exposes the prediction pipeline over HTTP.
type Server struct {
	config       *config.Config
	logger       *zap.Logger
	router       chi.Router
	httpServer   *http.Server
	predictions  *scheduler.Scheduler
	curator      *training.Curator
	ledger       *feedback.Ledger
	models       *registry.Registry
	trainer      *retrain.Engine
	orchestrator *tasks.Orchestrator

	startTime time.Time
}

// NewServer wires the pipeline components into an HTTP server.
func NewServer(cfg *config.Config, logger *zap.Logger, predictions *scheduler.Scheduler,
	curator *training.Curator, ledger *feedback.Ledger, models *registry.Registry,
	trainer *retrain.Engine, orchestrator *tasks.Orchestrator) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:       cfg,
		logger:       logger,
		router:       chi.NewRouter(),
		predictions:  predictions,
		curator:      curator,
		ledger:       ledger,
		models:       models,
		trainer:      trainer,
		orchestrator: orchestrator,
		startTime:    time.Now(),
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(s.loggingMiddleware)
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving. It blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start() error {
	s.logger.Info("http server starting", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/ready", s.handleReady)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/predictions", func(r chi.Router) {
			r.Get("/current", s.handleCurrentPrediction)
			r.Get("/history", s.handlePredictionHistory)
			r.Get("/trends", s.handleTrends)
			r.Get("/status", s.handleSchedulerStatus)
			r.Post("/refresh", s.handleForceUpdate)
			r.Get("/{id}", s.handlePredictionByID)
		})

		r.Route("/feedback", func(r chi.Router) {
			r.Post("/", s.handleSubmitFeedback)
			r.Get("/analytics", s.handleFeedbackAnalytics)
			r.Get("/pending", s.handlePendingFeedback)
		})

		r.Route("/training", func(r chi.Router) {
			r.Get("/stats", s.handleTrainingStats)
			r.Post("/trigger", s.handleTriggerRetrain)
			r.Get("/schedule", s.handleGetSchedule)
			r.Put("/schedule", s.handleUpdateSchedule)
		})

		r.Route("/models", func(r chi.Router) {
			r.Get("/", s.handleListModels)
			r.Get("/active", s.handleActiveModel)
			r.Post("/rollback", s.handleRollback)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/{id}/enable", s.handleEnableTask)
			r.Post("/{id}/disable", s.handleDisableTask)
			r.Post("/{id}/run", s.handleRunTask)
			r.Get("/{id}/history", s.handleTaskHistory)
		})
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := s.predictions.Status()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "healthy",
		"version":           "0.1.0",
		"uptime_seconds":    time.Since(s.startTime).Seconds(),
		"scheduler_running": status.Running,
		"model_version":     s.models.ActiveTag(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"ready":     true,
		"memory_mb": float64(m.Alloc) / 1024 / 1024,
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("response encode failed", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]string{"error": msg})
}
