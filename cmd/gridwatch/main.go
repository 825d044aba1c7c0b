// cmd/gridwatch/main.go
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/FairForge/gridwatch/internal/api"
	"github.com/FairForge/gridwatch/internal/config"
	"github.com/FairForge/gridwatch/internal/feedback"
	"github.com/FairForge/gridwatch/internal/metrics"
	"github.com/FairForge/gridwatch/internal/notify"
	"github.com/FairForge/gridwatch/internal/predictor"
	"github.com/FairForge/gridwatch/internal/providers"
	"github.com/FairForge/gridwatch/internal/registry"
	"github.com/FairForge/gridwatch/internal/retrain"
	"github.com/FairForge/gridwatch/internal/scheduler"
	"github.com/FairForge/gridwatch/internal/store"
	"github.com/FairForge/gridwatch/internal/tasks"
	"github.com/FairForge/gridwatch/internal/training"
)

func main() {
	configPath := flag.String("config", "", "path to yaml config file")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		panic(err)
	}
	config.LoadFromEnv(cfg)

	logger := newLogger(cfg.Server.LogLevel)
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	kv := newStore(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Weather and outage providers. Empty endpoints leave the pipeline
	// running on fallback predictions and disable automatic verification.
	var weather providers.WeatherSource
	if cfg.Providers.WeatherEndpoint != "" {
		weather = providers.NewHTTPWeatherSource(cfg.Providers.WeatherEndpoint, logger)
	}
	var feed providers.OutageFeed
	if cfg.Providers.OutageEndpoint != "" {
		feed = providers.NewHTTPOutageFeed(cfg.Providers.OutageEndpoint, logger)
	}
	location := providers.NewStaticLocationSource(providers.Location{
		Latitude:  cfg.Providers.Latitude,
		Longitude: cfg.Providers.Longitude,
		Name:      cfg.Providers.LocationName,
	})

	model := predictor.NewHeuristicEngine(logger)
	models := registry.New(kv, logger)
	models.Load(ctx)

	sched := scheduler.New(model, kv, weather, location, models, logger,
		scheduler.WithInterval(cfg.Scheduler.Interval),
		scheduler.WithHistoryLimit(cfg.Scheduler.HistoryLimit))

	curator := training.NewCurator(sched, feed, kv, logger)
	curator.Load(ctx)

	ledger := feedback.NewLedger(sched, curator, kv, logger)
	ledger.Load(ctx)

	trainer := retrain.New(model, curator, ledger, models, kv, logger)
	trainer.Load(ctx)
	trainer.UpdateSchedule(ctx, retrain.Schedule{
		Enabled:                true,
		IntervalHours:          cfg.Training.IntervalHours,
		MinDataPoints:          cfg.Training.MinDataPoints,
		MinAccuracyImprovement: cfg.Training.MinAccuracyImprovement,
	})

	// New labeled data feeds the trigger check; a deployed model forces a
	// fresh prediction under the new version.
	curator.OnDataAdded(func(ctx context.Context) {
		if _, err := trainer.CheckAndTrigger(ctx); err != nil && err != retrain.ErrNotEligible {
			logger.Warn("triggered retraining failed", zap.Error(err))
		}
	})
	trainer.OnDeploy(func(ctx context.Context) {
		sched.ForceUpdate(ctx)
	})

	var notifier *notify.Notifier
	if cfg.Notify.Enabled && feed != nil {
		notifier = notify.New(feed, location, notify.NewLogDispatcher(logger), kv, logger, cfg.Notify.PerMinute)
		notifier.Load(ctx)
	}

	orch := tasks.New(tasks.ServerEnvironment(), logger)
	registerTasks(orch, logger, curator, trainer, ledger, models, notifier)

	sched.Start(ctx)
	defer sched.Stop()
	orch.Start(ctx)
	defer orch.Stop()

	server := api.NewServer(cfg, logger, sched, curator, ledger, models, trainer, orch)

	if *configPath != "" {
		err := config.Watch(ctx, *configPath, logger, func(updated *config.Config) {
			sched.SetInterval(updated.Scheduler.Interval)
			trainer.UpdateSchedule(ctx, retrain.Schedule{
				Enabled:                true,
				IntervalHours:          updated.Training.IntervalHours,
				MinDataPoints:          updated.Training.MinDataPoints,
				MinAccuracyImprovement: updated.Training.MinAccuracyImprovement,
			})
		})
		if err != nil {
			logger.Warn("config watcher unavailable", zap.Error(err))
		}
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelShutdown()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
		cancel()
	}()

	logger.Info("gridwatch starting",
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Backend),
		zap.Duration("prediction_interval", cfg.Scheduler.Interval))

	if err := server.Start(); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newLogger(level string) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if parsed, err := zapcore.ParseLevel(level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(parsed)
	}
	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

func newStore(cfg *config.Config, logger *zap.Logger) store.Store {
	switch cfg.Store.Backend {
	case "postgres":
		kv, err := store.NewPostgresStore(cfg.Store.PostgresDSN, logger)
		if err != nil {
			logger.Fatal("postgres store unavailable", zap.Error(err))
		}
		logger.Info("using postgres store")
		return kv
	case "redis":
		kv, err := store.NewRedisStore(cfg.Store.RedisURL)
		if err != nil {
			logger.Fatal("redis store unavailable", zap.Error(err))
		}
		logger.Info("using redis store")
		return kv
	default:
		logger.Info("using in-memory store")
		return store.NewMemoryStore()
	}
}

// registerTasks wires the periodic background work onto the orchestrator.
// The prediction scheduler keeps its own timer; everything else runs here.
func registerTasks(orch *tasks.Orchestrator, logger *zap.Logger,
	curator *training.Curator, trainer *retrain.Engine, ledger *feedback.Ledger,
	models *registry.Registry, notifier *notify.Notifier) {

	mustRegister(orch, logger, tasks.Config{
		ID:              "feedback-collection",
		Name:            "Automatic outcome verification",
		Interval:        time.Hour,
		Priority:        tasks.PriorityHigh,
		Enabled:         true,
		RequiresNetwork: true,
	}, func(ctx context.Context) (map[string]any, error) {
		added := curator.CollectAutomatic(ctx)
		return map[string]any{"examples_added": added}, nil
	})

	mustRegister(orch, logger, tasks.Config{
		ID:              "retraining-check",
		Name:            "Retraining eligibility check",
		Interval:        6 * time.Hour,
		Priority:        tasks.PriorityNormal,
		Enabled:         true,
		RequiresNetwork: true,
	}, func(ctx context.Context) (map[string]any, error) {
		report, err := trainer.CheckAndTrigger(ctx)
		if err != nil {
			if err == retrain.ErrNotEligible || err == retrain.ErrAlreadyInProgress {
				return nil, nil
			}
			return nil, err
		}
		return map[string]any{"reason": report.Reason, "accepted": report.Accepted}, nil
	})

	mustRegister(orch, logger, tasks.Config{
		ID:       "data-cleanup",
		Name:     "Stale training data cleanup",
		Interval: 24 * time.Hour,
		Priority: tasks.PriorityLow,
		Enabled:  true,
	}, func(ctx context.Context) (map[string]any, error) {
		evicted := curator.Prune(ctx)
		return map[string]any{"points_evicted": evicted}, nil
	})

	mustRegister(orch, logger, tasks.Config{
		ID:       "performance-monitoring",
		Name:     "Model performance monitoring",
		Interval: time.Hour,
		Priority: tasks.PriorityLow,
		Enabled:  true,
	}, func(ctx context.Context) (map[string]any, error) {
		analytics := ledger.Analytics(7 * 24 * time.Hour)
		data := map[string]any{
			"accuracy_rate": analytics.AccuracyRate,
			"quality_score": analytics.QualityScore,
		}
		if active := models.GetActive(); active != nil {
			metrics.ActiveModelAccuracy.Set(active.Accuracy)
			data["model_version"] = active.Version
			data["model_accuracy"] = active.Accuracy
		}
		return data, nil
	})

	if notifier != nil {
		mustRegister(orch, logger, tasks.Config{
			ID:              "scheduled-outage-alerts",
			Name:            "Scheduled outage notifications",
			Interval:        30 * time.Minute,
			Priority:        tasks.PriorityNormal,
			Enabled:         true,
			RequiresNetwork: true,
		}, func(ctx context.Context) (map[string]any, error) {
			sent := notifier.Poll(ctx)
			return map[string]any{"notifications_sent": sent}, nil
		})
	}
}

func mustRegister(orch *tasks.Orchestrator, logger *zap.Logger, cfg tasks.Config, runner tasks.Runner) {
	if err := orch.Register(cfg, runner); err != nil {
		logger.Fatal("task registration failed", zap.String("task", cfg.ID), zap.Error(err))
	}
}
