// internal/retrain/engine.go
package retrain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/FairForge/gridwatch/internal/feedback"
	"github.com/FairForge/gridwatch/internal/metrics"
	"github.com/FairForge/gridwatch/internal/predictor"
	"github.com/FairForge/gridwatch/internal/registry"
	"github.com/FairForge/gridwatch/internal/store"
	"github.com/FairForge/gridwatch/internal/training"
	"go.uber.org/zap"
)

const scheduleKey = "training:schedule"

// Engine states
const (
	StateIdle       = "idle"
	StateEvaluating = "evaluating"
	StateTraining   = "training"
	StateValidating = "validating"
	StateDeploying  = "deploying"
)

// Trigger reasons, used for logging and audit.
const (
	ReasonInterval    = "Scheduled interval reached"
	ReasonDataVolume  = "Sufficient new training data available"
	ReasonDegradation = "Model performance degrading"
	ReasonFeedback    = "Poor feedback quality indicates model issues"
	ReasonManual      = "Manual trigger"
)

// Policy errors, expected outcomes rather than faults.
var (
	ErrAlreadyInProgress = errors.New("retrain: training already in progress")
	ErrDisabled          = errors.New("retrain: schedule disabled")
	ErrNotEligible       = errors.New("retrain: no trigger condition met")
)

// Schedule is the singleton retraining policy state. Mutated only by the
// engine; persisted after every mutation.
type Schedule struct {
	Enabled                bool       `json:"enabled"`
	IntervalHours          int        `json:"interval_hours"`
	MinDataPoints          int        `json:"min_data_points"`
	MinAccuracyImprovement float64    `json:"min_accuracy_improvement"`
	LastTraining           *time.Time `json:"last_training,omitempty"`
	NextScheduled          *time.Time `json:"next_scheduled,omitempty"`
	InProgress             bool       `json:"in_progress"`
}

// DefaultSchedule returns the initial policy.
func DefaultSchedule() Schedule {
	return Schedule{
		Enabled:                true,
		IntervalHours:          24,
		MinDataPoints:          50,
		MinAccuracyImprovement: 0.01,
	}
}

// Report describes one completed retraining attempt.
type Report struct {
	Reason          string    `json:"reason"`
	StartedAt       time.Time `json:"started_at"`
	Accepted        bool      `json:"accepted"`
	RejectionReason string    `json:"rejection_reason,omitempty"`
	OldAccuracy     float64   `json:"old_accuracy"`
	NewAccuracy     float64   `json:"new_accuracy"`
	Improvement     float64   `json:"improvement"`
	Version         string    `json:"version,omitempty"`
	DatasetSize     int       `json:"dataset_size"`
}

// DataSource is the slice of the curator the engine needs.
type DataSource interface {
	PrepareDataset() []training.Point
	Stats() training.Stats
}

// FeedbackSource supplies the quality analytics behind triggers 3 and 4.
type FeedbackSource interface {
	Analytics(timeRange time.Duration) feedback.Analytics
}

// Engine evaluates retraining triggers and, when one fires, drives the
// train → validate → deploy lifecycle. A single in-progress flag rejects
// concurrent runs; they are refused, never queued.
type Engine struct {
	model    predictor.Engine
	data     DataSource
	feedback FeedbackSource
	registry *registry.Registry
	kv       store.Store
	logger   *zap.Logger

	refresh      func(ctx context.Context)
	refreshDelay time.Duration

	mu       sync.Mutex
	schedule Schedule
	state    string
}

// New creates an engine with the default schedule.
func New(model predictor.Engine, data DataSource, fb FeedbackSource,
	reg *registry.Registry, kv store.Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		model:        model,
		data:         data,
		feedback:     fb,
		registry:     reg,
		kv:           kv,
		logger:       logger,
		schedule:     DefaultSchedule(),
		state:        StateIdle,
		refreshDelay: 2 * time.Second,
	}
}

// OnDeploy registers the prediction-refresh hook invoked (after a short
// delay) whenever a new model version is activated.
func (e *Engine) OnDeploy(fn func(ctx context.Context)) {
	e.refresh = fn
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// GetSchedule returns a copy of the current schedule.
func (e *Engine) GetSchedule() Schedule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.schedule
}

// UpdateSchedule applies caller edits to the policy fields. The lifecycle
// fields (LastTraining, NextScheduled, InProgress) are engine-owned and
// preserved.
func (e *Engine) UpdateSchedule(ctx context.Context, updated Schedule) Schedule {
	e.mu.Lock()
	updated.LastTraining = e.schedule.LastTraining
	updated.NextScheduled = e.schedule.NextScheduled
	updated.InProgress = e.schedule.InProgress
	if updated.IntervalHours <= 0 {
		updated.IntervalHours = e.schedule.IntervalHours
	}
	if updated.MinDataPoints <= 0 {
		updated.MinDataPoints = e.schedule.MinDataPoints
	}
	if updated.MinAccuracyImprovement <= 0 {
		updated.MinAccuracyImprovement = e.schedule.MinAccuracyImprovement
	}
	e.schedule = updated
	out := e.schedule
	e.mu.Unlock()

	e.persistSchedule(ctx)
	return out
}

// Load restores the persisted schedule. A stale in-progress flag from a
// crashed run is cleared.
func (e *Engine) Load(ctx context.Context) {
	data, err := e.kv.Get(ctx, scheduleKey)
	if err != nil || data == nil {
		if err != nil {
			e.logger.Warn("training schedule unavailable", zap.Error(err))
		}
		return
	}

	var schedule Schedule
	if err := store.Unmarshal(data, &schedule); err != nil {
		e.logger.Warn("training schedule corrupt, using defaults", zap.Error(err))
		return
	}
	schedule.InProgress = false

	e.mu.Lock()
	e.schedule = schedule
	e.mu.Unlock()
}

// Evaluate checks the trigger conditions in order and returns the first
// satisfied reason. It does not start training.
func (e *Engine) Evaluate() (string, bool) {
	e.mu.Lock()
	schedule := e.schedule
	e.mu.Unlock()

	if !schedule.Enabled {
		return "", false
	}

	// 1. time-based; an unset lastTraining counts as unbounded elapsed time
	if schedule.LastTraining == nil {
		return ReasonInterval, true
	}
	interval := time.Duration(schedule.IntervalHours) * time.Hour
	if time.Since(*schedule.LastTraining) >= interval {
		return ReasonInterval, true
	}

	// 2. data volume
	if e.data.Stats().TotalPoints >= 2*schedule.MinDataPoints {
		return ReasonDataVolume, true
	}

	analytics := e.feedback.Analytics(0)

	// 3. performance degradation
	if analytics.AccuracyTrend == feedback.TrendDecreasing && analytics.AccuracyRate < 0.85 {
		return ReasonDegradation, true
	}

	// 4. feedback quality
	if analytics.AvgRating < 3.0 && analytics.TotalRecords > 20 {
		return ReasonFeedback, true
	}

	return "", false
}

// CheckAndTrigger evaluates the triggers and runs a retraining cycle when
// one fires. Used by the periodic check and the curator's data-added hook.
func (e *Engine) CheckAndTrigger(ctx context.Context) (*Report, error) {
	e.transition(StateIdle, StateEvaluating)
	reason, eligible := e.Evaluate()
	if !eligible {
		e.transition(StateEvaluating, StateIdle)
		return nil, ErrNotEligible
	}
	return e.run(ctx, reason)
}

// TriggerManual starts a retraining cycle regardless of trigger
// conditions. The in-progress guard still applies.
func (e *Engine) TriggerManual(ctx context.Context) (*Report, error) {
	e.mu.Lock()
	enabled := e.schedule.Enabled
	e.mu.Unlock()
	if !enabled {
		return nil, ErrDisabled
	}
	return e.run(ctx, ReasonManual)
}

func (e *Engine) run(ctx context.Context, reason string) (*Report, error) {
	e.mu.Lock()
	if e.schedule.InProgress {
		e.mu.Unlock()
		// leave the active run's state alone
		e.transition(StateEvaluating, StateIdle)
		return nil, ErrAlreadyInProgress
	}
	e.schedule.InProgress = true
	e.state = StateTraining
	e.mu.Unlock()
	e.persistSchedule(ctx)

	start := time.Now()
	report, err := e.train(ctx, reason)

	e.mu.Lock()
	now := time.Now().UTC()
	next := now.Add(time.Duration(e.schedule.IntervalHours) * time.Hour)
	e.schedule.LastTraining = &now
	e.schedule.NextScheduled = &next
	e.schedule.InProgress = false
	e.state = StateIdle
	e.mu.Unlock()
	e.persistSchedule(ctx)

	metrics.RetrainDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RetrainRuns.WithLabelValues("failed").Inc()
		return nil, err
	}
	if report.Accepted {
		metrics.RetrainRuns.WithLabelValues("deployed").Inc()
	} else {
		metrics.RetrainRuns.WithLabelValues("rejected").Inc()
	}
	return report, nil
}

func (e *Engine) train(ctx context.Context, reason string) (*Report, error) {
	report := &Report{Reason: reason, StartedAt: time.Now().UTC()}

	dataset := e.data.PrepareDataset()
	report.DatasetSize = len(dataset)
	if len(dataset) == 0 {
		report.RejectionReason = "no usable training data"
		e.logger.Info("retraining skipped", zap.String("reason", report.RejectionReason))
		return report, nil
	}

	e.logger.Info("retraining started",
		zap.String("trigger", reason),
		zap.Int("dataset_size", len(dataset)))

	result, err := e.model.Retrain(ctx, training.Examples(dataset))
	if err != nil {
		return nil, fmt.Errorf("retrain model: %w", err)
	}

	e.setState(StateValidating)
	current := 0.0
	if active := e.registry.GetActive(); active != nil {
		current = active.Accuracy
	}
	report.OldAccuracy = current
	report.NewAccuracy = result.Accuracy
	report.Improvement = result.Accuracy - current

	if !validate(report.Improvement, result, current, e.minImprovement()) {
		report.RejectionReason = fmt.Sprintf(
			"accuracy improvement %.4f below threshold %.4f", report.Improvement, e.minImprovement())
		e.logger.Info("retraining result rejected, keeping active model",
			zap.Float64("new_accuracy", result.Accuracy),
			zap.Float64("current_accuracy", current))
		return report, nil
	}

	e.setState(StateDeploying)
	version := fmt.Sprintf("v%d", e.registry.Len()+1)
	entry := registry.ModelVersion{
		Version:         version,
		CreatedAt:       time.Now().UTC(),
		Accuracy:        result.Accuracy,
		Precision:       result.Precision,
		Recall:          result.Recall,
		F1:              result.F1(),
		TrainingSetSize: result.DatasetSize,
		SizeKB:          float64(result.DatasetSize) * 0.1,
		Changelog: []string{
			"Trigger: " + reason,
			fmt.Sprintf("Trained on %d examples", result.DatasetSize),
			fmt.Sprintf("Accuracy %.4f (was %.4f)", result.Accuracy, current),
		},
	}
	if err := e.registry.Add(ctx, entry); err != nil {
		return nil, fmt.Errorf("register model version: %w", err)
	}
	if err := e.registry.Activate(ctx, version); err != nil {
		return nil, fmt.Errorf("activate model version: %w", err)
	}
	metrics.ActiveModelAccuracy.Set(result.Accuracy)

	report.Accepted = true
	report.Version = version
	e.logger.Info("model version deployed",
		zap.String("version", version),
		zap.Float64("accuracy", result.Accuracy),
		zap.Float64("improvement", report.Improvement))

	// the model changed; refresh the live prediction shortly after
	if e.refresh != nil {
		time.AfterFunc(e.refreshDelay, func() { e.refresh(context.WithoutCancel(ctx)) })
	}
	return report, nil
}

// validate accepts a measurable improvement, or a large-batch update that
// does not regress by more than 0.01.
func validate(improvement float64, result predictor.RetrainResult, current, minImprovement float64) bool {
	if improvement >= minImprovement {
		return true
	}
	return result.DatasetSize > 100 && result.Accuracy >= current-0.01
}

func (e *Engine) minImprovement() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.schedule.MinAccuracyImprovement
}

func (e *Engine) setState(state string) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
}

// transition moves the state machine from one state to another; it is a
// no-op when the current state differs, so a rejected concurrent caller
// cannot clobber the active run's state.
func (e *Engine) transition(from, to string) {
	e.mu.Lock()
	if e.state == from {
		e.state = to
	}
	e.mu.Unlock()
}

// persistSchedule writes the schedule; failures are logged, never surfaced.
func (e *Engine) persistSchedule(ctx context.Context) {
	e.mu.Lock()
	schedule := e.schedule
	e.mu.Unlock()

	data, err := store.Marshal(schedule)
	if err != nil {
		e.logger.Error("marshal training schedule", zap.Error(err))
		return
	}
	if err := e.kv.Set(ctx, scheduleKey, data); err != nil {
		e.logger.Error("persist training schedule", zap.Error(err))
	}
}
