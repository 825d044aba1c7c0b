// internal/tasks/orchestrator.go
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/FairForge/gridwatch/internal/bounded"
	"github.com/FairForge/gridwatch/internal/metrics"
	"go.uber.org/zap"
)

const historyCap = 100

// Task priorities
const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

var (
	// ErrUnknownTask is returned for operations on unregistered task ids.
	ErrUnknownTask = errors.New("tasks: unknown task")
	// ErrTaskExists is returned when registering a duplicate task id.
	ErrTaskExists = errors.New("tasks: task already registered")
)

// Environment answers the resource gates a task may require.
type Environment interface {
	NetworkAvailable() bool
	Charging() bool
	AppInBackground() bool
}

// StaticEnvironment is an Environment with fixed answers. The zero value
// gates everything off; ServerEnvironment returns the always-ready probe
// used for plugged-in deployments.
type StaticEnvironment struct {
	Network    bool
	Power      bool
	Background bool
}

func (e StaticEnvironment) NetworkAvailable() bool { return e.Network }
func (e StaticEnvironment) Charging() bool         { return e.Power }
func (e StaticEnvironment) AppInBackground() bool  { return e.Background }

// ServerEnvironment returns the probe for mains-powered deployments.
func ServerEnvironment() StaticEnvironment {
	return StaticEnvironment{Network: true, Power: true, Background: true}
}

// Config describes one named periodic job.
type Config struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Interval         time.Duration `json:"interval"`
	Priority         string        `json:"priority"`
	Enabled          bool          `json:"enabled"`
	RequiresNetwork  bool          `json:"requires_network"`
	RequiresCharging bool          `json:"requires_charging"`
	RunOnlyWhenIdle  bool          `json:"run_only_when_idle"`
	LastRun          time.Time     `json:"last_run"`
}

// Validate checks configuration.
func (c *Config) Validate() error {
	if c.ID == "" {
		return errors.New("tasks: id is required")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("tasks: %s: interval must be positive", c.ID)
	}
	return nil
}

// Runner is a task body. The returned payload is recorded with the result.
type Runner func(ctx context.Context) (map[string]any, error)

// Result records one execution.
type Result struct {
	TaskID    string         `json:"task_id"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

type task struct {
	config Config
	runner Runner
	stop   chan struct{}
}

// Orchestrator owns every periodic timer in the pipeline. Each registered
// task runs on its own ticker; a conjunctive gate (enabled, network,
// charging, idle, elapsed interval) is evaluated before each firing.
type Orchestrator struct {
	env    Environment
	logger *zap.Logger

	mu      sync.Mutex
	tasks   map[string]*task
	history *bounded.Ring[Result]
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates an orchestrator with the given environment probe.
func New(env Environment, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if env == nil {
		env = ServerEnvironment()
	}
	return &Orchestrator{
		env:     env,
		logger:  logger,
		tasks:   make(map[string]*task),
		history: bounded.NewRing[Result](historyCap),
	}
}

// Register adds a task. If the orchestrator is running and the task is
// enabled, its timer is armed immediately.
func (o *Orchestrator) Register(config Config, runner Runner) error {
	if err := config.Validate(); err != nil {
		return err
	}
	if config.Priority == "" {
		config.Priority = PriorityNormal
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.tasks[config.ID]; exists {
		return ErrTaskExists
	}
	t := &task{config: config, runner: runner}
	o.tasks[config.ID] = t

	if o.running && config.Enabled {
		o.arm(t)
	}
	return nil
}

// Start arms a timer for every enabled task. Idempotent.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return
	}
	o.running = true
	o.ctx, o.cancel = context.WithCancel(ctx)

	for _, t := range o.tasks {
		if t.config.Enabled {
			o.arm(t)
		}
	}
	o.logger.Info("task orchestrator started", zap.Int("tasks", len(o.tasks)))
}

// Stop disarms every timer.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return
	}
	o.running = false
	o.cancel()
	for _, t := range o.tasks {
		o.disarm(t)
	}
	o.logger.Info("task orchestrator stopped")
}

// arm starts the task's ticker goroutine. Caller holds o.mu.
func (o *Orchestrator) arm(t *task) {
	if t.stop != nil {
		return
	}
	t.stop = make(chan struct{})
	stop := t.stop
	ctx := o.ctx

	go func() {
		ticker := time.NewTicker(t.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				o.fire(ctx, t.config.ID)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// disarm stops the task's ticker goroutine. Caller holds o.mu.
func (o *Orchestrator) disarm(t *task) {
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}

// fire runs a task if its gate passes.
func (o *Orchestrator) fire(ctx context.Context, id string) {
	o.mu.Lock()
	t, ok := o.tasks[id]
	if !ok {
		o.mu.Unlock()
		return
	}
	config := t.config
	runner := t.runner
	o.mu.Unlock()

	if reason, pass := o.gate(config); !pass {
		o.logger.Debug("task gated",
			zap.String("task", id), zap.String("reason", reason))
		return
	}
	o.execute(ctx, id, runner)
}

// gate evaluates the conjunctive run conditions for a task.
func (o *Orchestrator) gate(config Config) (string, bool) {
	if !config.Enabled {
		return "disabled", false
	}
	if config.RequiresNetwork && !o.env.NetworkAvailable() {
		return "network unavailable", false
	}
	if config.RequiresCharging && !o.env.Charging() {
		return "not charging", false
	}
	if config.RunOnlyWhenIdle && !o.env.AppInBackground() {
		return "app in foreground", false
	}
	if !config.LastRun.IsZero() && time.Since(config.LastRun) < config.Interval {
		return "interval not elapsed", false
	}
	return "", true
}

// execute runs the task body and records the result. LastRun advances
// whether or not the body succeeded.
func (o *Orchestrator) execute(ctx context.Context, id string, runner Runner) {
	start := time.Now()
	data, err := runner(ctx)

	result := Result{
		TaskID:    id,
		StartedAt: start.UTC(),
		Duration:  time.Since(start),
		Success:   err == nil,
		Data:      data,
	}
	outcome := "success"
	if err != nil {
		result.Error = err.Error()
		outcome = "error"
		o.logger.Warn("task failed", zap.String("task", id), zap.Error(err))
	}
	metrics.TaskRuns.WithLabelValues(id, outcome).Inc()

	o.mu.Lock()
	if t, ok := o.tasks[id]; ok {
		t.config.LastRun = start.UTC()
	}
	o.history.Append(result)
	o.mu.Unlock()
}

// RunNow executes a task immediately, bypassing the gate entirely.
func (o *Orchestrator) RunNow(ctx context.Context, id string) (*Result, error) {
	o.mu.Lock()
	t, ok := o.tasks[id]
	if !ok {
		o.mu.Unlock()
		return nil, ErrUnknownTask
	}
	runner := t.runner
	o.mu.Unlock()

	o.execute(ctx, id, runner)

	o.mu.Lock()
	defer o.mu.Unlock()
	results := o.history.ItemsNewestFirst()
	for _, r := range results {
		if r.TaskID == id {
			out := r
			return &out, nil
		}
	}
	return nil, ErrUnknownTask
}

// Enable turns a task on and arms its timer.
func (o *Orchestrator) Enable(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.tasks[id]
	if !ok {
		return ErrUnknownTask
	}
	t.config.Enabled = true
	if o.running {
		o.arm(t)
	}
	return nil
}

// Disable turns a task off and disarms its timer.
func (o *Orchestrator) Disable(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.tasks[id]
	if !ok {
		return ErrUnknownTask
	}
	t.config.Enabled = false
	o.disarm(t)
	return nil
}

// List returns every task config, highest priority first.
func (o *Orchestrator) List() []Config {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Config, 0, len(o.tasks))
	for _, t := range o.tasks {
		out = append(out, t.config)
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := priorityRank(out[i].Priority), priorityRank(out[j].Priority)
		if pi != pj {
			return pi < pj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// History returns recent results, newest first. An empty id matches all
// tasks; limit 0 returns everything retained.
func (o *Orchestrator) History(id string, limit int) []Result {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []Result
	for _, r := range o.history.ItemsNewestFirst() {
		if id != "" && r.TaskID != id {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func priorityRank(p string) int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	default:
		return 2
	}
}
