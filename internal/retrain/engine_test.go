package retrain

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/FairForge/gridwatch/internal/feedback"
	"github.com/FairForge/gridwatch/internal/predictor"
	"github.com/FairForge/gridwatch/internal/registry"
	"github.com/FairForge/gridwatch/internal/store"
	"github.com/FairForge/gridwatch/internal/training"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubModel struct {
	mu      sync.Mutex
	result  predictor.RetrainResult
	err     error
	block   chan struct{} // when set, Retrain waits until closed
	started chan struct{} // closed when Retrain begins
}

func (m *stubModel) Predict(_ context.Context, _ predictor.Features) (predictor.Prediction, error) {
	return predictor.Prediction{}, nil
}

func (m *stubModel) Retrain(_ context.Context, examples []predictor.Example) (predictor.RetrainResult, error) {
	if m.started != nil {
		close(m.started)
		m.started = nil
	}
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return predictor.RetrainResult{}, m.err
	}
	result := m.result
	if result.DatasetSize == 0 {
		result.DatasetSize = len(examples)
	}
	return result, nil
}

type stubData struct {
	points []training.Point
	stats  training.Stats
}

func (d *stubData) PrepareDataset() []training.Point { return d.points }
func (d *stubData) Stats() training.Stats            { return d.stats }

type stubFeedback struct {
	analytics feedback.Analytics
}

func (f *stubFeedback) Analytics(time.Duration) feedback.Analytics { return f.analytics }

func makePoints(n int) []training.Point {
	points := make([]training.Point, n)
	now := time.Now().UTC()
	for i := range points {
		points[i] = training.Point{
			ID: "p", PredictionID: "pred", Timestamp: now, Outcome: i%2 == 0,
		}
	}
	return points
}

func newTestEngine(model *stubModel, data *stubData, fb *stubFeedback) (*Engine, *registry.Registry) {
	kv := store.NewMemoryStore()
	reg := registry.New(kv, nil)
	if fb == nil {
		fb = &stubFeedback{analytics: feedback.Analytics{
			AccuracyTrend: feedback.TrendStable, AccuracyRate: 0.9, AvgRating: 4,
		}}
	}
	return New(model, data, fb, reg, kv, nil), reg
}

func TestEngine_Evaluate(t *testing.T) {
	t.Run("fresh install triggers on interval with unset last training", func(t *testing.T) {
		e, _ := newTestEngine(&stubModel{}, &stubData{}, nil)
		reason, eligible := e.Evaluate()
		require.True(t, eligible)
		assert.Equal(t, ReasonInterval, reason)
	})

	t.Run("data volume trigger fires even right after training", func(t *testing.T) {
		e, _ := newTestEngine(&stubModel{}, &stubData{stats: training.Stats{TotalPoints: 100}}, nil)
		now := time.Now().UTC()
		e.mu.Lock()
		e.schedule.LastTraining = &now
		e.schedule.MinDataPoints = 50
		e.mu.Unlock()

		reason, eligible := e.Evaluate()
		require.True(t, eligible)
		assert.Equal(t, ReasonDataVolume, reason)
	})

	t.Run("performance degradation trigger", func(t *testing.T) {
		fb := &stubFeedback{analytics: feedback.Analytics{
			AccuracyTrend: feedback.TrendDecreasing, AccuracyRate: 0.7, AvgRating: 4,
		}}
		e, _ := newTestEngine(&stubModel{}, &stubData{}, fb)
		now := time.Now().UTC()
		e.mu.Lock()
		e.schedule.LastTraining = &now
		e.mu.Unlock()

		reason, eligible := e.Evaluate()
		require.True(t, eligible)
		assert.Equal(t, ReasonDegradation, reason)
	})

	t.Run("feedback quality trigger", func(t *testing.T) {
		fb := &stubFeedback{analytics: feedback.Analytics{
			AccuracyTrend: feedback.TrendStable, AccuracyRate: 0.9,
			AvgRating: 2.5, TotalRecords: 30,
		}}
		e, _ := newTestEngine(&stubModel{}, &stubData{}, fb)
		now := time.Now().UTC()
		e.mu.Lock()
		e.schedule.LastTraining = &now
		e.mu.Unlock()

		reason, eligible := e.Evaluate()
		require.True(t, eligible)
		assert.Equal(t, ReasonFeedback, reason)
	})

	t.Run("no trigger met", func(t *testing.T) {
		e, _ := newTestEngine(&stubModel{}, &stubData{}, nil)
		now := time.Now().UTC()
		e.mu.Lock()
		e.schedule.LastTraining = &now
		e.mu.Unlock()

		_, eligible := e.Evaluate()
		assert.False(t, eligible)
	})

	t.Run("disabled schedule never triggers", func(t *testing.T) {
		e, _ := newTestEngine(&stubModel{}, &stubData{}, nil)
		e.mu.Lock()
		e.schedule.Enabled = false
		e.mu.Unlock()

		_, eligible := e.Evaluate()
		assert.False(t, eligible)
	})
}

func TestEngine_CheckAndTrigger(t *testing.T) {
	ctx := context.Background()

	t.Run("deploys an accepted result", func(t *testing.T) {
		model := &stubModel{result: predictor.RetrainResult{Accuracy: 0.9, Precision: 0.88, Recall: 0.92}}
		e, reg := newTestEngine(model, &stubData{points: makePoints(40)}, nil)

		report, err := e.CheckAndTrigger(ctx)
		require.NoError(t, err)
		assert.True(t, report.Accepted)
		assert.Equal(t, "v1", report.Version)
		assert.Equal(t, ReasonInterval, report.Reason)

		active := reg.GetActive()
		require.NotNil(t, active)
		assert.Equal(t, "v1", active.Version)
		assert.InDelta(t, 0.9, active.Accuracy, 0.0001)
		assert.Equal(t, StateIdle, e.State())

		schedule := e.GetSchedule()
		assert.NotNil(t, schedule.LastTraining)
		assert.NotNil(t, schedule.NextScheduled)
		assert.False(t, schedule.InProgress)
	})

	t.Run("not eligible returns typed error", func(t *testing.T) {
		e, _ := newTestEngine(&stubModel{}, &stubData{}, nil)
		now := time.Now().UTC()
		e.mu.Lock()
		e.schedule.LastTraining = &now
		e.mu.Unlock()

		_, err := e.CheckAndTrigger(ctx)
		assert.ErrorIs(t, err, ErrNotEligible)
		assert.Equal(t, StateIdle, e.State())
	})

	t.Run("empty dataset is a rejected run, timestamps still advance", func(t *testing.T) {
		e, reg := newTestEngine(&stubModel{}, &stubData{}, nil)

		report, err := e.CheckAndTrigger(ctx)
		require.NoError(t, err)
		assert.False(t, report.Accepted)
		assert.Zero(t, reg.Len())
		assert.NotNil(t, e.GetSchedule().LastTraining)
	})
}

func TestEngine_Validation(t *testing.T) {
	ctx := context.Background()

	seed := func(e *Engine, reg *registry.Registry, accuracy float64) {
		require.NoError(t, reg.Add(ctx, registry.ModelVersion{Version: "v1", Accuracy: accuracy}))
		require.NoError(t, reg.Activate(ctx, "v1"))
	}

	t.Run("improvement of exactly the threshold is accepted", func(t *testing.T) {
		model := &stubModel{result: predictor.RetrainResult{Accuracy: 0.81, DatasetSize: 40}}
		e, reg := newTestEngine(model, &stubData{points: makePoints(40)}, nil)
		seed(e, reg, 0.80)

		report, err := e.TriggerManual(ctx)
		require.NoError(t, err)
		assert.True(t, report.Accepted)
		assert.InDelta(t, 0.01, report.Improvement, 1e-9)
	})

	t.Run("improvement just below the threshold is rejected", func(t *testing.T) {
		model := &stubModel{result: predictor.RetrainResult{Accuracy: 0.809999, DatasetSize: 40}}
		e, reg := newTestEngine(model, &stubData{points: makePoints(40)}, nil)
		seed(e, reg, 0.80)

		report, err := e.TriggerManual(ctx)
		require.NoError(t, err)
		assert.False(t, report.Accepted)
		assert.Equal(t, "v1", reg.GetActive().Version)
	})

	t.Run("large batch without regression is accepted", func(t *testing.T) {
		model := &stubModel{result: predictor.RetrainResult{Accuracy: 0.795, DatasetSize: 150}}
		e, reg := newTestEngine(model, &stubData{points: makePoints(150)}, nil)
		seed(e, reg, 0.80)

		report, err := e.TriggerManual(ctx)
		require.NoError(t, err)
		assert.True(t, report.Accepted)
		assert.Equal(t, "v2", reg.GetActive().Version)
	})

	t.Run("large batch with regression beyond tolerance is rejected", func(t *testing.T) {
		model := &stubModel{result: predictor.RetrainResult{Accuracy: 0.78, DatasetSize: 150}}
		e, reg := newTestEngine(model, &stubData{points: makePoints(150)}, nil)
		seed(e, reg, 0.80)

		report, err := e.TriggerManual(ctx)
		require.NoError(t, err)
		assert.False(t, report.Accepted)
	})
}

func TestEngine_MutualExclusion(t *testing.T) {
	ctx := context.Background()

	block := make(chan struct{})
	started := make(chan struct{})
	model := &stubModel{
		result:  predictor.RetrainResult{Accuracy: 0.9},
		block:   block,
		started: started,
	}
	e, reg := newTestEngine(model, &stubData{points: makePoints(10)}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.TriggerManual(ctx)
	}()

	<-started // first run is inside Retrain

	scheduleBefore := e.GetSchedule()
	versionsBefore := reg.Len()

	_, err := e.TriggerManual(ctx)
	assert.ErrorIs(t, err, ErrAlreadyInProgress)
	assert.Equal(t, versionsBefore, reg.Len())
	assert.Equal(t, scheduleBefore.LastTraining, e.GetSchedule().LastTraining)

	close(block)
	<-done
	assert.Equal(t, StateIdle, e.State())
	assert.Equal(t, 1, reg.Len())
}

func TestEngine_TriggerManual_Disabled(t *testing.T) {
	e, _ := newTestEngine(&stubModel{}, &stubData{}, nil)
	e.mu.Lock()
	e.schedule.Enabled = false
	e.mu.Unlock()

	_, err := e.TriggerManual(context.Background())
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestEngine_OnDeploy(t *testing.T) {
	ctx := context.Background()
	model := &stubModel{result: predictor.RetrainResult{Accuracy: 0.9}}
	e, _ := newTestEngine(model, &stubData{points: makePoints(10)}, nil)
	e.refreshDelay = time.Millisecond

	refreshed := make(chan struct{})
	e.OnDeploy(func(context.Context) { close(refreshed) })

	_, err := e.TriggerManual(ctx)
	require.NoError(t, err)

	select {
	case <-refreshed:
	case <-time.After(time.Second):
		t.Fatal("deploy hook was not invoked")
	}
}

func TestEngine_SchedulePersistence(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	reg := registry.New(kv, nil)
	fb := &stubFeedback{}
	model := &stubModel{result: predictor.RetrainResult{Accuracy: 0.9}}

	first := New(model, &stubData{points: makePoints(10)}, fb, reg, kv, nil)
	_, err := first.TriggerManual(ctx)
	require.NoError(t, err)

	second := New(model, &stubData{}, fb, reg, kv, nil)
	second.Load(ctx)
	schedule := second.GetSchedule()
	assert.NotNil(t, schedule.LastTraining)
	assert.False(t, schedule.InProgress)
}

func TestEngine_UpdateSchedule(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(&stubModel{}, &stubData{}, nil)

	updated := e.UpdateSchedule(ctx, Schedule{
		Enabled:       true,
		IntervalHours: 12,
		MinDataPoints: 25,
	})
	assert.Equal(t, 12, updated.IntervalHours)
	assert.Equal(t, 25, updated.MinDataPoints)
	// unspecified threshold keeps its default
	assert.InDelta(t, 0.01, updated.MinAccuracyImprovement, 1e-9)
}
