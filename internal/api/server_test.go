package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FairForge/gridwatch/internal/config"
	"github.com/FairForge/gridwatch/internal/feedback"
	"github.com/FairForge/gridwatch/internal/predictor"
	"github.com/FairForge/gridwatch/internal/providers"
	"github.com/FairForge/gridwatch/internal/registry"
	"github.com/FairForge/gridwatch/internal/retrain"
	"github.com/FairForge/gridwatch/internal/scheduler"
	"github.com/FairForge/gridwatch/internal/store"
	"github.com/FairForge/gridwatch/internal/tasks"
	"github.com/FairForge/gridwatch/internal/training"
)

type stubEngine struct{}

func (stubEngine) Predict(_ context.Context, _ predictor.Features) (predictor.Prediction, error) {
	return predictor.Prediction{Probability: 0.4, Confidence: 0.7, RiskLevel: predictor.RiskMedium}, nil
}

func (stubEngine) Retrain(_ context.Context, examples []predictor.Example) (predictor.RetrainResult, error) {
	return predictor.RetrainResult{Accuracy: 0.9, DatasetSize: len(examples)}, nil
}

type stubWeather struct{}

func (stubWeather) CurrentWeather(_ context.Context) (providers.Weather, error) {
	return providers.Weather{Temperature: 12, Humidity: 0.8, WindSpeed: 30}, nil
}

// newTestServer wires real pipeline components over a memory store.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	kv := store.NewMemoryStore()
	logger := zap.NewNop()
	models := registry.New(kv, logger)
	location := providers.NewStaticLocationSource(providers.Location{
		Latitude: 47.6, Longitude: -122.3, Name: "Seattle",
	})
	sched := scheduler.New(stubEngine{}, kv, stubWeather{}, location, models, logger)
	curator := training.NewCurator(sched, nil, kv, logger)
	ledger := feedback.NewLedger(sched, curator, kv, logger)
	trainer := retrain.New(stubEngine{}, curator, ledger, models, kv, logger)
	orch := tasks.New(tasks.StaticEnvironment{Network: true, Power: true, Background: true}, logger)
	require.NoError(t, orch.Register(tasks.Config{
		ID:       "feedback-collection",
		Name:     "Automatic feedback collection",
		Interval: time.Hour,
		Priority: tasks.PriorityHigh,
		Enabled:  true,
	}, func(ctx context.Context) (map[string]any, error) {
		added := curator.CollectAutomatic(ctx)
		return map[string]any{"examples_added": added}, nil
	}))

	cfg := config.Default()
	return NewServer(cfg, logger, sched, curator, ledger, models, trainer, orch)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if rec.Body.Len() > 0 && rec.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t)

	rec, body := doJSON(t, s.Handler(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "baseline-v1", body["model_version"])

	rec, body = doJSON(t, s.Handler(), http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ready"])
}

func TestPredictionEndpoints(t *testing.T) {
	s := newTestServer(t)

	t.Run("current generates on demand", func(t *testing.T) {
		rec, body := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/predictions/current", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, body["id"])
		assert.Equal(t, "medium", body["prediction"].(map[string]interface{})["risk_level"])
	})

	t.Run("history returns newest first", func(t *testing.T) {
		s.predictions.ForceUpdate(context.Background())
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/predictions/history?limit=5", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var history []map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
		assert.NotEmpty(t, history)
	})

	t.Run("lookup by id", func(t *testing.T) {
		pred := s.predictions.ForceUpdate(context.Background())
		rec, body := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/predictions/"+pred.ID, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, pred.ID, body["id"])

		rec, _ = doJSON(t, s.Handler(), http.MethodGet, "/api/v1/predictions/no-such-id", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("refresh forces a new prediction", func(t *testing.T) {
		before := s.predictions.CurrentPrediction().ID
		rec, body := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/predictions/refresh", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotEqual(t, before, body["id"])
	})

	t.Run("trends and status", func(t *testing.T) {
		rec, body := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/predictions/trends?timeframe=1h", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, []interface{}{"stable", "increasing", "decreasing"}, body["direction"])

		rec, body = doJSON(t, s.Handler(), http.MethodGet, "/api/v1/predictions/status", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, body["running"])
	})
}

func TestFeedbackEndpoints(t *testing.T) {
	s := newTestServer(t)
	pred := s.predictions.ForceUpdate(context.Background())

	t.Run("submit against a real prediction", func(t *testing.T) {
		rec, body := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/feedback/", map[string]interface{}{
			"prediction_id":     pred.ID,
			"was_accurate":      true,
			"accuracy_rating":   5,
			"confidence_rating": 4,
			"actual_outcome":    false,
			"context":           map[string]interface{}{"verification_source": "utility_feed"},
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, pred.ID, body["prediction_id"])
		assert.InDelta(t, 0.95, body["verification_confidence"].(float64), 1e-9)
	})

	t.Run("submit for unknown prediction is 404", func(t *testing.T) {
		rec, _ := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/feedback/", map[string]interface{}{
			"prediction_id": "missing",
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback/", bytes.NewBufferString("{not json"))
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("analytics", func(t *testing.T) {
		rec, body := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/feedback/analytics", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(1), body["total_records"])
	})

	t.Run("pending requests", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/feedback/pending", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestTrainingEndpoints(t *testing.T) {
	s := newTestServer(t)

	t.Run("stats", func(t *testing.T) {
		rec, body := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/training/stats", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(0), body["total_points"])
	})

	t.Run("manual trigger with empty dataset reports rejection", func(t *testing.T) {
		rec, body := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/training/trigger", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, body["accepted"])
	})

	t.Run("schedule round trip", func(t *testing.T) {
		rec, body := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/training/schedule", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(24), body["interval_hours"])

		rec, body = doJSON(t, s.Handler(), http.MethodPut, "/api/v1/training/schedule", map[string]interface{}{
			"enabled":                  true,
			"interval_hours":           12,
			"min_data_points":          100,
			"min_accuracy_improvement": 0.02,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(12), body["interval_hours"])
	})

	t.Run("trigger disabled returns 422", func(t *testing.T) {
		s.trainer.UpdateSchedule(context.Background(), retrain.Schedule{
			Enabled: false, IntervalHours: 24, MinDataPoints: 50, MinAccuracyImprovement: 0.01,
		})
		rec, _ := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/training/trigger", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestModelEndpoints(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	t.Run("active is 404 before any deploy", func(t *testing.T) {
		rec, _ := doJSON(t, s.Handler(), http.MethodGet, "/api/v1/models/active", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("rollback without history is a conflict", func(t *testing.T) {
		rec, _ := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/models/rollback", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("list and rollback after deploys", func(t *testing.T) {
		for i := 1; i <= 2; i++ {
			v := fmt.Sprintf("v%d", i)
			require.NoError(t, s.models.Add(ctx, registry.ModelVersion{Version: v, Accuracy: 0.8}))
			require.NoError(t, s.models.Activate(ctx, v))
		}

		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/models/", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var versions []map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &versions))
		assert.Len(t, versions, 2)

		rec2, body := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/models/rollback", nil)
		require.Equal(t, http.StatusOK, rec2.Code)
		assert.Equal(t, "v1", body["version"])
	})
}

func TestTaskEndpoints(t *testing.T) {
	s := newTestServer(t)

	t.Run("list", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var configs []map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &configs))
		assert.Len(t, configs, 1)
	})

	t.Run("enable disable", func(t *testing.T) {
		rec, _ := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/tasks/feedback-collection/disable", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		rec, _ = doJSON(t, s.Handler(), http.MethodPost, "/api/v1/tasks/feedback-collection/enable", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		rec, _ = doJSON(t, s.Handler(), http.MethodPost, "/api/v1/tasks/nope/enable", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("run now and history", func(t *testing.T) {
		rec, body := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/tasks/feedback-collection/run", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["success"])
		data, ok := body["data"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, float64(0), data["examples_added"])

		rec2 := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/feedback-collection/history", nil))
		require.Equal(t, http.StatusOK, rec2.Code)
		var results []map[string]interface{}
		require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &results))
		assert.Len(t, results, 1)

		rec3, _ := doJSON(t, s.Handler(), http.MethodPost, "/api/v1/tasks/nope/run", nil)
		assert.Equal(t, http.StatusNotFound, rec3.Code)
	})
}
