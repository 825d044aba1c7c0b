// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PredictionsGenerated counts successful live predictions.
	PredictionsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridwatch_predictions_generated_total",
		Help: "Total number of live predictions generated.",
	})

	// PredictionsFallback counts degraded fallback predictions.
	PredictionsFallback = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridwatch_predictions_fallback_total",
		Help: "Total number of fallback predictions emitted after a generation failure.",
	})

	// PredictionCycleDuration observes one full generation cycle.
	PredictionCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gridwatch_prediction_cycle_duration_seconds",
		Help:    "Duration of a full prediction generation cycle.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	})

	// TrainingExamples counts labeled examples accepted by the curator.
	TrainingExamples = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridwatch_training_examples_total",
		Help: "Total number of labeled training examples collected.",
	})

	// FeedbackReceived counts feedback submissions by verification source.
	FeedbackReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridwatch_feedback_received_total",
		Help: "Total number of feedback records received.",
	}, []string{"source"})

	// RetrainRuns counts completed retraining attempts by outcome.
	RetrainRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridwatch_retrain_runs_total",
		Help: "Total number of retraining runs by outcome (deployed, rejected, failed).",
	}, []string{"outcome"})

	// RetrainDuration observes end-to-end retraining time.
	RetrainDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gridwatch_retrain_duration_seconds",
		Help:    "End-to-end duration of a retraining run.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	})

	// TaskRuns counts background task executions by task and result.
	TaskRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridwatch_task_runs_total",
		Help: "Total number of background task executions.",
	}, []string{"task", "result"})

	// ActiveModelAccuracy gauges the accuracy of the active model version.
	ActiveModelAccuracy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridwatch_active_model_accuracy",
		Help: "Accuracy metric of the currently active model version.",
	})
)
