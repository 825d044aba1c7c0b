// internal/predictor/heuristic.go
package predictor

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// factor weights, tuned against historical outage data
type weights struct {
	Weather    float64
	Grid       float64
	Historical float64
	Bias       float64
}

func defaultWeights() weights {
	return weights{
		Weather:    0.45,
		Grid:       0.35,
		Historical: 0.20,
		Bias:       -0.10,
	}
}

// HeuristicEngine is a weighted-factor model. It is the default Engine
// when no external model runtime is configured, and it supports retraining
// by nudging factor weights toward misclassified examples.
type HeuristicEngine struct {
	mu      sync.RWMutex
	weights weights
	logger  *zap.Logger
}

// NewHeuristicEngine creates an engine with default weights.
func NewHeuristicEngine(logger *zap.Logger) *HeuristicEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HeuristicEngine{
		weights: defaultWeights(),
		logger:  logger,
	}
}

// Predict scores a feature vector.
func (e *HeuristicEngine) Predict(_ context.Context, f Features) (Prediction, error) {
	e.mu.RLock()
	w := e.weights
	e.mu.RUnlock()

	probability := e.score(w, f)
	confidence := 0.55 + 0.04*math.Min(float64(f.HistoricalOutages), 10)
	if confidence > 0.95 {
		confidence = 0.95
	}

	return Prediction{
		Probability: probability,
		Confidence:  confidence,
		RiskLevel:   ClassifyRisk(probability),
	}, nil
}

func (e *HeuristicEngine) score(w weights, f Features) float64 {
	weather := WeatherSeverity(f)
	grid := clamp01(f.GridLoad)
	historical := math.Min(float64(f.HistoricalOutages)/10, 1)

	raw := w.Bias + w.Weather*weather + w.Grid*grid + w.Historical*historical

	// evening demand peak
	if f.HourOfDay >= 17 && f.HourOfDay <= 21 {
		raw += 0.05
	}

	return clamp01(raw)
}

// WeatherSeverity collapses the weather inputs into a single 0..1 factor.
func WeatherSeverity(f Features) float64 {
	wind := math.Min(f.WindSpeed/100, 1)
	precip := math.Min(f.Precipitation/50, 1)
	thermal := 0.0
	if f.Temperature > 35 || f.Temperature < -10 {
		thermal = 0.5
	}
	return clamp01(0.45*wind + 0.40*precip + 0.15*thermal)
}

// Retrain evaluates the current weights against the labeled set, nudges
// them toward misclassified positives, and reports the resulting metrics.
func (e *HeuristicEngine) Retrain(ctx context.Context, examples []Example) (RetrainResult, error) {
	if len(examples) == 0 {
		return RetrainResult{}, ErrEmptyDataset
	}
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	const learningRate = 0.02
	for _, ex := range examples {
		if err := ctx.Err(); err != nil {
			return RetrainResult{}, err
		}
		predicted := e.score(e.weights, ex.Features) >= 0.5
		if predicted == ex.Outcome {
			continue
		}
		step := learningRate
		if !ex.Outcome {
			step = -learningRate
		}
		e.weights.Weather += step * WeatherSeverity(ex.Features)
		e.weights.Grid += step * clamp01(ex.Features.GridLoad)
		e.weights.Historical += step * math.Min(float64(ex.Features.HistoricalOutages)/10, 1)
		e.weights.Bias += step * 0.5
	}

	var tp, fp, tn, fn int
	for _, ex := range examples {
		predicted := e.score(e.weights, ex.Features) >= 0.5
		switch {
		case predicted && ex.Outcome:
			tp++
		case predicted && !ex.Outcome:
			fp++
		case !predicted && !ex.Outcome:
			tn++
		default:
			fn++
		}
	}

	result := RetrainResult{
		Accuracy:        float64(tp+tn) / float64(len(examples)),
		DurationMinutes: time.Since(start).Minutes(),
		DatasetSize:     len(examples),
	}
	if tp+fp > 0 {
		result.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		result.Recall = float64(tp) / float64(tp+fn)
	}

	e.logger.Info("heuristic model retrained",
		zap.Int("examples", len(examples)),
		zap.Float64("accuracy", result.Accuracy),
		zap.Float64("precision", result.Precision),
		zap.Float64("recall", result.Recall))

	return result, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
