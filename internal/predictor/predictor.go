// internal/predictor/predictor.go
package predictor

import (
	"context"
	"errors"
	"time"
)

// Risk levels
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// Features is the input vector for one prediction.
type Features struct {
	Temperature       float64 `json:"temperature"`
	Humidity          float64 `json:"humidity"`
	WindSpeed         float64 `json:"wind_speed"`
	Precipitation     float64 `json:"precipitation"`
	GridLoad          float64 `json:"grid_load"`
	HourOfDay         int     `json:"hour_of_day"`
	DayOfWeek         int     `json:"day_of_week"`
	IsWeekend         bool    `json:"is_weekend"`
	Latitude          float64 `json:"latitude"`
	Longitude         float64 `json:"longitude"`
	HistoricalOutages int     `json:"historical_outages"`
}

// Prediction is the engine's answer for one feature vector.
type Prediction struct {
	Probability float64 `json:"probability"`
	Confidence  float64 `json:"confidence"`
	RiskLevel   string  `json:"risk_level"`
}

// Example is one labeled training case.
type Example struct {
	Features Features `json:"features"`
	Outcome  bool     `json:"outcome"`
}

// RetrainResult reports the outcome of a retraining run.
type RetrainResult struct {
	Accuracy        float64 `json:"accuracy"`
	Precision       float64 `json:"precision"`
	Recall          float64 `json:"recall"`
	DurationMinutes float64 `json:"duration_minutes"`
	DatasetSize     int     `json:"dataset_size"`
}

// F1 returns the harmonic mean of precision and recall.
func (r RetrainResult) F1() float64 {
	if r.Precision+r.Recall == 0 {
		return 0
	}
	return 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
}

// ErrEmptyDataset is returned when retraining is attempted with no examples.
var ErrEmptyDataset = errors.New("predictor: empty training dataset")

// Engine maps feature vectors to outage probabilities and can be retrained
// on a labeled dataset. Implementations must be safe for concurrent use.
type Engine interface {
	Predict(ctx context.Context, features Features) (Prediction, error)
	Retrain(ctx context.Context, examples []Example) (RetrainResult, error)
}

// ClassifyRisk maps a probability to a coarse risk level.
func ClassifyRisk(probability float64) string {
	switch {
	case probability >= 0.8:
		return RiskCritical
	case probability >= 0.6:
		return RiskHigh
	case probability >= 0.35:
		return RiskMedium
	default:
		return RiskLow
	}
}

// TemporalFeatures fills the time-derived fields of a feature vector.
func TemporalFeatures(f *Features, at time.Time) {
	f.HourOfDay = at.Hour()
	f.DayOfWeek = int(at.Weekday())
	f.IsWeekend = at.Weekday() == time.Saturday || at.Weekday() == time.Sunday
}
