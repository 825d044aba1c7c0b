// internal/scheduler/types.go
package scheduler

import (
	"time"

	"github.com/FairForge/gridwatch/internal/providers"
)

// FactorBreakdown attributes a prediction to its input factors.
type FactorBreakdown struct {
	Weather    float64 `json:"weather"`
	Grid       float64 `json:"grid"`
	Historical float64 `json:"historical"`
}

// PredictionDetail is the scored part of a live prediction.
type PredictionDetail struct {
	Probability float64         `json:"probability"`
	Confidence  float64         `json:"confidence"`
	RiskLevel   string          `json:"risk_level"`
	TimeWindow  string          `json:"time_window"`
	Factors     FactorBreakdown `json:"factors"`
}

// EnvironmentSnapshot captures the conditions a prediction was made under.
type EnvironmentSnapshot struct {
	Temperature   float64 `json:"temperature"`
	Humidity      float64 `json:"humidity"`
	WindSpeed     float64 `json:"wind_speed"`
	Precipitation float64 `json:"precipitation"`
	GridLoad      float64 `json:"grid_load"`
}

// LivePrediction is one inference result. The scored fields are immutable
// after creation; only the lifecycle flags (Verified, FeedbackRequested)
// are flipped later by the curator and the feedback ledger.
type LivePrediction struct {
	ID                string              `json:"id"`
	Timestamp         time.Time           `json:"timestamp"`
	Location          providers.Location  `json:"location"`
	Prediction        PredictionDetail    `json:"prediction"`
	Environment       EnvironmentSnapshot `json:"environment"`
	Recommendations   []string            `json:"recommendations"`
	NextUpdateAt      time.Time           `json:"next_update_at"`
	ModelVersion      string              `json:"model_version"`
	Verified          bool                `json:"verified"`
	FeedbackRequested bool                `json:"feedback_requested"`
}

// Trend directions
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// Trend summarizes how outage probability moved within a lookback window.
type Trend struct {
	Direction  string  `json:"direction"`
	Magnitude  float64 `json:"magnitude"`
	Confidence float64 `json:"confidence"`
	Samples    int     `json:"samples"`
}

// Status reports the scheduler's runtime state.
type Status struct {
	Running        bool      `json:"running"`
	Interval       string    `json:"interval"`
	HistorySize    int       `json:"history_size"`
	Subscribers    int       `json:"subscribers"`
	LastGenerated  time.Time `json:"last_generated"`
	NextUpdateAt   time.Time `json:"next_update_at"`
	FallbackActive bool      `json:"fallback_active"`
}
