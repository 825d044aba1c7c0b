// internal/scheduler/trends.go
package scheduler

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// Timeframes accepted by Trends.
var trendWindows = map[string]time.Duration{
	"1h":  time.Hour,
	"3h":  3 * time.Hour,
	"6h":  6 * time.Hour,
	"12h": 12 * time.Hour,
	"24h": 24 * time.Hour,
}

// Trends summarizes probability movement inside a lookback window. With
// fewer than two samples in the window the trend is reported stable with
// neutral confidence.
func (s *Scheduler) Trends(timeframe string) Trend {
	window, ok := trendWindows[timeframe]
	if !ok {
		window = 6 * time.Hour
	}
	cutoff := time.Now().UTC().Add(-window)

	s.mu.Lock()
	var probabilities []float64
	for _, p := range s.history.Items() {
		if p.Timestamp.After(cutoff) {
			probabilities = append(probabilities, p.Prediction.Probability)
		}
	}
	s.mu.Unlock()

	if len(probabilities) < 2 {
		return Trend{
			Direction:  TrendStable,
			Magnitude:  0,
			Confidence: 0.5,
			Samples:    len(probabilities),
		}
	}

	mid := len(probabilities) / 2
	firstHalf := stat.Mean(probabilities[:mid], nil)
	secondHalf := stat.Mean(probabilities[mid:], nil)
	delta := secondHalf - firstHalf

	direction := TrendStable
	switch {
	case delta > 0.05:
		direction = TrendIncreasing
	case delta < -0.05:
		direction = TrendDecreasing
	}

	magnitude := delta
	if magnitude < 0 {
		magnitude = -magnitude
	}
	magnitude = minF(magnitude*2, 1)

	return Trend{
		Direction:  direction,
		Magnitude:  magnitude,
		Confidence: minF(float64(len(probabilities))/10, 1),
		Samples:    len(probabilities),
	}
}
