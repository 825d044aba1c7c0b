// internal/feedback/analytics.go
package feedback

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// Trend labels shared by accuracy and volume trends.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// Analytics aggregates feedback quality over an optional time range.
type Analytics struct {
	TotalRecords             int     `json:"total_records"`
	AccuracyRate             float64 `json:"accuracy_rate"`
	AvgRating                float64 `json:"avg_rating"`
	FalsePositiveRate        float64 `json:"false_positive_rate"`
	FalseNegativeRate        float64 `json:"false_negative_rate"`
	AvgTimeToFeedbackMinutes float64 `json:"avg_time_to_feedback_minutes"`
	QualityScore             float64 `json:"quality_score"`
	EngagementScore          float64 `json:"engagement_score"`
	AccuracyTrend            string  `json:"accuracy_trend"`
	VolumeTrend              string  `json:"volume_trend"`
}

// Analytics computes aggregate feedback metrics. A zero timeRange covers
// all retained records. An empty ledger yields the zeroed record with
// stable trends, never an error.
func (l *Ledger) Analytics(timeRange time.Duration) Analytics {
	l.mu.Lock()
	all := l.records.Items()
	l.mu.Unlock()

	now := time.Now().UTC()
	var records []Record
	if timeRange > 0 {
		cutoff := now.Add(-timeRange)
		for _, r := range all {
			if r.SubmittedAt.After(cutoff) {
				records = append(records, r)
			}
		}
	} else {
		records = all
	}

	analytics := Analytics{
		TotalRecords:  len(records),
		AccuracyTrend: TrendStable,
		VolumeTrend:   TrendStable,
	}
	if len(records) == 0 {
		return analytics
	}

	var (
		accurate, verified      int
		tp, fp, fn              int
		ratings, confidences    []float64
		feedbackDelays          []float64
		last7Count, prev7Count  int
		last7Accurate, prev7Acc int
	)
	weekAgo := now.Add(-7 * 24 * time.Hour)
	twoWeeksAgo := now.Add(-14 * 24 * time.Hour)

	for _, r := range records {
		if r.WasAccurate {
			accurate++
		}
		if r.VerificationConfidence >= 0.8 {
			verified++
		}
		ratings = append(ratings, float64(r.AccuracyRating))
		confidences = append(confidences, float64(r.ConfidenceRating))
		feedbackDelays = append(feedbackDelays, r.TimeToFeedbackMinutes)

		predictedOutage := r.PredictedProbability >= 0.5
		switch {
		case predictedOutage && r.ActualOutcome:
			tp++
		case predictedOutage && !r.ActualOutcome:
			fp++
		case !predictedOutage && r.ActualOutcome:
			fn++
		}

		if r.SubmittedAt.After(weekAgo) {
			last7Count++
			if r.WasAccurate {
				last7Accurate++
			}
		} else if r.SubmittedAt.After(twoWeeksAgo) {
			prev7Count++
			if r.WasAccurate {
				prev7Acc++
			}
		}
	}

	analytics.AccuracyRate = float64(accurate) / float64(len(records))
	analytics.AvgRating = stat.Mean(ratings, nil)
	analytics.AvgTimeToFeedbackMinutes = stat.Mean(feedbackDelays, nil)
	if tp+fp > 0 {
		analytics.FalsePositiveRate = float64(fp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		analytics.FalseNegativeRate = float64(fn) / float64(tp+fn)
	}

	verifiedFraction := float64(verified) / float64(len(records))
	analytics.QualityScore = 0.5*(stat.Mean(confidences, nil)/5) + 0.5*verifiedFraction

	engagement := float64(last7Count) / 10
	if engagement > 1 {
		engagement = 1
	}
	analytics.EngagementScore = engagement

	analytics.VolumeTrend = weekOverWeek(float64(last7Count), float64(prev7Count))
	analytics.AccuracyTrend = weekOverWeek(
		rate(last7Accurate, last7Count), rate(prev7Acc, prev7Count))

	return analytics
}

func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

// weekOverWeek labels a change of more than 20% in either direction.
func weekOverWeek(current, previous float64) string {
	if previous == 0 {
		if current > 0 {
			return TrendIncreasing
		}
		return TrendStable
	}
	change := (current - previous) / previous
	switch {
	case change > 0.2:
		return TrendIncreasing
	case change < -0.2:
		return TrendDecreasing
	default:
		return TrendStable
	}
}
