// internal/training/curator.go
package training

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/FairForge/gridwatch/internal/bounded"
	"github.com/FairForge/gridwatch/internal/metrics"
	"github.com/FairForge/gridwatch/internal/predictor"
	"github.com/FairForge/gridwatch/internal/providers"
	"github.com/FairForge/gridwatch/internal/scheduler"
	"github.com/FairForge/gridwatch/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	datasetKey = "training:dataset"

	defaultCap          = 10000
	verificationHorizon = 6 * time.Hour
	outageLookAhead     = 6 * time.Hour
	stalenessLimit      = 180 * 24 * time.Hour // ~6 months
)

// Example sources
const (
	SourceFeedback  = "feedback"
	SourceAutomatic = "automatic"
)

// OutageDetail describes a confirmed outage tied to an example.
type OutageDetail struct {
	StartedAt       time.Time `json:"started_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Cause           string    `json:"cause"`
	Severity        string    `json:"severity"`
	AffectedCount   int       `json:"affected_count"`
}

// UserReport carries reporter metadata attached to an example.
type UserReport struct {
	AccuracyRating int     `json:"accuracy_rating"` // 1-5
	Confidence     float64 `json:"confidence"`
	HasPhoto       bool    `json:"has_photo"`
	Verified       bool    `json:"verified"`
}

// Point is one labeled training example. Immutable once created.
type Point struct {
	ID           string                     `json:"id"`
	Timestamp    time.Time                  `json:"timestamp"`
	PredictionID string                     `json:"prediction_id"`
	Features     predictor.Features         `json:"features"`
	Outcome      bool                       `json:"outcome"`
	Outage       *OutageDetail              `json:"outage,omitempty"`
	Report       *UserReport                `json:"report,omitempty"`
	Predicted    scheduler.PredictionDetail `json:"predicted"`
	Source       string                     `json:"source"`
	Verified     bool                       `json:"verified"`
}

// Stats summarizes the dataset for the retraining triggers and the API.
type Stats struct {
	TotalPoints   int     `json:"total_points"`
	Positive      int     `json:"positive"`
	Negative      int     `json:"negative"`
	RecentCount   int     `json:"recent_count"` // last 30 days
	AvgUserRating float64 `json:"avg_user_rating"`
	QualityScore  float64 `json:"quality_score"`
}

// PredictionLookup is the slice of the scheduler the curator needs.
type PredictionLookup interface {
	Prediction(id string) (scheduler.LivePrediction, bool)
	History(limit int) []scheduler.LivePrediction
	MarkVerified(ctx context.Context, id string) bool
}

// Curator accumulates labeled examples from explicit feedback and
// automatic verification against the ground-truth outage feed.
type Curator struct {
	predictions PredictionLookup
	feed        providers.OutageFeed
	kv          store.Store
	logger      *zap.Logger

	mu     sync.Mutex
	points *bounded.Ring[Point]

	onDataAdded func(ctx context.Context)
}

// NewCurator creates a curator. feed may be nil, in which case automatic
// collection is a no-op.
func NewCurator(predictions PredictionLookup, feed providers.OutageFeed,
	kv store.Store, logger *zap.Logger) *Curator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Curator{
		predictions: predictions,
		feed:        feed,
		kv:          kv,
		logger:      logger,
		points:      bounded.NewRing[Point](defaultCap),
	}
}

// OnDataAdded registers the hook fired after each accepted example. The
// retraining engine uses it for its eligibility check.
func (c *Curator) OnDataAdded(fn func(ctx context.Context)) {
	c.onDataAdded = fn
}

// Load restores the persisted dataset. Corrupt snapshots start empty.
func (c *Curator) Load(ctx context.Context) {
	data, err := c.kv.Get(ctx, datasetKey)
	if err != nil || data == nil {
		if err != nil {
			c.logger.Warn("training dataset unavailable", zap.Error(err))
		}
		return
	}

	var points []Point
	if err := store.Unmarshal(data, &points); err != nil {
		c.logger.Warn("training dataset corrupt, starting empty", zap.Error(err))
		return
	}

	c.mu.Lock()
	c.points.Load(points)
	c.mu.Unlock()
	c.logger.Info("training dataset restored", zap.Int("points", len(points)))
}

// AddExample labels a past prediction. A missing antecedent is logged and
// ignored: automatic pipelines must never crash on a stale id.
func (c *Curator) AddExample(ctx context.Context, predictionID string, outcome bool,
	detail *OutageDetail, report *UserReport) error {
	pred, ok := c.predictions.Prediction(predictionID)
	if !ok {
		c.logger.Info("training example references unknown prediction, skipping",
			zap.String("prediction_id", predictionID))
		return nil
	}

	c.appendPoint(ctx, pred, outcome, detail, report, SourceFeedback)

	if c.onDataAdded != nil {
		c.onDataAdded(ctx)
	}
	return nil
}

func (c *Curator) appendPoint(ctx context.Context, pred scheduler.LivePrediction,
	outcome bool, detail *OutageDetail, report *UserReport, source string) {
	verified := source == SourceAutomatic
	if report != nil && report.Verified {
		verified = true
	}

	point := Point{
		ID:           uuid.New().String(),
		Timestamp:    time.Now().UTC(),
		PredictionID: pred.ID,
		Features:     featuresFromPrediction(pred),
		Outcome:      outcome,
		Outage:       detail,
		Report:       report,
		Predicted:    pred.Prediction,
		Source:       source,
		Verified:     verified,
	}

	c.mu.Lock()
	c.points.Append(point)
	c.mu.Unlock()

	metrics.TrainingExamples.Inc()
	c.persist(ctx)
}

// featuresFromPrediction reconstructs the input vector a prediction was
// made from, out of its environmental snapshot.
func featuresFromPrediction(pred scheduler.LivePrediction) predictor.Features {
	f := predictor.Features{
		Temperature:       pred.Environment.Temperature,
		Humidity:          pred.Environment.Humidity,
		WindSpeed:         pred.Environment.WindSpeed,
		Precipitation:     pred.Environment.Precipitation,
		GridLoad:          pred.Environment.GridLoad,
		Latitude:          pred.Location.Latitude,
		Longitude:         pred.Location.Longitude,
		HistoricalOutages: int(pred.Prediction.Factors.Historical * 10),
	}
	predictor.TemporalFeatures(&f, pred.Timestamp)
	return f
}

// CollectAutomatic resolves predictions older than the verification horizon
// against the ground-truth feed and labels them. Already-verified
// predictions are skipped. Returns the number of examples emitted.
func (c *Curator) CollectAutomatic(ctx context.Context) int {
	if c.feed == nil {
		return 0
	}

	horizon := time.Now().UTC().Add(-verificationHorizon)
	emitted := 0

	for _, pred := range c.predictions.History(0) {
		if pred.Verified || pred.Timestamp.After(horizon) {
			continue
		}

		records, err := c.feed.OutagesBetween(ctx, pred.Location,
			pred.Timestamp, pred.Timestamp.Add(outageLookAhead))
		if err != nil {
			c.logger.Warn("ground-truth lookup failed, will retry next cycle",
				zap.String("prediction_id", pred.ID), zap.Error(err))
			continue
		}

		var detail *OutageDetail
		outcome := len(records) > 0
		if outcome {
			detail = &OutageDetail{
				StartedAt:       records[0].StartedAt,
				DurationMinutes: records[0].Duration,
				Cause:           records[0].Cause,
				Severity:        records[0].Severity,
				AffectedCount:   records[0].AffectedCount,
			}
		}

		c.appendPoint(ctx, pred, outcome, detail, nil, SourceAutomatic)
		c.predictions.MarkVerified(ctx, pred.ID)
		emitted++
	}

	if emitted > 0 {
		c.logger.Info("automatic verification pass complete", zap.Int("examples", emitted))
		if c.onDataAdded != nil {
			c.onDataAdded(ctx)
		}
	}
	return emitted
}

// PrepareDataset returns a class-balanced, shuffled copy of the usable
// dataset. The majority class is truncated to the minority class's size,
// keeping the most recent points of each class.
func (c *Curator) PrepareDataset() []Point {
	c.mu.Lock()
	all := c.points.ItemsNewestFirst()
	c.mu.Unlock()

	cutoff := time.Now().UTC().Add(-stalenessLimit)
	var positives, negatives []Point
	for _, p := range all {
		if !wellFormed(p) || p.Timestamp.Before(cutoff) {
			continue
		}
		if p.Outcome {
			positives = append(positives, p)
		} else {
			negatives = append(negatives, p)
		}
	}

	n := len(positives)
	if len(negatives) < n {
		n = len(negatives)
	}
	balanced := make([]Point, 0, 2*n)
	balanced = append(balanced, positives[:n]...)
	balanced = append(balanced, negatives[:n]...)

	rand.Shuffle(len(balanced), func(i, j int) {
		balanced[i], balanced[j] = balanced[j], balanced[i]
	})
	return balanced
}

func wellFormed(p Point) bool {
	if p.Timestamp.IsZero() || p.PredictionID == "" {
		return false
	}
	prob := p.Predicted.Probability
	return prob >= 0 && prob <= 1
}

// Examples converts prepared points into the engine's training format.
func Examples(points []Point) []predictor.Example {
	out := make([]predictor.Example, len(points))
	for i, p := range points {
		out[i] = predictor.Example{Features: p.Features, Outcome: p.Outcome}
	}
	return out
}

// Stats computes dataset statistics and the composite quality score.
func (c *Curator) Stats() Stats {
	c.mu.Lock()
	all := c.points.Items()
	c.mu.Unlock()

	stats := Stats{TotalPoints: len(all)}
	recentCutoff := time.Now().UTC().Add(-30 * 24 * time.Hour)

	verified := 0
	ratingSum, ratingCount := 0, 0
	for _, p := range all {
		if p.Outcome {
			stats.Positive++
		} else {
			stats.Negative++
		}
		if p.Timestamp.After(recentCutoff) {
			stats.RecentCount++
		}
		if p.Verified {
			verified++
		}
		if p.Report != nil && p.Report.AccuracyRating > 0 {
			ratingSum += p.Report.AccuracyRating
			ratingCount++
		}
	}

	if ratingCount > 0 {
		stats.AvgUserRating = float64(ratingSum) / float64(ratingCount)
	}
	if len(all) > 0 {
		verifiedFraction := float64(verified) / float64(len(all))
		recency := float64(stats.RecentCount) / 50
		if recency > 1 {
			recency = 1
		}
		score := 0.4*verifiedFraction + 0.3*(stats.AvgUserRating/5) + 0.3*recency
		if score > 1 {
			score = 1
		}
		if score < 0 {
			score = 0
		}
		stats.QualityScore = score
	}
	return stats
}

// Len returns the number of retained points.
func (c *Curator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.points.Len()
}

// Prune evicts points past the staleness limit from the retained dataset
// and persists the survivors. Returns the number evicted.
func (c *Curator) Prune(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-stalenessLimit)

	c.mu.Lock()
	all := c.points.Items()
	kept := make([]Point, 0, len(all))
	for _, p := range all {
		if p.Timestamp.Before(cutoff) {
			continue
		}
		kept = append(kept, p)
	}
	evicted := len(all) - len(kept)
	if evicted > 0 {
		c.points.Load(kept)
	}
	c.mu.Unlock()

	if evicted > 0 {
		c.logger.Info("stale training points evicted", zap.Int("evicted", evicted))
		c.persist(ctx)
	}
	return evicted
}

// persist writes the snapshot; storage failures are logged, never surfaced.
func (c *Curator) persist(ctx context.Context) {
	c.mu.Lock()
	points := c.points.Items()
	c.mu.Unlock()

	data, err := store.Marshal(points)
	if err != nil {
		c.logger.Error("marshal training dataset", zap.Error(err))
		return
	}
	if err := c.kv.Set(ctx, datasetKey, data); err != nil {
		c.logger.Error("persist training dataset", zap.Error(err))
	}
}
