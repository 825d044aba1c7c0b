// internal/feedback/ledger.go
package feedback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/FairForge/gridwatch/internal/bounded"
	"github.com/FairForge/gridwatch/internal/metrics"
	"github.com/FairForge/gridwatch/internal/scheduler"
	"github.com/FairForge/gridwatch/internal/store"
	"github.com/FairForge/gridwatch/internal/training"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	ledgerKey  = "feedback:records"
	defaultCap = 5000

	pendingAge = 24 * time.Hour
)

// Verification sources
const (
	SourceUserReport  = "user_report"
	SourceUtilityFeed = "utility_feed"
	SourceNews        = "news"
	SourceSocial      = "social"
	SourcePeerReports = "peer_reports"
)

// sourceConfidence weights how much a verification source is trusted.
var sourceConfidence = map[string]float64{
	SourceUtilityFeed: 0.95,
	SourceNews:        0.8,
	SourcePeerReports: 0.7,
	SourceUserReport:  0.6,
	SourceSocial:      0.4,
}

// ErrPredictionNotFound is surfaced on direct submission against an
// unknown prediction id; feedback without a subject is a caller bug.
var ErrPredictionNotFound = errors.New("feedback: prediction not found")

// Context carries the optional flags accompanying a submission.
type Context struct {
	VerificationSource   string `json:"verification_source"`
	PhotosAttached       bool   `json:"photos_attached"`
	CorroboratingReports bool   `json:"corroborating_reports"`
}

// Record is one judgment about a past prediction.
type Record struct {
	ID                     string                  `json:"id"`
	PredictionID           string                  `json:"prediction_id"`
	SubmittedAt            time.Time               `json:"submitted_at"`
	WasAccurate            bool                    `json:"was_accurate"`
	AccuracyRating         int                     `json:"accuracy_rating"` // 1-5
	ConfidenceRating       int                     `json:"confidence_rating"`
	TimeToFeedbackMinutes  float64                 `json:"time_to_feedback_minutes"`
	ActualOutcome          bool                    `json:"actual_outcome"`
	VerificationSource     string                  `json:"verification_source"`
	VerificationConfidence float64                 `json:"verification_confidence"`
	PhotosAttached         bool                    `json:"photos_attached"`
	CorroboratingReports   bool                    `json:"corroborating_reports"`
	PredictedProbability   float64                 `json:"predicted_probability"`
	PredictedRisk          string                  `json:"predicted_risk"`
	Outage                 *training.OutageDetail  `json:"outage,omitempty"`
}

// PendingRequest is a prediction awaiting user feedback.
type PendingRequest struct {
	PredictionID string    `json:"prediction_id"`
	Timestamp    time.Time `json:"timestamp"`
	RiskLevel    string    `json:"risk_level"`
	Priority     string    `json:"priority"`
}

// PredictionLookup is the slice of the scheduler the ledger needs.
type PredictionLookup interface {
	Prediction(id string) (scheduler.LivePrediction, bool)
	History(limit int) []scheduler.LivePrediction
	MarkFeedbackRequested(ctx context.Context, id string) bool
}

// TrainingSink receives each resolved outcome as a labeled example.
type TrainingSink interface {
	AddExample(ctx context.Context, predictionID string, outcome bool,
		detail *training.OutageDetail, report *training.UserReport) error
}

// Ledger records structured feedback tied to past predictions and computes
// aggregate quality analytics over it.
type Ledger struct {
	predictions PredictionLookup
	sink        TrainingSink
	kv          store.Store
	logger      *zap.Logger

	mu      sync.Mutex
	records *bounded.Ring[Record]
}

// NewLedger creates a ledger persisting through kv.
func NewLedger(predictions PredictionLookup, sink TrainingSink,
	kv store.Store, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		predictions: predictions,
		sink:        sink,
		kv:          kv,
		logger:      logger,
		records:     bounded.NewRing[Record](defaultCap),
	}
}

// Load restores persisted records. Corrupt snapshots start empty.
func (l *Ledger) Load(ctx context.Context) {
	data, err := l.kv.Get(ctx, ledgerKey)
	if err != nil || data == nil {
		if err != nil {
			l.logger.Warn("feedback ledger unavailable", zap.Error(err))
		}
		return
	}

	var records []Record
	if err := store.Unmarshal(data, &records); err != nil {
		l.logger.Warn("feedback ledger corrupt, starting empty", zap.Error(err))
		return
	}

	l.mu.Lock()
	l.records.Load(records)
	l.mu.Unlock()
	l.logger.Info("feedback ledger restored", zap.Int("records", len(records)))
}

// Submit records feedback about one past prediction and forwards the
// outcome into the training curator. Duplicate submissions for the same
// prediction accumulate.
func (l *Ledger) Submit(ctx context.Context, predictionID string, wasAccurate bool,
	accuracyRating, confidenceRating int, actualOutcome bool,
	detail *training.OutageDetail, fbCtx *Context) (*Record, error) {

	pred, ok := l.predictions.Prediction(predictionID)
	if !ok {
		return nil, ErrPredictionNotFound
	}

	now := time.Now().UTC()
	record := Record{
		ID:                    uuid.New().String(),
		PredictionID:          predictionID,
		SubmittedAt:           now,
		WasAccurate:           wasAccurate,
		AccuracyRating:        clampRating(accuracyRating),
		ConfidenceRating:      clampRating(confidenceRating),
		TimeToFeedbackMinutes: now.Sub(pred.Timestamp).Minutes(),
		ActualOutcome:         actualOutcome,
		VerificationSource:    SourceUserReport,
		PredictedProbability:  pred.Prediction.Probability,
		PredictedRisk:         pred.Prediction.RiskLevel,
		Outage:                detail,
	}
	if fbCtx != nil {
		if fbCtx.VerificationSource != "" {
			record.VerificationSource = fbCtx.VerificationSource
		}
		record.PhotosAttached = fbCtx.PhotosAttached
		record.CorroboratingReports = fbCtx.CorroboratingReports
	}
	record.VerificationConfidence = verificationConfidence(
		record.VerificationSource, record.CorroboratingReports, detail != nil)

	l.mu.Lock()
	l.records.Append(record)
	l.mu.Unlock()

	metrics.FeedbackReceived.WithLabelValues(record.VerificationSource).Inc()
	l.persist(ctx)

	report := &training.UserReport{
		AccuracyRating: record.AccuracyRating,
		Confidence:     float64(record.ConfidenceRating) / 5,
		HasPhoto:       record.PhotosAttached,
		Verified:       record.VerificationConfidence >= 0.8,
	}
	if err := l.sink.AddExample(ctx, predictionID, actualOutcome, detail, report); err != nil {
		l.logger.Warn("forwarding feedback to curator failed", zap.Error(err))
	}

	l.logger.Info("feedback recorded",
		zap.String("prediction_id", predictionID),
		zap.String("source", record.VerificationSource),
		zap.Float64("verification_confidence", record.VerificationConfidence))
	return &record, nil
}

// verificationConfidence combines the source weight with corroboration and
// outage-detail boosts, capped at 1.0.
func verificationConfidence(source string, corroborated, hasDetail bool) float64 {
	confidence, ok := sourceConfidence[source]
	if !ok {
		confidence = sourceConfidence[SourceUserReport]
	}
	if corroborated {
		confidence += 0.1
	}
	if hasDetail {
		confidence += 0.1
	}
	if confidence > 1 {
		confidence = 1
	}
	return confidence
}

// PendingRequests lists predictions older than 24h that lack feedback and
// have not yet been surfaced. Listed predictions are flagged so they are
// not surfaced twice.
func (l *Ledger) PendingRequests(ctx context.Context) []PendingRequest {
	l.mu.Lock()
	seen := make(map[string]bool)
	for _, r := range l.records.Items() {
		seen[r.PredictionID] = true
	}
	l.mu.Unlock()

	cutoff := time.Now().UTC().Add(-pendingAge)
	var pending []PendingRequest
	for _, pred := range l.predictions.History(0) {
		if pred.Timestamp.After(cutoff) || pred.FeedbackRequested || seen[pred.ID] {
			continue
		}
		pending = append(pending, PendingRequest{
			PredictionID: pred.ID,
			Timestamp:    pred.Timestamp,
			RiskLevel:    pred.Prediction.RiskLevel,
			Priority:     feedbackPriority(pred.Prediction.RiskLevel),
		})
		l.predictions.MarkFeedbackRequested(ctx, pred.ID)
	}
	return pending
}

func feedbackPriority(risk string) string {
	switch risk {
	case "high", "critical":
		return "high"
	case "medium":
		return "medium"
	default:
		return "low"
	}
}

// Records returns a copy of all retained records, oldest first.
func (l *Ledger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.records.Items()
}

func clampRating(r int) int {
	if r < 1 {
		return 1
	}
	if r > 5 {
		return 5
	}
	return r
}

// persist writes the snapshot; storage failures are logged, never surfaced.
func (l *Ledger) persist(ctx context.Context) {
	l.mu.Lock()
	records := l.records.Items()
	l.mu.Unlock()

	data, err := store.Marshal(records)
	if err != nil {
		l.logger.Error("marshal feedback ledger", zap.Error(err))
		return
	}
	if err := l.kv.Set(ctx, ledgerKey, data); err != nil {
		l.logger.Error("persist feedback ledger", zap.Error(err))
	}
}
