// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/FairForge/gridwatch/internal/bounded"
	"github.com/FairForge/gridwatch/internal/metrics"
	"github.com/FairForge/gridwatch/internal/predictor"
	"github.com/FairForge/gridwatch/internal/providers"
	"github.com/FairForge/gridwatch/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	historyKey      = "predictions:history"
	fallbackModel   = "fallback-v1"
	defaultInterval = 15 * time.Minute
	defaultHistory  = 1000

	// grid telemetry is not available in the field yet
	placeholderGridLoad = 0.65
)

var defaultLocation = providers.Location{
	Latitude:  47.6062,
	Longitude: -122.3321,
	Name:      "service area center",
}

// ModelTags supplies the version tag stamped onto each prediction.
type ModelTags interface {
	ActiveTag() string
}

// Subscriber receives every new prediction.
type Subscriber func(LivePrediction)

// Scheduler produces live predictions on a fixed cadence and retains a
// bounded history of them.
type Scheduler struct {
	engine   predictor.Engine
	kv       store.Store
	weather  providers.WeatherSource
	location providers.LocationSource
	models   ModelTags
	logger   *zap.Logger
	interval time.Duration

	mu             sync.Mutex
	history        *bounded.Ring[LivePrediction]
	current        *LivePrediction
	cachedLocation *providers.Location
	subscribers    map[int]Subscriber
	nextSubID      int
	running        bool
	stop           chan struct{}
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithInterval overrides the generation cadence.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithHistoryLimit overrides the retained-history cap.
func WithHistoryLimit(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.history = bounded.NewRing[LivePrediction](n)
		}
	}
}

// New creates a scheduler. It does not start generating until Start.
func New(engine predictor.Engine, kv store.Store, weather providers.WeatherSource,
	location providers.LocationSource, models ModelTags, logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		engine:      engine,
		kv:          kv,
		weather:     weather,
		location:    location,
		models:      models,
		logger:      logger,
		interval:    defaultInterval,
		history:     bounded.NewRing[LivePrediction](defaultHistory),
		subscribers: make(map[int]Subscriber),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start loads persisted history, produces one prediction immediately, and
// arms the periodic timer. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.mu.Unlock()

	s.loadHistory(ctx)
	s.Generate(ctx)

	go s.loop(ctx)
	s.logger.Info("prediction scheduler started",
		zap.Duration("interval", s.interval))
}

// Stop disarms the periodic timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stop)
	s.logger.Info("prediction scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	s.mu.Lock()
	interval := s.interval
	s.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Generate(ctx)
			s.mu.Lock()
			if s.interval != interval {
				interval = s.interval
				ticker.Reset(interval)
			}
			s.mu.Unlock()
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// SetInterval changes the generation cadence. A running loop picks the
// new interval up after its next tick.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()
}

// ForceUpdate regenerates immediately, independent of the timer, and
// returns the new prediction.
func (s *Scheduler) ForceUpdate(ctx context.Context) LivePrediction {
	return s.Generate(ctx)
}

// Generate produces one prediction. It never fails: any error in the
// generation path degrades to a labeled fallback prediction.
func (s *Scheduler) Generate(ctx context.Context) LivePrediction {
	start := time.Now()
	pred, err := s.generate(ctx)
	if err != nil {
		s.logger.Warn("prediction generation degraded to fallback", zap.Error(err))
		metrics.PredictionsFallback.Inc()
		pred = s.fallbackPrediction()
	} else {
		metrics.PredictionsGenerated.Inc()
	}
	metrics.PredictionCycleDuration.Observe(time.Since(start).Seconds())

	s.mu.Lock()
	s.history.Append(pred)
	s.current = &pred
	subs := make([]Subscriber, 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	s.persistHistory(ctx)
	for _, fn := range subs {
		s.notify(fn, pred)
	}
	return pred
}

func (s *Scheduler) generate(ctx context.Context) (LivePrediction, error) {
	now := time.Now().UTC()
	loc := s.resolveLocation(ctx)

	if s.weather == nil {
		return LivePrediction{}, errors.New("no weather source configured")
	}
	weather, err := s.weather.CurrentWeather(ctx)
	if err != nil {
		return LivePrediction{}, fmt.Errorf("weather lookup: %w", err)
	}

	features := predictor.Features{
		Temperature:       weather.Temperature,
		Humidity:          weather.Humidity,
		WindSpeed:         weather.WindSpeed,
		Precipitation:     weather.Precipitation,
		GridLoad:          placeholderGridLoad,
		Latitude:          loc.Latitude,
		Longitude:         loc.Longitude,
		HistoricalOutages: s.historicalOutageCount(),
	}
	predictor.TemporalFeatures(&features, now)

	result, err := s.engine.Predict(ctx, features)
	if err != nil {
		return LivePrediction{}, fmt.Errorf("predict: %w", err)
	}

	pred := LivePrediction{
		ID:        uuid.New().String(),
		Timestamp: now,
		Location:  loc,
		Prediction: PredictionDetail{
			Probability: result.Probability,
			Confidence:  result.Confidence,
			RiskLevel:   result.RiskLevel,
			TimeWindow:  timeWindowLabel(result.RiskLevel),
			Factors: FactorBreakdown{
				Weather:    predictor.WeatherSeverity(features),
				Grid:       features.GridLoad,
				Historical: minF(float64(features.HistoricalOutages)/10, 1),
			},
		},
		Environment: EnvironmentSnapshot{
			Temperature:   weather.Temperature,
			Humidity:      weather.Humidity,
			WindSpeed:     weather.WindSpeed,
			Precipitation: weather.Precipitation,
			GridLoad:      features.GridLoad,
		},
		Recommendations: recommendations(result.RiskLevel),
		NextUpdateAt:    now.Add(s.interval),
		ModelVersion:    s.models.ActiveTag(),
	}
	return pred, nil
}

// resolveLocation falls back to the last cached location, then a fixed
// default. It never fails.
func (s *Scheduler) resolveLocation(ctx context.Context) providers.Location {
	loc, err := s.location.CurrentLocation(ctx)
	if err == nil {
		s.mu.Lock()
		s.cachedLocation = &loc
		s.mu.Unlock()
		return loc
	}
	s.logger.Warn("location lookup failed, using cached location", zap.Error(err))

	s.mu.Lock()
	cached := s.cachedLocation
	s.mu.Unlock()
	if cached != nil {
		return *cached
	}
	return defaultLocation
}

// historicalOutageCount derives a bounded heuristic from recent
// high-severity predictions in the retained history.
func (s *Scheduler) historicalOutageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	highRisk := 0
	for _, p := range s.history.Items() {
		if p.Prediction.RiskLevel == predictor.RiskHigh || p.Prediction.RiskLevel == predictor.RiskCritical {
			highRisk++
		}
	}
	count := highRisk / 10
	if count < 1 {
		count = 1
	}
	return count
}

func (s *Scheduler) fallbackPrediction() LivePrediction {
	now := time.Now().UTC()

	s.mu.Lock()
	loc := defaultLocation
	if s.cachedLocation != nil {
		loc = *s.cachedLocation
	}
	s.mu.Unlock()

	return LivePrediction{
		ID:        uuid.New().String(),
		Timestamp: now,
		Location:  loc,
		Prediction: PredictionDetail{
			Probability: 0.15,
			Confidence:  0.3,
			RiskLevel:   predictor.RiskLow,
			TimeWindow:  timeWindowLabel(predictor.RiskLow),
		},
		Recommendations: []string{"Conditions unknown, monitoring degraded"},
		NextUpdateAt:    now.Add(s.interval),
		ModelVersion:    fallbackModel,
	}
}

// Subscribe registers a listener for every future prediction. If a current
// prediction exists it is delivered immediately. The returned function
// removes the subscription.
func (s *Scheduler) Subscribe(fn Subscriber) func() {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	current := s.current
	s.mu.Unlock()

	if current != nil {
		s.notify(fn, *current)
	}

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// notify invokes one subscriber, containing any panic so the remaining
// subscribers still receive the prediction.
func (s *Scheduler) notify(fn Subscriber, pred LivePrediction) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("subscriber panicked",
				zap.Any("panic", r),
				zap.String("prediction_id", pred.ID))
		}
	}()
	fn(pred)
}

// CurrentPrediction returns the latest prediction, nil before the first
// generation.
func (s *Scheduler) CurrentPrediction() *LivePrediction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	out := *s.current
	return &out
}

// History returns up to limit predictions, most recent first. A limit of 0
// returns everything retained.
func (s *Scheduler) History(limit int) []LivePrediction {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.history.ItemsNewestFirst()
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// Prediction looks up a retained prediction by id.
func (s *Scheduler) Prediction(id string) (LivePrediction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.history.Items() {
		if p.ID == id {
			return p, true
		}
	}
	return LivePrediction{}, false
}

// MarkVerified flags a prediction as resolved by automatic verification.
func (s *Scheduler) MarkVerified(ctx context.Context, id string) bool {
	ok := s.markFlag(id, func(p *LivePrediction) { p.Verified = true })
	if ok {
		s.persistHistory(ctx)
	}
	return ok
}

// MarkFeedbackRequested flags a prediction as already surfaced for feedback.
func (s *Scheduler) MarkFeedbackRequested(ctx context.Context, id string) bool {
	ok := s.markFlag(id, func(p *LivePrediction) { p.FeedbackRequested = true })
	if ok {
		s.persistHistory(ctx)
	}
	return ok
}

func (s *Scheduler) markFlag(id string, mutate func(*LivePrediction)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.history.Items() {
		if p.ID == id {
			mutate(&p)
			s.history.Replace(i, p)
			if s.current != nil && s.current.ID == id {
				s.current = &p
			}
			return true
		}
	}
	return false
}

// Status reports runtime state for the API surface.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:     s.running,
		Interval:    s.interval.String(),
		HistorySize: s.history.Len(),
		Subscribers: len(s.subscribers),
	}
	if s.current != nil {
		st.LastGenerated = s.current.Timestamp
		st.NextUpdateAt = s.current.NextUpdateAt
		st.FallbackActive = s.current.ModelVersion == fallbackModel
	}
	return st
}

func (s *Scheduler) loadHistory(ctx context.Context) {
	data, err := s.kv.Get(ctx, historyKey)
	if err != nil || data == nil {
		if err != nil {
			s.logger.Warn("prediction history unavailable", zap.Error(err))
		}
		return
	}

	var items []LivePrediction
	if err := store.Unmarshal(data, &items); err != nil {
		s.logger.Warn("prediction history corrupt, starting empty", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.history.Load(items)
	if newest, ok := s.history.Newest(); ok {
		s.current = &newest
	}
	s.mu.Unlock()

	s.logger.Info("prediction history restored", zap.Int("entries", len(items)))
}

func (s *Scheduler) persistHistory(ctx context.Context) {
	s.mu.Lock()
	items := s.history.Items()
	s.mu.Unlock()

	data, err := store.Marshal(items)
	if err != nil {
		s.logger.Error("marshal prediction history", zap.Error(err))
		return
	}
	if err := s.kv.Set(ctx, historyKey, data); err != nil {
		s.logger.Error("persist prediction history", zap.Error(err))
	}
}

func timeWindowLabel(risk string) string {
	switch risk {
	case predictor.RiskCritical:
		return "Next 2 hours"
	case predictor.RiskHigh:
		return "Next 6 hours"
	case predictor.RiskMedium:
		return "Next 12 hours"
	default:
		return "Next 24 hours"
	}
}

func recommendations(risk string) []string {
	switch risk {
	case predictor.RiskCritical:
		return []string{
			"Charge backup batteries now",
			"Prepare flashlights and emergency supplies",
			"Unplug sensitive electronics",
		}
	case predictor.RiskHigh:
		return []string{
			"Charge devices and backup batteries",
			"Locate flashlights and candles",
		}
	case predictor.RiskMedium:
		return []string{"Keep devices charged"}
	default:
		return []string{"No action needed"}
	}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
