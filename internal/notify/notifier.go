// internal/notify/notifier.go
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/FairForge/gridwatch/internal/providers"
	"github.com/FairForge/gridwatch/internal/store"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const seenKey = "notify:seen"

// Notification is one user-facing message about a posted planned outage.
type Notification struct {
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	Area     string    `json:"area"`
	StartsAt time.Time `json:"starts_at"`
}

// Dispatcher delivers notifications. Delivery is best effort; errors are
// logged by the notifier and never retried.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// LogDispatcher writes notifications to the log. It stands in until a
// push channel is wired up.
type LogDispatcher struct {
	logger *zap.Logger
}

// NewLogDispatcher creates a log-backed dispatcher.
func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogDispatcher{logger: logger}
}

// Dispatch logs the notification.
func (d *LogDispatcher) Dispatch(_ context.Context, n Notification) error {
	d.logger.Info("notification",
		zap.String("title", n.Title),
		zap.String("area", n.Area),
		zap.Time("starts_at", n.StartsAt))
	return nil
}

// Notifier polls the utility feed for newly posted scheduled outages and
// dispatches one notification per posting, rate limited.
type Notifier struct {
	feed       providers.OutageFeed
	location   providers.LocationSource
	dispatcher Dispatcher
	kv         store.Store
	logger     *zap.Logger
	limiter    *rate.Limiter

	mu   sync.Mutex
	seen map[string]bool
}

// New creates a notifier allowing at most perMinute notifications per
// minute. feed may be nil, making Poll a no-op.
func New(feed providers.OutageFeed, location providers.LocationSource,
	dispatcher Dispatcher, kv store.Store, logger *zap.Logger, perMinute int) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if perMinute <= 0 {
		perMinute = 5
	}
	return &Notifier{
		feed:       feed,
		location:   location,
		dispatcher: dispatcher,
		kv:         kv,
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		seen:       make(map[string]bool),
	}
}

// Load restores the set of already-notified posting ids.
func (n *Notifier) Load(ctx context.Context) {
	data, err := n.kv.Get(ctx, seenKey)
	if err != nil || data == nil {
		if err != nil {
			n.logger.Warn("notified-postings snapshot unavailable", zap.Error(err))
		}
		return
	}

	var ids []string
	if err := store.Unmarshal(data, &ids); err != nil {
		n.logger.Warn("notified-postings snapshot corrupt, starting empty", zap.Error(err))
		return
	}

	n.mu.Lock()
	for _, id := range ids {
		n.seen[id] = true
	}
	n.mu.Unlock()
}

// Poll fetches current scheduled-outage postings and dispatches a
// notification for each one not yet seen. Returns the number dispatched.
func (n *Notifier) Poll(ctx context.Context) int {
	if n.feed == nil {
		return 0
	}

	loc, err := n.location.CurrentLocation(ctx)
	if err != nil {
		n.logger.Warn("location lookup failed, skipping notification poll", zap.Error(err))
		return 0
	}

	postings, err := n.feed.ScheduledOutages(ctx, loc)
	if err != nil {
		n.logger.Warn("scheduled-outage poll failed", zap.Error(err))
		return 0
	}

	dispatched := 0
	for _, posting := range postings {
		n.mu.Lock()
		already := n.seen[posting.ID]
		n.mu.Unlock()
		if already {
			continue
		}

		if !n.limiter.Allow() {
			n.logger.Info("notification rate limit reached, deferring remaining postings")
			break
		}

		notification := Notification{
			Title:    "Planned outage scheduled",
			Body:     fmt.Sprintf("Utility maintenance in %s: %s", posting.Area, posting.Reason),
			Area:     posting.Area,
			StartsAt: posting.StartsAt,
		}
		if err := n.dispatcher.Dispatch(ctx, notification); err != nil {
			n.logger.Warn("notification dispatch failed",
				zap.String("posting_id", posting.ID), zap.Error(err))
			continue
		}

		n.mu.Lock()
		n.seen[posting.ID] = true
		n.mu.Unlock()
		dispatched++
	}

	if dispatched > 0 {
		n.persist(ctx)
	}
	return dispatched
}

func (n *Notifier) persist(ctx context.Context) {
	n.mu.Lock()
	ids := make([]string, 0, len(n.seen))
	for id := range n.seen {
		ids = append(ids, id)
	}
	n.mu.Unlock()

	data, err := store.Marshal(ids)
	if err != nil {
		n.logger.Error("marshal notified postings", zap.Error(err))
		return
	}
	if err := n.kv.Set(ctx, seenKey, data); err != nil {
		n.logger.Error("persist notified postings", zap.Error(err))
	}
}
