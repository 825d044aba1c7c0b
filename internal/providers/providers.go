// internal/providers/providers.go
package providers

import (
	"context"
	"time"
)

// Weather is a point-in-time conditions snapshot.
type Weather struct {
	Temperature   float64 `json:"temperature"`
	Humidity      float64 `json:"humidity"`
	WindSpeed     float64 `json:"wind_speed"`
	Precipitation float64 `json:"precipitation"`
}

// Location is a named coordinate.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name"`
}

// OutageRecord is a confirmed outage from the ground-truth feed.
type OutageRecord struct {
	StartedAt     time.Time `json:"started_at"`
	Duration      int       `json:"duration_minutes"`
	Cause         string    `json:"cause"`
	Severity      string    `json:"severity"`
	AffectedCount int       `json:"affected_count"`
}

// ScheduledOutage is a utility-posted planned outage.
type ScheduledOutage struct {
	ID       string    `json:"id"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
	Area     string    `json:"area"`
	Reason   string    `json:"reason"`
	PostedAt time.Time `json:"posted_at"`
}

// WeatherSource supplies current conditions.
type WeatherSource interface {
	CurrentWeather(ctx context.Context) (Weather, error)
}

// LocationSource supplies the device's current position.
type LocationSource interface {
	CurrentLocation(ctx context.Context) (Location, error)
}

// OutageFeed is the ground-truth source for automatic verification. A nil
// feed degrades automatic collection to a no-op.
type OutageFeed interface {
	// OutagesBetween lists confirmed outages overlapping [from, to) near loc.
	OutagesBetween(ctx context.Context, loc Location, from, to time.Time) ([]OutageRecord, error)
	// ScheduledOutages lists utility-posted planned outages near loc.
	ScheduledOutages(ctx context.Context, loc Location) ([]ScheduledOutage, error)
}
