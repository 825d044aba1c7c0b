// internal/providers/http.go
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// HTTPWeatherSource fetches conditions from a JSON weather endpoint.
type HTTPWeatherSource struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPWeatherSource creates a weather client for the given endpoint.
func NewHTTPWeatherSource(endpoint string, logger *zap.Logger) *HTTPWeatherSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPWeatherSource{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
	}
}

// CurrentWeather fetches the current conditions.
func (s *HTTPWeatherSource) CurrentWeather(ctx context.Context) (Weather, error) {
	var w Weather
	if err := s.getJSON(ctx, s.endpoint+"/v1/current", &w); err != nil {
		return Weather{}, fmt.Errorf("fetch weather: %w", err)
	}
	return w, nil
}

func (s *HTTPWeatherSource) getJSON(ctx context.Context, rawURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// StaticLocationSource returns a fixed configured location. Deployments
// without a positioning device pin the service to the site coordinates.
type StaticLocationSource struct {
	loc Location
}

// NewStaticLocationSource creates a source pinned to loc.
func NewStaticLocationSource(loc Location) *StaticLocationSource {
	return &StaticLocationSource{loc: loc}
}

// CurrentLocation returns the configured location.
func (s *StaticLocationSource) CurrentLocation(_ context.Context) (Location, error) {
	return s.loc, nil
}

// HTTPOutageFeed queries a utility outage API for confirmed and scheduled
// outages.
type HTTPOutageFeed struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPOutageFeed creates an outage feed client for the given endpoint.
func NewHTTPOutageFeed(endpoint string, logger *zap.Logger) *HTTPOutageFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPOutageFeed{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   logger,
	}
}

// OutagesBetween lists confirmed outages overlapping [from, to) near loc.
func (f *HTTPOutageFeed) OutagesBetween(ctx context.Context, loc Location, from, to time.Time) ([]OutageRecord, error) {
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%.4f", loc.Latitude))
	q.Set("lon", fmt.Sprintf("%.4f", loc.Longitude))
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))

	var records []OutageRecord
	if err := f.getJSON(ctx, f.endpoint+"/v1/outages?"+q.Encode(), &records); err != nil {
		return nil, fmt.Errorf("fetch outages: %w", err)
	}
	return records, nil
}

// ScheduledOutages lists utility-posted planned outages near loc.
func (f *HTTPOutageFeed) ScheduledOutages(ctx context.Context, loc Location) ([]ScheduledOutage, error) {
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%.4f", loc.Latitude))
	q.Set("lon", fmt.Sprintf("%.4f", loc.Longitude))

	var postings []ScheduledOutage
	if err := f.getJSON(ctx, f.endpoint+"/v1/scheduled?"+q.Encode(), &postings); err != nil {
		return nil, fmt.Errorf("fetch scheduled outages: %w", err)
	}
	return postings, nil
}

func (f *HTTPOutageFeed) getJSON(ctx context.Context, rawURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
