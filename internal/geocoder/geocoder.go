// Vigia - Violent Death News Monitoring and Incident Deduplication
// Copyright 2026 The Vigia Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigia-news/vigia

// Package geocoder resolves incident locations to coordinates through a
// Maps-compatible forward geocoding endpoint.
//
// Geocoding is strictly optional: deployments without an API key run the
// Noop implementation and incidents simply stay coordinate-less.
package geocoder

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/vigia-news/vigia/internal/cache"
	"github.com/vigia-news/vigia/internal/config"
	"github.com/vigia-news/vigia/internal/metrics"
	"github.com/vigia-news/vigia/internal/models"
)

// geocodeSource is stamped on every result this client produces.
const geocodeSource = "google_maps"

// maxResponseBytes bounds one geocode response read.
const maxResponseBytes = 1 << 20 // 1 MiB

// Incident addresses repeat heavily within a city, and address geometry
// does not move; answered lookups, misses included, are held for a day.
const (
	cacheSize = 4096
	cacheTTL  = 24 * time.Hour
)

// precisions maps the endpoint's location types onto ours. The confidence
// values are fixed per precision tier; the endpoint reports none itself.
var precisions = map[string]struct {
	precision  models.GeocodePrecision
	confidence float64
}{
	"ROOFTOP":            {models.GeocodeExact, 0.95},
	"RANGE_INTERPOLATED": {models.GeocodeApproximate, 0.8},
	"GEOMETRIC_CENTER":   {models.GeocodeNeighborhoodCenter, 0.6},
	"APPROXIMATE":        {models.GeocodeCityCenter, 0.4},
}

// Client geocodes addresses. Safe for concurrent use; the internal limiter
// spaces outbound requests and answered lookups are memoized.
type Client struct {
	cfg     *config.GeocoderConfig
	client  *http.Client
	limiter *rate.Limiter
	cache   *cache.LRU[*models.GeocodeResult]
}

// New creates a geocoding client from configuration. Callers are expected
// to check cfg.Active() and wire Noop instead when it reports false.
func New(cfg *config.GeocoderConfig) *Client {
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Every(cfg.RequestInterval), 1),
		cache:   cache.New[*models.GeocodeResult](cacheSize, cacheTTL),
	}
}

// Geocode resolves an address to coordinates. A nil result with a nil error
// means the endpoint had no match; blank addresses short-circuit to that
// same answer without a request. Repeat lookups, cached misses included,
// are served from memory without touching the endpoint or the limiter.
func (c *Client) Geocode(ctx context.Context, address string) (*models.GeocodeResult, error) {
	if strings.TrimSpace(address) == "" {
		return nil, nil
	}
	if result, ok := c.cache.Get(address); ok {
		metrics.GeocodeRequestsTotal.WithLabelValues("cached").Inc()
		return result, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := c.query(ctx, address)
	switch {
	case err != nil:
		metrics.RecordGeocode("error", time.Since(start))
	case result == nil:
		metrics.RecordGeocode("zero_results", time.Since(start))
	default:
		metrics.RecordGeocode("ok", time.Since(start))
	}
	if err == nil {
		c.cache.Add(address, result)
	}
	return result, err
}

// geocodeResponse mirrors the endpoint's JSON shape; only the fields the
// converter reads are declared.
type geocodeResponse struct {
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message"`
	Results      []geocodeEntry `json:"results"`
}

type geocodeEntry struct {
	FormattedAddress string `json:"formatted_address"`
	PlaceID          string `json:"place_id"`
	PlusCode         struct {
		GlobalCode string `json:"global_code"`
	} `json:"plus_code"`
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		LocationType string `json:"location_type"`
	} `json:"geometry"`
}

func (c *Client) query(ctx context.Context, address string) (*models.GeocodeResult, error) {
	endpoint, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing geocoder URL: %w", err)
	}

	params := url.Values{}
	params.Set("address", address)
	params.Set("key", c.cfg.APIKey)
	if c.cfg.Region != "" {
		params.Set("region", c.cfg.Region)
	}
	if c.cfg.Language != "" {
		params.Set("language", c.cfg.Language)
	}
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building geocode request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocoder returned status %d", resp.StatusCode)
	}

	var decoded geocodeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding geocode response: %w", err)
	}
	return convert(&decoded)
}

// convert turns the endpoint envelope into a GeocodeResult. ZERO_RESULTS is
// a clean miss, every other non-OK status is an error.
func convert(resp *geocodeResponse) (*models.GeocodeResult, error) {
	switch resp.Status {
	case "OK":
	case "ZERO_RESULTS":
		return nil, nil
	default:
		if resp.ErrorMessage != "" {
			return nil, fmt.Errorf("geocoder status %s: %s", resp.Status, resp.ErrorMessage)
		}
		return nil, fmt.Errorf("geocoder status %s", resp.Status)
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}

	entry := resp.Results[0]
	mapped, ok := precisions[entry.Geometry.LocationType]
	if !ok {
		mapped.precision = models.GeocodeApproximate
		mapped.confidence = 0.5
	}

	out := &models.GeocodeResult{
		Latitude:   entry.Geometry.Location.Lat,
		Longitude:  entry.Geometry.Location.Lng,
		Precision:  mapped.precision,
		Source:     geocodeSource,
		Confidence: mapped.confidence,
	}
	if entry.PlaceID != "" {
		out.PlaceID = &entry.PlaceID
	}
	if entry.FormattedAddress != "" {
		out.FormattedAddress = &entry.FormattedAddress
	}
	if entry.PlusCode.GlobalCode != "" {
		out.PlusCode = &entry.PlusCode.GlobalCode
	}
	return out, nil
}

// AddressFor composes the lookup address from an incident's location
// fields, most specific first. Empty parts are skipped; the country suffix
// anchors region biasing.
func AddressFor(neighborhood, city, state string) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{neighborhood, city, state} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(append(parts, "Brasil"), ", ")
}

// Noop is the inactive geocoder: every lookup is a clean miss. Wired when
// geocoding is disabled or keyless so callers need no special case.
type Noop struct{}

// Geocode always reports no match.
func (Noop) Geocode(context.Context, string) (*models.GeocodeResult, error) {
	return nil, nil
}
