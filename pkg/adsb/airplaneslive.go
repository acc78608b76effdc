package adsb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/unklstewy/ads-trace/pkg/trace"
)

// MaxRadiusNM is the largest radius the /point endpoint accepts.
const MaxRadiusNM = 250.0

// AirplanesLiveClient implements DataSource for the airplanes.live API.
// API Documentation: https://airplanes.live/api-guide/
type AirplanesLiveClient struct {
	// baseURL is the API base URL (default: https://api.airplanes.live/v2)
	baseURL string

	// httpClient is the HTTP client used for API requests
	httpClient *http.Client

	// limiter spaces out requests to stay under the API rate limit
	limiter *rate.Limiter
}

// NewAirplanesLiveClient creates a new airplanes.live API client.
// minInterval is the minimum time between requests; zero disables limiting.
func NewAirplanesLiveClient(baseURL string, minInterval time.Duration) *AirplanesLiveClient {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}

	return &AirplanesLiveClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// GetAircraft returns all aircraft within a radius of a given point.
// Uses the /point/[lat]/[lon]/[radius] endpoint; radius is capped at 250 NM.
func (c *AirplanesLiveClient) GetAircraft(ctx context.Context, centerLat, centerLon, radiusNM float64) (*Snapshot, error) {
	if radiusNM > MaxRadiusNM {
		radiusNM = MaxRadiusNM
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	url := fmt.Sprintf("%s/point/%.4f/%.4f/%.0f", c.baseURL, centerLat, centerLon, radiusNM)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch aircraft data: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header),
			Message:    "Rate limit exceeded",
		}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var apiResp airplanesLiveResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse API response: %w", err)
	}

	return apiResp.snapshot(), nil
}

// Close is a no-op; the client holds no persistent connections.
func (c *AirplanesLiveClient) Close() error {
	return nil
}

// airplanesLiveResponse is the JSON response from the airplanes.live API.
type airplanesLiveResponse struct {
	Aircraft []airplanesLiveAircraft `json:"ac"`

	// Now is the server time in milliseconds since the epoch
	Now float64 `json:"now"`

	Messages int `json:"messages"`
}

// airplanesLiveAircraft is a single aircraft in the response.
// Field documentation: https://airplanes.live/adsb-field-explanations/
type airplanesLiveAircraft struct {
	Hex     string          `json:"hex"`
	Flight  *string         `json:"flight"`
	Lat     *float64        `json:"lat"`
	Lon     *float64        `json:"lon"`
	AltBaro *trace.Altitude `json:"alt_baro"`
	Gs      *float64        `json:"gs"`
	Track   *float64        `json:"track"`

	// SeenPos is seconds since the last position message
	SeenPos *float64 `json:"seen_pos"`
}

func (r airplanesLiveResponse) snapshot() *Snapshot {
	now := r.Now / 1000.0
	if now == 0 {
		now = float64(time.Now().UnixMilli()) / 1000.0
	}
	snap := &Snapshot{
		Now:      now,
		Messages: r.Messages,
		Aircraft: make([]Aircraft, 0, len(r.Aircraft)),
	}
	for _, ac := range r.Aircraft {
		snap.Aircraft = append(snap.Aircraft, ac.convert(now))
	}
	return snap
}

// convert maps an API record onto Aircraft, stamping it relative to now.
func (ac airplanesLiveAircraft) convert(now float64) Aircraft {
	aircraft := Aircraft{
		ICAO:      strings.ToLower(ac.Hex),
		Timestamp: now,
	}

	if ac.Flight != nil {
		aircraft.Callsign = strings.TrimSpace(*ac.Flight)
	}
	if ac.Lat != nil && ac.Lon != nil && ac.AltBaro != nil {
		aircraft.Latitude = *ac.Lat
		aircraft.Longitude = *ac.Lon
		aircraft.Altitude = *ac.AltBaro
		aircraft.HasPosition = true
	}
	if ac.Gs != nil {
		aircraft.GroundSpeed = *ac.Gs
	}
	if ac.Track != nil {
		aircraft.Track = *ac.Track
	}
	if ac.SeenPos != nil {
		aircraft.Timestamp = now - *ac.SeenPos
	}

	return aircraft
}

// RateLimitError represents an HTTP 429 response.
type RateLimitError struct {
	StatusCode int
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %v)", e.Message, e.RetryAfter)
	}
	return e.Message
}

// IsRateLimitError checks if an error is a rate limit error.
func IsRateLimitError(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// parseRetryAfter extracts the Retry-After header as delay-seconds or an HTTP date.
// Returns 0 if the header is absent or unparseable.
func parseRetryAfter(headers http.Header) time.Duration {
	retryAfter := headers.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if retryTime, err := http.ParseTime(retryAfter); err == nil {
		if d := time.Until(retryTime); d > 0 {
			return d
		}
	}
	return 0
}
