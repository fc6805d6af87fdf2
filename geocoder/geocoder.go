// Package geocoder resolves coordinates to a human-readable address via
// Nominatim. Lookups are best-effort: callers substitute FallbackAddress
// when the lookup fails, and ingestion is never aborted on a geocoding
// failure.
package geocoder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

const (
	// UserAgent is required by the Nominatim usage policy.
	UserAgent = "civic311/1.0 (311-report-backend)"
	// FallbackAddress is stored when reverse geocoding fails or returns
	// no display name.
	FallbackAddress = "Address not found"
	// Nominatim allows at most 1 request per second.
	minRequestInterval = time.Second
)

// Geocoder resolves coordinates to an address.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
}

// Client is a rate-limited Nominatim reverse geocoding client.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	rateLock    sync.Mutex
	lastRequest time.Time
}

// NewClient creates a geocoder client with a bounded request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type reverseResponse struct {
	DisplayName string `json:"display_name"`
}

// ReverseGeocode returns the display name for the coordinates.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	c.waitForRateLimit()

	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, "GET",
		c.baseURL+"/reverse?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create reverse geocode request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("reverse geocode request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("reverse geocode returned status %d", resp.StatusCode)
	}

	var result reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode reverse geocode response: %w", err)
	}
	if result.DisplayName == "" {
		return "", fmt.Errorf("reverse geocode returned no display name")
	}
	return result.DisplayName, nil
}

func (c *Client) waitForRateLimit() {
	c.rateLock.Lock()
	defer c.rateLock.Unlock()
	if elapsed := time.Since(c.lastRequest); elapsed < minRequestInterval {
		time.Sleep(minRequestInterval - elapsed)
	}
	c.lastRequest = time.Now()
}
