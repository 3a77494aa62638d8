// internal/service/geo/geocoder.go

package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"pulsemap/internal/domain/feed"
)

// ErrNotFound reports that the geocoder had no result for a location name.
var ErrNotFound = errors.New("geo: location not found")

// Geocoder resolves a location name to coordinates. Implementations return
// ErrNotFound when the service answered but knows no such place; any other
// error is treated as transient by callers.
type Geocoder interface {
	Geocode(ctx context.Context, location string) (feed.Coordinates, error)
}

const defaultNominatimURL = "https://nominatim.openstreetmap.org"

// NominatimClient geocodes through the OpenStreetMap Nominatim search API.
type NominatimClient struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// NewNominatimClient creates a Nominatim client. baseURL and userAgent fall
// back to the public instance and a default identifier when empty.
func NewNominatimClient(baseURL, userAgent string) *NominatimClient {
	if baseURL == "" {
		baseURL = defaultNominatimURL
	}
	if userAgent == "" {
		userAgent = "pulsemap/1.0"
	}
	return &NominatimClient{
		baseURL:   baseURL,
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: time.Second * 10,
		},
	}
}

// Geocode looks a location name up and returns its best-match coordinates.
func (c *NominatimClient) Geocode(ctx context.Context, location string) (feed.Coordinates, error) {
	params := url.Values{}
	params.Set("q", location)
	params.Set("format", "json")
	params.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return feed.Coordinates{}, err
	}
	// Nominatim rejects requests without an identifying User-Agent.
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return feed.Coordinates{}, fmt.Errorf("nominatim request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return feed.Coordinates{}, fmt.Errorf("nominatim returned status code %d", resp.StatusCode)
	}

	var results []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return feed.Coordinates{}, fmt.Errorf("nominatim decode: %w", err)
	}
	if len(results) == 0 {
		return feed.Coordinates{}, ErrNotFound
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return feed.Coordinates{}, fmt.Errorf("nominatim latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return feed.Coordinates{}, fmt.Errorf("nominatim longitude: %w", err)
	}
	return feed.Coordinates{Lat: lat, Lon: lon}, nil
}
