// internal/service/geo/geocoder_test.go

package geo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNominatimGeocode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "mumbai", r.URL.Query().Get("q"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		assert.Equal(t, "pulsemap-test", r.Header.Get("User-Agent"))

		fmt.Fprint(w, `[{"lat":"19.0760","lon":"72.8777"}]`)
	}))
	defer server.Close()

	client := NewNominatimClient(server.URL, "pulsemap-test")
	coords, err := client.Geocode(context.Background(), "mumbai")
	require.NoError(t, err)
	assert.InDelta(t, 19.0760, coords.Lat, 1e-9)
	assert.InDelta(t, 72.8777, coords.Lon, 1e-9)
}

func TestNominatimGeocodeNoResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer server.Close()

	client := NewNominatimClient(server.URL, "")
	_, err := client.Geocode(context.Background(), "atlantis")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNominatimGeocodeServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewNominatimClient(server.URL, "")
	_, err := client.Geocode(context.Background(), "mumbai")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
