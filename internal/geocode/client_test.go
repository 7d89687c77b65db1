package geocode

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewClient(
		WithBaseURL(server.URL),
		WithAPIKey("secret"),
		WithRateLimit(100),
		WithLogger(logger),
	)
}

func TestGeocodeParsesFirstResult(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "10 Downing Street, London", r.URL.Query().Get("q"))
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"lat":"51.5034","lon":"-0.1276","display_name":"10 Downing Street"}]`))
	})

	result, err := client.Geocode(context.Background(), "10 Downing Street, London")
	require.NoError(t, err)
	assert.InDelta(t, 51.5034, result.Point.Lat, 1e-9)
	assert.InDelta(t, -0.1276, result.Point.Lng, 1e-9)
	assert.Equal(t, SourceProvider, result.Source)
}

func TestGeocodeNoResult(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := client.Geocode(context.Background(), "nowhere")
	assert.ErrorIs(t, err, ErrNoResult)

	_, err = client.Geocode(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrNoResult)
}

func TestGeocodeAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	})

	_, err := client.Geocode(context.Background(), "somewhere")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "slow down", apiErr.Message)
}
