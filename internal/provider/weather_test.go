package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeatherRequestPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"weather": [{"description": "light rain"}],
			"main": {"temp": 21.5, "humidity": 80, "pressure": 1008},
			"wind": {"speed": 3.2},
			"clouds": {"all": 90},
			"visibility": 8000
		}`))
	}))
	defer srv.Close()

	p := NewOpenWeatherProvider(OpenWeatherConfig{
		BaseURL: srv.URL + "/data/2.5",
		APIKey:  "test-key",
	}, zerolog.Nop())

	rwc, err := p.Current(context.Background(), 17.3850, 78.4867)
	require.NoError(t, err)

	// The provider owns the /weather suffix; the base URL must not carry it.
	assert.Equal(t, "/data/2.5/weather", gotPath)
	assert.False(t, rwc.Mock)
	assert.Equal(t, "light rain", rwc.Description)
	assert.InDelta(t, 21.5, rwc.TemperatureC, 1e-9)
	assert.Equal(t, 80, rwc.HumidityPercent)
}

func TestWeatherWithoutKeyServesMock(t *testing.T) {
	p := NewOpenWeatherProvider(OpenWeatherConfig{}, zerolog.Nop())

	rwc, err := p.Current(context.Background(), 17.3850, 78.4867)
	require.NoError(t, err)

	assert.True(t, rwc.Mock)
	assert.Equal(t, "weather API key not configured", rwc.Note)
}

func TestWeatherServerErrorServesMock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewOpenWeatherProvider(OpenWeatherConfig{
		BaseURL: srv.URL + "/data/2.5",
		APIKey:  "test-key",
	}, zerolog.Nop())

	rwc, err := p.Current(context.Background(), 17.3850, 78.4867)
	require.NoError(t, err)

	assert.True(t, rwc.Mock)
	assert.Contains(t, rwc.Note, "status 404")
}
