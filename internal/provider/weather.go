package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"aid/relay/internal/incident"

	"github.com/rs/zerolog"
)

// WeatherProvider returns ambient environmental context for coordinates.
type WeatherProvider interface {
	Current(ctx context.Context, lat, lon float64) (incident.RealWorldContext, error)
}

// OpenWeatherConfig configures the weather client. With no API key configured
// the client serves a mock payload so the pipeline keeps working in
// development and degraded environments.
type OpenWeatherConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// OpenWeatherProvider implements WeatherProvider against OpenWeatherMap.
type OpenWeatherProvider struct {
	cfg        OpenWeatherConfig
	httpClient *http.Client
	log        zerolog.Logger
}

// NewOpenWeatherProvider returns a ready provider; an empty API key is valid
// and switches the provider to mock-only mode.
func NewOpenWeatherProvider(cfg OpenWeatherConfig, log zerolog.Logger) *OpenWeatherProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openweathermap.org/data/2.5"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &OpenWeatherProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
}

type openWeatherResponse struct {
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity int     `json:"humidity"`
		Pressure float64 `json:"pressure"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Clouds struct {
		All int `json:"all"`
	} `json:"clouds"`
	Visibility int `json:"visibility"`
}

// Current fetches the live weather report for the coordinates. Any failure
// degrades to a tagged mock payload rather than an error, so the pipeline's
// Analyze stage never aborts on weather trouble.
func (p *OpenWeatherProvider) Current(ctx context.Context, lat, lon float64) (incident.RealWorldContext, error) {
	if p.cfg.APIKey == "" {
		return MockWeather(lat, lon, "weather API key not configured"), nil
	}

	query := url.Values{}
	query.Set("lat", fmt.Sprintf("%g", lat))
	query.Set("lon", fmt.Sprintf("%g", lon))
	query.Set("appid", p.cfg.APIKey)
	query.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"/weather?"+query.Encode(), nil)
	if err != nil {
		return MockWeather(lat, lon, "weather request build failed"), nil
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.log.Warn().Err(err).Msg("weather fetch failed, serving mock payload")
		return MockWeather(lat, lon, "weather API unreachable"), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != http.StatusOK {
		p.log.Warn().Int("status", resp.StatusCode).Msg("weather fetch rejected, serving mock payload")
		return MockWeather(lat, lon, fmt.Sprintf("weather API status %d", resp.StatusCode)), nil
	}

	var parsed openWeatherResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return MockWeather(lat, lon, "weather response malformed"), nil
	}

	description := ""
	if len(parsed.Weather) > 0 {
		description = parsed.Weather[0].Description
	}

	return incident.RealWorldContext{
		Latitude:          lat,
		Longitude:         lon,
		Description:       description,
		TemperatureC:      parsed.Main.Temp,
		HumidityPercent:   parsed.Main.Humidity,
		PressureHPa:       parsed.Main.Pressure,
		WindSpeedMPS:      parsed.Wind.Speed,
		VisibilityM:       parsed.Visibility,
		CloudinessPercent: parsed.Clouds.All,
	}, nil
}

// MockWeather is the documented default payload used whenever live weather
// data is unavailable. It is always tagged so the judge can discount it.
func MockWeather(lat, lon float64, note string) incident.RealWorldContext {
	return incident.RealWorldContext{
		Latitude:          lat,
		Longitude:         lon,
		Description:       "Clear sky",
		TemperatureC:      25.0,
		HumidityPercent:   60,
		PressureHPa:       1013.25,
		WindSpeedMPS:      5.0,
		VisibilityM:       10000,
		CloudinessPercent: 10,
		Mock:              true,
		Note:              note,
	}
}
