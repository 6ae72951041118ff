package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// IPGeolocator resolves approximate coordinates from the service's outbound
// IP. It implements intake.Geolocator and is strictly best-effort: any
// failure yields unset coordinates, never an error.
type IPGeolocator struct {
	endpoint   string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewIPGeolocator returns a geolocator; an empty endpoint selects ip-api.com.
func NewIPGeolocator(endpoint string, log zerolog.Logger) *IPGeolocator {
	if endpoint == "" {
		endpoint = "http://ip-api.com/json"
	}
	return &IPGeolocator{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		log:        log,
	}
}

type ipAPIResponse struct {
	Status string  `json:"status"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
}

// Locate queries the geolocation endpoint. (nil, nil) on any failure.
func (g *IPGeolocator) Locate(ctx context.Context) (*float64, *float64) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoint, nil)
	if err != nil {
		return nil, nil
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.log.Debug().Err(err).Msg("IP geolocation unavailable")
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	var parsed ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, nil
	}
	if parsed.Status != "success" {
		return nil, nil
	}
	return &parsed.Lat, &parsed.Lon
}
