package incident

// RealWorldContext is ambient environmental data for the incident's
// coordinates, used to sanity-check the situation report. When the weather
// provider is unreachable a mock payload is substituted and tagged so the
// judge can weigh it accordingly.
type RealWorldContext struct {
	Latitude          float64 `json:"latitude"`
	Longitude         float64 `json:"longitude"`
	Description       string  `json:"description"`
	TemperatureC      float64 `json:"temperature_c"`
	HumidityPercent   int     `json:"humidity_percent"`
	PressureHPa       float64 `json:"pressure_hpa"`
	WindSpeedMPS      float64 `json:"wind_speed_mps"`
	VisibilityM       int     `json:"visibility_m"`
	CloudinessPercent int     `json:"cloudiness_percent"`
	Mock              bool    `json:"mock,omitempty"`
	Note              string  `json:"note,omitempty"`
}

// Consistency labels produced by the Analyze stage.
const (
	ConsistencyGood        = "Good"
	ConsistencyLocation    = "Location mismatch"
	ConsistencyWeather     = "Weather inconsistent"
	ConsistencyLimitedData = "Limited data"
	WeatherConsistent      = "Consistent"
	WeatherInconsistent    = "Inconsistent"
	WeatherNeutral         = "Neutral"
)

// ConsistencyReport annotates how well the situation report agrees with the
// real-world context. The Analyze stage only annotates; it never alters the
// reported severity.
type ConsistencyReport struct {
	LocationVerified     bool    `json:"location_verified"`
	LocationAccuracy     string  `json:"location_accuracy"`
	WeatherConsistency   string  `json:"weather_consistency"`
	ContextConsistency   string  `json:"context_consistency"`
	GeospatialConfidence float64 `json:"geospatial_confidence"`
}
