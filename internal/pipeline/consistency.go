package pipeline

import (
	"strings"

	"aid/relay/internal/geo"
	"aid/relay/internal/incident"
	"aid/relay/internal/intake"
)

// weatherExpectations maps a hazard keyword to weather description keywords
// that would corroborate it. Earthquakes carry no expectation; weather says
// nothing about seismic activity.
var weatherExpectations = map[string][]string{
	"flood": {"rain", "storm", "precipitation", "drizzle", "thunder", "shower"},
	"fire":  {"dry", "hot", "wind", "clear"},
	"storm": {"wind", "storm", "squall", "tornado", "hurricane", "gale"},
}

// CheckConsistency compares the situation report against the real-world
// context. It annotates only; reported severity is never altered here.
func CheckConsistency(situation incident.SituationReport, rwc incident.RealWorldContext, loc ResolvedLocation, thresholdKm float64) incident.ConsistencyReport {
	report := incident.ConsistencyReport{
		LocationAccuracy:     "unknown",
		WeatherConsistency:   incident.WeatherNeutral,
		GeospatialConfidence: 0.5,
	}

	hintLat, hintLon := intake.ParseLatLon(situation.LocationHint)
	if hintLat != nil && hintLon != nil {
		distKm := geo.HaversineKm(loc.Latitude, loc.Longitude, *hintLat, *hintLon)
		if distKm <= thresholdKm {
			report.LocationVerified = true
			report.LocationAccuracy = "high"
			report.GeospatialConfidence = 0.9
		} else {
			report.LocationAccuracy = "low"
			report.GeospatialConfidence = 0.3
		}
	}

	report.WeatherConsistency = checkWeather(situation.Hazards, rwc)

	switch {
	case !report.LocationVerified && report.LocationAccuracy == "low":
		report.ContextConsistency = incident.ConsistencyLocation
	case report.WeatherConsistency == incident.WeatherInconsistent:
		report.ContextConsistency = incident.ConsistencyWeather
	case rwc.Mock || report.LocationAccuracy == "unknown":
		report.ContextConsistency = incident.ConsistencyLimitedData
	default:
		report.ContextConsistency = incident.ConsistencyGood
	}
	return report
}

// checkWeather applies the keyword rules to the first hazard that carries an
// expectation. Hazards without expectations leave the result Neutral.
func checkWeather(hazards []incident.Hazard, rwc incident.RealWorldContext) string {
	desc := strings.ToLower(rwc.Description)
	for _, hazard := range hazards {
		hazardType := strings.ToLower(hazard.Type)
		for key, keywords := range weatherExpectations {
			if !strings.Contains(hazardType, key) {
				continue
			}
			for _, kw := range keywords {
				if strings.Contains(desc, kw) {
					return incident.WeatherConsistent
				}
			}
			return incident.WeatherInconsistent
		}
	}
	return incident.WeatherNeutral
}

// assessDataQuality classifies how complete and trustworthy the collected
// evidence is. Fewer corroborating sources means lower analysis confidence.
func assessDataQuality(pre *PreprocessOutput, rwc incident.RealWorldContext) string {
	sources := 0
	if strings.TrimSpace(pre.Incident.Text) != "" {
		sources++
	}
	if pre.MediaProcessed.Images > 0 {
		sources++
	}
	if pre.MediaProcessed.Transcripts > 0 {
		sources++
	}
	if !rwc.Mock {
		sources++
	}

	switch {
	case pre.Situation.Fallback:
		return "poor"
	case sources >= 3:
		return "good"
	case sources == 2:
		return "fair"
	default:
		return "poor"
	}
}

func analysisConfidence(quality string) float64 {
	switch quality {
	case "good":
		return 0.9
	case "fair":
		return 0.7
	default:
		return 0.4
	}
}
