package pipeline

import (
	"testing"

	"aid/relay/internal/incident"

	"github.com/stretchr/testify/assert"
)

func situationWith(hazard, hint string) incident.SituationReport {
	return incident.SituationReport{
		SituationSummary: "test",
		Hazards:          []incident.Hazard{{Type: hazard}},
		Severity:         incident.SeverityModerate,
		LocationHint:     hint,
	}
}

func weatherDescribed(desc string) incident.RealWorldContext {
	return incident.RealWorldContext{Description: desc}
}

func TestCheckWeather(t *testing.T) {
	cases := []struct {
		name    string
		hazard  string
		weather string
		want    string
	}{
		{name: "flood with rain", hazard: "flood", weather: "heavy rain", want: incident.WeatherConsistent},
		{name: "flash flood matches flood rule", hazard: "flash flood", weather: "thunderstorm", want: incident.WeatherConsistent},
		{name: "flood under clear sky", hazard: "flood", weather: "clear sky", want: incident.WeatherInconsistent},
		{name: "fire in dry weather", hazard: "fire", weather: "dry and windy", want: incident.WeatherConsistent},
		{name: "fire in rain", hazard: "wildfire", weather: "moderate rain", want: incident.WeatherInconsistent},
		{name: "storm with wind", hazard: "storm", weather: "strong wind gusts", want: incident.WeatherConsistent},
		{name: "earthquake is neutral", hazard: "earthquake", weather: "clear sky", want: incident.WeatherNeutral},
		{name: "unknown hazard is neutral", hazard: "chemical spill", weather: "clear sky", want: incident.WeatherNeutral},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := checkWeather([]incident.Hazard{{Type: tc.hazard}}, weatherDescribed(tc.weather))
			assert.Equal(t, tc.want, got)
		})
	}

	t.Run("no hazards is neutral", func(t *testing.T) {
		assert.Equal(t, incident.WeatherNeutral, checkWeather(nil, weatherDescribed("rain")))
	})
}

func TestCheckConsistency(t *testing.T) {
	loc := ResolvedLocation{Latitude: 17.3850, Longitude: 78.4867, Source: "reporter"}

	t.Run("nearby hint verifies location", func(t *testing.T) {
		report := CheckConsistency(situationWith("flood", "17.3900,78.4900"), weatherDescribed("light rain"), loc, 10)

		assert.True(t, report.LocationVerified)
		assert.Equal(t, "high", report.LocationAccuracy)
		assert.Equal(t, incident.ConsistencyGood, report.ContextConsistency)
		assert.Equal(t, 0.9, report.GeospatialConfidence)
	})

	t.Run("distant hint flags location mismatch", func(t *testing.T) {
		// Delhi hint against a Hyderabad claim, well past 10 km.
		report := CheckConsistency(situationWith("flood", "28.6139,77.2090"), weatherDescribed("light rain"), loc, 10)

		assert.False(t, report.LocationVerified)
		assert.Equal(t, "low", report.LocationAccuracy)
		assert.Equal(t, incident.ConsistencyLocation, report.ContextConsistency)
	})

	t.Run("unparseable hint means limited data", func(t *testing.T) {
		report := CheckConsistency(situationWith("flood", "near the old bridge"), weatherDescribed("rain"), loc, 10)

		assert.False(t, report.LocationVerified)
		assert.Equal(t, "unknown", report.LocationAccuracy)
		assert.Equal(t, incident.ConsistencyLimitedData, report.ContextConsistency)
	})

	t.Run("weather inconsistency outranks limited data", func(t *testing.T) {
		report := CheckConsistency(situationWith("flood", "17.3900,78.4900"), weatherDescribed("clear sky"), loc, 10)

		assert.True(t, report.LocationVerified)
		assert.Equal(t, incident.ConsistencyWeather, report.ContextConsistency)
	})

	t.Run("mock weather degrades to limited data", func(t *testing.T) {
		rwc := incident.RealWorldContext{Description: "light rain", Mock: true}
		report := CheckConsistency(situationWith("flood", "17.3900,78.4900"), rwc, loc, 10)

		assert.Equal(t, incident.ConsistencyLimitedData, report.ContextConsistency)
	})
}

func TestAssessDataQuality(t *testing.T) {
	base := &PreprocessOutput{
		Incident:  incident.NormalizedIncident{Text: "flooding"},
		Situation: incident.SituationReport{},
	}

	t.Run("text plus media plus live weather is good", func(t *testing.T) {
		pre := *base
		pre.MediaProcessed = MediaCounts{Images: 1, Transcripts: 1}
		assert.Equal(t, "good", assessDataQuality(&pre, incident.RealWorldContext{}))
	})

	t.Run("text and live weather is fair", func(t *testing.T) {
		assert.Equal(t, "fair", assessDataQuality(base, incident.RealWorldContext{}))
	})

	t.Run("text alone is poor", func(t *testing.T) {
		assert.Equal(t, "poor", assessDataQuality(base, incident.RealWorldContext{Mock: true}))
	})

	t.Run("fallback situation forces poor", func(t *testing.T) {
		pre := *base
		pre.Situation.Fallback = true
		pre.MediaProcessed = MediaCounts{Images: 2, Transcripts: 1}
		assert.Equal(t, "poor", assessDataQuality(&pre, incident.RealWorldContext{}))
	})
}

func TestAnalysisConfidence(t *testing.T) {
	assert.Equal(t, 0.9, analysisConfidence("good"))
	assert.Equal(t, 0.7, analysisConfidence("fair"))
	assert.Equal(t, 0.4, analysisConfidence("poor"))
}
