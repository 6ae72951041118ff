package pipeline

import (
	"testing"

	"aid/relay/internal/incident"

	"github.com/stretchr/testify/assert"
)

func TestDetectHallucinations(t *testing.T) {
	rwc := incident.RealWorldContext{Description: "clear sky"}

	t.Run("clean report has no flags", func(t *testing.T) {
		report := DetectHallucinations(incident.SituationReport{
			SituationSummary: "Minor flooding on one street",
			Hazards:          []incident.Hazard{{Type: "flood"}},
			Severity:         incident.SeverityModerate,
		}, rwc)

		assert.False(t, report.Suspected)
		assert.Empty(t, report.Flags)
	})

	t.Run("critical without hazards is flagged", func(t *testing.T) {
		report := DetectHallucinations(incident.SituationReport{
			SituationSummary: "Everything is on fire",
			Severity:         incident.SeverityCritical,
		}, rwc)

		assert.True(t, report.Suspected)
	})

	t.Run("implausible crowd estimate is flagged", func(t *testing.T) {
		report := DetectHallucinations(incident.SituationReport{
			SituationSummary: "crowd",
			Hazards:          []incident.Hazard{{Type: "storm"}},
			Severity:         incident.SeverityHigh,
			PeopleAffected:   incident.PeopleAffected{VisibleCountEstimate: 50000},
		}, rwc)

		assert.True(t, report.Suspected)
	})

	t.Run("degraded inference asserting severity is flagged", func(t *testing.T) {
		report := DetectHallucinations(incident.SituationReport{
			SituationSummary: "x",
			Severity:         incident.SeverityHigh,
			Hazards:          []incident.Hazard{{Type: "fire"}},
			Fallback:         true,
		}, rwc)

		assert.True(t, report.Suspected)
	})

	t.Run("flood and fire together are contradictory", func(t *testing.T) {
		report := DetectHallucinations(incident.SituationReport{
			SituationSummary: "water and flames everywhere",
			Hazards:          []incident.Hazard{{Type: "flash flood"}, {Type: "wildfire"}},
			Severity:         incident.SeverityHigh,
		}, rwc)

		assert.True(t, report.Suspected)
		assert.Contains(t, report.Flags, "contradictory hazards claimed: flood and fire")
	})

	t.Run("unknown location hint is flagged as vague", func(t *testing.T) {
		report := DetectHallucinations(incident.SituationReport{
			SituationSummary: "storm damage",
			Hazards:          []incident.Hazard{{Type: "storm"}},
			Severity:         incident.SeverityModerate,
			LocationHint:     "Unknown area near the river",
		}, rwc)

		assert.True(t, report.Suspected)
		assert.Contains(t, report.Flags, "location hint is vague")
	})

	t.Run("sunny weather contradicts a flood claim", func(t *testing.T) {
		report := DetectHallucinations(incident.SituationReport{
			SituationSummary: "streets underwater",
			Hazards:          []incident.Hazard{{Type: "flood"}},
			Severity:         incident.SeverityHigh,
		}, incident.RealWorldContext{Description: "sunny"})

		assert.True(t, report.Suspected)
		assert.Contains(t, report.Flags, "weather report contradicts the flood claim")
	})

	t.Run("sunny spells with rain do not contradict a flood", func(t *testing.T) {
		report := DetectHallucinations(incident.SituationReport{
			SituationSummary: "streets underwater",
			Hazards:          []incident.Hazard{{Type: "flood"}},
			Severity:         incident.SeverityHigh,
		}, incident.RealWorldContext{Description: "sunny intervals with heavy rain"})

		assert.False(t, report.Suspected)
	})
}

func TestRecommendations(t *testing.T) {
	t.Run("not real means no dispatch", func(t *testing.T) {
		recs := recommendations(incident.Verdict{RealIncident: false}, 0)
		assert.Len(t, recs, 1)
		assert.Contains(t, recs[0], "No dispatch")
	})

	t.Run("degraded verdicts suggest manual review", func(t *testing.T) {
		recs := recommendations(incident.Verdict{RealIncident: false, Degraded: true}, 0)
		assert.Len(t, recs, 2)
		assert.Contains(t, recs[1], "manual review")
	})

	t.Run("top priority dispatches immediately", func(t *testing.T) {
		recs := recommendations(incident.Verdict{
			RealIncident:  true,
			FinalSeverity: incident.SeverityCritical,
			Criteria:      incident.CriteriaScores{Location: 0.9},
		}, 10)

		assert.Contains(t, recs[0], "immediately")
	})

	t.Run("weak location evidence asks for confirmation", func(t *testing.T) {
		recs := recommendations(incident.Verdict{
			RealIncident:  true,
			FinalSeverity: incident.SeverityModerate,
			Criteria:      incident.CriteriaScores{Location: 0.2},
		}, 6)

		found := false
		for _, r := range recs {
			if assert.ObjectsAreEqual("Location evidence is weak; confirm coordinates with the reporter.", r) {
				found = true
			}
		}
		assert.True(t, found)
	})
}
