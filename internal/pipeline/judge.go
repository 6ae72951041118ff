package pipeline

import (
	"fmt"
	"strings"

	"aid/relay/internal/incident"
)

// HallucinationReport flags internally contradictory claims in the situation
// report so operators can discount inflated evidence.
type HallucinationReport struct {
	Suspected bool     `json:"suspected"`
	Flags     []string `json:"flags"`
}

// DetectHallucinations runs cheap plausibility heuristics over the situation
// report. It complements the judge's verdict rather than overriding it.
func DetectHallucinations(situation incident.SituationReport, rwc incident.RealWorldContext) HallucinationReport {
	flags := []string{}

	if situation.Severity == incident.SeverityCritical && len(situation.Hazards) == 0 {
		flags = append(flags, "critical severity claimed without any identified hazard")
	}
	if situation.PeopleAffected.VisibleCountEstimate > 1000 {
		flags = append(flags, fmt.Sprintf("implausible visible count estimate: %d", situation.PeopleAffected.VisibleCountEstimate))
	}
	if situation.PeopleAffected.VisibleCountEstimate < 0 {
		flags = append(flags, "negative visible count estimate")
	}
	if situation.Fallback && situation.Severity != incident.SeverityUnknown {
		flags = append(flags, "severity asserted by a degraded inference")
	}
	if len(situation.Infrastructure.BlockedRoads) > 0 && strings.TrimSpace(situation.SituationSummary) == "No summary" {
		flags = append(flags, "infrastructure damage listed without a situation summary")
	}

	floodClaimed := false
	fireClaimed := false
	for _, hazard := range situation.Hazards {
		hazardType := strings.ToLower(hazard.Type)
		if strings.Contains(hazardType, "flood") {
			floodClaimed = true
		}
		if strings.Contains(hazardType, "fire") {
			fireClaimed = true
		}
	}
	if floodClaimed && fireClaimed {
		flags = append(flags, "contradictory hazards claimed: flood and fire")
	}
	if hint := strings.ToLower(situation.LocationHint); hint != "" && strings.Contains(hint, "unknown") {
		flags = append(flags, "location hint is vague")
	}
	desc := strings.ToLower(rwc.Description)
	if floodClaimed && strings.Contains(desc, "sunny") && !strings.Contains(desc, "rain") {
		flags = append(flags, "weather report contradicts the flood claim")
	}

	return HallucinationReport{Suspected: len(flags) > 0, Flags: flags}
}

// recommendations derives operator guidance from the verdict and priority.
func recommendations(verdict incident.Verdict, priority int) []string {
	if !verdict.RealIncident {
		recs := []string{"No dispatch recommended; report not assessed as a real incident."}
		if verdict.Degraded {
			recs = append(recs, "Verdict is degraded; consider manual review before closing.")
		}
		return recs
	}

	recs := []string{}
	switch {
	case priority >= 9:
		recs = append(recs, "Dispatch nearest team immediately.", "Notify regional coordination center.")
	case priority >= 6:
		recs = append(recs, "Dispatch a team as soon as one is available.")
	default:
		recs = append(recs, "Queue for routine response; monitor for escalation.")
	}

	if verdict.Criteria.Location < 0.5 {
		recs = append(recs, "Location evidence is weak; confirm coordinates with the reporter.")
	}
	if verdict.FinalSeverity == incident.SeverityCritical {
		recs = append(recs, "Pre-alert medical services for potential casualties.")
	}
	return recs
}
