package pipeline

import "aid/relay/internal/incident"

// PriorityScore maps the judge's verdict onto the 0..10 operator priority.
// A report judged not to be a real incident always scores 0. Otherwise the
// base comes from the final severity and the verdict score adds a bonus,
// capped at 10.
func PriorityScore(finalSeverity string, verdictScore float64, realIncident bool) int {
	if !realIncident {
		return 0
	}

	var base int
	switch incident.NormalizeSeverity(finalSeverity) {
	case incident.SeverityCritical:
		base = 10
	case incident.SeverityHigh:
		base = 8
	case incident.SeverityModerate:
		base = 5
	case incident.SeverityLow:
		base = 3
	default:
		base = 4
	}

	bonus := 0
	switch {
	case verdictScore >= 8:
		bonus = 2
	case verdictScore >= 5:
		bonus = 1
	}

	if score := base + bonus; score < 10 {
		return score
	}
	return 10
}
