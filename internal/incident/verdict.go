package incident

import (
	"encoding/json"
	"strconv"
	"strings"
)

// CriteriaScores holds the five judge rubric scores, each clamped to [0,1]:
// location proximity, hazard-type alignment, severity plausibility,
// impact-evidence match, and recency.
type CriteriaScores struct {
	Location float64 `json:"location"`
	Hazard   float64 `json:"hazard"`
	Severity float64 `json:"severity"`
	Impact   float64 `json:"impact"`
	Recency  float64 `json:"recency"`
}

// Verdict is the judge's decision about an incident's authenticity and
// severity. VerdictScore is always within [0,10] after parsing.
type Verdict struct {
	Criteria      CriteriaScores `json:"criteria"`
	VerdictScore  int            `json:"verdict_score_0_10"`
	RealIncident  bool           `json:"real_incident"`
	FinalSeverity string         `json:"final_severity"`
	Explanation   string         `json:"explanation"`
	// Degraded marks a fallback verdict substituted after a provider failure.
	Degraded bool `json:"degraded,omitempty"`
}

// ParseVerdict decodes a raw judge response and clamps every score into its
// valid range. Out-of-range or non-numeric values are coerced to the nearest
// valid value or zero; the pipeline never surfaces an out-of-contract verdict.
func ParseVerdict(raw string) Verdict {
	cleaned := StripCodeFence(raw)

	var loose map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &loose); err != nil {
		return FallbackVerdict("malformed judge response")
	}

	var verdict Verdict

	var criteria map[string]json.RawMessage
	if rawCriteria, ok := loose["criteria"]; ok {
		_ = json.Unmarshal(rawCriteria, &criteria)
	}
	verdict.Criteria = CriteriaScores{
		Location: clampUnit(looseFloat(criteria["location"])),
		Hazard:   clampUnit(looseFloat(criteria["hazard"])),
		Severity: clampUnit(looseFloat(criteria["severity"])),
		Impact:   clampUnit(looseFloat(criteria["impact"])),
		Recency:  clampUnit(looseFloat(criteria["recency"])),
	}

	score := int(looseFloat(loose["verdict_score_0_10"]))
	if score < 0 {
		score = 0
	}
	if score > 10 {
		score = 10
	}
	verdict.VerdictScore = score

	if rawReal, ok := loose["real_incident"]; ok {
		_ = json.Unmarshal(rawReal, &verdict.RealIncident)
	}

	var severity string
	if rawSev, ok := loose["final_severity"]; ok {
		_ = json.Unmarshal(rawSev, &severity)
	}
	verdict.FinalSeverity = NormalizeSeverity(severity)

	if rawExpl, ok := loose["explanation"]; ok {
		_ = json.Unmarshal(rawExpl, &verdict.Explanation)
	}

	return verdict
}

// FallbackVerdict is substituted when the judge provider fails outright.
// An unverifiable incident is treated as non-actionable until retried, so
// real_incident defaults to false and the priority downstream becomes zero.
func FallbackVerdict(reason string) Verdict {
	return Verdict{
		Criteria:      CriteriaScores{},
		VerdictScore:  0,
		RealIncident:  false,
		FinalSeverity: SeverityUnknown,
		Explanation:   "Judge unavailable: " + reason,
		Degraded:      true,
	}
}

// looseFloat extracts a float from a raw JSON value, accepting numbers and
// numeric strings. Anything else coerces to zero.
func looseFloat(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return parsed
		}
	}
	return 0
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
