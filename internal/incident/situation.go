package incident

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Severity labels the inference and judge providers are expected to emit.
const (
	SeverityLow      = "Low"
	SeverityModerate = "Moderate"
	SeverityHigh     = "High"
	SeverityCritical = "Critical"
	SeverityUnknown  = "Unknown"
)

// Hazard is one hazard the inference provider identified in the report.
type Hazard struct {
	Type     string `json:"type"`
	Severity string `json:"severity,omitempty"`
}

// PeopleAffected estimates the human impact visible in the evidence.
type PeopleAffected struct {
	VisibleCountEstimate int    `json:"visible_count_estimate"`
	InjuriesVisible      bool   `json:"injuries_visible"`
	Notes                string `json:"notes,omitempty"`
}

// Infrastructure describes damage to roads, power, and critical facilities.
type Infrastructure struct {
	BlockedRoads               []string `json:"blocked_roads"`
	PowerLinesDown             bool     `json:"power_lines_down"`
	CriticalFacilitiesAffected []string `json:"critical_facilities_affected"`
}

// SituationReport is the structured output of the situation inference
// provider. After normalization every field is guaranteed present.
type SituationReport struct {
	SituationSummary  string         `json:"situation_summary"`
	Hazards           []Hazard       `json:"hazards"`
	PeopleAffected    PeopleAffected `json:"people_affected"`
	Infrastructure    Infrastructure `json:"infrastructure"`
	AccessConstraints []string       `json:"access_constraints"`
	Severity          string         `json:"severity"`
	LocationHint      string         `json:"location_hint"`
	EvidenceNotes     string         `json:"evidence_notes"`
	// Fallback marks a report synthesized from a malformed provider response
	// so downstream consumers can tell degraded output from a real success.
	Fallback bool `json:"fallback,omitempty"`
}

var codeFenceRe = regexp.MustCompile("(?s)^```(?:json)?\\s*|\\s*```$")

// StripCodeFence removes a Markdown code-fence wrapper if the provider
// returned one around its JSON payload.
func StripCodeFence(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = codeFenceRe.ReplaceAllString(cleaned, "")
	}
	return strings.TrimSpace(cleaned)
}

const fallbackSummaryLimit = 500

// ParseSituation turns a raw provider response into a SituationReport. The
// provider may return free text, malformed JSON, or a fenced code block; this
// never fails. A non-JSON response becomes a fallback report carrying a
// truncation of the raw text as the summary, with every required key defaulted.
func ParseSituation(raw string, lat, lon *float64) SituationReport {
	cleaned := StripCodeFence(raw)

	var report SituationReport
	if err := json.Unmarshal([]byte(cleaned), &report); err != nil {
		summary := cleaned
		if len(summary) > fallbackSummaryLimit {
			summary = summary[:fallbackSummaryLimit]
		}
		report = SituationReport{
			SituationSummary: summary,
			Severity:         SeverityUnknown,
			EvidenceNotes:    "Non-JSON response; fallback applied.",
			Fallback:         true,
		}
	}

	applySituationDefaults(&report, lat, lon)
	return report
}

// FallbackSituation is the report used when the inference provider cannot be
// reached at all. The reason is kept in the evidence notes for the judge.
func FallbackSituation(reason string, lat, lon *float64) SituationReport {
	report := SituationReport{
		SituationSummary: "Situation inference unavailable.",
		Severity:         SeverityUnknown,
		EvidenceNotes:    fmt.Sprintf("Provider error: %s", reason),
		Fallback:         true,
	}
	applySituationDefaults(&report, lat, lon)
	return report
}

func applySituationDefaults(report *SituationReport, lat, lon *float64) {
	if report.SituationSummary == "" {
		report.SituationSummary = "No summary"
	}
	if report.Hazards == nil {
		report.Hazards = []Hazard{}
	}
	if report.Infrastructure.BlockedRoads == nil {
		report.Infrastructure.BlockedRoads = []string{}
	}
	if report.Infrastructure.CriticalFacilitiesAffected == nil {
		report.Infrastructure.CriticalFacilitiesAffected = []string{}
	}
	if report.AccessConstraints == nil {
		report.AccessConstraints = []string{}
	}
	report.Severity = NormalizeSeverity(report.Severity)
	if report.LocationHint == "" {
		if lat != nil && lon != nil {
			report.LocationHint = fmt.Sprintf("%g,%g", *lat, *lon)
		} else {
			report.LocationHint = "unknown"
		}
	}
}

// NormalizeSeverity maps provider severity spellings onto the canonical set.
func NormalizeSeverity(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "low":
		return SeverityLow
	case "moderate", "medium":
		return SeverityModerate
	case "high", "severe":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityUnknown
	}
}
