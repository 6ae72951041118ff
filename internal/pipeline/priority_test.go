package pipeline

import (
	"testing"

	"aid/relay/internal/incident"

	"github.com/stretchr/testify/assert"
)

func TestPriorityScore(t *testing.T) {
	cases := []struct {
		name         string
		severity     string
		verdictScore float64
		real         bool
		want         int
	}{
		{name: "not real always zero", severity: incident.SeverityCritical, verdictScore: 10, real: false, want: 0},
		{name: "critical with high verdict caps at ten", severity: incident.SeverityCritical, verdictScore: 9, real: true, want: 10},
		{name: "critical with low verdict", severity: incident.SeverityCritical, verdictScore: 3, real: true, want: 10},
		{name: "high with big bonus", severity: incident.SeverityHigh, verdictScore: 8, real: true, want: 10},
		{name: "high with small bonus", severity: incident.SeverityHigh, verdictScore: 6, real: true, want: 9},
		{name: "high with no bonus", severity: incident.SeverityHigh, verdictScore: 4.9, real: true, want: 8},
		{name: "moderate base", severity: incident.SeverityModerate, verdictScore: 0, real: true, want: 5},
		{name: "medium is moderate", severity: "medium", verdictScore: 5, real: true, want: 6},
		{name: "low base", severity: incident.SeverityLow, verdictScore: 0, real: true, want: 3},
		{name: "low with big bonus", severity: incident.SeverityLow, verdictScore: 8, real: true, want: 5},
		{name: "unknown severity", severity: incident.SeverityUnknown, verdictScore: 0, real: true, want: 4},
		{name: "unrecognized severity treated as unknown", severity: "apocalyptic", verdictScore: 5, real: true, want: 5},
		{name: "boundary verdict five", severity: incident.SeverityModerate, verdictScore: 5, real: true, want: 6},
		{name: "boundary verdict eight", severity: incident.SeverityModerate, verdictScore: 8, real: true, want: 7},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, PriorityScore(tc.severity, tc.verdictScore, tc.real))
		})
	}
}
