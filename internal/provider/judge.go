package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"aid/relay/internal/incident"

	"github.com/rs/zerolog"
)

const judgeSystemPrompt = "You are an impartial disaster incident judge. " +
	"Given two inputs, an ML-derived incident report and an external real-world context " +
	"for the same coordinates, decide if the incident is REAL and CURRENT. Judge on: " +
	"location proximity (~8km/same locality), hazard alignment (synonyms OK), severity " +
	"plausibility (one level either way), impact evidence match, and recency. Return ONLY JSON: " +
	"{criteria: {location, hazard, severity, impact, recency}, verdict_score_0_10, " +
	"real_incident, final_severity, explanation}. Criteria scores are 0..1, verdict_score is 0..10."

// JudgeProvider scores the plausibility of a situation report against the
// real-world context.
type JudgeProvider interface {
	Judge(ctx context.Context, situation incident.SituationReport, rwc incident.RealWorldContext) (incident.Verdict, error)
}

// LLMJudgeProvider backs JudgeProvider with a chat model at temperature zero.
// Every score in the returned verdict is clamped by the schema layer
// regardless of what the model emits.
type LLMJudgeProvider struct {
	client *ChatClient
	model  string
	log    zerolog.Logger
}

// NewLLMJudgeProvider wires the judge with its model name.
func NewLLMJudgeProvider(client *ChatClient, model string, log zerolog.Logger) *LLMJudgeProvider {
	return &LLMJudgeProvider{client: client, model: model, log: log}
}

// Judge sends both JSON payloads to the model and clamps the verdict.
func (p *LLMJudgeProvider) Judge(ctx context.Context, situation incident.SituationReport, rwc incident.RealWorldContext) (incident.Verdict, error) {
	situationJSON, err := json.Marshal(situation)
	if err != nil {
		return incident.Verdict{}, fmt.Errorf("marshal situation: %w", err)
	}
	contextJSON, err := json.Marshal(rwc)
	if err != nil {
		return incident.Verdict{}, fmt.Errorf("marshal context: %w", err)
	}

	messages := []ChatMessage{
		{Role: "system", Content: judgeSystemPrompt},
		{Role: "user", Content: fmt.Sprintf(
			"INCIDENT_REQUEST_JSON:\n%s\n\nREALWORLD_CONTEXT_JSON:\n%s",
			situationJSON, contextJSON,
		)},
	}

	raw, err := p.client.Complete(ctx, p.model, messages, 0)
	if err != nil {
		return incident.Verdict{}, fmt.Errorf("judge inference: %w", err)
	}

	verdict := incident.ParseVerdict(raw)
	p.log.Debug().
		Int("verdict_score", verdict.VerdictScore).
		Bool("real_incident", verdict.RealIncident).
		Str("final_severity", verdict.FinalSeverity).
		Msg("judge verdict parsed")
	return verdict, nil
}
