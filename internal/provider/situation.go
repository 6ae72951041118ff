package provider

import (
	"context"
	"fmt"
	"strings"

	"aid/relay/internal/incident"

	"github.com/rs/zerolog"
)

const situationSystemPrompt = "You are a disaster analyst. Produce strict JSON with: " +
	"situation_summary, hazards (list of {type, severity}), people_affected " +
	"({visible_count_estimate, injuries_visible, notes}), infrastructure " +
	"({blocked_roads, power_lines_down, critical_facilities_affected}), " +
	"access_constraints, severity (Low|Moderate|High|Critical|Unknown), " +
	"location_hint, evidence_notes. Return only JSON."

const (
	maxTranscriptChars = 3000
	maxImages          = 4
)

// SituationRequest carries the normalized evidence for one inference call.
type SituationRequest struct {
	Text        string
	Transcripts []string
	Images      []incident.MediaItem
	Lat         *float64
	Lon         *float64
}

// SituationProvider returns a structured situation report for an incident.
type SituationProvider interface {
	Infer(ctx context.Context, req SituationRequest) (incident.SituationReport, error)
}

// LLMSituationProvider backs SituationProvider with a vision-capable chat
// model. Malformed model output is repaired by the schema layer; only
// transport failures surface as errors.
type LLMSituationProvider struct {
	client *ChatClient
	model  string
	log    zerolog.Logger
}

// NewLLMSituationProvider wires the provider with its model name.
func NewLLMSituationProvider(client *ChatClient, model string, log zerolog.Logger) *LLMSituationProvider {
	return &LLMSituationProvider{client: client, model: model, log: log}
}

// Infer assembles the multimodal prompt and parses the response into a
// guaranteed-complete SituationReport.
func (p *LLMSituationProvider) Infer(ctx context.Context, req SituationRequest) (incident.SituationReport, error) {
	content := []ContentPart{{Type: "text", Text: situationSystemPrompt}}

	if text := strings.TrimSpace(req.Text); text != "" {
		content = append(content, ContentPart{Type: "text", Text: "TEXT REPORT:\n" + text})
	}

	if joined := joinTranscripts(req.Transcripts); joined != "" {
		content = append(content, ContentPart{Type: "text", Text: "AUDIO/VIDEO TRANSCRIPT:\n" + joined})
	}

	images := req.Images
	if len(images) > maxImages {
		images = images[:maxImages]
	}
	for _, img := range images {
		content = append(content, ContentPart{
			Type:     "image_url",
			ImageURL: &ImageURL{URL: DataURL(img.MimeType, img.BytesB64)},
		})
	}

	if req.Lat != nil && req.Lon != nil {
		content = append(content, ContentPart{
			Type: "text",
			Text: fmt.Sprintf("LOCATION: %g,%g", *req.Lat, *req.Lon),
		})
	}

	raw, err := p.client.Complete(ctx, p.model, []ChatMessage{{Role: "user", Content: content}}, 0.2)
	if err != nil {
		return incident.SituationReport{}, fmt.Errorf("situation inference: %w", err)
	}

	report := incident.ParseSituation(raw, req.Lat, req.Lon)
	if report.Fallback {
		p.log.Warn().Str("model", p.model).Msg("situation response was not valid JSON, fallback synthesized")
	}
	return report, nil
}

func joinTranscripts(transcripts []string) string {
	parts := make([]string, 0, len(transcripts))
	for _, t := range transcripts {
		if strings.TrimSpace(t) != "" {
			parts = append(parts, t)
		}
	}
	joined := strings.Join(parts, " ")
	if len(joined) > maxTranscriptChars {
		joined = joined[:maxTranscriptChars]
	}
	return joined
}
