// Package pipeline orchestrates the three-stage incident evaluation:
// Preprocess (normalize input, analyze media, infer the situation),
// Analyze (attach real-world context and consistency signals), and
// Judge (verdict, final severity, priority). Stages are strictly sequential
// per incident and each persists its output before the next may run, so a
// crash after stage K leaves a durable, resumable record at stage K.
package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"aid/relay/internal/incident"
	"aid/relay/internal/intake"
	"aid/relay/internal/media"
	"aid/relay/internal/provider"

	"github.com/rs/zerolog"
)

// Sentinel errors surfaced to callers as structured failures.
var (
	ErrIncidentNotFound = errors.New("incident not found")
	ErrStageNotReady    = errors.New("required prior stage output missing")
)

// Store is the persistence contract the pipeline depends on. Summary
// fragments are merged into the incident's JSON summary, never overwritten
// wholesale, so partial progress survives failures.
type Store interface {
	Get(ctx context.Context, incidentID int64) (*incident.Record, error)
	MergeSummary(ctx context.Context, incidentID int64, fragment map[string]interface{}) error
	SetPipelineStatus(ctx context.Context, incidentID int64, status incident.PipelineStatus) error
	SetStatus(ctx context.Context, incidentID int64, status incident.Status) error
}

// Config carries the pipeline's documented defaults.
type Config struct {
	// DefaultLat/DefaultLon are the fixed fallback coordinates used when
	// neither the reporter nor the situation report yields a location.
	DefaultLat float64
	DefaultLon float64
	// LocationThresholdKm bounds the claimed-vs-hinted distance for the
	// location_verified signal.
	LocationThresholdKm float64
}

// Pipeline wires the stages with their providers and the record store.
type Pipeline struct {
	normalizer  *intake.Normalizer
	images      *media.ImageAnalyzer
	transcriber *media.Transcriber
	situation   provider.SituationProvider
	weather     provider.WeatherProvider
	judge       provider.JudgeProvider
	store       Store
	cfg         Config
	log         zerolog.Logger
}

// New assembles a pipeline. Every provider is injected; the pipeline holds no
// global state.
func New(
	normalizer *intake.Normalizer,
	images *media.ImageAnalyzer,
	transcriber *media.Transcriber,
	situation provider.SituationProvider,
	weather provider.WeatherProvider,
	judge provider.JudgeProvider,
	store Store,
	cfg Config,
	log zerolog.Logger,
) *Pipeline {
	if cfg.LocationThresholdKm == 0 {
		cfg.LocationThresholdKm = 10
	}
	if cfg.DefaultLat == 0 && cfg.DefaultLon == 0 {
		cfg.DefaultLat, cfg.DefaultLon = 17.3850, 78.4867
	}
	return &Pipeline{
		normalizer:  normalizer,
		images:      images,
		transcriber: transcriber,
		situation:   situation,
		weather:     weather,
		judge:       judge,
		store:       store,
		cfg:         cfg,
		log:         log,
	}
}

// MediaCounts records how many media items were processed and how many failed.
// Failures are isolated per item; the batch always continues.
type MediaCounts struct {
	Images             int `json:"images"`
	ImageFailures      int `json:"image_failures"`
	Transcripts        int `json:"transcripts"`
	TranscriptFailures int `json:"transcript_failures"`
}

// PreprocessOutput is stage 1's durable output.
type PreprocessOutput struct {
	Incident       incident.NormalizedIncident `json:"incident"`
	Situation      incident.SituationReport    `json:"situation"`
	MediaProcessed MediaCounts                 `json:"media_processed"`
	CompletedAt    time.Time                   `json:"completed_at"`
}

// ResolvedLocation is the coordinate pair stage 2 settled on and where it
// came from: reporter, location_hint, or default.
type ResolvedLocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Source    string  `json:"source"`
}

// AnalyzeOutput is stage 2's durable output.
type AnalyzeOutput struct {
	Location           ResolvedLocation           `json:"location"`
	Weather            incident.RealWorldContext  `json:"weather"`
	Consistency        incident.ConsistencyReport `json:"consistency"`
	DataQuality        string                     `json:"data_quality"`
	AnalysisConfidence float64                    `json:"analysis_confidence"`
	CompletedAt        time.Time                  `json:"completed_at"`
}

// JudgeOutput is stage 3's durable output.
type JudgeOutput struct {
	Verdict         incident.Verdict    `json:"verdict"`
	Hallucination   HallucinationReport `json:"hallucination"`
	Recommendations []string            `json:"recommendations"`
	Priority        int                 `json:"priority_score_0_10"`
	CompletedAt     time.Time           `json:"completed_at"`
}

// FinalSummary is the operator-facing rollup written after stage 3.
type FinalSummary struct {
	Priority      int    `json:"priority_score_0_10"`
	FinalSeverity string `json:"final_severity"`
	RealIncident  bool   `json:"real_incident"`
	Explanation   string `json:"explanation"`
}

// Preprocess runs stage 1 for an incident whose intake submission has been
// persisted. It never fails on malformed provider output; only storage and
// cancellation errors surface.
func (p *Pipeline) Preprocess(ctx context.Context, incidentID int64) (*PreprocessOutput, error) {
	sub, err := p.loadSubmission(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	norm := p.normalizer.Normalize(ctx, *sub)
	counts := p.analyzeMedia(ctx, &norm)

	situation, err := p.inferSituation(ctx, norm)
	if err != nil {
		// Provider unreachable: synthesize the documented fallback rather
		// than propagating the failure.
		p.log.Warn().Err(err).Int64("incident_id", incidentID).Msg("situation provider failed, using fallback")
		providerFallbacksTotal.WithLabelValues("situation").Inc()
		situation = incident.FallbackSituation(err.Error(), norm.Lat, norm.Lon)
	}

	out := &PreprocessOutput{
		Incident:       norm,
		Situation:      situation,
		MediaProcessed: counts,
		CompletedAt:    time.Now().UTC(),
	}

	if err := p.store.MergeSummary(ctx, incidentID, map[string]interface{}{"preprocess": out}); err != nil {
		return nil, fmt.Errorf("persist preprocess output: %w", err)
	}
	if err := p.store.SetPipelineStatus(ctx, incidentID, incident.PipelinePreprocessed); err != nil {
		return nil, fmt.Errorf("advance pipeline status: %w", err)
	}

	p.log.Info().
		Int64("incident_id", incidentID).
		Str("severity", situation.Severity).
		Int("hazards", len(situation.Hazards)).
		Bool("fallback", situation.Fallback).
		Msg("preprocess stage complete")
	return out, nil
}

// Analyze runs stage 2. It requires stage 1's persisted output and never
// alters severity; it only annotates consistency signals for the judge.
func (p *Pipeline) Analyze(ctx context.Context, incidentID int64) (*AnalyzeOutput, error) {
	pre, err := p.loadPreprocess(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	loc := p.resolveLocation(pre)

	rwc, err := p.weather.Current(ctx, loc.Latitude, loc.Longitude)
	if err != nil {
		// Weather providers degrade internally, but guard the contract
		// boundary anyway.
		rwc = provider.MockWeather(loc.Latitude, loc.Longitude, "weather provider error: "+err.Error())
	}
	if rwc.Mock {
		providerFallbacksTotal.WithLabelValues("weather").Inc()
	}

	consistency := CheckConsistency(pre.Situation, rwc, loc, p.cfg.LocationThresholdKm)
	quality := assessDataQuality(pre, rwc)

	out := &AnalyzeOutput{
		Location:           loc,
		Weather:            rwc,
		Consistency:        consistency,
		DataQuality:        quality,
		AnalysisConfidence: analysisConfidence(quality),
		CompletedAt:        time.Now().UTC(),
	}

	if err := p.store.MergeSummary(ctx, incidentID, map[string]interface{}{"analysis": out}); err != nil {
		return nil, fmt.Errorf("persist analysis output: %w", err)
	}
	if err := p.store.SetPipelineStatus(ctx, incidentID, incident.PipelineAnalyzed); err != nil {
		return nil, fmt.Errorf("advance pipeline status: %w", err)
	}

	p.log.Info().
		Int64("incident_id", incidentID).
		Str("context_consistency", consistency.ContextConsistency).
		Str("location_source", loc.Source).
		Msg("analyze stage complete")
	return out, nil
}

// Judge runs stage 3. A judge provider failure substitutes a clearly-marked
// degraded verdict (real_incident=false, priority 0) instead of aborting.
func (p *Pipeline) Judge(ctx context.Context, incidentID int64) (*JudgeOutput, error) {
	pre, err := p.loadPreprocess(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	analysis, err := p.loadAnalysis(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	verdict, err := p.judge.Judge(ctx, pre.Situation, analysis.Weather)
	if err != nil {
		p.log.Warn().Err(err).Int64("incident_id", incidentID).Msg("judge provider failed, using degraded verdict")
		providerFallbacksTotal.WithLabelValues("judge").Inc()
		verdict = incident.FallbackVerdict(err.Error())
	}

	priority := PriorityScore(verdict.FinalSeverity, float64(verdict.VerdictScore), verdict.RealIncident)

	out := &JudgeOutput{
		Verdict:         verdict,
		Hallucination:   DetectHallucinations(pre.Situation, analysis.Weather),
		Recommendations: recommendations(verdict, priority),
		Priority:        priority,
		CompletedAt:     time.Now().UTC(),
	}
	final := FinalSummary{
		Priority:      priority,
		FinalSeverity: verdict.FinalSeverity,
		RealIncident:  verdict.RealIncident,
		Explanation:   verdict.Explanation,
	}

	if err := p.store.MergeSummary(ctx, incidentID, map[string]interface{}{
		"judgment": out,
		"final":    final,
	}); err != nil {
		return nil, fmt.Errorf("persist judgment output: %w", err)
	}
	if err := p.store.SetPipelineStatus(ctx, incidentID, incident.PipelineJudged); err != nil {
		return nil, fmt.Errorf("advance pipeline status: %w", err)
	}

	status := incident.StatusRejected
	if verdict.RealIncident {
		status = incident.StatusVerified
	}
	if err := p.store.SetStatus(ctx, incidentID, status); err != nil {
		return nil, fmt.Errorf("update incident status: %w", err)
	}

	p.log.Info().
		Int64("incident_id", incidentID).
		Int("priority", priority).
		Bool("real_incident", verdict.RealIncident).
		Str("final_severity", verdict.FinalSeverity).
		Msg("judge stage complete")
	return out, nil
}

// Evaluate runs all three stages back to back for one incident.
func (p *Pipeline) Evaluate(ctx context.Context, incidentID int64) (*JudgeOutput, error) {
	if _, err := p.Preprocess(ctx, incidentID); err != nil {
		return nil, err
	}
	if _, err := p.Analyze(ctx, incidentID); err != nil {
		return nil, err
	}
	return p.Judge(ctx, incidentID)
}

// analyzeMedia fills the derived artifacts on the normalized incident. Only
// successes are kept, in encounter order; failures are counted in the notes.
func (p *Pipeline) analyzeMedia(ctx context.Context, norm *incident.NormalizedIncident) MediaCounts {
	var counts MediaCounts
	for _, item := range norm.Media {
		data, err := base64.StdEncoding.DecodeString(item.BytesB64)
		if err != nil {
			p.log.Warn().Str("filename", item.Filename).Msg("media payload not valid base64, skipped")
			continue
		}

		switch item.Modality {
		case incident.ModalityImage:
			meta, err := p.images.Analyze(data, item.Filename, item.MimeType)
			if err != nil {
				counts.ImageFailures++
				p.log.Warn().Err(err).Str("filename", item.Filename).Msg("image analysis failed, continuing batch")
				continue
			}
			norm.ImagesMeta = append(norm.ImagesMeta, meta)
			counts.Images++
		case incident.ModalityAudio, incident.ModalityVideo:
			transcript, err := p.transcriber.Transcribe(ctx, data, item.Filename, item.MimeType)
			if err != nil {
				counts.TranscriptFailures++
				p.log.Warn().Err(err).Str("filename", item.Filename).Msg("transcription failed, continuing batch")
				continue
			}
			norm.Transcripts = append(norm.Transcripts, transcript)
			counts.Transcripts++
		}
	}

	if counts.Images > 0 {
		norm.Notes = append(norm.Notes, fmt.Sprintf("processed %d image(s) with EXIF and dimensions", counts.Images))
	}
	if counts.Transcripts > 0 {
		norm.Notes = append(norm.Notes, fmt.Sprintf("transcribed %d audio/video item(s)", counts.Transcripts))
	}
	if counts.ImageFailures+counts.TranscriptFailures > 0 {
		norm.Notes = append(norm.Notes, fmt.Sprintf("%d media item(s) failed analysis", counts.ImageFailures+counts.TranscriptFailures))
	}
	return counts
}

func (p *Pipeline) inferSituation(ctx context.Context, norm incident.NormalizedIncident) (incident.SituationReport, error) {
	transcripts := make([]string, 0, len(norm.Transcripts))
	for _, t := range norm.Transcripts {
		transcripts = append(transcripts, t.Text)
	}
	images := make([]incident.MediaItem, 0, len(norm.Media))
	for _, m := range norm.Media {
		if m.Modality == incident.ModalityImage {
			images = append(images, m)
		}
	}
	return p.situation.Infer(ctx, provider.SituationRequest{
		Text:        norm.Text,
		Transcripts: transcripts,
		Images:      images,
		Lat:         norm.Lat,
		Lon:         norm.Lon,
	})
}

// resolveLocation picks coordinates in documented preference order:
// reporter-supplied, then the situation's location hint, then the fixed
// fallback coordinate.
func (p *Pipeline) resolveLocation(pre *PreprocessOutput) ResolvedLocation {
	if pre.Incident.Lat != nil && pre.Incident.Lon != nil {
		return ResolvedLocation{Latitude: *pre.Incident.Lat, Longitude: *pre.Incident.Lon, Source: "reporter"}
	}
	if lat, lon := intake.ParseLatLon(pre.Situation.LocationHint); lat != nil && lon != nil {
		return ResolvedLocation{Latitude: *lat, Longitude: *lon, Source: "location_hint"}
	}
	return ResolvedLocation{Latitude: p.cfg.DefaultLat, Longitude: p.cfg.DefaultLon, Source: "default"}
}

func (p *Pipeline) loadSubmission(ctx context.Context, incidentID int64) (*intake.Submission, error) {
	summary, err := p.loadSummary(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	raw, ok := summary["intake"]
	if !ok {
		return nil, fmt.Errorf("%w: intake submission", ErrStageNotReady)
	}
	var sub intake.Submission
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("decode intake submission: %w", err)
	}
	return &sub, nil
}

func (p *Pipeline) loadPreprocess(ctx context.Context, incidentID int64) (*PreprocessOutput, error) {
	summary, err := p.loadSummary(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	raw, ok := summary["preprocess"]
	if !ok {
		return nil, fmt.Errorf("%w: preprocess output", ErrStageNotReady)
	}
	var out PreprocessOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode preprocess output: %w", err)
	}
	return &out, nil
}

func (p *Pipeline) loadAnalysis(ctx context.Context, incidentID int64) (*AnalyzeOutput, error) {
	summary, err := p.loadSummary(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	raw, ok := summary["analysis"]
	if !ok {
		return nil, fmt.Errorf("%w: analysis output", ErrStageNotReady)
	}
	var out AnalyzeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode analysis output: %w", err)
	}
	return &out, nil
}

func (p *Pipeline) loadSummary(ctx context.Context, incidentID int64) (map[string]json.RawMessage, error) {
	record, err := p.store.Get(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("%w: id %d", ErrIncidentNotFound, incidentID)
	}
	summary := map[string]json.RawMessage{}
	if len(record.Summary) > 0 {
		if err := json.Unmarshal(record.Summary, &summary); err != nil {
			return nil, fmt.Errorf("decode incident summary: %w", err)
		}
	}
	return summary, nil
}
