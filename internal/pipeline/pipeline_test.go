package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"aid/relay/internal/incident"
	"aid/relay/internal/intake"
	"aid/relay/internal/media"
	"aid/relay/internal/provider"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory pipeline.Store with the same merge semantics as
// the SQL repository.
type memStore struct {
	recs map[int64]*incident.Record
}

func newMemStore() *memStore {
	return &memStore{recs: map[int64]*incident.Record{}}
}

func (s *memStore) add(id int64, sub intake.Submission) {
	payload, _ := json.Marshal(map[string]interface{}{"intake": sub})
	s.recs[id] = &incident.Record{
		IncidentID:     id,
		Status:         incident.StatusSubmitted,
		PipelineStatus: incident.PipelineIntake,
		Summary:        payload,
		CreatedDate:    time.Now().UTC(),
	}
}

func (s *memStore) Get(_ context.Context, id int64) (*incident.Record, error) {
	rec, ok := s.recs[id]
	if !ok {
		return nil, nil
	}
	clone := *rec
	return &clone, nil
}

func (s *memStore) MergeSummary(_ context.Context, id int64, fragment map[string]interface{}) error {
	rec, ok := s.recs[id]
	if !ok {
		return errors.New("incident not found")
	}
	existing := map[string]json.RawMessage{}
	if len(rec.Summary) > 0 {
		if err := json.Unmarshal(rec.Summary, &existing); err != nil {
			return err
		}
	}
	for key, value := range fragment {
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		existing[key] = raw
	}
	merged, err := json.Marshal(existing)
	if err != nil {
		return err
	}
	rec.Summary = merged
	return nil
}

func (s *memStore) SetPipelineStatus(_ context.Context, id int64, status incident.PipelineStatus) error {
	s.recs[id].PipelineStatus = status
	return nil
}

func (s *memStore) SetStatus(_ context.Context, id int64, status incident.Status) error {
	s.recs[id].Status = status
	return nil
}

type fakeSituation struct {
	report incident.SituationReport
	err    error
}

func (f fakeSituation) Infer(context.Context, provider.SituationRequest) (incident.SituationReport, error) {
	return f.report, f.err
}

type fakeWeather struct {
	rwc incident.RealWorldContext
}

func (f fakeWeather) Current(context.Context, float64, float64) (incident.RealWorldContext, error) {
	return f.rwc, nil
}

type fakeJudge struct {
	verdict incident.Verdict
	err     error
}

func (f fakeJudge) Judge(context.Context, incident.SituationReport, incident.RealWorldContext) (incident.Verdict, error) {
	return f.verdict, f.err
}

type fakeSpeech struct{ text string }

func (f fakeSpeech) TranscribeSegment(context.Context, media.SegmentRequest) (string, error) {
	return f.text, nil
}

func goodSituation() incident.SituationReport {
	return incident.SituationReport{
		SituationSummary: "Flooded underpass",
		Hazards:          []incident.Hazard{{Type: "flood", Severity: "High"}},
		Severity:         incident.SeverityHigh,
		LocationHint:     "17.3900,78.4900",
	}
}

func newTestPipeline(store *memStore, situation provider.SituationProvider, weather provider.WeatherProvider, judge provider.JudgeProvider) *Pipeline {
	log := zerolog.Nop()
	return New(
		intake.NewNormalizer(nil, log),
		media.NewImageAnalyzer(log),
		media.NewTranscriber(fakeSpeech{text: "help, water is rising"}, media.DefaultSegmentConfig(), log),
		situation,
		weather,
		judge,
		store,
		Config{},
		log,
	)
}

func TestPreprocess(t *testing.T) {
	store := newMemStore()
	store.add(1, intake.Submission{Channel: "sms", Text: "flooding", LatLon: "17.3850,78.4867"})
	p := newTestPipeline(store, fakeSituation{report: goodSituation()}, fakeWeather{}, fakeJudge{})

	out, err := p.Preprocess(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, "Flooded underpass", out.Situation.SituationSummary)
	assert.Equal(t, incident.PipelinePreprocessed, store.recs[1].PipelineStatus)

	var summary map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(store.recs[1].Summary, &summary))
	assert.Contains(t, summary, "intake")
	assert.Contains(t, summary, "preprocess")
}

func TestPreprocessProviderFailureFallsBack(t *testing.T) {
	store := newMemStore()
	store.add(1, intake.Submission{Text: "fire"})
	p := newTestPipeline(store, fakeSituation{err: errors.New("unreachable")}, fakeWeather{}, fakeJudge{})

	out, err := p.Preprocess(context.Background(), 1)
	require.NoError(t, err)

	assert.True(t, out.Situation.Fallback)
	assert.Equal(t, incident.SeverityUnknown, out.Situation.Severity)
	assert.Equal(t, incident.PipelinePreprocessed, store.recs[1].PipelineStatus)
}

func TestPreprocessUnknownIncident(t *testing.T) {
	p := newTestPipeline(newMemStore(), fakeSituation{report: goodSituation()}, fakeWeather{}, fakeJudge{})

	_, err := p.Preprocess(context.Background(), 42)
	assert.ErrorIs(t, err, ErrIncidentNotFound)
}

func TestAnalyzeRequiresPreprocess(t *testing.T) {
	store := newMemStore()
	store.add(1, intake.Submission{Text: "flood"})
	p := newTestPipeline(store, fakeSituation{report: goodSituation()}, fakeWeather{}, fakeJudge{})

	_, err := p.Analyze(context.Background(), 1)
	assert.ErrorIs(t, err, ErrStageNotReady)
}

func TestAnalyzeResolvesLocationAndConsistency(t *testing.T) {
	store := newMemStore()
	store.add(1, intake.Submission{Text: "flooding", LatLon: "17.3850,78.4867"})
	weather := fakeWeather{rwc: incident.RealWorldContext{Description: "moderate rain"}}
	p := newTestPipeline(store, fakeSituation{report: goodSituation()}, weather, fakeJudge{})

	_, err := p.Preprocess(context.Background(), 1)
	require.NoError(t, err)

	out, err := p.Analyze(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, "reporter", out.Location.Source)
	assert.Equal(t, 17.3850, out.Location.Latitude)
	assert.True(t, out.Consistency.LocationVerified)
	assert.Equal(t, incident.WeatherConsistent, out.Consistency.WeatherConsistency)
	assert.Equal(t, incident.PipelineAnalyzed, store.recs[1].PipelineStatus)
}

func TestAnalyzeDefaultsLocationWhenNothingResolves(t *testing.T) {
	store := newMemStore()
	store.add(1, intake.Submission{Text: "flood somewhere"})
	situation := goodSituation()
	situation.LocationHint = "unknown"
	p := newTestPipeline(store, fakeSituation{report: situation}, fakeWeather{}, fakeJudge{})

	_, err := p.Preprocess(context.Background(), 1)
	require.NoError(t, err)

	out, err := p.Analyze(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, "default", out.Location.Source)
	assert.Equal(t, 17.3850, out.Location.Latitude)
	assert.Equal(t, 78.4867, out.Location.Longitude)
}

func TestJudgeVerifiesIncident(t *testing.T) {
	store := newMemStore()
	store.add(1, intake.Submission{Text: "flooding", LatLon: "17.3850,78.4867"})
	verdict := incident.Verdict{
		Criteria:      incident.CriteriaScores{Location: 0.9, Hazard: 0.9, Severity: 0.8, Impact: 0.7, Recency: 0.9},
		VerdictScore:  9,
		RealIncident:  true,
		FinalSeverity: incident.SeverityHigh,
	}
	p := newTestPipeline(store, fakeSituation{report: goodSituation()}, fakeWeather{}, fakeJudge{verdict: verdict})

	_, err := p.Preprocess(context.Background(), 1)
	require.NoError(t, err)
	_, err = p.Analyze(context.Background(), 1)
	require.NoError(t, err)

	out, err := p.Judge(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 10, out.Priority)
	assert.Equal(t, incident.StatusVerified, store.recs[1].Status)
	assert.Equal(t, incident.PipelineJudged, store.recs[1].PipelineStatus)

	var summary map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(store.recs[1].Summary, &summary))
	assert.Contains(t, summary, "judgment")
	assert.Contains(t, summary, "final")
}

func TestJudgeProviderFailureDegrades(t *testing.T) {
	store := newMemStore()
	store.add(1, intake.Submission{Text: "flooding"})
	p := newTestPipeline(store, fakeSituation{report: goodSituation()}, fakeWeather{}, fakeJudge{err: errors.New("rate limited")})

	_, err := p.Preprocess(context.Background(), 1)
	require.NoError(t, err)
	_, err = p.Analyze(context.Background(), 1)
	require.NoError(t, err)

	out, err := p.Judge(context.Background(), 1)
	require.NoError(t, err)

	assert.True(t, out.Verdict.Degraded)
	assert.False(t, out.Verdict.RealIncident)
	assert.Zero(t, out.Priority)
	assert.Equal(t, incident.StatusRejected, store.recs[1].Status)
}

func TestJudgeRequiresAnalysis(t *testing.T) {
	store := newMemStore()
	store.add(1, intake.Submission{Text: "flood"})
	p := newTestPipeline(store, fakeSituation{report: goodSituation()}, fakeWeather{}, fakeJudge{})

	_, err := p.Preprocess(context.Background(), 1)
	require.NoError(t, err)

	_, err = p.Judge(context.Background(), 1)
	assert.ErrorIs(t, err, ErrStageNotReady)
}

func TestEvaluateRunsAllStages(t *testing.T) {
	store := newMemStore()
	store.add(1, intake.Submission{Text: "flooding", LatLon: "17.3850,78.4867"})
	verdict := incident.Verdict{VerdictScore: 6, RealIncident: true, FinalSeverity: incident.SeverityModerate}
	p := newTestPipeline(store, fakeSituation{report: goodSituation()}, fakeWeather{}, fakeJudge{verdict: verdict})

	out, err := p.Evaluate(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 6, out.Priority)
	assert.Equal(t, incident.PipelineJudged, store.recs[1].PipelineStatus)

	var summary map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(store.recs[1].Summary, &summary))
	for _, key := range []string{"intake", "preprocess", "analysis", "judgment", "final"} {
		assert.Contains(t, summary, key)
	}
}

func TestAnalyzeMediaIsolatesFailures(t *testing.T) {
	store := newMemStore()
	store.add(1, intake.Submission{
		Text: "storm damage",
		Uploads: []intake.Upload{
			{Filename: "broken.jpg", MimeType: "image/jpeg", Bytes: []byte("not an image")},
			{Filename: "report.ogg", MimeType: "audio/ogg", Bytes: []byte("fake audio")},
		},
	})
	p := newTestPipeline(store, fakeSituation{report: goodSituation()}, fakeWeather{}, fakeJudge{})

	out, err := p.Preprocess(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 1, out.MediaProcessed.ImageFailures)
	assert.Equal(t, 0, out.MediaProcessed.Images)
	assert.Equal(t, 1, out.MediaProcessed.Transcripts)
	require.Len(t, out.Incident.Transcripts, 1)
	assert.Equal(t, "help, water is rising", out.Incident.Transcripts[0].Text)
}
