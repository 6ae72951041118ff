package media

import (
	"context"
	"fmt"
	"strings"
	"time"

	"aid/relay/internal/incident"

	"github.com/rs/zerolog"
)

// NoSignalPlaceholder is the line speech providers emit for stretches with
// nothing intelligible. Consecutive occurrences are collapsed so a quiet
// video does not produce a transcript dominated by filler.
const NoSignalPlaceholder = "[no signal]"

const maxContextChars = 2000

// SegmentRequest is one transcription call. PriorContext carries a bounded
// rolling window of earlier segment output so hazard and speaker continuity
// survive segment boundaries.
type SegmentRequest struct {
	Audio        []byte
	Filename     string
	MimeType     string
	StartSeconds float64
	EndSeconds   float64
	PriorContext string
}

// SpeechProvider transcribes one audio/video segment.
type SpeechProvider interface {
	TranscribeSegment(ctx context.Context, req SegmentRequest) (string, error)
}

// SegmentConfig controls when and how a long video is split for transcription.
// Boundaries are fixed-duration rather than content-aware; duration is
// estimated from byte size since the service never decodes video itself.
type SegmentConfig struct {
	SegmentSeconds        int
	SingleSegmentMaxBytes int64
	EstimatedBytesPerSec  int64
	ContextWindowSegments int
	PerSegmentTimeout     time.Duration
}

// DefaultSegmentConfig mirrors the production defaults: 10-minute segments,
// 20 MB single-shot ceiling, two segments of rolling context.
func DefaultSegmentConfig() SegmentConfig {
	return SegmentConfig{
		SegmentSeconds:        600,
		SingleSegmentMaxBytes: 20 << 20,
		EstimatedBytesPerSec:  64 << 10,
		ContextWindowSegments: 2,
		PerSegmentTimeout:     2 * time.Minute,
	}
}

// Transcriber turns audio and video media into transcripts, splitting long
// videos into fixed-duration segments with per-segment timeouts.
type Transcriber struct {
	speech SpeechProvider
	cfg    SegmentConfig
	log    zerolog.Logger
}

// NewTranscriber wires a transcriber around a speech provider.
func NewTranscriber(speech SpeechProvider, cfg SegmentConfig, log zerolog.Logger) *Transcriber {
	if cfg.SegmentSeconds <= 0 {
		cfg = DefaultSegmentConfig()
	}
	return &Transcriber{speech: speech, cfg: cfg, log: log}
}

// Transcribe produces a Transcript for one audio or video item. Audio is
// transcribed in a single call. Video is split only when both its byte size
// and its estimated duration exceed the single-segment limits.
func (t *Transcriber) Transcribe(ctx context.Context, data []byte, filename, mime string) (incident.Transcript, error) {
	segments := t.planSegments(data, mime)

	var (
		parts   []incident.TranscriptSegment
		outputs []string
	)
	for i, seg := range segments {
		req := SegmentRequest{
			Audio:        seg.data,
			Filename:     filename,
			MimeType:     mime,
			StartSeconds: seg.start,
			EndSeconds:   seg.end,
			PriorContext: rollingContext(outputs, t.cfg.ContextWindowSegments),
		}

		segCtx, cancel := context.WithTimeout(ctx, t.cfg.PerSegmentTimeout)
		text, err := t.speech.TranscribeSegment(segCtx, req)
		cancel()
		if err != nil {
			return incident.Transcript{}, fmt.Errorf("transcribe %s segment %d/%d: %w", filename, i+1, len(segments), err)
		}

		outputs = append(outputs, text)
		parts = append(parts, incident.TranscriptSegment{
			StartSeconds: seg.start,
			EndSeconds:   seg.end,
			Text:         text,
		})
	}

	full := CollapsePlaceholders(strings.Join(outputs, "\n"))
	t.log.Debug().
		Str("filename", filename).
		Int("segments", len(segments)).
		Int("chars", len(full)).
		Msg("media transcribed")

	return incident.Transcript{Text: full, Segments: parts}, nil
}

type plannedSegment struct {
	data  []byte
	start float64
	end   float64
}

func (t *Transcriber) planSegments(data []byte, mime string) []plannedSegment {
	size := int64(len(data))
	estimatedSeconds := float64(size) / float64(t.cfg.EstimatedBytesPerSec)

	// Short or small inputs, and all audio, go through as one segment.
	if !strings.HasPrefix(mime, "video/") ||
		size <= t.cfg.SingleSegmentMaxBytes ||
		estimatedSeconds <= float64(t.cfg.SegmentSeconds) {
		return []plannedSegment{{data: data, start: 0, end: estimatedSeconds}}
	}

	segmentBytes := t.cfg.EstimatedBytesPerSec * int64(t.cfg.SegmentSeconds)
	var segments []plannedSegment
	for offset := int64(0); offset < size; offset += segmentBytes {
		end := offset + segmentBytes
		if end > size {
			end = size
		}
		segments = append(segments, plannedSegment{
			data:  data[offset:end],
			start: float64(offset) / float64(t.cfg.EstimatedBytesPerSec),
			end:   float64(end) / float64(t.cfg.EstimatedBytesPerSec),
		})
	}
	return segments
}

func rollingContext(outputs []string, window int) string {
	if len(outputs) == 0 {
		return ""
	}
	start := len(outputs) - window
	if start < 0 {
		start = 0
	}
	joined := strings.Join(outputs[start:], "\n")
	if len(joined) > maxContextChars {
		joined = joined[len(joined)-maxContextChars:]
	}
	return joined
}

// CollapsePlaceholders collapses consecutive no-signal placeholder lines into
// a single line.
func CollapsePlaceholders(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	prevPlaceholder := false
	for _, line := range lines {
		isPlaceholder := strings.TrimSpace(line) == NoSignalPlaceholder
		if isPlaceholder && prevPlaceholder {
			continue
		}
		out = append(out, line)
		prevPlaceholder = isPlaceholder
	}
	return strings.Join(out, "\n")
}
