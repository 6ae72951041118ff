// Package intake converts raw multi-channel report input into a
// NormalizedIncident ready for the evaluation pipeline.
package intake

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"aid/relay/internal/incident"

	"github.com/abadojack/whatlanggo"
	"github.com/rs/zerolog"
)

// Geolocator resolves approximate coordinates from the reporter's network
// when the report carries none. Best-effort; (nil, nil) on any failure.
type Geolocator interface {
	Locate(ctx context.Context) (lat, lon *float64)
}

// Upload is one raw file received with a report.
type Upload struct {
	Filename string `json:"filename"`
	Bytes    []byte `json:"bytes"`
	MimeType string `json:"mime_type"`
}

// Submission is the raw multi-channel input for one report.
type Submission struct {
	Channel        string   `json:"channel"`
	VictimUserName string   `json:"victim_user_name,omitempty"`
	Text           string   `json:"text"`
	LatLon         string   `json:"latlon,omitempty"`
	Uploads        []Upload `json:"uploads,omitempty"`
}

// Normalizer builds NormalizedIncidents from raw submissions.
type Normalizer struct {
	geo Geolocator
	log zerolog.Logger
}

// NewNormalizer wires the intake normalizer with its geolocation fallback.
func NewNormalizer(geo Geolocator, log zerolog.Logger) *Normalizer {
	return &Normalizer{geo: geo, log: log}
}

// Normalize produces a NormalizedIncident with the media list populated and
// derived metadata still empty; the media analyzers fill those in a later
// pass. Malformed locations and failed geolocation never raise an error: the
// result simply carries unset coordinates.
func (n *Normalizer) Normalize(ctx context.Context, sub Submission) incident.NormalizedIncident {
	notes := make([]string, 0, 4)

	text := strings.TrimSpace(sub.Text)
	if text != sub.Text {
		notes = append(notes, "trimmed whitespace from text")
	}

	lat, lon := ParseLatLon(sub.LatLon)
	if lat == nil || lon == nil {
		if sub.LatLon != "" {
			notes = append(notes, "location string unparseable, coordinates unset")
		}
		if n.geo != nil {
			if gLat, gLon := n.geo.Locate(ctx); gLat != nil && gLon != nil {
				lat, lon = gLat, gLon
				notes = append(notes, "coordinates resolved via IP geolocation")
			}
		}
	}

	media := make([]incident.MediaItem, 0, len(sub.Uploads))
	for _, up := range sub.Uploads {
		media = append(media, incident.MediaItem{
			Modality: ClassifyModality(up.MimeType),
			Filename: up.Filename,
			MimeType: up.MimeType,
			BytesB64: base64.StdEncoding.EncodeToString(up.Bytes),
		})
	}
	if len(media) > 0 {
		notes = append(notes, fmt.Sprintf("normalized %d media item(s)", len(media)))
	}

	lang := DetectLanguage(text)
	if lang != "" {
		notes = append(notes, "detected language "+lang)
	}

	norm := incident.NormalizedIncident{
		Channel:          incident.ParseChannel(sub.Channel),
		Text:             text,
		Media:            media,
		ImagesMeta:       []incident.ImageMeta{},
		Transcripts:      []incident.Transcript{},
		Lat:              lat,
		Lon:              lon,
		DetectedLanguage: lang,
		Notes:            notes,
	}

	n.log.Debug().
		Str("channel", string(norm.Channel)).
		Int("media", len(norm.Media)).
		Bool("has_location", lat != nil && lon != nil).
		Msg("submission normalized")

	return norm
}

// ParseLatLon parses a permissive "lat,lon" string. Any malformed input
// (empty, wrong comma count, non-numeric fields, out-of-range values)
// yields (nil, nil) rather than an error.
func ParseLatLon(raw string) (*float64, *float64) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return nil, nil
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return nil, nil
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil, nil
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, nil
	}
	return &lat, &lon
}

// ClassifyModality tags an upload by its declared MIME prefix. Anything that
// is not image/audio/video is treated as text, i.e. unrecognized.
func ClassifyModality(mime string) incident.Modality {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return incident.ModalityImage
	case strings.HasPrefix(mime, "audio/"):
		return incident.ModalityAudio
	case strings.HasPrefix(mime, "video/"):
		return incident.ModalityVideo
	default:
		return incident.ModalityText
	}
}

// DetectLanguage returns a best-effort ISO language code for the text, or
// empty when the text is empty or detection is unreliable.
func DetectLanguage(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}
