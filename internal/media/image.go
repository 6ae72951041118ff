// Package media derives structured metadata from uploaded media: image
// dimensions and EXIF tags, and audio/video transcripts.
package media

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"aid/relay/internal/incident"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"
	"github.com/rs/zerolog"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageAnalyzer decodes images and extracts dimensions, format, and EXIF tags.
type ImageAnalyzer struct {
	log zerolog.Logger
}

// NewImageAnalyzer returns an analyzer logging through the given logger.
func NewImageAnalyzer(log zerolog.Logger) *ImageAnalyzer {
	return &ImageAnalyzer{log: log}
}

// Analyze decodes the image header for width/height/format and reads EXIF
// tags best-effort; EXIF absence degrades to an empty map, never an error.
// An undecodable image is the only error case.
func (a *ImageAnalyzer) Analyze(data []byte, filename, mime string) (incident.ImageMeta, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return incident.ImageMeta{}, fmt.Errorf("decode image %s: %w", filename, err)
	}

	meta := incident.ImageMeta{
		Width:    cfg.Width,
		Height:   cfg.Height,
		Format:   format,
		EXIF:     extractEXIF(data),
		MimeType: mime,
	}

	a.log.Debug().
		Str("filename", filename).
		Str("format", format).
		Int("width", cfg.Width).
		Int("height", cfg.Height).
		Int("exif_tags", len(meta.EXIF)).
		Msg("image analyzed")

	return meta, nil
}

type exifCollector struct {
	tags map[string]string
}

func (c *exifCollector) Walk(name exif.FieldName, tag *tiff.Tag) error {
	c.tags[string(name)] = tag.String()
	return nil
}

func extractEXIF(data []byte) map[string]string {
	collector := &exifCollector{tags: map[string]string{}}
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return collector.tags
	}
	_ = x.Walk(collector)
	return collector.tags
}
