package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"aid/relay/internal/media"

	"github.com/rs/zerolog"
)

// WhisperConfig configures the speech transcription client.
type WhisperConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// WhisperProvider implements media.SpeechProvider over an OpenAI-compatible
// audio transcription endpoint.
type WhisperProvider struct {
	cfg        WhisperConfig
	httpClient *http.Client
	log        zerolog.Logger
}

// NewWhisperProvider applies defaults and returns a ready provider. A
// missing API key surfaces per segment, where the transcriber already
// isolates failures.
func NewWhisperProvider(cfg WhisperConfig, log zerolog.Logger) (*WhisperProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.groq.com/openai/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "whisper-large-v3"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &WhisperProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}, nil
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// TranscribeSegment uploads one segment and returns its transcript text.
// Prior-segment context is passed through the prompt field so continuity
// survives segment boundaries.
func (p *WhisperProvider) TranscribeSegment(ctx context.Context, req media.SegmentRequest) (string, error) {
	if p.cfg.APIKey == "" {
		return "", fmt.Errorf("speech API key not configured")
	}
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", req.Filename)
	if err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	if err := writer.WriteField("model", p.cfg.Model); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if prior := strings.TrimSpace(req.PriorContext); prior != "" {
		if err := writer.WriteField("prompt", prior); err != nil {
			return "", fmt.Errorf("write prompt field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finish multipart: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("speech API status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var parsed transcriptionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if strings.TrimSpace(parsed.Text) == "" {
		return media.NoSignalPlaceholder, nil
	}
	return parsed.Text, nil
}
