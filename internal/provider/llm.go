// Package provider implements the external collaborators the pipeline
// consumes: situation inference, judge verdicts, speech transcription,
// weather context, and IP geolocation. Every provider is constructed
// explicitly and injected; there are no package-level singletons.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ChatMessage is one message in an OpenAI-compatible chat completion request.
// Content is either a plain string or a []ContentPart for multimodal input.
type ChatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

// ContentPart is one multimodal fragment of a user message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries an image as a data URL.
type ImageURL struct {
	URL string `json:"url"`
}

// DataURL encodes base64 image bytes as a data URL for vision models.
func DataURL(mime, b64 string) string {
	return fmt.Sprintf("data:%s;base64,%s", mime, b64)
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// ChatConfig configures the shared chat-completions client.
type ChatConfig struct {
	BaseURL    string
	APIKey     string
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// ChatClient talks to any OpenAI-compatible chat-completions endpoint. It is
// shared by the situation and judge providers, each with its own model.
type ChatClient struct {
	cfg        ChatConfig
	httpClient *http.Client
	log        zerolog.Logger
}

// NewChatClient applies defaults and returns a ready client. A missing API
// key is reported at call time, not here, so the service can boot without
// credentials and let the pipeline degrade into its documented fallbacks.
func NewChatClient(cfg ChatConfig, log zerolog.Logger) (*ChatClient, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.groq.com/openai/v1"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &ChatClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}, nil
}

// Complete sends a chat completion request and returns the raw model text.
// Transient failures are retried with a fixed delay.
func (c *ChatClient) Complete(ctx context.Context, model string, messages []ChatMessage, temperature float64) (string, error) {
	if c.cfg.APIKey == "" {
		return "", fmt.Errorf("inference API key not configured")
	}
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			c.log.Warn().Int("attempt", attempt).Err(lastErr).Msg("retrying inference request")
			select {
			case <-time.After(c.cfg.RetryDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := c.completeOnce(ctx, model, messages, temperature)
		if err == nil {
			return text, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("inference failed after %d attempts: %w", c.cfg.MaxRetries, lastErr)
}

func (c *ChatClient) completeOnce(ctx context.Context, model string, messages []ChatMessage, temperature float64) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("inference API status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("inference API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty response from inference API")
	}
	return parsed.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
