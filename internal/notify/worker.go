package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// WorkerConfig tunes webhook delivery.
type WorkerConfig struct {
	WebhookURL     string
	WebhookSecret  string
	RequestTimeout time.Duration
	MaxRetries     int
	BaseDelay      time.Duration
}

// Worker drains the notification queue and delivers each event to the
// webhook and, when a contact address is present, by email.
type Worker struct {
	client     *redis.Client
	emailer    *Emailer
	cfg        WorkerConfig
	httpClient *http.Client
	log        zerolog.Logger
}

func NewWorker(client *redis.Client, emailer *Emailer, cfg WorkerConfig, log zerolog.Logger) *Worker {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = time.Second
	}
	return &Worker{
		client:     client,
		emailer:    emailer,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		log:        log,
	}
}

// Start drains the queue until the context is canceled.
func (w *Worker) Start(ctx context.Context) {
	w.log.Info().Msg("notification worker started")
	go func() {
		for {
			select {
			case <-ctx.Done():
				w.log.Info().Msg("notification worker stopped")
				return
			default:
			}

			result, err := w.client.BRPop(ctx, 0, queueKey).Result()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					continue
				}
				w.log.Error().Err(err).Msg("failed to pop notification event")
				time.Sleep(w.cfg.BaseDelay)
				continue
			}

			payload := result[1]
			var event Event
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				w.log.Error().Err(err).Msg("malformed notification event dropped")
				continue
			}
			w.deliver(ctx, event, payload)
		}
	}()
}

func (w *Worker) deliver(ctx context.Context, event Event, rawPayload string) {
	log := w.log.With().Int64("incident_id", event.IncidentID).Str("job_id", event.JobID).Logger()

	if w.cfg.WebhookURL != "" {
		w.deliverWebhook(ctx, log, rawPayload)
	}
	if w.emailer != nil && event.ContactEmail != "" {
		if err := w.emailer.SendAssignment(event); err != nil {
			log.Warn().Err(err).Str("to", event.ContactEmail).Msg("assignment email failed")
		}
	}
}

// deliverWebhook posts the raw payload with exponential backoff, signing it
// when a shared secret is configured.
func (w *Worker) deliverWebhook(ctx context.Context, log zerolog.Logger, rawPayload string) {
	delay := w.cfg.BaseDelay
	for attempt := 0; attempt < w.cfg.MaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.WebhookURL, bytes.NewBufferString(rawPayload))
		if err != nil {
			log.Error().Err(err).Msg("failed to build webhook request")
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if w.cfg.WebhookSecret != "" {
			req.Header.Set("X-Webhook-Signature", signHMAC(rawPayload, w.cfg.WebhookSecret))
		}

		resp, err := w.httpClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				log.Info().Msg("webhook delivered")
				return
			}
			log.Warn().Int("status", resp.StatusCode).Dur("retry_in", delay).Msg("webhook delivery rejected")
		} else {
			log.Warn().Err(err).Dur("retry_in", delay).Msg("webhook delivery failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
	}
	log.Error().Int("retries", w.cfg.MaxRetries).Msg("webhook delivery abandoned")
}

func signHMAC(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}
