package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"aid/relay/internal/config"
	"aid/relay/internal/database"
	"aid/relay/internal/dispatch"
	"aid/relay/internal/intake"
	"aid/relay/internal/media"
	"aid/relay/internal/notify"
	"aid/relay/internal/pipeline"
	"aid/relay/internal/provider"
	"aid/relay/internal/store"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Server wires configuration, dependencies and HTTP routing together.
type Server struct {
	cfg       config.Config
	log       zerolog.Logger
	pool      *pgxpool.Pool
	incidents *store.Incidents
	jobs      *store.Jobs
	teams     *store.Teams
	pipeline  *pipeline.Pipeline
	engine    *dispatch.Engine
	worker    *notify.Worker
	validate  *validator.Validate
	authMw    *AuthMiddleware
	startedAt time.Time
}

// New instantiates the HTTP server, runs DB migrations and prepares shared dependencies.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*Server, error) {
	pool, err := database.Connect(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	incidents := store.NewIncidents(pool)
	jobs := store.NewJobs(pool)
	teams := store.NewTeams(pool)

	var notifier dispatch.Notifier
	var worker *notify.Worker
	if cfg.Notify.Enabled {
		rdb, err := notify.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("init notification queue: %w", err)
		}
		notifier = notify.NewQueuePublisher(rdb, log)

		var emailer *notify.Emailer
		if cfg.Notify.SMTPHost != "" {
			emailer = notify.NewEmailer(notify.EmailConfig{
				Host:     cfg.Notify.SMTPHost,
				Port:     cfg.Notify.SMTPPort,
				Username: cfg.Notify.SMTPUsername,
				Password: cfg.Notify.SMTPPassword,
				From:     cfg.Notify.SMTPFrom,
			})
		}
		worker = notify.NewWorker(rdb, emailer, notify.WorkerConfig{
			WebhookURL:     cfg.Notify.WebhookURL,
			WebhookSecret:  cfg.Notify.WebhookSecret,
			RequestTimeout: cfg.Notify.RequestTimeout,
			MaxRetries:     cfg.Notify.MaxRetries,
			BaseDelay:      cfg.Notify.BaseDelay,
		}, log)
	}

	var authMw *AuthMiddleware
	if cfg.Keycloak.Enabled {
		authMw, err = NewAuthMiddleware(ctx, cfg.Keycloak, log)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("init auth middleware: %w", err)
		}
	}

	pipe, err := buildPipeline(cfg, incidents, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init pipeline: %w", err)
	}

	srv := &Server{
		cfg:       cfg,
		log:       log,
		pool:      pool,
		incidents: incidents,
		jobs:      jobs,
		teams:     teams,
		pipeline:  pipe,
		engine: dispatch.New(incidents, jobs, teams, notifier, dispatch.Config{
			IdempotencyWindow:      cfg.Dispatch.IdempotencyWindow,
			TravelSpeedKmPerMinute: cfg.Dispatch.TravelSpeedKmPerMinute,
			MinimumETAMinutes:      cfg.Dispatch.MinimumETAMinutes,
		}, log),
		worker:    worker,
		validate:  newValidator(),
		authMw:    authMw,
		startedAt: time.Now().UTC(),
	}

	return srv, nil
}

// buildPipeline assembles the evaluation pipeline from the configured providers.
func buildPipeline(cfg config.Config, incidents *store.Incidents, log zerolog.Logger) (*pipeline.Pipeline, error) {
	chat, err := provider.NewChatClient(provider.ChatConfig{
		BaseURL:    cfg.Provider.BaseURL,
		APIKey:     cfg.Provider.APIKey,
		Timeout:    cfg.Provider.Timeout,
		MaxRetries: cfg.Provider.MaxRetries,
	}, log)
	if err != nil {
		return nil, err
	}

	geolocator := provider.NewIPGeolocator(cfg.Provider.GeolocateURL, log)
	normalizer := intake.NewNormalizer(geolocator, log)

	speech, err := provider.NewWhisperProvider(provider.WhisperConfig{
		BaseURL: cfg.Provider.BaseURL,
		APIKey:  cfg.Provider.APIKey,
		Model:   cfg.Provider.SpeechModel,
		Timeout: cfg.Provider.Timeout,
	}, log)
	if err != nil {
		return nil, err
	}
	transcriber := media.NewTranscriber(speech, media.DefaultSegmentConfig(), log)

	weather := provider.NewOpenWeatherProvider(provider.OpenWeatherConfig{
		BaseURL: cfg.Weather.BaseURL,
		APIKey:  cfg.Weather.APIKey,
		Timeout: cfg.Weather.Timeout,
	}, log)

	return pipeline.New(
		normalizer,
		media.NewImageAnalyzer(log),
		transcriber,
		provider.NewLLMSituationProvider(chat, cfg.Provider.SituationModel, log),
		weather,
		provider.NewLLMJudgeProvider(chat, cfg.Provider.JudgeModel, log),
		incidents,
		pipeline.Config{
			DefaultLat:          cfg.Pipeline.DefaultLat,
			DefaultLon:          cfg.Pipeline.DefaultLon,
			LocationThresholdKm: cfg.Pipeline.LocationThresholdKm,
		},
		log,
	), nil
}

// Close releases database resources.
func (s *Server) Close() {
	if s.authMw != nil {
		s.authMw.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
}

// Run starts the HTTP server and blocks until the context is cancelled or an unrecoverable error occurs.
func (s *Server) Run(ctx context.Context) error {
	if s.worker != nil {
		s.worker.Start(ctx)
	}

	httpServer := &http.Server{
		Addr:         s.cfg.HTTP.Address,
		Handler:      s.routes(),
		ReadTimeout:  s.cfg.HTTP.ReadTimeout,
		WriteTimeout: s.cfg.HTTP.WriteTimeout,
		IdleTimeout:  s.cfg.HTTP.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	s.log.Info().Str("addr", s.cfg.HTTP.Address).Msg("http server listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("latitude", func(fl validator.FieldLevel) bool {
		val, ok := fl.Field().Interface().(float64)
		if !ok {
			return false
		}
		return val >= -90 && val <= 90
	})
	_ = v.RegisterValidation("longitude", func(fl validator.FieldLevel) bool {
		val, ok := fl.Field().Interface().(float64)
		if !ok {
			return false
		}
		return val >= -180 && val <= 180
	})
	return v
}
