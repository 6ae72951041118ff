package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.metricsMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	// Full-pipeline evaluation can sit on slow providers for a while.
	r.Use(middleware.Timeout(s.cfg.HTTP.WriteTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(v1 chi.Router) {
		if s.authMw != nil {
			v1.Use(s.authMw.Middleware)
		}

		v1.Post("/incidents", s.handleCreateIncident)
		v1.Get("/incidents", s.handleListIncidents)
		v1.Get("/incidents/{incidentID}", s.handleGetIncident)

		v1.Post("/incidents/{incidentID}/preprocess", s.handlePreprocess)
		v1.Post("/incidents/{incidentID}/analyze", s.handleAnalyze)
		v1.Post("/incidents/{incidentID}/judge", s.handleJudge)
		v1.Post("/incidents/{incidentID}/evaluate", s.handleEvaluate)

		v1.Post("/incidents/{incidentID}/dispatch", s.handleDispatch)
		v1.Post("/incidents/{incidentID}/resource-request", s.handleResourceRequest)
		v1.Get("/incidents/{incidentID}/jobs", s.handleListIncidentJobs)

		v1.Get("/teams", s.handleListTeams)
		v1.Post("/teams", s.handleCreateTeam)

		v1.Get("/dashboard", s.handleDashboard)
		v1.Get("/severity-levels", s.handleListSeverityLevels)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		duration := time.Since(start)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", duration).
			Msg("http request")
	})
}
