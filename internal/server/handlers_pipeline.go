package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"aid/relay/internal/pipeline"
)

// stageRunner is one pipeline stage invocation returning its JSON-ready output.
type stageRunner func(ctx context.Context, incidentID int64) (interface{}, error)

func (s *Server) handlePreprocess(w http.ResponseWriter, r *http.Request) {
	s.runStage(w, r, "preprocess", func(ctx context.Context, id int64) (interface{}, error) {
		return s.pipeline.Preprocess(ctx, id)
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	s.runStage(w, r, "analyze", func(ctx context.Context, id int64) (interface{}, error) {
		return s.pipeline.Analyze(ctx, id)
	})
}

func (s *Server) handleJudge(w http.ResponseWriter, r *http.Request) {
	s.runStage(w, r, "judge", func(ctx context.Context, id int64) (interface{}, error) {
		return s.pipeline.Judge(ctx, id)
	})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	s.runStage(w, r, "evaluate", func(ctx context.Context, id int64) (interface{}, error) {
		return s.pipeline.Evaluate(ctx, id)
	})
}

// runStage shares the id parsing, error mapping, and stage metrics between
// the pipeline endpoints.
func (s *Server) runStage(w http.ResponseWriter, r *http.Request, stage string, run stageRunner) {
	id, err := s.parseIncidentID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidIncidentID, err.Error())
		return
	}

	start := time.Now()
	out, err := run(r.Context(), id)
	observeStage(stage, time.Since(start), err == nil)

	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrIncidentNotFound):
			s.writeError(w, http.StatusNotFound, "incident not found", nil)
		case errors.Is(err, pipeline.ErrStageNotReady):
			s.writeError(w, http.StatusConflict, "stage prerequisites not met", err.Error())
		default:
			s.log.Error().Err(err).Int64("incident_id", id).Str("stage", stage).Msg("pipeline stage failed")
			s.writeError(w, http.StatusInternalServerError, "pipeline stage failed", nil)
		}
		return
	}

	s.writeJSON(w, http.StatusOK, out)
}
