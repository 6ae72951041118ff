package server

import (
	"errors"
	"net/http"

	"aid/relay/internal/dispatch"
	"aid/relay/internal/incident"
)

// handleDispatch allocates the nearest available team to a verified incident.
// Calling it again within the idempotency window returns the existing job.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	id, err := s.parseIncidentID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidIncidentID, err.Error())
		return
	}

	result, err := s.engine.Dispatch(r.Context(), id)
	s.respondDispatch(w, id, result, err)
}

// handleResourceRequest allocates one operator-designated team.
func (s *Server) handleResourceRequest(w http.ResponseWriter, r *http.Request) {
	id, err := s.parseIncidentID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidIncidentID, err.Error())
		return
	}

	var req ResourceRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidPayload, err.Error())
		return
	}
	if req.TeamID <= 0 {
		s.writeError(w, http.StatusBadRequest, errInvalidTeamID, nil)
		return
	}

	result, err := s.engine.DispatchTo(r.Context(), id, req.TeamID)
	s.respondDispatch(w, id, result, err)
}

func (s *Server) respondDispatch(w http.ResponseWriter, incidentID int64, result *dispatch.Result, err error) {
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrIncidentNotFound):
			s.writeError(w, http.StatusNotFound, "incident not found", nil)
		case errors.Is(err, dispatch.ErrIncidentNotVerified):
			s.writeError(w, http.StatusConflict, "incident is not verified for dispatch", err.Error())
		default:
			s.log.Error().Err(err).Int64("incident_id", incidentID).Msg("dispatch failed")
			s.writeError(w, http.StatusInternalServerError, "dispatch failed", nil)
		}
		return
	}

	observeDispatch(string(result.Job.State), result.Reused)

	s.writeJSON(w, http.StatusOK, DispatchResponse{
		Job:        jobToResponse(result.Job),
		Team:       result.Team,
		ETAMinutes: result.ETAMinutes,
		Reused:     result.Reused,
	})
}

func (s *Server) handleListIncidentJobs(w http.ResponseWriter, r *http.Request) {
	id, err := s.parseIncidentID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidIncidentID, err.Error())
		return
	}

	jobs, err := s.jobs.ListByIncident(r.Context(), id)
	if err != nil {
		s.log.Error().Err(err).Int64("incident_id", id).Msg("list dispatch jobs failed")
		s.writeError(w, http.StatusInternalServerError, "failed to list dispatch jobs", nil)
		return
	}

	out := make([]DispatchJobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, jobToResponse(job))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := s.teams.List(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("list teams failed")
		s.writeError(w, http.StatusInternalServerError, "failed to list teams", nil)
		return
	}
	if teams == nil {
		teams = []incident.Team{}
	}
	s.writeJSON(w, http.StatusOK, teams)
}

func (s *Server) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	var req CreateTeamRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidPayload, err.Error())
		return
	}

	team := incident.Team{
		Name:         req.Name,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		Capacity:     req.Capacity,
		Available:    req.Available,
		ContactEmail: req.ContactEmail,
		ContactPhone: req.ContactPhone,
	}
	if err := s.teams.Create(r.Context(), &team); err != nil {
		s.log.Error().Err(err).Str("name", req.Name).Msg("create team failed")
		s.writeError(w, http.StatusInternalServerError, "failed to create team", nil)
		return
	}
	s.writeJSON(w, http.StatusCreated, team)
}
