package server

import (
	"encoding/base64"
	"io"
	"net/http"
	"strings"

	"aid/relay/internal/incident"
	"aid/relay/internal/intake"
)

// handleCreateIncident accepts a new report as either a JSON body or a
// multipart form with file attachments. The raw submission is persisted under
// the incident's summary so every pipeline stage can be re-run from the
// incident id alone.
func (s *Server) handleCreateIncident(w http.ResponseWriter, r *http.Request) {
	var sub intake.Submission

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		parsed, err := s.parseMultipartSubmission(r)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, errInvalidPayload, err.Error())
			return
		}
		sub = *parsed
	} else {
		var req CreateIncidentRequest
		if err := s.decodeAndValidate(r, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, errInvalidPayload, err.Error())
			return
		}
		sub = intake.Submission{
			Channel:        req.Channel,
			VictimUserName: req.VictimUserName,
			Text:           req.Text,
			LatLon:         req.LatLon,
		}
		for _, item := range req.Media {
			data, err := base64.StdEncoding.DecodeString(item.BytesB64)
			if err != nil {
				s.writeError(w, http.StatusBadRequest, errInvalidPayload, "media item "+item.Filename+" is not valid base64")
				return
			}
			sub.Uploads = append(sub.Uploads, intake.Upload{
				Filename: item.Filename,
				MimeType: item.MimeType,
				Bytes:    data,
			})
		}
	}

	if strings.TrimSpace(sub.Text) == "" && len(sub.Uploads) == 0 {
		s.writeError(w, http.StatusBadRequest, errInvalidPayload, "a report needs text or at least one attachment")
		return
	}

	lat, lon := intake.ParseLatLon(sub.LatLon)
	id, err := s.incidents.Create(r.Context(), sub.VictimUserName, lat, lon, sub)
	if err != nil {
		s.log.Error().Err(err).Msg("create incident failed")
		s.writeError(w, http.StatusInternalServerError, "failed to create incident", nil)
		return
	}

	s.log.Info().
		Int64("incident_id", id).
		Str("channel", sub.Channel).
		Int("uploads", len(sub.Uploads)).
		Msg("incident created")
	s.writeJSON(w, http.StatusCreated, CreateIncidentResponse{
		IncidentID: id,
		Status:     string(incident.StatusSubmitted),
	})
}

func (s *Server) parseMultipartSubmission(r *http.Request) (*intake.Submission, error) {
	if err := r.ParseMultipartForm(s.cfg.HTTP.MaxUploadBytes); err != nil {
		return nil, err
	}

	sub := &intake.Submission{
		Channel:        r.FormValue("channel"),
		VictimUserName: r.FormValue("victim_user_name"),
		Text:           r.FormValue("text"),
		LatLon:         r.FormValue("latlon"),
	}

	if r.MultipartForm == nil {
		return sub, nil
	}
	for _, headers := range r.MultipartForm.File {
		for _, header := range headers {
			file, err := header.Open()
			if err != nil {
				return nil, err
			}
			data, err := io.ReadAll(io.LimitReader(file, s.cfg.HTTP.MaxUploadBytes))
			file.Close()
			if err != nil {
				return nil, err
			}
			sub.Uploads = append(sub.Uploads, intake.Upload{
				Filename: header.Filename,
				MimeType: header.Header.Get("Content-Type"),
				Bytes:    data,
			})
		}
	}
	return sub, nil
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	id, err := s.parseIncidentID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errInvalidIncidentID, err.Error())
		return
	}

	rec, err := s.incidents.Get(r.Context(), id)
	if err != nil {
		s.log.Error().Err(err).Int64("incident_id", id).Msg("get incident failed")
		s.writeError(w, http.StatusInternalServerError, "failed to load incident", nil)
		return
	}
	if rec == nil {
		s.writeError(w, http.StatusNotFound, "incident not found", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, incidentToResponse(*rec))
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	status := incident.Status(r.URL.Query().Get("status"))
	limit := s.queryLimit(r, 100)

	records, err := s.incidents.List(r.Context(), status, limit)
	if err != nil {
		s.log.Error().Err(err).Msg("list incidents failed")
		s.writeError(w, http.StatusInternalServerError, "failed to list incidents", nil)
		return
	}

	out := make([]IncidentResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, incidentToResponse(rec))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	counts, err := s.incidents.Dashboard(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("dashboard aggregate failed")
		s.writeError(w, http.StatusInternalServerError, "failed to build dashboard", nil)
		return
	}
	s.writeJSON(w, http.StatusOK, counts)
}

func (s *Server) handleListSeverityLevels(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, []SeverityLevelResponse{
		{Severity: incident.SeverityCritical, BasePriority: 10, Description: "Immediate threat to life, mass impact"},
		{Severity: incident.SeverityHigh, BasePriority: 8, Description: "Serious danger, urgent response needed"},
		{Severity: incident.SeverityModerate, BasePriority: 5, Description: "Contained danger, scheduled response"},
		{Severity: incident.SeverityLow, BasePriority: 3, Description: "Minor impact, routine handling"},
		{Severity: incident.SeverityUnknown, BasePriority: 4, Description: "Unassessed, treated between low and moderate"},
	})
}
