package server

import (
	"time"

	"aid/relay/internal/incident"
)

type RawJSON []byte

func (r RawJSON) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	return []byte(r), nil
}

func (r *RawJSON) UnmarshalJSON(data []byte) error {
	if r == nil {
		return nil
	}
	*r = append((*r)[:0], data...)
	return nil
}

type HealthResponse struct {
	Status string `json:"status"`
	Env    string `json:"env"`
	Uptime string `json:"uptime"`
}

// CreateIncidentRequest is the JSON intake body. Multipart intake carries the
// same fields as form values plus file parts.
type CreateIncidentRequest struct {
	Channel        string             `json:"channel"`
	VictimUserName string             `json:"victim_user_name" validate:"required"`
	Text           string             `json:"text"`
	LatLon         string             `json:"latlon"`
	Media          []MediaItemRequest `json:"media,omitempty"`
}

// MediaItemRequest is one base64-encoded attachment in a JSON intake body.
type MediaItemRequest struct {
	Filename string `json:"filename" validate:"required"`
	MimeType string `json:"mime_type" validate:"required"`
	BytesB64 string `json:"bytes_b64" validate:"required"`
}

type CreateIncidentResponse struct {
	IncidentID int64  `json:"incident_id"`
	Status     string `json:"status"`
}

type IncidentResponse struct {
	IncidentID       int64     `json:"incident_id"`
	VictimUserName   string    `json:"victim_user_name"`
	Latitude         *float64  `json:"latitude,omitempty"`
	Longitude        *float64  `json:"longitude,omitempty"`
	Status           string    `json:"status"`
	PipelineStatus   string    `json:"pipeline_status"`
	AllocationStatus string    `json:"allocation_status"`
	Summary          RawJSON   `json:"incident_summary"`
	CreatedDate      time.Time `json:"created_date"`
	UpdatedDate      time.Time `json:"updated_date"`
}

func incidentToResponse(rec incident.Record) IncidentResponse {
	return IncidentResponse{
		IncidentID:       rec.IncidentID,
		VictimUserName:   rec.VictimUserName,
		Latitude:         rec.Lat,
		Longitude:        rec.Lon,
		Status:           string(rec.Status),
		PipelineStatus:   string(rec.PipelineStatus),
		AllocationStatus: string(rec.AllocationStatus),
		Summary:          RawJSON(rec.Summary),
		CreatedDate:      rec.CreatedDate,
		UpdatedDate:      rec.UpdatedDate,
	}
}

type DispatchJobResponse struct {
	ID         string     `json:"id"`
	IncidentID int64      `json:"incident_id"`
	State      string     `json:"state"`
	TeamID     *int64     `json:"team_id,omitempty"`
	Priority   int        `json:"priority"`
	LastError  string     `json:"last_error,omitempty"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func jobToResponse(job incident.DispatchJob) DispatchJobResponse {
	return DispatchJobResponse{
		ID:         job.ID,
		IncidentID: job.IncidentID,
		State:      string(job.State),
		TeamID:     job.TeamID,
		Priority:   job.Priority,
		LastError:  job.LastError,
		EnqueuedAt: job.EnqueuedAt,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
	}
}

type DispatchResponse struct {
	Job        DispatchJobResponse `json:"job"`
	Team       *incident.Team      `json:"team,omitempty"`
	ETAMinutes int                 `json:"eta_minutes,omitempty"`
	Reused     bool                `json:"reused"`
}

// ResourceRequest designates one team for an incident instead of letting the
// engine pick the nearest.
type ResourceRequest struct {
	TeamID int64 `json:"team_id"`
}

type CreateTeamRequest struct {
	Name         string  `json:"name" validate:"required"`
	Latitude     float64 `json:"latitude" validate:"latitude"`
	Longitude    float64 `json:"longitude" validate:"longitude"`
	Capacity     int     `json:"capacity" validate:"required,gt=0"`
	Available    bool    `json:"available"`
	ContactEmail string  `json:"contact_email,omitempty" validate:"omitempty,email"`
	ContactPhone string  `json:"contact_phone,omitempty"`
}

// SeverityLevelResponse documents one severity label and its base priority.
type SeverityLevelResponse struct {
	Severity     string `json:"severity"`
	BasePriority int    `json:"base_priority"`
	Description  string `json:"description"`
}
