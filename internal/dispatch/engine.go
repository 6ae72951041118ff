// Package dispatch implements team allocation for verified incidents: a
// small per-incident job state machine (queued, allocating, then assigned or
// failed) with an idempotency window so repeated dispatch calls do not
// double-allocate teams.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"aid/relay/internal/geo"
	"aid/relay/internal/incident"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrIncidentNotFound    = errors.New("incident not found")
	ErrIncidentNotVerified = errors.New("incident is not verified")
	ErrTeamNotFound        = errors.New("team not found")
	ErrTeamUnavailable     = errors.New("team has no spare capacity")
)

// IncidentStore is the incident lookup surface the engine needs.
type IncidentStore interface {
	Get(ctx context.Context, incidentID int64) (*incident.Record, error)
	SetAllocationStatus(ctx context.Context, incidentID int64, status incident.AllocationStatus) error
}

// JobStore persists dispatch jobs. LatestActive returns the newest job for
// the incident in a non-failed state enqueued at or after since, or nil.
type JobStore interface {
	Create(ctx context.Context, job *incident.DispatchJob) error
	Update(ctx context.Context, job *incident.DispatchJob) error
	LatestActive(ctx context.Context, incidentID int64, since time.Time) (*incident.DispatchJob, error)
}

// TeamStore lists candidate teams and applies the guarded load increment.
type TeamStore interface {
	Get(ctx context.Context, teamID int64) (*incident.Team, error)
	ListAvailable(ctx context.Context) ([]incident.Team, error)
	// IncrementLoad adds exactly one to the team's load if load < capacity
	// and reports whether the increment happened.
	IncrementLoad(ctx context.Context, teamID int64) (bool, error)
}

// Notifier receives assignment events. Implementations must not block the
// dispatch path for long; failures are logged, never propagated.
type Notifier interface {
	TeamAssigned(ctx context.Context, rec incident.Record, team incident.Team, job incident.DispatchJob, etaMinutes int) error
}

// Config carries the engine's tunables.
type Config struct {
	// IdempotencyWindow is how long an active job suppresses re-dispatch.
	IdempotencyWindow time.Duration
	// TravelSpeedKmPerMinute converts team distance into an ETA.
	TravelSpeedKmPerMinute float64
	// MinimumETAMinutes floors every ETA.
	MinimumETAMinutes int
}

// Engine allocates response teams to verified incidents.
type Engine struct {
	incidents IncidentStore
	jobs      JobStore
	teams     TeamStore
	notifier  Notifier
	cfg       Config
	log       zerolog.Logger
	now       func() time.Time
}

func New(incidents IncidentStore, jobs JobStore, teams TeamStore, notifier Notifier, cfg Config, log zerolog.Logger) *Engine {
	if cfg.IdempotencyWindow == 0 {
		cfg.IdempotencyWindow = 10 * time.Minute
	}
	if cfg.TravelSpeedKmPerMinute == 0 {
		cfg.TravelSpeedKmPerMinute = 0.6
	}
	if cfg.MinimumETAMinutes == 0 {
		cfg.MinimumETAMinutes = 5
	}
	return &Engine{
		incidents: incidents,
		jobs:      jobs,
		teams:     teams,
		notifier:  notifier,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// Result is the outcome of a dispatch request. Reused is true when an active
// job inside the idempotency window was returned instead of a new allocation.
type Result struct {
	Job        incident.DispatchJob `json:"job"`
	Team       *incident.Team       `json:"team,omitempty"`
	ETAMinutes int                  `json:"eta_minutes,omitempty"`
	Reused     bool                 `json:"reused"`
}

// Dispatch allocates the nearest team with spare capacity to a verified
// incident. A repeated call within the idempotency window returns the
// existing job unchanged.
func (e *Engine) Dispatch(ctx context.Context, incidentID int64) (*Result, error) {
	rec, job, reused, err := e.prepare(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if reused {
		return &Result{Job: *job, Reused: true}, nil
	}
	return e.allocate(ctx, rec, job, func(ctx context.Context) (*incident.Team, error) {
		return e.nearestTeam(ctx, rec)
	})
}

// DispatchTo allocates one designated team instead of the nearest. It is the
// resource-request path used when an operator picks the team manually.
func (e *Engine) DispatchTo(ctx context.Context, incidentID, teamID int64) (*Result, error) {
	rec, job, reused, err := e.prepare(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if reused {
		return &Result{Job: *job, Reused: true}, nil
	}
	return e.allocate(ctx, rec, job, func(ctx context.Context) (*incident.Team, error) {
		team, err := e.teams.Get(ctx, teamID)
		if err != nil {
			return nil, err
		}
		if team == nil {
			return nil, ErrTeamNotFound
		}
		if !team.Available || team.Load >= team.Capacity {
			return nil, ErrTeamUnavailable
		}
		return team, nil
	})
}

// prepare validates the incident, applies the idempotency window, and when a
// new allocation is needed persists the job in the queued state.
func (e *Engine) prepare(ctx context.Context, incidentID int64) (*incident.Record, *incident.DispatchJob, bool, error) {
	rec, err := e.incidents.Get(ctx, incidentID)
	if err != nil {
		return nil, nil, false, err
	}
	if rec == nil {
		return nil, nil, false, ErrIncidentNotFound
	}
	if rec.Status != incident.StatusVerified {
		return nil, nil, false, fmt.Errorf("%w: status %q", ErrIncidentNotVerified, rec.Status)
	}

	since := e.now().Add(-e.cfg.IdempotencyWindow)
	existing, err := e.jobs.LatestActive(ctx, incidentID, since)
	if err != nil {
		return nil, nil, false, err
	}
	if existing != nil {
		e.log.Info().
			Int64("incident_id", incidentID).
			Str("job_id", existing.ID).
			Str("state", string(existing.State)).
			Msg("active dispatch job reused")
		return rec, existing, true, nil
	}

	job := &incident.DispatchJob{
		ID:         uuid.NewString(),
		IncidentID: incidentID,
		State:      incident.JobQueued,
		Priority:   e.priorityOf(rec),
		EnqueuedAt: e.now().UTC(),
	}
	if err := e.jobs.Create(ctx, job); err != nil {
		return nil, nil, false, fmt.Errorf("create dispatch job: %w", err)
	}
	return rec, job, false, nil
}

// allocate drives one job from queued through allocating to a terminal state.
func (e *Engine) allocate(ctx context.Context, rec *incident.Record, job *incident.DispatchJob, pick func(context.Context) (*incident.Team, error)) (*Result, error) {
	started := e.now().UTC()
	job.State = incident.JobAllocating
	job.StartedAt = &started
	if err := e.jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("mark job allocating: %w", err)
	}

	team, err := pick(ctx)
	if err != nil {
		return e.fail(ctx, job, err)
	}

	// Capacity is enforced at the store so two concurrent allocations cannot
	// both take a team's last slot.
	ok, err := e.teams.IncrementLoad(ctx, team.ID)
	if err != nil {
		return e.fail(ctx, job, fmt.Errorf("increment team load: %w", err))
	}
	if !ok {
		return e.fail(ctx, job, fmt.Errorf("%w: team %d", ErrTeamUnavailable, team.ID))
	}
	team.Load++

	eta := e.etaMinutes(rec, team)
	finished := e.now().UTC()
	job.State = incident.JobAssigned
	job.TeamID = &team.ID
	job.FinishedAt = &finished
	if err := e.jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("mark job assigned: %w", err)
	}
	if err := e.incidents.SetAllocationStatus(ctx, rec.IncidentID, incident.AllocationAssigned); err != nil {
		return nil, fmt.Errorf("update allocation status: %w", err)
	}

	if e.notifier != nil {
		if err := e.notifier.TeamAssigned(ctx, *rec, *team, *job, eta); err != nil {
			e.log.Warn().Err(err).Int64("incident_id", rec.IncidentID).Msg("assignment notification failed")
		}
	}

	e.log.Info().
		Int64("incident_id", rec.IncidentID).
		Str("job_id", job.ID).
		Int64("team_id", team.ID).
		Int("eta_minutes", eta).
		Msg("team assigned")
	return &Result{Job: *job, Team: team, ETAMinutes: eta}, nil
}

// fail moves the job to its terminal failed state. The cause is recorded on
// the job and returned inside the result rather than as an error; dispatch
// ran to completion, it just found no team.
func (e *Engine) fail(ctx context.Context, job *incident.DispatchJob, cause error) (*Result, error) {
	finished := e.now().UTC()
	job.State = incident.JobFailed
	job.LastError = cause.Error()
	job.FinishedAt = &finished
	if err := e.jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("mark job failed: %w", err)
	}
	e.log.Warn().
		Int64("incident_id", job.IncidentID).
		Str("job_id", job.ID).
		Str("cause", job.LastError).
		Msg("dispatch failed")
	return &Result{Job: *job}, nil
}

// nearestTeam picks the closest available team with spare capacity by
// haversine distance from the incident.
func (e *Engine) nearestTeam(ctx context.Context, rec *incident.Record) (*incident.Team, error) {
	teams, err := e.teams.ListAvailable(ctx)
	if err != nil {
		return nil, err
	}

	lat, lon := e.incidentCoords(rec)
	var best *incident.Team
	bestDist := math.MaxFloat64
	for i := range teams {
		t := &teams[i]
		if t.Load >= t.Capacity {
			continue
		}
		dist := geo.HaversineKm(lat, lon, t.Latitude, t.Longitude)
		if dist < bestDist {
			best, bestDist = t, dist
		}
	}
	if best == nil {
		return nil, errors.New("no available team with spare capacity")
	}
	return best, nil
}

func (e *Engine) etaMinutes(rec *incident.Record, team *incident.Team) int {
	lat, lon := e.incidentCoords(rec)
	distKm := geo.HaversineKm(lat, lon, team.Latitude, team.Longitude)
	eta := int(math.Round(distKm / e.cfg.TravelSpeedKmPerMinute))
	if eta < e.cfg.MinimumETAMinutes {
		eta = e.cfg.MinimumETAMinutes
	}
	return eta
}

// incidentCoords prefers the analysis stage's resolved location, then the
// reporter's coordinates, then the fixed fallback coordinate.
func (e *Engine) incidentCoords(rec *incident.Record) (float64, float64) {
	if len(rec.Summary) > 0 {
		var summary struct {
			Analysis struct {
				Location struct {
					Latitude  float64 `json:"latitude"`
					Longitude float64 `json:"longitude"`
				} `json:"location"`
			} `json:"analysis"`
		}
		if err := json.Unmarshal(rec.Summary, &summary); err == nil {
			if summary.Analysis.Location.Latitude != 0 || summary.Analysis.Location.Longitude != 0 {
				return summary.Analysis.Location.Latitude, summary.Analysis.Location.Longitude
			}
		}
	}
	if rec.Lat != nil && rec.Lon != nil {
		return *rec.Lat, *rec.Lon
	}
	return 17.3850, 78.4867
}

// priorityOf reads the judged priority from the incident summary, defaulting
// to 0 when absent.
func (e *Engine) priorityOf(rec *incident.Record) int {
	if len(rec.Summary) == 0 {
		return 0
	}
	var summary struct {
		Final struct {
			Priority int `json:"priority_score_0_10"`
		} `json:"final"`
	}
	if err := json.Unmarshal(rec.Summary, &summary); err != nil {
		return 0
	}
	return summary.Final.Priority
}
