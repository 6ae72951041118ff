package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aid/relay/internal/incident"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Jobs is the dispatch job repository.
type Jobs struct {
	pool *pgxpool.Pool
}

func NewJobs(pool *pgxpool.Pool) *Jobs {
	return &Jobs{pool: pool}
}

func (r *Jobs) Create(ctx context.Context, job *incident.DispatchJob) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO dispatch_jobs (id, incident_id, state, team_id, priority, last_error, enqueued_at, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.IncidentID, job.State, job.TeamID, job.Priority,
		nullIfEmpty(job.LastError), job.EnqueuedAt, job.StartedAt, job.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dispatch job: %w", err)
	}
	return nil
}

func (r *Jobs) Update(ctx context.Context, job *incident.DispatchJob) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE dispatch_jobs
		SET state = $2, team_id = $3, last_error = $4, started_at = $5, finished_at = $6
		WHERE id = $1`,
		job.ID, job.State, job.TeamID, nullIfEmpty(job.LastError), job.StartedAt, job.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("update dispatch job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dispatch job %s not found", job.ID)
	}
	return nil
}

// LatestActive returns the newest non-failed job for the incident enqueued at
// or after since, or nil when there is none.
func (r *Jobs) LatestActive(ctx context.Context, incidentID int64, since time.Time) (*incident.DispatchJob, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, incident_id, state, team_id, priority, COALESCE(last_error, ''), enqueued_at, started_at, finished_at
		FROM dispatch_jobs
		WHERE incident_id = $1
		  AND state IN ($2, $3, $4)
		  AND enqueued_at >= $5
		ORDER BY enqueued_at DESC
		LIMIT 1`,
		incidentID, incident.JobQueued, incident.JobAllocating, incident.JobAssigned, since,
	)

	var job incident.DispatchJob
	err := row.Scan(&job.ID, &job.IncidentID, &job.State, &job.TeamID, &job.Priority, &job.LastError, &job.EnqueuedAt, &job.StartedAt, &job.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select latest dispatch job: %w", err)
	}
	return &job, nil
}

// ListByIncident returns every job for the incident, newest first.
func (r *Jobs) ListByIncident(ctx context.Context, incidentID int64) ([]incident.DispatchJob, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, incident_id, state, team_id, priority, COALESCE(last_error, ''), enqueued_at, started_at, finished_at
		FROM dispatch_jobs
		WHERE incident_id = $1
		ORDER BY enqueued_at DESC`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list dispatch jobs: %w", err)
	}
	defer rows.Close()

	var out []incident.DispatchJob
	for rows.Next() {
		var job incident.DispatchJob
		if err := rows.Scan(&job.ID, &job.IncidentID, &job.State, &job.TeamID, &job.Priority, &job.LastError, &job.EnqueuedAt, &job.StartedAt, &job.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan dispatch job: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
