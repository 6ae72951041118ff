// Package store holds the PostgreSQL repositories for incidents, dispatch
// jobs, and response teams. All queries run through a pgx pool; the
// repositories own the SQL and hand the callers plain domain structs.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"aid/relay/internal/incident"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Incidents is the incident repository.
type Incidents struct {
	pool *pgxpool.Pool
}

func NewIncidents(pool *pgxpool.Pool) *Incidents {
	return &Incidents{pool: pool}
}

// Create allocates the next incident id and inserts the row with the intake
// fragment as the initial summary. The id sequence is the dense MAX+1 over
// existing rows; the incidents table is locked for the allocation so two
// concurrent intakes cannot pick the same id, and a probe insert guards
// against rows created outside the lock.
func (r *Incidents) Create(ctx context.Context, victimUserName string, lat, lon *float64, intakeFragment interface{}) (int64, error) {
	summary, err := json.Marshal(map[string]interface{}{"intake": intakeFragment})
	if err != nil {
		return 0, fmt.Errorf("encode intake fragment: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `LOCK TABLE incidents IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return 0, fmt.Errorf("lock incidents table: %w", err)
	}

	var next int64
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(incident_id), 0) + 1 FROM incidents`).Scan(&next); err != nil {
		return 0, fmt.Errorf("allocate incident id: %w", err)
	}

	for {
		tag, err := tx.Exec(ctx, `
			INSERT INTO incidents (incident_id, victim_user_name, lat, lon, status, pipeline_status, allocation_status, incident_summary)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (incident_id) DO NOTHING`,
			next, victimUserName, lat, lon,
			incident.StatusSubmitted, incident.PipelineIntake, incident.AllocationNone, summary,
		)
		if err != nil {
			return 0, fmt.Errorf("insert incident: %w", err)
		}
		if tag.RowsAffected() == 1 {
			break
		}
		next++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit incident: %w", err)
	}
	return next, nil
}

// Get returns nil when the incident does not exist.
func (r *Incidents) Get(ctx context.Context, incidentID int64) (*incident.Record, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT incident_id, victim_user_name, lat, lon, status, pipeline_status, allocation_status, incident_summary, created_date, updated_date
		FROM incidents
		WHERE incident_id = $1`, incidentID)

	var rec incident.Record
	err := row.Scan(
		&rec.IncidentID, &rec.VictimUserName, &rec.Lat, &rec.Lon,
		&rec.Status, &rec.PipelineStatus, &rec.AllocationStatus,
		&rec.Summary, &rec.CreatedDate, &rec.UpdatedDate,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select incident: %w", err)
	}
	return &rec, nil
}

// List returns incidents newest first, optionally filtered by status.
func (r *Incidents) List(ctx context.Context, status incident.Status, limit int) ([]incident.Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT incident_id, victim_user_name, lat, lon, status, pipeline_status, allocation_status, incident_summary, created_date, updated_date
		FROM incidents`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_date DESC LIMIT %d`, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()

	var out []incident.Record
	for rows.Next() {
		var rec incident.Record
		if err := rows.Scan(
			&rec.IncidentID, &rec.VictimUserName, &rec.Lat, &rec.Lon,
			&rec.Status, &rec.PipelineStatus, &rec.AllocationStatus,
			&rec.Summary, &rec.CreatedDate, &rec.UpdatedDate,
		); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MergeSummary merges the fragment into the incident's JSON summary. The
// merge happens in SQL so concurrent stage writers cannot lose each other's
// keys to a read-modify-write race.
func (r *Incidents) MergeSummary(ctx context.Context, incidentID int64, fragment map[string]interface{}) error {
	payload, err := json.Marshal(fragment)
	if err != nil {
		return fmt.Errorf("encode summary fragment: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE incidents
		SET incident_summary = incident_summary || $2::jsonb, updated_date = now()
		WHERE incident_id = $1`, incidentID, payload)
	if err != nil {
		return fmt.Errorf("merge incident summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("incident %d not found", incidentID)
	}
	return nil
}

func (r *Incidents) SetPipelineStatus(ctx context.Context, incidentID int64, status incident.PipelineStatus) error {
	return r.setColumn(ctx, incidentID, "pipeline_status", string(status))
}

func (r *Incidents) SetStatus(ctx context.Context, incidentID int64, status incident.Status) error {
	return r.setColumn(ctx, incidentID, "status", string(status))
}

func (r *Incidents) SetAllocationStatus(ctx context.Context, incidentID int64, status incident.AllocationStatus) error {
	return r.setColumn(ctx, incidentID, "allocation_status", string(status))
}

func (r *Incidents) setColumn(ctx context.Context, incidentID int64, column, value string) error {
	// column names come only from the fixed callers above
	tag, err := r.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE incidents SET %s = $2, updated_date = now() WHERE incident_id = $1`, column),
		incidentID, value)
	if err != nil {
		return fmt.Errorf("update incident %s: %w", column, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("incident %d not found", incidentID)
	}
	return nil
}

// DashboardCounts aggregates the operator dashboard in one round trip.
type DashboardCounts struct {
	Total      int64            `json:"total"`
	ByStatus   map[string]int64 `json:"by_status"`
	ByPipeline map[string]int64 `json:"by_pipeline_status"`
	Assigned   int64            `json:"assigned"`
}

func (r *Incidents) Dashboard(ctx context.Context) (*DashboardCounts, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, pipeline_status, allocation_status, COUNT(*)
		FROM incidents
		GROUP BY status, pipeline_status, allocation_status`)
	if err != nil {
		return nil, fmt.Errorf("dashboard aggregate: %w", err)
	}
	defer rows.Close()

	counts := &DashboardCounts{
		ByStatus:   map[string]int64{},
		ByPipeline: map[string]int64{},
	}
	for rows.Next() {
		var status, pipeline, allocation string
		var n int64
		if err := rows.Scan(&status, &pipeline, &allocation, &n); err != nil {
			return nil, fmt.Errorf("scan dashboard row: %w", err)
		}
		counts.Total += n
		counts.ByStatus[status] += n
		counts.ByPipeline[pipeline] += n
		if allocation == string(incident.AllocationAssigned) {
			counts.Assigned += n
		}
	}
	return counts, rows.Err()
}
