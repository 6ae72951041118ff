package store

import (
	"context"
	"errors"
	"fmt"

	"aid/relay/internal/incident"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Teams is the response team repository.
type Teams struct {
	pool *pgxpool.Pool
}

func NewTeams(pool *pgxpool.Pool) *Teams {
	return &Teams{pool: pool}
}

func (r *Teams) Get(ctx context.Context, teamID int64) (*incident.Team, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, latitude, longitude, capacity, load, available, COALESCE(contact_email, ''), COALESCE(contact_phone, '')
		FROM teams
		WHERE id = $1`, teamID)

	var t incident.Team
	err := row.Scan(&t.ID, &t.Name, &t.Latitude, &t.Longitude, &t.Capacity, &t.Load, &t.Available, &t.ContactEmail, &t.ContactPhone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select team: %w", err)
	}
	return &t, nil
}

func (r *Teams) List(ctx context.Context) ([]incident.Team, error) {
	return r.list(ctx, `
		SELECT id, name, latitude, longitude, capacity, load, available, COALESCE(contact_email, ''), COALESCE(contact_phone, '')
		FROM teams
		ORDER BY id`)
}

// ListAvailable returns teams flagged available. Capacity is re-checked at
// increment time; this listing is only the candidate set.
func (r *Teams) ListAvailable(ctx context.Context) ([]incident.Team, error) {
	return r.list(ctx, `
		SELECT id, name, latitude, longitude, capacity, load, available, COALESCE(contact_email, ''), COALESCE(contact_phone, '')
		FROM teams
		WHERE available
		ORDER BY id`)
}

func (r *Teams) list(ctx context.Context, query string) ([]incident.Team, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	var out []incident.Team
	for rows.Next() {
		var t incident.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.Latitude, &t.Longitude, &t.Capacity, &t.Load, &t.Available, &t.ContactEmail, &t.ContactPhone); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// IncrementLoad adds one to the team's load only while load < capacity. The
// guard runs inside the UPDATE so concurrent dispatchers cannot push a team
// past capacity.
func (r *Teams) IncrementLoad(ctx context.Context, teamID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE teams
		SET load = load + 1
		WHERE id = $1 AND available AND load < capacity`, teamID)
	if err != nil {
		return false, fmt.Errorf("increment team load: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DecrementLoad releases one unit of load, flooring at zero.
func (r *Teams) DecrementLoad(ctx context.Context, teamID int64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE teams
		SET load = GREATEST(load - 1, 0)
		WHERE id = $1`, teamID)
	if err != nil {
		return fmt.Errorf("decrement team load: %w", err)
	}
	return nil
}

// Create registers a team.
func (r *Teams) Create(ctx context.Context, t *incident.Team) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO teams (name, latitude, longitude, capacity, load, available, contact_email, contact_phone)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		t.Name, t.Latitude, t.Longitude, t.Capacity, t.Load, t.Available,
		nullIfEmpty(t.ContactEmail), nullIfEmpty(t.ContactPhone),
	)
	if err := row.Scan(&t.ID); err != nil {
		return fmt.Errorf("insert team: %w", err)
	}
	return nil
}
