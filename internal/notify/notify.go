// Package notify delivers assignment notifications. Events are queued on a
// Redis list at dispatch time and drained by a background worker that fans
// out to the configured webhook and the team's contact email, so slow
// deliveries never sit on the dispatch path.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"aid/relay/internal/incident"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const queueKey = "dispatch_notifications"

// Event is one assignment notification payload. FinalSeverity and Summary are
// read from the incident's judged rollup so receivers see what they are being
// sent into without another lookup.
type Event struct {
	IncidentID    int64     `json:"incident_id"`
	JobID         string    `json:"job_id"`
	TeamID        int64     `json:"team_id"`
	TeamName      string    `json:"team_name"`
	ContactEmail  string    `json:"contact_email,omitempty"`
	Priority      int       `json:"priority"`
	ETAMinutes    int       `json:"eta_minutes"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	FinalSeverity string    `json:"final_severity,omitempty"`
	Summary       string    `json:"summary,omitempty"`
	AssignedAt    time.Time `json:"assigned_at"`
}

const maxSummaryChars = 280

// newEvent builds the assignment payload, pulling the judged severity and an
// explanation excerpt out of the incident's accumulated summary.
func newEvent(rec incident.Record, team incident.Team, job incident.DispatchJob, etaMinutes int) Event {
	event := Event{
		IncidentID:   rec.IncidentID,
		JobID:        job.ID,
		TeamID:       team.ID,
		TeamName:     team.Name,
		ContactEmail: team.ContactEmail,
		Priority:     job.Priority,
		ETAMinutes:   etaMinutes,
		Latitude:     team.Latitude,
		Longitude:    team.Longitude,
		AssignedAt:   time.Now().UTC(),
	}

	if len(rec.Summary) > 0 {
		var summary struct {
			Final struct {
				FinalSeverity string `json:"final_severity"`
				Explanation   string `json:"explanation"`
			} `json:"final"`
		}
		if err := json.Unmarshal(rec.Summary, &summary); err == nil {
			event.FinalSeverity = summary.Final.FinalSeverity
			excerpt := summary.Final.Explanation
			if len(excerpt) > maxSummaryChars {
				excerpt = excerpt[:maxSummaryChars]
			}
			event.Summary = excerpt
		}
	}
	return event
}

// NewRedisClient connects a go-redis client and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: 10,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return rdb, nil
}

// QueuePublisher pushes assignment events onto the Redis queue. It satisfies
// the dispatch engine's notifier contract.
type QueuePublisher struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewQueuePublisher(client *redis.Client, log zerolog.Logger) *QueuePublisher {
	return &QueuePublisher{client: client, log: log}
}

// TeamAssigned enqueues the assignment event. Only the enqueue can fail here;
// delivery happens in the worker.
func (p *QueuePublisher) TeamAssigned(ctx context.Context, rec incident.Record, team incident.Team, job incident.DispatchJob, etaMinutes int) error {
	event := newEvent(rec, team, job, etaMinutes)
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode notification event: %w", err)
	}
	if err := p.client.LPush(ctx, queueKey, payload).Err(); err != nil {
		return fmt.Errorf("enqueue notification event: %w", err)
	}
	p.log.Debug().Int64("incident_id", rec.IncidentID).Str("job_id", job.ID).Msg("assignment notification enqueued")
	return nil
}
