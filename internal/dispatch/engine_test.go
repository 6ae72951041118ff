package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"aid/relay/internal/incident"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memIncidents struct {
	recs map[int64]*incident.Record
}

func (s *memIncidents) Get(_ context.Context, id int64) (*incident.Record, error) {
	rec, ok := s.recs[id]
	if !ok {
		return nil, nil
	}
	clone := *rec
	return &clone, nil
}

func (s *memIncidents) SetAllocationStatus(_ context.Context, id int64, status incident.AllocationStatus) error {
	s.recs[id].AllocationStatus = status
	return nil
}

type memJobs struct {
	jobs []*incident.DispatchJob
}

func (s *memJobs) Create(_ context.Context, job *incident.DispatchJob) error {
	clone := *job
	s.jobs = append(s.jobs, &clone)
	return nil
}

func (s *memJobs) Update(_ context.Context, job *incident.DispatchJob) error {
	for i, existing := range s.jobs {
		if existing.ID == job.ID {
			clone := *job
			s.jobs[i] = &clone
			return nil
		}
	}
	return nil
}

func (s *memJobs) LatestActive(_ context.Context, incidentID int64, since time.Time) (*incident.DispatchJob, error) {
	var latest *incident.DispatchJob
	for _, job := range s.jobs {
		if job.IncidentID != incidentID || job.State == incident.JobFailed {
			continue
		}
		if job.EnqueuedAt.Before(since) {
			continue
		}
		if latest == nil || job.EnqueuedAt.After(latest.EnqueuedAt) {
			latest = job
		}
	}
	if latest == nil {
		return nil, nil
	}
	clone := *latest
	return &clone, nil
}

type memTeams struct {
	teams map[int64]*incident.Team
}

func (s *memTeams) Get(_ context.Context, id int64) (*incident.Team, error) {
	team, ok := s.teams[id]
	if !ok {
		return nil, nil
	}
	clone := *team
	return &clone, nil
}

func (s *memTeams) ListAvailable(context.Context) ([]incident.Team, error) {
	var out []incident.Team
	for _, team := range s.teams {
		if team.Available {
			out = append(out, *team)
		}
	}
	return out, nil
}

func (s *memTeams) IncrementLoad(_ context.Context, id int64) (bool, error) {
	team, ok := s.teams[id]
	if !ok {
		return false, nil
	}
	if !team.Available || team.Load >= team.Capacity {
		return false, nil
	}
	team.Load++
	return true, nil
}

type recordedNotification struct {
	incidentID int64
	teamID     int64
	eta        int
}

type memNotifier struct {
	events []recordedNotification
}

func (n *memNotifier) TeamAssigned(_ context.Context, rec incident.Record, team incident.Team, _ incident.DispatchJob, eta int) error {
	n.events = append(n.events, recordedNotification{incidentID: rec.IncidentID, teamID: team.ID, eta: eta})
	return nil
}

func verifiedRecord(id int64, lat, lon float64) *incident.Record {
	summary, _ := json.Marshal(map[string]interface{}{
		"final": map[string]interface{}{"priority_score_0_10": 8},
	})
	return &incident.Record{
		IncidentID:     id,
		Lat:            &lat,
		Lon:            &lon,
		Status:         incident.StatusVerified,
		PipelineStatus: incident.PipelineJudged,
		Summary:        summary,
	}
}

func newTestEngine(t *testing.T, recs map[int64]*incident.Record, teams map[int64]*incident.Team) (*Engine, *memIncidents, *memJobs, *memTeams, *memNotifier) {
	t.Helper()
	incidents := &memIncidents{recs: recs}
	jobs := &memJobs{}
	teamStore := &memTeams{teams: teams}
	notifier := &memNotifier{}
	engine := New(incidents, jobs, teamStore, notifier, Config{}, zerolog.Nop())
	return engine, incidents, jobs, teamStore, notifier
}

func TestDispatchAssignsNearestTeam(t *testing.T) {
	teams := map[int64]*incident.Team{
		1: {ID: 1, Name: "North", Latitude: 17.50, Longitude: 78.50, Capacity: 2, Available: true},
		2: {ID: 2, Name: "Central", Latitude: 17.39, Longitude: 78.49, Capacity: 2, Available: true},
		3: {ID: 3, Name: "Far", Latitude: 28.61, Longitude: 77.21, Capacity: 2, Available: true},
	}
	engine, incidents, _, teamStore, notifier := newTestEngine(t, map[int64]*incident.Record{
		7: verifiedRecord(7, 17.3850, 78.4867),
	}, teams)

	result, err := engine.Dispatch(context.Background(), 7)
	require.NoError(t, err)

	require.NotNil(t, result.Team)
	assert.Equal(t, int64(2), result.Team.ID)
	assert.Equal(t, incident.JobAssigned, result.Job.State)
	assert.Equal(t, 8, result.Job.Priority)
	assert.False(t, result.Reused)
	assert.Equal(t, 1, teamStore.teams[2].Load)
	assert.Equal(t, incident.AllocationAssigned, incidents.recs[7].AllocationStatus)
	require.Len(t, notifier.events, 1)
	assert.Equal(t, int64(2), notifier.events[0].teamID)
	assert.GreaterOrEqual(t, result.ETAMinutes, 5)
}

func TestDispatchMinimumETA(t *testing.T) {
	teams := map[int64]*incident.Team{
		1: {ID: 1, Name: "Onsite", Latitude: 17.3850, Longitude: 78.4867, Capacity: 1, Available: true},
	}
	engine, _, _, _, _ := newTestEngine(t, map[int64]*incident.Record{
		7: verifiedRecord(7, 17.3850, 78.4867),
	}, teams)

	result, err := engine.Dispatch(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 5, result.ETAMinutes)
}

func TestDispatchIdempotencyWindow(t *testing.T) {
	teams := map[int64]*incident.Team{
		1: {ID: 1, Name: "Central", Latitude: 17.39, Longitude: 78.49, Capacity: 5, Available: true},
	}
	engine, _, jobs, teamStore, _ := newTestEngine(t, map[int64]*incident.Record{
		7: verifiedRecord(7, 17.3850, 78.4867),
	}, teams)

	first, err := engine.Dispatch(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, incident.JobAssigned, first.Job.State)

	t.Run("repeat three minutes later reuses the job", func(t *testing.T) {
		engine.now = func() time.Time { return time.Now().Add(3 * time.Minute) }

		second, err := engine.Dispatch(context.Background(), 7)
		require.NoError(t, err)

		assert.True(t, second.Reused)
		assert.Equal(t, first.Job.ID, second.Job.ID)
		assert.Len(t, jobs.jobs, 1)
		assert.Equal(t, 1, teamStore.teams[1].Load)
	})

	t.Run("repeat after the window allocates again", func(t *testing.T) {
		engine.now = func() time.Time { return time.Now().Add(11 * time.Minute) }

		third, err := engine.Dispatch(context.Background(), 7)
		require.NoError(t, err)

		assert.False(t, third.Reused)
		assert.NotEqual(t, first.Job.ID, third.Job.ID)
		assert.Len(t, jobs.jobs, 2)
		assert.Equal(t, 2, teamStore.teams[1].Load)
	})
}

func TestDispatchFailsWithoutCapacity(t *testing.T) {
	teams := map[int64]*incident.Team{
		1: {ID: 1, Name: "Full", Latitude: 17.39, Longitude: 78.49, Capacity: 1, Load: 1, Available: true},
		2: {ID: 2, Name: "Off duty", Latitude: 17.40, Longitude: 78.48, Capacity: 3, Available: false},
	}
	engine, _, jobs, _, notifier := newTestEngine(t, map[int64]*incident.Record{
		7: verifiedRecord(7, 17.3850, 78.4867),
	}, teams)

	result, err := engine.Dispatch(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, incident.JobFailed, result.Job.State)
	assert.NotEmpty(t, result.Job.LastError)
	assert.Nil(t, result.Team)
	assert.Empty(t, notifier.events)
	require.Len(t, jobs.jobs, 1)
	assert.Equal(t, incident.JobFailed, jobs.jobs[0].State)
}

func TestDispatchRejectsUnverifiedIncident(t *testing.T) {
	rec := verifiedRecord(7, 17.3850, 78.4867)
	rec.Status = incident.StatusSubmitted
	engine, _, jobs, _, _ := newTestEngine(t, map[int64]*incident.Record{7: rec}, nil)

	_, err := engine.Dispatch(context.Background(), 7)
	assert.ErrorIs(t, err, ErrIncidentNotVerified)
	assert.Empty(t, jobs.jobs)
}

func TestDispatchUnknownIncident(t *testing.T) {
	engine, _, _, _, _ := newTestEngine(t, map[int64]*incident.Record{}, nil)

	_, err := engine.Dispatch(context.Background(), 99)
	assert.ErrorIs(t, err, ErrIncidentNotFound)
}

func TestDispatchToDesignatedTeam(t *testing.T) {
	teams := map[int64]*incident.Team{
		1: {ID: 1, Name: "Near", Latitude: 17.39, Longitude: 78.49, Capacity: 2, Available: true},
		2: {ID: 2, Name: "Picked", Latitude: 17.60, Longitude: 78.60, Capacity: 2, Available: true},
	}
	engine, _, _, teamStore, _ := newTestEngine(t, map[int64]*incident.Record{
		7: verifiedRecord(7, 17.3850, 78.4867),
	}, teams)

	result, err := engine.DispatchTo(context.Background(), 7, 2)
	require.NoError(t, err)

	require.NotNil(t, result.Team)
	assert.Equal(t, int64(2), result.Team.ID)
	assert.Equal(t, 1, teamStore.teams[2].Load)
	assert.Zero(t, teamStore.teams[1].Load)
}

func TestDispatchToUnavailableTeamFails(t *testing.T) {
	teams := map[int64]*incident.Team{
		2: {ID: 2, Name: "Full", Latitude: 17.60, Longitude: 78.60, Capacity: 1, Load: 1, Available: true},
	}
	engine, _, _, _, _ := newTestEngine(t, map[int64]*incident.Record{
		7: verifiedRecord(7, 17.3850, 78.4867),
	}, teams)

	result, err := engine.DispatchTo(context.Background(), 7, 2)
	require.NoError(t, err)

	assert.Equal(t, incident.JobFailed, result.Job.State)
	assert.Contains(t, result.Job.LastError, "capacity")
}
