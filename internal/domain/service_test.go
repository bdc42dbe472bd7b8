package domain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	events map[string]*Event
	ended  []string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{events: make(map[string]*Event)}
}

func (r *fakeRepo) CreateEvent(_ context.Context, event Event, _ PoolState) error {
	if _, ok := r.events[event.EventID]; ok {
		return ErrEventExists
	}
	r.events[event.EventID] = &event
	return nil
}

func (r *fakeRepo) GetEvent(_ context.Context, _, eventID string) (*Event, error) {
	return r.events[eventID], nil
}

func (r *fakeRepo) ActiveEvents(_ context.Context, _ string) ([]Event, error) {
	var out []Event
	for _, ev := range r.events {
		if ev.Active {
			out = append(out, *ev)
		}
	}
	return out, nil
}

func (r *fakeRepo) EndEvent(_ context.Context, _, eventID string, _ time.Time) error {
	ev, ok := r.events[eventID]
	if !ok {
		return ErrEventNotFound
	}
	ev.Active = false
	r.ended = append(r.ended, eventID)
	return nil
}

func (r *fakeRepo) PoolStatus(_ context.Context, _, _ string) (*PoolState, error) {
	return nil, nil
}

func (r *fakeRepo) Leaderboard(_ context.Context, _, _ string, _ LeaderboardMetric, _ int) ([]LeaderboardEntry, error) {
	return nil, nil
}

func (r *fakeRepo) ListTicks(_ context.Context, _, _ string, _ *Cursor, _ int) ([]TickRecord, *Cursor, error) {
	return nil, nil, nil
}

type fakeInvalidator struct {
	guilds []string
}

func (f *fakeInvalidator) Invalidate(guildID string) {
	f.guilds = append(f.guilds, guildID)
}

func TestCreateEventDefaults(t *testing.T) {
	svc := NewService(newFakeRepo())
	ctx := context.Background()

	event, pool, err := svc.CreateEvent(ctx, CreateEventInput{
		GuildID:   "guild-1",
		Name:      "Winter Siege",
		EventType: "holiday_week",
		StartAt:   time.Now(),
		EndAt:     time.Now().Add(7 * 24 * time.Hour),
		UserCount: 500,
	})
	require.NoError(t, err)
	require.NotEmpty(t, event.EventID, "missing id is generated")
	require.True(t, event.Active)
	require.Equal(t, int64(1_750_000), pool.HPMax)
	require.Equal(t, pool.HPMax, pool.HPCurrent)
	require.Equal(t, 100, pool.LastBucket)
	require.Equal(t, PhaseActive, pool.Phase)
}

func TestCreateEventExplicitPoolWins(t *testing.T) {
	svc := NewService(newFakeRepo())

	_, pool, err := svc.CreateEvent(context.Background(), CreateEventInput{
		GuildID:   "guild-1",
		Name:      "Custom",
		EventType: "season_era",
		StartAt:   time.Now(),
		EndAt:     time.Now().Add(24 * time.Hour),
		PoolHP:    42_000,
		UserCount: 500,
	})
	require.NoError(t, err)
	require.Equal(t, int64(42_000), pool.HPMax)
}

func TestLifecycleInvalidatesEventCache(t *testing.T) {
	repo := newFakeRepo()
	inv := &fakeInvalidator{}
	svc := NewService(repo, WithEventCache(inv))
	ctx := context.Background()

	event, _, err := svc.CreateEvent(ctx, CreateEventInput{
		GuildID:   "guild-1",
		Name:      "Winter Siege",
		EventType: "holiday_week",
		StartAt:   time.Now(),
		EndAt:     time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, []string{"guild-1"}, inv.guilds)

	require.NoError(t, svc.EndEvent(ctx, "guild-1", event.EventID))
	require.Equal(t, []string{"guild-1", "guild-1"}, inv.guilds)

	// Ending an already-ended event is a no-op and does not invalidate.
	require.NoError(t, svc.EndEvent(ctx, "guild-1", event.EventID))
	require.Equal(t, []string{"guild-1", "guild-1"}, inv.guilds)
}

func TestGetEventNotFound(t *testing.T) {
	svc := NewService(newFakeRepo())

	_, err := svc.GetEvent(context.Background(), "guild-1", "ghost")
	require.ErrorIs(t, err, ErrEventNotFound)
}

func TestEndEventUnknown(t *testing.T) {
	svc := NewService(newFakeRepo())

	err := svc.EndEvent(context.Background(), "guild-1", "ghost")
	require.ErrorIs(t, err, ErrEventNotFound)
}
