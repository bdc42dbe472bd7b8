package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DollDevil/IBV3/internal/domain"
)

type stubLister struct {
	events map[string][]domain.Event
	err    error
	calls  int
}

func (s *stubLister) ActiveEvents(_ context.Context, guildID string) ([]domain.Event, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.events[guildID], nil
}

func TestActiveEventCacheServesFromCache(t *testing.T) {
	lister := &stubLister{events: map[string][]domain.Event{
		"guild-1": {{GuildID: "guild-1", EventID: "event-1"}},
	}}
	cache := NewActiveEventCache(lister, time.Minute)
	ctx := context.Background()

	ids, err := cache.ActiveEventIDs(ctx, "guild-1")
	require.NoError(t, err)
	require.Equal(t, []string{"event-1"}, ids)

	for i := 0; i < 10; i++ {
		_, err := cache.ActiveEventIDs(ctx, "guild-1")
		require.NoError(t, err)
	}
	require.Equal(t, 1, lister.calls)
}

func TestActiveEventCacheServesStaleOnError(t *testing.T) {
	lister := &stubLister{events: map[string][]domain.Event{
		"guild-1": {{GuildID: "guild-1", EventID: "event-1"}},
	}}
	cache := NewActiveEventCache(lister, time.Nanosecond)
	ctx := context.Background()

	ids, err := cache.ActiveEventIDs(ctx, "guild-1")
	require.NoError(t, err)
	require.Equal(t, []string{"event-1"}, ids)

	time.Sleep(time.Millisecond)
	lister.err = errors.New("postgres down")

	ids, err = cache.ActiveEventIDs(ctx, "guild-1")
	require.NoError(t, err, "stale entries cover storage blips")
	require.Equal(t, []string{"event-1"}, ids)
}

func TestActiveEventCacheErrorWithNoHistory(t *testing.T) {
	lister := &stubLister{err: errors.New("postgres down")}
	cache := NewActiveEventCache(lister, time.Minute)

	_, err := cache.ActiveEventIDs(context.Background(), "guild-1")
	require.Error(t, err)
}

func TestActiveEventCacheInvalidate(t *testing.T) {
	lister := &stubLister{events: map[string][]domain.Event{
		"guild-1": {{GuildID: "guild-1", EventID: "event-1"}},
	}}
	cache := NewActiveEventCache(lister, time.Minute)
	ctx := context.Background()

	_, err := cache.ActiveEventIDs(ctx, "guild-1")
	require.NoError(t, err)

	lister.events["guild-1"] = append(lister.events["guild-1"], domain.Event{GuildID: "guild-1", EventID: "event-2"})
	cache.Invalidate("guild-1")

	ids, err := cache.ActiveEventIDs(ctx, "guild-1")
	require.NoError(t, err)
	require.Equal(t, []string{"event-1", "event-2"}, ids)
	require.Equal(t, 2, lister.calls)
}
