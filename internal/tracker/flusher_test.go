package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DollDevil/IBV3/internal/domain"
)

type stubFlushStore struct {
	snapshots   []Snapshot
	checkpoints []domain.RuntimeCheckpoint
	flushErr    error
}

func (s *stubFlushStore) Flush(_ context.Context, snap Snapshot) error {
	if s.flushErr != nil {
		return s.flushErr
	}
	s.snapshots = append(s.snapshots, snap)
	return nil
}

func (s *stubFlushStore) LoadCheckpoints(_ context.Context) ([]domain.RuntimeCheckpoint, error) {
	return s.checkpoints, nil
}

type stubNotifier struct {
	warned []DecayWarning
	err    error
}

func (n *stubNotifier) NotifyDecayStarted(_ context.Context, guildID, eventID, userID string, at time.Time) error {
	if n.err != nil {
		return n.err
	}
	n.warned = append(n.warned, DecayWarning{GuildID: guildID, EventID: eventID, UserID: userID, At: at})
	return nil
}

func TestFlushOncePersistsSnapshot(t *testing.T) {
	trk := newTestTracker(Options{MessageCooldown: time.Second})
	store := &stubFlushStore{}
	notifier := &stubNotifier{}
	flusher := NewFlusher(trk, store, notifier, time.Minute)

	ctx := context.Background()
	trk.OnMessage(ctx, "guild-1", "event-1", "user-1", "general", time.Now().UTC())

	require.NoError(t, flusher.FlushOnce(ctx))
	require.Len(t, store.snapshots, 1)
	require.Len(t, store.snapshots[0].Counters, 1)

	// Nothing new accumulated: the next flush is a no-op.
	require.NoError(t, flusher.FlushOnce(ctx))
	require.Len(t, store.snapshots, 1)
}

func TestFlushOnceMergesBackOnFailure(t *testing.T) {
	trk := newTestTracker(Options{MessageCooldown: time.Second})
	store := &stubFlushStore{flushErr: errors.New("postgres down")}
	flusher := NewFlusher(trk, store, &stubNotifier{}, time.Minute)

	ctx := context.Background()
	trk.OnMessage(ctx, "guild-1", "event-1", "user-1", "general", time.Now().UTC())

	require.Error(t, flusher.FlushOnce(ctx))

	// The counters are back in memory and flush on recovery.
	store.flushErr = nil
	require.NoError(t, flusher.FlushOnce(ctx))
	require.Len(t, store.snapshots, 1)
	require.Equal(t, 1, store.snapshots[0].Counters[0].Messages)
}

func TestFlushOnceDeliversDecayWarnings(t *testing.T) {
	trk := newTestTracker(Options{VoiceDecayAfter: time.Hour})
	store := &stubFlushStore{}
	notifier := &stubNotifier{}
	flusher := NewFlusher(trk, store, notifier, time.Minute)

	ctx := context.Background()
	base := time.Date(2026, time.August, 29, 12, 0, 0, 0, time.UTC)
	trk.OnVoicePresence(ctx, "guild-1", "event-1", "user-1", 60, base)
	trk.OnVoicePresence(ctx, "guild-1", "event-1", "user-1", 60, base.Add(2*time.Hour))

	require.NoError(t, flusher.FlushOnce(ctx))
	require.Len(t, notifier.warned, 1)
	require.Equal(t, "user-1", notifier.warned[0].UserID)
}

func TestFlushOnceSurvivesNotifierFailure(t *testing.T) {
	trk := newTestTracker(Options{VoiceDecayAfter: time.Hour})
	store := &stubFlushStore{}
	notifier := &stubNotifier{err: errors.New("outbox insert failed")}
	flusher := NewFlusher(trk, store, notifier, time.Minute)

	ctx := context.Background()
	base := time.Date(2026, time.August, 29, 12, 0, 0, 0, time.UTC)
	trk.OnVoicePresence(ctx, "guild-1", "event-1", "user-1", 60, base)
	trk.OnVoicePresence(ctx, "guild-1", "event-1", "user-1", 60, base.Add(2*time.Hour))

	require.NoError(t, flusher.FlushOnce(ctx), "a dropped warning never fails the flush")
	require.Len(t, store.snapshots, 1)
}

func TestRestoreSeedsClocks(t *testing.T) {
	trk := newTestTracker(Options{MessageCooldown: 5 * time.Second})
	base := time.Date(2026, time.August, 29, 12, 0, 0, 0, time.UTC)
	store := &stubFlushStore{checkpoints: []domain.RuntimeCheckpoint{{
		GuildID: "guild-1", EventID: "event-1", UserID: "user-1",
		LastCountedMsgAt: base,
	}}}
	flusher := NewFlusher(trk, store, &stubNotifier{}, time.Minute)

	ctx := context.Background()
	require.NoError(t, flusher.Restore(ctx))

	trk.OnMessage(ctx, "guild-1", "event-1", "user-1", "general", base.Add(time.Second))
	require.Empty(t, trk.Snapshot().Counters, "restored cooldown clock still throttles")
}
