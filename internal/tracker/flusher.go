package tracker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/DollDevil/IBV3/internal/domain"
)

// Store persists a drained snapshot. Flush must be atomic: either the whole
// snapshot lands or none of it does, so a failed flush can merge back
// without double-counting.
type Store interface {
	Flush(ctx context.Context, snap Snapshot) error
	LoadCheckpoints(ctx context.Context) ([]domain.RuntimeCheckpoint, error)
}

// DecayNotifier delivers the one-time voice decay warning. Failures are
// non-critical; a missed warning is logged and forgotten.
type DecayNotifier interface {
	NotifyDecayStarted(ctx context.Context, guildID, eventID, userID string, at time.Time) error
}

// Flusher periodically drains the tracker to durable storage. Intervals run
// to completion or not at all; a failed flush retries on the next interval.
type Flusher struct {
	tracker          *Tracker
	store            Store
	notifier         DecayNotifier
	interval         time.Duration
	logger           *log.Logger
	shutdownComplete chan struct{}
}

// NewFlusher constructs a Flusher.
func NewFlusher(t *Tracker, store Store, notifier DecayNotifier, interval time.Duration) *Flusher {
	return &Flusher{
		tracker:          t,
		store:            store,
		notifier:         notifier,
		interval:         interval,
		logger:           log.New(log.Writer(), "[flusher] ", log.LstdFlags),
		shutdownComplete: make(chan struct{}),
	}
}

// Restore seeds the tracker's runtime clocks from the latest persisted
// checkpoints. Missing checkpoints mean "not yet refreshed"; this never
// fails the startup beyond returning the error for logging.
func (f *Flusher) Restore(ctx context.Context) error {
	checkpoints, err := f.store.LoadCheckpoints(ctx)
	if err != nil {
		return err
	}
	f.tracker.Seed(checkpoints)
	return nil
}

// Start launches the flush loop. It should be called in a goroutine. A
// final flush runs on shutdown so at most one interval of data is in
// flight when the process exits.
func (f *Flusher) Start(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer func() {
		ticker.Stop()
		if err := f.FlushOnce(context.Background()); err != nil {
			f.logger.Printf("final flush failed: %v", err)
		}
		close(f.shutdownComplete)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := f.FlushOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			f.logger.Printf("flush error: %v", err)
		}
	}
}

// Wait blocks until the flush loop has stopped.
func (f *Flusher) Wait() {
	<-f.shutdownComplete
}

// FlushOnce drains and persists one snapshot, then delivers any queued
// decay warnings. Persistence failure merges the snapshot back; warning
// delivery failure only logs.
func (f *Flusher) FlushOnce(ctx context.Context) error {
	snap := f.tracker.Snapshot()
	if snap.Empty() {
		return nil
	}

	start := time.Now()
	if err := f.store.Flush(ctx, snap); err != nil {
		f.tracker.MergeBack(snap)
		recordFlushError()
		return err
	}
	recordFlush(len(snap.Counters), time.Since(start))

	for _, w := range snap.Warnings {
		if err := f.notifier.NotifyDecayStarted(ctx, w.GuildID, w.EventID, w.UserID, w.At); err != nil {
			f.logger.Printf("decay warning dropped (guild=%s user=%s): %v", w.GuildID, w.UserID, err)
		}
	}
	return nil
}
