// Package pool runs the periodic reconciliation tick that converts cached
// counter damage into pool depletion and milestone notifications.
package pool

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	"github.com/DollDevil/IBV3/internal/domain"
)

// CounterUpdate carries the refreshed cached values for one user-day row.
type CounterUpdate struct {
	Key      domain.CounterKey
	Damage   float64
	Devotion int
}

// TickApplication is one reconciliation result. The store must apply it in
// a single transaction: cached-counter updates, pool decrement, audit
// record and milestone outbox rows all land together or not at all.
type TickApplication struct {
	GuildID    string
	EventID    string
	At         time.Time
	Damage     float64
	HPAfter    int64
	HPMax      int64
	PrevBucket int
	NewBucket  int
	Phase      domain.PoolPhase
	Milestones []int
	Counters   []CounterUpdate
}

// Store is the persistence surface the ticker drives.
type Store interface {
	TickableEvents(ctx context.Context) ([]domain.Event, error)
	PoolStatus(ctx context.Context, guildID, eventID string) (*domain.PoolState, error)
	CountersChangedSince(ctx context.Context, guildID, eventID string, since time.Time) ([]domain.ActivityCounter, error)
	ApplyTick(ctx context.Context, app TickApplication) error
	TouchPoolTick(ctx context.Context, guildID, eventID string, at time.Time) error
}

// deltaEpsilon absorbs float noise between a recomputed damage value and
// the cached one so idle users never produce phantom deltas.
const deltaEpsilon = 1e-9

// reconcileLookback widens the changed-since window behind the last tick.
// Flushed rows carry record-time stamps that can trail the flush itself by
// a flush interval, so a row can land with last_update_at slightly before
// the tick that just ran. Re-reading a reconciled row costs nothing: its
// delta is zero and it is skipped.
const reconcileLookback = 5 * time.Minute

// Ticker periodically reconciles every active event. A tick that overruns
// the interval delays the next one; ticks for one process never overlap.
type Ticker struct {
	store            Store
	scaler           *Scaler
	profile          domain.Profile
	interval         time.Duration
	location         *time.Location
	logger           *log.Logger
	shutdownComplete chan struct{}
}

// NewTicker constructs a Ticker.
func NewTicker(store Store, scaler *Scaler, profile domain.Profile, interval time.Duration, loc *time.Location) *Ticker {
	if loc == nil {
		loc = time.UTC
	}
	return &Ticker{
		store:            store,
		scaler:           scaler,
		profile:          profile,
		interval:         interval,
		location:         loc,
		logger:           log.New(log.Writer(), "[pool-ticker] ", log.LstdFlags),
		shutdownComplete: make(chan struct{}),
	}
}

// Start launches the tick loop. It should be called in a goroutine.
func (t *Ticker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer func() {
		ticker.Stop()
		close(t.shutdownComplete)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := t.TickOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.logger.Printf("tick error: %v", err)
		}
	}
}

// Wait blocks until the tick loop has stopped.
func (t *Ticker) Wait() {
	<-t.shutdownComplete
}

// TickOnce reconciles every tickable event. Per-event failures are logged
// and skipped so one broken event never starves the rest.
func (t *Ticker) TickOnce(ctx context.Context) error {
	events, err := t.store.TickableEvents(ctx)
	if err != nil {
		return err
	}

	for _, ev := range events {
		if err := t.tickEvent(ctx, ev); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			recordTickError(ev.GuildID)
			t.logger.Printf("tick failed (guild=%s event=%s): %v", ev.GuildID, ev.EventID, err)
		}
	}
	return nil
}

// tickEvent recomputes damage for every counter row changed since the
// previous tick and applies the unapplied delta to the pool. Rows keyed to
// an earlier day still reconcile: activity flushed after that day's last
// tick is picked up here instead of being stranded. Re-running with
// unchanged counters applies nothing, which makes the tick idempotent.
func (t *Ticker) tickEvent(ctx context.Context, ev domain.Event) error {
	start := time.Now()

	pool, err := t.store.PoolStatus(ctx, ev.GuildID, ev.EventID)
	if err != nil {
		return err
	}
	if pool == nil || pool.Phase == domain.PhaseDepleted {
		return nil
	}

	now := time.Now()

	factors := make(map[string]float64)
	factorFor := func(day string) (float64, error) {
		if m, ok := factors[day]; ok {
			return m, nil
		}
		m, err := t.scaler.EnsureFactor(ctx, ev, *pool, day)
		if err != nil {
			return 0, err
		}
		factors[day] = m
		return m, nil
	}

	// Pin the current day's multiplier up front, quiet tick or not, so the
	// first process of the day decides it.
	if _, err := factorFor(domain.Day(now, t.location)); err != nil {
		return err
	}

	since := pool.LastTickAt
	if !since.IsZero() {
		since = since.Add(-reconcileLookback)
	}
	counters, err := t.store.CountersChangedSince(ctx, ev.GuildID, ev.EventID, since)
	if err != nil {
		return err
	}

	var (
		total   float64
		updates []CounterUpdate
	)
	for _, c := range counters {
		dp := t.profile.Damage(c)
		delta := dp - c.CachedDamage
		if delta <= deltaEpsilon {
			continue
		}
		// Each row scales by the multiplier of its own day, so a late
		// flush for yesterday pays out at yesterday's rate.
		multiplier, err := factorFor(c.Key.Day)
		if err != nil {
			return err
		}
		// Cached damage stays unscaled; the multiplier applies to the
		// pool-facing delta only, so a mid-day factor change never
		// rewrites history.
		total += delta * multiplier
		updates = append(updates, CounterUpdate{
			Key:      c.Key,
			Damage:   dp,
			Devotion: t.profile.Devotion(c),
		})
	}

	if len(updates) == 0 {
		if err := t.store.TouchPoolTick(ctx, ev.GuildID, ev.EventID, now); err != nil {
			return err
		}
		recordTick(ev.GuildID, 0, time.Since(start))
		return nil
	}

	hpAfter := pool.HPCurrent - int64(math.Round(total))
	if hpAfter < 0 {
		hpAfter = 0
	}

	crossed := domain.CrossedBuckets(pool.LastBucket, hpAfter, pool.HPMax)
	newBucket := pool.LastBucket
	if len(crossed) > 0 {
		newBucket = crossed[len(crossed)-1]
	}
	phase := domain.PhaseActive
	if hpAfter == 0 {
		phase = domain.PhaseDepleted
	}

	app := TickApplication{
		GuildID:    ev.GuildID,
		EventID:    ev.EventID,
		At:         now,
		Damage:     total,
		HPAfter:    hpAfter,
		HPMax:      pool.HPMax,
		PrevBucket: pool.LastBucket,
		NewBucket:  newBucket,
		Phase:      phase,
		Milestones: crossed,
		Counters:   updates,
	}
	if err := t.store.ApplyTick(ctx, app); err != nil {
		return err
	}

	recordTick(ev.GuildID, total, time.Since(start))
	recordPoolHP(ev.GuildID, ev.EventID, hpAfter, pool.HPMax)
	for range crossed {
		recordMilestone(ev.GuildID)
	}
	return nil
}
