package pool

import (
	"context"
	"sync"
	"time"

	"github.com/DollDevil/IBV3/internal/domain"
)

// FactorStore persists day multipliers. EnsureScalingFactor inserts the
// candidate row and returns the stored one; when a concurrent writer got
// there first the existing row wins, so every process sees the same
// multiplier for a given day.
type FactorStore interface {
	EnsureScalingFactor(ctx context.Context, f domain.ScalingFactor) (domain.ScalingFactor, error)
	ObservedDailyDamage(ctx context.Context, guildID, eventID, day string) (float64, error)
}

// Scaler computes and caches the per-day global multiplier for each event.
type Scaler struct {
	store    FactorStore
	location *time.Location

	mu      sync.Mutex
	factors map[factorKey]float64
}

type factorKey struct {
	guildID string
	eventID string
	day     string
}

// NewScaler constructs a Scaler.
func NewScaler(store FactorStore, loc *time.Location) *Scaler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scaler{
		store:    store,
		location: loc,
		factors:  make(map[factorKey]float64),
	}
}

// EnsureFactor returns the multiplier for (event, day), computing and
// persisting it on first use. The first day of an event has no observation
// and runs at 1.0.
func (s *Scaler) EnsureFactor(ctx context.Context, ev domain.Event, pool domain.PoolState, day string) (float64, error) {
	key := factorKey{guildID: ev.GuildID, eventID: ev.EventID, day: day}

	s.mu.Lock()
	if m, ok := s.factors[key]; ok {
		s.mu.Unlock()
		return m, nil
	}
	s.mu.Unlock()

	dayStart, err := time.ParseInLocation("2006-01-02", day, s.location)
	if err != nil {
		return 0, err
	}
	prevDay := domain.Day(dayStart.AddDate(0, 0, -1), s.location)

	observed, err := s.store.ObservedDailyDamage(ctx, ev.GuildID, ev.EventID, prevDay)
	if err != nil {
		return 0, err
	}

	daysRemaining := ev.EndAt.Sub(dayStart).Hours() / 24
	expected := domain.ExpectedDailyDamage(pool.HPCurrent, daysRemaining)

	candidate := domain.ScalingFactor{
		GuildID:        ev.GuildID,
		EventID:        ev.EventID,
		Day:            day,
		ExpectedDamage: expected,
		ObservedDamage: observed,
		Multiplier:     domain.ComputeScale(expected, observed),
	}

	stored, err := s.store.EnsureScalingFactor(ctx, candidate)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.factors[key] = stored.Multiplier
	// Entries older than the ensured day are dead weight. Late rows still
	// re-ensure the previous day, so only strictly older days go.
	for k := range s.factors {
		if k.day < day {
			delete(s.factors, k)
		}
	}
	s.mu.Unlock()

	recordScaleFactor(ev.GuildID, ev.EventID, stored.Multiplier)
	return stored.Multiplier, nil
}
