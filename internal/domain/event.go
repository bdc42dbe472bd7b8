package domain

import "time"

// PoolPhase describes the lifecycle of an event's shared pool.
type PoolPhase string

const (
	PhaseActive   PoolPhase = "active"
	PhaseDepleted PoolPhase = "depleted"
)

// Event is a time-boxed community event with a shared pool.
type Event struct {
	GuildID   string
	EventID   string
	Name      string
	EventType string // e.g. holiday_week, season_era
	StartAt   time.Time
	EndAt     time.Time
	Active    bool
	CreatedAt time.Time
}

// PoolState is the shared depleting resource for one event. HPCurrent is
// monotonically non-increasing and never below zero; LastBucket only moves
// to lower values.
type PoolState struct {
	GuildID    string
	EventID    string
	HPCurrent  int64
	HPMax      int64
	LastTickAt time.Time
	LastBucket int
	Phase      PoolPhase
}

// TickRecord is one append-only reconciliation audit entry.
type TickRecord struct {
	ID      int64
	GuildID string
	EventID string
	At      time.Time
	Damage  float64
	HPAfter int64
}

// milestoneBuckets are the descending thresholds below 100. Zero is handled
// separately: it fires only when the pool is exactly empty.
var milestoneBuckets = [...]int{80, 60, 40, 20}

// CrossedBuckets returns, in descending order, every milestone bucket
// strictly below prevBucket that hp has dropped to or past. The 0 bucket is
// included only when hp is exactly zero, so a pool at a sliver of HP never
// announces depletion early.
func CrossedBuckets(prevBucket int, hp, hpMax int64) []int {
	if hpMax <= 0 {
		return nil
	}
	pct := float64(hp) * 100 / float64(hpMax)

	var crossed []int
	for _, b := range milestoneBuckets {
		if b < prevBucket && pct <= float64(b) {
			crossed = append(crossed, b)
		}
	}
	if hp == 0 && prevBucket > 0 {
		crossed = append(crossed, 0)
	}
	return crossed
}

// defaultPoolHP is tuned for a community of 1000 active members.
const defaultPoolHP = 3_500_000

// RecommendedPoolHP sizes a pool linearly from the expected participant
// count.
func RecommendedPoolHP(userCount int) int64 {
	if userCount <= 0 {
		userCount = 1000
	}
	return int64(defaultPoolHP * float64(userCount) / 1000.0)
}
