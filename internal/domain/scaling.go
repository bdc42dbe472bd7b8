package domain

// ScalingFactor is the day-level multiplier that keeps pool pacing aligned
// with the event schedule. Computed once per (event, day), immutable after.
type ScalingFactor struct {
	GuildID        string
	EventID        string
	Day            string
	ExpectedDamage float64
	ObservedDamage float64
	Multiplier     float64
}

// Multiplier clamp band.
const (
	scaleMin = 0.75
	scaleMax = 1.35
)

// pacingFactor shortens the remaining schedule slightly (a 7-day event paces
// as 6.2 days) so the pool tends to empty with buffer to spare.
const pacingFactor = 6.2 / 7.0

// ComputeScale derives the day multiplier from expected versus observed
// damage, clamped to the fixed band. With no prior-day observation the
// multiplier is 1.0.
func ComputeScale(expected, observed float64) float64 {
	if observed <= 0 {
		return 1.0
	}
	raw := expected / observed
	if raw < scaleMin {
		return scaleMin
	}
	if raw > scaleMax {
		return scaleMax
	}
	return raw
}

// ExpectedDailyDamage is the damage per day needed to drain hpRemaining over
// the days left, with the pacing buffer applied.
func ExpectedDailyDamage(hpRemaining int64, daysRemaining float64) float64 {
	if hpRemaining <= 0 {
		return 0
	}
	paced := daysRemaining * pacingFactor
	if paced < 1 {
		paced = 1
	}
	return float64(hpRemaining) / paced
}
