package domain

import "math"

// Profile holds the tuned damage-formula constants. Two profiles exist: the
// standard cap-free logarithmic one and the legacy capped one kept for
// events configured before the formula change. Both run through the same
// calculator; a profile is data, not a second engine.
type Profile struct {
	// Per-bucket weights.
	WTokens   float64
	WRitual   float64
	WNet      float64
	WWager    float64
	WMessages float64
	WVoice    float64

	// Half-saturation constants for Normalize.
	KTokens   float64
	KNet      float64
	KWager    float64
	KMessages float64
	KVoice    float64

	// DecayedVoiceWeight scales minutes accrued in the reduced state.
	DecayedVoiceWeight float64

	// Daily input caps, applied before normalization. Zero means uncapped.
	CapMessages int
	CapVoice    int
	CapWager    int64

	// ParticipationBonus adds bonus damage per devotion point. Zero in the
	// standard profile.
	ParticipationBonus float64
}

// StandardProfile is the cap-free logarithmic formula used for all current
// events.
func StandardProfile() Profile {
	return Profile{
		WTokens:   260,
		WRitual:   160,
		WNet:      110,
		WWager:    95,
		WMessages: 80,
		WVoice:    80,

		KTokens:   25,
		KNet:      10_000,
		KWager:    20_000,
		KMessages: 20,
		KVoice:    30,

		DecayedVoiceWeight: 0.35,
	}
}

// CappedProfile is the legacy variant: hard daily input caps plus a
// participation bonus. Selected per deployment by configuration, never mixed
// with the standard profile inside one event.
func CappedProfile() Profile {
	p := StandardProfile()
	p.CapMessages = 30
	p.CapVoice = 60
	p.CapWager = 20_000
	p.ParticipationBonus = 10
	return p
}

// Normalize is the diminishing-returns curve ln(1 + x/k). Non-decreasing in
// x, unbounded, no hard cap; doubling x less than doubles the output once x
// exceeds k.
func Normalize(x, k float64) float64 {
	if k <= 0 || x <= 0 {
		return 0
	}
	return math.Log(1 + x/k)
}

// EffectiveVoiceMinutes folds decayed minutes in at the reduced weight.
func (p Profile) EffectiveVoiceMinutes(c ActivityCounter) float64 {
	return float64(c.VoiceMinutes) + float64(c.DecayedVoiceMinutes)*p.DecayedVoiceWeight
}

// Damage converts one day's counters into damage points. Deterministic and
// side-effect free: recomputing with identical inputs yields the identical
// value, which the reconciliation tick relies on for idempotence.
func (p Profile) Damage(c ActivityCounter) float64 {
	messages := c.Messages
	if p.CapMessages > 0 && messages > p.CapMessages {
		messages = p.CapMessages
	}
	wager := c.Wager
	if p.CapWager > 0 && wager > p.CapWager {
		wager = p.CapWager
	}
	voice := p.EffectiveVoiceMinutes(c)
	if p.CapVoice > 0 && voice > float64(p.CapVoice) {
		voice = float64(p.CapVoice)
	}

	net := c.Net
	if net < 0 {
		net = 0 // losses never subtract
	}

	ritual := 0.0
	if c.RitualDone {
		ritual = 1.0
	}

	dp := p.WTokens*Normalize(float64(c.TokensSpent), p.KTokens) +
		p.WRitual*ritual +
		p.WNet*Normalize(float64(net), p.KNet) +
		p.WWager*Normalize(float64(wager), p.KWager) +
		p.WMessages*Normalize(float64(messages), p.KMessages) +
		p.WVoice*Normalize(voice, p.KVoice)

	if p.ParticipationBonus > 0 {
		dp += p.ParticipationBonus * float64(p.Devotion(c))
	}
	return dp
}

// Devotion indicator weights.
const (
	devotionTokens  = 2
	devotionRitual  = 3
	devotionMessage = 1
	devotionVoice   = 1
	devotionWager   = 1

	devotionVoiceMinutes = 10
	devotionWagerAmount  = 1000
)

// Devotion computes the small indicator-based score used for leaderboard
// tie-breaking. Independent of pool damage.
func (p Profile) Devotion(c ActivityCounter) int {
	score := 0
	if c.TokensSpent > 0 {
		score += devotionTokens
	}
	if c.RitualDone {
		score += devotionRitual
	}
	if c.Messages >= 1 {
		score += devotionMessage
	}
	if p.EffectiveVoiceMinutes(c) >= devotionVoiceMinutes {
		score += devotionVoice
	}
	if c.Wager >= devotionWagerAmount {
		score += devotionWager
	}
	return score
}
