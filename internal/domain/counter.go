package domain

import "time"

// SignalKind identifies the activity source a raw signal came from.
type SignalKind string

const (
	KindMessage     SignalKind = "message"
	KindVoice       SignalKind = "voice"
	KindWager       SignalKind = "wager"
	KindNet         SignalKind = "net"
	KindTokenSpent  SignalKind = "tokenSpent"
	KindTokenEarned SignalKind = "tokenEarned"
	KindRitual      SignalKind = "ritual"
)

// ValidKind reports whether the kind is one the intake accepts.
func ValidKind(k SignalKind) bool {
	switch k {
	case KindMessage, KindVoice, KindWager, KindNet, KindTokenSpent, KindTokenEarned, KindRitual:
		return true
	}
	return false
}

// CounterKey identifies one per-user daily activity record.
type CounterKey struct {
	GuildID string
	EventID string
	UserID  string
	Day     string // calendar day, YYYY-MM-DD in the event timezone
}

// ActivityCounter holds the raw daily inputs for one user plus the damage
// and devotion values cached by the last reconciliation tick.
type ActivityCounter struct {
	Key                 CounterKey
	Messages            int
	VoiceMinutes        int
	DecayedVoiceMinutes int
	Wager               int64
	Net                 int64
	TokensSpent         int64
	TokensEarned        int64
	RitualDone          bool
	CachedDamage        float64
	CachedDevotion      int
	FirstActivityAt     time.Time
	LastUpdateAt        time.Time
}

// RuntimeCheckpoint is the durable copy of a user's cooldown/decay clocks.
// It is coarse on purpose: losing one flush interval of precision after a
// restart is acceptable, losing the clocks entirely is not.
type RuntimeCheckpoint struct {
	GuildID            string
	EventID            string
	UserID             string
	LastCountedMsgAt   time.Time
	LastVoiceRefreshAt time.Time
	DecayWarnedDay     string // day the decay warning was sent, "" if none
}

// TokenLedgerEntry is an append-only audit row for event-token movement.
// Earned tokens never contribute damage; they exist for the audit trail.
type TokenLedgerEntry struct {
	GuildID    string
	EventID    string
	UserID     string
	Delta      int64 // negative for spend
	Reason     string
	OccurredAt time.Time
}

// Day formats t as a calendar day in the given location. The event day
// boundary follows the community timezone, not UTC.
func Day(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}
