package events

import "time"

// MilestoneCrossed is published when the shared pool drops past a bucket
// threshold. Delivered exactly once per (event, bucket) via the outbox.
type MilestoneCrossed struct {
	GuildID       string    `json:"guild_id"`
	EventID       string    `json:"event_id"`
	BucketPercent int       `json:"bucket_percent"`
	HPRemaining   int64     `json:"hp_remaining"`
	HPMax         int64     `json:"hp_max"`
	CrossedAt     time.Time `json:"crossed_at"`
}

// VoiceDecayStarted is published the first time a user's voice contribution
// drops to the reduced weight on a given day. At most once per user per day.
type VoiceDecayStarted struct {
	GuildID   string    `json:"guild_id"`
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id"`
	StartedAt time.Time `json:"started_at"`
}
