// Package events defines shared cross-service event payloads.
package events

import "time"

// MessagePosted is emitted by the chat gateway for every guild message.
type MessagePosted struct {
	GuildID   string    `json:"guild_id"`
	UserID    string    `json:"user_id"`
	ChannelID string    `json:"channel_id"`
	MessageID string    `json:"message_id,omitempty"`
	PostedAt  time.Time `json:"posted_at"`
}

// VoicePresence is emitted by the voice-session tracker on session end or
// on its periodic checkpoint, carrying the seconds accrued since the last one.
type VoicePresence struct {
	GuildID         string    `json:"guild_id"`
	UserID          string    `json:"user_id"`
	ChannelID       string    `json:"channel_id,omitempty"`
	DurationSeconds int       `json:"duration_seconds"`
	ObservedAt      time.Time `json:"observed_at"`
}

// WagerSettled is emitted by the casino engine when a game resolves.
type WagerSettled struct {
	GuildID     string    `json:"guild_id"`
	UserID      string    `json:"user_id"`
	Game        string    `json:"game,omitempty"`
	WagerAmount int64     `json:"wager_amount"`
	NetResult   int64     `json:"net_result"`
	SettledAt   time.Time `json:"settled_at"`
}

// TokenTransaction is emitted by the currency ledger for event-token movement.
type TokenTransaction struct {
	GuildID    string    `json:"guild_id"`
	UserID     string    `json:"user_id"`
	Amount     int64     `json:"amount"`
	Direction  string    `json:"direction"` // "spent" or "earned"
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RitualCompleted is emitted by the orders system when a user finishes
// their daily ritual.
type RitualCompleted struct {
	GuildID     string    `json:"guild_id"`
	UserID      string    `json:"user_id"`
	RitualKey   string    `json:"ritual_key,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}
