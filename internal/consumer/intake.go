package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DollDevil/IBV3/internal/tracker"
	"github.com/DollDevil/IBV3/pkg/events"
)

// Inbound topic names published by the rest of the platform.
const (
	TopicMessagePosted    = "gateway.message.posted"
	TopicVoicePresence    = "gateway.voice.presence"
	TopicWagerSettled     = "casino.wager.settled"
	TopicTokenTransaction = "economy.token.transaction"
	TopicRitualCompleted  = "orders.ritual.completed"
)

// EventResolver reports the active event IDs a signal should fan out to.
type EventResolver interface {
	ActiveEventIDs(ctx context.Context, guildID string) ([]string, error)
}

// IntakeHandler decodes platform signals and fans each one out to every
// active event in the guild. Signals arriving while no event is active are
// dropped without error.
type IntakeHandler struct {
	tracker  *tracker.Tracker
	resolver EventResolver
}

// NewIntakeHandler constructs an IntakeHandler.
func NewIntakeHandler(t *tracker.Tracker, resolver EventResolver) *IntakeHandler {
	return &IntakeHandler{tracker: t, resolver: resolver}
}

// Handle dispatches on topic. Unknown topics are an error so a misrouted
// subscription is caught loudly instead of silently discarded.
func (h *IntakeHandler) Handle(ctx context.Context, msg Message) error {
	switch msg.Topic {
	case TopicMessagePosted:
		return h.handleMessage(ctx, msg.Payload)
	case TopicVoicePresence:
		return h.handleVoice(ctx, msg.Payload)
	case TopicWagerSettled:
		return h.handleWager(ctx, msg.Payload)
	case TopicTokenTransaction:
		return h.handleTokens(ctx, msg.Payload)
	case TopicRitualCompleted:
		return h.handleRitual(ctx, msg.Payload)
	default:
		return fmt.Errorf("no intake route for topic %q", msg.Topic)
	}
}

func (h *IntakeHandler) fanOut(ctx context.Context, guildID string, fn func(eventID string)) error {
	ids, err := h.resolver.ActiveEventIDs(ctx, guildID)
	if err != nil {
		return fmt.Errorf("resolve active events for guild %s: %w", guildID, err)
	}
	for _, id := range ids {
		fn(id)
	}
	return nil
}

func (h *IntakeHandler) handleMessage(ctx context.Context, payload json.RawMessage) error {
	var ev events.MessagePosted
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode message posted: %w", err)
	}
	ts := orNow(ev.PostedAt)
	return h.fanOut(ctx, ev.GuildID, func(eventID string) {
		h.tracker.OnMessage(ctx, ev.GuildID, eventID, ev.UserID, ev.ChannelID, ts)
	})
}

func (h *IntakeHandler) handleVoice(ctx context.Context, payload json.RawMessage) error {
	var ev events.VoicePresence
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode voice presence: %w", err)
	}
	ts := orNow(ev.ObservedAt)
	return h.fanOut(ctx, ev.GuildID, func(eventID string) {
		h.tracker.OnVoicePresence(ctx, ev.GuildID, eventID, ev.UserID, ev.DurationSeconds, ts)
	})
}

func (h *IntakeHandler) handleWager(ctx context.Context, payload json.RawMessage) error {
	var ev events.WagerSettled
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode wager settled: %w", err)
	}
	ts := orNow(ev.SettledAt)
	return h.fanOut(ctx, ev.GuildID, func(eventID string) {
		h.tracker.OnWagerResult(ctx, ev.GuildID, eventID, ev.UserID, ev.WagerAmount, ev.NetResult, ts)
	})
}

func (h *IntakeHandler) handleTokens(ctx context.Context, payload json.RawMessage) error {
	var ev events.TokenTransaction
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode token transaction: %w", err)
	}
	ts := orNow(ev.OccurredAt)
	return h.fanOut(ctx, ev.GuildID, func(eventID string) {
		h.tracker.OnTokenTransaction(ctx, ev.GuildID, eventID, ev.UserID, ev.Amount, ev.Direction, ts)
	})
}

func (h *IntakeHandler) handleRitual(ctx context.Context, payload json.RawMessage) error {
	var ev events.RitualCompleted
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode ritual completed: %w", err)
	}
	ts := orNow(ev.CompletedAt)
	return h.fanOut(ctx, ev.GuildID, func(eventID string) {
		h.tracker.OnRitualCompleted(ctx, ev.GuildID, eventID, ev.UserID, ts)
	})
}

func orNow(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now()
	}
	return ts
}
