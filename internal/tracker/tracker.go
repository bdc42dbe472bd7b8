// Package tracker accumulates raw activity signals into in-memory per-user
// daily counters. It applies the message cooldown and the voice decay rules
// before anything reaches durable storage.
package tracker

import (
	"context"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/DollDevil/IBV3/internal/domain"
)

const shardCount = 32

// EventResolver reports which events are currently active for a guild.
// Implementations are expected to cache; intake calls this on every signal.
type EventResolver interface {
	ActiveEventIDs(ctx context.Context, guildID string) ([]string, error)
}

// Options tunes intake behaviour.
type Options struct {
	MessageCooldown time.Duration
	VoiceDecayAfter time.Duration
	SpamChannelID   string
	Location        *time.Location
	Logger          *log.Logger
}

// Tracker is the in-memory aggregation layer. Counters for different users
// live in different shards and mutate independently; mutations of the same
// key serialize on the shard mutex.
type Tracker struct {
	resolver EventResolver
	opts     Options
	logger   *log.Logger
	shards   [shardCount]shard
}

type shard struct {
	mu       sync.Mutex
	counters map[domain.CounterKey]*liveCounter
	states   map[stateKey]*userState
	ledger   []domain.TokenLedgerEntry
	warnings []DecayWarning
}

type stateKey struct {
	guildID string
	eventID string
	userID  string
}

type liveCounter struct {
	messages            int
	voiceSeconds        int
	decayedVoiceSeconds int
	wager               int64
	net                 int64
	tokensSpent         int64
	tokensEarned        int64
	ritualDone          bool
	firstActivityAt     time.Time
	lastUpdateAt        time.Time
}

type userState struct {
	lastCountedMsgAt   time.Time
	lastVoiceRefreshAt time.Time
	decayWarnedDay     string
	dirty              bool
}

// DecayWarning is a queued one-time notification that a user's voice
// contribution entered the reduced state.
type DecayWarning struct {
	GuildID string
	EventID string
	UserID  string
	At      time.Time
}

// New constructs a Tracker.
func New(resolver EventResolver, opts Options) *Tracker {
	if opts.MessageCooldown <= 0 {
		opts.MessageCooldown = 5 * time.Second
	}
	if opts.VoiceDecayAfter <= 0 {
		opts.VoiceDecayAfter = time.Hour
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[tracker] ", log.LstdFlags)
	}

	t := &Tracker{resolver: resolver, opts: opts, logger: logger}
	for i := range t.shards {
		t.shards[i].counters = make(map[domain.CounterKey]*liveCounter)
		t.shards[i].states = make(map[stateKey]*userState)
	}
	return t
}

// Record routes one validated signal into the counter for the day derived
// from ts. Message quantities are implicitly 1; voice quantity is seconds.
// Only the net kind may carry a negative quantity.
func (t *Tracker) Record(ctx context.Context, guildID, eventID, userID string, kind domain.SignalKind, quantity int64, channelID string, ts time.Time) error {
	if !domain.ValidKind(kind) {
		recordRejected("invalid_kind")
		return fmt.Errorf("%w: %q", domain.ErrInvalidKind, kind)
	}
	if quantity < 0 && kind != domain.KindNet {
		recordRejected("negative_quantity")
		return fmt.Errorf("%w: negative quantity for %q", domain.ErrInvalidKind, kind)
	}
	if err := t.checkActive(ctx, guildID, eventID); err != nil {
		return err
	}

	counted := true
	switch kind {
	case domain.KindMessage:
		counted = t.recordMessage(guildID, eventID, userID, channelID, ts)
	case domain.KindVoice:
		counted = t.recordVoice(guildID, eventID, userID, int(quantity), ts)
	case domain.KindWager:
		t.mutate(guildID, eventID, userID, ts, func(c *liveCounter) { c.wager += quantity })
	case domain.KindNet:
		t.mutate(guildID, eventID, userID, ts, func(c *liveCounter) { c.net += quantity })
	case domain.KindTokenSpent:
		t.recordTokens(guildID, eventID, userID, quantity, -quantity, "spent", ts)
	case domain.KindTokenEarned:
		t.recordTokens(guildID, eventID, userID, quantity, quantity, "earned", ts)
	case domain.KindRitual:
		t.mutate(guildID, eventID, userID, ts, func(c *liveCounter) { c.ritualDone = true })
	}
	// Suppressed messages and empty voice chunks refresh clocks at most;
	// the accepted counter tracks signals that actually counted.
	if counted {
		recordAccepted(string(kind))
	}
	return nil
}

// OnMessage applies the excluded-channel filter, refreshes the voice decay
// clock, and counts the message if the cooldown window has elapsed.
func (t *Tracker) OnMessage(ctx context.Context, guildID, eventID, userID, channelID string, ts time.Time) {
	t.drop(t.Record(ctx, guildID, eventID, userID, domain.KindMessage, 1, channelID, ts))
}

// OnVoicePresence credits a chunk of voice presence, classifying it as
// full-weight or decayed from the user's refresh clock.
func (t *Tracker) OnVoicePresence(ctx context.Context, guildID, eventID, userID string, durationSeconds int, ts time.Time) {
	t.drop(t.Record(ctx, guildID, eventID, userID, domain.KindVoice, int64(durationSeconds), "", ts))
}

// OnWagerResult records a settled wager and its net outcome.
func (t *Tracker) OnWagerResult(ctx context.Context, guildID, eventID, userID string, wagerAmount, netResult int64, ts time.Time) {
	t.drop(t.Record(ctx, guildID, eventID, userID, domain.KindWager, wagerAmount, "", ts))
	t.drop(t.Record(ctx, guildID, eventID, userID, domain.KindNet, netResult, "", ts))
}

// OnTokenTransaction records event-token movement. Earned tokens feed the
// audit ledger only.
func (t *Tracker) OnTokenTransaction(ctx context.Context, guildID, eventID, userID string, amount int64, direction string, ts time.Time) {
	kind := domain.KindTokenSpent
	if direction == "earned" {
		kind = domain.KindTokenEarned
	}
	t.drop(t.Record(ctx, guildID, eventID, userID, kind, amount, "", ts))
}

// OnRitualCompleted marks today's ritual as done.
func (t *Tracker) OnRitualCompleted(ctx context.Context, guildID, eventID, userID string, ts time.Time) {
	t.drop(t.Record(ctx, guildID, eventID, userID, domain.KindRitual, 1, "", ts))
}

// drop logs and swallows intake errors; rejected input never propagates
// back to the event source.
func (t *Tracker) drop(err error) {
	if err == nil {
		return
	}
	t.logger.Printf("signal dropped: %v", err)
}

func (t *Tracker) checkActive(ctx context.Context, guildID, eventID string) error {
	ids, err := t.resolver.ActiveEventIDs(ctx, guildID)
	if err != nil {
		recordRejected("resolver_error")
		return fmt.Errorf("resolve active events: %w", err)
	}
	for _, id := range ids {
		if id == eventID {
			return nil
		}
	}
	recordRejected("event_not_active")
	return fmt.Errorf("%w: %s/%s", domain.ErrEventNotActive, guildID, eventID)
}

func (t *Tracker) shardFor(guildID, userID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(guildID))
	h.Write([]byte{0})
	h.Write([]byte(userID))
	return &t.shards[h.Sum32()%shardCount]
}

func (t *Tracker) keyFor(guildID, eventID, userID string, ts time.Time) domain.CounterKey {
	return domain.CounterKey{
		GuildID: guildID,
		EventID: eventID,
		UserID:  userID,
		Day:     domain.Day(ts, t.opts.Location),
	}
}

// counter returns the live counter for key, creating it on first touch.
// Caller holds the shard lock.
func (sh *shard) counter(key domain.CounterKey, ts time.Time) *liveCounter {
	c, ok := sh.counters[key]
	if !ok {
		c = &liveCounter{firstActivityAt: ts}
		sh.counters[key] = c
	}
	c.lastUpdateAt = ts
	return c
}

func (sh *shard) state(key stateKey) *userState {
	s, ok := sh.states[key]
	if !ok {
		s = &userState{}
		sh.states[key] = s
	}
	return s
}

func (t *Tracker) mutate(guildID, eventID, userID string, ts time.Time, fn func(*liveCounter)) {
	sh := t.shardFor(guildID, userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	fn(sh.counter(t.keyFor(guildID, eventID, userID, ts), ts))
}

func (t *Tracker) recordMessage(guildID, eventID, userID, channelID string, ts time.Time) bool {
	if t.opts.SpamChannelID != "" && channelID == t.opts.SpamChannelID {
		// Excluded channel: no count, no decay refresh.
		recordRejected("excluded_channel")
		return false
	}

	sh := t.shardFor(guildID, userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st := sh.state(stateKey{guildID, eventID, userID})
	st.lastVoiceRefreshAt = ts
	st.dirty = true

	if !st.lastCountedMsgAt.IsZero() && ts.Sub(st.lastCountedMsgAt) < t.opts.MessageCooldown {
		// Within cooldown: the decay clock refreshed, the message does not
		// count and the warned flag stays set.
		recordRejected("message_cooldown")
		return false
	}

	st.lastCountedMsgAt = ts
	st.decayWarnedDay = ""
	sh.counter(t.keyFor(guildID, eventID, userID, ts), ts).messages++
	return true
}

func (t *Tracker) recordVoice(guildID, eventID, userID string, seconds int, ts time.Time) bool {
	if seconds <= 0 {
		return false
	}

	sh := t.shardFor(guildID, userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	st := sh.state(stateKey{guildID, eventID, userID})
	if st.lastVoiceRefreshAt.IsZero() {
		// First presence chunk doubles as the voice join.
		st.lastVoiceRefreshAt = ts
		st.dirty = true
	}

	c := sh.counter(t.keyFor(guildID, eventID, userID, ts), ts)
	if ts.Sub(st.lastVoiceRefreshAt) < t.opts.VoiceDecayAfter {
		c.voiceSeconds += seconds
		return true
	}

	c.decayedVoiceSeconds += seconds
	day := domain.Day(ts, t.opts.Location)
	if st.decayWarnedDay != day {
		st.decayWarnedDay = day
		st.dirty = true
		sh.warnings = append(sh.warnings, DecayWarning{GuildID: guildID, EventID: eventID, UserID: userID, At: ts})
	}
	return true
}

func (t *Tracker) recordTokens(guildID, eventID, userID string, amount, delta int64, reason string, ts time.Time) {
	sh := t.shardFor(guildID, userID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	c := sh.counter(t.keyFor(guildID, eventID, userID, ts), ts)
	if delta < 0 {
		c.tokensSpent += amount
	} else {
		c.tokensEarned += amount
	}
	sh.ledger = append(sh.ledger, domain.TokenLedgerEntry{
		GuildID:    guildID,
		EventID:    eventID,
		UserID:     userID,
		Delta:      delta,
		Reason:     reason,
		OccurredAt: ts,
	})
}

// Seed loads persisted runtime checkpoints after a restart. Clocks absent
// from the checkpoint set start as "not yet refreshed".
func (t *Tracker) Seed(checkpoints []domain.RuntimeCheckpoint) {
	for _, cp := range checkpoints {
		sh := t.shardFor(cp.GuildID, cp.UserID)
		sh.mu.Lock()
		sh.states[stateKey{cp.GuildID, cp.EventID, cp.UserID}] = &userState{
			lastCountedMsgAt:   cp.LastCountedMsgAt,
			lastVoiceRefreshAt: cp.LastVoiceRefreshAt,
			decayWarnedDay:     cp.DecayWarnedDay,
		}
		sh.mu.Unlock()
	}
}
