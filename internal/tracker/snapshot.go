package tracker

import (
	"time"

	"github.com/DollDevil/IBV3/internal/domain"
)

// CounterDelta is the flushable increment for one (event, user, day) key.
// Values are deltas since the previous flush, not absolute totals.
type CounterDelta struct {
	Key                 domain.CounterKey
	Messages            int
	VoiceMinutes        int
	DecayedVoiceMinutes int
	Wager               int64
	Net                 int64
	TokensSpent         int64
	TokensEarned        int64
	RitualDone          bool
	FirstActivityAt     time.Time
	LastUpdateAt        time.Time
}

// Snapshot is one consistent drain of the in-memory layer, handed to the
// flusher. If the flush fails the snapshot merges back in.
type Snapshot struct {
	Counters    []CounterDelta
	Ledger      []domain.TokenLedgerEntry
	Checkpoints []domain.RuntimeCheckpoint
	Warnings    []DecayWarning
}

// Empty reports whether there is nothing to flush.
func (s Snapshot) Empty() bool {
	return len(s.Counters) == 0 && len(s.Ledger) == 0 && len(s.Checkpoints) == 0 && len(s.Warnings) == 0
}

// Snapshot drains counters, ledger entries, dirty checkpoints, and queued
// decay warnings. Sub-minute voice remainders stay in memory for the next
// interval. Each shard is drained under its own lock; no global pause.
func (t *Tracker) Snapshot() Snapshot {
	var snap Snapshot

	for i := range t.shards {
		sh := &t.shards[i]
		sh.mu.Lock()

		for key, c := range sh.counters {
			delta := CounterDelta{
				Key:                 key,
				Messages:            c.messages,
				VoiceMinutes:        c.voiceSeconds / 60,
				DecayedVoiceMinutes: c.decayedVoiceSeconds / 60,
				Wager:               c.wager,
				Net:                 c.net,
				TokensSpent:         c.tokensSpent,
				TokensEarned:        c.tokensEarned,
				RitualDone:          c.ritualDone,
				FirstActivityAt:     c.firstActivityAt,
				LastUpdateAt:        c.lastUpdateAt,
			}

			voiceRem := c.voiceSeconds % 60
			decayedRem := c.decayedVoiceSeconds % 60
			delete(sh.counters, key)
			if voiceRem > 0 || decayedRem > 0 {
				sh.counters[key] = &liveCounter{
					voiceSeconds:        voiceRem,
					decayedVoiceSeconds: decayedRem,
					firstActivityAt:     c.firstActivityAt,
					lastUpdateAt:        c.lastUpdateAt,
				}
			}

			if deltaIsZero(delta) {
				continue
			}
			snap.Counters = append(snap.Counters, delta)
		}

		snap.Ledger = append(snap.Ledger, sh.ledger...)
		sh.ledger = nil

		snap.Warnings = append(snap.Warnings, sh.warnings...)
		sh.warnings = nil

		for key, st := range sh.states {
			if !st.dirty {
				continue
			}
			st.dirty = false
			snap.Checkpoints = append(snap.Checkpoints, domain.RuntimeCheckpoint{
				GuildID:            key.guildID,
				EventID:            key.eventID,
				UserID:             key.userID,
				LastCountedMsgAt:   st.lastCountedMsgAt,
				LastVoiceRefreshAt: st.lastVoiceRefreshAt,
				DecayWarnedDay:     st.decayWarnedDay,
			})
		}

		sh.mu.Unlock()
	}

	return snap
}

// MergeBack restores a snapshot after a failed flush so nothing is lost;
// the next interval retries the whole batch.
func (t *Tracker) MergeBack(snap Snapshot) {
	for _, d := range snap.Counters {
		sh := t.shardFor(d.Key.GuildID, d.Key.UserID)
		sh.mu.Lock()
		c := sh.counter(d.Key, d.LastUpdateAt)
		c.messages += d.Messages
		c.voiceSeconds += d.VoiceMinutes * 60
		c.decayedVoiceSeconds += d.DecayedVoiceMinutes * 60
		c.wager += d.Wager
		c.net += d.Net
		c.tokensSpent += d.TokensSpent
		c.tokensEarned += d.TokensEarned
		c.ritualDone = c.ritualDone || d.RitualDone
		if !d.FirstActivityAt.IsZero() && (c.firstActivityAt.IsZero() || d.FirstActivityAt.Before(c.firstActivityAt)) {
			c.firstActivityAt = d.FirstActivityAt
		}
		sh.mu.Unlock()
	}

	for _, entry := range snap.Ledger {
		sh := t.shardFor(entry.GuildID, entry.UserID)
		sh.mu.Lock()
		sh.ledger = append(sh.ledger, entry)
		sh.mu.Unlock()
	}

	for _, w := range snap.Warnings {
		sh := t.shardFor(w.GuildID, w.UserID)
		sh.mu.Lock()
		sh.warnings = append(sh.warnings, w)
		sh.mu.Unlock()
	}

	for _, cp := range snap.Checkpoints {
		sh := t.shardFor(cp.GuildID, cp.UserID)
		sh.mu.Lock()
		sh.state(stateKey{cp.GuildID, cp.EventID, cp.UserID}).dirty = true
		sh.mu.Unlock()
	}
}

func deltaIsZero(d CounterDelta) bool {
	return d.Messages == 0 && d.VoiceMinutes == 0 && d.DecayedVoiceMinutes == 0 &&
		d.Wager == 0 && d.Net == 0 && d.TokensSpent == 0 && d.TokensEarned == 0 && !d.RitualDone
}
