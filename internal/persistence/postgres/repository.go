package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DollDevil/IBV3/internal/domain"
	"github.com/DollDevil/IBV3/internal/pool"
	"github.com/DollDevil/IBV3/internal/tracker"
	"github.com/DollDevil/IBV3/pkg/events"
)

// Repository provides Postgres-backed persistence for events, counters,
// pools and the outbox.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const uniqueViolation = "23505"

func setGuild(ctx context.Context, tx pgx.Tx, guildID string) error {
	_, err := tx.Exec(ctx, "SELECT set_config('app.guild_id', $1, true)", guildID)
	return err
}

// CreateEvent persists the event and its pool inside a single transaction.
func (r *Repository) CreateEvent(ctx context.Context, event domain.Event, state domain.PoolState) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if err = setGuild(ctx, tx, event.GuildID); err != nil {
		return err
	}

	const insertEvent = `INSERT INTO events (guild_id, event_id, name, event_type, start_at, end_at, active, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err = tx.Exec(ctx, insertEvent,
		event.GuildID, event.EventID, event.Name, event.EventType,
		event.StartAt, event.EndAt, event.Active, event.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			err = domain.ErrEventExists
		}
		return err
	}

	const insertPool = `INSERT INTO event_pool (guild_id, event_id, hp_current, hp_max, last_bucket, phase)
        VALUES ($1,$2,$3,$4,$5,$6)`
	_, err = tx.Exec(ctx, insertPool,
		state.GuildID, state.EventID, state.HPCurrent, state.HPMax, state.LastBucket, state.Phase,
	)
	if err != nil {
		return err
	}

	err = tx.Commit(ctx)
	return err
}

const eventColumns = `guild_id, event_id, name, event_type, start_at, end_at, active, created_at`

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var ev domain.Event
	err := row.Scan(&ev.GuildID, &ev.EventID, &ev.Name, &ev.EventType, &ev.StartAt, &ev.EndAt, &ev.Active, &ev.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// GetEvent retrieves an event by ID. A missing event returns (nil, nil).
func (r *Repository) GetEvent(ctx context.Context, guildID, eventID string) (*domain.Event, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := setGuild(ctx, tx, guildID); err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE guild_id=$1 AND event_id=$2`, guildID, eventID)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tx.Commit(ctx)
		}
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ev, nil
}

// ActiveEvents lists the active events for one guild.
func (r *Repository) ActiveEvents(ctx context.Context, guildID string) ([]domain.Event, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := setGuild(ctx, tx, guildID); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `SELECT `+eventColumns+` FROM events WHERE guild_id=$1 AND active ORDER BY created_at`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

// TickableEvents lists active events across all guilds for the pool ticker.
// This is a maintenance query and runs unscoped.
func (r *Repository) TickableEvents(ctx context.Context) ([]domain.Event, error) {
	rows, err := r.db.Query(ctx, `SELECT `+eventColumns+` FROM events WHERE active ORDER BY guild_id, created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ev)
	}
	return result, rows.Err()
}

// EndEvent deactivates an event. Counters and audit rows stay archived.
func (r *Repository) EndEvent(ctx context.Context, guildID, eventID string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if err = setGuild(ctx, tx, guildID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `UPDATE events SET active=false, ended_at=$3 WHERE guild_id=$1 AND event_id=$2`, guildID, eventID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		err = domain.ErrEventNotFound
		return err
	}

	err = tx.Commit(ctx)
	return err
}

// PoolStatus reads the pool row for an event. Missing pools return (nil, nil).
func (r *Repository) PoolStatus(ctx context.Context, guildID, eventID string) (*domain.PoolState, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := setGuild(ctx, tx, guildID); err != nil {
		return nil, err
	}

	const query = `SELECT guild_id, event_id, hp_current, hp_max, last_tick_at, last_bucket, phase
        FROM event_pool WHERE guild_id=$1 AND event_id=$2`

	var (
		ps     domain.PoolState
		tickAt *time.Time
	)
	err = tx.QueryRow(ctx, query, guildID, eventID).Scan(
		&ps.GuildID, &ps.EventID, &ps.HPCurrent, &ps.HPMax, &tickAt, &ps.LastBucket, &ps.Phase,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tx.Commit(ctx)
		}
		return nil, err
	}
	if tickAt != nil {
		ps.LastTickAt = *tickAt
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &ps, nil
}

// Leaderboard aggregates per-user totals for one event. Ties break by
// devotion, then tokens spent, then earliest first activity.
func (r *Repository) Leaderboard(ctx context.Context, guildID, eventID string, metric domain.LeaderboardMetric, limit int) ([]domain.LeaderboardEntry, error) {
	order := `damage DESC, devotion DESC, tokens_spent DESC, first_activity_at ASC`
	if metric == domain.MetricDevotion {
		order = `devotion DESC, damage DESC, tokens_spent DESC, first_activity_at ASC`
	}

	query := `SELECT user_id,
            COALESCE(SUM(dp_cached),0) AS damage,
            COALESCE(SUM(devotion_cached),0) AS devotion,
            COALESCE(SUM(tokens_spent),0) AS tokens_spent,
            MIN(first_activity_at) AS first_activity_at
        FROM event_user_day
        WHERE guild_id=$1 AND event_id=$2
        GROUP BY user_id
        ORDER BY ` + order + `
        LIMIT $3`

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := setGuild(ctx, tx, guildID); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, query, guildID, eventID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.LeaderboardEntry, 0, limit)
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.Damage, &e.Devotion, &e.TokensSpent, &e.FirstActivityAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return entries, nil
}

// ListTicks pages through the reconciliation audit log, newest first.
func (r *Repository) ListTicks(ctx context.Context, guildID, eventID string, cursor *domain.Cursor, limit int) ([]domain.TickRecord, *domain.Cursor, error) {
	args := []interface{}{guildID, eventID, limit}
	query := `SELECT id, guild_id, event_id, tick_at, damage, hp_after
        FROM event_ticks WHERE guild_id=$1 AND event_id=$2`
	if cursor != nil {
		query += ` AND (tick_at, id) < ($4, $5)`
		args = append(args, cursor.At, cursor.ID)
	}
	query += ` ORDER BY tick_at DESC, id DESC LIMIT $3`

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	if err := setGuild(ctx, tx, guildID); err != nil {
		return nil, nil, err
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	records := make([]domain.TickRecord, 0, limit)
	for rows.Next() {
		var rec domain.TickRecord
		if err := rows.Scan(&rec.ID, &rec.GuildID, &rec.EventID, &rec.At, &rec.Damage, &rec.HPAfter); err != nil {
			return nil, nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if len(records) == limit {
		last := records[len(records)-1]
		next = &domain.Cursor{At: last.At, ID: last.ID}
	}
	return records, next, nil
}

// Flush applies one drained snapshot in a single transaction. Counter
// deltas add onto existing rows, ledger entries append, and checkpoints
// upsert. All-or-nothing: a failed flush leaves the database untouched so
// the snapshot can merge back without double-counting.
func (r *Repository) Flush(ctx context.Context, snap tracker.Snapshot) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	// The guild config is transaction-scoped but can be rewritten between
	// statements, so a multi-guild snapshot still fits in one transaction.
	currentGuild := ""
	ensureGuild := func(guildID string) error {
		if guildID == currentGuild {
			return nil
		}
		if err := setGuild(ctx, tx, guildID); err != nil {
			return err
		}
		currentGuild = guildID
		return nil
	}

	const upsertCounter = `INSERT INTO event_user_day
            (guild_id, event_id, user_id, day, messages, voice_minutes, decayed_voice_minutes,
             wager, net, tokens_spent, tokens_earned, ritual_done, first_activity_at, last_update_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
        ON CONFLICT (guild_id, event_id, user_id, day) DO UPDATE SET
            messages = event_user_day.messages + EXCLUDED.messages,
            voice_minutes = event_user_day.voice_minutes + EXCLUDED.voice_minutes,
            decayed_voice_minutes = event_user_day.decayed_voice_minutes + EXCLUDED.decayed_voice_minutes,
            wager = event_user_day.wager + EXCLUDED.wager,
            net = event_user_day.net + EXCLUDED.net,
            tokens_spent = event_user_day.tokens_spent + EXCLUDED.tokens_spent,
            tokens_earned = event_user_day.tokens_earned + EXCLUDED.tokens_earned,
            ritual_done = event_user_day.ritual_done OR EXCLUDED.ritual_done,
            first_activity_at = LEAST(event_user_day.first_activity_at, EXCLUDED.first_activity_at),
            last_update_at = GREATEST(event_user_day.last_update_at, EXCLUDED.last_update_at)`

	for _, d := range snap.Counters {
		if err = ensureGuild(d.Key.GuildID); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, upsertCounter,
			d.Key.GuildID, d.Key.EventID, d.Key.UserID, d.Key.Day,
			d.Messages, d.VoiceMinutes, d.DecayedVoiceMinutes,
			d.Wager, d.Net, d.TokensSpent, d.TokensEarned, d.RitualDone,
			d.FirstActivityAt, d.LastUpdateAt,
		)
		if err != nil {
			return err
		}
	}

	const insertLedger = `INSERT INTO event_token_ledger (guild_id, event_id, user_id, delta, reason, occurred_at)
        VALUES ($1,$2,$3,$4,$5,$6)`
	for _, entry := range snap.Ledger {
		if err = ensureGuild(entry.GuildID); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, insertLedger,
			entry.GuildID, entry.EventID, entry.UserID, entry.Delta, entry.Reason, entry.OccurredAt,
		)
		if err != nil {
			return err
		}
	}

	const upsertState = `INSERT INTO event_user_state
            (guild_id, event_id, user_id, last_counted_msg_at, last_voice_refresh_at, decay_warned_day)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (guild_id, event_id, user_id) DO UPDATE SET
            last_counted_msg_at = EXCLUDED.last_counted_msg_at,
            last_voice_refresh_at = EXCLUDED.last_voice_refresh_at,
            decay_warned_day = EXCLUDED.decay_warned_day,
            updated_at = now()`

	for _, cp := range snap.Checkpoints {
		if err = ensureGuild(cp.GuildID); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, upsertState,
			cp.GuildID, cp.EventID, cp.UserID,
			nullIfZeroTime(cp.LastCountedMsgAt), nullIfZeroTime(cp.LastVoiceRefreshAt),
			nullIfEmpty(cp.DecayWarnedDay),
		)
		if err != nil {
			return err
		}
	}

	err = tx.Commit(ctx)
	return err
}

// LoadCheckpoints reads every persisted runtime checkpoint. Runs unscoped
// at startup before any consumer traffic.
func (r *Repository) LoadCheckpoints(ctx context.Context) ([]domain.RuntimeCheckpoint, error) {
	const query = `SELECT s.guild_id, s.event_id, s.user_id, s.last_counted_msg_at, s.last_voice_refresh_at, s.decay_warned_day
        FROM event_user_state s
        JOIN events e ON e.guild_id = s.guild_id AND e.event_id = s.event_id
        WHERE e.active`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.RuntimeCheckpoint
	for rows.Next() {
		var (
			cp        domain.RuntimeCheckpoint
			countedAt *time.Time
			refreshAt *time.Time
			warnedDay *string
		)
		if err := rows.Scan(&cp.GuildID, &cp.EventID, &cp.UserID, &countedAt, &refreshAt, &warnedDay); err != nil {
			return nil, err
		}
		if countedAt != nil {
			cp.LastCountedMsgAt = *countedAt
		}
		if refreshAt != nil {
			cp.LastVoiceRefreshAt = *refreshAt
		}
		if warnedDay != nil {
			cp.DecayWarnedDay = *warnedDay
		}
		result = append(result, cp)
	}
	return result, rows.Err()
}

const counterColumns = `guild_id, event_id, user_id, day, messages, voice_minutes, decayed_voice_minutes,
            wager, net, tokens_spent, tokens_earned, ritual_done, dp_cached, devotion_cached,
            first_activity_at, last_update_at`

func (r *Repository) queryCounters(ctx context.Context, guildID, query string, args ...interface{}) ([]domain.ActivityCounter, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if err := setGuild(ctx, tx, guildID); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ActivityCounter
	for rows.Next() {
		var c domain.ActivityCounter
		if err := rows.Scan(
			&c.Key.GuildID, &c.Key.EventID, &c.Key.UserID, &c.Key.Day,
			&c.Messages, &c.VoiceMinutes, &c.DecayedVoiceMinutes,
			&c.Wager, &c.Net, &c.TokensSpent, &c.TokensEarned, &c.RitualDone,
			&c.CachedDamage, &c.CachedDevotion,
			&c.FirstActivityAt, &c.LastUpdateAt,
		); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

// CountersForDay reads every counter row for one event day.
func (r *Repository) CountersForDay(ctx context.Context, guildID, eventID, day string) ([]domain.ActivityCounter, error) {
	const query = `SELECT ` + counterColumns + `
        FROM event_user_day WHERE guild_id=$1 AND event_id=$2 AND day=$3`
	return r.queryCounters(ctx, guildID, query, guildID, eventID, day)
}

// CountersChangedSince reads every counter row touched after the given
// instant, regardless of day. The pool ticker reconciles from here so that
// activity flushed after a day's final tick still lands in the pool.
func (r *Repository) CountersChangedSince(ctx context.Context, guildID, eventID string, since time.Time) ([]domain.ActivityCounter, error) {
	const query = `SELECT ` + counterColumns + `
        FROM event_user_day WHERE guild_id=$1 AND event_id=$2 AND last_update_at > $3
        ORDER BY day, user_id`
	return r.queryCounters(ctx, guildID, query, guildID, eventID, since)
}

// ApplyTick lands one reconciliation result atomically: refreshed cached
// values, the pool decrement, the audit record and one outbox row per
// crossed milestone. The outbox dedupe key makes each milestone insert
// idempotent, which is what pins the exactly-once delivery guarantee.
func (r *Repository) ApplyTick(ctx context.Context, app pool.TickApplication) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if err = setGuild(ctx, tx, app.GuildID); err != nil {
		return err
	}

	const updateCounter = `UPDATE event_user_day
        SET dp_cached=$5, devotion_cached=$6
        WHERE guild_id=$1 AND event_id=$2 AND user_id=$3 AND day=$4`
	for _, u := range app.Counters {
		_, err = tx.Exec(ctx, updateCounter,
			u.Key.GuildID, u.Key.EventID, u.Key.UserID, u.Key.Day,
			u.Damage, u.Devotion,
		)
		if err != nil {
			return err
		}
	}

	const updatePool = `UPDATE event_pool
        SET hp_current=$3, last_tick_at=$4, last_bucket=$5, phase=$6
        WHERE guild_id=$1 AND event_id=$2 AND hp_current >= $3`
	tag, err := tx.Exec(ctx, updatePool,
		app.GuildID, app.EventID, app.HPAfter, app.At, app.NewBucket, app.Phase,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// A concurrent tick already moved the pool below our target.
		err = fmt.Errorf("pool moved concurrently (guild=%s event=%s)", app.GuildID, app.EventID)
		return err
	}

	const insertTick = `INSERT INTO event_ticks (guild_id, event_id, tick_at, damage, hp_after)
        VALUES ($1,$2,$3,$4,$5)`
	_, err = tx.Exec(ctx, insertTick, app.GuildID, app.EventID, app.At, app.Damage, app.HPAfter)
	if err != nil {
		return err
	}

	for _, bucket := range app.Milestones {
		payload := events.MilestoneCrossed{
			GuildID:       app.GuildID,
			EventID:       app.EventID,
			BucketPercent: bucket,
			HPRemaining:   app.HPAfter,
			HPMax:         app.HPMax,
			CrossedAt:     app.At,
		}
		dedupeKey := fmt.Sprintf("%s:%s:milestone:%d", app.GuildID, app.EventID, bucket)
		if err = insertOutbox(ctx, tx, outboxRow{
			GuildID:      app.GuildID,
			AggregateID:  app.EventID,
			EventType:    "event.milestone_crossed",
			PartitionKey: fmt.Sprintf("%s:%s", app.GuildID, app.EventID),
			DedupeKey:    dedupeKey,
		}, payload); err != nil {
			return err
		}
	}

	err = tx.Commit(ctx)
	return err
}

// TouchPoolTick stamps the last tick time without changing hit points.
func (r *Repository) TouchPoolTick(ctx context.Context, guildID, eventID string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if err = setGuild(ctx, tx, guildID); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `UPDATE event_pool SET last_tick_at=$3 WHERE guild_id=$1 AND event_id=$2`, guildID, eventID, at)
	if err != nil {
		return err
	}
	err = tx.Commit(ctx)
	return err
}

// EnsureScalingFactor inserts the candidate multiplier and returns the
// stored row. On conflict the first writer's row wins, so every process
// agrees on one multiplier per (event, day).
func (r *Repository) EnsureScalingFactor(ctx context.Context, f domain.ScalingFactor) (domain.ScalingFactor, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.ScalingFactor{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if err = setGuild(ctx, tx, f.GuildID); err != nil {
		return domain.ScalingFactor{}, err
	}

	const insert = `INSERT INTO event_scaling (guild_id, event_id, day, expected_damage, observed_damage, multiplier)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (guild_id, event_id, day) DO NOTHING`
	_, err = tx.Exec(ctx, insert, f.GuildID, f.EventID, f.Day, f.ExpectedDamage, f.ObservedDamage, f.Multiplier)
	if err != nil {
		return domain.ScalingFactor{}, err
	}

	const read = `SELECT guild_id, event_id, day, expected_damage, observed_damage, multiplier
        FROM event_scaling WHERE guild_id=$1 AND event_id=$2 AND day=$3`
	var stored domain.ScalingFactor
	err = tx.QueryRow(ctx, read, f.GuildID, f.EventID, f.Day).Scan(
		&stored.GuildID, &stored.EventID, &stored.Day,
		&stored.ExpectedDamage, &stored.ObservedDamage, &stored.Multiplier,
	)
	if err != nil {
		return domain.ScalingFactor{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return domain.ScalingFactor{}, err
	}
	return stored, nil
}

// ObservedDailyDamage sums the unscaled cached damage produced on one day.
func (r *Repository) ObservedDailyDamage(ctx context.Context, guildID, eventID, day string) (float64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	if err := setGuild(ctx, tx, guildID); err != nil {
		return 0, err
	}

	var total float64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(dp_cached),0) FROM event_user_day WHERE guild_id=$1 AND event_id=$2 AND day=$3`,
		guildID, eventID, day,
	).Scan(&total)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return total, nil
}

// NotifyDecayStarted records a one-time voice decay warning through the
// outbox. Duplicate warnings for the same user day are dropped on the
// dedupe key.
func (r *Repository) NotifyDecayStarted(ctx context.Context, guildID, eventID, userID string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if err = setGuild(ctx, tx, guildID); err != nil {
		return err
	}

	payload := events.VoiceDecayStarted{
		GuildID:   guildID,
		EventID:   eventID,
		UserID:    userID,
		StartedAt: at,
	}
	dedupeKey := fmt.Sprintf("%s:%s:%s:decay:%s", guildID, eventID, userID, at.UTC().Format("2006-01-02"))
	if err = insertOutbox(ctx, tx, outboxRow{
		GuildID:      guildID,
		AggregateID:  eventID,
		EventType:    "voice.decay_started",
		PartitionKey: fmt.Sprintf("%s:%s", guildID, userID),
		DedupeKey:    dedupeKey,
	}, payload); err != nil {
		return err
	}

	err = tx.Commit(ctx)
	return err
}

type outboxRow struct {
	GuildID      string
	AggregateID  string
	EventType    string
	PartitionKey string
	DedupeKey    string
}

func insertOutbox(ctx context.Context, tx pgx.Tx, row outboxRow, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta := eventCatalog[row.EventType]
	if meta.Topic == "" {
		return fmt.Errorf("unknown event type: %s", row.EventType)
	}

	const stmt = `INSERT INTO outbox (guild_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt,
		row.GuildID,
		"event",
		row.AggregateID,
		row.EventType,
		meta.Topic,
		meta.SchemaSubject,
		row.PartitionKey,
		body,
		row.DedupeKey,
	)
	return err
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullIfZeroTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	"event.milestone_crossed": {
		Topic:         "event_milestones",
		SchemaSubject: "event_milestones-value",
	},
	"voice.decay_started": {
		Topic:         "voice_decay_warnings",
		SchemaSubject: "voice_decay_warnings-value",
	},
}
