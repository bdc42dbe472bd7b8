// Package domain defines the business logic for the event aggregation
// service.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrEventNotFound is returned when an event cannot be located.
	ErrEventNotFound = errors.New("event not found")
	// ErrEventNotActive indicates a signal arrived for an inactive event.
	ErrEventNotActive = errors.New("event is not active")
	// ErrInvalidKind indicates an unrecognized signal kind.
	ErrInvalidKind = errors.New("invalid signal kind")
	// ErrEventExists indicates a duplicate event creation attempt.
	ErrEventExists = errors.New("event already exists")
)

// LeaderboardMetric selects the ordering for leaderboard queries.
type LeaderboardMetric string

const (
	MetricDamage   LeaderboardMetric = "damage"
	MetricDevotion LeaderboardMetric = "devotion"
)

// LeaderboardEntry is one ranked row. Ties break by devotion, then tokens
// spent, then earliest first activity within the event.
type LeaderboardEntry struct {
	UserID          string
	Damage          float64
	Devotion        int
	TokensSpent     int64
	FirstActivityAt time.Time
}

// Cursor models the pagination token for tick-log listings.
type Cursor struct {
	At time.Time
	ID int64
}

// EventRepository captures the persistence operations the service needs.
type EventRepository interface {
	CreateEvent(ctx context.Context, event Event, pool PoolState) error
	GetEvent(ctx context.Context, guildID, eventID string) (*Event, error)
	ActiveEvents(ctx context.Context, guildID string) ([]Event, error)
	EndEvent(ctx context.Context, guildID, eventID string, at time.Time) error
	PoolStatus(ctx context.Context, guildID, eventID string) (*PoolState, error)
	Leaderboard(ctx context.Context, guildID, eventID string, metric LeaderboardMetric, limit int) ([]LeaderboardEntry, error)
	ListTicks(ctx context.Context, guildID, eventID string, cursor *Cursor, limit int) ([]TickRecord, *Cursor, error)
}

// EventCacheInvalidator drops cached active-event lookups for a guild after
// a lifecycle change.
type EventCacheInvalidator interface {
	Invalidate(guildID string)
}

// ServiceOption configures optional Service collaborators.
type ServiceOption func(*Service)

// WithEventCache registers the cache to invalidate on lifecycle changes.
func WithEventCache(cache EventCacheInvalidator) ServiceOption {
	return func(s *Service) { s.cache = cache }
}

// Service orchestrates event lifecycle and read queries.
type Service struct {
	repo  EventRepository
	cache EventCacheInvalidator
}

// NewService constructs a Service.
func NewService(repo EventRepository, opts ...ServiceOption) *Service {
	s := &Service{repo: repo}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) invalidate(guildID string) {
	if s.cache != nil {
		s.cache.Invalidate(guildID)
	}
}

// CreateEventInput captures the payload from the API layer.
type CreateEventInput struct {
	GuildID   string
	EventID   string
	Name      string
	EventType string
	StartAt   time.Time
	EndAt     time.Time
	PoolHP    int64 // 0 derives from UserCount
	UserCount int
}

// CreateEvent registers a new event with a freshly sized pool.
func (s *Service) CreateEvent(ctx context.Context, input CreateEventInput) (*Event, *PoolState, error) {
	now := time.Now().UTC()

	eventID := input.EventID
	if eventID == "" {
		eventID = uuid.NewString()
	}

	hpMax := input.PoolHP
	if hpMax <= 0 {
		hpMax = RecommendedPoolHP(input.UserCount)
	}

	event := Event{
		GuildID:   input.GuildID,
		EventID:   eventID,
		Name:      input.Name,
		EventType: input.EventType,
		StartAt:   input.StartAt.UTC(),
		EndAt:     input.EndAt.UTC(),
		Active:    true,
		CreatedAt: now,
	}
	pool := PoolState{
		GuildID:    input.GuildID,
		EventID:    eventID,
		HPCurrent:  hpMax,
		HPMax:      hpMax,
		LastBucket: 100,
		Phase:      PhaseActive,
	}

	if err := s.repo.CreateEvent(ctx, event, pool); err != nil {
		return nil, nil, err
	}
	s.invalidate(input.GuildID)
	return &event, &pool, nil
}

// GetEvent fetches an event by ID.
func (s *Service) GetEvent(ctx context.Context, guildID, eventID string) (*Event, error) {
	event, err := s.repo.GetEvent(ctx, guildID, eventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, ErrEventNotFound
	}
	return event, nil
}

// EndEvent deactivates an event; its counters stay archived under it.
func (s *Service) EndEvent(ctx context.Context, guildID, eventID string) error {
	event, err := s.GetEvent(ctx, guildID, eventID)
	if err != nil {
		return err
	}
	if !event.Active {
		return nil
	}
	if err := s.repo.EndEvent(ctx, guildID, eventID, time.Now().UTC()); err != nil {
		return err
	}
	s.invalidate(guildID)
	return nil
}

// PoolStatus reports current/maximum hit points and the last tick timestamp.
func (s *Service) PoolStatus(ctx context.Context, guildID, eventID string) (*PoolState, error) {
	pool, err := s.repo.PoolStatus(ctx, guildID, eventID)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrEventNotFound
	}
	return pool, nil
}

// Leaderboard returns the ranked contributors for an event.
func (s *Service) Leaderboard(ctx context.Context, guildID, eventID string, metric LeaderboardMetric, limit int) ([]LeaderboardEntry, error) {
	if metric != MetricDamage && metric != MetricDevotion {
		metric = MetricDamage
	}
	if limit <= 0 {
		limit = 10
	}
	return s.repo.Leaderboard(ctx, guildID, eventID, metric, limit)
}

// ListTicks pages through the reconciliation audit log.
func (s *Service) ListTicks(ctx context.Context, guildID, eventID string, cursor *Cursor, limit int) ([]TickRecord, *Cursor, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListTicks(ctx, guildID, eventID, cursor, limit)
}
