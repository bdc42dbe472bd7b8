package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DollDevil/IBV3/internal/auth"
	"github.com/DollDevil/IBV3/internal/domain"
)

func readClaims() *auth.Claims {
	return &auth.Claims{
		Subject: "tester",
		GuildID: "guild-1",
		Scopes: map[string]struct{}{
			auth.ScopeEventsRead: {},
		},
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func writeClaims() *auth.Claims {
	c := readClaims()
	c.Scopes[auth.ScopeEventsWrite] = struct{}{}
	return c
}

func TestCreateEventSuccess(t *testing.T) {
	repo := &mockRepo{}
	handler := NewHandler(domain.NewService(repo))

	body := `{"name":"Winter Siege","event_type":"holiday_week","start_at":"2026-12-20T00:00:00Z","end_at":"2026-12-27T00:00:00Z","user_count":500}`
	req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(body))
	req = req.WithContext(auth.WithClaims(req.Context(), writeClaims()))

	rr := httptest.NewRecorder()
	handler.events(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp CreateEventResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Event.EventID == "" {
		t.Fatal("expected generated event id")
	}
	if resp.Event.GuildID != "guild-1" {
		t.Fatalf("expected guild from claims, got %s", resp.Event.GuildID)
	}
	if resp.Pool.HPMax != 1_750_000 {
		t.Fatalf("expected pool sized for 500 users, got %d", resp.Pool.HPMax)
	}
	if resp.Pool.HPCurrent != resp.Pool.HPMax {
		t.Fatal("expected a full pool on creation")
	}
	if repo.created == nil {
		t.Fatal("expected repository create call")
	}
}

func TestCreateEventRejectsInvalidSchedule(t *testing.T) {
	handler := NewHandler(domain.NewService(&mockRepo{}))

	body := `{"name":"Backwards","event_type":"season_era","start_at":"2026-12-27T00:00:00Z","end_at":"2026-12-20T00:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(body))
	req = req.WithContext(auth.WithClaims(req.Context(), writeClaims()))

	rr := httptest.NewRecorder()
	handler.events(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestCreateEventRequiresWriteScope(t *testing.T) {
	handler := NewHandler(domain.NewService(&mockRepo{}))

	req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(`{}`))
	req = req.WithContext(auth.WithClaims(req.Context(), readClaims()))

	rr := httptest.NewRecorder()
	handler.events(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestPoolStatusReportsPercent(t *testing.T) {
	repo := &mockRepo{
		pool: &domain.PoolState{
			GuildID:    "guild-1",
			EventID:    "event-1",
			HPCurrent:  875_000,
			HPMax:      3_500_000,
			LastBucket: 40,
			Phase:      domain.PhaseActive,
			LastTickAt: time.Date(2026, time.August, 30, 12, 0, 0, 0, time.UTC),
		},
	}
	handler := NewHandler(domain.NewService(repo))

	req := httptest.NewRequest(http.MethodGet, "/v1/events/event-1/pool", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), readClaims()))

	rr := httptest.NewRecorder()
	handler.eventSubresource(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var view PoolView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if view.Percent != 25 {
		t.Fatalf("expected 25 percent got %f", view.Percent)
	}
	if view.LastTickAt == nil {
		t.Fatal("expected last tick timestamp")
	}
}

func TestPoolStatusUnknownEvent(t *testing.T) {
	handler := NewHandler(domain.NewService(&mockRepo{}))

	req := httptest.NewRequest(http.MethodGet, "/v1/events/ghost/pool", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), readClaims()))

	rr := httptest.NewRecorder()
	handler.eventSubresource(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestLeaderboardRanksEntries(t *testing.T) {
	repo := &mockRepo{
		leaderboard: []domain.LeaderboardEntry{
			{UserID: "user-a", Damage: 900.5, Devotion: 8, TokensSpent: 120},
			{UserID: "user-b", Damage: 455.2, Devotion: 8, TokensSpent: 50},
		},
	}
	handler := NewHandler(domain.NewService(repo))

	req := httptest.NewRequest(http.MethodGet, "/v1/events/event-1/leaderboard?limit=2", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), readClaims()))

	rr := httptest.NewRecorder()
	handler.eventSubresource(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}

	var resp LeaderboardResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("expected 2 entries got %d", len(resp.Items))
	}
	if resp.Items[0].Rank != 1 || resp.Items[0].UserID != "user-a" {
		t.Fatalf("unexpected top entry %+v", resp.Items[0])
	}
	if resp.Items[1].Rank != 2 {
		t.Fatalf("unexpected second rank %d", resp.Items[1].Rank)
	}
}

func TestListTicksRejectsBadCursor(t *testing.T) {
	handler := NewHandler(domain.NewService(&mockRepo{}))

	req := httptest.NewRequest(http.MethodGet, "/v1/events/event-1/ticks?cursor=%25not-base64", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), readClaims()))

	rr := httptest.NewRecorder()
	handler.eventSubresource(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestEndEvent(t *testing.T) {
	repo := &mockRepo{
		event: &domain.Event{
			GuildID: "guild-1",
			EventID: "event-1",
			Name:    "Winter Siege",
			Active:  true,
		},
	}
	handler := NewHandler(domain.NewService(repo))

	req := httptest.NewRequest(http.MethodPost, "/v1/events/event-1/end", nil)
	req = req.WithContext(auth.WithClaims(req.Context(), writeClaims()))

	rr := httptest.NewRecorder()
	handler.eventSubresource(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	if !repo.ended {
		t.Fatal("expected end call to reach the repository")
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	handler := NewHandler(domain.NewService(&mockRepo{}))

	req := httptest.NewRequest(http.MethodGet, "/v1/events/event-1/pool", nil)
	rr := httptest.NewRecorder()
	handler.eventSubresource(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}

type mockRepo struct {
	event       *domain.Event
	pool        *domain.PoolState
	leaderboard []domain.LeaderboardEntry
	ticks       []domain.TickRecord

	created *domain.Event
	ended   bool
}

func (m *mockRepo) CreateEvent(ctx context.Context, event domain.Event, pool domain.PoolState) error {
	m.created = &event
	return nil
}

func (m *mockRepo) GetEvent(ctx context.Context, guildID, eventID string) (*domain.Event, error) {
	if m.event != nil && m.event.EventID == eventID {
		return m.event, nil
	}
	return nil, nil
}

func (m *mockRepo) ActiveEvents(ctx context.Context, guildID string) ([]domain.Event, error) {
	if m.event != nil && m.event.Active {
		return []domain.Event{*m.event}, nil
	}
	return nil, nil
}

func (m *mockRepo) EndEvent(ctx context.Context, guildID, eventID string, at time.Time) error {
	m.ended = true
	return nil
}

func (m *mockRepo) PoolStatus(ctx context.Context, guildID, eventID string) (*domain.PoolState, error) {
	if m.pool != nil && m.pool.EventID == eventID {
		return m.pool, nil
	}
	return nil, nil
}

func (m *mockRepo) Leaderboard(ctx context.Context, guildID, eventID string, metric domain.LeaderboardMetric, limit int) ([]domain.LeaderboardEntry, error) {
	if limit > len(m.leaderboard) {
		limit = len(m.leaderboard)
	}
	return m.leaderboard[:limit], nil
}

func (m *mockRepo) ListTicks(ctx context.Context, guildID, eventID string, cursor *domain.Cursor, limit int) ([]domain.TickRecord, *domain.Cursor, error) {
	return m.ticks, nil, nil
}
