// Package api exposes HTTP handlers for the event service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/DollDevil/IBV3/internal/auth"
	"github.com/DollDevil/IBV3/internal/domain"
	"github.com/DollDevil/IBV3/internal/persistence"
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/events", h.events)
	mux.HandleFunc("/v1/events/", h.eventSubresource)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createEvent(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) eventSubresource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/events/")
	parts := strings.SplitN(rest, "/", 2)
	eventID := parts[0]
	if eventID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing event id")
		return
	}

	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		h.getEvent(w, r, eventID)
	case sub == "end" && r.Method == http.MethodPost:
		h.endEvent(w, r, eventID)
	case sub == "pool" && r.Method == http.MethodGet:
		h.poolStatus(w, r, eventID)
	case sub == "leaderboard" && r.Method == http.MethodGet:
		h.leaderboard(w, r, eventID)
	case sub == "ticks" && r.Method == http.MethodGet:
		h.listTicks(w, r, eventID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) createEvent(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeEventsWrite)
	if !ok {
		return
	}

	var req CreateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	event, pool, err := h.service.CreateEvent(r.Context(), domain.CreateEventInput{
		GuildID:   claims.GuildID,
		EventID:   req.EventID,
		Name:      req.Name,
		EventType: req.EventType,
		StartAt:   req.StartAt,
		EndAt:     req.EndAt,
		PoolHP:    req.PoolHP,
		UserCount: req.UserCount,
	})
	if err != nil {
		if errors.Is(err, domain.ErrEventExists) {
			writeError(w, http.StatusConflict, "conflict", "event already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, CreateEventResponse{
		Event: toEventView(*event),
		Pool:  toPoolView(*pool),
	})
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request, eventID string) {
	claims, ok := requireScope(w, r, auth.ScopeEventsRead, auth.ScopeEventsWrite)
	if !ok {
		return
	}

	event, err := h.service.GetEvent(r.Context(), claims.GuildID, eventID)
	if err != nil {
		if errors.Is(err, domain.ErrEventNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toEventView(*event))
}

func (h *Handler) endEvent(w http.ResponseWriter, r *http.Request, eventID string) {
	claims, ok := requireScope(w, r, auth.ScopeEventsWrite)
	if !ok {
		return
	}

	if err := h.service.EndEvent(r.Context(), claims.GuildID, eventID); err != nil {
		if errors.Is(err, domain.ErrEventNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

func (h *Handler) poolStatus(w http.ResponseWriter, r *http.Request, eventID string) {
	claims, ok := requireScope(w, r, auth.ScopeEventsRead, auth.ScopeEventsWrite)
	if !ok {
		return
	}

	pool, err := h.service.PoolStatus(r.Context(), claims.GuildID, eventID)
	if err != nil {
		if errors.Is(err, domain.ErrEventNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toPoolView(*pool))
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request, eventID string) {
	claims, ok := requireScope(w, r, auth.ScopeEventsRead, auth.ScopeEventsWrite)
	if !ok {
		return
	}

	metric := domain.LeaderboardMetric(r.URL.Query().Get("metric"))
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 100 {
				parsed = 100
			}
			limit = parsed
		}
	}

	entries, err := h.service.Leaderboard(r.Context(), claims.GuildID, eventID, metric, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]LeaderboardEntryView, 0, len(entries))
	for i, e := range entries {
		items = append(items, LeaderboardEntryView{
			Rank:        i + 1,
			UserID:      e.UserID,
			Damage:      e.Damage,
			Devotion:    e.Devotion,
			TokensSpent: e.TokensSpent,
		})
	}
	writeJSON(w, http.StatusOK, LeaderboardResponse{Items: items})
}

func (h *Handler) listTicks(w http.ResponseWriter, r *http.Request, eventID string) {
	claims, ok := requireScope(w, r, auth.ScopeEventsRead, auth.ScopeEventsWrite)
	if !ok {
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 100 {
				parsed = 100
			}
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	records, next, err := h.service.ListTicks(r.Context(), claims.GuildID, eventID, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]TickView, 0, len(records))
	for _, rec := range records {
		items = append(items, TickView{
			At:      rec.At,
			Damage:  rec.Damage,
			HPAfter: rec.HPAfter,
		})
	}
	writeJSON(w, http.StatusOK, ListTicksResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
	return nil, false
}

// CreateEventRequest is the payload for POST /v1/events.
type CreateEventRequest struct {
	EventID   string    `json:"event_id,omitempty"`
	Name      string    `json:"name"`
	EventType string    `json:"event_type"`
	StartAt   time.Time `json:"start_at"`
	EndAt     time.Time `json:"end_at"`
	PoolHP    int64     `json:"pool_hp,omitempty"`
	UserCount int       `json:"user_count,omitempty"`
}

// Validate ensures request correctness.
func (r CreateEventRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(r.EventType) == "" {
		return errors.New("event_type is required")
	}
	if r.StartAt.IsZero() || r.EndAt.IsZero() {
		return errors.New("start_at and end_at are required")
	}
	if !r.EndAt.After(r.StartAt) {
		return errors.New("end_at must be after start_at")
	}
	if r.PoolHP < 0 {
		return errors.New("pool_hp must be >= 0")
	}
	return nil
}

// CreateEventResponse describes the response body for create.
type CreateEventResponse struct {
	Event EventView `json:"event"`
	Pool  PoolView  `json:"pool"`
}

// EventView exposes event details.
type EventView struct {
	EventID   string    `json:"event_id"`
	GuildID   string    `json:"guild_id"`
	Name      string    `json:"name"`
	EventType string    `json:"event_type"`
	StartAt   time.Time `json:"start_at"`
	EndAt     time.Time `json:"end_at"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// PoolView exposes the shared pool state.
type PoolView struct {
	EventID    string     `json:"event_id"`
	HPCurrent  int64      `json:"hp_current"`
	HPMax      int64      `json:"hp_max"`
	Percent    float64    `json:"percent"`
	LastBucket int        `json:"last_bucket"`
	Phase      string     `json:"phase"`
	LastTickAt *time.Time `json:"last_tick_at,omitempty"`
}

// LeaderboardEntryView is one ranked leaderboard row.
type LeaderboardEntryView struct {
	Rank        int     `json:"rank"`
	UserID      string  `json:"user_id"`
	Damage      float64 `json:"damage"`
	Devotion    int     `json:"devotion"`
	TokensSpent int64   `json:"tokens_spent"`
}

// LeaderboardResponse packages leaderboard results.
type LeaderboardResponse struct {
	Items []LeaderboardEntryView `json:"items"`
}

// TickView is one audit log entry.
type TickView struct {
	At      time.Time `json:"at"`
	Damage  float64   `json:"damage"`
	HPAfter int64     `json:"hp_after"`
}

// ListTicksResponse packages tick log results.
type ListTicksResponse struct {
	Items      []TickView `json:"items"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toEventView(ev domain.Event) EventView {
	return EventView{
		EventID:   ev.EventID,
		GuildID:   ev.GuildID,
		Name:      ev.Name,
		EventType: ev.EventType,
		StartAt:   ev.StartAt,
		EndAt:     ev.EndAt,
		Active:    ev.Active,
		CreatedAt: ev.CreatedAt,
	}
}

func toPoolView(ps domain.PoolState) PoolView {
	view := PoolView{
		EventID:    ps.EventID,
		HPCurrent:  ps.HPCurrent,
		HPMax:      ps.HPMax,
		LastBucket: ps.LastBucket,
		Phase:      string(ps.Phase),
	}
	if ps.HPMax > 0 {
		view.Percent = float64(ps.HPCurrent) * 100 / float64(ps.HPMax)
	}
	if !ps.LastTickAt.IsZero() {
		t := ps.LastTickAt
		view.LastTickAt = &t
	}
	return view
}
