package auth

// Known OAuth scopes used by the event service.
const (
	ScopeEventsWrite = "events:write"
	ScopeEventsRead  = "events:read"
)
