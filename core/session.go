package core

import (
	"context"
	"sync"
)

// Session is an event-sourced conversational container identified by
// (AppName, UserID, ID). Events is the append-only log; State is the derived
// fold of all non-temp state deltas in event order, plus the merged app- and
// user-scoped state inherited from sibling sessions. State is recomputable
// from the log at any time and must never be treated as an independent source
// of truth.
//
// The struct is safe for concurrent access; stores hand out clones so callers
// never share internal maps.
type Session struct {
	AppName        string         `json:"app_name"`
	UserID         string         `json:"user_id"`
	ID             string         `json:"id"`
	State          map[string]any `json:"state"`
	Events         []Event        `json:"events"`
	LastUpdateTime float64        `json:"last_update_time"`
	mu             sync.RWMutex
}

// NewSession creates an empty session for the given identity.
func NewSession(appName, userID, id string) *Session {
	return &Session{
		AppName:        appName,
		UserID:         userID,
		ID:             id,
		State:          map[string]any{},
		LastUpdateTime: NowUnixSeconds(),
	}
}

// GetState returns the value and existence flag for a state key.
func (s *Session) GetState(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.State[key]
	return v, ok
}

// ApplyStateDelta merges the provided key/value pairs into State and bumps
// LastUpdateTime.
func (s *Session) ApplyStateDelta(delta map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range delta {
		s.State[k] = v
	}
	s.LastUpdateTime = NowUnixSeconds()
}

// AddEvent appends an event to the local history. It does not persist
// anything; the SessionService owns durability.
func (s *Session) AddEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, ev)
	s.LastUpdateTime = NowUnixSeconds()
}

// GetEvents returns a defensive copy of the full event slice.
func (s *Session) GetEvents() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := make([]Event, len(s.Events))
	copy(events, s.Events)
	return events
}

// Clone returns a deep copy of the session safe for independent mutation.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clone := &Session{
		AppName:        s.AppName,
		UserID:         s.UserID,
		ID:             s.ID,
		State:          make(map[string]any, len(s.State)),
		Events:         make([]Event, len(s.Events)),
		LastUpdateTime: s.LastUpdateTime,
	}
	for k, v := range s.State {
		clone.State[k] = v
	}
	copy(clone.Events, s.Events)
	return clone
}

// GetSessionConfig narrows the events returned by SessionService.GetSession.
// Both filters compose by intersection: the most recent NumRecentEvents are
// selected first, then events with Timestamp >= AfterTimestamp are kept.
type GetSessionConfig struct {
	// NumRecentEvents limits the result to the N most recent events.
	// Zero means no limit.
	NumRecentEvents int
	// AfterTimestamp keeps only events at or after this timestamp (fractional
	// Unix seconds). Zero means no filter.
	AfterTimestamp float64
}

// SessionService persists sessions and their evolving state / event history.
// Implementations serialize concurrent appends per session: the backing store
// is the lock boundary, so events within one session form a single total
// order without any extra locking in the core.
//
// NotFound is reported as a nil session from GetSession, not an error.
// Conflicts surface as ErrAlreadyExists; backend I/O errors propagate
// unwrapped.
type SessionService interface {
	// CreateSession creates a session, generating an id when sessionID is
	// empty. It fails with ErrAlreadyExists when the id collides within the
	// same (appName, userID) scope. The initial state is split into its
	// scopes (temp keys dropped) and the returned session carries the merged
	// scoped state.
	CreateSession(ctx context.Context, appName, userID, sessionID string, state map[string]any) (*Session, error)

	// GetSession returns the session or nil when absent. A non-nil config
	// filters the returned events.
	GetSession(ctx context.Context, appName, userID, sessionID string, config *GetSessionConfig) (*Session, error)

	// ListSessions lists the sessions of one user, or of all users of the app
	// when userID is empty. Returned sessions carry merged scoped state but
	// no events.
	ListSessions(ctx context.Context, appName, userID string) ([]*Session, error)

	// DeleteSession removes a session and its events.
	DeleteSession(ctx context.Context, appName, userID, sessionID string) error

	// AppendEvent appends one event to the session's log: it assigns the
	// timestamp when zero, drops partial events without persisting them,
	// strips temp-prefixed keys from the persisted state delta while applying
	// them transiently to the caller's in-memory session, and routes app- and
	// user-scoped keys to their shared scopes. It returns the (possibly
	// mutated) event.
	AppendEvent(ctx context.Context, session *Session, event Event) (Event, error)

	// RewindSession truncates the event log immediately before the first
	// event of beforeInvocationID, dropping that invocation and everything
	// after it, and refolds the retained state deltas from scratch. The
	// truncation and state recompute are applied atomically. It returns the
	// rewound session and the dropped events (callers use them to reset
	// artifact versions). ErrEventNotFound is returned when the invocation
	// does not occur in the log.
	RewindSession(ctx context.Context, appName, userID, sessionID, beforeInvocationID string) (*Session, []Event, error)
}
