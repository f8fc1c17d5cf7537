package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/logging"
)

// sessionRecord is the internal storage shape for one session. The embedded
// session holds session-scope state only (no app:/user: prefixed keys); the
// shared scopes live in the service-level maps. base keeps the session-scope
// state as it was at creation so a rewind can refold from scratch.
type sessionRecord struct {
	sess *core.Session
	base map[string]any
}

// InMemoryService is a volatile SessionService implementation storing
// sessions in process local maps keyed app -> user -> session id. It is safe
// for concurrent access and best suited for tests or ephemeral demo servers.
// Each returned session is cloned to prevent external mutation of internal
// state.
type InMemoryService struct {
	mu        sync.RWMutex
	sessions  map[string]map[string]map[string]*sessionRecord
	appState  map[string]map[string]any
	userState map[string]map[string]map[string]any
	logger    logging.Logger
}

// InMemoryServiceOption configures an InMemoryService.
type InMemoryServiceOption func(*InMemoryService)

// WithInMemoryLogger sets the logger used by the service.
func WithInMemoryLogger(l logging.Logger) InMemoryServiceOption {
	return func(s *InMemoryService) { s.logger = l }
}

// NewInMemoryService constructs an empty in-memory session service.
func NewInMemoryService(opts ...InMemoryServiceOption) *InMemoryService {
	s := &InMemoryService{
		sessions:  map[string]map[string]map[string]*sessionRecord{},
		appState:  map[string]map[string]any{},
		userState: map[string]map[string]map[string]any{},
		logger:    logging.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession creates a new session. A uuid is generated when sessionID is
// empty. Initial state is split into scopes: app:/user: keys are routed to
// the shared maps, temp: keys are dropped, the rest becomes session state.
// Returns core.ErrAlreadyExists when the id is already taken within
// (appName, userID).
func (s *InMemoryService) CreateSession(ctx context.Context, appName, userID, sessionID string, state map[string]any) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sessionID == "" {
		sessionID = core.NewID()
	}
	if _, ok := s.sessions[appName][userID][sessionID]; ok {
		return nil, fmt.Errorf("session %q: %w", sessionID, core.ErrAlreadyExists)
	}

	appDelta, userDelta, sessionState := core.SplitStateDelta(state)
	s.mergeAppStateLocked(appName, appDelta)
	s.mergeUserStateLocked(appName, userID, userDelta)

	sess := core.NewSession(appName, userID, sessionID)
	sess.ApplyStateDelta(sessionState)

	base := make(map[string]any, len(sessionState))
	for k, v := range sessionState {
		base[k] = v
	}

	if s.sessions[appName] == nil {
		s.sessions[appName] = map[string]map[string]*sessionRecord{}
	}
	if s.sessions[appName][userID] == nil {
		s.sessions[appName][userID] = map[string]*sessionRecord{}
	}
	s.sessions[appName][userID][sessionID] = &sessionRecord{sess: sess, base: base}

	s.logger.Debug("session created", "app_name", appName, "user_id", userID, "session_id", sessionID)

	return s.mergedCloneLocked(appName, userID, sess), nil
}

// GetSession returns a session snapshot with merged scoped state, or nil
// (without error) when the session does not exist. The optional config
// filters the returned events: NumRecentEvents keeps the most recent N,
// then AfterTimestamp keeps events with Timestamp >= the value.
func (s *InMemoryService) GetSession(ctx context.Context, appName, userID, sessionID string, config *core.GetSessionConfig) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[appName][userID][sessionID]
	if !ok {
		return nil, nil
	}
	clone := s.mergedCloneLocked(appName, userID, rec.sess)
	clone.Events = filterEvents(clone.Events, config)
	return clone, nil
}

// ListSessions returns all sessions of an app for one user, or for every
// user when userID is empty. The returned sessions carry merged scoped state
// but no events.
func (s *InMemoryService) ListSessions(ctx context.Context, appName, userID string) ([]*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.Session
	users := s.sessions[appName]
	for uid, byID := range users {
		if userID != "" && uid != userID {
			continue
		}
		for _, rec := range byID {
			clone := s.mergedCloneLocked(appName, uid, rec.sess)
			clone.Events = nil
			out = append(out, clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteSession removes a session. Deleting an absent session is a no-op.
func (s *InMemoryService) DeleteSession(ctx context.Context, appName, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions[appName][userID], sessionID)
	return nil
}

// AppendEvent persists an event to the session log. Partial events are
// returned unchanged and never stored. Temp-prefixed state keys are applied
// to the caller's in-memory session but stripped from the persisted delta;
// app:/user: prefixed keys are routed to the shared scope maps.
func (s *InMemoryService) AppendEvent(ctx context.Context, session *core.Session, event core.Event) (core.Event, error) {
	if event.ID == "" {
		event.ID = core.NewID()
	}
	if event.Timestamp == 0 {
		event.Timestamp = core.NowUnixSeconds()
	}
	if event.IsPartial() {
		return event, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[session.AppName][session.UserID][session.ID]
	if !ok {
		return event, fmt.Errorf("session %q: %w", session.ID, core.ErrSessionNotFound)
	}

	// The caller's working session sees the full delta, temp keys included.
	session.ApplyStateDelta(event.Actions.StateDelta)

	event.Actions.StateDelta = core.StripTempStateKeys(event.Actions.StateDelta)

	appDelta, userDelta, sessionDelta := core.SplitStateDelta(event.Actions.StateDelta)
	s.mergeAppStateLocked(session.AppName, appDelta)
	s.mergeUserStateLocked(session.AppName, session.UserID, userDelta)

	rec.sess.ApplyStateDelta(sessionDelta)
	rec.sess.AddEvent(event.Clone())
	rec.sess.LastUpdateTime = event.Timestamp

	session.AddEvent(event)
	session.LastUpdateTime = event.Timestamp

	return event, nil
}

// RewindSession truncates the session log at the first event of the given
// invocation, refolds session-scope state from the retained deltas, and
// returns the rewound session together with the dropped events. The caller
// uses the dropped events to reset artifact versions. Shared app/user scopes
// are left untouched. Returns core.ErrEventNotFound when no event carries
// the invocation id.
func (s *InMemoryService) RewindSession(ctx context.Context, appName, userID, sessionID, beforeInvocationID string) (*core.Session, []core.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[appName][userID][sessionID]
	if !ok {
		return nil, nil, fmt.Errorf("session %q: %w", sessionID, core.ErrSessionNotFound)
	}

	events := rec.sess.GetEvents()
	cut := -1
	for i, ev := range events {
		if ev.InvocationID == beforeInvocationID {
			cut = i
			break
		}
	}
	if cut < 0 {
		return nil, nil, fmt.Errorf("invocation %q: %w", beforeInvocationID, core.ErrEventNotFound)
	}

	retained := events[:cut]
	dropped := make([]core.Event, len(events)-cut)
	copy(dropped, events[cut:])

	state := make(map[string]any, len(rec.base))
	for k, v := range rec.base {
		state[k] = v
	}
	for _, ev := range retained {
		_, _, sessionDelta := core.SplitStateDelta(ev.Actions.StateDelta)
		for k, v := range sessionDelta {
			state[k] = v
		}
	}

	rewound := core.NewSession(appName, userID, sessionID)
	rewound.ApplyStateDelta(state)
	for _, ev := range retained {
		rewound.AddEvent(ev.Clone())
	}
	if len(retained) > 0 {
		rewound.LastUpdateTime = retained[len(retained)-1].Timestamp
	}
	rec.sess = rewound

	s.logger.Info("session rewound", "session_id", sessionID, "dropped_events", len(dropped))

	return s.mergedCloneLocked(appName, userID, rewound), dropped, nil
}

// mergedCloneLocked clones sess and overlays the shared app/user scopes with
// their prefixes retained. Caller must hold at least the read lock.
func (s *InMemoryService) mergedCloneLocked(appName, userID string, sess *core.Session) *core.Session {
	clone := sess.Clone()
	for k, v := range s.userState[appName][userID] {
		clone.State[k] = v
	}
	for k, v := range s.appState[appName] {
		clone.State[k] = v
	}
	return clone
}

func (s *InMemoryService) mergeAppStateLocked(appName string, delta map[string]any) {
	if len(delta) == 0 {
		return
	}
	if s.appState[appName] == nil {
		s.appState[appName] = map[string]any{}
	}
	for k, v := range delta {
		s.appState[appName][k] = v
	}
}

func (s *InMemoryService) mergeUserStateLocked(appName, userID string, delta map[string]any) {
	if len(delta) == 0 {
		return
	}
	if s.userState[appName] == nil {
		s.userState[appName] = map[string]map[string]any{}
	}
	if s.userState[appName][userID] == nil {
		s.userState[appName][userID] = map[string]any{}
	}
	for k, v := range delta {
		s.userState[appName][userID][k] = v
	}
}

// filterEvents applies the GetSessionConfig filters: most recent N first,
// then the timestamp floor. Filters compose by intersection.
func filterEvents(events []core.Event, config *core.GetSessionConfig) []core.Event {
	if config == nil {
		return events
	}
	if config.NumRecentEvents > 0 && len(events) > config.NumRecentEvents {
		events = events[len(events)-config.NumRecentEvents:]
	}
	if config.AfterTimestamp > 0 {
		filtered := make([]core.Event, 0, len(events))
		for _, ev := range events {
			if ev.Timestamp >= config.AfterTimestamp {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}
	return events
}
