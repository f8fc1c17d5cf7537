package core

import "strings"

// State key prefixes delimit the visibility scope of a state entry. The three
// prefixed scopes and the unprefixed session scope are disjoint by
// construction, so merged views never collide.
const (
	// StateAppPrefix marks keys shared across all users and sessions of an app.
	StateAppPrefix = "app:"
	// StateUserPrefix marks keys shared across all sessions of one user.
	StateUserPrefix = "user:"
	// StateTempPrefix marks keys applied transiently to the in-memory session
	// for same-invocation visibility; they are never persisted.
	StateTempPrefix = "temp:"
)

// IsAppStateKey reports whether key belongs to the app-wide scope.
func IsAppStateKey(key string) bool { return strings.HasPrefix(key, StateAppPrefix) }

// IsUserStateKey reports whether key belongs to the per-user scope.
func IsUserStateKey(key string) bool { return strings.HasPrefix(key, StateUserPrefix) }

// IsTempStateKey reports whether key is transient and must not be persisted.
func IsTempStateKey(key string) bool { return strings.HasPrefix(key, StateTempPrefix) }

// SplitStateDelta partitions a delta into app-scope, user-scope and
// session-scope maps. Temp-prefixed keys are dropped. Prefixes are retained
// in the returned keys so merged state views stay unambiguous.
func SplitStateDelta(delta map[string]any) (app, user, session map[string]any) {
	app = map[string]any{}
	user = map[string]any{}
	session = map[string]any{}
	for k, v := range delta {
		switch {
		case IsTempStateKey(k):
			// transient, dropped
		case IsAppStateKey(k):
			app[k] = v
		case IsUserStateKey(k):
			user[k] = v
		default:
			session[k] = v
		}
	}
	return app, user, session
}

// StripTempStateKeys returns a copy of delta without temp-prefixed keys, or
// the delta itself when no temp keys are present.
func StripTempStateKeys(delta map[string]any) map[string]any {
	hasTemp := false
	for k := range delta {
		if IsTempStateKey(k) {
			hasTemp = true
			break
		}
	}
	if !hasTemp {
		return delta
	}
	out := make(map[string]any, len(delta))
	for k, v := range delta {
		if !IsTempStateKey(k) {
			out[k] = v
		}
	}
	return out
}
