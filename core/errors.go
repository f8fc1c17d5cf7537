package core

import "errors"

var (
	// ErrAlreadyExists is returned when creating a session (or registering a
	// named component) would collide with an existing identifier in the same
	// scope. It is a conflict, not a transient failure, and is never retried
	// by the core.
	ErrAlreadyExists = errors.New("already exists")

	// ErrEventNotFound is returned by rewind when the target invocation id
	// does not occur in the session's event log.
	ErrEventNotFound = errors.New("event not found")

	// ErrSessionNotFound is returned by operations that require an existing
	// session (append, rewind). Plain gets report absence as a nil session
	// instead.
	ErrSessionNotFound = errors.New("session not found")
)
