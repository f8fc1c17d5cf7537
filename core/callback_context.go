package core

import "github.com/hupe1980/agentrun/logging"

// CallbackContext is the reduced surface handed to per-callback plugin and
// agent hooks. It exposes read/write session state, artifact helpers, and the
// identifiers of the current invocation, without the emission machinery of
// the full InvocationContext.
type CallbackContext struct {
	ic *InvocationContext
}

// NewCallbackContext wraps an InvocationContext.
func NewCallbackContext(ic *InvocationContext) *CallbackContext {
	return &CallbackContext{ic: ic}
}

// AppName returns the application name of the invocation.
func (cc *CallbackContext) AppName() string { return cc.ic.AppName }

// UserID returns the user identifier of the invocation.
func (cc *CallbackContext) UserID() string { return cc.ic.UserID }

// SessionID returns the session identifier of the invocation.
func (cc *CallbackContext) SessionID() string { return cc.ic.SessionID }

// InvocationID returns the identifier of the current invocation.
func (cc *CallbackContext) InvocationID() string { return cc.ic.InvocationID }

// AgentName returns the name of the agent being invoked.
func (cc *CallbackContext) AgentName() string { return cc.ic.Agent.Name }

// UserContent returns the user content that triggered the invocation.
func (cc *CallbackContext) UserContent() *Content { return cc.ic.UserContent }

// State returns a staged delta value when present, falling back to the
// persisted session state.
func (cc *CallbackContext) State(key string) (any, bool) { return cc.ic.GetState(key) }

// SetState stages a state mutation; it is carried by the next emitted event.
func (cc *CallbackContext) SetState(key string, value any) { cc.ic.SetState(key, value) }

// SaveArtifact stores a new artifact version and stages its delta.
func (cc *CallbackContext) SaveArtifact(filename string, data []byte) (int, error) {
	return cc.ic.SaveArtifact(filename, data)
}

// LoadArtifact retrieves an artifact version (latest when version is nil).
func (cc *CallbackContext) LoadArtifact(filename string, version *int) ([]byte, error) {
	return cc.ic.LoadArtifact(filename, version)
}

// ListArtifactKeys returns artifact filenames visible to the session.
func (cc *CallbackContext) ListArtifactKeys() ([]string, error) {
	return cc.ic.ListArtifactKeys()
}

// Logger returns the invocation's logger.
func (cc *CallbackContext) Logger() logging.Logger { return cc.ic.Logger }

// InvocationContext exposes the full underlying context for hooks that need
// the broader surface.
func (cc *CallbackContext) InvocationContext() *InvocationContext { return cc.ic }
