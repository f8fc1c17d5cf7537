package core

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentrun/logging"
)

// InvocationContext carries execution state and helpers for one invocation:
// a full turn of agent processing triggered by a single user message. It
// aggregates:
//   - The ambient cancellation Context
//   - Identifiers (AppName, UserID, SessionID, InvocationID, Agent info)
//   - Input user Content
//   - Emission / resumption coordination channels
//   - Backing services (session, artifact) for persistence concerns
//   - A working Session snapshot and pending state / artifact deltas
//   - Branch label for hierarchical flows
//
// State mutations performed via SetState accumulate in StateDelta until an
// emitted event merges them into its Actions. Cloning produces an isolated
// delta buffer while sharing references to the underlying services.
type InvocationContext struct {
	Context          context.Context
	AppName          string
	UserID           string
	SessionID        string
	InvocationID     string
	Agent            AgentInfo
	UserContent      *Content
	Emit             chan<- Event
	Resume           <-chan struct{}
	SessionService   SessionService
	ArtifactService  ArtifactService
	Session          *Session
	StateDelta       map[string]any
	ArtifactVersions map[string]int
	Branch           string
	EndInvocation    bool
	Logger           logging.Logger
}

// NewInvocationContext constructs an InvocationContext with empty state and
// artifact delta buffers.
func NewInvocationContext(
	ctx context.Context,
	appName, userID, sessionID, invocationID string,
	agent AgentInfo,
	userContent *Content,
	emit chan<- Event,
	resume <-chan struct{},
	sess *Session,
	sessionService SessionService,
	artifactService ArtifactService,
	logger logging.Logger,
) *InvocationContext {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &InvocationContext{
		Context:          ctx,
		AppName:          appName,
		UserID:           userID,
		SessionID:        sessionID,
		InvocationID:     invocationID,
		Agent:            agent,
		UserContent:      userContent,
		Emit:             emit,
		Resume:           resume,
		Session:          sess,
		SessionService:   sessionService,
		ArtifactService:  artifactService,
		StateDelta:       map[string]any{},
		ArtifactVersions: map[string]int{},
		Logger:           logger,
	}
}

// Done returns a channel closed when the underlying context is cancelled.
func (ic *InvocationContext) Done() <-chan struct{} { return ic.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (ic *InvocationContext) Err() error { return ic.Context.Err() }

// GetState returns a staged (delta) value if present, else the session value.
// The boolean reports whether a value was found.
func (ic *InvocationContext) GetState(k string) (any, bool) {
	if v, ok := ic.StateDelta[k]; ok {
		return v, true
	}
	if ic.Session != nil {
		return ic.Session.GetState(k)
	}
	return nil, false
}

// SetState stages a state mutation in the delta buffer. The change is carried
// by the next emitted event and persisted when that event is appended.
func (ic *InvocationContext) SetState(k string, v any) { ic.StateDelta[k] = v }

// ApplyStateDelta merges all pairs from d into the staged StateDelta.
func (ic *InvocationContext) ApplyStateDelta(d map[string]any) {
	for k, v := range d {
		ic.StateDelta[k] = v
	}
}

// SaveArtifact stores a new version in the ArtifactService and stages the
// filename -> version pair for the next emitted event's artifact delta.
func (ic *InvocationContext) SaveArtifact(filename string, data []byte) (int, error) {
	if ic.ArtifactService == nil {
		return 0, fmt.Errorf("artifact service not configured")
	}
	version, err := ic.ArtifactService.SaveArtifact(ic.Context, ic.AppName, ic.UserID, ic.SessionID, filename, data)
	if err != nil {
		return 0, err
	}
	ic.ArtifactVersions[filename] = version
	return version, nil
}

// LoadArtifact retrieves an artifact version (latest when version is nil).
func (ic *InvocationContext) LoadArtifact(filename string, version *int) ([]byte, error) {
	if ic.ArtifactService == nil {
		return nil, fmt.Errorf("artifact service not configured")
	}
	return ic.ArtifactService.LoadArtifact(ic.Context, ic.AppName, ic.UserID, ic.SessionID, filename, version)
}

// ListArtifactKeys returns artifact filenames visible to the session.
func (ic *InvocationContext) ListArtifactKeys() ([]string, error) {
	if ic.ArtifactService == nil {
		return []string{}, nil
	}
	return ic.ArtifactService.ListArtifactKeys(ic.Context, ic.AppName, ic.UserID, ic.SessionID)
}

// RefreshSession reloads the session snapshot from the SessionService.
func (ic *InvocationContext) RefreshSession() error {
	if ic.SessionService == nil {
		return fmt.Errorf("session service not configured")
	}
	s, err := ic.SessionService.GetSession(ic.Context, ic.AppName, ic.UserID, ic.SessionID, nil)
	if err != nil {
		return err
	}
	if s == nil {
		return ErrSessionNotFound
	}
	ic.Session = s
	return nil
}

// EmitEvent merges the pending state / artifact deltas into ev.Actions, sends
// it on the Emit channel, then resets those buffers. If the context is
// cancelled before emission it returns the cancellation error.
func (ic *InvocationContext) EmitEvent(ev Event) error {
	if ev.InvocationID == "" {
		ev.InvocationID = ic.InvocationID
	}
	if len(ic.StateDelta) > 0 {
		if ev.Actions.StateDelta == nil {
			ev.Actions.StateDelta = map[string]any{}
		}
		for k, v := range ic.StateDelta {
			ev.Actions.StateDelta[k] = v
		}
	}
	if len(ic.ArtifactVersions) > 0 {
		if ev.Actions.ArtifactDelta == nil {
			ev.Actions.ArtifactDelta = map[string]int{}
		}
		for f, v := range ic.ArtifactVersions {
			ev.Actions.ArtifactDelta[f] = v
		}
	}
	select {
	case <-ic.Context.Done():
		return ic.Context.Err()
	case ic.Emit <- ev:
	}
	ic.StateDelta = map[string]any{}
	ic.ArtifactVersions = map[string]int{}
	return nil
}

// WaitForResume blocks until the Resume channel signals (the runner has
// finished persisting the previous event) or the context is cancelled. If
// Resume is nil it returns immediately.
func (ic *InvocationContext) WaitForResume() error {
	if ic.Resume == nil {
		return nil
	}
	select {
	case <-ic.Resume:
		return nil
	case <-ic.Context.Done():
		return ic.Context.Err()
	}
}

// NewChildInvocationContext derives a context for a nested child execution
// path. It replaces the Emit and Resume channels, resets the pending delta
// buffers, and optionally sets a branch label if non-empty. Composite agents
// use it to intercept or isolate child output without mutating the parent's
// transient buffers.
func (ic *InvocationContext) NewChildInvocationContext(emit chan<- Event, resume <-chan struct{}, branch string) *InvocationContext {
	finalBranch := ic.Branch
	if branch != "" {
		finalBranch = branch
	}
	return &InvocationContext{
		Context:          ic.Context,
		AppName:          ic.AppName,
		UserID:           ic.UserID,
		SessionID:        ic.SessionID,
		InvocationID:     ic.InvocationID,
		Agent:            ic.Agent,
		UserContent:      ic.UserContent,
		Emit:             emit,
		Resume:           resume,
		SessionService:   ic.SessionService,
		ArtifactService:  ic.ArtifactService,
		Session:          ic.Session,
		StateDelta:       map[string]any{},
		ArtifactVersions: map[string]int{},
		Branch:           finalBranch,
		Logger:           ic.Logger,
	}
}
