// Package testutil provides fluent builders for events and sessions used
// across package tests.
package testutil

import (
	"github.com/hupe1980/agentrun/core"
)

// EventBuilder assembles a core.Event step by step.
type EventBuilder struct {
	ev core.Event
}

// NewEvent starts a builder for an event bound to an invocation.
func NewEvent(invocationID, author string) *EventBuilder {
	return &EventBuilder{ev: core.NewEvent(invocationID, author)}
}

// Text sets a single-part text content with the given role.
func (b *EventBuilder) Text(role, text string) *EventBuilder {
	b.ev.Content = core.NewTextContent(role, text)
	return b
}

// Timestamp overrides the event timestamp (fractional Unix seconds).
func (b *EventBuilder) Timestamp(ts float64) *EventBuilder {
	b.ev.Timestamp = ts
	return b
}

// State adds one state delta pair.
func (b *EventBuilder) State(key string, value any) *EventBuilder {
	if b.ev.Actions.StateDelta == nil {
		b.ev.Actions.StateDelta = map[string]any{}
	}
	b.ev.Actions.StateDelta[key] = value
	return b
}

// Artifact adds one artifact delta pair.
func (b *EventBuilder) Artifact(filename string, version int) *EventBuilder {
	if b.ev.Actions.ArtifactDelta == nil {
		b.ev.Actions.ArtifactDelta = map[string]int{}
	}
	b.ev.Actions.ArtifactDelta[filename] = version
	return b
}

// Compaction marks the event as a summary covering [start, end].
func (b *EventBuilder) Compaction(start, end float64, summary string) *EventBuilder {
	b.ev.Actions.Compaction = &core.EventCompaction{
		StartTimestamp:   start,
		EndTimestamp:     end,
		CompactedContent: core.NewTextContent("user", summary),
	}
	return b
}

// AgentState sets the resumable checkpoint payload.
func (b *EventBuilder) AgentState(state map[string]any) *EventBuilder {
	b.ev.Actions.AgentState = state
	return b
}

// EndOfAgent marks the terminal checkpoint of a resumable run.
func (b *EventBuilder) EndOfAgent() *EventBuilder {
	done := true
	b.ev.Actions.EndOfAgent = &done
	return b
}

// Partial marks the event as a streaming fragment.
func (b *EventBuilder) Partial() *EventBuilder {
	p := true
	b.ev.Partial = &p
	return b
}

// Build returns the assembled event.
func (b *EventBuilder) Build() core.Event { return b.ev }

// SessionBuilder assembles a core.Session with events and state.
type SessionBuilder struct {
	sess *core.Session
}

// NewSession starts a builder for a session identified by the triple.
func NewSession(appName, userID, id string) *SessionBuilder {
	return &SessionBuilder{sess: core.NewSession(appName, userID, id)}
}

// State sets one state pair directly on the session.
func (b *SessionBuilder) State(key string, value any) *SessionBuilder {
	b.sess.ApplyStateDelta(map[string]any{key: value})
	return b
}

// Event appends an event to the session history.
func (b *SessionBuilder) Event(ev core.Event) *SessionBuilder {
	b.sess.AddEvent(ev)
	return b
}

// UserText appends a user text message event.
func (b *SessionBuilder) UserText(invocationID, text string) *SessionBuilder {
	b.sess.AddEvent(core.NewUserMessageEvent(invocationID, text))
	return b
}

// Build returns the assembled session.
func (b *SessionBuilder) Build() *core.Session { return b.sess }
