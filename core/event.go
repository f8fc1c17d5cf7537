package core

import (
	"time"

	"github.com/google/uuid"
)

// EventCompaction marks an event as the summary replacing every event whose
// timestamp falls within [StartTimestamp, EndTimestamp] inclusive when the
// model-visible conversation view is reconstructed. The original events stay
// in the log for auditability; only the materialized view collapses them.
type EventCompaction struct {
	StartTimestamp   float64  `json:"start_timestamp"`
	EndTimestamp     float64  `json:"end_timestamp"`
	CompactedContent *Content `json:"compacted_content"`
}

// Covers reports whether ts falls inside the compacted range (inclusive).
func (c *EventCompaction) Covers(ts float64) bool {
	return ts >= c.StartTimestamp && ts <= c.EndTimestamp
}

// EventActions bundles the effects applied when an event is appended to a
// session. All fields are optional pointers / maps so absence can be
// distinguished from zero values; multiple effects may co-occur on one event.
type EventActions struct {
	// StateDelta is merged into session state at append time. Keys prefixed
	// "temp:" are applied only to the in-memory session, "app:"/"user:" keys
	// go to the shared scopes, unprefixed keys stay session-local.
	StateDelta map[string]any `json:"state_delta,omitempty"`

	// ArtifactDelta records which artifact version was current as of this
	// event (filename -> version).
	ArtifactDelta map[string]int `json:"artifact_delta,omitempty"`

	// TransferToAgent routes the remainder of the invocation to another agent.
	TransferToAgent *string `json:"transfer_to_agent,omitempty"`

	// Escalate signals upward control-flow termination (stop a loop or a
	// sequence of sub-agents).
	Escalate *bool `json:"escalate,omitempty"`

	// SkipSummarization suppresses follow-up model summarization of a tool
	// response.
	SkipSummarization *bool `json:"skip_summarization,omitempty"`

	// Compaction marks this event as a summary of a contiguous event range.
	Compaction *EventCompaction `json:"compaction,omitempty"`

	// AgentState is an opaque per-agent checkpoint used to resume workflow
	// agents (e.g. {"current_sub_agent": "writer"}).
	AgentState map[string]any `json:"agent_state,omitempty"`

	// EndOfAgent marks the terminal checkpoint of a resumable agent's run.
	EndOfAgent *bool `json:"end_of_agent,omitempty"`
}

// Event is the primary unit of communication between agents, the runner and
// external clients. After it has been appended to a session it must be treated
// as immutable. It captures:
//   - Correlation (ID, InvocationID, Author, Branch)
//   - Conversational content (optional role-based parts)
//   - Orchestration effects (Actions)
//   - Error / interruption metadata
//
// Timestamp is fractional Unix seconds and is the ordering key within a
// session; the session service assigns it at append time when zero.
type Event struct {
	ID                 string            `json:"id"`
	InvocationID       string            `json:"invocation_id"`
	Author             string            `json:"author"`
	Actions            EventActions      `json:"actions"`
	Branch             *string           `json:"branch,omitempty"`
	Timestamp          float64           `json:"timestamp"`
	Content            *Content          `json:"content,omitempty"`
	Partial            *bool             `json:"partial,omitempty"`
	TurnComplete       *bool             `json:"turn_complete,omitempty"`
	LongRunningToolIDs []string          `json:"long_running_tool_ids,omitempty"`
	ErrorCode          *string           `json:"error_code,omitempty"`
	ErrorMessage       *string           `json:"error_message,omitempty"`
	CustomMetadata     map[string]string `json:"custom_metadata,omitempty"`
}

// NewEvent creates a bare event authored by 'author' bound to an invocation.
// Prefer helper constructors for common semantic categories.
func NewEvent(invocationID, author string) Event {
	return Event{
		ID:           NewID(),
		InvocationID: invocationID,
		Author:       author,
		Timestamp:    NowUnixSeconds(),
		Actions:      EventActions{},
	}
}

// NewUserMessageEvent creates a user-authored text message event.
func NewUserMessageEvent(invocationID, message string) Event {
	e := NewEvent(invocationID, "user")
	e.Content = NewTextContent("user", message)
	return e
}

// NewMessageEvent creates a non-user assistant message event with a single
// text part. Author can be an agent name or system identifier.
func NewMessageEvent(invocationID, author, message string) Event {
	e := NewEvent(invocationID, author)
	e.Content = NewTextContent("assistant", message)
	return e
}

// NewUserContentEvent creates a user-authored event with arbitrary Content.
func NewUserContentEvent(invocationID string, content *Content) Event {
	e := NewEvent(invocationID, "user")
	e.Content = content
	return e
}

// NewFunctionCallEvent represents an agent requesting execution of a named
// function/tool.
func NewFunctionCallEvent(invocationID, author, functionName, args string) Event {
	e := NewEvent(invocationID, author)
	e.Content = &Content{
		Role: "assistant",
		Parts: []Part{FunctionCallPart{
			FunctionCall: FunctionCall{Name: functionName, Arguments: args},
		}},
	}
	return e
}

// NewFunctionResponseEvent records the completion result (or error) of a
// tool/function invocation. If err is non-nil its message is copied into the
// response's Error field.
func NewFunctionResponseEvent(invocationID, author, id, functionName string, result any, err error) Event {
	e := NewEvent(invocationID, author)
	fr := FunctionResponse{ID: id, Name: functionName, Response: result}
	if err != nil {
		fr.Error = err.Error()
	}
	e.Content = &Content{Role: "tool", Parts: []Part{FunctionResponsePart{FunctionResponse: fr}}}
	return e
}

// NewID generates a new unique identifier for events, sessions and
// invocations.
func NewID() string { return uuid.NewString() }

// NowUnixSeconds returns the current UTC time as fractional Unix seconds, the
// representation used for event timestamps and compaction range boundaries.
func NowUnixSeconds() float64 { return float64(time.Now().UnixNano()) / 1e9 }

// IsPartial reports whether this event is a streaming fragment that will be
// followed by additional events composing the final turn. Partial events are
// never persisted.
func (e Event) IsPartial() bool { return e.Partial != nil && *e.Partial }

// IsCompaction reports whether this event carries a compaction summary.
func (e Event) IsCompaction() bool { return e.Actions.Compaction != nil }

// GetFunctionCalls returns any FunctionCall parts contained within the event
// content preserving their original order.
func (e Event) GetFunctionCalls() []FunctionCall {
	if e.Content == nil {
		return nil
	}
	var calls []FunctionCall
	for _, p := range e.Content.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}
	return calls
}

// GetFunctionResponses returns any FunctionResponse parts contained within
// the event content preserving their original order.
func (e Event) GetFunctionResponses() []FunctionResponse {
	if e.Content == nil {
		return nil
	}
	var responses []FunctionResponse
	for _, p := range e.Content.Parts {
		if fr, ok := p.(FunctionResponsePart); ok {
			responses = append(responses, fr.FunctionResponse)
		}
	}
	return responses
}

// IsFinalResponse implements the heuristic used by higher layers to decide
// when an assistant turn is complete (no pending tool calls/responses, not
// partial, not awaiting summarization).
func (e Event) IsFinalResponse() bool {
	if (e.Actions.SkipSummarization != nil && *e.Actions.SkipSummarization) || len(e.LongRunningToolIDs) > 0 {
		return true
	}
	return len(e.GetFunctionCalls()) == 0 &&
		len(e.GetFunctionResponses()) == 0 &&
		!e.IsPartial()
}

// Clone returns a deep copy of the event's mutable fields (maps and content).
// Stores use it to decouple persisted events from caller-held references.
func (e Event) Clone() Event {
	c := e
	c.Actions = e.Actions.clone()
	if e.Branch != nil {
		b := *e.Branch
		c.Branch = &b
	}
	if len(e.LongRunningToolIDs) > 0 {
		c.LongRunningToolIDs = append([]string(nil), e.LongRunningToolIDs...)
	}
	if len(e.CustomMetadata) > 0 {
		c.CustomMetadata = make(map[string]string, len(e.CustomMetadata))
		for k, v := range e.CustomMetadata {
			c.CustomMetadata[k] = v
		}
	}
	return c
}

func (a EventActions) clone() EventActions {
	c := a
	if len(a.StateDelta) > 0 {
		c.StateDelta = make(map[string]any, len(a.StateDelta))
		for k, v := range a.StateDelta {
			c.StateDelta[k] = v
		}
	}
	if len(a.ArtifactDelta) > 0 {
		c.ArtifactDelta = make(map[string]int, len(a.ArtifactDelta))
		for k, v := range a.ArtifactDelta {
			c.ArtifactDelta[k] = v
		}
	}
	if len(a.AgentState) > 0 {
		c.AgentState = make(map[string]any, len(a.AgentState))
		for k, v := range a.AgentState {
			c.AgentState[k] = v
		}
	}
	return c
}
