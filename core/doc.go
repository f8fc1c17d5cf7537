// Package core provides the foundational domain types, interfaces and execution
// contexts used by AgentRun. It defines the core abstractions for:
//
//   - Events (immutable, append-only records of one step of interaction)
//   - Sessions (event-sourced conversational containers with derived state)
//   - State scopes (session-local, user-shared, app-shared, transient)
//   - Agents (units of autonomous / orchestrated work)
//   - InvocationContext / CallbackContext (scoped execution state)
//   - Pluggable services for session persistence and versioned artifacts
//
// The package intentionally keeps implementation concerns (persistence,
// compaction policy, plugin dispatch, concrete agents) out of scope, exposing
// small interfaces so backends and extensions can be swapped without touching
// calling code.
package core
