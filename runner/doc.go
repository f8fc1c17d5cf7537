// Package runner coordinates agent execution: it resolves sessions, builds
// invocation contexts, dispatches plugin lifecycle callbacks, streams and
// persists events, drives compaction after each invocation, and rewinds
// session history together with its artifact versions.
package runner
