// Package plugin provides the cross-cutting callback layer of AgentRun.
//
// A Plugin observes and optionally intercepts the lifecycle of every
// invocation: user messages, runner start/end, emitted events, agent runs,
// model calls and tool calls. Plugins are registered once on a Manager and
// dispatched in registration order; the first plugin returning a non-nil
// result wins and short-circuits both the remaining plugins and, for
// Before* callbacks, the guarded operation itself.
//
// Embed Base to implement only the callbacks a plugin cares about. The
// package ships two ready-made plugins: LoggingPlugin (structured lifecycle
// logging) and RetryPlugin (exponential-backoff model retries).
package plugin
