// Package agent provides the agent implementations that execute within an
// invocation: BaseAgent (identity, hierarchy and plugin plumbing), LLMAgent
// (model-driven conversation with tool calling), and the workflow
// coordinators SequentialAgent (resumable ordered execution), LoopAgent
// (iteration with escalation) and ParallelAgent (concurrent branches).
//
// Agents communicate exclusively through the InvocationContext: they emit
// events on its channel and block on the resume handshake after every
// non-partial event so the runner can persist side effects in order.
package agent
