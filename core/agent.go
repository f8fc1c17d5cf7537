package core

// Agent is the interface all agents must implement. Agents receive their
// execution scope through an InvocationContext, process asynchronously, and
// emit events to communicate results and state changes back to the runner.
//
// Implementations must respect context cancellation, emit events only through
// the provided InvocationContext, and handle the resume handshake after each
// non-partial event.
type Agent interface {
	Name() string
	Description() string
	Run(invocationCtx *InvocationContext) error
	SetSubAgents(children ...Agent) error
	SubAgents() []Agent
	FindAgent(name string) Agent
}

// AgentInfo carries identifying details about an agent used in contexts and
// events. Name is the external identifier; Type categorizes the
// implementation (e.g. "llm", "sequential", "loop").
type AgentInfo struct{ Name, Type string }
