package agent

import (
	"fmt"
	"sync"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/plugin"
)

// BaseAgent bundles identity, hierarchy management and plugin wiring shared
// by every concrete agent. Embed it and supply a Run method to satisfy
// core.Agent. All exported methods are goroutine-safe.
type BaseAgent struct {
	name        string
	description string
	mu          sync.Mutex
	parent      core.Agent
	subAgents   []core.Agent
	plugins     *plugin.Manager
}

// NewBaseAgent constructs a BaseAgent with a generated description
// (customizable via SetDescription).
func NewBaseAgent(name string) BaseAgent {
	return BaseAgent{
		name:        name,
		description: fmt.Sprintf("Agent %s", name),
	}
}

// Name returns the human-readable name for this agent.
func (b *BaseAgent) Name() string { return b.name }

// Description returns a description of this agent's purpose.
func (b *BaseAgent) Description() string { return b.description }

// SetDescription updates the agent's description.
func (b *BaseAgent) SetDescription(desc string) { b.description = desc }

// SetPlugins attaches the plugin manager and propagates it to every child
// that accepts one. The runner calls this on the root agent before the first
// invocation.
func (b *BaseAgent) SetPlugins(m *plugin.Manager) {
	b.mu.Lock()
	b.plugins = m
	children := make([]core.Agent, len(b.subAgents))
	copy(children, b.subAgents)
	b.mu.Unlock()

	for _, child := range children {
		if aware, ok := child.(plugin.Aware); ok {
			aware.SetPlugins(m)
		}
	}
}

// Plugins returns the attached plugin manager, or nil when none is set.
func (b *BaseAgent) Plugins() *plugin.Manager {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.plugins
}

// SetSubAgents atomically replaces the child agent set, clearing previous
// parent links then assigning this agent as the parent of each new child. It
// enforces a single-parent invariant and propagates the plugin manager to
// children that accept one.
func (b *BaseAgent) SetSubAgents(children ...core.Agent) error {
	b.mu.Lock()
	for _, child := range b.subAgents {
		if setter, ok := child.(interface{ setParent(core.Agent) }); ok {
			setter.setParent(nil)
		}
	}
	b.subAgents = nil

	for _, child := range children {
		if setter, ok := child.(interface{ setParent(core.Agent) }); ok {
			setter.setParent(&agentWrapper{b})
		}
		b.subAgents = append(b.subAgents, child)
	}
	m := b.plugins
	b.mu.Unlock()

	if m != nil {
		for _, child := range children {
			if aware, ok := child.(plugin.Aware); ok {
				aware.SetPlugins(m)
			}
		}
	}
	return nil
}

// setParent sets the internal parent reference.
func (b *BaseAgent) setParent(p core.Agent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parent = p
}

// Parent returns the parent agent, or nil for a root-level agent.
func (b *BaseAgent) Parent() core.Agent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.parent
}

// SubAgents returns a shallow copy of the current child agents.
func (b *BaseAgent) SubAgents() []core.Agent {
	b.mu.Lock()
	defer b.mu.Unlock()
	result := make([]core.Agent, len(b.subAgents))
	copy(result, b.subAgents)
	return result
}

// FindAgent performs a depth-first search over the subtree rooted at this
// agent (including itself) returning the first agent whose Name matches, or
// nil when no agent matches.
func (b *BaseAgent) FindAgent(name string) core.Agent {
	if b.name == name {
		return &agentWrapper{b}
	}
	for _, child := range b.SubAgents() {
		if child.Name() == name {
			return child
		}
		if found := child.FindAgent(name); found != nil {
			return found
		}
	}
	return nil
}

// agentWrapper wraps BaseAgent to satisfy core.Agent for hierarchy
// references.
type agentWrapper struct{ *BaseAgent }

// Run rejects direct execution; BaseAgent must be embedded in a concrete
// agent that supplies Run.
func (w *agentWrapper) Run(_ *core.InvocationContext) error {
	return fmt.Errorf("agent %s has no Run implementation", w.name)
}

// buildBranchPath composes a hierarchical branch identifier used to isolate
// child agent output. Empty components are skipped.
func buildBranchPath(parent, child string) string {
	if parent == "" {
		return child
	}
	if child == "" {
		return parent
	}
	return parent + "." + child
}

// emitAndWait stamps the event with the invocation branch, emits it, and
// blocks on the resume handshake until the runner has persisted it.
func emitAndWait(ic *core.InvocationContext, ev core.Event) error {
	if ic.Branch != "" && ev.Branch == nil {
		branch := ic.Branch
		ev.Branch = &branch
	}
	if err := ic.EmitEvent(ev); err != nil {
		return err
	}
	return ic.WaitForResume()
}

// boolPtr returns a pointer to b, for optional event fields.
func boolPtr(b bool) *bool { return &b }
