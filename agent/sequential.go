package agent

import (
	"fmt"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/plugin"
)

// agentStateCurrentSubAgent is the checkpoint key recording which child a
// sequential run is about to execute.
const agentStateCurrentSubAgent = "current_sub_agent"

// SequentialAgent executes its children one after another in registration
// order, sharing the same invocation context so later children see the
// effects of earlier ones.
//
// Progress is checkpointed in the event log: before each child runs, the
// agent emits an event whose AgentState names that child, and after the last
// child it emits an EndOfAgent event. When an interrupted invocation is
// rerun, execution resumes at the child named by the latest checkpoint
// instead of starting over.
type SequentialAgent struct {
	BaseAgent
}

var _ core.Agent = (*SequentialAgent)(nil)
var _ plugin.Aware = (*SequentialAgent)(nil)

// NewSequentialAgent creates a sequential coordinator over the given
// children.
func NewSequentialAgent(name string, children ...core.Agent) *SequentialAgent {
	a := &SequentialAgent{BaseAgent: NewBaseAgent(name)}
	_ = a.SetSubAgents(children...)
	return a
}

// Run implements core.Agent, executing children in order from the latest
// checkpoint.
func (a *SequentialAgent) Run(ic *core.InvocationContext) error {
	children := a.SubAgents()

	start := a.resumeIndex(ic, children)
	if start > 0 {
		ic.Logger.Info("resuming sequential run", "agent", a.Name(), "child", children[start].Name())
	}

	for i := start; i < len(children); i++ {
		child := children[i]

		checkpoint := core.NewEvent(ic.InvocationID, a.Name())
		checkpoint.Actions.AgentState = map[string]any{agentStateCurrentSubAgent: child.Name()}
		if err := emitAndWait(ic, checkpoint); err != nil {
			return err
		}

		if err := child.Run(ic); err != nil {
			return fmt.Errorf("sequential execution failed at agent %s: %w", child.Name(), err)
		}
	}

	done := core.NewEvent(ic.InvocationID, a.Name())
	done.Actions.EndOfAgent = boolPtr(true)
	return emitAndWait(ic, done)
}

// resumeIndex scans the session history backwards for this agent's latest
// checkpoint. An EndOfAgent marker means the previous run finished, so the
// rerun starts fresh; an AgentState checkpoint resumes at the named child.
func (a *SequentialAgent) resumeIndex(ic *core.InvocationContext, children []core.Agent) int {
	if ic.Session == nil {
		return 0
	}
	events := ic.Session.GetEvents()
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if ev.Author != a.Name() {
			continue
		}
		if ev.Actions.EndOfAgent != nil && *ev.Actions.EndOfAgent {
			return 0
		}
		if name, ok := ev.Actions.AgentState[agentStateCurrentSubAgent].(string); ok {
			for j, child := range children {
				if child.Name() == name {
					return j
				}
			}
			return 0
		}
	}
	return 0
}
