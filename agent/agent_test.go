package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/plugin"
)

// stubAgent is a scriptable child agent used by the coordinator tests.
type stubAgent struct {
	BaseAgent
	mu         sync.Mutex
	runs       int
	fail       error
	escalateAt int // 1-based run count at which to escalate, 0 = never
	onRun      func(ic *core.InvocationContext) error
}

func newStubAgent(name string) *stubAgent {
	return &stubAgent{BaseAgent: NewBaseAgent(name)}
}

func (s *stubAgent) Run(ic *core.InvocationContext) error {
	s.mu.Lock()
	s.runs++
	n := s.runs
	s.mu.Unlock()

	if s.onRun != nil {
		return s.onRun(ic)
	}
	if s.escalateAt > 0 && n >= s.escalateAt {
		return emitAndWait(ic, NewEscalationEvent(ic.InvocationID, s.Name(), nil))
	}
	if s.fail != nil {
		return s.fail
	}
	return emitAndWait(ic, core.NewMessageEvent(ic.InvocationID, s.Name(), fmt.Sprintf("run %d", n)))
}

func (s *stubAgent) runCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// newInvocation builds an invocation context wired to buffered channels the
// harness below serves.
func newInvocation(sess *core.Session, userText string) (*core.InvocationContext, chan core.Event, chan struct{}) {
	emit := make(chan core.Event, 64)
	resume := make(chan struct{}, 64)
	var content *core.Content
	if userText != "" {
		content = core.NewTextContent("user", userText)
	}
	ic := core.NewInvocationContext(
		context.Background(),
		"app", "user1", "session1", "inv-1",
		core.AgentInfo{Name: "root", Type: "test"},
		content,
		emit, resume,
		sess, nil, nil, nil,
	)
	return ic, emit, resume
}

// execute runs the agent while playing the runner's role: it collects
// emitted events, folds non-partial ones into the session, and answers the
// resume handshake.
func execute(t *testing.T, a core.Agent, ic *core.InvocationContext, emit chan core.Event, resume chan struct{}) ([]core.Event, error) {
	t.Helper()

	var events []core.Event
	done := make(chan error, 1)
	go func() { done <- a.Run(ic) }()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-emit:
			events = append(events, ev)
			if !ev.IsPartial() {
				if ic.Session != nil {
					if len(ev.Actions.StateDelta) > 0 {
						ic.Session.ApplyStateDelta(ev.Actions.StateDelta)
					}
					ic.Session.AddEvent(ev)
				}
				select {
				case resume <- struct{}{}:
				default:
				}
			}
		case err := <-done:
			for {
				select {
				case ev := <-emit:
					events = append(events, ev)
				default:
					return events, err
				}
			}
		case <-deadline:
			t.Fatal("agent run timed out")
		}
	}
}

func TestBaseAgentHierarchy(t *testing.T) {
	parent := newStubAgent("parent")
	childA := newStubAgent("a")
	childB := newStubAgent("b")
	grandchild := newStubAgent("deep")
	require.NoError(t, childB.SetSubAgents(grandchild))
	require.NoError(t, parent.SetSubAgents(childA, childB))

	assert.Len(t, parent.SubAgents(), 2)
	assert.Equal(t, "parent", childA.Parent().Name())
	assert.Equal(t, "b", grandchild.Parent().Name())

	found := parent.FindAgent("deep")
	require.NotNil(t, found)
	assert.Equal(t, "deep", found.Name())

	assert.Nil(t, parent.FindAgent("missing"))
	assert.Equal(t, "parent", parent.FindAgent("parent").Name())
}

func TestBaseAgentSetSubAgentsDetachesPrevious(t *testing.T) {
	parent := newStubAgent("parent")
	child := newStubAgent("child")
	require.NoError(t, parent.SetSubAgents(child))
	require.NoError(t, parent.SetSubAgents())

	assert.Nil(t, child.Parent())
	assert.Empty(t, parent.SubAgents())
}

func TestBaseAgentPluginPropagation(t *testing.T) {
	parent := newStubAgent("parent")
	child := newStubAgent("child")
	require.NoError(t, parent.SetSubAgents(child))

	pm, err := plugin.NewManager(nil)
	require.NoError(t, err)

	parent.SetPlugins(pm)

	assert.Same(t, pm, parent.Plugins())
	assert.Same(t, pm, child.Plugins())
}

func TestBaseAgentPluginsReachLateChildren(t *testing.T) {
	parent := newStubAgent("parent")
	pm, err := plugin.NewManager(nil)
	require.NoError(t, err)
	parent.SetPlugins(pm)

	child := newStubAgent("child")
	require.NoError(t, parent.SetSubAgents(child))

	assert.Same(t, pm, child.Plugins())
}

func TestInstructionResolve(t *testing.T) {
	ic, _, _ := newInvocation(nil, "")

	static := NewInstructionFromText("be helpful")
	text, err := static.Resolve(ic)
	require.NoError(t, err)
	assert.Equal(t, "be helpful", text)
	assert.True(t, static.IsStatic())

	dynamic := NewInstructionFromFunc(func(ic *core.InvocationContext) (string, error) {
		return "for " + ic.UserID, nil
	})
	text, err = dynamic.Resolve(ic)
	require.NoError(t, err)
	assert.Equal(t, "for user1", text)
	assert.False(t, dynamic.IsStatic())
}

func TestInstructionTemplateReadsSessionState(t *testing.T) {
	sess := core.NewSession("app", "user1", "session1")
	sess.ApplyStateDelta(map[string]any{"language": "German"})
	ic, _, _ := newInvocation(sess, "")
	ic.SetState("tone", "formal")

	tmpl := NewInstructionFromTemplate("Answer in {{.language}}, tone {{.tone}}.")
	text, err := tmpl.Resolve(ic)
	require.NoError(t, err)
	assert.Equal(t, "Answer in German, tone formal.", text)
}

func TestBuildBranchPath(t *testing.T) {
	assert.Equal(t, "child", buildBranchPath("", "child"))
	assert.Equal(t, "parent", buildBranchPath("parent", ""))
	assert.Equal(t, "parent.child", buildBranchPath("parent", "child"))
}
