package agent

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/internal/testutil"
)

func checkpointNames(events []core.Event, author string) []string {
	var names []string
	for _, ev := range events {
		if ev.Author != author {
			continue
		}
		if name, ok := ev.Actions.AgentState[agentStateCurrentSubAgent].(string); ok {
			names = append(names, name)
		}
	}
	return names
}

func TestSequentialAgentRunsChildrenInOrder(t *testing.T) {
	childA := newStubAgent("a")
	childB := newStubAgent("b")
	seq := NewSequentialAgent("seq", childA, childB)

	sess := testutil.NewSession("app", "user1", "session1").Build()
	ic, emit, resume := newInvocation(sess, "go")

	events, err := execute(t, seq, ic, emit, resume)
	require.NoError(t, err)

	assert.Equal(t, 1, childA.runCount())
	assert.Equal(t, 1, childB.runCount())

	// checkpoint a, output a, checkpoint b, output b, end-of-agent
	require.Len(t, events, 5)
	assert.Equal(t, []string{"a", "b"}, checkpointNames(events, "seq"))

	last := events[len(events)-1]
	require.NotNil(t, last.Actions.EndOfAgent)
	assert.True(t, *last.Actions.EndOfAgent)
}

func TestSequentialAgentResumesFromCheckpoint(t *testing.T) {
	childA := newStubAgent("a")
	childB := newStubAgent("b")
	childC := newStubAgent("c")
	seq := NewSequentialAgent("seq", childA, childB, childC)

	// History of an interrupted run: a completed, b was checkpointed but
	// never finished.
	sess := testutil.NewSession("app", "user1", "session1").
		Event(testutil.NewEvent("inv-0", "seq").AgentState(map[string]any{agentStateCurrentSubAgent: "a"}).Build()).
		Event(testutil.NewEvent("inv-0", "a").Text("assistant", "done a").Build()).
		Event(testutil.NewEvent("inv-0", "seq").AgentState(map[string]any{agentStateCurrentSubAgent: "b"}).Build()).
		Build()

	ic, emit, resume := newInvocation(sess, "continue")

	events, err := execute(t, seq, ic, emit, resume)
	require.NoError(t, err)

	assert.Equal(t, 0, childA.runCount(), "already-completed child must not rerun")
	assert.Equal(t, 1, childB.runCount())
	assert.Equal(t, 1, childC.runCount())
	assert.Equal(t, []string{"b", "c"}, checkpointNames(events, "seq"))
}

func TestSequentialAgentStartsFreshAfterCompletion(t *testing.T) {
	childA := newStubAgent("a")
	childB := newStubAgent("b")
	seq := NewSequentialAgent("seq", childA, childB)

	sess := testutil.NewSession("app", "user1", "session1").
		Event(testutil.NewEvent("inv-0", "seq").AgentState(map[string]any{agentStateCurrentSubAgent: "b"}).Build()).
		Event(testutil.NewEvent("inv-0", "seq").EndOfAgent().Build()).
		Build()

	ic, emit, resume := newInvocation(sess, "again")

	events, err := execute(t, seq, ic, emit, resume)
	require.NoError(t, err)

	assert.Equal(t, 1, childA.runCount())
	assert.Equal(t, 1, childB.runCount())
	assert.Equal(t, []string{"a", "b"}, checkpointNames(events, "seq"))
}

func TestSequentialAgentWrapsChildError(t *testing.T) {
	boom := errors.New("boom")
	childA := newStubAgent("a")
	childB := newStubAgent("b")
	childB.fail = boom
	seq := NewSequentialAgent("seq", childA, childB)

	ic, emit, resume := newInvocation(testutil.NewSession("app", "user1", "session1").Build(), "go")

	_, err := execute(t, seq, ic, emit, resume)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "sequential execution failed at agent b")
}

func TestLoopAgentRunsUntilMaxIterations(t *testing.T) {
	child := newStubAgent("worker")
	loop := NewLoopAgent("loop", child, WithMaxIterations(3))

	ic, emit, resume := newInvocation(testutil.NewSession("app", "user1", "session1").Build(), "go")

	events, err := execute(t, loop, ic, emit, resume)
	require.NoError(t, err)
	assert.Equal(t, 3, child.runCount())
	assert.Len(t, events, 3)
}

func TestLoopAgentStopsOnEscalation(t *testing.T) {
	child := newStubAgent("worker")
	child.escalateAt = 2
	loop := NewLoopAgent("loop", child, WithMaxIterations(10))

	ic, emit, resume := newInvocation(testutil.NewSession("app", "user1", "session1").Build(), "go")

	events, err := execute(t, loop, ic, emit, resume)
	require.NoError(t, err)
	assert.Equal(t, 2, child.runCount())

	last := events[len(events)-1]
	require.NotNil(t, last.Actions.Escalate)
	assert.True(t, *last.Actions.Escalate, "escalation event must be forwarded")
}

func TestLoopAgentStopsOnChildError(t *testing.T) {
	child := newStubAgent("worker")
	child.fail = errors.New("broken")
	loop := NewLoopAgent("loop", child, WithMaxIterations(5))

	ic, emit, resume := newInvocation(testutil.NewSession("app", "user1", "session1").Build(), "go")

	_, err := execute(t, loop, ic, emit, resume)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loop iteration 1 failed")
	assert.Equal(t, 1, child.runCount())
}

func TestParallelAgentRunsAllChildren(t *testing.T) {
	childA := newStubAgent("a")
	childB := newStubAgent("b")
	childC := newStubAgent("c")
	par := NewParallelAgent("par", []core.Agent{childA, childB, childC})

	ic, emit, resume := newInvocation(testutil.NewSession("app", "user1", "session1").Build(), "go")

	events, err := execute(t, par, ic, emit, resume)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, 1, childA.runCount())
	assert.Equal(t, 1, childB.runCount())
	assert.Equal(t, 1, childC.runCount())

	branches := map[string]bool{}
	for _, ev := range events {
		require.NotNil(t, ev.Branch)
		branches[*ev.Branch] = true
	}
	assert.Equal(t, map[string]bool{"par.a": true, "par.b": true, "par.c": true}, branches)
}

func TestParallelAgentReportsChildFailure(t *testing.T) {
	childA := newStubAgent("a")
	childB := newStubAgent("b")
	childB.fail = errors.New("broken")
	par := NewParallelAgent("par", []core.Agent{childA, childB})

	ic, emit, resume := newInvocation(testutil.NewSession("app", "user1", "session1").Build(), "go")

	_, err := execute(t, par, ic, emit, resume)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parallel execution failed for agent b")
	assert.Equal(t, 1, childA.runCount(), "siblings keep running when one child fails")
}
