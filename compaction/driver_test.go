package compaction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/session"
)

// recordingCompactor captures the windows it is asked to summarize and
// returns a fixed-range summary event.
type recordingCompactor struct {
	windows [][]core.Event
}

func (c *recordingCompactor) Summarize(ctx context.Context, events []core.Event) (*core.Event, error) {
	window := make([]core.Event, len(events))
	copy(window, events)
	c.windows = append(c.windows, window)
	if len(events) == 0 {
		return nil, nil
	}
	ev := core.NewEvent(events[0].InvocationID, CompactorAuthor)
	ev.Actions.Compaction = &core.EventCompaction{
		StartTimestamp:   events[0].Timestamp,
		EndTimestamp:     events[len(events)-1].Timestamp,
		CompactedContent: core.NewTextContent("user", "summary"),
	}
	return &ev, nil
}

func setupSession(t *testing.T, svc core.SessionService) *core.Session {
	t.Helper()
	sess, err := svc.CreateSession(context.Background(), "app", "user", "s1", nil)
	require.NoError(t, err)
	return sess
}

func appendInvocation(t *testing.T, svc core.SessionService, sess *core.Session, invocationID string, ts float64) {
	t.Helper()
	ev := textEvent(invocationID, "user", "message "+invocationID, ts)
	_, err := svc.AppendEvent(context.Background(), sess, ev)
	require.NoError(t, err)
}

func TestDriver_TriggersAtInterval(t *testing.T) {
	svc := session.NewInMemoryService()
	sess := setupSession(t, svc)
	comp := &recordingCompactor{}
	driver := NewDriver(comp, svc, Config{Interval: 2})

	appendInvocation(t, svc, sess, "inv1", 10)
	appendInvocation(t, svc, sess, "inv2", 20)

	require.NoError(t, driver.Run(context.Background(), sess))
	require.Len(t, comp.windows, 1)
	assert.Len(t, comp.windows[0], 2)

	got, err := svc.GetSession(context.Background(), "app", "user", "s1", nil)
	require.NoError(t, err)
	require.Len(t, got.Events, 3)
	last := got.Events[2]
	require.True(t, last.IsCompaction())
	assert.Equal(t, float64(10), last.Actions.Compaction.StartTimestamp)
	assert.Equal(t, float64(20), last.Actions.Compaction.EndTimestamp)
}

func TestDriver_BelowIntervalIsNoOp(t *testing.T) {
	svc := session.NewInMemoryService()
	sess := setupSession(t, svc)
	comp := &recordingCompactor{}
	driver := NewDriver(comp, svc, Config{Interval: 2})

	appendInvocation(t, svc, sess, "inv1", 10)

	require.NoError(t, driver.Run(context.Background(), sess))
	assert.Empty(t, comp.windows)
}

func TestDriver_EmptySessionNeverReachesCompactor(t *testing.T) {
	svc := session.NewInMemoryService()
	sess := setupSession(t, svc)
	comp := &recordingCompactor{}
	driver := NewDriver(comp, svc, Config{Interval: 1})

	require.NoError(t, driver.Run(context.Background(), sess))
	assert.Empty(t, comp.windows)
}

func TestDriver_OverlapWindow(t *testing.T) {
	svc := session.NewInMemoryService()
	sess := setupSession(t, svc)
	comp := &recordingCompactor{}
	driver := NewDriver(comp, svc, Config{Interval: 2, OverlapSize: 2})

	for i, inv := range []string{"inv1", "inv2", "inv3"} {
		appendInvocation(t, svc, sess, inv, float64(10*(i+1)))
	}
	// First pass compacts inv1..inv3.
	require.NoError(t, driver.Run(context.Background(), sess))
	require.Len(t, comp.windows, 1)
	assert.Len(t, comp.windows[0], 3)

	appendInvocation(t, svc, sess, "inv4", 40)
	appendInvocation(t, svc, sess, "inv5", 50)

	// Second pass sees two new invocations and re-summarizes the overlap:
	// the window is inv2..inv5.
	require.NoError(t, driver.Run(context.Background(), sess))
	require.Len(t, comp.windows, 2)
	window := comp.windows[1]
	require.Len(t, window, 4)
	assert.Equal(t, "inv2", window[0].InvocationID)
	assert.Equal(t, "inv5", window[3].InvocationID)
}

func TestDriver_CompactionEventsDoNotCount(t *testing.T) {
	svc := session.NewInMemoryService()
	sess := setupSession(t, svc)
	comp := &recordingCompactor{}
	driver := NewDriver(comp, svc, Config{Interval: 2})

	appendInvocation(t, svc, sess, "inv1", 10)
	appendInvocation(t, svc, sess, "inv2", 20)
	require.NoError(t, driver.Run(context.Background(), sess))
	require.Len(t, comp.windows, 1)

	// Rerunning without new invocations does not compact again: everything
	// is behind the boundary.
	require.NoError(t, driver.Run(context.Background(), sess))
	assert.Len(t, comp.windows, 1)
}

func TestDriver_TokenBudgetTrigger(t *testing.T) {
	svc := session.NewInMemoryService()
	sess := setupSession(t, svc)
	comp := &recordingCompactor{}

	counter, err := NewTiktokenCounter("gpt-4o-mini")
	require.NoError(t, err)
	driver := NewDriver(comp, svc, Config{Interval: 100, TokenBudget: 5}, WithTokenCounter(counter))

	ev := textEvent("inv1", "user", "a reasonably long message that certainly exceeds five tokens of budget", 10)
	_, err = svc.AppendEvent(context.Background(), sess, ev)
	require.NoError(t, err)

	require.NoError(t, driver.Run(context.Background(), sess))
	assert.Len(t, comp.windows, 1, "token budget should trigger before the interval")
}

func TestFlattenForModel(t *testing.T) {
	var events []core.Event
	for i := 1; i <= 10; i++ {
		events = append(events, textEvent("inv", "user", "e", float64(i)))
	}
	first := core.NewEvent("inv", CompactorAuthor)
	first.Timestamp = 11
	first.Actions.Compaction = &core.EventCompaction{
		StartTimestamp:   1,
		EndTimestamp:     4,
		CompactedContent: core.NewTextContent("user", "summary 1-4"),
	}
	second := core.NewEvent("inv", CompactorAuthor)
	second.Timestamp = 12
	second.Actions.Compaction = &core.EventCompaction{
		StartTimestamp:   6,
		EndTimestamp:     9,
		CompactedContent: core.NewTextContent("user", "summary 6-9"),
	}
	events = append(events, first, second)

	flat := FlattenForModel(events)
	require.Len(t, flat, 4)
	assert.Equal(t, "summary 1-4", flat[0].Content.Text())
	assert.Equal(t, float64(5), flat[1].Timestamp)
	assert.Equal(t, "summary 6-9", flat[2].Content.Text())
	assert.Equal(t, float64(10), flat[3].Timestamp)
}

func TestFlattenForModel_NoCompactions(t *testing.T) {
	events := []core.Event{
		textEvent("inv", "user", "a", 1),
		textEvent("inv", "assistant", "b", 2),
	}
	assert.Equal(t, events, FlattenForModel(events))
}
