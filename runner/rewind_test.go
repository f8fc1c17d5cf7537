package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrun/core"
)

func TestRunnerRewindResetsStateAndArtifacts(t *testing.T) {
	a, _ := newMockAgent(t, "")
	r := New("app", a)
	ctx := context.Background()
	sess := createSession(t, r)

	// Invocation 1 writes k1 and the first version of f1.
	v0, err := r.ArtifactService().SaveArtifact(ctx, "app", "user1", "session1", "f1", []byte("one"))
	require.NoError(t, err)
	ev1 := core.NewMessageEvent("inv-1", "assistant", "first")
	ev1.Actions.StateDelta = map[string]any{"k1": "v1"}
	ev1.Actions.ArtifactDelta = map[string]int{"f1": v0}
	_, err = r.SessionService().AppendEvent(ctx, sess, ev1)
	require.NoError(t, err)

	// Invocation 2 overwrites f1 and introduces f2 and k2.
	f1v1, err := r.ArtifactService().SaveArtifact(ctx, "app", "user1", "session1", "f1", []byte("two"))
	require.NoError(t, err)
	f2v0, err := r.ArtifactService().SaveArtifact(ctx, "app", "user1", "session1", "f2", []byte("new"))
	require.NoError(t, err)
	ev2 := core.NewMessageEvent("inv-2", "assistant", "second")
	ev2.Actions.StateDelta = map[string]any{"k2": "v2"}
	ev2.Actions.ArtifactDelta = map[string]int{"f1": f1v1, "f2": f2v0}
	_, err = r.SessionService().AppendEvent(ctx, sess, ev2)
	require.NoError(t, err)

	// Invocation 3 only touches state.
	ev3 := core.NewMessageEvent("inv-3", "assistant", "third")
	ev3.Actions.StateDelta = map[string]any{"k3": "v3"}
	_, err = r.SessionService().AppendEvent(ctx, sess, ev3)
	require.NoError(t, err)

	require.NoError(t, r.Rewind(ctx, "user1", "session1", "inv-2"))

	rewound, err := r.SessionService().GetSession(ctx, "app", "user1", "session1", nil)
	require.NoError(t, err)
	require.Len(t, rewound.Events, 1)
	assert.Equal(t, "v1", rewound.State["k1"])
	assert.NotContains(t, rewound.State, "k2")
	assert.NotContains(t, rewound.State, "k3")

	// f1 is truncated back to its surviving version.
	data, err := r.ArtifactService().LoadArtifact(ctx, "app", "user1", "session1", "f1", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), data)
	gone, err := r.ArtifactService().LoadArtifact(ctx, "app", "user1", "session1", "f1", &f1v1)
	require.NoError(t, err)
	assert.Nil(t, gone)

	// f2 was only written by the dropped invocation and is deleted.
	data, err = r.ArtifactService().LoadArtifact(ctx, "app", "user1", "session1", "f2", nil)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestRunnerRewindUnknownInvocation(t *testing.T) {
	a, _ := newMockAgent(t, "")
	r := New("app", a)
	createSession(t, r)

	err := r.Rewind(context.Background(), "user1", "session1", "no-such-invocation")
	assert.ErrorIs(t, err, core.ErrEventNotFound)
}

func TestRunnerRewindMissingSession(t *testing.T) {
	a, _ := newMockAgent(t, "")
	r := New("app", a)

	err := r.Rewind(context.Background(), "user1", "missing", "inv-1")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}
