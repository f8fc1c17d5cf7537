package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrun/core"
)

// Interface compliance (compile-time assertions)
var (
	_ core.SessionService = (*InMemoryService)(nil)
	_ core.SessionService = (*SQLiteService)(nil)
)

func newServices(t *testing.T) map[string]core.SessionService {
	t.Helper()
	sqlite, err := NewSQLiteService(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]core.SessionService{
		"in_memory": NewInMemoryService(),
		"sqlite":    sqlite,
	}
}

func TestCreateAndGetSession(t *testing.T) {
	for name, svc := range newServices(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			sess, err := svc.CreateSession(ctx, "app", "user", "", map[string]any{"key": "value"})
			require.NoError(t, err)
			require.NotEmpty(t, sess.ID)

			got, err := svc.GetSession(ctx, "app", "user", sess.ID, nil)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "app", got.AppName)
			assert.Equal(t, "user", got.UserID)

			v, ok := got.GetState("key")
			require.True(t, ok)
			assert.Equal(t, "value", v)
		})
	}
}

func TestCreateSessionConflict(t *testing.T) {
	for name, svc := range newServices(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := svc.CreateSession(ctx, "app", "user", "s1", nil)
			require.NoError(t, err)

			_, err = svc.CreateSession(ctx, "app", "user", "s1", nil)
			require.ErrorIs(t, err, core.ErrAlreadyExists)

			// Same id under another user is fine.
			_, err = svc.CreateSession(ctx, "app", "other", "s1", nil)
			require.NoError(t, err)
		})
	}
}

func TestGetSessionAbsentReturnsNil(t *testing.T) {
	for name, svc := range newServices(t) {
		t.Run(name, func(t *testing.T) {
			got, err := svc.GetSession(context.Background(), "app", "user", "missing", nil)
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestStateScopes(t *testing.T) {
	for name, svc := range newServices(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			s1, err := svc.CreateSession(ctx, "app", "user", "s1", map[string]any{
				"app:theme":  "dark",
				"user:lang":  "en",
				"local":      1.0,
				"temp:draft": "never stored",
			})
			require.NoError(t, err)

			// Merged view keeps the prefixes; temp keys are dropped.
			v, ok := s1.GetState("app:theme")
			require.True(t, ok)
			assert.Equal(t, "dark", v)
			v, ok = s1.GetState("user:lang")
			require.True(t, ok)
			assert.Equal(t, "en", v)
			_, ok = s1.GetState("temp:draft")
			assert.False(t, ok)

			// A sibling session of the same user inherits app and user scopes
			// but not session-local state.
			s2, err := svc.CreateSession(ctx, "app", "user", "s2", nil)
			require.NoError(t, err)
			_, ok = s2.GetState("app:theme")
			assert.True(t, ok)
			_, ok = s2.GetState("user:lang")
			assert.True(t, ok)
			_, ok = s2.GetState("local")
			assert.False(t, ok)

			// Another user of the same app sees app scope only.
			s3, err := svc.CreateSession(ctx, "app", "other", "s3", nil)
			require.NoError(t, err)
			_, ok = s3.GetState("app:theme")
			assert.True(t, ok)
			_, ok = s3.GetState("user:lang")
			assert.False(t, ok)
		})
	}
}

func TestAppendEvent(t *testing.T) {
	for name, svc := range newServices(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			sess, err := svc.CreateSession(ctx, "app", "user", "s1", nil)
			require.NoError(t, err)

			ev := core.NewUserMessageEvent("inv1", "hello")
			ev.Actions.StateDelta = map[string]any{"greeted": true}
			appended, err := svc.AppendEvent(ctx, sess, ev)
			require.NoError(t, err)
			assert.NotZero(t, appended.Timestamp)

			got, err := svc.GetSession(ctx, "app", "user", "s1", nil)
			require.NoError(t, err)
			require.Len(t, got.Events, 1)
			assert.Equal(t, "inv1", got.Events[0].InvocationID)
			assert.Equal(t, appended.Timestamp, got.LastUpdateTime)

			v, ok := got.GetState("greeted")
			require.True(t, ok)
			assert.Equal(t, true, v)
		})
	}
}

func TestAppendEventPartialNotPersisted(t *testing.T) {
	for name, svc := range newServices(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			sess, err := svc.CreateSession(ctx, "app", "user", "s1", nil)
			require.NoError(t, err)

			partial := true
			ev := core.NewMessageEvent("inv1", "agent", "chunk")
			ev.Partial = &partial
			_, err = svc.AppendEvent(ctx, sess, ev)
			require.NoError(t, err)

			got, err := svc.GetSession(ctx, "app", "user", "s1", nil)
			require.NoError(t, err)
			assert.Empty(t, got.Events)
		})
	}
}

func TestAppendEventTempKeysNotPersisted(t *testing.T) {
	for name, svc := range newServices(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			sess, err := svc.CreateSession(ctx, "app", "user", "s1", nil)
			require.NoError(t, err)

			ev := core.NewMessageEvent("inv1", "agent", "done")
			ev.Actions.StateDelta = map[string]any{"temp:scratch": 42, "kept": "yes"}
			appended, err := svc.AppendEvent(ctx, sess, ev)
			require.NoError(t, err)

			// The caller's working session sees the temp key.
			_, ok := sess.GetState("temp:scratch")
			assert.True(t, ok)

			// The persisted event delta does not.
			_, ok = appended.Actions.StateDelta["temp:scratch"]
			assert.False(t, ok)

			got, err := svc.GetSession(ctx, "app", "user", "s1", nil)
			require.NoError(t, err)
			_, ok = got.GetState("temp:scratch")
			assert.False(t, ok)
			_, ok = got.GetState("kept")
			assert.True(t, ok)
			require.Len(t, got.Events, 1)
			_, ok = got.Events[0].Actions.StateDelta["temp:scratch"]
			assert.False(t, ok)
		})
	}
}

func TestGetSessionConfigFilters(t *testing.T) {
	for name, svc := range newServices(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			sess, err := svc.CreateSession(ctx, "app", "user", "s1", nil)
			require.NoError(t, err)

			var timestamps []float64
			for i := 0; i < 5; i++ {
				ev := core.NewMessageEvent("inv", "agent", "msg")
				ev.Timestamp = float64(100 + i)
				appended, err := svc.AppendEvent(ctx, sess, ev)
				require.NoError(t, err)
				timestamps = append(timestamps, appended.Timestamp)
			}

			got, err := svc.GetSession(ctx, "app", "user", "s1", &core.GetSessionConfig{NumRecentEvents: 3})
			require.NoError(t, err)
			require.Len(t, got.Events, 3)
			assert.Equal(t, timestamps[2], got.Events[0].Timestamp)

			// AfterTimestamp keeps events at or after the value.
			got, err = svc.GetSession(ctx, "app", "user", "s1", &core.GetSessionConfig{AfterTimestamp: timestamps[3]})
			require.NoError(t, err)
			require.Len(t, got.Events, 2)

			// Filters compose: recency first, then the timestamp floor.
			got, err = svc.GetSession(ctx, "app", "user", "s1", &core.GetSessionConfig{
				NumRecentEvents: 2,
				AfterTimestamp:  timestamps[4],
			})
			require.NoError(t, err)
			require.Len(t, got.Events, 1)
			assert.Equal(t, timestamps[4], got.Events[0].Timestamp)
		})
	}
}

func TestListSessions(t *testing.T) {
	for name, svc := range newServices(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			s1, err := svc.CreateSession(ctx, "app", "alice", "s1", nil)
			require.NoError(t, err)
			_, err = svc.CreateSession(ctx, "app", "alice", "s2", nil)
			require.NoError(t, err)
			_, err = svc.CreateSession(ctx, "app", "bob", "s3", nil)
			require.NoError(t, err)

			_, err = svc.AppendEvent(ctx, s1, core.NewUserMessageEvent("inv1", "hi"))
			require.NoError(t, err)

			list, err := svc.ListSessions(ctx, "app", "alice")
			require.NoError(t, err)
			require.Len(t, list, 2)
			for _, s := range list {
				assert.Empty(t, s.Events)
			}

			all, err := svc.ListSessions(ctx, "app", "")
			require.NoError(t, err)
			assert.Len(t, all, 3)
		})
	}
}

func TestDeleteSession(t *testing.T) {
	for name, svc := range newServices(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := svc.CreateSession(ctx, "app", "user", "s1", nil)
			require.NoError(t, err)
			require.NoError(t, svc.DeleteSession(ctx, "app", "user", "s1"))

			got, err := svc.GetSession(ctx, "app", "user", "s1", nil)
			require.NoError(t, err)
			assert.Nil(t, got)

			// Deleting again is a no-op.
			require.NoError(t, svc.DeleteSession(ctx, "app", "user", "s1"))
		})
	}
}

func TestRewindSession(t *testing.T) {
	for name, svc := range newServices(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			sess, err := svc.CreateSession(ctx, "app", "user", "s1", map[string]any{"counter": float64(0)})
			require.NoError(t, err)

			appendWithDelta := func(invocationID string, delta map[string]any) {
				ev := core.NewMessageEvent(invocationID, "agent", "step")
				ev.Actions.StateDelta = delta
				_, err := svc.AppendEvent(ctx, sess, ev)
				require.NoError(t, err)
			}

			appendWithDelta("inv1", map[string]any{"counter": float64(1)})
			appendWithDelta("inv2", map[string]any{"counter": float64(2), "flag": "set"})
			appendWithDelta("inv3", map[string]any{"counter": float64(3)})

			rewound, dropped, err := svc.RewindSession(ctx, "app", "user", "s1", "inv2")
			require.NoError(t, err)
			require.Len(t, dropped, 2)
			assert.Equal(t, "inv2", dropped[0].InvocationID)
			assert.Equal(t, "inv3", dropped[1].InvocationID)

			require.Len(t, rewound.Events, 1)
			v, ok := rewound.GetState("counter")
			require.True(t, ok)
			assert.Equal(t, float64(1), v)
			_, ok = rewound.GetState("flag")
			assert.False(t, ok)

			// Rewinding survives a fresh read.
			got, err := svc.GetSession(ctx, "app", "user", "s1", nil)
			require.NoError(t, err)
			require.Len(t, got.Events, 1)
			v, _ = got.GetState("counter")
			assert.Equal(t, float64(1), v)
		})
	}
}

func TestRewindSessionToStart(t *testing.T) {
	for name, svc := range newServices(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			sess, err := svc.CreateSession(ctx, "app", "user", "s1", map[string]any{"base": "kept"})
			require.NoError(t, err)

			ev := core.NewUserMessageEvent("inv1", "hello")
			ev.Actions.StateDelta = map[string]any{"later": true}
			_, err = svc.AppendEvent(ctx, sess, ev)
			require.NoError(t, err)

			rewound, dropped, err := svc.RewindSession(ctx, "app", "user", "s1", "inv1")
			require.NoError(t, err)
			require.Len(t, dropped, 1)
			assert.Empty(t, rewound.Events)

			v, ok := rewound.GetState("base")
			require.True(t, ok)
			assert.Equal(t, "kept", v)
			_, ok = rewound.GetState("later")
			assert.False(t, ok)
		})
	}
}

func TestRewindSessionUnknownInvocation(t *testing.T) {
	for name, svc := range newServices(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := svc.CreateSession(ctx, "app", "user", "s1", nil)
			require.NoError(t, err)

			_, _, err = svc.RewindSession(ctx, "app", "user", "s1", "missing")
			require.ErrorIs(t, err, core.ErrEventNotFound)
		})
	}
}

func TestGetSessionReturnsIsolatedCopy(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()

	_, err := svc.CreateSession(ctx, "app", "user", "s1", map[string]any{"k": "v"})
	require.NoError(t, err)

	got, err := svc.GetSession(ctx, "app", "user", "s1", nil)
	require.NoError(t, err)
	got.ApplyStateDelta(map[string]any{"k": "mutated"})

	fresh, err := svc.GetSession(ctx, "app", "user", "s1", nil)
	require.NoError(t, err)
	v, _ := fresh.GetState("k")
	assert.Equal(t, "v", v)
}
