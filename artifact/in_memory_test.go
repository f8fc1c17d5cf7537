package artifact

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrun/core"
)

// Interface compliance (compile-time assertion)
var _ core.ArtifactService = (*InMemoryService)(nil)

func TestInMemoryService_Versioning(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()

	v0, err := svc.SaveArtifact(ctx, "app", "user", "s1", "report.txt", []byte("first"))
	require.NoError(t, err)
	assert.Equal(t, 0, v0)

	v1, err := svc.SaveArtifact(ctx, "app", "user", "s1", "report.txt", []byte("second"))
	require.NoError(t, err)
	assert.Equal(t, 1, v1)

	// nil version loads the latest.
	data, err := svc.LoadArtifact(ctx, "app", "user", "s1", "report.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)

	zero := 0
	data, err = svc.LoadArtifact(ctx, "app", "user", "s1", "report.txt", &zero)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data)

	// Out of range version behaves like a missing artifact.
	five := 5
	data, err = svc.LoadArtifact(ctx, "app", "user", "s1", "report.txt", &five)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestInMemoryService_MissingReturnsNil(t *testing.T) {
	svc := NewInMemoryService()
	data, err := svc.LoadArtifact(context.Background(), "app", "user", "s1", "missing.txt", nil)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestInMemoryService_SaveLoadIsolation(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()

	data := []byte("hello")
	_, err := svc.SaveArtifact(ctx, "app", "user", "s1", "a.txt", data)
	require.NoError(t, err)
	data[0] = 'H'

	out, err := svc.LoadArtifact(ctx, "app", "user", "s1", "a.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))

	out[0] = 'x'
	out2, err := svc.LoadArtifact(ctx, "app", "user", "s1", "a.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out2))
}

func TestInMemoryService_UserScope(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()

	_, err := svc.SaveArtifact(ctx, "app", "user", "s1", "user:profile.json", []byte("{}"))
	require.NoError(t, err)
	_, err = svc.SaveArtifact(ctx, "app", "user", "s1", "local.txt", []byte("x"))
	require.NoError(t, err)

	// The user-scoped artifact is visible from another session of the same
	// user; the session-scoped one is not.
	data, err := svc.LoadArtifact(ctx, "app", "user", "s2", "user:profile.json", nil)
	require.NoError(t, err)
	assert.NotNil(t, data)
	data, err = svc.LoadArtifact(ctx, "app", "user", "s2", "local.txt", nil)
	require.NoError(t, err)
	assert.Nil(t, data)

	keys, err := svc.ListArtifactKeys(ctx, "app", "user", "s2")
	require.NoError(t, err)
	assert.Equal(t, []string{"user:profile.json"}, keys)

	keys, err = svc.ListArtifactKeys(ctx, "app", "user", "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"local.txt", "user:profile.json"}, keys)
}

func TestInMemoryService_Delete(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()

	_, err := svc.SaveArtifact(ctx, "app", "user", "s1", "a.txt", []byte("1"))
	require.NoError(t, err)
	require.NoError(t, svc.DeleteArtifact(ctx, "app", "user", "s1", "a.txt"))

	data, err := svc.LoadArtifact(ctx, "app", "user", "s1", "a.txt", nil)
	require.NoError(t, err)
	assert.Nil(t, data)

	// Deleting again is a no-op.
	require.NoError(t, svc.DeleteArtifact(ctx, "app", "user", "s1", "a.txt"))
}

func TestInMemoryService_TruncateVersions(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := svc.SaveArtifact(ctx, "app", "user", "s1", "a.txt", []byte(fmt.Sprintf("v%d", i)))
		require.NoError(t, err)
	}

	require.NoError(t, svc.TruncateVersions(ctx, "app", "user", "s1", "a.txt", 1))

	data, err := svc.LoadArtifact(ctx, "app", "user", "s1", "a.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), data)

	two := 2
	data, err = svc.LoadArtifact(ctx, "app", "user", "s1", "a.txt", &two)
	require.NoError(t, err)
	assert.Nil(t, data)

	// The next save continues the version sequence.
	v, err := svc.SaveArtifact(ctx, "app", "user", "s1", "a.txt", []byte("new"))
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	// Truncating below version zero removes the artifact entirely.
	require.NoError(t, svc.TruncateVersions(ctx, "app", "user", "s1", "a.txt", -1))
	data, err = svc.LoadArtifact(ctx, "app", "user", "s1", "a.txt", nil)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestInMemoryService_Concurrency(t *testing.T) {
	svc := NewInMemoryService()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := fmt.Sprintf("a%d.txt", i%10)
			if _, err := svc.SaveArtifact(ctx, "app", "user", "s1", name, []byte("data")); err != nil {
				t.Errorf("save err: %v", err)
			}
			_, _ = svc.ListArtifactKeys(ctx, "app", "user", "s1")
		}()
	}
	wg.Wait()

	keys, err := svc.ListArtifactKeys(ctx, "app", "user", "s1")
	require.NoError(t, err)
	assert.Len(t, keys, 10)
}
