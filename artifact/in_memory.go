package artifact

import (
	"context"
	"sort"
	"sync"

	"github.com/hupe1980/agentrun/core"
)

// InMemoryService is an in-process, versioned ArtifactService useful for
// tests, examples and single-process prototypes. It keeps all artifact
// versions in a map keyed by the fully scoped path, guarded by an RWMutex.
// Data is copied on save and load to avoid accidental external mutation of
// internal buffers.
//
// This implementation is intentionally minimal; it does not enforce retention
// limits, size quotas, or eviction. For production, prefer a durable backend
// (e.g. S3 / GCS / database) that can scale and survive process restarts.
type InMemoryService struct {
	mu        sync.RWMutex
	artifacts map[string][][]byte // scoped path -> versions in order
}

// NewInMemoryService returns an empty in-memory artifact service.
func NewInMemoryService() *InMemoryService {
	return &InMemoryService{artifacts: make(map[string][][]byte)}
}

// artifactPath builds the storage key. User-scoped filenames (with the
// "user:" prefix) omit the session so every session of the user shares them.
func artifactPath(appName, userID, sessionID, filename string) string {
	if core.IsUserArtifact(filename) {
		return appName + "/" + userID + "/user/" + filename
	}
	return appName + "/" + userID + "/" + sessionID + "/" + filename
}

// SaveArtifact appends a new version of the artifact and returns its 0-based
// version number. The input slice is copied before storage.
func (a *InMemoryService) SaveArtifact(ctx context.Context, appName, userID, sessionID, filename string, data []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	path := artifactPath(appName, userID, sessionID, filename)
	cp := make([]byte, len(data))
	copy(cp, data)
	a.artifacts[path] = append(a.artifacts[path], cp)
	return len(a.artifacts[path]) - 1, nil
}

// LoadArtifact returns a copy of the requested version, or the latest when
// version is nil. A missing artifact or version yields (nil, nil).
func (a *InMemoryService) LoadArtifact(ctx context.Context, appName, userID, sessionID, filename string, version *int) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	versions, ok := a.artifacts[artifactPath(appName, userID, sessionID, filename)]
	if !ok || len(versions) == 0 {
		return nil, nil
	}
	idx := len(versions) - 1
	if version != nil {
		idx = *version
	}
	if idx < 0 || idx >= len(versions) {
		return nil, nil
	}
	cp := make([]byte, len(versions[idx]))
	copy(cp, versions[idx])
	return cp, nil
}

// ListArtifactKeys returns the sorted filenames visible to the session:
// session-scoped artifacts plus the user-scoped ones.
func (a *InMemoryService) ListArtifactKeys(ctx context.Context, appName, userID, sessionID string) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	sessionPrefix := appName + "/" + userID + "/" + sessionID + "/"
	userPrefix := appName + "/" + userID + "/user/"
	keys := []string{}
	for path := range a.artifacts {
		if len(a.artifacts[path]) == 0 {
			continue
		}
		switch {
		case len(path) > len(sessionPrefix) && path[:len(sessionPrefix)] == sessionPrefix:
			keys = append(keys, path[len(sessionPrefix):])
		case len(path) > len(userPrefix) && path[:len(userPrefix)] == userPrefix:
			keys = append(keys, path[len(userPrefix):])
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// DeleteArtifact removes all versions of the artifact. Deleting an absent
// artifact is a no-op.
func (a *InMemoryService) DeleteArtifact(ctx context.Context, appName, userID, sessionID, filename string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.artifacts, artifactPath(appName, userID, sessionID, filename))
	return nil
}

// TruncateVersions drops every version newer than afterVersion, so the
// artifact's latest version becomes afterVersion. Used when rewinding a
// session. A missing artifact or an afterVersion at or beyond the latest is
// a no-op.
func (a *InMemoryService) TruncateVersions(ctx context.Context, appName, userID, sessionID, filename string, afterVersion int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	path := artifactPath(appName, userID, sessionID, filename)
	versions, ok := a.artifacts[path]
	if !ok {
		return nil
	}
	if afterVersion < 0 {
		delete(a.artifacts, path)
		return nil
	}
	if afterVersion+1 < len(versions) {
		a.artifacts[path] = versions[:afterVersion+1]
	}
	return nil
}
