package core

import (
	"context"
	"strings"
)

// ArtifactService stores versioned binary artifacts scoped by
// (appName, userID, sessionID, filename). Saving a filename appends a new
// version; versions are 0-based and monotonically increasing per filename.
// Filenames carrying the "user:" prefix are scoped to the user instead of a
// single session and are visible from every session of that user.
//
// Implementations must be safe for concurrent use. Absence is reported as a
// nil blob from LoadArtifact, not an error.
type ArtifactService interface {
	// SaveArtifact stores a new version of the artifact and returns its
	// version number.
	SaveArtifact(ctx context.Context, appName, userID, sessionID, filename string, data []byte) (int, error)

	// LoadArtifact returns the requested version, or the latest when version
	// is nil. A missing artifact or version yields nil, nil.
	LoadArtifact(ctx context.Context, appName, userID, sessionID, filename string, version *int) ([]byte, error)

	// ListArtifactKeys returns the filenames visible to the session (both
	// session-scoped and user-scoped), sorted.
	ListArtifactKeys(ctx context.Context, appName, userID, sessionID string) ([]string, error)

	// DeleteArtifact removes the artifact and all of its versions.
	DeleteArtifact(ctx context.Context, appName, userID, sessionID, filename string) error

	// TruncateVersions drops every version newer than afterVersion, making
	// afterVersion the live version again. Rewind uses this to reset a
	// filename to the version recorded by the last surviving artifact delta.
	TruncateVersions(ctx context.Context, appName, userID, sessionID, filename string, afterVersion int) error
}

// ArtifactUserPrefix marks filenames stored in the user scope rather than the
// session scope.
const ArtifactUserPrefix = "user:"

// IsUserArtifact reports whether the filename is user-scoped.
func IsUserArtifact(filename string) bool { return strings.HasPrefix(filename, ArtifactUserPrefix) }
