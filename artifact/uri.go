package artifact

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hupe1980/agentrun/core"
)

// URIScheme is the scheme used for artifact version references.
const URIScheme = "artifact://"

// Ref identifies one version of one artifact.
type Ref struct {
	AppName  string
	UserID   string
	SessionID string // empty for user-scoped artifacts
	Filename string
	Version  int
}

// BuildURI renders the canonical reference for an artifact version:
//
//	artifact://apps/{app}/users/{user}/sessions/{session}/artifacts/{filename}/versions/{version}
//
// User-scoped filenames (with the "user:" prefix) omit the sessions segment.
func BuildURI(appName, userID, sessionID, filename string, version int) string {
	if core.IsUserArtifact(filename) {
		return fmt.Sprintf("%sapps/%s/users/%s/artifacts/%s/versions/%d",
			URIScheme, appName, userID, filename, version)
	}
	return fmt.Sprintf("%sapps/%s/users/%s/sessions/%s/artifacts/%s/versions/%d",
		URIScheme, appName, userID, sessionID, filename, version)
}

// ParseURI decodes an artifact URI. Malformed input yields nil, not an error:
// references come from model output and stored metadata, so a bad reference
// means "no artifact", not a failure.
func ParseURI(uri string) *Ref {
	if !strings.HasPrefix(uri, URIScheme) {
		return nil
	}
	parts := strings.Split(strings.TrimPrefix(uri, URIScheme), "/")

	// Either apps/a/users/u/artifacts/f/versions/v (8 segments) or
	// apps/a/users/u/sessions/s/artifacts/f/versions/v (10 segments).
	var ref Ref
	switch {
	case len(parts) == 8 && parts[0] == "apps" && parts[2] == "users" && parts[4] == "artifacts" && parts[6] == "versions":
		ref = Ref{AppName: parts[1], UserID: parts[3], Filename: parts[5]}
		v, err := strconv.Atoi(parts[7])
		if err != nil {
			return nil
		}
		ref.Version = v
	case len(parts) == 10 && parts[0] == "apps" && parts[2] == "users" && parts[4] == "sessions" && parts[6] == "artifacts" && parts[8] == "versions":
		ref = Ref{AppName: parts[1], UserID: parts[3], SessionID: parts[5], Filename: parts[7]}
		v, err := strconv.Atoi(parts[9])
		if err != nil {
			return nil
		}
		ref.Version = v
	default:
		return nil
	}
	if ref.AppName == "" || ref.UserID == "" || ref.Filename == "" {
		return nil
	}
	return &ref
}

// LoadFromURI resolves an artifact URI against the service. A malformed URI
// yields (nil, nil) just like a missing artifact.
func LoadFromURI(ctx context.Context, svc core.ArtifactService, uri string) ([]byte, error) {
	ref := ParseURI(uri)
	if ref == nil {
		return nil, nil
	}
	version := ref.Version
	return svc.LoadArtifact(ctx, ref.AppName, ref.UserID, ref.SessionID, ref.Filename, &version)
}
