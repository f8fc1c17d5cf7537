// Package artifact contains concrete implementations of core.ArtifactService.
//
// The canonical ArtifactService interface lives in the core package to avoid
// dependency cycles and keep domain contracts central. Implementation packages
// like this one (in-memory, cloud object stores, databases, etc.) provide
// versioned storage backends that can be swapped without touching calling
// code.
//
// Artifacts are versioned: each save of a filename appends a new version with
// a 0-based, monotonically increasing number. Filenames carrying a "user:"
// prefix are scoped to the user and shared across that user's sessions; all
// other filenames are scoped to one session. The package also provides the
// artifact:// URI scheme helpers used to reference a specific version.
package artifact
