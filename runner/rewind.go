package runner

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentrun/core"
)

// Rewind removes the invocation identified by beforeInvocationID and
// everything after it from the session, resetting artifact versions to match
// the surviving history: a filename whose latest surviving delta recorded
// version V is truncated back to V; a filename only ever written by dropped
// events is deleted entirely. The artifact resets are applied before the
// session log truncation commits, so a successful return leaves both stores
// consistent.
//
// ErrEventNotFound is returned when the invocation does not occur in the
// session, ErrSessionNotFound when the session does not exist.
func (r *Runner) Rewind(ctx context.Context, userID, sessionID, beforeInvocationID string) error {
	sess, err := r.sessionService.GetSession(ctx, r.appName, userID, sessionID, nil)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	if sess == nil {
		return core.ErrSessionNotFound
	}

	events := sess.GetEvents()
	cut := -1
	for i, ev := range events {
		if ev.InvocationID == beforeInvocationID {
			cut = i
			break
		}
	}
	if cut < 0 {
		return core.ErrEventNotFound
	}

	if err := r.resetArtifacts(ctx, userID, sessionID, events[:cut], events[cut:]); err != nil {
		return fmt.Errorf("failed to reset artifacts: %w", err)
	}

	if _, _, err := r.sessionService.RewindSession(ctx, r.appName, userID, sessionID, beforeInvocationID); err != nil {
		return err
	}

	r.logger.Info("session rewound",
		"session_id", sessionID,
		"before_invocation", beforeInvocationID,
		"dropped_events", len(events)-cut,
	)
	return nil
}

// resetArtifacts undoes the artifact writes recorded by the dropped events.
func (r *Runner) resetArtifacts(ctx context.Context, userID, sessionID string, surviving, dropped []core.Event) error {
	seen := map[string]bool{}
	for _, ev := range dropped {
		for filename := range ev.Actions.ArtifactDelta {
			if seen[filename] {
				continue
			}
			seen[filename] = true

			version, ok := latestSurvivingVersion(surviving, filename)
			if ok {
				if err := r.artifactService.TruncateVersions(ctx, r.appName, userID, sessionID, filename, version); err != nil {
					return fmt.Errorf("failed to truncate %s to version %d: %w", filename, version, err)
				}
				continue
			}
			if err := r.artifactService.DeleteArtifact(ctx, r.appName, userID, sessionID, filename); err != nil {
				return fmt.Errorf("failed to delete %s: %w", filename, err)
			}
		}
	}
	return nil
}

// latestSurvivingVersion returns the version recorded by the most recent
// surviving delta for the filename.
func latestSurvivingVersion(surviving []core.Event, filename string) (int, bool) {
	for i := len(surviving) - 1; i >= 0; i-- {
		if v, ok := surviving[i].Actions.ArtifactDelta[filename]; ok {
			return v, true
		}
	}
	return 0, false
}
