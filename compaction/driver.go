package compaction

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/logging"
)

// Config tunes the compaction trigger.
type Config struct {
	// Interval is the number of fully new (uncompacted) invocations that
	// triggers a compaction pass.
	Interval int
	// OverlapSize is how many already-compacted invocations are
	// re-summarized together with the new ones for continuity.
	OverlapSize int
	// TokenBudget optionally triggers compaction early when the uncompacted
	// transcript exceeds this many tokens. Zero disables the budget check;
	// it requires a TokenCounter.
	TokenBudget int
}

// Driver applies the sliding-window compaction policy to a session log. It
// is stateless between calls: the already-compacted boundary is rediscovered
// from the log itself on every run.
type Driver struct {
	compactor Compactor
	service   core.SessionService
	config    Config
	counter   TokenCounter
	logger    logging.Logger
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithTokenCounter enables the token budget trigger.
func WithTokenCounter(counter TokenCounter) DriverOption {
	return func(d *Driver) { d.counter = counter }
}

// WithDriverLogger sets the logger used by the driver.
func WithDriverLogger(l logging.Logger) DriverOption {
	return func(d *Driver) { d.logger = l }
}

// NewDriver wires a compactor and session service under the given config.
func NewDriver(compactor Compactor, service core.SessionService, config Config, opts ...DriverOption) *Driver {
	d := &Driver{
		compactor: compactor,
		service:   service,
		config:    config,
		logger:    logging.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// invocation groups the consecutive events sharing one invocation id, in
// first-seen order.
type invocation struct {
	id     string
	events []core.Event
}

// Run inspects the session log and, when the trigger condition holds,
// summarizes the window of new invocations (plus the configured overlap) and
// appends the summary event to the session. A session without events is a
// no-op and never reaches the compactor.
func (d *Driver) Run(ctx context.Context, session *core.Session) error {
	events := session.GetEvents()
	if len(events) == 0 {
		return nil
	}

	boundary := compactedBoundary(events)
	invocations := partitionInvocations(events)

	firstNew := -1
	for i, inv := range invocations {
		if invocationAfter(inv, boundary) {
			firstNew = i
			break
		}
	}
	if firstNew < 0 {
		return nil
	}
	newInvocations := invocations[firstNew:]

	if !d.shouldCompact(newInvocations) {
		return nil
	}

	start := firstNew - d.config.OverlapSize
	if start < 0 {
		start = 0
	}
	var window []core.Event
	for _, inv := range invocations[start:] {
		window = append(window, inv.events...)
	}

	began := time.Now()
	summary, err := d.compactor.Summarize(ctx, window)
	if err != nil {
		return fmt.Errorf("compaction: %w", err)
	}
	if summary == nil {
		return nil
	}
	if _, err := d.service.AppendEvent(ctx, session, *summary); err != nil {
		return fmt.Errorf("append compaction event: %w", err)
	}

	d.logger.Info("compaction completed",
		"session_id", session.ID,
		"compacted_events", len(window),
		"duration", time.Since(began),
	)
	return nil
}

// shouldCompact evaluates the invocation interval and optional token budget.
func (d *Driver) shouldCompact(newInvocations []invocation) bool {
	if d.config.Interval > 0 && len(newInvocations) >= d.config.Interval {
		return true
	}
	if d.config.TokenBudget > 0 && d.counter != nil {
		var events []core.Event
		for _, inv := range newInvocations {
			events = append(events, inv.events...)
		}
		tokens, err := CountEventTokens(d.counter, events)
		if err != nil {
			d.logger.Warn("token count failed", "error", err)
			return false
		}
		if tokens > d.config.TokenBudget {
			return true
		}
	}
	return false
}

// compactedBoundary returns the EndTimestamp of the latest compaction event,
// or zero when the log has never been compacted.
func compactedBoundary(events []core.Event) float64 {
	boundary := 0.0
	for _, ev := range events {
		if ev.IsCompaction() && ev.Actions.Compaction.EndTimestamp > boundary {
			boundary = ev.Actions.Compaction.EndTimestamp
		}
	}
	return boundary
}

// partitionInvocations groups non-compaction events by invocation id in
// first-seen order. Compaction events are bookkeeping, not conversation, and
// never count as invocation members.
func partitionInvocations(events []core.Event) []invocation {
	var out []invocation
	index := map[string]int{}
	for _, ev := range events {
		if ev.IsCompaction() {
			continue
		}
		i, ok := index[ev.InvocationID]
		if !ok {
			i = len(out)
			index[ev.InvocationID] = i
			out = append(out, invocation{id: ev.InvocationID})
		}
		out[i].events = append(out[i].events, ev)
	}
	return out
}

// invocationAfter reports whether every event of the invocation is strictly
// newer than the boundary.
func invocationAfter(inv invocation, boundary float64) bool {
	for _, ev := range inv.events {
		if ev.Timestamp <= boundary {
			return false
		}
	}
	return true
}
