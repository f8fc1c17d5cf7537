package compaction

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/model"
)

// CompactorAuthor is the author recorded on summary events.
const CompactorAuthor = "compactor"

// Compactor condenses a run of events into one summary event. A nil result
// (without error) means there was nothing to summarize.
type Compactor interface {
	Summarize(ctx context.Context, events []core.Event) (*core.Event, error)
}

const summarizationInstructions = `You are a conversation summarizer. Condense the transcript below into a concise summary that preserves:
- decisions made and their reasons
- facts, names and values that were established
- unresolved questions and pending work

Reply with the summary only.`

// SlidingWindowCompactor summarizes event windows with a single
// non-streaming model request. The transcript presented to the model is one
// "author: text" line per text-bearing event; events without text are
// skipped.
type SlidingWindowCompactor struct {
	model        model.Model
	instructions string
}

// SlidingWindowCompactorOption configures a SlidingWindowCompactor.
type SlidingWindowCompactorOption func(*SlidingWindowCompactor)

// WithInstructions overrides the default summarization instructions.
func WithInstructions(instructions string) SlidingWindowCompactorOption {
	return func(c *SlidingWindowCompactor) { c.instructions = instructions }
}

// NewSlidingWindowCompactor creates a compactor backed by the given model.
func NewSlidingWindowCompactor(m model.Model, opts ...SlidingWindowCompactorOption) *SlidingWindowCompactor {
	c := &SlidingWindowCompactor{model: m, instructions: summarizationInstructions}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Summarize implements Compactor. Empty input returns nil without invoking
// the model. The summary event's Compaction range spans the first and last
// input event timestamps, and its content role is normalized to "user" so
// the summary reads as conversation context on replay.
func (c *SlidingWindowCompactor) Summarize(ctx context.Context, events []core.Event) (*core.Event, error) {
	if len(events) == 0 {
		return nil, nil
	}

	var lines []string
	for _, ev := range events {
		text := ev.Content.Text()
		if text == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", ev.Author, text))
	}

	req := model.Request{
		Instructions: c.instructions,
		Contents: []core.Content{
			*core.NewTextContent("user", strings.Join(lines, "\n")),
		},
	}
	summary, err := model.GenerateContent(ctx, c.model, req)
	if err != nil {
		return nil, fmt.Errorf("summarize events: %w", err)
	}
	if summary == nil {
		return nil, nil
	}
	summary.Role = "user"

	ev := core.NewEvent(events[0].InvocationID, CompactorAuthor)
	ev.Actions.Compaction = &core.EventCompaction{
		StartTimestamp:   events[0].Timestamp,
		EndTimestamp:     events[len(events)-1].Timestamp,
		CompactedContent: summary,
	}
	return &ev, nil
}
