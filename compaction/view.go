package compaction

import (
	"sort"

	"github.com/hupe1980/agentrun/core"
)

// FlattenForModel builds the model-visible event sequence: every compacted
// range is replaced by a synthetic event carrying its summary content, and
// events covered by any range are dropped. Events outside every range pass
// through unchanged. The result is ordered by timestamp, with summaries
// keyed by the end of the range they cover.
func FlattenForModel(events []core.Event) []core.Event {
	var compactions []core.Event
	for _, ev := range events {
		if ev.IsCompaction() {
			compactions = append(compactions, ev)
		}
	}
	if len(compactions) == 0 {
		return events
	}

	type entry struct {
		sortKey float64
		event   core.Event
	}
	var out []entry

	for _, ev := range events {
		if ev.IsCompaction() {
			continue
		}
		covered := false
		for _, c := range compactions {
			if c.Actions.Compaction.Covers(ev.Timestamp) {
				covered = true
				break
			}
		}
		if !covered {
			out = append(out, entry{sortKey: ev.Timestamp, event: ev})
		}
	}

	for _, c := range compactions {
		comp := c.Actions.Compaction
		summary := core.Event{
			ID:           c.ID,
			InvocationID: c.InvocationID,
			Author:       c.Author,
			Timestamp:    comp.EndTimestamp,
			Content:      comp.CompactedContent,
		}
		out = append(out, entry{sortKey: comp.EndTimestamp, event: summary})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].sortKey < out[j].sortKey })

	flattened := make([]core.Event, len(out))
	for i, e := range out {
		flattened[i] = e.event
	}
	return flattened
}

// ContentsForModel converts a flattened event sequence into the content list
// handed to a model request, skipping events without content.
func ContentsForModel(events []core.Event) []core.Content {
	var contents []core.Content
	for _, ev := range FlattenForModel(events) {
		if ev.Content == nil || len(ev.Content.Parts) == 0 {
			continue
		}
		contents = append(contents, *ev.Content)
	}
	return contents
}
