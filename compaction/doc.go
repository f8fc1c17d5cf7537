// Package compaction shrinks long session logs by replacing runs of events
// with model-generated summaries.
//
// A Compactor turns a slice of events into a single summary event whose
// Actions.Compaction records the covered timestamp range. The Driver decides
// when to compact: it partitions the log into invocations, finds the range
// not yet covered by a previous compaction, and triggers once enough new
// invocations (or tokens) have accumulated, re-summarizing a configurable
// overlap window for continuity. FlattenForModel produces the model-visible
// view in which compacted ranges are replaced by their summaries.
//
// Compaction never mutates or removes persisted events; summaries are
// ordinary events appended to the same log.
package compaction
