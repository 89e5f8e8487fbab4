// Package task implements the generation pipeline core: the authoritative
// task state store, the stage executors and retry policy, the bounded
// worker pool, the coordinator state machine that drives a task from story
// decomposition through panel fan-out to aggregation, and the progress
// broadcaster that streams task snapshots to subscribers.
package task
