// Package events decouples producers of generation work from the pipeline
// that executes it. The HTTP layer emits a generation-requested event with
// a pre-assigned task id; the pipeline's handler picks it up and submits
// the task, so neither side imports the other.
package events
