// Package api implements the HTTP control surface over the generation
// pipeline. It is a thin external collaborator of the pipeline core:
// requests become events, queries read snapshots, and the event stream is
// served straight off the progress broadcaster.
package api
