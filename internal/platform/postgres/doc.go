// Package postgres persists terminal task snapshots for retention beyond
// the in-memory store's lifetime. Retention policy (TTL, cleanup) belongs
// to whoever reads the archive, not to the pipeline.
package postgres
