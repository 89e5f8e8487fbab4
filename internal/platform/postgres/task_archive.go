package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/webtoonlab/panelgen/internal/domain"
)

// TaskArchive is a snapshot listener that upserts terminal task snapshots
// into Postgres. Non-terminal snapshots are ignored; the live state of a
// task belongs to the in-memory store.
type TaskArchive struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewTaskArchive creates an archive writing through the given pool.
func NewTaskArchive(pool *pgxpool.Pool, logger *slog.Logger) *TaskArchive {
	return &TaskArchive{
		pool:   pool,
		logger: logger.With("component", "task_archive"),
	}
}

// OnSnapshot archives the snapshot if it is terminal. The full snapshot is
// stored as JSONB next to the columns queried by retention tooling.
func (a *TaskArchive) OnSnapshot(ctx context.Context, snapshot *domain.GenerationTask) error {
	if !snapshot.IsTerminal() {
		return nil
	}

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal task snapshot: %w", err)
	}

	_, err = a.pool.Exec(ctx, `
		INSERT INTO generation_task_archive
			(id, status, progress, prompt, snapshot, created_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			snapshot = EXCLUDED.snapshot,
			completed_at = EXCLUDED.completed_at`,
		snapshot.ID,
		string(snapshot.Status),
		snapshot.Progress,
		snapshot.Prompt,
		payload,
		snapshot.CreatedAt,
		snapshot.StartedAt,
		snapshot.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to archive task %s: %w", snapshot.ID, err)
	}

	a.logger.DebugContext(ctx, "task snapshot archived",
		"task_id", snapshot.ID,
		"status", snapshot.Status)
	return nil
}
