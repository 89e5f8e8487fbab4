package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/webtoonlab/panelgen/internal/domain"
	"github.com/webtoonlab/panelgen/internal/generation"
)

// StoryStageExecutor runs a single story-decomposition attempt against the
// language-generation capability. It performs exactly one provider call per
// Execute, bounded by the configured timeout; retrying is the retry
// policy's job, never the executor's.
type StoryStageExecutor struct {
	generator generation.StoryGenerator
	timeout   time.Duration
	logger    *slog.Logger
}

// NewStoryStageExecutor creates an executor with the given per-attempt timeout.
func NewStoryStageExecutor(
	generator generation.StoryGenerator,
	timeout time.Duration,
	logger *slog.Logger,
) *StoryStageExecutor {
	return &StoryStageExecutor{
		generator: generator,
		timeout:   timeout,
		logger:    logger.With("component", "story_stage_executor"),
	}
}

// Execute performs one decomposition attempt. A timeout is reported as a
// transient failure so the retry policy re-attempts it.
func (e *StoryStageExecutor) Execute(
	ctx context.Context,
	prompt string,
	panelCountHint int,
) ([]domain.PanelSpec, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	specs, err := e.generator.DecomposeStory(attemptCtx, prompt, panelCountHint)
	if err != nil {
		return nil, classifyAttemptError(ctx, attemptCtx, err)
	}

	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: decomposition produced no panels", generation.ErrInvalidResponse)
	}

	e.logger.DebugContext(ctx, "story decomposed", "panel_count", len(specs))
	return specs, nil
}

// PanelStageExecutor runs a single panel-image attempt against the
// image-generation capability. Same contract as StoryStageExecutor.
type PanelStageExecutor struct {
	generator generation.ImageGenerator
	timeout   time.Duration
	logger    *slog.Logger
}

// NewPanelStageExecutor creates an executor with the given per-attempt timeout.
func NewPanelStageExecutor(
	generator generation.ImageGenerator,
	timeout time.Duration,
	logger *slog.Logger,
) *PanelStageExecutor {
	return &PanelStageExecutor{
		generator: generator,
		timeout:   timeout,
		logger:    logger.With("component", "panel_stage_executor"),
	}
}

// Execute performs one image-generation attempt for the panel.
func (e *PanelStageExecutor) Execute(ctx context.Context, spec domain.PanelSpec) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	imageRef, err := e.generator.GeneratePanelImage(attemptCtx, spec)
	if err != nil {
		return "", classifyAttemptError(ctx, attemptCtx, err)
	}

	if imageRef == "" {
		return "", fmt.Errorf("%w: provider returned empty image reference", generation.ErrInvalidResponse)
	}

	e.logger.DebugContext(ctx, "panel image generated", "panel_index", spec.Index)
	return imageRef, nil
}

// classifyAttemptError normalizes attempt errors. An expired attempt
// deadline (while the parent is still live) means the stage timeout fired:
// that is a transient failure. Parent cancellation passes through so the
// coordinator can tell a cancelled task from a slow provider.
func classifyAttemptError(parent, attempt context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(attempt.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: stage timed out: %v", generation.ErrTransientFailure, err)
	}
	return err
}
