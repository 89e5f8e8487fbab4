package task

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/webtoonlab/panelgen/internal/domain"
	"github.com/webtoonlab/panelgen/internal/generation"
)

// panelProgressCeiling caps panel-driven progress below 100: the final
// 100.0 is only ever written by the aggregation step on completion, which
// keeps "progress == 100 iff completed" true for failed tasks whose panel
// stages all reached a terminal status.
const panelProgressCeiling = 99.0

// defaultPanelCountHint is used when a request does not say how many panels
// it wants.
const defaultPanelCountHint = 6

// CoordinatorConfig holds the pipeline-level tunables.
type CoordinatorConfig struct {
	// MaxPanels bounds how many panel stages a single decomposition may
	// fan out to.
	MaxPanels int
}

// DefaultCoordinatorConfig returns the coordinator defaults.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		MaxPanels: 12,
	}
}

// GenerationRequest is a submission to the pipeline. ID may be pre-assigned
// by the caller (the event path does this so submitters learn the task id
// synchronously); a nil ID gets a fresh one.
type GenerationRequest struct {
	ID             uuid.UUID
	Prompt         string
	ArtStyle       string
	PanelCountHint int
}

// Coordinator owns the directed stage sequence of every generation task:
// a sequential story-decomposition stage, a fail-soft fan-out over panel
// stages on the shared worker pool, and a single aggregation step once all
// panels are terminal. It is the only writer of task state.
type Coordinator struct {
	store     StateStore
	storyExec *StoryStageExecutor
	panelExec *PanelStageExecutor
	retry     *RetryPolicy
	pool      *WorkerPool
	config    CoordinatorConfig
	logger    *slog.Logger

	mu      sync.Mutex
	running map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
}

// NewCoordinator wires a coordinator from its collaborators. The store,
// executors, retry policy, and pool are injected so tests can substitute
// any of them.
func NewCoordinator(
	store StateStore,
	storyExec *StoryStageExecutor,
	panelExec *PanelStageExecutor,
	retry *RetryPolicy,
	pool *WorkerPool,
	config CoordinatorConfig,
	logger *slog.Logger,
) *Coordinator {
	defaults := DefaultCoordinatorConfig()
	if config.MaxPanels <= 0 {
		config.MaxPanels = defaults.MaxPanels
	}

	return &Coordinator{
		store:     store,
		storyExec: storyExec,
		panelExec: panelExec,
		retry:     retry,
		pool:      pool,
		config:    config,
		logger:    logger.With("component", "pipeline_coordinator"),
		running:   make(map[uuid.UUID]context.CancelFunc),
	}
}

// Submit accepts a generation request, creates its task in pending state,
// and starts the pipeline in the background. Returns the task id.
func (c *Coordinator) Submit(ctx context.Context, req GenerationRequest) (uuid.UUID, error) {
	if req.PanelCountHint <= 0 {
		req.PanelCountHint = defaultPanelCountHint
	}
	if req.PanelCountHint > c.config.MaxPanels {
		req.PanelCountHint = c.config.MaxPanels
	}

	t, err := domain.NewGenerationTask(req.Prompt, req.ArtStyle, req.PanelCountHint)
	if err != nil {
		return uuid.Nil, err
	}
	if req.ID != uuid.Nil {
		t.ID = req.ID
	}

	if err := c.store.Create(ctx, t); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create task: %w", err)
	}

	// The task outlives the submitting request, so its context is rooted
	// at Background rather than ctx.
	taskCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.running[t.ID] = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.unregister(t.ID)
		c.run(taskCtx, t.ID, req)
	}()

	c.logger.InfoContext(ctx, "generation task submitted",
		"task_id", t.ID,
		"panel_count_hint", req.PanelCountHint)
	return t.ID, nil
}

// Cancel requests cooperative cancellation of a running task. Cancelling a
// task that already reached a terminal status is a no-op; an unknown id is
// ErrTaskNotFound.
func (c *Coordinator) Cancel(ctx context.Context, id uuid.UUID) error {
	c.mu.Lock()
	cancel, ok := c.running[id]
	c.mu.Unlock()

	if ok {
		c.logger.InfoContext(ctx, "cancelling task", "task_id", id)
		cancel()
		return nil
	}

	// Not running: either unknown or already terminal.
	if _, err := c.store.Get(ctx, id); err != nil {
		return err
	}
	return nil
}

// Close cancels all running tasks and waits for their coordination
// goroutines to finish their terminal bookkeeping.
func (c *Coordinator) Close() {
	c.mu.Lock()
	for _, cancel := range c.running {
		cancel()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Coordinator) unregister(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.running, id)
}

// run drives one task through the pipeline state machine:
// running/decomposing-story, then generating-panels, then aggregating.
func (c *Coordinator) run(ctx context.Context, id uuid.UUID, req GenerationRequest) {
	logger := c.logger.With("task_id", id)
	// Bookkeeping updates must survive task cancellation, so they use a
	// background context rather than the task's.
	bg := context.Background()

	_, err := c.store.Update(bg, id, func(t *domain.GenerationTask) {
		t.Start()
		t.CurrentStep = "decomposing story"
		t.Stages = append(t.Stages, domain.StageRecord{
			Kind:   domain.StageKindStoryDecomposition,
			Index:  0,
			Status: domain.StageStatusPending,
		})
	})
	if err != nil {
		logger.Error("failed to start task", "error", err)
		return
	}

	specs, storyErr := c.runStoryStage(ctx, id, req)

	if ctx.Err() != nil {
		c.finalize(bg, id, true, nil)
		logger.Info("task cancelled during story decomposition")
		return
	}

	if storyErr != nil {
		_, updateErr := c.store.Update(bg, id, func(t *domain.GenerationTask) {
			rec := t.Stage(domain.StageKindStoryDecomposition, 0)
			rec.Status = domain.StageStatusFailed
			t.Fail(&domain.TaskError{
				Message: fmt.Sprintf("story decomposition failed: %v", storyErr),
			}, nil)
		})
		if updateErr != nil {
			logger.Error("failed to record story failure", "error", updateErr)
		}
		logger.Error("story decomposition failed", "error", storyErr)
		return
	}

	if len(specs) > c.config.MaxPanels {
		specs = specs[:c.config.MaxPanels]
	}
	// Providers occasionally misnumber panels; indices are authoritative
	// here, in spec order. The task's art style rides along on each spec
	// so the image capability can honor it.
	for i := range specs {
		specs[i].Index = i
		specs[i].ArtStyle = req.ArtStyle
	}
	total := len(specs)

	_, err = c.store.Update(bg, id, func(t *domain.GenerationTask) {
		rec := t.Stage(domain.StageKindStoryDecomposition, 0)
		rec.Status = domain.StageStatusSucceeded
		for i := 0; i < total; i++ {
			t.Stages = append(t.Stages, domain.StageRecord{
				Kind:   domain.StageKindPanelGeneration,
				Index:  i,
				Status: domain.StageStatusPending,
			})
		}
		t.CurrentStep = fmt.Sprintf("generating panels (0 of %d)", total)
	})
	if err != nil {
		logger.Error("failed to record decomposition result", "error", err)
		return
	}
	logger.Info("story decomposed", "panel_count", total)

	// Fan-out: every panel job is submitted at once; the shared pool
	// bounds how many run concurrently. One panel's failure never cancels
	// its siblings.
	imageRefs := make([]string, total)
	futures := make([]*Future, total)
	for i := range specs {
		spec := specs[i]
		ref := &imageRefs[i]
		future, submitErr := c.pool.Submit(func(poolCtx context.Context) error {
			return c.runPanelStage(ctx, poolCtx, id, spec, ref)
		})
		if submitErr != nil {
			c.recordPanelSubmitFailure(bg, id, i, total, submitErr)
			continue
		}
		futures[i] = future
	}

	// Wait for every dispatched panel to reach a terminal outcome. The
	// group only waits; panel failures are recorded on the task, not
	// returned here.
	var g errgroup.Group
	for _, future := range futures {
		if future == nil {
			continue
		}
		g.Go(func() error {
			return future.Wait(context.Background())
		})
	}
	if waitErr := g.Wait(); waitErr != nil {
		logger.Debug("panel fan-out finished with job errors", "error", waitErr)
	}

	c.finalize(bg, id, ctx.Err() != nil, imageRefs)
}

// runStoryStage executes the story decomposition stage under the retry
// policy, recording attempt history on the stage record.
func (c *Coordinator) runStoryStage(
	ctx context.Context,
	id uuid.UUID,
	req GenerationRequest,
) ([]domain.PanelSpec, error) {
	var specs []domain.PanelSpec
	err := c.retry.Run(ctx,
		c.stageHooks(id, domain.StageKindStoryDecomposition, 0),
		func(ctx context.Context) error {
			out, execErr := c.storyExec.Execute(ctx, req.Prompt, req.PanelCountHint)
			if execErr != nil {
				return execErr
			}
			specs = out
			return nil
		})
	return specs, err
}

// runPanelStage executes one panel generation stage on a pool worker. The
// not-yet-started checkpoint comes first: a cancelled task's queued panels
// never run and their records stay pending.
func (c *Coordinator) runPanelStage(
	taskCtx, poolCtx context.Context,
	id uuid.UUID,
	spec domain.PanelSpec,
	imageRef *string,
) error {
	if err := taskCtx.Err(); err != nil {
		return err
	}
	if err := poolCtx.Err(); err != nil {
		return err
	}

	var ref string
	err := c.retry.Run(taskCtx,
		c.stageHooks(id, domain.StageKindPanelGeneration, spec.Index),
		func(ctx context.Context) error {
			out, execErr := c.panelExec.Execute(ctx, spec)
			if execErr != nil {
				return execErr
			}
			ref = out
			return nil
		})

	if taskCtx.Err() != nil {
		// Cancelled mid-stage: the record keeps whatever status it had.
		return taskCtx.Err()
	}

	*imageRef = ref

	_, updateErr := c.store.Update(context.Background(), id, func(t *domain.GenerationTask) {
		rec := t.Stage(domain.StageKindPanelGeneration, spec.Index)
		if err == nil {
			rec.Status = domain.StageStatusSucceeded
		} else {
			rec.Status = domain.StageStatusFailed
		}
		c.advancePanelProgress(t, spec.Index)
	})
	if updateErr != nil {
		c.logger.Error("failed to record panel outcome",
			"task_id", id,
			"panel_index", spec.Index,
			"error", updateErr)
	}
	return err
}

// stageHooks returns retry hooks that keep the stage record's attempt
// history accurate: attempts increment when an attempt starts, classified
// failures land on lastError when one finishes. History is preserved even
// for attempts later superseded by a success.
func (c *Coordinator) stageHooks(id uuid.UUID, kind domain.StageKind, index int) AttemptHooks {
	bg := context.Background()
	return AttemptHooks{
		Started: func(attempt int) {
			_, err := c.store.Update(bg, id, func(t *domain.GenerationTask) {
				rec := t.Stage(kind, index)
				rec.Status = domain.StageStatusRunning
				rec.Attempts = attempt
			})
			if err != nil {
				c.logger.Error("failed to record attempt start",
					"task_id", id, "stage_kind", kind, "stage_index", index, "error", err)
			}
		},
		Finished: func(attempt int, attemptErr error) {
			if attemptErr == nil {
				return
			}
			_, err := c.store.Update(bg, id, func(t *domain.GenerationTask) {
				rec := t.Stage(kind, index)
				rec.LastError = &domain.StageFailure{
					Class:   generation.Classify(attemptErr),
					Message: attemptErr.Error(),
				}
			})
			if err != nil {
				c.logger.Error("failed to record attempt failure",
					"task_id", id, "stage_kind", kind, "stage_index", index, "error", err)
			}
		},
	}
}

// recordPanelSubmitFailure marks a panel stage failed when the pool
// rejected its job outright.
func (c *Coordinator) recordPanelSubmitFailure(
	ctx context.Context,
	id uuid.UUID,
	index, total int,
	submitErr error,
) {
	c.logger.Error("failed to submit panel job",
		"task_id", id, "panel_index", index, "error", submitErr)
	_, err := c.store.Update(ctx, id, func(t *domain.GenerationTask) {
		rec := t.Stage(domain.StageKindPanelGeneration, index)
		rec.Attempts = 0
		rec.Status = domain.StageStatusFailed
		rec.LastError = &domain.StageFailure{
			Class:   domain.FailureClassFatal,
			Message: submitErr.Error(),
		}
		c.advancePanelProgress(t, index)
	})
	if err != nil {
		c.logger.Error("failed to record panel submit failure",
			"task_id", id, "panel_index", index, "error", err)
	}
}

// advancePanelProgress recomputes fractional progress from terminal panel
// stages. The ceiling keeps panel updates below 100; only completion is
// allowed to write 100.
func (c *Coordinator) advancePanelProgress(t *domain.GenerationTask, lastIndex int) {
	var total, done int
	for i := range t.Stages {
		if t.Stages[i].Kind != domain.StageKindPanelGeneration {
			continue
		}
		total++
		if t.Stages[i].IsTerminal() {
			done++
		}
	}
	if total == 0 {
		return
	}

	progress := 100 * float64(done) / float64(total)
	if progress > panelProgressCeiling {
		progress = panelProgressCeiling
	}
	if progress > t.Progress {
		t.Progress = progress
	}
	t.CurrentStep = fmt.Sprintf("finished panel %d (%d of %d done)", lastIndex, done, total)
}

// finalize runs the aggregation step: once every dispatched panel is
// terminal (or the task was cancelled), assemble the result in spec order,
// preserving successfully generated panels on failure and cancellation.
// imageRefs are the coordinator-local references written by runPanelStage;
// the fan-in wait orders those writes before this read.
func (c *Coordinator) finalize(ctx context.Context, id uuid.UUID, cancelled bool, imageRefs []string) {
	_, err := c.store.Update(ctx, id, func(t *domain.GenerationTask) {
		if t.IsTerminal() {
			return
		}

		var panels []domain.Panel
		var failed []int
		var reasons []string
		for i := range t.Stages {
			rec := &t.Stages[i]
			if rec.Kind != domain.StageKindPanelGeneration {
				continue
			}
			switch rec.Status {
			case domain.StageStatusSucceeded:
				ref := ""
				if rec.Index < len(imageRefs) {
					ref = imageRefs[rec.Index]
				}
				panels = append(panels, domain.Panel{Index: rec.Index, ImageRef: ref})
			case domain.StageStatusFailed:
				failed = append(failed, rec.Index)
				if rec.LastError != nil {
					reasons = append(reasons, fmt.Sprintf("panel %d: %s", rec.Index, rec.LastError.Message))
				}
			}
		}

		switch {
		case cancelled:
			t.Cancel(panels)
		case len(failed) > 0:
			t.Fail(&domain.TaskError{
				Message:       fmt.Sprintf("%d panel(s) failed: %s", len(failed), strings.Join(reasons, "; ")),
				FailedIndices: failed,
			}, panels)
		default:
			t.Complete(panels)
		}
	})
	if err != nil {
		c.logger.Error("failed to finalize task", "task_id", id, "error", err)
		return
	}
	c.logger.Info("task finalized", "task_id", id, "cancelled", cancelled)
}
