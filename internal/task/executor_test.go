package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webtoonlab/panelgen/internal/domain"
	"github.com/webtoonlab/panelgen/internal/generation"
)

// fakeStoryGenerator implements generation.StoryGenerator with a pluggable
// function.
type fakeStoryGenerator struct {
	fn func(ctx context.Context, prompt string, panelCountHint int) ([]domain.PanelSpec, error)
}

func (g *fakeStoryGenerator) DecomposeStory(
	ctx context.Context,
	prompt string,
	panelCountHint int,
) ([]domain.PanelSpec, error) {
	return g.fn(ctx, prompt, panelCountHint)
}

// fakeImageGenerator implements generation.ImageGenerator with a pluggable
// function.
type fakeImageGenerator struct {
	fn func(ctx context.Context, spec domain.PanelSpec) (string, error)
}

func (g *fakeImageGenerator) GeneratePanelImage(
	ctx context.Context,
	spec domain.PanelSpec,
) (string, error) {
	return g.fn(ctx, spec)
}

func specsOf(n int) []domain.PanelSpec {
	specs := make([]domain.PanelSpec, n)
	for i := range specs {
		specs[i] = domain.PanelSpec{
			Index:            i,
			Title:            "panel",
			SceneDescription: "a scene",
		}
	}
	return specs
}

func TestStoryStageExecutor(t *testing.T) {
	t.Parallel()

	t.Run("returns specs on success", func(t *testing.T) {
		t.Parallel()

		gen := &fakeStoryGenerator{fn: func(ctx context.Context, prompt string, hint int) ([]domain.PanelSpec, error) {
			assert.Equal(t, "a prompt", prompt)
			assert.Equal(t, 4, hint)
			return specsOf(4), nil
		}}
		exec := NewStoryStageExecutor(gen, time.Second, discardLogger())

		specs, err := exec.Execute(context.Background(), "a prompt", 4)
		require.NoError(t, err)
		assert.Len(t, specs, 4)
	})

	t.Run("empty decomposition is an invalid response", func(t *testing.T) {
		t.Parallel()

		gen := &fakeStoryGenerator{fn: func(ctx context.Context, prompt string, hint int) ([]domain.PanelSpec, error) {
			return nil, nil
		}}
		exec := NewStoryStageExecutor(gen, time.Second, discardLogger())

		_, err := exec.Execute(context.Background(), "a prompt", 4)
		assert.ErrorIs(t, err, generation.ErrInvalidResponse)
	})

	t.Run("timeout becomes a transient failure", func(t *testing.T) {
		t.Parallel()

		gen := &fakeStoryGenerator{fn: func(ctx context.Context, prompt string, hint int) ([]domain.PanelSpec, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}
		exec := NewStoryStageExecutor(gen, 20*time.Millisecond, discardLogger())

		_, err := exec.Execute(context.Background(), "a prompt", 4)
		assert.ErrorIs(t, err, generation.ErrTransientFailure)
		assert.True(t, generation.IsRetryable(err))
	})

	t.Run("parent cancellation passes through untouched", func(t *testing.T) {
		t.Parallel()

		gen := &fakeStoryGenerator{fn: func(ctx context.Context, prompt string, hint int) ([]domain.PanelSpec, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}}
		exec := NewStoryStageExecutor(gen, time.Minute, discardLogger())

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		_, err := exec.Execute(ctx, "a prompt", 4)
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, generation.IsRetryable(err), "cancellation is never retried")
	})

	t.Run("provider errors are passed through for classification", func(t *testing.T) {
		t.Parallel()

		gen := &fakeStoryGenerator{fn: func(ctx context.Context, prompt string, hint int) ([]domain.PanelSpec, error) {
			return nil, generation.ErrContentBlocked
		}}
		exec := NewStoryStageExecutor(gen, time.Second, discardLogger())

		_, err := exec.Execute(context.Background(), "a prompt", 4)
		assert.ErrorIs(t, err, generation.ErrContentBlocked)
	})
}

func TestPanelStageExecutor(t *testing.T) {
	t.Parallel()

	t.Run("returns image reference on success", func(t *testing.T) {
		t.Parallel()

		gen := &fakeImageGenerator{fn: func(ctx context.Context, spec domain.PanelSpec) (string, error) {
			assert.Equal(t, 2, spec.Index)
			return "panels/p2.png", nil
		}}
		exec := NewPanelStageExecutor(gen, time.Second, discardLogger())

		ref, err := exec.Execute(context.Background(), domain.PanelSpec{Index: 2})
		require.NoError(t, err)
		assert.Equal(t, "panels/p2.png", ref)
	})

	t.Run("empty reference is an invalid response", func(t *testing.T) {
		t.Parallel()

		gen := &fakeImageGenerator{fn: func(ctx context.Context, spec domain.PanelSpec) (string, error) {
			return "", nil
		}}
		exec := NewPanelStageExecutor(gen, time.Second, discardLogger())

		_, err := exec.Execute(context.Background(), domain.PanelSpec{})
		assert.ErrorIs(t, err, generation.ErrInvalidResponse)
	})

	t.Run("timeout becomes a transient failure", func(t *testing.T) {
		t.Parallel()

		gen := &fakeImageGenerator{fn: func(ctx context.Context, spec domain.PanelSpec) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}}
		exec := NewPanelStageExecutor(gen, 20*time.Millisecond, discardLogger())

		_, err := exec.Execute(context.Background(), domain.PanelSpec{})
		assert.ErrorIs(t, err, generation.ErrTransientFailure)
	})
}

func TestClassifyAttemptError(t *testing.T) {
	t.Parallel()

	t.Run("unrelated error is unchanged", func(t *testing.T) {
		t.Parallel()

		parent := context.Background()
		attempt, cancel := context.WithTimeout(parent, time.Minute)
		defer cancel()

		original := errors.New("provider said no")
		assert.Equal(t, original, classifyAttemptError(parent, attempt, original))
	})

	t.Run("expired attempt deadline is transient", func(t *testing.T) {
		t.Parallel()

		parent := context.Background()
		attempt, cancel := context.WithTimeout(parent, time.Nanosecond)
		defer cancel()
		<-attempt.Done()

		err := classifyAttemptError(parent, attempt, attempt.Err())
		assert.ErrorIs(t, err, generation.ErrTransientFailure)
	})

	t.Run("parent cancellation wins over the attempt error", func(t *testing.T) {
		t.Parallel()

		parent, cancel := context.WithCancel(context.Background())
		cancel()
		attempt, attemptCancel := context.WithTimeout(parent, time.Minute)
		defer attemptCancel()

		err := classifyAttemptError(parent, attempt, errors.New("aborted mid-call"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}
