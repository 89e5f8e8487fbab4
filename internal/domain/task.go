package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of a generation task.
type TaskStatus string

// Possible task status values. Completed, Failed and Cancelled are terminal.
const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// StageKind identifies the type of work a pipeline stage performs.
type StageKind string

// Stage kinds. A task has exactly one story decomposition stage followed by
// zero or more panel generation stages.
const (
	StageKindStoryDecomposition StageKind = "story_decomposition"
	StageKindPanelGeneration    StageKind = "panel_generation"
)

// StageStatus represents the state of a single pipeline stage.
type StageStatus string

// Possible stage status values. Succeeded and Failed are terminal.
const (
	StageStatusPending   StageStatus = "pending"
	StageStatusRunning   StageStatus = "running"
	StageStatusSucceeded StageStatus = "succeeded"
	StageStatusFailed    StageStatus = "failed"
)

// FailureClass partitions stage failures into the two categories the retry
// policy cares about: transient failures worth re-attempting and permanent
// failures that must stop the stage immediately.
type FailureClass string

const (
	FailureClassRetryable FailureClass = "retryable"
	FailureClassFatal     FailureClass = "fatal"
)

// Common validation errors for generation tasks.
var (
	ErrEmptyPrompt       = errors.New("story prompt cannot be empty")
	ErrInvalidPanelCount = errors.New("panel count hint must be positive")
)

// StageFailure is the classified summary of a failed stage attempt.
type StageFailure struct {
	Class   FailureClass `json:"class"`
	Message string       `json:"message"`
}

// PanelSpec describes one panel produced by story decomposition. The image
// prompt for the panel's generation stage is built from these fields.
type PanelSpec struct {
	Index            int      `json:"index"`
	Title            string   `json:"title"`
	SceneDescription string   `json:"scene_description"`
	Mood             string   `json:"mood,omitempty"`
	ArtStyle         string   `json:"art_style,omitempty"`
	DialogueLines    []string `json:"dialogue_lines,omitempty"`
}

// Panel is one generated panel in the final result: the spec it was
// generated from plus a reference to the synthesized image.
type Panel struct {
	Index    int    `json:"index"`
	ImageRef string `json:"image_ref"`
}

// StageRecord tracks the execution history of a single pipeline stage.
// Records are append-only: once added to a task they are never removed.
type StageRecord struct {
	Kind      StageKind     `json:"kind"`
	Index     int           `json:"index"`
	Attempts  int           `json:"attempts"`
	Status    StageStatus   `json:"status"`
	LastError *StageFailure `json:"last_error,omitempty"`
}

// IsTerminal reports whether the stage has finished, successfully or not.
func (r *StageRecord) IsTerminal() bool {
	return r.Status == StageStatusSucceeded || r.Status == StageStatusFailed
}

// TaskError summarizes why a task failed, referencing the panel indices
// whose stages exhausted their retries.
type TaskError struct {
	Message       string `json:"message"`
	FailedIndices []int  `json:"failed_indices,omitempty"`
}

// GenerationTask represents one end-to-end story-to-panels generation
// request. It is mutated exclusively through the task state store; everything
// handed to subscribers is an immutable snapshot produced by Clone.
type GenerationTask struct {
	ID             uuid.UUID     `json:"id"`
	Prompt         string        `json:"prompt"`
	ArtStyle       string        `json:"art_style,omitempty"`
	PanelCountHint int           `json:"panel_count_hint"`
	Status         TaskStatus    `json:"status"`
	Progress       float64       `json:"progress"`
	CurrentStep    string        `json:"current_step,omitempty"`
	Stages         []StageRecord `json:"stages"`
	Panels         []Panel       `json:"panels,omitempty"`
	Error          *TaskError    `json:"error,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
}

// NewGenerationTask creates a pending task for the given prompt.
// Returns an error if validation fails.
func NewGenerationTask(prompt, artStyle string, panelCountHint int) (*GenerationTask, error) {
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if panelCountHint <= 0 {
		return nil, ErrInvalidPanelCount
	}

	return &GenerationTask{
		ID:             uuid.New(),
		Prompt:         prompt,
		ArtStyle:       artStyle,
		PanelCountHint: panelCountHint,
		Status:         TaskStatusPending,
		Progress:       0,
		Stages:         []StageRecord{},
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// Start transitions the task to running and records the start time.
func (t *GenerationTask) Start() {
	now := time.Now().UTC()
	t.Status = TaskStatusRunning
	t.StartedAt = &now
}

// Complete marks the task completed with the full ordered panel result.
// Progress is forced to 100 here and nowhere else.
func (t *GenerationTask) Complete(panels []Panel) {
	now := time.Now().UTC()
	t.Status = TaskStatusCompleted
	t.Progress = 100.0
	t.CurrentStep = ""
	t.Panels = panels
	t.CompletedAt = &now
}

// Fail marks the task failed, retaining whatever panels were generated.
func (t *GenerationTask) Fail(taskErr *TaskError, partial []Panel) {
	now := time.Now().UTC()
	t.Status = TaskStatusFailed
	t.CurrentStep = ""
	t.Error = taskErr
	t.Panels = partial
	t.CompletedAt = &now
}

// Cancel marks the task cancelled, retaining whatever panels were generated.
// Stage records keep the status they had at the moment of cancellation.
func (t *GenerationTask) Cancel(partial []Panel) {
	now := time.Now().UTC()
	t.Status = TaskStatusCancelled
	t.CurrentStep = ""
	t.Panels = partial
	t.CompletedAt = &now
}

// IsTerminal reports whether the task has reached a state from which no
// further transition occurs.
func (t *GenerationTask) IsTerminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// ExecutionTime returns how long the task ran, or nil if it has not both
// started and finished.
func (t *GenerationTask) ExecutionTime() *time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return nil
	}
	d := t.CompletedAt.Sub(*t.StartedAt)
	return &d
}

// Stage returns a pointer to the stage record with the given kind and index,
// or nil if no such record exists. The pointer aliases the task's slice, so
// callers must only use it inside a store mutation.
func (t *GenerationTask) Stage(kind StageKind, index int) *StageRecord {
	for i := range t.Stages {
		if t.Stages[i].Kind == kind && t.Stages[i].Index == index {
			return &t.Stages[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the task suitable for handing to subscribers.
func (t *GenerationTask) Clone() *GenerationTask {
	cp := *t

	cp.Stages = make([]StageRecord, len(t.Stages))
	copy(cp.Stages, t.Stages)
	for i := range cp.Stages {
		if t.Stages[i].LastError != nil {
			failure := *t.Stages[i].LastError
			cp.Stages[i].LastError = &failure
		}
	}

	if t.Panels != nil {
		cp.Panels = make([]Panel, len(t.Panels))
		copy(cp.Panels, t.Panels)
	}

	if t.Error != nil {
		taskErr := *t.Error
		taskErr.FailedIndices = append([]int(nil), t.Error.FailedIndices...)
		cp.Error = &taskErr
	}

	if t.StartedAt != nil {
		started := *t.StartedAt
		cp.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		cp.CompletedAt = &completed
	}

	return &cp
}
