package task

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/webtoonlab/panelgen/internal/events"
)

// Submitter accepts generation requests. Implemented by the Coordinator;
// declared here so the handler can be tested without one.
type Submitter interface {
	Submit(ctx context.Context, req GenerationRequest) (uuid.UUID, error)
}

// GenerationEventHandler turns generation-requested events into pipeline
// submissions.
type GenerationEventHandler struct {
	submitter Submitter
	logger    *slog.Logger
}

// NewGenerationEventHandler creates a handler that submits to the given
// coordinator.
func NewGenerationEventHandler(submitter Submitter, logger *slog.Logger) *GenerationEventHandler {
	return &GenerationEventHandler{
		submitter: submitter,
		logger:    logger.With("component", "generation_event_handler"),
	}
}

// HandleEvent submits a generation task for every generation-requested
// event; other event types are ignored.
func (h *GenerationEventHandler) HandleEvent(ctx context.Context, event *events.Event) error {
	if event.Type != events.TypeGenerationRequested {
		h.logger.Debug("ignoring event with unsupported type",
			"event_type", event.Type,
			"event_id", event.ID)
		return nil
	}

	var payload events.GenerationRequestedPayload
	if err := event.UnmarshalPayload(&payload); err != nil {
		h.logger.Error("failed to unmarshal payload", "error", err, "event_id", event.ID)
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if payload.TaskID == uuid.Nil {
		return fmt.Errorf("generation request event %s carries no task id", event.ID)
	}

	taskID, err := h.submitter.Submit(ctx, GenerationRequest{
		ID:             payload.TaskID,
		Prompt:         payload.Prompt,
		ArtStyle:       payload.ArtStyle,
		PanelCountHint: payload.PanelCountHint,
	})
	if err != nil {
		h.logger.Error("failed to submit generation task",
			"error", err,
			"task_id", payload.TaskID,
			"event_id", event.ID)
		return fmt.Errorf("failed to submit generation task: %w", err)
	}

	h.logger.Info("generation task submitted from event",
		"task_id", taskID,
		"event_id", event.ID)
	return nil
}

var _ events.Handler = (*GenerationEventHandler)(nil)
