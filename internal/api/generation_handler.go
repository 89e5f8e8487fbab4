package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/webtoonlab/panelgen/internal/api/shared"
	"github.com/webtoonlab/panelgen/internal/domain"
	"github.com/webtoonlab/panelgen/internal/events"
	"github.com/webtoonlab/panelgen/internal/task"
)

// TaskReader reads task snapshots. Implemented by the task state store.
type TaskReader interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.GenerationTask, error)
	Watch(ctx context.Context, id uuid.UUID) (*task.Subscription, error)
}

// TaskCanceller requests task cancellation. Implemented by the coordinator.
type TaskCanceller interface {
	Cancel(ctx context.Context, id uuid.UUID) error
}

// SubmitGenerationRequest is the body of POST /generations.
type SubmitGenerationRequest struct {
	Prompt         string `json:"prompt" validate:"required,min=1"`
	ArtStyle       string `json:"art_style"`
	PanelCountHint int    `json:"panel_count_hint" validate:"gte=0"`
}

// SubmitGenerationResponse acknowledges an accepted generation request.
type SubmitGenerationResponse struct {
	TaskID string `json:"task_id"`
}

// GenerationHandler exposes the task control surface: submit, status,
// cancel, and a live snapshot stream. It carries no pipeline logic; it
// emits request events and reads snapshots.
type GenerationHandler struct {
	emitter   events.Emitter
	tasks     TaskReader
	canceller TaskCanceller
	validator *validator.Validate
	logger    *slog.Logger
}

// NewGenerationHandler creates the handler.
func NewGenerationHandler(
	emitter events.Emitter,
	tasks TaskReader,
	canceller TaskCanceller,
	logger *slog.Logger,
) *GenerationHandler {
	return &GenerationHandler{
		emitter:   emitter,
		tasks:     tasks,
		canceller: canceller,
		validator: validator.New(),
		logger:    logger.With("component", "generation_handler"),
	}
}

// Routes registers the handler's endpoints on the router.
func (h *GenerationHandler) Routes(r chi.Router) {
	r.Post("/generations", h.SubmitGeneration)
	r.Get("/generations/{taskID}", h.GetTaskStatus)
	r.Post("/generations/{taskID}/cancel", h.CancelTask)
	r.Get("/generations/{taskID}/events", h.StreamTaskEvents)
}

// SubmitGeneration handles POST /generations. The task id is assigned
// here and travels on the request event, so the response can carry it
// even though the pipeline picks the work up through the emitter.
func (h *GenerationHandler) SubmitGeneration(w http.ResponseWriter, r *http.Request) {
	var req SubmitGenerationRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	taskID := uuid.New()
	event, err := events.NewEvent(events.TypeGenerationRequested, events.GenerationRequestedPayload{
		TaskID:         taskID,
		Prompt:         req.Prompt,
		ArtStyle:       req.ArtStyle,
		PanelCountHint: req.PanelCountHint,
	})
	if err != nil {
		h.logger.Error("failed to build generation event", "error", err)
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Failed to accept generation request")
		return
	}

	if err := h.emitter.EmitEvent(r.Context(), event); err != nil {
		h.logger.Error("failed to emit generation event", "error", err, "task_id", taskID)
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Failed to accept generation request")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitGenerationResponse{TaskID: taskID.String()})
}

// GetTaskStatus handles GET /generations/{taskID}.
func (h *GenerationHandler) GetTaskStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskIDFromRequest(w, r)
	if !ok {
		return
	}

	snapshot, err := h.tasks.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
			return
		}
		h.logger.Error("failed to read task", "error", err, "task_id", id)
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Failed to read task")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, snapshot)
}

// CancelTask handles POST /generations/{taskID}/cancel. Cancellation is
// cooperative: the response acknowledges the request, the terminal status
// arrives through the snapshot stream.
func (h *GenerationHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskIDFromRequest(w, r)
	if !ok {
		return
	}

	if err := h.canceller.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
			return
		}
		h.logger.Error("failed to cancel task", "error", err, "task_id", id)
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Failed to cancel task")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// StreamTaskEvents handles GET /generations/{taskID}/events as a
// server-sent-events stream of task snapshots. The stream ends after the
// terminal snapshot, or when the client goes away.
func (h *GenerationHandler) StreamTaskEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskIDFromRequest(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	sub, err := h.tasks.Watch(r.Context(), id)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
			return
		}
		h.logger.Error("failed to subscribe to task", "error", err, "task_id", id)
		shared.RespondWithError(w, r, http.StatusInternalServerError, "Failed to subscribe to task")
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case snapshot, open := <-sub.Updates():
			if !open {
				return
			}
			if err := writeSSESnapshot(w, snapshot); err != nil {
				h.logger.Debug("subscriber write failed, closing stream",
					"error", err, "task_id", id)
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (h *GenerationHandler) taskIDFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "taskID"))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task ID")
		return uuid.Nil, false
	}
	return id, true
}

func writeSSESnapshot(w http.ResponseWriter, snapshot *domain.GenerationTask) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
