package task

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webtoonlab/panelgen/internal/events"
)

type fakeSubmitter struct {
	requests []GenerationRequest
	err      error
}

func (s *fakeSubmitter) Submit(ctx context.Context, req GenerationRequest) (uuid.UUID, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return uuid.Nil, s.err
	}
	return req.ID, nil
}

func TestGenerationEventHandler(t *testing.T) {
	t.Parallel()

	newRequestedEvent := func(t *testing.T, payload events.GenerationRequestedPayload) *events.Event {
		t.Helper()
		event, err := events.NewEvent(events.TypeGenerationRequested, payload)
		require.NoError(t, err)
		return event
	}

	t.Run("submits the request from the payload", func(t *testing.T) {
		t.Parallel()

		submitter := &fakeSubmitter{}
		handler := NewGenerationEventHandler(submitter, discardLogger())

		taskID := uuid.New()
		event := newRequestedEvent(t, events.GenerationRequestedPayload{
			TaskID:         taskID,
			Prompt:         "a detective and a missing cat",
			ArtStyle:       "manga",
			PanelCountHint: 6,
		})

		require.NoError(t, handler.HandleEvent(context.Background(), event))
		require.Len(t, submitter.requests, 1)

		req := submitter.requests[0]
		assert.Equal(t, taskID, req.ID)
		assert.Equal(t, "a detective and a missing cat", req.Prompt)
		assert.Equal(t, "manga", req.ArtStyle)
		assert.Equal(t, 6, req.PanelCountHint)
	})

	t.Run("ignores other event types", func(t *testing.T) {
		t.Parallel()

		submitter := &fakeSubmitter{}
		handler := NewGenerationEventHandler(submitter, discardLogger())

		event, err := events.NewEvent("something_else", map[string]string{"k": "v"})
		require.NoError(t, err)

		require.NoError(t, handler.HandleEvent(context.Background(), event))
		assert.Empty(t, submitter.requests)
	})

	t.Run("rejects a malformed payload", func(t *testing.T) {
		t.Parallel()

		submitter := &fakeSubmitter{}
		handler := NewGenerationEventHandler(submitter, discardLogger())

		event := &events.Event{
			ID:        uuid.New(),
			Type:      events.TypeGenerationRequested,
			Payload:   json.RawMessage(`{"prompt":`),
			CreatedAt: time.Now().UTC(),
		}

		assert.Error(t, handler.HandleEvent(context.Background(), event))
		assert.Empty(t, submitter.requests)
	})

	t.Run("rejects a payload without a task id", func(t *testing.T) {
		t.Parallel()

		submitter := &fakeSubmitter{}
		handler := NewGenerationEventHandler(submitter, discardLogger())

		event := newRequestedEvent(t, events.GenerationRequestedPayload{
			Prompt: "prompt",
		})

		assert.Error(t, handler.HandleEvent(context.Background(), event))
		assert.Empty(t, submitter.requests)
	})

	t.Run("propagates submit failures", func(t *testing.T) {
		t.Parallel()

		submitErr := errors.New("pipeline unavailable")
		submitter := &fakeSubmitter{err: submitErr}
		handler := NewGenerationEventHandler(submitter, discardLogger())

		event := newRequestedEvent(t, events.GenerationRequestedPayload{
			TaskID: uuid.New(),
			Prompt: "prompt",
		})

		assert.ErrorIs(t, handler.HandleEvent(context.Background(), event), submitErr)
	})
}
