package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types understood by the pipeline's handlers.
const (
	// TypeGenerationRequested asks the pipeline to start a generation task.
	TypeGenerationRequested = "generation_requested"
)

// GenerationRequestedPayload is the payload of a TypeGenerationRequested
// event. TaskID is assigned by the producer so it can report the id to its
// caller before the pipeline picks the event up.
type GenerationRequestedPayload struct {
	TaskID         uuid.UUID `json:"task_id"`
	Prompt         string    `json:"prompt"`
	ArtStyle       string    `json:"art_style,omitempty"`
	PanelCountHint int       `json:"panel_count_hint"`
}

// Event is a request for work, carried between components that should not
// know about each other directly. The payload is type-specific JSON.
type Event struct {
	// ID uniquely identifies this event instance.
	ID uuid.UUID `json:"id"`

	// Type selects which handlers act on the event.
	Type string `json:"type"`

	// Payload is the event data, serialized as JSON.
	Payload json.RawMessage `json:"payload"`

	// CreatedAt is when the event was produced.
	CreatedAt time.Time `json:"created_at"`
}

// UnmarshalPayload decodes the event payload into v.
func (e *Event) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// NewEvent creates an event of the given type, serializing payload to JSON.
func NewEvent(eventType string, payload interface{}) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:        uuid.New(),
		Type:      eventType,
		Payload:   data,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Handler processes events. Handlers receive every emitted event and are
// expected to ignore types they do not own.
type Handler interface {
	// HandleEvent processes the event; errors propagate to the emitter's
	// caller but never stop delivery to other handlers.
	HandleEvent(ctx context.Context, event *Event) error
}

// Emitter publishes events to registered handlers without knowing who they
// are.
type Emitter interface {
	// EmitEvent delivers the event to every registered handler.
	EmitEvent(ctx context.Context, event *Event) error
}
