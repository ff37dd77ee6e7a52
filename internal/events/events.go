// Package events decouples the parts of the system that discover work from
// the worker pool that executes it. The queue orchestrator and deck service
// emit events when a slide needs attention; the runner subscribes and wakes a
// worker without either side importing the other.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types understood by the generation runner.
const (
	// TypeSlideQueued signals that a slide has a queue entry ready to be
	// picked up immediately, without waiting for the next sweep.
	TypeSlideQueued = "slide.queued"

	// TypeSlideRetry signals that a partially completed slide was re-armed
	// for another generation cycle.
	TypeSlideRetry = "slide.retry"
)

// SlideQueuedPayload is the payload for TypeSlideQueued and TypeSlideRetry
// events.
type SlideQueuedPayload struct {
	SlideID uuid.UUID `json:"slide_id"`
	DeckID  uuid.UUID `json:"deck_id"`
	UserID  uuid.UUID `json:"user_id"`
}

// GenerationEvent announces that a slide needs generation work.
type GenerationEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Type is one of the Type* constants
	Type string `json:"type"`

	// Payload contains the event-specific data serialized as JSON
	Payload json.RawMessage `json:"payload"`

	// CreatedAt is the timestamp when the event was created
	CreatedAt time.Time `json:"created_at"`
}

// UnmarshalPayload decodes the event payload into the provided structure.
func (e *GenerationEvent) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// NewGenerationEvent creates a new GenerationEvent with the specified type
// and payload.
func NewGenerationEvent(eventType string, payload interface{}) (*GenerationEvent, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &GenerationEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Payload:   payloadBytes,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *GenerationEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// This lets services publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *GenerationEvent) error
}
