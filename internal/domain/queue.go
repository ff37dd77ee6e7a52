package domain

import (
	"time"

	"github.com/google/uuid"
)

// QueueStatus represents the claim state of a queue entry.
type QueueStatus string

// Possible queue entry status values
const (
	QueueStatusQueued     QueueStatus = "queued"
	QueueStatusProcessing QueueStatus = "processing"
)

// QueueEntry is a durable pointer to a prompt task awaiting processing.
// At most one entry exists per slide; a claim is recorded as a status flip
// plus a timestamp, and a staleness sweep recovers entries whose worker died
// mid-task.
type QueueEntry struct {
	SlideID    uuid.UUID   `json:"slide_id"`
	DeckID     uuid.UUID   `json:"deck_id"`
	UserID     uuid.UUID   `json:"user_id"`
	Status     QueueStatus `json:"status"`
	Attempts   int         `json:"attempts"`
	EnqueuedAt time.Time   `json:"enqueued_at"`

	// ProcessedAt is the claim timestamp, set when a worker flips the entry
	// to processing.
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}
