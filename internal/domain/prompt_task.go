package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskState represents the lifecycle state of a prompt generation task.
// The zero value (empty string) means the task record has not been
// initialized yet and is treated as an initial state.
type TaskState string

// Possible task state values
const (
	TaskStateUndefined  TaskState = ""
	TaskStatePending    TaskState = "pending"
	TaskStateQueued     TaskState = "queued"
	TaskStateGenerating TaskState = "generating"
	TaskStatePartial    TaskState = "partial"
	TaskStateCompleted  TaskState = "completed"
	TaskStateFailed     TaskState = "failed"
)

// ErrIllegalTransition is returned when a requested state change is not in
// the transition table. Callers must not write the new state in that case.
var ErrIllegalTransition = errors.New("illegal task state transition")

// taskTransitions is the legal transition table. Self-transitions are always
// legal and handled separately in CanTransition; completed is terminal.
var taskTransitions = map[TaskState][]TaskState{
	TaskStateUndefined:  {TaskStatePending, TaskStateQueued, TaskStateGenerating},
	TaskStatePending:    {TaskStateQueued, TaskStateGenerating, TaskStateFailed},
	TaskStateQueued:     {TaskStateGenerating, TaskStateFailed},
	TaskStateGenerating: {TaskStatePartial, TaskStateCompleted, TaskStateFailed},
	TaskStatePartial:    {TaskStateGenerating, TaskStateCompleted, TaskStateFailed},
	TaskStateFailed:     {TaskStateQueued, TaskStateGenerating},
	TaskStateCompleted:  {},
}

// CanTransition reports whether moving a task from one state to another is
// legal. It is a pure validation function; writers must check it before
// persisting a state change.
func CanTransition(from, to TaskState) bool {
	// Idempotent retries of the same update are always legal.
	if from == to {
		return true
	}

	allowed, ok := taskTransitions[from]
	if !ok {
		return false
	}

	for _, state := range allowed {
		if state == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrIllegalTransition (with context) when the
// requested state change is not legal.
func ValidateTransition(from, to TaskState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %q -> %q", ErrIllegalTransition, from, to)
	}
	return nil
}

// retryBackoffCapMinutes caps the whole-task retry backoff. This is the
// outer loop governing re-attempts across queue cycles, minutes not seconds.
const retryBackoffCapMinutes = 64

// NextRetryAt computes when a failed task becomes eligible for reprocessing:
// now + min(2^attempts, cap) minutes.
func NextRetryAt(now time.Time, attempts int) time.Time {
	if attempts < 0 {
		attempts = 0
	}

	minutes := retryBackoffCapMinutes
	if attempts < 7 {
		minutes = 1 << attempts
		if minutes > retryBackoffCapMinutes {
			minutes = retryBackoffCapMinutes
		}
	}

	return now.Add(time.Duration(minutes) * time.Minute)
}

// TaskProgress tracks cumulative per-task generation outcomes.
type TaskProgress struct {
	Succeeded     int        `json:"succeeded"`
	Failed        int        `json:"failed"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
}

// PromptTask is the unit of queued generation work: produce TargetCount image
// prompts for one slide. It is created alongside its slide and only ever
// state-reset, never deleted.
type PromptTask struct {
	SlideID uuid.UUID `json:"slide_id"`
	DeckID  uuid.UUID `json:"deck_id"`
	UserID  uuid.UUID `json:"user_id"`

	TargetCount int       `json:"target_count"`
	State       TaskState `json:"state"`
	Progress    TaskProgress

	// Attempts counts consecutive no-progress retry cycles; it resets to
	// zero whenever a cycle makes progress.
	Attempts int `json:"attempts"`

	// TotalCycles counts every processing cycle regardless of outcome and is
	// never reset. It backstops the attempt-reset policy so a task that
	// alternates partial success and failure cannot retry forever.
	TotalCycles int `json:"total_cycles"`

	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Remaining returns how many prompts the task still needs.
func (t *PromptTask) Remaining() int {
	remaining := t.TargetCount - t.Progress.Succeeded
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Complete reports whether the task already holds its full target of prompts.
func (t *PromptTask) Complete() bool {
	return t.TargetCount > 0 && t.Progress.Succeeded >= t.TargetCount
}
