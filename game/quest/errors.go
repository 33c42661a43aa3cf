package quest

import (
	"errors"
	"fmt"
)

var (
	ErrQuestNotFound    = errors.New("quest not found")
	ErrProgressNotFound = errors.New("quest progress not found")
	ErrInvalidQuest     = errors.New("invalid quest definition")
	ErrQuestInUse       = errors.New("quest is a prerequisite of another quest")

	// ErrAlreadyCompleted is returned when a completion loses the race for a
	// progress record; the winner grants the rewards.
	ErrAlreadyCompleted = errors.New("quest already completed")
	// ErrNotRepeatable rejects a manual completion of a finished one-shot quest.
	ErrNotRepeatable = errors.New("quest completed and not repeatable")
	// ErrCompletionCapReached rejects completions beyond max_completions.
	ErrCompletionCapReached = errors.New("quest completion cap reached")
	// ErrVersionConflict means a record changed between read and conditional write.
	ErrVersionConflict = errors.New("quest progress changed concurrently")

	ErrSweepInProgress = errors.New("reset sweep already running")
	ErrNoCollaborator  = errors.New("reward collaborator not configured")
)

// ValidationError describes why a quest definition was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid quest: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidQuest }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
