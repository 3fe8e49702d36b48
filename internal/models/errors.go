package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means no session exists for the user id.
	ErrNotFound = errors.New("session not found")

	// ErrStoreUnavailable means the persistence layer could not be
	// reached. Callers retry with backoff; it is never fatal to the
	// session.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// InvalidTransitionError marks an event that is not valid for the
// session's current state. It is recovered by re-rendering the current
// prompt and is logged, never surfaced to the user as a failure.
type InvalidTransitionError struct {
	State State
	Event EventPayload
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: event %T in state %q", e.Event, e.State)
}
