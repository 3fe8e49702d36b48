package db

import (
	"context"
	"fmt"

	"github.com/DmitryPavl/hackreality-main-bot/internal/models"
)

// Mutator is applied to a copy of a session inside Update. Returning an
// error aborts the update and leaves the stored session untouched.
type Mutator func(*models.UserSession) error

// SessionStore is the persistence boundary for user sessions. All
// methods return copies; callers never share memory with the store.
type SessionStore interface {
	// Get returns the session for userID or models.ErrNotFound.
	Get(ctx context.Context, userID int64) (*models.UserSession, error)

	// CreateIfAbsent inserts a fresh session unless one already exists.
	// The bool reports whether a new session was created by this call.
	CreateIfAbsent(ctx context.Context, userID, chatID int64) (*models.UserSession, bool, error)

	// Update loads the session, applies fn to it and persists the
	// result atomically. A mutator error is returned verbatim.
	Update(ctx context.Context, userID int64, fn Mutator) (*models.UserSession, error)

	// ActiveSessions returns every session currently in the active
	// delivery phase, for scheduler rehydration after restart.
	ActiveSessions(ctx context.Context) ([]*models.UserSession, error)

	Close()
}

// wrapUnavailable tags infrastructure failures so callers can tell them
// apart from mutator errors and retry.
func wrapUnavailable(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, models.ErrStoreUnavailable)
}
