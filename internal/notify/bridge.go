// Package notify relays lifecycle events to the admin channel. The
// admin side runs as a separate bot, so delivery is best-effort: a
// failed send lands in a durable fallback log and never propagates
// back into the user-facing path.
package notify

import (
	"context"
	"sync"

	"github.com/DmitryPavl/hackreality-main-bot/internal/models"
)

// Bridge delivers notification events to the admin channel.
type Bridge interface {
	// Send attempts delivery. Implementations swallow transport
	// failures after recording them, so a non-nil error means the
	// event could not even be recorded.
	Send(ctx context.Context, ev models.NotificationEvent) error
	Close() error
}

// Recorder is an in-process Bridge that keeps every event it receives.
// Tests assert against it instead of a live admin bot.
type Recorder struct {
	mu     sync.Mutex
	events []models.NotificationEvent
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Send(ctx context.Context, ev models.NotificationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a snapshot of everything sent so far.
func (r *Recorder) Events() []models.NotificationEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.NotificationEvent, len(r.events))
	copy(out, r.events)
	return out
}

// CountByKind reports how many events of the given kind were sent.
func (r *Recorder) CountByKind(kind models.NotificationKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}
