// Package scheduler owns the per-user delivery timers. Each active
// session has at most one pending timer; firing hands the delivery to
// the engine on a separate goroutine and immediately arms the next
// tick, so a slow delivery never delays the schedule. A timer is
// removed only by Deregister, re-registration or Stop; the engine
// deregisters a user once the plan's final iteration is durably
// recorded.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DmitryPavl/hackreality-main-bot/internal/models"
	"github.com/DmitryPavl/hackreality-main-bot/pkg/logger"
)

// Sink receives scheduler-fired events. The state machine engine
// implements it; tests plug in a recording sink.
type Sink interface {
	// DeliverIteration is called once per tick with the 1-based
	// sequence the timer has reached. The sequence is advisory: the
	// sink re-derives the next undelivered iteration and drops ticks
	// it has already covered.
	DeliverIteration(ctx context.Context, userID int64, seq int)

	// AbandonSession is called when a session cannot be scheduled,
	// e.g. a malformed schedule found during rehydration.
	AbandonSession(ctx context.Context, userID int64, reason string)
}

type timerEntry struct {
	timer *time.Timer
	sched models.Schedule
	next  int
}

type Scheduler struct {
	mu      sync.Mutex
	timers  map[int64]*timerEntry
	stopped bool

	sink Sink
	log  *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(sink Sink, log *logger.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		timers: make(map[int64]*timerEntry),
		sink:   sink,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register arms the timer for the iteration after cursor. A due time
// already in the past fires once immediately; the tick after that
// counts from now, not from the missed slot. Re-registering replaces
// any existing timer.
func (s *Scheduler) Register(userID int64, sched *models.Schedule, cursor int) {
	if sched == nil || sched.Interval <= 0 || sched.TotalIterations <= 0 {
		s.log.Errorw("Refusing to register invalid schedule", "user_id", userID)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	if e, ok := s.timers[userID]; ok {
		e.timer.Stop()
		delete(s.timers, userID)
	}

	next := cursor + 1
	if next > sched.TotalIterations {
		return
	}

	delay := time.Until(sched.DueAt(next))
	if delay < 0 {
		delay = 0
	}

	e := &timerEntry{sched: *sched, next: next}
	e.timer = time.AfterFunc(delay, func() { s.fire(userID) })
	s.timers[userID] = e

	s.log.Debugw("Timer registered",
		"user_id", userID, "next_seq", next, "delay", delay)
}

// Deregister drops the user's timer. Safe to call for unknown users.
func (s *Scheduler) Deregister(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.timers[userID]; ok {
		e.timer.Stop()
		delete(s.timers, userID)
	}
}

// Registered reports whether the user currently has a pending timer.
func (s *Scheduler) Registered(userID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[userID]
	return ok
}

func (s *Scheduler) fire(userID int64) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	e, ok := s.timers[userID]
	if !ok {
		// Deregistered between firing and acquiring the lock.
		s.mu.Unlock()
		return
	}

	seq := e.next
	e.next++
	// Re-arm even past the plan's last sequence. Completion belongs to
	// the engine: it deregisters after the final iteration is recorded,
	// so a delivery whose persist failed gets another tick.
	e.timer = time.AfterFunc(e.sched.Interval, func() { s.fire(userID) })

	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.sink.DeliverIteration(s.ctx, userID, seq)
	}()
}

// Rehydrate restores timers for sessions loaded from the store after a
// restart. A session with a broken schedule is handed to the sink for
// abandonment instead of taking the whole scheduler down.
func (s *Scheduler) Rehydrate(ctx context.Context, sessions []*models.UserSession) {
	restored := 0
	for _, sess := range sessions {
		if sess.State != models.StateActive {
			continue
		}
		if err := validateSchedule(sess); err != nil {
			s.log.Errorw("Malformed schedule on rehydration",
				"user_id", sess.UserID, "error", err)
			s.sink.AbandonSession(ctx, sess.UserID, err.Error())
			continue
		}
		s.Register(sess.UserID, sess.Schedule, sess.IterationCursor)
		restored++
	}
	s.log.Infow("Scheduler rehydrated", "sessions", restored)
}

func validateSchedule(sess *models.UserSession) error {
	sched := sess.Schedule
	switch {
	case sched == nil:
		return fmt.Errorf("active session has no schedule")
	case sched.Interval <= 0:
		return fmt.Errorf("schedule interval %v is not positive", sched.Interval)
	case sched.TotalIterations <= 0:
		return fmt.Errorf("schedule has %d iterations", sched.TotalIterations)
	case sess.IterationCursor < 0 || sess.IterationCursor > sched.TotalIterations:
		return fmt.Errorf("iteration cursor %d outside 0..%d",
			sess.IterationCursor, sched.TotalIterations)
	}
	return nil
}

// Stop cancels all timers and waits for in-flight deliveries.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for userID, e := range s.timers {
		e.timer.Stop()
		delete(s.timers, userID)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
