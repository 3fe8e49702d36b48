// Package engine implements the user lifecycle state machine. It is
// the only component that mutates sessions; the conversation adapter
// feeds it decoded events and the scheduler feeds it synthetic
// delivery events, both serialized per user.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/DmitryPavl/hackreality-main-bot/internal/content"
	"github.com/DmitryPavl/hackreality-main-bot/internal/db"
	"github.com/DmitryPavl/hackreality-main-bot/internal/models"
	"github.com/DmitryPavl/hackreality-main-bot/internal/notify"
	"github.com/DmitryPavl/hackreality-main-bot/pkg/logger"
)

// Sender renders an outbound prompt to the user. The Telegram adapter
// implements it.
type Sender interface {
	SendPrompt(ctx context.Context, prompt models.OutboundPrompt) error
}

// Registrar is the scheduler surface the engine drives.
type Registrar interface {
	Register(userID int64, sched *models.Schedule, cursor int)
	Deregister(userID int64)
}

// PaymentLinker creates a hosted checkout link for an order. Optional;
// without it the payment prompt carries manual instructions only.
type PaymentLinker interface {
	Configured() bool
	CheckoutLink(userID int64, orderID string, spec models.PlanSpec) (string, error)
}

const (
	storeAttempts    = 3
	storeRetryDelay  = 100 * time.Millisecond
	notifySendBudget = 10 * time.Second
)

type Engine struct {
	store    db.SessionStore
	bridge   notify.Bridge
	gen      content.Generator
	payments PaymentLinker
	log      *logger.Logger

	sender Sender
	sched  Registrar

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func New(store db.SessionStore, bridge notify.Bridge, gen content.Generator, payments PaymentLinker, log *logger.Logger) *Engine {
	return &Engine{
		store:    store,
		bridge:   bridge,
		gen:      gen,
		payments: payments,
		log:      log,
		locks:    make(map[int64]*sync.Mutex),
	}
}

// AttachSender wires the conversation adapter. Must be called before
// the first event; the adapter and the engine reference each other, so
// this cannot happen in New.
func (e *Engine) AttachSender(s Sender) { e.sender = s }

// AttachScheduler wires the scheduler, which likewise holds the engine
// as its delivery sink.
func (e *Engine) AttachScheduler(r Registrar) { e.sched = r }

// userLock returns the mutex serializing all mutations for one user.
// Inbound events and scheduler deliveries both go through it.
func (e *Engine) userLock(userID int64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[userID] = l
	}
	return l
}

// HandleInbound processes one decoded user message: create the session
// on first contact, run the transition, persist, arm or drop timers,
// answer the user. Returns an error only when the store stayed
// unreachable through retries; the user got a "try again" prompt then.
func (e *Engine) HandleInbound(ctx context.Context, ev models.InboundEvent) error {
	lock := e.userLock(ev.UserID)
	lock.Lock()
	defer lock.Unlock()

	var (
		sess    *models.UserSession
		created bool
	)
	err := e.withRetry(ctx, func() error {
		var err error
		sess, created, err = e.store.CreateIfAbsent(ctx, ev.UserID, ev.ChatID)
		return err
	})
	if err != nil {
		e.log.Errorw("Session lookup failed", "user_id", ev.UserID, "error", err)
		e.sendPrompt(ctx, ev.UserID, ev.ChatID, models.TplTryAgain, nil)
		e.notifyError(ev.UserID, err, "session lookup")
		return err
	}

	if created {
		e.notify(models.NotificationEvent{
			Kind:   models.KindNewUser,
			UserID: ev.UserID,
			Payload: map[string]string{
				"name":     ev.DisplayName,
				"username": ev.Username,
			},
			At: ev.At,
		})
		e.log.Infow("New session created", "user_id", ev.UserID)
	}

	out, terr := e.transition(sess, ev)
	if terr != nil {
		var invalid *models.InvalidTransitionError
		if errors.As(terr, &invalid) {
			e.log.Warnw("Rejected event for current state",
				"user_id", ev.UserID, "error", terr)
		} else {
			e.log.Errorw("Transition failed", "user_id", ev.UserID, "error", terr)
		}
	}

	if out.mutated {
		next := sess.Clone()
		err := e.withRetry(ctx, func() error {
			_, err := e.store.Update(ctx, ev.UserID, func(s *models.UserSession) error {
				*s = *next
				return nil
			})
			return err
		})
		if err != nil {
			e.log.Errorw("Session update failed", "user_id", ev.UserID, "error", err)
			e.sendPrompt(ctx, ev.UserID, ev.ChatID, models.TplTryAgain, nil)
			e.notifyError(ev.UserID, err, "session update")
			return err
		}
	}

	// Timer changes apply only once the session update is durable; a
	// failed update leaves the previous timer state in place.
	if out.deregister {
		e.deregister(ev.UserID)
	}
	if out.register {
		e.register(ev.UserID, sess.Schedule, sess.IterationCursor)
	}

	if out.prompt != "" {
		e.sendPrompt(ctx, ev.UserID, ev.ChatID, out.prompt, out.subs)
	}
	if out.notif != nil {
		e.notify(*out.notif)
	}
	return nil
}

// DeliverIteration is the scheduler sink: one due delivery for the
// user. Stale fires (sequence at or below the cursor) and fires for
// sessions no longer active are dropped without a prompt.
func (e *Engine) DeliverIteration(ctx context.Context, userID int64, seq int) {
	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	var sess *models.UserSession
	err := e.withRetry(ctx, func() error {
		var err error
		sess, err = e.store.Get(ctx, userID)
		return err
	})
	if err != nil {
		e.log.Errorw("Delivery aborted, session unreadable",
			"user_id", userID, "seq", seq, "error", err)
		e.notifyError(userID, err, "iteration delivery")
		return
	}

	if sess.State != models.StateActive {
		e.log.Debugw("Dropping delivery for inactive session",
			"user_id", userID, "state", sess.State, "seq", seq)
		return
	}
	if seq <= sess.IterationCursor {
		e.log.Debugw("Dropping stale delivery",
			"user_id", userID, "seq", seq, "cursor", sess.IterationCursor)
		return
	}

	// A fire is a tick; what gets delivered is always the iteration
	// after the cursor, so a missed persist never skips content.
	next := sess.IterationCursor + 1

	task, err := e.gen.IterationTask(ctx, sess, next)
	if err != nil {
		e.log.Warnw("Task generation failed, using canned task",
			"user_id", userID, "seq", next, "error", err)
		task, _ = content.StaticGenerator{}.IterationTask(ctx, sess, next)
	}

	ev := models.InboundEvent{
		UserID:  userID,
		ChatID:  sess.ChatID,
		At:      time.Now().UTC(),
		Payload: models.DeliverIteration{Seq: next},
	}
	out, terr := e.transition(sess, ev)
	if terr != nil {
		e.log.Errorw("Delivery transition failed", "user_id", userID, "error", terr)
		return
	}
	if out.subs != nil {
		out.subs["task"] = task
		out.subs["reminder"] = content.Reminder(next)
	}

	if out.mutated {
		nextSess := sess.Clone()
		err := e.withRetry(ctx, func() error {
			_, err := e.store.Update(ctx, userID, func(s *models.UserSession) error {
				*s = *nextSess
				return nil
			})
			return err
		})
		if err != nil {
			e.log.Errorw("Delivery not persisted, will retry on next tick",
				"user_id", userID, "seq", next, "error", err)
			e.notifyError(userID, err, "iteration delivery")
			return
		}
	}

	// Only a durably recorded final iteration stops the ticks.
	if out.deregister {
		e.deregister(userID)
	}

	if out.prompt != "" {
		e.sendPrompt(ctx, userID, sess.ChatID, out.prompt, out.subs)
	}
	if out.notif != nil {
		e.notify(*out.notif)
	}
}

// AbandonSession marks one session as abandoned, used by the scheduler
// when rehydration finds a schedule it cannot honor. The rest of the
// system keeps running.
func (e *Engine) AbandonSession(ctx context.Context, userID int64, reason string) {
	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	e.deregister(userID)

	var chatID int64
	err := e.withRetry(ctx, func() error {
		sess, err := e.store.Update(ctx, userID, func(s *models.UserSession) error {
			s.State = models.StateAbandoned
			s.LastEventAt = time.Now().UTC()
			return nil
		})
		if err == nil {
			chatID = sess.ChatID
		}
		return err
	})
	if err != nil {
		e.log.Errorw("Failed to mark session abandoned",
			"user_id", userID, "reason", reason, "error", err)
		return
	}

	e.log.Warnw("Session abandoned", "user_id", userID, "reason", reason)
	e.sendPrompt(ctx, userID, chatID, models.TplAbandoned, nil)
	e.notify(models.NotificationEvent{
		Kind:   models.KindError,
		UserID: userID,
		Payload: map[string]string{
			"error":   reason,
			"context": "scheduler rehydration",
		},
		At: time.Now().UTC(),
	})
}

func (e *Engine) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 1; attempt <= storeAttempts; attempt++ {
		err = op()
		if err == nil || !errors.Is(err, models.ErrStoreUnavailable) {
			return err
		}
		e.log.Warnw("Session store unavailable, retrying",
			"attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt) * storeRetryDelay):
		}
	}
	return err
}

func (e *Engine) register(userID int64, sched *models.Schedule, cursor int) {
	if e.sched == nil {
		e.log.Errorw("No scheduler attached", "user_id", userID)
		return
	}
	e.sched.Register(userID, sched, cursor)
}

func (e *Engine) deregister(userID int64) {
	if e.sched == nil {
		return
	}
	e.sched.Deregister(userID)
}

func (e *Engine) sendPrompt(ctx context.Context, userID, chatID int64, tpl models.TemplateID, subs map[string]string) {
	if e.sender == nil {
		e.log.Errorw("No sender attached", "user_id", userID, "template", tpl)
		return
	}
	prompt := models.OutboundPrompt{
		UserID:        userID,
		ChatID:        chatID,
		TemplateID:    tpl,
		Substitutions: subs,
	}
	if err := e.sender.SendPrompt(ctx, prompt); err != nil {
		e.log.Errorw("Prompt delivery failed",
			"user_id", userID, "template", tpl, "error", err)
	}
}

// notify hands the event to the bridge on its own goroutine so the
// admin channel can never stall a user-facing transition.
func (e *Engine) notify(ev models.NotificationEvent) {
	if e.bridge == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifySendBudget)
		defer cancel()
		if err := e.bridge.Send(ctx, ev); err != nil {
			e.log.Errorw("Notification lost",
				"kind", ev.Kind, "user_id", ev.UserID, "error", err)
		}
	}()
}

func (e *Engine) notifyError(userID int64, err error, context string) {
	e.notify(models.NotificationEvent{
		Kind:   models.KindError,
		UserID: userID,
		Payload: map[string]string{
			"error":   err.Error(),
			"context": context,
		},
		At: time.Now().UTC(),
	})
}
