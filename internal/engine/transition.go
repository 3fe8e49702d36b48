package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/DmitryPavl/hackreality-main-bot/internal/models"
	"github.com/DmitryPavl/hackreality-main-bot/internal/timezone"
)

// outcome is everything one transition decides: the prompt to render,
// at most one notification, scheduler intent and whether the session
// changed. A zero prompt means nothing is sent to the user.
type outcome struct {
	prompt     models.TemplateID
	subs       map[string]string
	notif      *models.NotificationEvent
	register   bool
	deregister bool
	mutated    bool
}

// transition applies one event to the session in place. The session is
// the caller's private copy; persistence happens afterwards, outside.
// The returned error is *models.InvalidTransitionError for events the
// current state does not accept; the outcome still carries the
// re-prompt then.
func (e *Engine) transition(sess *models.UserSession, ev models.InboundEvent) (outcome, error) {
	if _, ok := ev.Payload.(models.ResetCommand); ok {
		return e.applyReset(sess, ev), nil
	}

	switch sess.State {
	case models.StateNew:
		return e.beginOnboarding(sess, ev), nil
	case models.StateOnboarding:
		return e.onboarding(sess, ev)
	case models.StatePlanSelection:
		return e.planSelection(sess, ev)
	case models.StateRegularPending:
		// Dead end until the plan ships; any message re-renders the notice.
		return e.renderCurrent(sess), nil
	case models.StatePaymentAwait:
		return e.paymentAwait(sess, ev)
	case models.StatePaymentConfirmed, models.StateSetup:
		return e.setup(sess, ev)
	case models.StateActive:
		return e.active(sess, ev)
	}

	// Completed and Abandoned accept nothing but the reset command.
	return e.rejected(sess, ev)
}

func (e *Engine) applyReset(sess *models.UserSession, ev models.InboundEvent) outcome {
	sess.Reset(ev.At)
	return outcome{prompt: models.TplResetDone, subs: e.subs(sess), deregister: true, mutated: true}
}

// beginOnboarding consumes the first-ever event, whatever it is. The
// welcome prompt asks for the name; the message that triggered it is
// not treated as an answer.
func (e *Engine) beginOnboarding(sess *models.UserSession, ev models.InboundEvent) outcome {
	sess.State = models.StateOnboarding
	sess.OnboardingStep = 1
	sess.LastEventAt = ev.At

	subs := e.subs(sess)
	subs["name"] = ev.DisplayName
	return outcome{prompt: models.TplWelcome, subs: subs, mutated: true}
}

func (e *Engine) onboarding(sess *models.UserSession, ev models.InboundEvent) (outcome, error) {
	switch sess.OnboardingStep {
	case 1: // display name
		text, ok := freeText(ev)
		if !ok {
			return e.rejected(sess, ev)
		}
		sess.Profile.DisplayName = text
		sess.OnboardingStep = 2
		sess.LastEventAt = ev.At
		return outcome{prompt: models.TplAskAge, subs: e.subs(sess), mutated: true}, nil

	case 2: // age
		num, ok := ev.Payload.(models.NumericAnswer)
		if !ok {
			if _, isText := ev.Payload.(models.FreeTextAnswer); isText {
				return outcome{prompt: models.TplAgeInvalid, subs: e.subs(sess)}, nil
			}
			return e.rejected(sess, ev)
		}
		if num.Value < 13 || num.Value > 100 {
			return outcome{prompt: models.TplAgeInvalid, subs: e.subs(sess)}, nil
		}
		sess.Profile.Age = num.Value
		sess.OnboardingStep = 3
		sess.LastEventAt = ev.At
		return outcome{prompt: models.TplAskTimezone, subs: e.subs(sess), mutated: true}, nil

	case 3: // timezone, then on to plan selection
		text, ok := freeText(ev)
		if !ok {
			return e.rejected(sess, ev)
		}
		zone, err := timezone.Resolve(text)
		if err != nil {
			return outcome{prompt: models.TplTimezoneInvalid, subs: e.subs(sess)}, nil
		}
		sess.Profile.Timezone = zone
		sess.State = models.StatePlanSelection
		sess.LastEventAt = ev.At

		subs := e.subs(sess)
		subs["timezone"] = timezone.DisplayName(zone)
		return outcome{prompt: models.TplAskGoal, subs: subs, mutated: true}, nil
	}

	return e.rejected(sess, ev)
}

// planSelection first collects the target goal as free text, then
// expects one of the three plan identifiers.
func (e *Engine) planSelection(sess *models.UserSession, ev models.InboundEvent) (outcome, error) {
	if sess.Goal == "" {
		text, ok := freeText(ev)
		if !ok {
			return e.rejected(sess, ev)
		}
		sess.Goal = text
		sess.LastEventAt = ev.At
		return outcome{prompt: models.TplPlanMenu, subs: e.subs(sess), mutated: true}, nil
	}

	choice, ok := ev.Payload.(models.PlanChoice)
	if !ok {
		if _, isText := ev.Payload.(models.FreeTextAnswer); isText {
			return outcome{prompt: models.TplPlanInvalid, subs: e.subs(sess)}, nil
		}
		return e.rejected(sess, ev)
	}

	spec, ok := choice.Plan.Spec()
	if !ok {
		return outcome{prompt: models.TplPlanInvalid, subs: e.subs(sess)}, nil
	}

	sess.Plan = choice.Plan
	if sess.OrderID == "" {
		sess.OrderID = newOrderID()
	}
	sess.LastEventAt = ev.At

	if !spec.Deliverable {
		sess.State = models.StateRegularPending
		return outcome{
			prompt: models.TplRegularPending,
			subs:   e.subs(sess),
			notif: &models.NotificationEvent{
				Kind:   models.KindRegularPlanRequested,
				UserID: sess.UserID,
				Payload: map[string]string{
					"name":     sess.Profile.DisplayName,
					"goal":     sess.Goal,
					"order_id": sess.OrderID,
				},
				At: ev.At,
			},
			mutated: true,
		}, nil
	}

	if sess.PaymentStatus == models.PaymentConfirmed {
		// Already paid in an earlier run of the lifecycle; payment
		// status never regresses, so skip straight to setup.
		sess.State = models.StatePaymentConfirmed
		sess.SetupStep = 1
		return outcome{prompt: models.TplSetupEmotional, subs: e.subs(sess), mutated: true}, nil
	}

	sess.State = models.StatePaymentAwait
	sess.PaymentStatus = models.PaymentAwaiting

	subs := e.subs(sess)
	if e.payments != nil && e.payments.Configured() {
		link, err := e.payments.CheckoutLink(sess.UserID, sess.OrderID, spec)
		if err != nil {
			e.log.Warnw("Checkout link unavailable, manual transfer only",
				"user_id", sess.UserID, "error", err)
		} else {
			subs["checkout_url"] = link
		}
	}
	return outcome{prompt: models.TplPaymentInstructions, subs: subs, mutated: true}, nil
}

func (e *Engine) paymentAwait(sess *models.UserSession, ev models.InboundEvent) (outcome, error) {
	if _, ok := ev.Payload.(models.PaymentConfirmation); !ok {
		if _, isText := ev.Payload.(models.FreeTextAnswer); isText {
			return outcome{prompt: models.TplPaymentReminder, subs: e.subs(sess)}, nil
		}
		return e.rejected(sess, ev)
	}

	sess.PaymentStatus = models.PaymentConfirmed
	sess.State = models.StatePaymentConfirmed
	sess.SetupStep = 1
	sess.LastEventAt = ev.At

	spec, _ := sess.Plan.Spec()
	return outcome{
		prompt: models.TplSetupEmotional,
		subs:   e.subs(sess),
		notif: &models.NotificationEvent{
			Kind:   models.KindPaymentConfirmed,
			UserID: sess.UserID,
			Payload: map[string]string{
				"name":      sess.Profile.DisplayName,
				"order_id":  sess.OrderID,
				"goal":      sess.Goal,
				"plan_name": spec.Name,
				"price":     spec.Price,
			},
			At: ev.At,
		},
		mutated: true,
	}, nil
}

// setup collects the emotional state (while in PaymentConfirmed) and
// the focus statement (in Setup). Completing the last step computes
// the schedule and activates delivery.
func (e *Engine) setup(sess *models.UserSession, ev models.InboundEvent) (outcome, error) {
	if _, ok := ev.Payload.(models.PaymentConfirmation); ok {
		// Double-tap on the confirmation button after payment is
		// already confirmed. Idempotent: no state change, no second
		// notification.
		return e.renderCurrent(sess), nil
	}

	text, ok := freeText(ev)
	if !ok {
		return e.rejected(sess, ev)
	}

	if sess.State == models.StatePaymentConfirmed {
		sess.Profile.EmotionalState = text
		sess.State = models.StateSetup
		sess.SetupStep = 2
		sess.LastEventAt = ev.At
		return outcome{prompt: models.TplSetupFocus, subs: e.subs(sess), mutated: true}, nil
	}

	sched, err := models.NewSchedule(sess.Plan, ev.At)
	if err != nil {
		e.log.Errorw("Cannot derive schedule",
			"user_id", sess.UserID, "plan", sess.Plan, "error", err)
		return e.rejected(sess, ev)
	}

	sess.Profile.FocusStatement = text
	sess.Schedule = sched
	sess.IterationCursor = 0
	sess.State = models.StateActive
	sess.LastEventAt = ev.At

	spec, _ := sess.Plan.Spec()
	return outcome{
		prompt:   models.TplActiveStatus,
		subs:     e.subs(sess),
		register: true,
		notif: &models.NotificationEvent{
			Kind:   models.KindSetupCompleted,
			UserID: sess.UserID,
			Payload: map[string]string{
				"order_id":  sess.OrderID,
				"goal":      sess.Goal,
				"plan_name": spec.Name,
			},
			At: ev.At,
		},
		mutated: true,
	}, nil
}

// active accepts only scheduler-fired deliveries; everything else a
// user types re-renders the status.
func (e *Engine) active(sess *models.UserSession, ev models.InboundEvent) (outcome, error) {
	del, ok := ev.Payload.(models.DeliverIteration)
	if !ok {
		return e.rejected(sess, ev)
	}
	if sess.Schedule == nil {
		return outcome{}, fmt.Errorf("active session %d has no schedule", sess.UserID)
	}

	sess.IterationCursor = del.Seq
	sess.LastEventAt = ev.At

	subs := e.subs(sess)
	subs["seq"] = strconv.Itoa(del.Seq)

	notif := &models.NotificationEvent{
		Kind:   models.KindIterationDelivered,
		UserID: sess.UserID,
		Payload: map[string]string{
			"order_id": sess.OrderID,
			"seq":      strconv.Itoa(del.Seq),
			"total":    strconv.Itoa(sess.Schedule.TotalIterations),
		},
		At: ev.At,
	}

	if sess.IterationCursor >= sess.Schedule.TotalIterations {
		sess.State = models.StateCompleted
		return outcome{prompt: models.TplCompleted, subs: subs, notif: notif, deregister: true, mutated: true}, nil
	}
	return outcome{prompt: models.TplIterationTask, subs: subs, notif: notif, mutated: true}, nil
}

func (e *Engine) rejected(sess *models.UserSession, ev models.InboundEvent) (outcome, error) {
	return e.renderCurrent(sess), &models.InvalidTransitionError{State: sess.State, Event: ev.Payload}
}

// renderCurrent re-renders the prompt the session is waiting on, with
// no state change.
func (e *Engine) renderCurrent(sess *models.UserSession) outcome {
	return outcome{prompt: currentPrompt(sess), subs: e.subs(sess)}
}

func currentPrompt(sess *models.UserSession) models.TemplateID {
	switch sess.State {
	case models.StateNew:
		return models.TplWelcome
	case models.StateOnboarding:
		switch sess.OnboardingStep {
		case 1:
			return models.TplAskName
		case 2:
			return models.TplAskAge
		default:
			return models.TplAskTimezone
		}
	case models.StatePlanSelection:
		if sess.Goal == "" {
			return models.TplAskGoal
		}
		return models.TplPlanMenu
	case models.StateRegularPending:
		return models.TplRegularPending
	case models.StatePaymentAwait:
		return models.TplPaymentReminder
	case models.StatePaymentConfirmed:
		return models.TplSetupEmotional
	case models.StateSetup:
		return models.TplSetupFocus
	case models.StateActive:
		return models.TplActiveStatus
	case models.StateCompleted:
		return models.TplCompleted
	case models.StateAbandoned:
		return models.TplAbandoned
	}
	return models.TplHelp
}

// subs builds the substitution set every template draws from.
func (e *Engine) subs(sess *models.UserSession) map[string]string {
	m := map[string]string{
		"name":     sess.Profile.DisplayName,
		"goal":     sess.Goal,
		"focus":    sess.Profile.FocusStatement,
		"order_id": sess.OrderID,
	}
	if spec, ok := sess.Plan.Spec(); ok {
		m["plan_name"] = spec.Name
		m["price"] = spec.Price
	}
	if sess.Schedule != nil {
		m["per_day"] = strconv.Itoa(sess.Schedule.PerDay)
		m["total_days"] = strconv.Itoa(sess.Schedule.TotalDays)
		m["total"] = strconv.Itoa(sess.Schedule.TotalIterations)
		m["done"] = strconv.Itoa(sess.IterationCursor)
	}
	return m
}

func freeText(ev models.InboundEvent) (string, bool) {
	t, ok := ev.Payload.(models.FreeTextAnswer)
	if !ok {
		return "", false
	}
	text := strings.TrimSpace(t.Text)
	if text == "" || strings.HasPrefix(text, "/") {
		return "", false
	}
	return text, true
}

func newOrderID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
