package models

import (
	"time"
)

// State is the lifecycle stage of a user session. States are ordered:
// a session only ever moves forward through them, except for the reset
// command which returns it to StateNew.
type State string

const (
	StateNew              State = "new"
	StateOnboarding       State = "onboarding"
	StatePlanSelection    State = "plan_selection"
	StateRegularPending   State = "regular_pending"
	StatePaymentAwait     State = "payment_await"
	StatePaymentConfirmed State = "payment_confirmed"
	StateSetup            State = "setup"
	StateActive           State = "active"
	StateCompleted        State = "completed"
	StateAbandoned        State = "abandoned"
)

// Terminal reports whether no further lifecycle progress is possible
// from s. A reset command still works in a terminal state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAbandoned
}

// Onboarding step numbers. Step 1 collects the display name, step 2 the
// age, step 3 the timezone. OnboardingSteps is the last step.
const OnboardingSteps = 3

// Setup step numbers. Step 1 collects the emotional-state text, step 2
// the focus statement. SetupSteps is the last step.
const SetupSteps = 2

// PaymentStatus tracks the manual payment handshake. It only ever moves
// forward: NotRequested -> Awaiting -> Confirmed.
type PaymentStatus string

const (
	PaymentNotRequested PaymentStatus = "not_requested"
	PaymentAwaiting     PaymentStatus = "awaiting_confirmation"
	PaymentConfirmed    PaymentStatus = "confirmed"
)

// Profile holds the attributes collected during onboarding and setup.
// Fields stay zero until the corresponding step is answered.
type Profile struct {
	DisplayName    string `json:"display_name"`
	Age            int    `json:"age"`
	Timezone       string `json:"timezone"`
	EmotionalState string `json:"emotional_state"`
	FocusStatement string `json:"focus_statement"`
}

// Schedule is the delivery cadence derived from the selected plan when
// setup completes. It is computed once and read-only afterwards; timers
// are always re-derived from it, never persisted on their own.
type Schedule struct {
	StartAt         time.Time     `json:"start_at"`
	Interval        time.Duration `json:"interval"`
	PerDay          int           `json:"per_day"`
	TotalDays       int           `json:"total_days"`
	TotalIterations int           `json:"total_iterations"`
}

// DueAt returns the due time of the 1-based delivery seq, anchored at
// StartAt. Catch-up after downtime re-anchors from "now" instead; that
// is the scheduler's concern, not this formula's.
func (s *Schedule) DueAt(seq int) time.Time {
	return s.StartAt.Add(time.Duration(seq) * s.Interval)
}

// UserSession is the durable per-user record, keyed by the Telegram
// user ID. One row per user; the core never deletes it.
type UserSession struct {
	UserID          int64         `json:"user_id"`
	ChatID          int64         `json:"chat_id"`
	State           State         `json:"state"`
	OnboardingStep  int           `json:"onboarding_step"`
	SetupStep       int           `json:"setup_step"`
	Profile         Profile       `json:"profile"`
	Goal            string        `json:"goal"`
	OrderID         string        `json:"order_id"`
	Plan            Plan          `json:"plan"`
	PaymentStatus   PaymentStatus `json:"payment_status"`
	Schedule        *Schedule     `json:"schedule,omitempty"`
	IterationCursor int           `json:"iteration_cursor"`
	CreatedAt       time.Time     `json:"created_at"`
	LastEventAt     time.Time     `json:"last_event_at"`
}

// NewUserSession returns the blank record created on first contact.
func NewUserSession(userID, chatID int64, now time.Time) *UserSession {
	return &UserSession{
		UserID:        userID,
		ChatID:        chatID,
		State:         StateNew,
		PaymentStatus: PaymentNotRequested,
		CreatedAt:     now,
		LastEventAt:   now,
	}
}

// Clone returns a deep copy. Stores hand out clones so callers can
// never mutate shared state outside an Update mutator.
func (u *UserSession) Clone() *UserSession {
	c := *u
	if u.Schedule != nil {
		sched := *u.Schedule
		c.Schedule = &sched
	}
	return &c
}

// Reset returns the session to StateNew. The profile, goal, order and
// schedule are blanked; plan and payment status are kept as history for
// the record. The caller must have deregistered any live timer first.
func (u *UserSession) Reset(now time.Time) {
	u.State = StateNew
	u.OnboardingStep = 0
	u.SetupStep = 0
	u.Profile = Profile{}
	u.Goal = ""
	u.OrderID = ""
	u.Schedule = nil
	u.IterationCursor = 0
	u.LastEventAt = now
}
