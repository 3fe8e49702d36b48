package models

import (
	"time"
)

// EventPayload is the closed union of inputs the state machine accepts.
// Raw messages are decoded into exactly one of these at the conversation
// adapter boundary; the engine never sees raw transport payloads.
type EventPayload interface {
	eventPayload()
}

// FreeTextAnswer is any plain text the user typed.
type FreeTextAnswer struct {
	Text string
}

// NumericAnswer is a message whose whole text parses as an integer.
type NumericAnswer struct {
	Value int
}

// PlanChoice is a recognized plan keyword or button press.
type PlanChoice struct {
	Plan Plan
}

// PaymentConfirmation is the explicit "I have paid" signal. Payment is
// off-band; this event is the only thing that confirms it.
type PaymentConfirmation struct{}

// ResetCommand restarts the lifecycle from the beginning.
type ResetCommand struct{}

// DeliverIteration is synthetic: emitted by the scheduler, never by the
// adapter. Seq is the 1-based number of the delivery being attempted.
type DeliverIteration struct {
	Seq int
}

func (FreeTextAnswer) eventPayload()      {}
func (NumericAnswer) eventPayload()       {}
func (PlanChoice) eventPayload()          {}
func (PaymentConfirmation) eventPayload() {}
func (ResetCommand) eventPayload()        {}
func (DeliverIteration) eventPayload()    {}

// InboundEvent is one decoded user message plus the transport metadata
// the engine needs for session creation and notifications.
type InboundEvent struct {
	UserID      int64
	ChatID      int64
	Username    string
	DisplayName string
	RawText     string
	At          time.Time
	Payload     EventPayload
}

// OutboundPrompt asks the conversation adapter to render a template to
// the user. Exactly one is produced per processed event.
type OutboundPrompt struct {
	UserID        int64
	ChatID        int64
	TemplateID    TemplateID
	Substitutions map[string]string
}

// NotificationKind enumerates the lifecycle events relayed to the admin
// channel. The payload field set is fixed per kind and additive-only.
type NotificationKind string

const (
	KindNewUser              NotificationKind = "new_user"
	KindRegularPlanRequested NotificationKind = "regular_plan_requested"
	KindPaymentConfirmed     NotificationKind = "payment_confirmed"
	KindSetupCompleted       NotificationKind = "setup_completed"
	KindIterationDelivered   NotificationKind = "iteration_delivered"
	KindError                NotificationKind = "error"
)

// NotificationEvent is ephemeral: produced by the engine, handed to the
// notification bridge, discarded after one delivery attempt.
type NotificationEvent struct {
	Kind    NotificationKind
	UserID  int64
	Payload map[string]string
	At      time.Time
}
