package models

// TemplateID names an outbound prompt. The engine picks the template
// and substitutions; the conversation adapter owns the actual text and
// keyboards.
type TemplateID string

const (
	TplWelcome         TemplateID = "onboarding.welcome"
	TplAskName         TemplateID = "onboarding.ask_name"
	TplAskAge          TemplateID = "onboarding.ask_age"
	TplAgeInvalid      TemplateID = "onboarding.age_invalid"
	TplAskTimezone     TemplateID = "onboarding.ask_timezone"
	TplTimezoneInvalid TemplateID = "onboarding.timezone_invalid"

	TplAskGoal        TemplateID = "plan.ask_goal"
	TplPlanMenu       TemplateID = "plan.menu"
	TplPlanInvalid    TemplateID = "plan.invalid"
	TplRegularPending TemplateID = "plan.regular_pending"

	TplPaymentInstructions TemplateID = "payment.instructions"
	TplPaymentReminder     TemplateID = "payment.reminder"

	TplSetupEmotional TemplateID = "setup.emotional_state"
	TplSetupFocus     TemplateID = "setup.focus_statement"

	TplActiveStatus  TemplateID = "active.status"
	TplIterationTask TemplateID = "active.iteration_task"
	TplCompleted     TemplateID = "active.completed"

	TplAbandoned TemplateID = "session.abandoned"
	TplResetDone TemplateID = "session.reset_done"
	TplTryAgain  TemplateID = "session.try_again"
	TplHelp      TemplateID = "session.help"
)
