package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DmitryPavl/hackreality-main-bot/internal/content"
	"github.com/DmitryPavl/hackreality-main-bot/internal/db"
	"github.com/DmitryPavl/hackreality-main-bot/internal/models"
	"github.com/DmitryPavl/hackreality-main-bot/internal/notify"
	"github.com/DmitryPavl/hackreality-main-bot/internal/scheduler"
	"github.com/DmitryPavl/hackreality-main-bot/pkg/logger"
)

type promptRecorder struct {
	mu      sync.Mutex
	prompts []models.OutboundPrompt
}

func (p *promptRecorder) SendPrompt(ctx context.Context, prompt models.OutboundPrompt) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, prompt)
	return nil
}

func (p *promptRecorder) last() models.OutboundPrompt {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.prompts) == 0 {
		return models.OutboundPrompt{}
	}
	return p.prompts[len(p.prompts)-1]
}

func (p *promptRecorder) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.prompts)
}

type fakeScheduler struct {
	mu           sync.Mutex
	registered   map[int64]int
	deregistered map[int64]int
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		registered:   make(map[int64]int),
		deregistered: make(map[int64]int),
	}
}

func (f *fakeScheduler) Register(userID int64, sched *models.Schedule, cursor int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered[userID] = cursor
}

func (f *fakeScheduler) Deregister(userID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deregistered[userID]++
	delete(f.registered, userID)
}

func (f *fakeScheduler) isRegistered(userID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.registered[userID]
	return ok
}

func (f *fakeScheduler) deregisterCount(userID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deregistered[userID]
}

type fixture struct {
	engine *Engine
	store  db.SessionStore
	bridge *notify.Recorder
	sched  *fakeScheduler
	sender *promptRecorder
}

func newFixture() *fixture {
	f := &fixture{
		store:  db.NewMemoryStore(),
		bridge: notify.NewRecorder(),
		sched:  newFakeScheduler(),
		sender: &promptRecorder{},
	}
	f.engine = New(f.store, f.bridge, content.StaticGenerator{}, nil, logger.NewNop())
	f.engine.AttachScheduler(f.sched)
	f.engine.AttachSender(f.sender)
	return f
}

func (f *fixture) inbound(t *testing.T, userID int64, payload models.EventPayload) models.OutboundPrompt {
	t.Helper()
	ev := models.InboundEvent{
		UserID:      userID,
		ChatID:      userID,
		Username:    "alice_runs",
		DisplayName: "Alice",
		At:          time.Now().UTC(),
		Payload:     payload,
	}
	require.NoError(t, f.engine.HandleInbound(context.Background(), ev))
	return f.sender.last()
}

func (f *fixture) session(t *testing.T, userID int64) *models.UserSession {
	t.Helper()
	s, err := f.store.Get(context.Background(), userID)
	require.NoError(t, err)
	return s
}

func (f *fixture) advanceToActive(t *testing.T, userID int64, plan models.Plan) {
	t.Helper()
	f.inbound(t, userID, models.FreeTextAnswer{Text: "привет"})
	f.inbound(t, userID, models.FreeTextAnswer{Text: "Алиса"})
	f.inbound(t, userID, models.NumericAnswer{Value: 30})
	f.inbound(t, userID, models.FreeTextAnswer{Text: "Москва"})
	f.inbound(t, userID, models.FreeTextAnswer{Text: "пробежать марафон"})
	f.inbound(t, userID, models.PlanChoice{Plan: plan})
	f.inbound(t, userID, models.PaymentConfirmation{})
	f.inbound(t, userID, models.FreeTextAnswer{Text: "немного тревожно"})
	f.inbound(t, userID, models.FreeTextAnswer{Text: "Я двигаюсь к цели каждый день"})
}

func (f *fixture) waitNotifications(t *testing.T, kind models.NotificationKind, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.bridge.CountByKind(kind) == want
	}, 2*time.Second, 10*time.Millisecond,
		"expected %d notifications of kind %s", want, kind)
}

func TestFullLifecycle(t *testing.T) {
	f := newFixture()
	const u1 = int64(101)

	// First-ever event creates the session and starts onboarding.
	prompt := f.inbound(t, u1, models.FreeTextAnswer{Text: "/start"})
	assert.Equal(t, models.TplWelcome, prompt.TemplateID)
	sess := f.session(t, u1)
	assert.Equal(t, models.StateOnboarding, sess.State)
	assert.Equal(t, 1, sess.OnboardingStep)
	assert.Nil(t, sess.Schedule)
	f.waitNotifications(t, models.KindNewUser, 1)

	// Name.
	prompt = f.inbound(t, u1, models.FreeTextAnswer{Text: "Алиса"})
	assert.Equal(t, models.TplAskAge, prompt.TemplateID)
	sess = f.session(t, u1)
	assert.Equal(t, 2, sess.OnboardingStep)
	assert.Equal(t, "Алиса", sess.Profile.DisplayName)

	// Age.
	prompt = f.inbound(t, u1, models.NumericAnswer{Value: 30})
	assert.Equal(t, models.TplAskTimezone, prompt.TemplateID)
	assert.Equal(t, 30, f.session(t, u1).Profile.Age)

	// Timezone ends onboarding; goal question opens plan selection.
	prompt = f.inbound(t, u1, models.FreeTextAnswer{Text: "Москва"})
	assert.Equal(t, models.TplAskGoal, prompt.TemplateID)
	sess = f.session(t, u1)
	assert.Equal(t, models.StatePlanSelection, sess.State)
	assert.Equal(t, "Europe/Moscow", sess.Profile.Timezone)

	// A plan press before the goal is rejected.
	prompt = f.inbound(t, u1, models.PlanChoice{Plan: models.PlanExtreme})
	assert.Equal(t, models.TplAskGoal, prompt.TemplateID)
	assert.Empty(t, f.session(t, u1).Goal)

	// Goal, then the plan menu.
	prompt = f.inbound(t, u1, models.FreeTextAnswer{Text: "пробежать марафон"})
	assert.Equal(t, models.TplPlanMenu, prompt.TemplateID)

	// Plan choice opens the payment handshake.
	prompt = f.inbound(t, u1, models.PlanChoice{Plan: models.PlanExtreme})
	assert.Equal(t, models.TplPaymentInstructions, prompt.TemplateID)
	sess = f.session(t, u1)
	assert.Equal(t, models.StatePaymentAwait, sess.State)
	assert.Equal(t, models.PlanExtreme, sess.Plan)
	assert.Equal(t, models.PaymentAwaiting, sess.PaymentStatus)
	assert.Len(t, sess.OrderID, 8)
	assert.Nil(t, sess.Schedule)

	// Confirmation moves into setup.
	prompt = f.inbound(t, u1, models.PaymentConfirmation{})
	assert.Equal(t, models.TplSetupEmotional, prompt.TemplateID)
	sess = f.session(t, u1)
	assert.Equal(t, models.StatePaymentConfirmed, sess.State)
	assert.Equal(t, models.PaymentConfirmed, sess.PaymentStatus)
	f.waitNotifications(t, models.KindPaymentConfirmed, 1)

	// Setup answers.
	prompt = f.inbound(t, u1, models.FreeTextAnswer{Text: "немного тревожно"})
	assert.Equal(t, models.TplSetupFocus, prompt.TemplateID)
	assert.Equal(t, models.StateSetup, f.session(t, u1).State)

	prompt = f.inbound(t, u1, models.FreeTextAnswer{Text: "Я бегу каждое утро"})
	assert.Equal(t, models.TplActiveStatus, prompt.TemplateID)
	sess = f.session(t, u1)
	assert.Equal(t, models.StateActive, sess.State)
	require.NotNil(t, sess.Schedule)
	assert.Equal(t, 6, sess.Schedule.PerDay)
	assert.Equal(t, 7, sess.Schedule.TotalDays)
	assert.Equal(t, 42, sess.Schedule.TotalIterations)
	assert.Equal(t, 3*time.Hour, sess.Schedule.Interval)
	assert.Equal(t, 0, sess.IterationCursor)
	assert.True(t, f.sched.isRegistered(u1))
	f.waitNotifications(t, models.KindSetupCompleted, 1)

	// Exactly one NewUser notification over the whole walk.
	f.waitNotifications(t, models.KindNewUser, 1)
}

func TestOnboardingValidation(t *testing.T) {
	f := newFixture()
	const u = int64(7)

	f.inbound(t, u, models.FreeTextAnswer{Text: "/start"})
	f.inbound(t, u, models.FreeTextAnswer{Text: "Боб"})

	// Age out of range and non-numeric both re-prompt without advancing.
	prompt := f.inbound(t, u, models.NumericAnswer{Value: 150})
	assert.Equal(t, models.TplAgeInvalid, prompt.TemplateID)
	prompt = f.inbound(t, u, models.FreeTextAnswer{Text: "тридцать"})
	assert.Equal(t, models.TplAgeInvalid, prompt.TemplateID)
	assert.Equal(t, 2, f.session(t, u).OnboardingStep)

	f.inbound(t, u, models.NumericAnswer{Value: 30})

	// Unresolvable timezone re-prompts step 3.
	prompt = f.inbound(t, u, models.FreeTextAnswer{Text: "узнаю позже"})
	assert.Equal(t, models.TplTimezoneInvalid, prompt.TemplateID)
	assert.Equal(t, 3, f.session(t, u).OnboardingStep)

	prompt = f.inbound(t, u, models.FreeTextAnswer{Text: "UTC+5"})
	assert.Equal(t, models.TplAskGoal, prompt.TemplateID)
	assert.Equal(t, "UTC+5", f.session(t, u).Profile.Timezone)
}

func TestPaymentConfirmationIdempotent(t *testing.T) {
	f := newFixture()
	const u = int64(8)

	f.inbound(t, u, models.FreeTextAnswer{Text: "/start"})
	f.inbound(t, u, models.FreeTextAnswer{Text: "Боб"})
	f.inbound(t, u, models.NumericAnswer{Value: 25})
	f.inbound(t, u, models.FreeTextAnswer{Text: "Казань"})
	f.inbound(t, u, models.FreeTextAnswer{Text: "выучить испанский"})
	f.inbound(t, u, models.PlanChoice{Plan: models.PlanTwoWeek})
	f.inbound(t, u, models.PaymentConfirmation{})
	f.waitNotifications(t, models.KindPaymentConfirmed, 1)

	before := f.session(t, u)

	// Second confirmation: same state, same prompt, no new notification.
	prompt := f.inbound(t, u, models.PaymentConfirmation{})
	assert.Equal(t, models.TplSetupEmotional, prompt.TemplateID)
	after := f.session(t, u)
	assert.Equal(t, before.State, after.State)
	assert.Equal(t, before.PaymentStatus, after.PaymentStatus)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, f.bridge.CountByKind(models.KindPaymentConfirmed))
}

func TestRegularPlanDeadEnd(t *testing.T) {
	f := newFixture()
	const u = int64(9)

	f.inbound(t, u, models.FreeTextAnswer{Text: "/start"})
	f.inbound(t, u, models.FreeTextAnswer{Text: "Вера"})
	f.inbound(t, u, models.NumericAnswer{Value: 41})
	f.inbound(t, u, models.FreeTextAnswer{Text: "Омск"})
	f.inbound(t, u, models.FreeTextAnswer{Text: "сменить работу"})

	prompt := f.inbound(t, u, models.PlanChoice{Plan: models.PlanRegular})
	assert.Equal(t, models.TplRegularPending, prompt.TemplateID)
	sess := f.session(t, u)
	assert.Equal(t, models.StateRegularPending, sess.State)
	assert.Equal(t, models.PlanRegular, sess.Plan)
	assert.Equal(t, models.PaymentNotRequested, sess.PaymentStatus)
	assert.NotEmpty(t, sess.OrderID)
	f.waitNotifications(t, models.KindRegularPlanRequested, 1)

	// The dead end answers everything with the same notice, and no
	// plan switch escapes it.
	prompt = f.inbound(t, u, models.FreeTextAnswer{Text: "а когда будет готово?"})
	assert.Equal(t, models.TplRegularPending, prompt.TemplateID)
	prompt = f.inbound(t, u, models.PlanChoice{Plan: models.PlanExtreme})
	assert.Equal(t, models.TplRegularPending, prompt.TemplateID)
	sess = f.session(t, u)
	assert.Equal(t, models.StateRegularPending, sess.State)
	assert.Equal(t, models.PlanRegular, sess.Plan)
	assert.False(t, f.sched.isRegistered(u))
}

func TestInvalidEventInActiveReprompts(t *testing.T) {
	f := newFixture()
	const u = int64(10)
	f.advanceToActive(t, u, models.PlanExtreme)

	before := f.sender.count()
	prompt := f.inbound(t, u, models.FreeTextAnswer{Text: "как дела?"})
	assert.Equal(t, models.TplActiveStatus, prompt.TemplateID)
	assert.Equal(t, before+1, f.sender.count())
	assert.Equal(t, models.StateActive, f.session(t, u).State)
}

func TestIterationDelivery(t *testing.T) {
	f := newFixture()
	const u = int64(11)
	f.advanceToActive(t, u, models.PlanExtreme)

	ctx := context.Background()
	f.engine.DeliverIteration(ctx, u, 1)

	prompt := f.sender.last()
	assert.Equal(t, models.TplIterationTask, prompt.TemplateID)
	assert.NotEmpty(t, prompt.Substitutions["task"])
	assert.NotEmpty(t, prompt.Substitutions["reminder"])
	assert.Equal(t, "1", prompt.Substitutions["seq"])
	assert.Equal(t, "42", prompt.Substitutions["total"])
	assert.Equal(t, 1, f.session(t, u).IterationCursor)
	f.waitNotifications(t, models.KindIterationDelivered, 1)

	// A stale re-fire for an already delivered sequence is dropped.
	before := f.sender.count()
	f.engine.DeliverIteration(ctx, u, 1)
	assert.Equal(t, before, f.sender.count())
	assert.Equal(t, 1, f.session(t, u).IterationCursor)
}

func TestFinalIterationCompletesSession(t *testing.T) {
	f := newFixture()
	const u = int64(12)
	f.advanceToActive(t, u, models.PlanExtreme)

	ctx := context.Background()
	_, err := f.store.Update(ctx, u, func(s *models.UserSession) error {
		s.IterationCursor = 41
		return nil
	})
	require.NoError(t, err)

	f.engine.DeliverIteration(ctx, u, 42)

	sess := f.session(t, u)
	assert.Equal(t, 42, sess.IterationCursor)
	assert.Equal(t, models.StateCompleted, sess.State)
	assert.Equal(t, models.TplCompleted, f.sender.last().TemplateID)
	assert.False(t, f.sched.isRegistered(u))
	assert.Equal(t, 1, f.sched.deregisterCount(u))

	// Deliveries after completion are dropped.
	before := f.sender.count()
	f.engine.DeliverIteration(ctx, u, 43)
	assert.Equal(t, before, f.sender.count())
	assert.Equal(t, 42, f.session(t, u).IterationCursor)
}

func TestCursorNeverExceedsTotal(t *testing.T) {
	f := newFixture()
	const u = int64(13)
	f.advanceToActive(t, u, models.PlanTwoWeek)

	ctx := context.Background()
	total := f.session(t, u).Schedule.TotalIterations
	for seq := 1; seq <= total+3; seq++ {
		f.engine.DeliverIteration(ctx, u, seq)
		sess := f.session(t, u)
		assert.LessOrEqual(t, sess.IterationCursor, total)
	}

	sess := f.session(t, u)
	assert.Equal(t, total, sess.IterationCursor)
	assert.Equal(t, models.StateCompleted, sess.State)
}

func TestResetKeepsPlanAndPaymentHistory(t *testing.T) {
	f := newFixture()
	const u = int64(14)
	f.advanceToActive(t, u, models.PlanExtreme)
	require.True(t, f.sched.isRegistered(u))

	prompt := f.inbound(t, u, models.ResetCommand{})
	assert.Equal(t, models.TplResetDone, prompt.TemplateID)

	sess := f.session(t, u)
	assert.Equal(t, models.StateNew, sess.State)
	assert.Equal(t, models.Profile{}, sess.Profile)
	assert.Empty(t, sess.Goal)
	assert.Empty(t, sess.OrderID)
	assert.Nil(t, sess.Schedule)
	assert.Equal(t, 0, sess.IterationCursor)
	assert.Equal(t, models.PlanExtreme, sess.Plan, "plan history survives reset")
	assert.Equal(t, models.PaymentConfirmed, sess.PaymentStatus, "payment history survives reset")
	assert.False(t, f.sched.isRegistered(u))

	// No second NewUser notification after a reset.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, f.bridge.CountByKind(models.KindNewUser))
}

func TestRepeatLifecycleSkipsPaymentWhenAlreadyConfirmed(t *testing.T) {
	f := newFixture()
	const u = int64(15)
	f.advanceToActive(t, u, models.PlanExtreme)
	f.inbound(t, u, models.ResetCommand{})

	f.inbound(t, u, models.FreeTextAnswer{Text: "снова привет"})
	f.inbound(t, u, models.FreeTextAnswer{Text: "Алиса"})
	f.inbound(t, u, models.NumericAnswer{Value: 30})
	f.inbound(t, u, models.FreeTextAnswer{Text: "Москва"})
	f.inbound(t, u, models.FreeTextAnswer{Text: "новая цель"})

	prompt := f.inbound(t, u, models.PlanChoice{Plan: models.PlanTwoWeek})
	assert.Equal(t, models.TplSetupEmotional, prompt.TemplateID,
		"confirmed payment is never requested again")
	sess := f.session(t, u)
	assert.Equal(t, models.StatePaymentConfirmed, sess.State)
	assert.Equal(t, models.PaymentConfirmed, sess.PaymentStatus)

	f.inbound(t, u, models.FreeTextAnswer{Text: "спокойно"})
	f.inbound(t, u, models.FreeTextAnswer{Text: "маленькие шаги каждый день"})

	sess = f.session(t, u)
	assert.Equal(t, models.StateActive, sess.State)
	require.NotNil(t, sess.Schedule)
	assert.Equal(t, 14, sess.Schedule.TotalIterations)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, f.bridge.CountByKind(models.KindPaymentConfirmed),
		"no duplicate payment notification on the second lifecycle")
}

func TestAbandonSession(t *testing.T) {
	f := newFixture()
	const u = int64(16)
	f.advanceToActive(t, u, models.PlanExtreme)

	ctx := context.Background()
	f.engine.AbandonSession(ctx, u, "schedule interval 0s is not positive")

	sess := f.session(t, u)
	assert.Equal(t, models.StateAbandoned, sess.State)
	assert.Equal(t, models.TplAbandoned, f.sender.last().TemplateID)
	assert.False(t, f.sched.isRegistered(u))
	f.waitNotifications(t, models.KindError, 1)

	// Terminal: ordinary messages only re-render the notice.
	prompt := f.inbound(t, u, models.FreeTextAnswer{Text: "ау"})
	assert.Equal(t, models.TplAbandoned, prompt.TemplateID)
	assert.Equal(t, models.StateAbandoned, f.session(t, u).State)

	// The reset command still works from a terminal state.
	prompt = f.inbound(t, u, models.ResetCommand{})
	assert.Equal(t, models.TplResetDone, prompt.TemplateID)
	assert.Equal(t, models.StateNew, f.session(t, u).State)
}

type flakyStore struct {
	db.SessionStore
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyStore) CreateIfAbsent(ctx context.Context, userID, chatID int64) (*models.UserSession, bool, error) {
	f.mu.Lock()
	f.calls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()

	if fail {
		return nil, false, fmt.Errorf("dial tcp 10.0.0.1:5432: %w", models.ErrStoreUnavailable)
	}
	return f.SessionStore.CreateIfAbsent(ctx, userID, chatID)
}

func TestStoreOutageIsRetried(t *testing.T) {
	f := newFixture()
	flaky := &flakyStore{SessionStore: f.store, failures: 2}
	f.engine.store = flaky

	prompt := f.inbound(t, 17, models.FreeTextAnswer{Text: "/start"})
	assert.Equal(t, models.TplWelcome, prompt.TemplateID)
	assert.Equal(t, 3, flaky.calls)
}

func TestStoreOutageRendersTryAgain(t *testing.T) {
	f := newFixture()
	flaky := &flakyStore{SessionStore: f.store, failures: 10}
	f.engine.store = flaky

	ev := models.InboundEvent{
		UserID:  18,
		ChatID:  18,
		At:      time.Now().UTC(),
		Payload: models.FreeTextAnswer{Text: "/start"},
	}
	err := f.engine.HandleInbound(context.Background(), ev)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	assert.Equal(t, models.TplTryAgain, f.sender.last().TemplateID)
	f.waitNotifications(t, models.KindError, 1)
}

// outageStore lets a fixed number of Update calls through, then fails
// the next failures calls with a connectivity error.
type outageStore struct {
	db.SessionStore

	mu       sync.Mutex
	after    int
	failures int
	calls    int
}

func (o *outageStore) Update(ctx context.Context, userID int64, fn db.Mutator) (*models.UserSession, error) {
	o.mu.Lock()
	o.calls++
	fail := o.calls > o.after && o.failures > 0
	if fail {
		o.failures--
	}
	o.mu.Unlock()

	if fail {
		return nil, fmt.Errorf("dial tcp 10.0.0.1:5432: %w", models.ErrStoreUnavailable)
	}
	return o.SessionStore.Update(ctx, userID, fn)
}

func (o *outageStore) updateCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

func TestStoreOutageDuringDeliveryHealsOnNextTick(t *testing.T) {
	f := newFixture()
	const userID = int64(19)
	ctx := context.Background()

	_, _, err := f.store.CreateIfAbsent(ctx, userID, userID)
	require.NoError(t, err)
	_, err = f.store.Update(ctx, userID, func(s *models.UserSession) error {
		s.State = models.StateActive
		s.Goal = "пробежать марафон"
		s.Plan = models.PlanExtreme
		s.PaymentStatus = models.PaymentConfirmed
		s.Schedule = &models.Schedule{
			StartAt:         time.Now(),
			Interval:        150 * time.Millisecond,
			PerDay:          1,
			TotalDays:       2,
			TotalIterations: 2,
		}
		return nil
	})
	require.NoError(t, err)

	// Iteration 1 persists fine; iteration 2 hits an outage that eats
	// a delivery's whole retry budget. The tick after must deliver it.
	outage := &outageStore{SessionStore: f.store, after: 1, failures: 3}
	f.engine.store = outage

	sched := scheduler.New(f.engine, logger.NewNop())
	defer sched.Stop()
	f.engine.AttachScheduler(sched)

	sess := f.session(t, userID)
	sched.Register(userID, sess.Schedule, sess.IterationCursor)

	require.Eventually(t, func() bool {
		return f.sender.last().TemplateID == models.TplCompleted
	}, 5*time.Second, 20*time.Millisecond, "final iteration never arrived")

	got := f.session(t, userID)
	assert.Equal(t, models.StateCompleted, got.State)
	assert.Equal(t, 2, got.IterationCursor)
	assert.False(t, sched.Registered(userID))
	assert.Equal(t, 5, outage.updateCalls(),
		"one good persist, three failed attempts, one heal")
}
