package notify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DmitryPavl/hackreality-main-bot/internal/models"
	"github.com/DmitryPavl/hackreality-main-bot/pkg/logger"
)

type failingSender struct {
	calls int
}

func (f *failingSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.calls++
	return tgbotapi.Message{}, errors.New("chat unreachable")
}

func sampleEvent(kind models.NotificationKind) models.NotificationEvent {
	return models.NotificationEvent{
		Kind:   kind,
		UserID: 42,
		Payload: map[string]string{
			"name":     "Алиса",
			"goal":     "пробежать марафон",
			"order_id": "a1b2c3d4",
		},
		At: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newFallback(t *testing.T) (*FallbackLog, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notifications.log")
	fb, err := NewFallbackLog(path)
	require.NoError(t, err)
	return fb, path
}

func TestBridgeSendFailureGoesToFallback(t *testing.T) {
	fb, path := newFallback(t)

	api := &failingSender{}
	bridge := &TelegramBridge{api: api, chatID: 1, fallback: fb, log: logger.NewNop()}

	err := bridge.Send(context.Background(), sampleEvent(models.KindNewUser))
	assert.NoError(t, err, "delivery failure must not surface to the caller")
	assert.Equal(t, 1, api.calls)

	require.NoError(t, bridge.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"new_user"`)
	assert.Contains(t, string(data), `"user_id":42`)
}

func TestBridgeWithoutTokenUsesFallback(t *testing.T) {
	fb, path := newFallback(t)

	bridge, err := NewTelegramBridge("", 1, fb, logger.NewNop())
	require.NoError(t, err)

	require.NoError(t, bridge.Send(context.Background(), sampleEvent(models.KindError)))
	require.NoError(t, bridge.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"error"`)
}

func TestFallbackLogAppendsAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifications.log")

	for i := 0; i < 2; i++ {
		fb, err := NewFallbackLog(path)
		require.NoError(t, err)
		fb.Append(sampleEvent(models.KindSetupCompleted))
		require.NoError(t, fb.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Count(strings.TrimSpace(string(data)), "\n") + 1
	assert.Equal(t, 2, lines)
}

func TestFormatKnownKinds(t *testing.T) {
	tests := []struct {
		kind models.NotificationKind
		want []string
	}{
		{models.KindNewUser, []string{"Новый пользователь", "ID:* 42", "2024-03-01 12:00:00"}},
		{models.KindRegularPlanRequested, []string{"Запрос Обычного плана", "пробежать марафон", "#a1b2c3d4"}},
		{models.KindPaymentConfirmed, []string{"ПОДТВЕРЖДЕНИЕ ДОНАТА", "+79853659487"}},
		{models.KindSetupCompleted, []string{"НАСТРОЙКА ЗАВЕРШЕНА", "Подписка активирована"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got := Format(sampleEvent(tt.kind))
			for _, want := range tt.want {
				assert.Contains(t, got, want)
			}
		})
	}
}

func TestRecorderCounts(t *testing.T) {
	rec := NewRecorder()
	ctx := context.Background()

	require.NoError(t, rec.Send(ctx, sampleEvent(models.KindNewUser)))
	require.NoError(t, rec.Send(ctx, sampleEvent(models.KindNewUser)))
	require.NoError(t, rec.Send(ctx, sampleEvent(models.KindError)))

	assert.Equal(t, 2, rec.CountByKind(models.KindNewUser))
	assert.Equal(t, 1, rec.CountByKind(models.KindError))
	assert.Len(t, rec.Events(), 3)
}
