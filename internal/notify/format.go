package notify

import (
	"fmt"

	"github.com/DmitryPavl/hackreality-main-bot/internal/models"
)

const timeLayout = "2006-01-02 15:04:05"

// Format renders an admin-facing message for the event. Messages are
// Telegram Markdown.
func Format(ev models.NotificationEvent) string {
	at := ev.At.Format(timeLayout)

	switch ev.Kind {
	case models.KindNewUser:
		username := ev.Payload["username"]
		if username == "" {
			username = "не указан"
		}
		return fmt.Sprintf(`👋 *Новый пользователь!*

👤 *Имя:* %s
📱 *Username:* @%s
🆔 *ID:* %d

⏰ *Время регистрации:* %s

*Действие:* Пользователь начал работу с ботом HackReality`,
			payloadOr(ev, "name", "Не указано"), username, ev.UserID, at)

	case models.KindRegularPlanRequested:
		return fmt.Sprintf(`🚧 *Запрос Обычного плана*

👤 *Пользователь:* %s (ID: %d)
🎯 *Цель:* "%s"
📦 *Заказ:* #%s

⏰ *Время:* %s

*Действие:* Пользователь заинтересован в Обычном плане, но план пока в разработке.`,
			payloadOr(ev, "name", "Не указано"), ev.UserID,
			ev.Payload["goal"], ev.Payload["order_id"], at)

	case models.KindPaymentConfirmed:
		return fmt.Sprintf(`💰 *ПОДТВЕРЖДЕНИЕ ДОНАТА*

👤 *Пользователь:* %s (ID: %d)
📦 *Заказ:* #%s
🎯 *Цель:* "%s"
📋 *План:* %s
💰 *Сумма:* %s

⏰ *Время:* %s

*Действие:* Пользователь подтвердил, что сделал донат на номер +79853659487

*Нужно подтвердить получение доната!*`,
			payloadOr(ev, "name", "Не указано"), ev.UserID,
			ev.Payload["order_id"], ev.Payload["goal"],
			ev.Payload["plan_name"], ev.Payload["price"], at)

	case models.KindSetupCompleted:
		return fmt.Sprintf(`🎯 *НАСТРОЙКА ЗАВЕРШЕНА*

👤 *Пользователь:* ID: %d
📦 *Заказ:* #%s
🎯 *Цель:* "%s"
📋 *План:* %s

⏰ *Время:* %s

*Действие:* Пользователь завершил настройку и готов к работе над целью.

*Статус:* Подписка активирована, можно начинать отправку контента!`,
			ev.UserID, ev.Payload["order_id"], ev.Payload["goal"],
			ev.Payload["plan_name"], at)

	case models.KindIterationDelivered:
		return fmt.Sprintf(`📬 *Итерация отправлена*

👤 *Пользователь:* ID: %d
📦 *Заказ:* #%s
🔢 *Итерация:* %s из %s

⏰ *Время:* %s`,
			ev.UserID, ev.Payload["order_id"],
			ev.Payload["seq"], ev.Payload["total"], at)

	case models.KindError:
		userInfo := ""
		if ev.UserID != 0 {
			userInfo = fmt.Sprintf(" (Пользователь: %d)", ev.UserID)
		}
		return fmt.Sprintf(`❌ *Ошибка в боте*

🚨 *Ошибка:* %s
📝 *Контекст:* %s%s

⏰ *Время:* %s`,
			ev.Payload["error"], ev.Payload["context"], userInfo, at)
	}

	return fmt.Sprintf("%s (user %d) в %s", ev.Kind, ev.UserID, at)
}

func payloadOr(ev models.NotificationEvent, key, fallback string) string {
	if v := ev.Payload[key]; v != "" {
		return v
	}
	return fallback
}
