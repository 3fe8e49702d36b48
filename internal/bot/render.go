package bot

import (
	"fmt"
	"regexp"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/DmitryPavl/hackreality-main-bot/internal/models"
)

// promptTemplate pairs the message text with the keyboard shown next to
// it. A nil keyboard leaves whatever keyboard the chat already has.
type promptTemplate struct {
	text     string
	keyboard func() interface{}
}

var templates = map[models.TemplateID]promptTemplate{
	models.TplWelcome: {
		text: `👋 Привет! Я бот HackReality.

Я помогаю превращать большие цели в ежедневные конкретные шаги: ты выбираешь цель, я присылаю задания и держу твой фокус.

Давай познакомимся. Как тебя зовут?`,
		keyboard: removeKeyboard,
	},
	models.TplAskName: {
		text: `Как тебя зовут? Напиши своё имя одним сообщением.`,
	},
	models.TplAskAge: {
		text: `Приятно познакомиться, {name}! 😊

Сколько тебе лет? Напиши число, например 30.`,
	},
	models.TplAgeInvalid: {
		text: `Мне нужен возраст числом от 13 до 100, например 30. Попробуй ещё раз.`,
	},
	models.TplAskTimezone: {
		text: `Записал! Теперь подскажи, где ты находишься, чтобы задания приходили в удобное время.

Напиши город (например, Москва) или часовой пояс (например, UTC+3).`,
	},
	models.TplTimezoneInvalid: {
		text: `Не получилось распознать город или часовой пояс. 😔

Напиши город (например, Москва или Новосибирск) или пояс в формате UTC+3.`,
	},
	models.TplAskGoal: {
		text: `Часовой пояс настроен: {timezone} ✅

Теперь самое важное. Какой цели ты хочешь достичь? Опиши её одним сообщением - чем конкретнее, тем лучше.`,
	},
	models.TplPlanMenu: {
		text:     planMenuText(),
		keyboard: planKeyboard,
	},
	models.TplPlanInvalid: {
		text: `Такого плана нет. Выбери один из вариантов кнопкой ниже или напиши название: Экстремальный, 2-недельный или Обычный.`,
		keyboard: planKeyboard,
	},
	models.TplRegularPending: {
		text: `📝 Обычный план ещё в разработке.

Я передал твой запрос администратору - он свяжется с тобой, когда план будет готов. Номер заявки: {order_id}.

Если передумаешь, напиши /restart и выбери другой план.`,
		keyboard: removeKeyboard,
	},
	models.TplPaymentInstructions: {
		text: `Отличный выбор! 💪

Заказ №{order_id}
План: {plan_name}
Сумма: {price}

Как оплатить:
1. Переведи {price} на Т-Банк по номеру +79853659487
2. В комментарии укажи: Заказ {order_id}
3. Нажми кнопку «✅ Донат сделан»

Оплатить картой онлайн: {checkout_url}

После подтверждения сразу начнём настройку.`,
		keyboard: donationKeyboard,
	},
	models.TplPaymentReminder: {
		text: `Жду подтверждения по заказу №{order_id}. 🙌

Как сделаешь перевод - нажми кнопку «✅ Донат сделан», и мы продолжим.`,
		keyboard: donationKeyboard,
	},
	models.TplSetupEmotional: {
		text: `💰 Принял! Я передал информацию администратору на проверку.

Пока не будем терять время - настроим работу. Расскажи, как ты себя сейчас чувствуешь по поводу цели «{goal}»? Какие эмоции она вызывает?`,
		keyboard: removeKeyboard,
	},
	models.TplSetupFocus: {
		text: `Спасибо, что поделился. 🙏

Теперь сформулируй фокус-утверждение: короткую фразу в настоящем времени, которая будет возвращать тебя к цели. Например: «Я делаю шаг к цели каждый день».`,
	},
	models.TplActiveStatus: {
		text: `🚀 Настройка завершена!

🎯 Цель: «{goal}»
📋 План: {plan_name}
📬 Заданий в день: {per_day}
📅 Длительность: {total_days} дней
🔢 Всего итераций: {total}
✅ Выполнено: {done}

Задания будут приходить по расписанию твоего плана. Работаем! 💪`,
	},
	models.TplIterationTask: {
		text: `🎯 Время работать над целью!

{name}, напоминаю, ради чего мы здесь:

🎯 Цель: «{goal}»
📋 План: {plan_name}
🔢 Итерация {seq} из {total}

Задание:
{task}

Фокус: «{focus}»

{reminder}

Сделай что-то прямо сейчас и напиши, что получилось! 🚀`,
	},
	models.TplCompleted: {
		text: `🏁 Это было последнее задание - план завершён!

🎯 Цель: «{goal}»
✅ Пройдено итераций: {total}

Ты молодец! Каждое движение в сторону цели - это шаг к новой реальности. 🌟

Напиши, каких результатов удалось добиться и как ты себя чувствуешь. А когда будешь готов к новой цели - жми /restart.`,
	},
	models.TplAbandoned: {
		text: `⚠️ С расписанием твоего плана возникла проблема, и доставка заданий остановлена.

Напиши /restart, чтобы начать заново - оплата сохранится.`,
		keyboard: removeKeyboard,
	},
	models.TplResetDone: {
		text: `🔄 Готово, начинаем с чистого листа!

Напиши что-нибудь, и я задам пару вопросов, чтобы настроить всё заново.`,
		keyboard: removeKeyboard,
	},
	models.TplTryAgain: {
		text: `😔 Что-то пошло не так при сохранении. Попробуй отправить сообщение ещё раз через минуту.`,
	},
	models.TplHelp: {
		text: `ℹ️ Что я умею:

Я превращаю твою цель в ежедневные задания и слежу за фокусом.

Команды:
/start - начать или продолжить
/restart - начать заново (выбранный план сохранится)
/help - это сообщение

Если что-то зависло, просто ответь на последний вопрос - я подскажу, что делать дальше.`,
	},
}

// planMenuText takes the prices from the plan catalog so the menu can
// never drift from what the payment instructions quote.
func planMenuText() string {
	extreme, _ := models.PlanExtreme.Spec()
	twoWeek, _ := models.PlanTwoWeek.Spec()
	regular, _ := models.PlanRegular.Spec()
	return fmt.Sprintf(`Цель принята: «{goal}» 🎯

Теперь выбери план работы:

🚀 Экстремальный - %s
6 заданий в день, 7 дней. Максимальное погружение.

⚡ 2-недельный - %s
1 задание в день, 14 дней. Ровный устойчивый темп.

📝 Обычный - %s
Спокойный формат. Скоро будет доступен.

Нажми кнопку или напиши название плана.`, extreme.Price, twoWeek.Price, regular.Price)
}

var placeholderRe = regexp.MustCompile(`\{[a-z_]+\}`)

// RenderPrompt produces the message text and keyboard for a prompt.
// Messages are sent as plain text: goals and focus statements are user
// input and must not be able to break formatting.
func RenderPrompt(prompt models.OutboundPrompt) (string, interface{}) {
	tpl, ok := templates[prompt.TemplateID]
	if !ok {
		return "Продолжай - я на связи.", nil
	}

	text := renderText(tpl.text, prompt.Substitutions)

	var markup interface{}
	if tpl.keyboard != nil {
		markup = tpl.keyboard()
	}
	return text, markup
}

// renderText fills {placeholder} slots and drops whole lines that
// reference a slot with no value, so optional details like the
// checkout link disappear cleanly instead of leaving a dangling label.
// Only slots written in the template count; braces inside substituted
// values pass through untouched.
func renderText(tpl string, subs map[string]string) string {
	lines := strings.Split(tpl, "\n")
	kept := lines[:0]
	for _, line := range lines {
		slots := placeholderRe.FindAllString(line, -1)
		filled := true
		for _, slot := range slots {
			if subs[strings.Trim(slot, "{}")] == "" {
				filled = false
				break
			}
		}
		if !filled {
			continue
		}
		for _, slot := range slots {
			line = strings.ReplaceAll(line, slot, subs[strings.Trim(slot, "{}")])
		}
		kept = append(kept, line)
	}
	text := strings.Join(kept, "\n")

	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(text)
}

func planKeyboard() interface{} {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("🚀 Экстремальный"),
			tgbotapi.NewKeyboardButton("⚡ 2-недельный"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("📝 Обычный"),
		),
	)
}

func donationKeyboard() interface{} {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("✅ Донат сделан"),
		),
	)
}

func removeKeyboard() interface{} {
	return tgbotapi.NewRemoveKeyboard(true)
}
