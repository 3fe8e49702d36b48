package bot

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/DmitryPavl/hackreality-main-bot/internal/models"
)

// planKeywords maps normalized button presses and typed plan names to
// plans. Matching is exact after normalization, so a sentence that
// merely mentions a plan stays free text.
var planKeywords = map[string]models.Plan{
	"экстремальный":      models.PlanExtreme,
	"экстремальный план": models.PlanExtreme,
	"экстрим":            models.PlanExtreme,
	"extreme":            models.PlanExtreme,
	"2-недельный":        models.PlanTwoWeek,
	"2-недельный план":   models.PlanTwoWeek,
	"двухнедельный":      models.PlanTwoWeek,
	"2week":              models.PlanTwoWeek,
	"2-week":             models.PlanTwoWeek,
	"2 week":             models.PlanTwoWeek,
	"обычный":            models.PlanRegular,
	"обычный план":       models.PlanRegular,
	"стандартный":        models.PlanRegular,
	"regular":            models.PlanRegular,
	"basic":              models.PlanRegular,
}

// paymentKeywords are the phrases that count as an explicit payment
// confirmation: the donation button text plus common wordings.
var paymentKeywords = map[string]struct{}{
	"донат сделан":    {},
	"донат готов":     {},
	"донат отправлен": {},
	"сделал донат":    {},
	"сделала донат":   {},
	"я сделал донат":  {},
	"я сделала донат": {},
	"оплатил":         {},
	"оплатила":        {},
	"перевел":         {},
	"перевёл":         {},
	"перевела":        {},
	"paid":            {},
}

// DecodePayload classifies raw message text into exactly one event
// payload. Commands are routed before this point, so slash-prefixed
// text only arrives here when a user types it mid-sentence.
func DecodePayload(text string) models.EventPayload {
	normalized := normalize(text)

	if plan, ok := planKeywords[normalized]; ok {
		return models.PlanChoice{Plan: plan}
	}
	if _, ok := paymentKeywords[normalized]; ok {
		return models.PaymentConfirmation{}
	}
	if value, err := strconv.Atoi(strings.TrimSpace(text)); err == nil {
		return models.NumericAnswer{Value: value}
	}
	return models.FreeTextAnswer{Text: text}
}

// normalize lowercases the text and strips everything except letters,
// digits, spaces and dashes, so button emoji and stray punctuation do
// not defeat keyword matching.
func normalize(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '-':
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
