// internal/payment/stripe.go
package payment

import (
	"errors"
	"fmt"
	"strconv"

	stripe "github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/checkout/session"

	"github.com/DmitryPavl/hackreality-main-bot/internal/models"
)

// ErrNotConfigured is returned when no Stripe credentials are set. The
// flow then falls back to manual transfer instructions.
var ErrNotConfigured = errors.New("stripe is not configured")

type Config struct {
	SecretKey string
	PriceID   string
}

// StripeClient creates hosted checkout pages as an alternative to the
// manual transfer path.
type StripeClient struct {
	secretKey   string
	priceID     string
	botUsername string
}

func NewStripeClient(cfg Config) *StripeClient {
	// Set the secret key for backend operations
	stripe.Key = cfg.SecretKey

	return &StripeClient{
		secretKey:   cfg.SecretKey,
		priceID:     cfg.PriceID,
		botUsername: "HackRealityBot",
	}
}

// SetBotUsername points the checkout return links at the bot's current
// Telegram handle. Called once during startup, before any traffic; an
// empty name keeps the previous handle.
func (s *StripeClient) SetBotUsername(name string) {
	if name == "" {
		return
	}
	s.botUsername = name
}

// deepLink builds the t.me URL that reopens the bot chat after
// checkout. The start payload carries the outcome prefix and the order.
func (s *StripeClient) deepLink(prefix, orderID string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s%s", s.botUsername, prefix, orderID)
}

func (s *StripeClient) Configured() bool {
	return s.secretKey != "" && s.priceID != ""
}

// CheckoutLink creates a checkout session for the order and returns
// its payment URL.
func (s *StripeClient) CheckoutLink(userID int64, orderID string, spec models.PlanSpec) (string, error) {
	if !s.Configured() {
		return "", ErrNotConfigured
	}

	// Ensure we're using the secret key for API operations
	if stripe.Key != s.secretKey {
		stripe.Key = s.secretKey
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{
			"card",
		}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(s.priceID),
				Quantity: stripe.Int64(1),
			},
		},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.deepLink("paid_", orderID)),
		CancelURL:         stripe.String(s.deepLink("cancel_", orderID)),
		ClientReferenceID: stripe.String(strconv.FormatInt(userID, 10)),
	}
	params.AddMetadata("order_id", orderID)
	params.AddMetadata("plan", spec.Name)

	sess, err := session.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %v", err)
	}

	return sess.URL, nil
}
