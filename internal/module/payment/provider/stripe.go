package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"
)

// StripeConfig holds Stripe credentials.
type StripeConfig struct {
	APIKey        string
	WebhookSecret string
}

// StripeProvider implements Provider using Stripe hosted Checkout
// Sessions.
type StripeProvider struct {
	webhookSecret string
}

// NewStripeProvider creates a new Stripe provider.
func NewStripeProvider(config *StripeConfig) *StripeProvider {
	stripe.Key = config.APIKey
	return &StripeProvider{
		webhookSecret: config.WebhookSecret,
	}
}

// Key returns the provider key.
func (p *StripeProvider) Key() string {
	return "stripe"
}

// CreateCheckout creates a Stripe Checkout Session in payment mode.
func (p *StripeProvider) CreateCheckout(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error) {
	currency := strings.ToLower(req.Currency)
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(currency),
					UnitAmount: stripe.Int64(toMinorUnits(req.Amount)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Checkout"),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	s, err := session.New(params)
	if err != nil {
		return nil, wrapStripeError("create checkout session", err)
	}

	return &CheckoutSession{
		SessionID:   s.ID,
		RedirectURL: s.URL,
		Provider:    p.Key(),
		Amount:      req.Amount,
		Currency:    strings.ToUpper(req.Currency),
		Metadata:    req.Metadata,
		Raw: map[string]any{
			"id":             s.ID,
			"url":            s.URL,
			"payment_status": string(s.PaymentStatus),
			"status":         string(s.Status),
		},
	}, nil
}

// GetPayment fetches the checkout session and maps its payment status.
func (p *StripeProvider) GetPayment(ctx context.Context, paymentID string) (*PaymentStatus, error) {
	s, err := session.Get(paymentID, nil)
	if err != nil {
		return nil, wrapStripeError("get checkout session", err)
	}
	return &PaymentStatus{
		PaymentID: s.ID,
		State:     mapStripeSession(s),
		Provider:  p.Key(),
	}, nil
}

// ParseWebhook parses a Stripe webhook event. When a webhook secret is
// configured the Stripe-Signature header is verified first.
func (p *StripeProvider) ParseWebhook(payload []byte, headers http.Header) (*WebhookEvent, error) {
	var event stripe.Event
	if p.webhookSecret != "" {
		var err error
		event, err = webhook.ConstructEvent(payload, headers.Get("Stripe-Signature"), p.webhookSecret)
		if err != nil {
			return nil, fmt.Errorf("construct stripe event: %w", err)
		}
	} else if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("parse stripe event: %w", err)
	}

	var object struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(event.Data.Raw, &object); err != nil {
		return nil, fmt.Errorf("parse stripe event object: %w", err)
	}

	return &WebhookEvent{
		EventID:   event.ID,
		EventType: string(event.Type),
		PaymentID: object.ID,
		State:     mapStripeEventType(string(event.Type)),
	}, nil
}

func mapStripeSession(s *stripe.CheckoutSession) State {
	switch s.PaymentStatus {
	case stripe.CheckoutSessionPaymentStatusPaid, stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return StateSucceeded
	case stripe.CheckoutSessionPaymentStatusUnpaid:
		if s.Status == stripe.CheckoutSessionStatusExpired {
			return StateCancelled
		}
		return StatePending
	default:
		return StateUnknown
	}
}

func mapStripeEventType(eventType string) State {
	switch eventType {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		return StateSucceeded
	case "checkout.session.async_payment_failed", "payment_intent.payment_failed":
		return StateFailed
	case "checkout.session.expired":
		return StateCancelled
	case "charge.refunded":
		return StateRefunded
	default:
		return StateUnknown
	}
}

func wrapStripeError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeInvalidRequest {
		return &UserError{Msg: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// toMinorUnits converts a decimal major-unit amount to integer minor
// units (cents). Stripe only accepts integer amounts.
func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
