package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const dummyCheckoutHost = "https://dummy-pay.example.com"

// DummyProvider is an in-process provider that issues fake checkout
// sessions without talking to any payment service. It is the default
// provider and the workhorse of the test suite.
type DummyProvider struct {
	// KeyName overrides the provider key (default "dummy"). Registering
	// two DummyProviders with distinct keys simulates a multi-provider
	// deployment.
	KeyName string

	// AlwaysState, when set, is returned by every GetPayment call.
	// Unset, payments stay pending.
	AlwaysState State
}

// NewDummyProvider creates a DummyProvider with the default key.
func NewDummyProvider() *DummyProvider {
	return &DummyProvider{}
}

// Key returns the provider key.
func (p *DummyProvider) Key() string {
	if p.KeyName != "" {
		return p.KeyName
	}
	return "dummy"
}

// CreateCheckout issues a fake hosted-checkout session.
func (p *DummyProvider) CreateCheckout(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error) {
	if !req.Amount.IsPositive() {
		return nil, NewUserError("amount must be positive, got %s", req.Amount)
	}
	currency := strings.ToUpper(req.Currency)
	if len(currency) != 3 {
		return nil, NewUserError("invalid currency %q", req.Currency)
	}

	sessionID := fmt.Sprintf("%s_sess_%s", p.Key(), shortID())
	redirectURL := fmt.Sprintf("%s/checkout/%s?amount=%s&currency=%s",
		dummyCheckoutHost, sessionID, req.Amount.StringFixed(2), currency)

	return &CheckoutSession{
		SessionID:   sessionID,
		RedirectURL: redirectURL,
		Provider:    p.Key(),
		Amount:      req.Amount,
		Currency:    currency,
		Metadata:    req.Metadata,
		Raw: map[string]any{
			"session_id":   sessionID,
			"redirect_url": redirectURL,
			"amount":       req.Amount.StringFixed(2),
			"currency":     currency,
		},
	}, nil
}

// GetPayment reports the configured state for sessions issued by this
// provider and rejects foreign ids.
func (p *DummyProvider) GetPayment(ctx context.Context, paymentID string) (*PaymentStatus, error) {
	if !strings.HasPrefix(paymentID, p.Key()+"_sess_") {
		return nil, NewUserError("unknown payment id %q", paymentID)
	}
	state := p.AlwaysState
	if state == "" {
		state = StatePending
	}
	return &PaymentStatus{
		PaymentID: paymentID,
		State:     state,
		Provider:  p.Key(),
	}, nil
}

// ParseWebhook parses the dummy webhook format:
//
//	{"payment_id": "...", "event_type": "payment.succeeded", "event_id": "..."}
func (p *DummyProvider) ParseWebhook(payload []byte, headers http.Header) (*WebhookEvent, error) {
	var body struct {
		PaymentID string `json:"payment_id"`
		EventType string `json:"event_type"`
		EventID   string `json:"event_id"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("parse webhook payload: %w", err)
	}
	if body.PaymentID == "" {
		return nil, fmt.Errorf("webhook payload missing payment_id")
	}
	if body.EventType == "" {
		body.EventType = "payment.pending"
	}
	if body.EventID == "" {
		body.EventID = fmt.Sprintf("%s_evt_%s", p.Key(), shortID())
	}

	state := StateUnknown
	if suffix, ok := strings.CutPrefix(body.EventType, "payment."); ok {
		if s := State(suffix); s.Valid() {
			state = s
		}
	}

	return &WebhookEvent{
		EventID:   body.EventID,
		EventType: body.EventType,
		PaymentID: body.PaymentID,
		State:     state,
	}, nil
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}
