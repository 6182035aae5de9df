package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/plutov/paypal/v4"
)

// PayPalConfig holds PayPal REST API credentials.
type PayPalConfig struct {
	ClientID string
	Secret   string
	Live     bool
}

// PayPalProvider implements Provider using the PayPal Orders API. The
// hosted-checkout redirect is the order's approval link.
type PayPalProvider struct {
	client *paypal.Client
}

// NewPayPalProvider creates a PayPal provider and fetches an initial
// access token.
func NewPayPalProvider(config *PayPalConfig) (*PayPalProvider, error) {
	base := paypal.APIBaseSandBox
	if config.Live {
		base = paypal.APIBaseLive
	}
	client, err := paypal.NewClient(config.ClientID, config.Secret, base)
	if err != nil {
		return nil, fmt.Errorf("create paypal client: %w", err)
	}
	if _, err := client.GetAccessToken(context.Background()); err != nil {
		return nil, fmt.Errorf("paypal access token: %w", err)
	}
	return &PayPalProvider{client: client}, nil
}

// Key returns the provider key.
func (p *PayPalProvider) Key() string {
	return "paypal"
}

// CreateCheckout creates a CAPTURE-intent order and returns its
// approval URL as the redirect target.
func (p *PayPalProvider) CreateCheckout(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error) {
	currency := strings.ToUpper(req.Currency)
	units := []paypal.PurchaseUnitRequest{
		{
			Amount: &paypal.PurchaseUnitAmount{
				Currency: currency,
				Value:    req.Amount.StringFixed(2),
			},
		},
	}
	appContext := &paypal.ApplicationContext{
		ReturnURL: req.SuccessURL,
		CancelURL: req.CancelURL,
	}

	order, err := p.client.CreateOrder(ctx, paypal.OrderIntentCapture, units, nil, appContext)
	if err != nil {
		return nil, wrapPayPalError("create order", err)
	}

	approvalURL := ""
	for _, link := range order.Links {
		if link.Rel == "approve" {
			approvalURL = link.Href
			break
		}
	}
	if approvalURL == "" {
		return nil, fmt.Errorf("paypal order %s has no approval link", order.ID)
	}

	return &CheckoutSession{
		SessionID:   order.ID,
		RedirectURL: approvalURL,
		Provider:    p.Key(),
		Amount:      req.Amount,
		Currency:    currency,
		Metadata:    req.Metadata,
		Raw: map[string]any{
			"id":     order.ID,
			"status": order.Status,
			"links":  approvalURL,
		},
	}, nil
}

// GetPayment fetches the order and maps its status.
func (p *PayPalProvider) GetPayment(ctx context.Context, paymentID string) (*PaymentStatus, error) {
	order, err := p.client.GetOrder(ctx, paymentID)
	if err != nil {
		return nil, wrapPayPalError("get order", err)
	}
	return &PaymentStatus{
		PaymentID: order.ID,
		State:     mapPayPalOrderStatus(order.Status),
		Provider:  p.Key(),
	}, nil
}

// ParseWebhook parses a PayPal webhook notification.
func (p *PayPalProvider) ParseWebhook(payload []byte, headers http.Header) (*WebhookEvent, error) {
	var body struct {
		ID        string `json:"id"`
		EventType string `json:"event_type"`
		Resource  struct {
			ID string `json:"id"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("parse paypal webhook: %w", err)
	}
	if body.Resource.ID == "" {
		return nil, fmt.Errorf("paypal webhook missing resource id")
	}
	return &WebhookEvent{
		EventID:   body.ID,
		EventType: body.EventType,
		PaymentID: body.Resource.ID,
		State:     mapPayPalEventType(body.EventType),
	}, nil
}

func mapPayPalOrderStatus(status string) State {
	switch status {
	case "CREATED", "SAVED":
		return StatePending
	case "APPROVED", "PAYER_ACTION_REQUIRED":
		return StateProcessing
	case "COMPLETED":
		return StateSucceeded
	case "VOIDED":
		return StateCancelled
	default:
		return StateUnknown
	}
}

func mapPayPalEventType(eventType string) State {
	switch eventType {
	case "PAYMENT.CAPTURE.COMPLETED", "CHECKOUT.ORDER.COMPLETED":
		return StateSucceeded
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		return StateFailed
	case "PAYMENT.CAPTURE.REFUNDED":
		return StateRefunded
	case "CHECKOUT.ORDER.APPROVED":
		return StateProcessing
	default:
		return StateUnknown
	}
}

func wrapPayPalError(op string, err error) error {
	var payPalErr *paypal.ErrorResponse
	if errors.As(err, &payPalErr) {
		return &UserError{Msg: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
