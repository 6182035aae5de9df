package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-pay/gopay"
	"github.com/go-pay/gopay/alipay"
)

// AlipayConfig holds Alipay open-platform credentials.
type AlipayConfig struct {
	AppID           string // application id
	PrivateKey      string // RSA2 private key, PEM
	AlipayPublicKey string // Alipay public key for notify verification, PEM
	IsProd          bool
	NotifyURL       string
	ReturnURL       string
}

// AlipayProvider implements Provider using Alipay page pay. Alipay is
// CNY-only; the merchant-side out_trade_no doubles as the session id.
type AlipayProvider struct {
	client *alipay.Client
	config *AlipayConfig
}

// NewAlipayProvider creates a new Alipay provider.
func NewAlipayProvider(config *AlipayConfig) (*AlipayProvider, error) {
	client, err := alipay.NewClient(config.AppID, config.PrivateKey, config.IsProd)
	if err != nil {
		return nil, fmt.Errorf("create alipay client: %w", err)
	}
	client.AutoVerifySign([]byte(config.AlipayPublicKey))
	if config.NotifyURL != "" {
		client.SetNotifyUrl(config.NotifyURL)
	}
	if config.ReturnURL != "" {
		client.SetReturnUrl(config.ReturnURL)
	}
	return &AlipayProvider{client: client, config: config}, nil
}

// Key returns the provider key.
func (p *AlipayProvider) Key() string {
	return "alipay"
}

// CreateCheckout creates a desktop page-pay order and returns the
// payment URL as the redirect target.
func (p *AlipayProvider) CreateCheckout(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error) {
	if !strings.EqualFold(req.Currency, "CNY") {
		return nil, NewUserError("alipay supports CNY only, got %q", req.Currency)
	}
	if !req.Amount.IsPositive() {
		return nil, NewUserError("amount must be positive, got %s", req.Amount)
	}

	outTradeNo := fmt.Sprintf("alipay_sess_%s", shortID())

	bm := make(gopay.BodyMap)
	bm.Set("out_trade_no", outTradeNo)
	bm.Set("total_amount", req.Amount.StringFixed(2))
	bm.Set("subject", "Checkout")
	bm.Set("product_code", "FAST_INSTANT_TRADE_PAY")
	bm.Set("timeout_express", "30m")
	if len(req.Metadata) > 0 {
		passback, _ := json.Marshal(req.Metadata)
		bm.Set("passback_params", string(passback))
	}

	payURL, err := p.client.TradePagePay(ctx, bm)
	if err != nil {
		return nil, fmt.Errorf("alipay page pay: %w", err)
	}

	return &CheckoutSession{
		SessionID:   outTradeNo,
		RedirectURL: payURL,
		Provider:    p.Key(),
		Amount:      req.Amount,
		Currency:    "CNY",
		Metadata:    req.Metadata,
		Raw: map[string]any{
			"out_trade_no": outTradeNo,
			"pay_url":      payURL,
		},
	}, nil
}

// GetPayment queries the trade status.
func (p *AlipayProvider) GetPayment(ctx context.Context, paymentID string) (*PaymentStatus, error) {
	bm := make(gopay.BodyMap)
	bm.Set("out_trade_no", paymentID)

	resp, err := p.client.TradeQuery(ctx, bm)
	if err != nil {
		return nil, fmt.Errorf("alipay trade query: %w", err)
	}
	if resp.Response.Code != "10000" {
		return nil, NewUserError("alipay query %s: %s", resp.Response.Code, resp.Response.Msg)
	}

	return &PaymentStatus{
		PaymentID: resp.Response.OutTradeNo,
		State:     mapAlipayTradeStatus(resp.Response.TradeStatus),
		Provider:  p.Key(),
	}, nil
}

// ParseWebhook parses and verifies an Alipay async notification
// (form-urlencoded body, RSA2 signed).
func (p *AlipayProvider) ParseWebhook(payload []byte, headers http.Header) (*WebhookEvent, error) {
	req, err := http.NewRequest(http.MethodPost, "/", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build notify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	notify, err := alipay.ParseNotifyToBodyMap(req)
	if err != nil {
		return nil, fmt.Errorf("parse alipay notify: %w", err)
	}

	ok, err := alipay.VerifySign(p.config.AlipayPublicKey, notify)
	if err != nil {
		return nil, fmt.Errorf("verify alipay sign: %w", err)
	}
	if !ok {
		return nil, ErrInvalidSignature
	}

	tradeStatus := notify.Get("trade_status")
	return &WebhookEvent{
		EventID:   notify.Get("notify_id"),
		EventType: tradeStatus,
		PaymentID: notify.Get("out_trade_no"),
		State:     mapAlipayTradeStatus(tradeStatus),
	}, nil
}

func mapAlipayTradeStatus(status string) State {
	switch status {
	case "WAIT_BUYER_PAY":
		return StatePending
	case "TRADE_SUCCESS", "TRADE_FINISHED":
		return StateSucceeded
	case "TRADE_CLOSED":
		return StateCancelled
	default:
		return StateUnknown
	}
}
