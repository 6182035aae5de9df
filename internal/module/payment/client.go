package payment

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/merchantkit/server/internal/module/payment/provider"
)

// Client is the per-provider façade the registry hands out. It wraps
// the provider with logging, call metrics, and a circuit breaker on
// the status fetch, which is the one call admin sync can hammer
// against a degraded provider.
type Client struct {
	provider provider.Provider
	breaker  *gobreaker.CircuitBreaker[*provider.PaymentStatus]
	logger   *zap.Logger
}

// NewClient creates a client for the given provider.
func NewClient(p provider.Provider, logger *zap.Logger) *Client {
	breaker := gobreaker.NewCircuitBreaker[*provider.PaymentStatus](gobreaker.Settings{
		Name:        "payment-provider-" + p.Key(),
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A provider rejecting the caller's input is not a provider
		// outage; only transport-level failures should open the breaker.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var userErr *provider.UserError
			return errors.As(err, &userErr)
		},
	})
	return &Client{
		provider: p,
		breaker:  breaker,
		logger:   logger.With(zap.String("provider", p.Key())),
	}
}

// Key returns the wrapped provider's key.
func (c *Client) Key() string {
	return c.provider.Key()
}

// CreateCheckout creates a hosted-checkout session.
func (c *Client) CreateCheckout(ctx context.Context, req *provider.CheckoutRequest) (*provider.CheckoutSession, error) {
	sess, err := c.provider.CreateCheckout(ctx, req)
	providerCalls.WithLabelValues(c.Key(), "create_checkout", outcomeLabel(err)).Inc()
	if err != nil {
		c.logger.Warn("create checkout failed", zap.Error(err))
		return nil, err
	}
	c.logger.Info("checkout session created",
		zap.String("session_id", sess.SessionID),
		zap.String("currency", sess.Currency),
	)
	return sess, nil
}

// GetPayment fetches the live payment state through the circuit
// breaker.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*provider.PaymentStatus, error) {
	status, err := c.breaker.Execute(func() (*provider.PaymentStatus, error) {
		return c.provider.GetPayment(ctx, paymentID)
	})
	providerCalls.WithLabelValues(c.Key(), "get_payment", outcomeLabel(err)).Inc()
	if err != nil {
		c.logger.Warn("get payment failed",
			zap.String("payment_id", paymentID),
			zap.Error(err),
		)
		return nil, err
	}
	return status, nil
}

// ParseWebhook parses a provider webhook notification body.
func (c *Client) ParseWebhook(payload []byte, headers http.Header) (*provider.WebhookEvent, error) {
	return c.provider.ParseWebhook(payload, headers)
}
