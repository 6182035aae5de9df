package provider

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/shopspring/decimal"
)

// State represents the lifecycle state of a payment as reported by a
// provider. Providers map their own vocabulary onto this set; nothing
// else is ever persisted.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
	StateRefunded   State = "refunded"
	StateUnknown    State = "unknown"
)

// Valid returns true if s is one of the recognized states.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateProcessing, StateSucceeded, StateFailed,
		StateCancelled, StateRefunded, StateUnknown:
		return true
	}
	return false
}

// IsFinal returns true for states that providers treat as terminal.
// Terminal is a convention only: late out-of-order webhooks may still
// move a record out of a terminal state.
func (s State) IsFinal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled || s == StateRefunded
}

// IsSuccess returns true if the payment completed successfully.
func (s State) IsSuccess() bool {
	return s == StateSucceeded
}

// CheckoutRequest holds the parameters for creating a hosted-checkout
// session.
type CheckoutRequest struct {
	Amount     decimal.Decimal
	Currency   string
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// CheckoutSession is a provider-issued session descriptor: an opaque
// session id plus the URL the payer is redirected to.
type CheckoutSession struct {
	SessionID   string
	RedirectURL string
	Provider    string
	Amount      decimal.Decimal
	Currency    string
	Metadata    map[string]string
	Raw         map[string]any // raw provider response, for audit
}

// PaymentStatus is the result of a live status fetch for one payment.
type PaymentStatus struct {
	PaymentID string
	State     State
	Provider  string
}

// WebhookEvent is a parsed provider-initiated state notification.
type WebhookEvent struct {
	EventID   string
	EventType string
	PaymentID string
	State     State
}

// Provider is the uniform abstraction over a hosted-checkout payment
// service.
type Provider interface {
	// Key returns the provider key, e.g. "dummy", "stripe".
	Key() string

	// CreateCheckout creates a hosted-checkout session.
	CreateCheckout(ctx context.Context, req *CheckoutRequest) (*CheckoutSession, error)

	// GetPayment fetches the live state of a payment from the provider.
	GetPayment(ctx context.Context, paymentID string) (*PaymentStatus, error)

	// ParseWebhook parses a provider webhook notification body.
	ParseWebhook(payload []byte, headers http.Header) (*WebhookEvent, error)
}

// UserError marks invalid checkout parameters or a provider-side
// rejection of the caller's input. Handlers surface it as HTTP 400.
type UserError struct {
	Msg string
	Err error
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *UserError) Unwrap() error { return e.Err }

// NewUserError creates a UserError with the given message.
func NewUserError(format string, args ...any) *UserError {
	return &UserError{Msg: fmt.Sprintf(format, args...)}
}

// Registry manages registered payment providers. It is safe for
// concurrent use and mutable at runtime: a provider registered after
// startup is immediately selectable.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register registers a provider under its key. Re-registering a key
// replaces the provider but keeps its original position.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := p.Key()
	if _, ok := r.providers[key]; !ok {
		r.order = append(r.order, key)
	}
	r.providers[key] = p
}

// Get returns a provider by key.
func (r *Registry) Get(key string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[key]
	return p, ok
}

// Default returns the first registered provider.
func (r *Registry) Default() (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return nil, false
	}
	return r.providers[r.order[0]], true
}

// Keys returns all registered provider keys in registration order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, len(r.order))
	copy(keys, r.order)
	return keys
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
