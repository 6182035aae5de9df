package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/merchantkit/server/internal/module/payment/provider"
)

const (
	defaultAmount   = "1.00"
	defaultCurrency = "USD"
)

// Handler exposes the public payment routes. It is thin: every route
// body is a translation between HTTP and one or two Registry calls.
type Handler struct {
	registry *Registry
	secret   string
	logger   *zap.Logger
}

// NewHandler creates a payment handler. An empty webhookSecret
// disables webhook signature verification.
func NewHandler(registry *Registry, webhookSecret string, logger *zap.Logger) *Handler {
	return &Handler{registry: registry, secret: webhookSecret, logger: logger}
}

// RegisterRoutes registers the public payment routes on r.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/checkout", h.Checkout)
	r.POST("/checkout", h.Checkout)
	r.GET("/providers", h.Providers)
	r.GET("/success", h.Success)
	r.GET("/cancel", h.Cancel)
	r.GET("/status/:id", h.Status)
	r.POST("/webhook", h.Webhook)
}

type checkoutInput struct {
	Amount     string            `json:"amount" form:"amount"`
	Currency   string            `json:"currency" form:"currency"`
	Provider   string            `json:"provider" form:"provider"`
	Model      string            `json:"model" form:"model"`
	SuccessURL string            `json:"success_url" form:"success_url"`
	CancelURL  string            `json:"cancel_url" form:"cancel_url"`
	Metadata   map[string]string `json:"metadata" form:"-"`
}

// Checkout creates a checkout session and stores the pending record.
// JSON requests get a JSON session descriptor; form/query requests are
// redirected straight to the provider's hosted page.
func (h *Handler) Checkout(c *gin.Context) {
	var in checkoutInput
	wantsJSON := c.Request.Method == http.MethodPost && c.ContentType() == gin.MIMEJSON
	if wantsJSON {
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	} else {
		if err := c.ShouldBind(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		// Form requests carry metadata as a JSON-encoded string.
		if raw := pickParam(c, "metadata"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &in.Metadata); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid metadata"})
				return
			}
		}
	}

	if in.Amount == "" {
		in.Amount = defaultAmount
	}
	if in.Currency == "" {
		in.Currency = defaultCurrency
	}

	amount, err := decimal.NewFromString(in.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid amount %q", in.Amount)})
		return
	}

	client, err := h.registry.ClientFor(in.Provider)
	if err != nil {
		handleRegistryError(c, err)
		return
	}

	successURL := in.SuccessURL
	if successURL == "" {
		successURL = h.callbackURL(c, "/success")
	}
	cancelURL := in.CancelURL
	if cancelURL == "" {
		cancelURL = h.callbackURL(c, "/cancel")
	}

	sess, err := client.CreateCheckout(c.Request.Context(), &provider.CheckoutRequest{
		Amount:     amount,
		Currency:   in.Currency,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
		Metadata:   in.Metadata,
	})
	if err != nil {
		handleProviderError(c, err)
		return
	}

	_, err = h.registry.Save(c.Request.Context(), sess, SaveOptions{
		TargetModel: in.Model,
		RequestPayload: JSONMap{
			"amount":      in.Amount,
			"currency":    in.Currency,
			"provider":    client.Key(),
			"success_url": successURL,
			"cancel_url":  cancelURL,
		},
	})
	if err != nil {
		handleRegistryError(c, err)
		return
	}

	if wantsJSON {
		c.JSON(http.StatusOK, CheckoutResponse{
			SessionID:   sess.SessionID,
			RedirectURL: sess.RedirectURL,
		})
		return
	}
	c.Redirect(http.StatusFound, sess.RedirectURL)
}

// Providers returns the live set of registered provider keys.
func (h *Handler) Providers(c *gin.Context) {
	c.JSON(http.StatusOK, ProvidersResponse{Providers: h.registry.ProviderKeys()})
}

// Success is the hosted-checkout success landing.
func (h *Handler) Success(c *gin.Context) {
	h.landing(c, "success")
}

// Cancel is the hosted-checkout cancel landing.
func (h *Handler) Cancel(c *gin.Context) {
	h.landing(c, "cancelled")
}

func (h *Handler) landing(c *gin.Context, status string) {
	resp := ResultResponse{Status: status}
	if paymentID := c.Query("payment_id"); paymentID != "" {
		resp.PaymentID = paymentID
		_, resp.Stored = h.registry.Get(c.Request.Context(), paymentID)
	}
	c.JSON(http.StatusOK, resp)
}

// Status fetches the live provider state for one payment and persists
// it. The provider is taken from the stored record when present, the
// "provider" query parameter or the default otherwise.
func (h *Handler) Status(c *gin.Context) {
	paymentID := c.Param("id")

	providerKey := c.Query("provider")
	if providerKey == "" {
		if record, ok := h.registry.Get(c.Request.Context(), paymentID); ok {
			providerKey = record.Provider
		}
	}

	client, err := h.registry.ClientFor(providerKey)
	if err != nil {
		handleRegistryError(c, err)
		return
	}

	status, err := client.GetPayment(c.Request.Context(), paymentID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider status fetch failed"})
		return
	}

	h.registry.UpdateState(c.Request.Context(), paymentID, status.State)

	c.JSON(http.StatusOK, StatusResponse{
		PaymentID: status.PaymentID,
		State:     string(status.State),
		Provider:  client.Key(),
		IsFinal:   status.State.IsFinal(),
		IsSuccess: status.State.IsSuccess(),
	})
}

// Webhook verifies, parses and applies a provider state notification.
func (h *Handler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if h.secret != "" {
		sig := c.GetHeader(provider.SignatureHeader)
		if err := provider.VerifySignature(body, h.secret, sig); err != nil {
			webhookEvents.WithLabelValues(c.Query("provider"), "invalid_signature").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
			return
		}
	}

	client, err := h.registry.ClientFor(c.Query("provider"))
	if err != nil {
		handleRegistryError(c, err)
		return
	}

	event, err := client.ParseWebhook(body, c.Request.Header)
	if err != nil {
		webhookEvents.WithLabelValues(client.Key(), "malformed").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	updated := h.registry.UpdateState(c.Request.Context(), event.PaymentID, event.State)
	if !updated {
		h.logger.Info("webhook for unknown payment",
			zap.String("payment_id", event.PaymentID),
			zap.String("event_type", event.EventType),
		)
	}
	webhookEvents.WithLabelValues(client.Key(), "ok").Inc()

	c.JSON(http.StatusOK, WebhookResponse{
		Received:  true,
		EventID:   event.EventID,
		EventType: event.EventType,
		PaymentID: event.PaymentID,
		State:     string(event.State),
	})
}

// callbackURL builds an absolute URL for a sibling route of the
// current request, e.g. /merchants/success.
func (h *Handler) callbackURL(c *gin.Context, path string) string {
	base := strings.TrimSuffix(c.FullPath(), "/checkout")
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s%s", scheme, c.Request.Host, base, path)
}

func pickParam(c *gin.Context, name string) string {
	if v := c.PostForm(name); v != "" {
		return v
	}
	return c.Query(name)
}

func handleRegistryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrUnknownProvider):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown provider"})
	case errors.Is(err, ErrUnknownModel):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown model"})
	case errors.Is(err, ErrNotInitialized):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no providers configured"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func handleProviderError(c *gin.Context, err error) {
	var userErr *provider.UserError
	if errors.As(err, &userErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": userErr.Error()})
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": "provider error"})
}
