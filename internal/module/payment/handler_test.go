package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/merchantkit/server/internal/module/payment/provider"
)

func newTestRouter(t *testing.T, registry *Registry, webhookSecret string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	group := router.Group("/merchants")
	NewHandler(registry, webhookSecret, zap.NewNop()).RegisterRoutes(group)
	NewAdminHandler(registry, zap.NewNop()).RegisterRoutes(group)
	return router
}

func newDummyRegistry(providers ...provider.Provider) *Registry {
	if len(providers) == 0 {
		providers = []provider.Provider{provider.NewDummyProvider()}
	}
	return NewRegistry(RegistryOptions{Providers: providers})
}

func doJSON(router *gin.Engine, method, target string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestCheckoutRoute(t *testing.T) {
	t.Run("json request returns session descriptor", func(t *testing.T) {
		registry := newDummyRegistry()
		router := newTestRouter(t, registry, "")

		w := doJSON(router, http.MethodPost, "/merchants/checkout",
			gin.H{"amount": "25.00", "currency": "USD"})

		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		sessionID, _ := body["session_id"].(string)
		assert.True(t, strings.HasPrefix(sessionID, "dummy_sess_"), "session_id %q", sessionID)
		assert.Contains(t, body["redirect_url"], "amount=25.00")

		record, ok := registry.Get(context.Background(), sessionID)
		require.True(t, ok)
		assert.Equal(t, provider.StatePending, record.State)
		assert.Equal(t, "25.00", record.RequestPayload["amount"])
	})

	t.Run("form request redirects to the hosted page", func(t *testing.T) {
		router := newTestRouter(t, newDummyRegistry(), "")

		form := url.Values{"amount": {"10.00"}, "currency": {"EUR"}}
		req := httptest.NewRequest(http.MethodPost, "/merchants/checkout",
			strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusFound, w.Code)
		location := w.Header().Get("Location")
		assert.Contains(t, location, "https://dummy-pay.example.com/checkout/")
		assert.Contains(t, location, "amount=10.00")
		assert.Contains(t, location, "currency=EUR")
	})

	t.Run("get request redirects using query params", func(t *testing.T) {
		router := newTestRouter(t, newDummyRegistry(), "")

		req := httptest.NewRequest(http.MethodGet, "/merchants/checkout?amount=3.50&currency=GBP", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusFound, w.Code)
		assert.Contains(t, w.Header().Get("Location"), "amount=3.50")
	})

	t.Run("missing amount and currency use defaults", func(t *testing.T) {
		registry := newDummyRegistry()
		router := newTestRouter(t, registry, "")

		w := doJSON(router, http.MethodPost, "/merchants/checkout", gin.H{})

		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Contains(t, body["redirect_url"], "amount=1.00")
		assert.Contains(t, body["redirect_url"], "currency=USD")
	})

	t.Run("explicit provider selects that provider", func(t *testing.T) {
		registry := newDummyRegistry(
			provider.NewDummyProvider(),
			&provider.DummyProvider{KeyName: "alt_dummy"},
		)
		router := newTestRouter(t, registry, "")

		w := doJSON(router, http.MethodPost, "/merchants/checkout",
			gin.H{"amount": "5.00", "currency": "USD", "provider": "alt_dummy"})

		require.Equal(t, http.StatusOK, w.Code)
		sessionID := decodeBody(t, w)["session_id"].(string)
		assert.True(t, strings.HasPrefix(sessionID, "alt_dummy_sess_"))

		record, ok := registry.Get(context.Background(), sessionID)
		require.True(t, ok)
		assert.Equal(t, "alt_dummy", record.Provider)
	})

	t.Run("unknown provider", func(t *testing.T) {
		router := newTestRouter(t, newDummyRegistry(), "")

		w := doJSON(router, http.MethodPost, "/merchants/checkout",
			gin.H{"amount": "5.00", "currency": "USD", "provider": "nonexistent"})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "unknown provider")
	})

	t.Run("invalid amount", func(t *testing.T) {
		router := newTestRouter(t, newDummyRegistry(), "")

		w := doJSON(router, http.MethodPost, "/merchants/checkout",
			gin.H{"amount": "lots", "currency": "USD"})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("negative amount rejected by provider", func(t *testing.T) {
		router := newTestRouter(t, newDummyRegistry(), "")

		w := doJSON(router, http.MethodPost, "/merchants/checkout",
			gin.H{"amount": "-5.00", "currency": "USD"})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("no providers configured", func(t *testing.T) {
		router := newTestRouter(t, NewRegistry(RegistryOptions{}), "")

		w := doJSON(router, http.MethodPost, "/merchants/checkout",
			gin.H{"amount": "5.00", "currency": "USD"})

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestProvidersRoute(t *testing.T) {
	registry := newDummyRegistry(
		provider.NewDummyProvider(),
		&provider.DummyProvider{KeyName: "alt_dummy"},
	)
	router := newTestRouter(t, registry, "")

	w := doJSON(router, http.MethodGet, "/merchants/providers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"providers":["dummy","alt_dummy"]}`, w.Body.String())

	// Registration after startup appears immediately.
	registry.RegisterProvider(&provider.DummyProvider{KeyName: "late"})
	w = doJSON(router, http.MethodGet, "/merchants/providers", nil)
	assert.JSONEq(t, `{"providers":["dummy","alt_dummy","late"]}`, w.Body.String())
}

func TestLandingRoutes(t *testing.T) {
	registry := newDummyRegistry()
	router := newTestRouter(t, registry, "")

	_, err := registry.Save(context.Background(), testSession("dummy_sess_1"), SaveOptions{})
	require.NoError(t, err)

	t.Run("success with stored payment", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/merchants/success?payment_id=dummy_sess_1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"success","payment_id":"dummy_sess_1","stored":true}`, w.Body.String())
	})

	t.Run("cancel with unknown payment", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/merchants/cancel?payment_id=missing", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"cancelled","payment_id":"missing","stored":false}`, w.Body.String())
	})

	t.Run("success without payment id", func(t *testing.T) {
		w := doJSON(router, http.MethodGet, "/merchants/success", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"success","stored":false}`, w.Body.String())
	})
}

func TestStatusRoute(t *testing.T) {
	t.Run("fetches live state and persists it", func(t *testing.T) {
		registry := newDummyRegistry(&provider.DummyProvider{AlwaysState: provider.StateSucceeded})
		router := newTestRouter(t, registry, "")

		w := doJSON(router, http.MethodPost, "/merchants/checkout",
			gin.H{"amount": "25.00", "currency": "USD"})
		require.Equal(t, http.StatusOK, w.Code)
		sessionID := decodeBody(t, w)["session_id"].(string)

		w = doJSON(router, http.MethodGet, "/merchants/status/"+sessionID, nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "succeeded", body["state"])
		assert.Equal(t, "dummy", body["provider"])
		assert.Equal(t, true, body["is_final"])
		assert.Equal(t, true, body["is_success"])

		record, ok := registry.Get(context.Background(), sessionID)
		require.True(t, ok)
		assert.Equal(t, provider.StateSucceeded, record.State)
	})

	t.Run("pending state is not final", func(t *testing.T) {
		registry := newDummyRegistry()
		router := newTestRouter(t, registry, "")

		w := doJSON(router, http.MethodPost, "/merchants/checkout",
			gin.H{"amount": "25.00", "currency": "USD"})
		sessionID := decodeBody(t, w)["session_id"].(string)

		w = doJSON(router, http.MethodGet, "/merchants/status/"+sessionID, nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "pending", body["state"])
		assert.Equal(t, false, body["is_final"])
		assert.Equal(t, false, body["is_success"])
	})

	t.Run("provider rejects foreign id", func(t *testing.T) {
		router := newTestRouter(t, newDummyRegistry(), "")

		w := doJSON(router, http.MethodGet, "/merchants/status/cs_not_ours", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown provider query param", func(t *testing.T) {
		router := newTestRouter(t, newDummyRegistry(), "")

		w := doJSON(router, http.MethodGet, "/merchants/status/dummy_sess_1?provider=nonexistent", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestWebhookRoute(t *testing.T) {
	const secret = "whsec_test"

	postWebhook := func(router *gin.Engine, payload []byte, sign bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/merchants/webhook", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		if sign {
			req.Header.Set(provider.SignatureHeader, provider.Sign(payload, secret))
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("valid signature updates the stored record", func(t *testing.T) {
		registry := newDummyRegistry()
		router := newTestRouter(t, registry, secret)

		_, err := registry.Save(context.Background(), testSession("dummy_sess_X"), SaveOptions{})
		require.NoError(t, err)

		payload := []byte(`{"payment_id":"dummy_sess_X","event_type":"payment.succeeded"}`)
		w := postWebhook(router, payload, true)

		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, true, body["received"])
		assert.Equal(t, "payment.succeeded", body["event_type"])
		assert.Equal(t, "dummy_sess_X", body["payment_id"])
		assert.Equal(t, "succeeded", body["state"])

		record, ok := registry.Get(context.Background(), "dummy_sess_X")
		require.True(t, ok)
		assert.Equal(t, provider.StateSucceeded, record.State)
	})

	t.Run("missing signature", func(t *testing.T) {
		router := newTestRouter(t, newDummyRegistry(), secret)

		w := postWebhook(router, []byte(`{"payment_id":"dummy_sess_X"}`), false)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"error":"invalid signature"}`, w.Body.String())
	})

	t.Run("tampered body", func(t *testing.T) {
		router := newTestRouter(t, newDummyRegistry(), secret)

		payload := []byte(`{"payment_id":"dummy_sess_X","event_type":"payment.succeeded"}`)
		req := httptest.NewRequest(http.MethodPost, "/merchants/webhook",
			bytes.NewReader([]byte(`{"payment_id":"dummy_sess_Y"}`)))
		req.Header.Set(provider.SignatureHeader, provider.Sign(payload, secret))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"error":"invalid signature"}`, w.Body.String())
	})

	t.Run("malformed payload with valid signature", func(t *testing.T) {
		router := newTestRouter(t, newDummyRegistry(), secret)

		w := postWebhook(router, []byte(`not-json`), true)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"error":"malformed payload"}`, w.Body.String())
	})

	t.Run("no secret disables verification", func(t *testing.T) {
		registry := newDummyRegistry()
		router := newTestRouter(t, registry, "")

		_, err := registry.Save(context.Background(), testSession("dummy_sess_X"), SaveOptions{})
		require.NoError(t, err)

		w := postWebhook(router, []byte(`{"payment_id":"dummy_sess_X","event_type":"payment.failed"}`), false)

		require.Equal(t, http.StatusOK, w.Code)
		record, _ := registry.Get(context.Background(), "dummy_sess_X")
		assert.Equal(t, provider.StateFailed, record.State)
	})

	t.Run("unknown payment still acknowledged", func(t *testing.T) {
		router := newTestRouter(t, newDummyRegistry(), "")

		w := postWebhook(router, []byte(`{"payment_id":"dummy_sess_unseen","event_type":"payment.succeeded"}`), false)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestAdminRoutes(t *testing.T) {
	seed := func(t *testing.T, registry *Registry, ids ...string) {
		t.Helper()
		for _, id := range ids {
			_, err := registry.Save(context.Background(), testSession(id), SaveOptions{})
			require.NoError(t, err)
		}
	}

	t.Run("list payments", func(t *testing.T) {
		registry := newDummyRegistry()
		router := newTestRouter(t, registry, "")
		seed(t, registry, "dummy_sess_1", "dummy_sess_2")

		w := doJSON(router, http.MethodGet, "/merchants/admin/payments", nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, float64(2), body["count"])
	})

	t.Run("list with unknown model filter", func(t *testing.T) {
		router := newTestRouter(t, newDummyRegistry(), "")

		w := doJSON(router, http.MethodGet, "/merchants/admin/payments?model=ghost", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("get payment", func(t *testing.T) {
		registry := newDummyRegistry()
		router := newTestRouter(t, registry, "")
		seed(t, registry, "dummy_sess_1")

		w := doJSON(router, http.MethodGet, "/merchants/admin/payments/dummy_sess_1", nil)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "dummy_sess_1", body["session_id"])
		assert.Equal(t, "pending", body["state"])

		w = doJSON(router, http.MethodGet, "/merchants/admin/payments/missing", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("manual state edit validates the state", func(t *testing.T) {
		registry := newDummyRegistry()
		router := newTestRouter(t, registry, "")
		seed(t, registry, "dummy_sess_1")

		w := doJSON(router, http.MethodPatch, "/merchants/admin/payments/dummy_sess_1",
			gin.H{"state": "processing"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "processing", decodeBody(t, w)["state"])

		w = doJSON(router, http.MethodPatch, "/merchants/admin/payments/dummy_sess_1",
			gin.H{"state": "paid"})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		record, _ := registry.Get(context.Background(), "dummy_sess_1")
		assert.Equal(t, provider.StateProcessing, record.State)
	})

	t.Run("bulk refund and cancel", func(t *testing.T) {
		registry := newDummyRegistry()
		router := newTestRouter(t, registry, "")
		seed(t, registry, "dummy_sess_1", "dummy_sess_2")

		w := doJSON(router, http.MethodPost, "/merchants/admin/payments/refund",
			gin.H{"session_ids": []string{"dummy_sess_1", "missing"}})
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, float64(2), body["requested"])
		assert.Equal(t, float64(1), body["updated"])

		record, _ := registry.Get(context.Background(), "dummy_sess_1")
		assert.Equal(t, provider.StateRefunded, record.State)

		w = doJSON(router, http.MethodPost, "/merchants/admin/payments/cancel",
			gin.H{"session_ids": []string{"dummy_sess_2"}})
		require.Equal(t, http.StatusOK, w.Code)

		record, _ = registry.Get(context.Background(), "dummy_sess_2")
		assert.Equal(t, provider.StateCancelled, record.State)
	})

	t.Run("bulk sync skips failures", func(t *testing.T) {
		registry := newDummyRegistry(&provider.DummyProvider{AlwaysState: provider.StateSucceeded})
		router := newTestRouter(t, registry, "")
		seed(t, registry, "dummy_sess_1")

		w := doJSON(router, http.MethodPost, "/merchants/admin/payments/sync",
			gin.H{"session_ids": []string{"dummy_sess_1", "missing"}})
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, float64(1), body["updated"])
		failed, _ := body["failed"].([]any)
		require.Len(t, failed, 1)
		assert.Equal(t, "missing", failed[0])

		record, _ := registry.Get(context.Background(), "dummy_sess_1")
		assert.Equal(t, provider.StateSucceeded, record.State)
	})
}
