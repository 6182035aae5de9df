package payment

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/merchantkit/server/internal/module/payment/provider"
)

// AdminHandler exposes the management routes: record inspection,
// manual state edits, and bulk refund/cancel/sync actions.
type AdminHandler struct {
	registry *Registry
	logger   *zap.Logger
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(registry *Registry, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{registry: registry, logger: logger}
}

// RegisterRoutes registers the admin routes on r.
func (h *AdminHandler) RegisterRoutes(r *gin.RouterGroup) {
	admin := r.Group("/admin")
	{
		admin.GET("/payments", h.ListPayments)
		admin.GET("/payments/:id", h.GetPayment)
		admin.PATCH("/payments/:id", h.UpdateState)
		admin.POST("/payments/refund", h.BulkRefund)
		admin.POST("/payments/cancel", h.BulkCancel)
		admin.POST("/payments/sync", h.BulkSync)
	}
}

// ListPayments lists stored records, optionally restricted to one
// registered model via ?model=.
func (h *AdminHandler) ListPayments(c *gin.Context) {
	records, err := h.registry.ListAll(c.Request.Context(), c.Query("model"))
	if err != nil {
		if errors.Is(err, ErrUnknownModel) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown model"})
			return
		}
		h.logger.Error("list payments failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, ListPaymentsResponse{Payments: records, Count: len(records)})
}

// GetPayment returns one stored record by session id.
func (h *AdminHandler) GetPayment(c *gin.Context) {
	record, ok := h.registry.Get(c.Request.Context(), c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
		return
	}
	c.JSON(http.StatusOK, record)
}

// UpdateState manually edits a record's state. Unlike the registry,
// the admin surface validates the state value: free-text edits must
// not persist unrecognized states.
func (h *AdminHandler) UpdateState(c *gin.Context) {
	var req UpdateStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state := provider.State(req.State)
	if !state.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrInvalidState.Error()})
		return
	}

	sessionID := c.Param("id")
	if !h.registry.UpdateState(c.Request.Context(), sessionID, state) {
		c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
		return
	}

	record, ok := h.registry.Get(c.Request.Context(), sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "payment not found"})
		return
	}
	c.JSON(http.StatusOK, record)
}

// BulkRefund marks every named session refunded.
func (h *AdminHandler) BulkRefund(c *gin.Context) {
	h.bulk(c, h.registry.Refund)
}

// BulkCancel marks every named session cancelled.
func (h *AdminHandler) BulkCancel(c *gin.Context) {
	h.bulk(c, h.registry.Cancel)
}

// BulkSync reconciles every named session against its provider.
// Individual failures are skipped, not fatal.
func (h *AdminHandler) BulkSync(c *gin.Context) {
	h.bulk(c, func(ctx context.Context, sessionID string) bool {
		_, ok := h.registry.SyncFromProvider(ctx, sessionID)
		return ok
	})
}

func (h *AdminHandler) bulk(c *gin.Context, action func(context.Context, string) bool) {
	var req BulkActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp := BulkActionResponse{Requested: len(req.SessionIDs)}
	for _, sessionID := range req.SessionIDs {
		if action(c.Request.Context(), sessionID) {
			resp.Updated++
		} else {
			resp.Failed = append(resp.Failed, sessionID)
		}
	}
	c.JSON(http.StatusOK, resp)
}
