package payment

// CheckoutResponse is returned for JSON checkout requests.
type CheckoutResponse struct {
	SessionID   string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
}

// ProvidersResponse lists the live provider keys.
type ProvidersResponse struct {
	Providers []string `json:"providers"`
}

// ResultResponse is the success/cancel landing echo.
type ResultResponse struct {
	Status    string `json:"status"`
	PaymentID string `json:"payment_id,omitempty"`
	Stored    bool   `json:"stored"`
}

// StatusResponse reports a live provider status fetch.
type StatusResponse struct {
	PaymentID string `json:"payment_id"`
	State     string `json:"state"`
	Provider  string `json:"provider"`
	IsFinal   bool   `json:"is_final"`
	IsSuccess bool   `json:"is_success"`
}

// WebhookResponse acknowledges a processed webhook event.
type WebhookResponse struct {
	Received  bool   `json:"received"`
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	PaymentID string `json:"payment_id"`
	State     string `json:"state"`
}

// UpdateStateRequest is the admin manual state edit.
type UpdateStateRequest struct {
	State string `json:"state" binding:"required"`
}

// ListPaymentsResponse is the admin payment listing.
type ListPaymentsResponse struct {
	Payments []*PaymentRecord `json:"payments"`
	Count    int              `json:"count"`
}

// BulkActionRequest names the sessions an admin bulk action targets.
type BulkActionRequest struct {
	SessionIDs []string `json:"session_ids" binding:"required"`
}

// BulkActionResponse reports per-action counts for a bulk action.
// Failed lists the session ids that were not updated; for sync those
// are skipped, not fatal.
type BulkActionResponse struct {
	Requested int      `json:"requested"`
	Updated   int      `json:"updated"`
	Failed    []string `json:"failed,omitempty"`
}
