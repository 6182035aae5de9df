package payment

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/merchantkit/server/internal/module/payment/provider"
)

// DefaultTableName is the table backing the default payment model.
const DefaultTableName = "merchant_payments"

// JSONMap is an open key/value map stored as a jsonb column.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal json map: %w", err)
	}
	return b, nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported json map source %T", value)
	}
	if len(b) == 0 {
		*m = JSONMap{}
		return nil
	}
	return json.Unmarshal(b, m)
}

// PaymentRecord is the canonical unit of payment state: one row per
// checkout session. All registered models share this column set; a
// model is just a table name.
type PaymentRecord struct {
	ID              uint            `gorm:"primaryKey" json:"-"`
	SessionID       string          `gorm:"size:191;uniqueIndex" json:"session_id"`
	RedirectURL     string          `gorm:"size:2048" json:"redirect_url"`
	Provider        string          `gorm:"size:64;index" json:"provider"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,2)" json:"amount"`
	Currency        string          `gorm:"size:3" json:"currency"`
	State           provider.State  `gorm:"size:32;index" json:"state"`
	Metadata        JSONMap         `gorm:"type:jsonb" json:"metadata"`
	RequestPayload  JSONMap         `gorm:"type:jsonb" json:"request_payload"`
	ResponsePayload JSONMap         `gorm:"type:jsonb" json:"response_payload"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// TableName returns the default table name. Stores that manage several
// registered models override it per query with Table().
func (PaymentRecord) TableName() string {
	return DefaultTableName
}

// Clone returns a deep copy of the record. Map fields are copied so
// cache readers never alias store-internal state.
func (r *PaymentRecord) Clone() *PaymentRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Metadata = cloneJSONMap(r.Metadata)
	out.RequestPayload = cloneJSONMap(r.RequestPayload)
	out.ResponsePayload = cloneJSONMap(r.ResponsePayload)
	return &out
}

func cloneJSONMap(m JSONMap) JSONMap {
	out := make(JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// recordFromSession builds a fresh pending record from a provider
// checkout session. Payload maps default to empty, never nil.
func recordFromSession(sess *provider.CheckoutSession, requestPayload JSONMap) *PaymentRecord {
	metadata := make(JSONMap, len(sess.Metadata))
	for k, v := range sess.Metadata {
		metadata[k] = v
	}
	response := make(JSONMap, len(sess.Raw))
	for k, v := range sess.Raw {
		response[k] = v
	}
	if requestPayload == nil {
		requestPayload = JSONMap{}
	}
	return &PaymentRecord{
		SessionID:       sess.SessionID,
		RedirectURL:     sess.RedirectURL,
		Provider:        sess.Provider,
		Amount:          sess.Amount,
		Currency:        sess.Currency,
		State:           provider.StatePending,
		Metadata:        metadata,
		RequestPayload:  requestPayload,
		ResponsePayload: response,
	}
}
