package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/merchantkit/server/internal/module/payment/provider"
)

// Store is the uniform CRUD contract over a payment-record backend.
// Both the cache backends (memory, Redis) and the durable gorm backend
// implement it, so the registry never branches on which is configured.
//
// targetModel selects one registered model (table) by name; "" means
// the default (first registered). Backends without registered models
// ignore it on Save and reject non-empty values on List.
type Store interface {
	// Save inserts a new record. The session id must not already exist
	// in the target model.
	Save(ctx context.Context, record *PaymentRecord, targetModel string) error

	// Get returns the first record matching sessionID, searching
	// registered models in registration order. ErrPaymentNotFound when
	// no model has it.
	Get(ctx context.Context, sessionID string) (*PaymentRecord, error)

	// UpdateState sets the state of the first record matching sessionID.
	// Returns false (and no error) when no record matches.
	UpdateState(ctx context.Context, sessionID string, state provider.State) (bool, error)

	// List returns records across all registered models in registration
	// order, or from one model when targetModel is set.
	List(ctx context.Context, targetModel string) ([]*PaymentRecord, error)

	// Models returns the registered model names in registration order,
	// nil for backends without model registration.
	Models() []string
}

// --- In-memory store ---

// MemoryStore is the ephemeral cache backend: a mutex-guarded map in
// insertion order. Last write wins under concurrency; webhook and sync
// traffic converges the state afterwards.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*PaymentRecord
	order   []string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*PaymentRecord)}
}

func (s *MemoryStore) Save(ctx context.Context, record *PaymentRecord, targetModel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := record.Clone()
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	if _, ok := s.records[stored.SessionID]; !ok {
		s.order = append(s.order, stored.SessionID)
	}
	s.records[stored.SessionID] = stored
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[sessionID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return record.Clone(), nil
}

func (s *MemoryStore) UpdateState(ctx context.Context, sessionID string, state provider.State) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[sessionID]
	if !ok {
		return false, nil
	}
	record.State = state
	record.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) List(ctx context.Context, targetModel string) ([]*PaymentRecord, error) {
	if targetModel != "" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, targetModel)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*PaymentRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id].Clone())
	}
	return out, nil
}

func (s *MemoryStore) Models() []string { return nil }

// --- Durable gorm store ---

// GormStore is the durable backend. Registered models share the
// PaymentRecord column set and differ only by table; cross-model
// operations search tables in registration order, first hit wins.
type GormStore struct {
	db     *gorm.DB
	tables []string
}

// NewGormStore creates a durable store over db with the given model
// tables (default table when none given) and migrates each of them.
func NewGormStore(db *gorm.DB, tables ...string) (*GormStore, error) {
	if len(tables) == 0 {
		tables = []string{DefaultTableName}
	}
	seen := make(map[string]struct{}, len(tables))
	for _, table := range tables {
		if table == "" {
			return nil, fmt.Errorf("empty model table name")
		}
		if _, ok := seen[table]; ok {
			return nil, fmt.Errorf("duplicate model table %q", table)
		}
		seen[table] = struct{}{}
		if err := db.Table(table).AutoMigrate(&PaymentRecord{}); err != nil {
			return nil, fmt.Errorf("migrate %s: %w", table, err)
		}
	}
	return &GormStore{db: db, tables: tables}, nil
}

func (s *GormStore) resolveTable(targetModel string) (string, error) {
	if targetModel == "" {
		return s.tables[0], nil
	}
	for _, table := range s.tables {
		if table == targetModel {
			return table, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownModel, targetModel)
}

func (s *GormStore) Save(ctx context.Context, record *PaymentRecord, targetModel string) error {
	table, err := s.resolveTable(targetModel)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Table(table).Create(record).Error; err != nil {
		return fmt.Errorf("save payment %s: %w", record.SessionID, err)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, sessionID string) (*PaymentRecord, error) {
	for _, table := range s.tables {
		var record PaymentRecord
		err := s.db.WithContext(ctx).
			Table(table).
			First(&record, "session_id = ?", sessionID).Error
		if err == nil {
			return &record, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("get payment %s: %w", sessionID, err)
		}
	}
	return nil, ErrPaymentNotFound
}

func (s *GormStore) UpdateState(ctx context.Context, sessionID string, state provider.State) (bool, error) {
	for _, table := range s.tables {
		tx := s.db.WithContext(ctx).
			Table(table).
			Where("session_id = ?", sessionID).
			Updates(map[string]any{
				"state":      state,
				"updated_at": time.Now().UTC(),
			})
		if tx.Error != nil {
			return false, fmt.Errorf("update payment %s: %w", sessionID, tx.Error)
		}
		if tx.RowsAffected > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (s *GormStore) List(ctx context.Context, targetModel string) ([]*PaymentRecord, error) {
	tables := s.tables
	if targetModel != "" {
		table, err := s.resolveTable(targetModel)
		if err != nil {
			return nil, err
		}
		tables = []string{table}
	}

	var out []*PaymentRecord
	for _, table := range tables {
		var records []*PaymentRecord
		err := s.db.WithContext(ctx).
			Table(table).
			Order("id ASC").
			Find(&records).Error
		if err != nil {
			return nil, fmt.Errorf("list payments in %s: %w", table, err)
		}
		out = append(out, records...)
	}
	return out, nil
}

func (s *GormStore) Models() []string {
	out := make([]string, len(s.tables))
	copy(out, s.tables)
	return out
}
