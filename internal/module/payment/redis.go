package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/merchantkit/server/internal/module/payment/provider"
)

// RedisStore is a Redis-backed cache backend, a drop-in for
// MemoryStore when the cache must survive process restarts or be
// shared across replicas. Records are stored as JSON under
// <prefix>:<session_id>; an index list preserves insertion order.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a Redis cache store. A zero ttl keeps records
// until explicitly deleted.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "merchants:payment"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) recordKey(sessionID string) string {
	return fmt.Sprintf("%s:%s", s.prefix, sessionID)
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":index"
}

func (s *RedisStore) Save(ctx context.Context, record *PaymentRecord, targetModel string) error {
	stored := record.Clone()
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal payment %s: %w", stored.SessionID, err)
	}

	key := s.recordKey(stored.SessionID)
	existed, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("save payment %s: %w", stored.SessionID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, payload, s.ttl)
	if existed == 0 {
		pipe.RPush(ctx, s.indexKey(), stored.SessionID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save payment %s: %w", stored.SessionID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*PaymentRecord, error) {
	payload, err := s.client.Get(ctx, s.recordKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment %s: %w", sessionID, err)
	}

	var record PaymentRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("unmarshal payment %s: %w", sessionID, err)
	}
	return &record, nil
}

func (s *RedisStore) UpdateState(ctx context.Context, sessionID string, state provider.State) (bool, error) {
	record, err := s.Get(ctx, sessionID)
	if errors.Is(err, ErrPaymentNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	record.State = state
	record.UpdatedAt = time.Now().UTC()

	payload, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("marshal payment %s: %w", sessionID, err)
	}
	if err := s.client.Set(ctx, s.recordKey(sessionID), payload, s.ttl).Err(); err != nil {
		return false, fmt.Errorf("update payment %s: %w", sessionID, err)
	}
	return true, nil
}

func (s *RedisStore) List(ctx context.Context, targetModel string) ([]*PaymentRecord, error) {
	if targetModel != "" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, targetModel)
	}

	ids, err := s.client.LRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}

	out := make([]*PaymentRecord, 0, len(ids))
	for _, id := range ids {
		record, err := s.Get(ctx, id)
		if errors.Is(err, ErrPaymentNotFound) {
			// Expired record still referenced by the index.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}

func (s *RedisStore) Models() []string { return nil }
