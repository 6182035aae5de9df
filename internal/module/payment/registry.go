package payment

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/merchantkit/server/internal/module/payment/provider"
)

// SaveOptions control where and what Save persists beyond the session
// itself.
type SaveOptions struct {
	// TargetModel selects the durable model (table) for the new record;
	// "" targets the first registered model.
	TargetModel string

	// RequestPayload is an audit copy of the outbound checkout request.
	RequestPayload JSONMap
}

// Registry is the single point of truth for payment records: it
// translates provider checkout sessions into stored records and keeps
// each record's state consistent across three update sources (admin
// action, webhook, provider poll) and two backends (cache, optional
// durable store).
type Registry struct {
	providers *provider.Registry
	cache     Store
	durable   Store // nil when no durable backend is configured
	logger    *zap.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

// RegistryOptions configure a Registry.
type RegistryOptions struct {
	// Providers are registered in order; the first is the default.
	Providers []provider.Provider

	// Cache is the always-on cache backend; defaults to MemoryStore.
	Cache Store

	// Durable is the optional durable backend. When set it is
	// authoritative: Save failures there propagate and skip the cache.
	Durable Store

	Logger *zap.Logger
}

// NewRegistry creates a payment registry.
func NewRegistry(opts RegistryOptions) *Registry {
	cache := opts.Cache
	if cache == nil {
		cache = NewMemoryStore()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{
		providers: provider.NewRegistry(),
		cache:     cache,
		durable:   opts.Durable,
		logger:    logger,
		clients:   make(map[string]*Client),
	}
	for _, p := range opts.Providers {
		r.RegisterProvider(p)
	}
	return r
}

// RegisterProvider registers a provider. It is live: the provider is
// selectable immediately, including on an already-serving registry.
// Re-registering a key drops that key's cached client.
func (r *Registry) RegisterProvider(p provider.Provider) {
	r.providers.Register(p)

	r.mu.Lock()
	delete(r.clients, p.Key())
	r.mu.Unlock()

	r.logger.Info("payment provider registered", zap.String("provider", p.Key()))
}

// ProviderKeys returns the live set of registered provider keys in
// registration order.
func (r *Registry) ProviderKeys() []string {
	return r.providers.Keys()
}

// ClientFor returns the client for key, lazily constructing and
// caching it. "" resolves to the default (first registered) provider.
// An unknown non-empty key is an error, never a silent fallback.
func (r *Registry) ClientFor(key string) (*Client, error) {
	var p provider.Provider
	if key == "" {
		def, ok := r.providers.Default()
		if !ok {
			return nil, ErrNotInitialized
		}
		p = def
	} else {
		reg, ok := r.providers.Get(key)
		if !ok {
			if r.providers.Len() == 0 {
				return nil, ErrNotInitialized
			}
			return nil, ErrUnknownProvider
		}
		p = reg
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[p.Key()]; ok {
		return client, nil
	}
	client := NewClient(p, r.logger)
	r.clients[p.Key()] = client
	return client, nil
}

// Save persists a fresh pending record for the session. The durable
// store, when configured, is authoritative: its failure propagates and
// the cache is left untouched. The cache is always written on success
// so lookups never need a durable round-trip.
func (r *Registry) Save(ctx context.Context, sess *provider.CheckoutSession, opts SaveOptions) (*PaymentRecord, error) {
	record := recordFromSession(sess, opts.RequestPayload)

	if r.durable != nil {
		if err := r.durable.Save(ctx, record, opts.TargetModel); err != nil {
			return nil, err
		}
		if err := r.cache.Save(ctx, record, ""); err != nil {
			// Durable write committed; the cache will repopulate via
			// Get fallbacks and webhook traffic.
			r.logger.Warn("cache mirror write failed",
				zap.String("session_id", record.SessionID),
				zap.Error(err),
			)
		}
	} else {
		if err := r.cache.Save(ctx, record, ""); err != nil {
			return nil, err
		}
	}

	checkoutsCreated.WithLabelValues(record.Provider).Inc()
	return record, nil
}

// Get returns the stored record for sessionID: first match across the
// durable models in registration order, falling back to the cache.
// Never polls the provider; use SyncFromProvider for that.
func (r *Registry) Get(ctx context.Context, sessionID string) (*PaymentRecord, bool) {
	if r.durable != nil {
		record, err := r.durable.Get(ctx, sessionID)
		if err == nil {
			return record, true
		}
		if !errors.Is(err, ErrPaymentNotFound) {
			r.logger.Error("durable get failed",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}

	record, err := r.cache.Get(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, ErrPaymentNotFound) {
			r.logger.Error("cache get failed",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
		return nil, false
	}
	return record, true
}

// UpdateState sets the record's state: first matching durable model
// wins and the update is mirrored into the cache; with no durable hit
// the cache alone is updated. Returns false when no store has the
// record. The state value is not validated here; callers that accept
// external state input validate before calling.
func (r *Registry) UpdateState(ctx context.Context, sessionID string, state provider.State) bool {
	if r.durable != nil {
		updated, err := r.durable.UpdateState(ctx, sessionID, state)
		if err != nil {
			r.logger.Error("durable state update failed",
				zap.String("session_id", sessionID),
				zap.String("state", string(state)),
				zap.Error(err),
			)
			return false
		}
		if updated {
			if _, err := r.cache.UpdateState(ctx, sessionID, state); err != nil {
				r.logger.Warn("cache state mirror failed",
					zap.String("session_id", sessionID),
					zap.Error(err),
				)
			}
			stateTransitions.WithLabelValues(string(state)).Inc()
			return true
		}
	}

	updated, err := r.cache.UpdateState(ctx, sessionID, state)
	if err != nil {
		r.logger.Error("cache state update failed",
			zap.String("session_id", sessionID),
			zap.String("state", string(state)),
			zap.Error(err),
		)
		return false
	}
	if updated {
		stateTransitions.WithLabelValues(string(state)).Inc()
	}
	return updated
}

// Refund marks the record refunded. Local bookkeeping only; no refund
// is issued to the provider.
func (r *Registry) Refund(ctx context.Context, sessionID string) bool {
	return r.UpdateState(ctx, sessionID, provider.StateRefunded)
}

// Cancel marks the record cancelled. Local bookkeeping only.
func (r *Registry) Cancel(ctx context.Context, sessionID string) bool {
	return r.UpdateState(ctx, sessionID, provider.StateCancelled)
}

// SyncFromProvider reconciles one record against the provider's live
// state. Best effort by contract: an unknown session, an unregistered
// provider, or any provider-call failure yields (nil, false) with the
// stored state untouched.
func (r *Registry) SyncFromProvider(ctx context.Context, sessionID string) (*PaymentRecord, bool) {
	record, ok := r.Get(ctx, sessionID)
	if !ok {
		return nil, false
	}

	client, err := r.ClientFor(record.Provider)
	if err != nil {
		r.logger.Warn("sync skipped: no client for stored provider",
			zap.String("session_id", sessionID),
			zap.String("provider", record.Provider),
			zap.Error(err),
		)
		return nil, false
	}

	status, err := client.GetPayment(ctx, sessionID)
	if err != nil {
		r.logger.Warn("sync fetch failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return nil, false
	}

	if !r.UpdateState(ctx, sessionID, status.State) {
		return nil, false
	}
	record.State = status.State
	return record, true
}

// ListAll returns all stored records: every durable model concatenated
// in registration order, or the cache snapshot when no durable backend
// is configured. targetModel restricts to one durable model.
func (r *Registry) ListAll(ctx context.Context, targetModel string) ([]*PaymentRecord, error) {
	if r.durable != nil {
		return r.durable.List(ctx, targetModel)
	}
	return r.cache.List(ctx, targetModel)
}

// Models returns the durable backend's registered model names, nil in
// cache-only deployments.
func (r *Registry) Models() []string {
	if r.durable == nil {
		return nil
	}
	return r.durable.Models()
}
