package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/pitchforge/deckgen-api/internal/domain"
	"github.com/pitchforge/deckgen-api/internal/store"
)

// defaultPricingTTL bounds how stale a cached price can get. Pricing changes
// rarely; a short TTL keeps new events priced against fresh rates without a
// database read per event.
const defaultPricingTTL = 5 * time.Minute

type pricingEntry struct {
	pricing   *domain.ModelPricing
	fetchedAt time.Time
}

// PricingCache is a read-through TTL cache over a PricingStore. Misses are
// not cached: a model without pricing stays pending until the row appears,
// and the reconciliation sweep should see it as soon as it does.
type PricingCache struct {
	store store.PricingStore
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]pricingEntry

	now func() time.Time
}

// NewPricingCache creates a cache over the given store. A non-positive ttl
// falls back to the default.
func NewPricingCache(pricingStore store.PricingStore, ttl time.Duration) *PricingCache {
	if ttl <= 0 {
		ttl = defaultPricingTTL
	}
	return &PricingCache{
		store:   pricingStore,
		ttl:     ttl,
		entries: make(map[string]pricingEntry),
		now:     time.Now,
	}
}

// GetByModel returns pricing for the model key, consulting the store when
// the cached entry is absent or expired. Returns store.ErrPricingNotFound
// when no pricing row exists.
func (c *PricingCache) GetByModel(ctx context.Context, modelKey string) (*domain.ModelPricing, error) {
	c.mu.Lock()
	entry, ok := c.entries[modelKey]
	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return entry.pricing, nil
	}
	c.mu.Unlock()

	pricing, err := c.store.GetByModel(ctx, modelKey)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[modelKey] = pricingEntry{pricing: pricing, fetchedAt: c.now()}
	c.mu.Unlock()

	return pricing, nil
}
