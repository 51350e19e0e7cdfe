package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/tutorlink/tutorbilling/adapters/metrics"
	"github.com/tutorlink/tutorbilling/domain/provider"
	"github.com/tutorlink/tutorbilling/ports"
)

// PriceCatalog resolves recurring offers to provider price ids. Resolved ids
// are cached with a TTL; creation of missing prices is serialized per offer
// by a lock so concurrent checkouts never create duplicates.
type PriceCatalog struct {
	cache    ports.CatalogCache
	locker   ports.Locker
	provider ports.BillingProvider
	metrics  *metrics.Collector
	logger   zerolog.Logger

	ttl atomic.Int64 // nanoseconds
}

// NewPriceCatalog creates a catalog.
func NewPriceCatalog(cache ports.CatalogCache, locker ports.Locker, p ports.BillingProvider, ttl time.Duration, m *metrics.Collector, logger zerolog.Logger) *PriceCatalog {
	c := &PriceCatalog{
		cache:    cache,
		locker:   locker,
		provider: p,
		metrics:  m,
		logger:   logger.With().Str("component", "catalog").Logger(),
	}
	c.SetTTL(ttl)
	return c
}

// SetTTL changes the cache TTL for subsequent writes.
func (c *PriceCatalog) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	c.ttl.Store(int64(ttl))
}

// cacheKey changes whenever the priced terms change, so an edited offer
// never reuses an old price.
func cacheKey(o provider.Offer) string {
	return fmt.Sprintf("%s:%d:%s:%s", o.Key, o.Amount, o.Currency, o.Interval)
}

// PriceID returns the provider price id for offer, creating it if needed.
func (c *PriceCatalog) PriceID(ctx context.Context, offer provider.Offer) (string, error) {
	key := cacheKey(offer)

	if id, ok := c.cached(ctx, key); ok {
		c.metrics.CatalogLookup("cache")
		return id, nil
	}

	unlock, err := c.locker.Lock(ctx, "catalog:"+offer.Key)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn().Err(err).Str("offer", offer.Key).Msg("failed to release catalog lock")
		}
	}()

	// Another holder may have filled the cache while we waited.
	if id, ok := c.cached(ctx, key); ok {
		c.metrics.CatalogLookup("cache")
		return id, nil
	}

	id, found, err := c.provider.FindPrice(ctx, offer)
	if err != nil {
		return "", fmt.Errorf("find price for %s: %w", offer.Key, err)
	}
	source := "provider"
	if !found {
		id, err = c.provider.CreatePrice(ctx, offer)
		if err != nil {
			return "", fmt.Errorf("create price for %s: %w", offer.Key, err)
		}
		source = "created"
		c.logger.Info().Str("offer", offer.Key).Str("price_id", id).Msg("created catalog price")
	}
	c.metrics.CatalogLookup(source)

	if err := c.cache.Set(ctx, key, id, time.Duration(c.ttl.Load())); err != nil {
		c.logger.Warn().Err(err).Str("offer", offer.Key).Msg("failed to cache price id")
	}
	return id, nil
}

func (c *PriceCatalog) cached(ctx context.Context, key string) (string, bool) {
	id, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("catalog cache read failed")
		return "", false
	}
	return id, ok
}

// Warm resolves every offer. It fails on the first offer that cannot be resolved.
func (c *PriceCatalog) Warm(ctx context.Context, offers []provider.Offer) error {
	for _, o := range offers {
		if _, err := c.PriceID(ctx, o); err != nil {
			return err
		}
	}
	return nil
}

// Invalidate drops every cached price id.
func (c *PriceCatalog) Invalidate(ctx context.Context) error {
	if err := c.cache.Invalidate(ctx); err != nil {
		return fmt.Errorf("invalidate catalog: %w", err)
	}
	c.logger.Info().Msg("catalog cache invalidated")
	return nil
}

// Refresh invalidates the cache and resolves offers again.
func (c *PriceCatalog) Refresh(ctx context.Context, offers []provider.Offer) error {
	if err := c.Invalidate(ctx); err != nil {
		return err
	}
	return c.Warm(ctx, offers)
}
