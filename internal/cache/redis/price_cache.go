package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solsticefi/bonddepot/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each market's
// price is stored as a hash at key "price:{marketID}" with fields "price"
// (decimal string, full 256-bit precision) and "ts" (Unix nanoseconds).
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// priceTTL bounds staleness: a price that was not refreshed within the TTL
// disappears and readers fall back to the engine.
const priceTTL = 5 * time.Minute

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: priceTTL}
}

func priceKey(marketID uint64) string {
	return "price:" + strconv.FormatUint(marketID, 10)
}

// SetPrice stores the latest quoted price and timestamp for a market.
func (pc *PriceCache) SetPrice(ctx context.Context, marketID uint64, price string, ts time.Time) error {
	key := priceKey(marketID)
	fields := map[string]interface{}{
		"price": price,
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}

	pipe := pc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, pc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %d: %w", marketID, err)
	}
	return nil
}

// GetPrice retrieves the latest cached price and timestamp for a market.
// It returns domain.ErrNotFound when no fresh price is cached.
func (pc *PriceCache) GetPrice(ctx context.Context, marketID uint64) (string, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(marketID)).Result()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("redis: get price %d: %w", marketID, err)
	}
	if len(vals) == 0 {
		return "", time.Time{}, domain.ErrNotFound
	}

	price, ok := vals["price"]
	if !ok {
		return "", time.Time{}, domain.ErrNotFound
	}
	tsStr, ok := vals["ts"]
	if !ok {
		return "", time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("redis: parse ts for market %d: %w", marketID, err)
	}

	return price, time.Unix(0, tsNano), nil
}

// Invalidate drops the cached price for a market, typically after it
// concludes.
func (pc *PriceCache) Invalidate(ctx context.Context, marketID uint64) error {
	if err := pc.rdb.Del(ctx, priceKey(marketID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate price %d: %w", marketID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
