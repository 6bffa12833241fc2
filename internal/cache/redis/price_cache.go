package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/momentumrace/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes.
//
// Key schema:
//
//	racebot:price:{symbol} - hash with fields "price" and "ts" (Unix nanoseconds)
//	racebot:prices         - hash symbol -> latest price, for full snapshots
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. A zero ttl keeps entries forever.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(symbol string) string { return keyPrefix + "price:" + symbol }

const pricesKey = keyPrefix + "prices"

// SetPrice stores the latest price and timestamp for an asset.
func (pc *PriceCache) SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error {
	key := priceKey(symbol)
	p := strconv.FormatFloat(price, 'f', -1, 64)

	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"price": p,
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	})
	pipe.HSet(ctx, pricesKey, symbol, p)
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
		pipe.Expire(ctx, pricesKey, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %s: %w", symbol, err)
	}
	return nil
}

// GetPrice retrieves the latest price and timestamp for an asset.
// It returns domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetPrice(ctx context.Context, symbol string) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(symbol)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}
	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s: %w", symbol, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", symbol, err)
	}
	return price, time.Unix(0, tsNano), nil
}

// GetPrices retrieves the latest prices for the given symbols using a
// pipeline. Symbols without an entry are omitted.
func (pc *PriceCache) GetPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	if len(symbols) == 0 {
		return map[string]float64{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(symbols))
	for _, s := range symbols {
		cmds[s] = pipe.HGet(ctx, priceKey(s), "price")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	result := make(map[string]float64, len(symbols))
	for s, cmd := range cmds {
		price, err := cmd.Float64()
		if err != nil {
			continue
		}
		result[s] = price
	}
	return result, nil
}

// Snapshot returns the latest price of every symbol seen.
func (pc *PriceCache) Snapshot(ctx context.Context) (domain.PriceTick, error) {
	vals, err := pc.rdb.HGetAll(ctx, pricesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: price snapshot: %w", err)
	}
	tick := make(domain.PriceTick, len(vals))
	for sym, v := range vals {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		tick[sym] = p
	}
	return tick, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
