package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest asset prices.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
	GetPrices(ctx context.Context, symbols []string) (map[string]float64, error)
	Snapshot(ctx context.Context) (PriceTick, error)
}

// RaceCache holds the latest race snapshots.
type RaceCache interface {
	Set(ctx context.Context, race Race) error
	Get(ctx context.Context, raceID uint64) (Race, error)
	SetCurrent(ctx context.Context, race Race) error
	GetCurrent(ctx context.Context) (Race, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub fan-out between the feed and local consumers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// Bus channel names.
const (
	ChannelRaceUpdate    = "race_update"
	ChannelPriceUpdate   = "price_update"
	ChannelUserBetUpdate = "user_bet_update"
)
