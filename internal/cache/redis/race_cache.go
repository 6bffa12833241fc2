package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/momentumrace/internal/domain"
)

// RaceCache implements domain.RaceCache with JSON-serialized snapshots.
//
// Key schema:
//
//	racebot:race:{id}     - hash with field "data" containing JSON
//	racebot:race:current  - string value of the current race id
type RaceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRaceCache creates a RaceCache. A zero ttl keeps entries forever.
func NewRaceCache(c *Client, ttl time.Duration) *RaceCache {
	return &RaceCache{rdb: c.Underlying(), ttl: ttl}
}

func raceKey(id uint64) string { return keyPrefix + "race:" + strconv.FormatUint(id, 10) }

const currentRaceKey = keyPrefix + "race:current"

// Set stores a race snapshot.
func (rc *RaceCache) Set(ctx context.Context, race domain.Race) error {
	pipe := rc.rdb.TxPipeline()
	if err := rc.queueSet(ctx, pipe, race); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set race %d: %w", race.RaceID, err)
	}
	return nil
}

// Get retrieves a race snapshot by id. It returns domain.ErrNotFound when
// the key does not exist.
func (rc *RaceCache) Get(ctx context.Context, raceID uint64) (domain.Race, error) {
	data, err := rc.rdb.HGet(ctx, raceKey(raceID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Race{}, domain.ErrNotFound
		}
		return domain.Race{}, fmt.Errorf("redis: get race %d: %w", raceID, err)
	}

	var race domain.Race
	if err := json.Unmarshal(data, &race); err != nil {
		return domain.Race{}, fmt.Errorf("redis: unmarshal race %d: %w", raceID, err)
	}
	return race, nil
}

// SetCurrent stores the snapshot and marks it as the current race.
func (rc *RaceCache) SetCurrent(ctx context.Context, race domain.Race) error {
	pipe := rc.rdb.TxPipeline()
	if err := rc.queueSet(ctx, pipe, race); err != nil {
		return err
	}
	pipe.Set(ctx, currentRaceKey, strconv.FormatUint(race.RaceID, 10), rc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set current race %d: %w", race.RaceID, err)
	}
	return nil
}

// GetCurrent returns the snapshot of the current race.
func (rc *RaceCache) GetCurrent(ctx context.Context) (domain.Race, error) {
	id, err := rc.rdb.Get(ctx, currentRaceKey).Uint64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Race{}, domain.ErrNotFound
		}
		return domain.Race{}, fmt.Errorf("redis: get current race: %w", err)
	}
	return rc.Get(ctx, id)
}

func (rc *RaceCache) queueSet(ctx context.Context, pipe redis.Pipeliner, race domain.Race) error {
	data, err := json.Marshal(race)
	if err != nil {
		return fmt.Errorf("redis: marshal race %d: %w", race.RaceID, err)
	}
	key := raceKey(race.RaceID)
	pipe.HSet(ctx, key, "data", data)
	if rc.ttl > 0 {
		pipe.Expire(ctx, key, rc.ttl)
	}
	return nil
}

// Compile-time interface check.
var _ domain.RaceCache = (*RaceCache)(nil)
