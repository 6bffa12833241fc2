package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/momentumrace/internal/domain"
)

// RaceStore implements domain.RaceStore. The full snapshot is kept as JSONB
// next to the scalar columns used for filtering.
type RaceStore struct {
	pool *pgxpool.Pool
}

// NewRaceStore creates a new RaceStore backed by the given connection pool.
func NewRaceStore(pool *pgxpool.Pool) *RaceStore {
	return &RaceStore{pool: pool}
}

// Upsert inserts or replaces a race snapshot.
func (s *RaceStore) Upsert(ctx context.Context, race domain.Race) error {
	snapshot, err := json.Marshal(race)
	if err != nil {
		return fmt.Errorf("postgres: marshal race %d: %w", race.RaceID, err)
	}

	const query = `
		INSERT INTO races (race_id, state, start_ts, lock_ts, settle_ts, total_pool, fee_bps, snapshot, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (race_id) DO UPDATE SET
			state = EXCLUDED.state,
			start_ts = EXCLUDED.start_ts,
			lock_ts = EXCLUDED.lock_ts,
			settle_ts = EXCLUDED.settle_ts,
			total_pool = EXCLUDED.total_pool,
			fee_bps = EXCLUDED.fee_bps,
			snapshot = EXCLUDED.snapshot,
			updated_at = NOW()`

	_, err = s.pool.Exec(ctx, query,
		int64(race.RaceID), string(race.State),
		race.StartTs, race.LockTs, race.SettleTs,
		int64(race.TotalPool), int32(race.FeeBps), snapshot,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert race %d: %w", race.RaceID, err)
	}
	return nil
}

// GetByID returns a race by id, or domain.ErrNotFound.
func (s *RaceStore) GetByID(ctx context.Context, raceID uint64) (domain.Race, error) {
	var snapshot []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM races WHERE race_id = $1`, int64(raceID),
	).Scan(&snapshot)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Race{}, domain.ErrNotFound
		}
		return domain.Race{}, fmt.Errorf("postgres: get race %d: %w", raceID, err)
	}

	var race domain.Race
	if err := json.Unmarshal(snapshot, &race); err != nil {
		return domain.Race{}, fmt.Errorf("postgres: unmarshal race %d: %w", raceID, err)
	}
	return race, nil
}

// ListRecent returns races ordered by start time, newest first.
func (s *RaceStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Race, error) {
	query, args := appendListOpts(`SELECT snapshot FROM races WHERE 1=1`, nil, opts, "updated_at", "start_ts DESC")

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list races: %w", err)
	}
	defer rows.Close()

	var races []domain.Race
	for rows.Next() {
		var snapshot []byte
		if err := rows.Scan(&snapshot); err != nil {
			return nil, fmt.Errorf("postgres: scan race: %w", err)
		}
		var race domain.Race
		if err := json.Unmarshal(snapshot, &race); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal race: %w", err)
		}
		races = append(races, race)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list races rows: %w", err)
	}
	return races, nil
}

// Compile-time interface check.
var _ domain.RaceStore = (*RaceStore)(nil)
