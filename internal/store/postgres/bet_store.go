package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/momentumrace/internal/domain"
)

// BetStore implements domain.BetStore. Rows mirror the backend's view of a
// bet and are overwritten on every refresh.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a new BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

const betSelectCols = `race_id, player, asset_idx, amount, claimed, is_winner, potential_payout`

const upsertBetQuery = `
	INSERT INTO bets (race_id, player, asset_idx, amount, claimed, is_winner, potential_payout, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	ON CONFLICT (race_id, player) DO UPDATE SET
		asset_idx = EXCLUDED.asset_idx,
		amount = EXCLUDED.amount,
		claimed = EXCLUDED.claimed,
		is_winner = EXCLUDED.is_winner,
		potential_payout = EXCLUDED.potential_payout,
		updated_at = NOW()`

func betArgs(b domain.Bet) []any {
	var payout *int64
	if b.PotentialPayout != nil {
		p := int64(*b.PotentialPayout)
		payout = &p
	}
	return []any{
		int64(b.RaceID), b.Player, int32(b.AssetIdx), int64(b.Amount),
		b.Claimed, b.IsWinner, payout,
	}
}

func scanBet(row pgx.Row) (domain.Bet, error) {
	var (
		b              domain.Bet
		raceID, amount int64
		assetIdx       int32
		payout         *int64
	)
	if err := row.Scan(&raceID, &b.Player, &assetIdx, &amount, &b.Claimed, &b.IsWinner, &payout); err != nil {
		return domain.Bet{}, err
	}
	b.RaceID = uint64(raceID)
	b.AssetIdx = int(assetIdx)
	b.Amount = uint64(amount)
	if payout != nil {
		p := uint64(*payout)
		b.PotentialPayout = &p
	}
	return b, nil
}

// Upsert inserts or replaces one bet.
func (s *BetStore) Upsert(ctx context.Context, bet domain.Bet) error {
	if _, err := s.pool.Exec(ctx, upsertBetQuery, betArgs(bet)...); err != nil {
		return fmt.Errorf("postgres: upsert bet %d/%s: %w", bet.RaceID, bet.Player, err)
	}
	return nil
}

// UpsertBatch writes many bets in one round trip using a pgx Batch.
func (s *BetStore) UpsertBatch(ctx context.Context, bets []domain.Bet) error {
	if len(bets) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, b := range bets {
		batch.Queue(upsertBetQuery, betArgs(b)...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range bets {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert bet batch item %d: %w", i, err)
		}
	}
	return nil
}

// Get returns one bet, or domain.ErrNotFound.
func (s *BetStore) Get(ctx context.Context, raceID uint64, player string) (domain.Bet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+betSelectCols+` FROM bets WHERE race_id = $1 AND player = $2`,
		int64(raceID), player,
	)
	b, err := scanBet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Bet{}, domain.ErrNotFound
		}
		return domain.Bet{}, fmt.Errorf("postgres: get bet %d/%s: %w", raceID, player, err)
	}
	return b, nil
}

// ListByPlayer returns a player's bets, newest race first.
func (s *BetStore) ListByPlayer(ctx context.Context, player string, opts domain.ListOpts) ([]domain.Bet, error) {
	query, args := appendListOpts(
		`SELECT `+betSelectCols+` FROM bets WHERE player = $1`, []any{player},
		opts, "updated_at", "race_id DESC",
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets for %s: %w", player, err)
	}
	defer rows.Close()

	var bets []domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets rows: %w", err)
	}
	return bets, nil
}

// Compile-time interface check.
var _ domain.BetStore = (*BetStore)(nil)
