package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// RaceStore persists race snapshots.
type RaceStore interface {
	Upsert(ctx context.Context, race Race) error
	GetByID(ctx context.Context, raceID uint64) (Race, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]Race, error)
}

// BetStore persists the player's bets as last reported by the backend.
type BetStore interface {
	Upsert(ctx context.Context, bet Bet) error
	UpsertBatch(ctx context.Context, bets []Bet) error
	Get(ctx context.Context, raceID uint64, player string) (Bet, error)
	ListByPlayer(ctx context.Context, player string, opts ListOpts) ([]Bet, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
