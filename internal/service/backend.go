// Package service holds the daemon's business logic: it applies backend
// snapshots and pushes to the caches, stores and bus, and executes bet and
// claim commands for the configured player.
package service

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/momentumrace/internal/domain"
	"github.com/alanyoungcy/momentumrace/internal/platform/raceapi"
)

// RaceBackend is the subset of the backend API the race service reads.
type RaceBackend interface {
	GetCurrentRace(ctx context.Context) domain.Envelope[domain.Race]
	GetRace(ctx context.Context, raceID uint64) domain.Envelope[domain.Race]
	GetRaceLeaderboard(ctx context.Context, raceID uint64) domain.Envelope[[]domain.LeaderboardEntry]
}

// BetBackend is the subset of the backend API the bet service uses.
type BetBackend interface {
	GetUserBets(ctx context.Context, pubkey string, force bool) domain.Envelope[[]domain.Bet]
	GetBet(ctx context.Context, raceID uint64, player string) domain.Envelope[domain.Bet]
	PlaceBet(ctx context.Context, req raceapi.PlaceBetRequest) domain.Envelope[domain.Bet]
	ClaimPayout(ctx context.Context, req raceapi.ClaimPayoutRequest) domain.Envelope[domain.ClaimResult]
}

// AssetBackend lists the tradable assets.
type AssetBackend interface {
	ListAssets(ctx context.Context) domain.Envelope[[]domain.Asset]
}

// Notifier delivers operator alerts. *notify.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// alert sends through n when it is set. Delivery failures are logged only.
func alert(ctx context.Context, n Notifier, logger *slog.Logger, event, title, msg string) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, event, title, msg); err != nil {
		logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

var (
	_ RaceBackend  = (*raceapi.Client)(nil)
	_ BetBackend   = (*raceapi.Client)(nil)
	_ AssetBackend = (*raceapi.Client)(nil)
)
