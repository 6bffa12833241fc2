package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alanyoungcy/momentumrace/internal/domain"
	"github.com/alanyoungcy/momentumrace/internal/notify"
	"github.com/alanyoungcy/momentumrace/internal/platform/raceapi"
)

// BetPolicy throttles placement and bounds claim locks.
type BetPolicy struct {
	MaxPlacesPerWindow int
	PlaceWindow        time.Duration
	ClaimLockTTL       time.Duration
}

// BetReceipt is the outcome of a successful placement or claim. Bet is the
// backend's view after the mutation, not the request echo. It is nil when
// the follow-up read failed; the bet then arrives by push or the next
// refresh.
type BetReceipt struct {
	Bet       *domain.Bet         `json:"bet,omitempty"`
	Claim     *domain.ClaimResult `json:"claim,omitempty"`
	Signature string              `json:"transactionSignature,omitempty"`
}

// BetService executes bet commands for one player and mirrors the player's
// bets locally.
type BetService struct {
	api      BetBackend
	store    domain.BetStore   // optional
	audit    domain.AuditStore // optional
	limiter  domain.RateLimiter
	locks    domain.LockManager
	bus      domain.SignalBus
	notifier Notifier
	player   string
	policy   BetPolicy
	logger   *slog.Logger

	wins *dedup // races already announced as won
}

// NewBetService creates a BetService acting for player.
func NewBetService(
	api BetBackend,
	store domain.BetStore,
	audit domain.AuditStore,
	limiter domain.RateLimiter,
	locks domain.LockManager,
	bus domain.SignalBus,
	notifier Notifier,
	player string,
	policy BetPolicy,
	logger *slog.Logger,
) *BetService {
	return &BetService{
		api:      api,
		store:    store,
		audit:    audit,
		limiter:  limiter,
		locks:    locks,
		bus:      bus,
		notifier: notifier,
		player:   player,
		policy:   policy,
		logger:   logger.With(slog.String("component", "bet_service")),
		wins:     newDedup(24 * time.Hour),
	}
}

// Player returns the public key the service acts for.
func (s *BetService) Player() string { return s.player }

// PlaceBet stakes amount on assetIdx in raceID. Placement is rate limited
// per player and audited whatever the outcome.
func (s *BetService) PlaceBet(ctx context.Context, raceID uint64, assetIdx int, amount uint64) (BetReceipt, error) {
	if s.player == "" {
		return BetReceipt{}, errors.New("bet_service: no player configured")
	}
	if amount == 0 {
		return BetReceipt{}, errors.New("bet_service: amount must be positive")
	}
	if assetIdx < 0 {
		return BetReceipt{}, fmt.Errorf("bet_service: invalid asset index %d", assetIdx)
	}

	allowed, err := s.limiter.Allow(ctx, "place:"+s.player, s.policy.MaxPlacesPerWindow, s.policy.PlaceWindow)
	if err != nil {
		return BetReceipt{}, fmt.Errorf("bet_service: rate limit: %w", err)
	}
	if !allowed {
		return BetReceipt{}, fmt.Errorf("bet_service: place bet: %w", domain.ErrRateLimited)
	}

	env := s.api.PlaceBet(ctx, raceapi.PlaceBetRequest{
		PlayerAddress: s.player,
		RaceID:        raceID,
		AssetIdx:      assetIdx,
		Amount:        amount,
	})
	s.record(ctx, "bet_placed", map[string]any{
		"race_id":   raceID,
		"asset_idx": assetIdx,
		"amount":    amount,
		"success":   env.Success,
		"error":     env.Error,
		"signature": env.TransactionSignature,
	})
	if !env.Success {
		return BetReceipt{}, fmt.Errorf("bet_service: place bet on race %d: %w", raceID, env.Err())
	}

	bet := s.refetch(ctx, raceID)
	if bet != nil {
		s.mirror(ctx, *bet)
	}

	s.logger.InfoContext(ctx, "bet placed",
		slog.Uint64("race_id", raceID),
		slog.Int("asset_idx", assetIdx),
		slog.Uint64("amount", amount),
		slog.String("signature", env.TransactionSignature),
	)
	return BetReceipt{Bet: bet, Signature: env.TransactionSignature}, nil
}

// ClaimPayout claims winnings for raceID. A lock per race and player keeps
// concurrent claims from being submitted twice.
func (s *BetService) ClaimPayout(ctx context.Context, raceID uint64) (BetReceipt, error) {
	if s.player == "" {
		return BetReceipt{}, errors.New("bet_service: no player configured")
	}

	unlock, err := s.locks.Acquire(ctx, fmt.Sprintf("claim:%d:%s", raceID, s.player), s.policy.ClaimLockTTL)
	if err != nil {
		return BetReceipt{}, fmt.Errorf("bet_service: claim race %d: %w", raceID, err)
	}
	defer unlock()

	env := s.api.ClaimPayout(ctx, raceapi.ClaimPayoutRequest{
		PlayerAddress: s.player,
		RaceID:        raceID,
	})
	s.record(ctx, "payout_claimed", map[string]any{
		"race_id":   raceID,
		"success":   env.Success,
		"error":     env.Error,
		"payout":    env.Data.Payout,
		"signature": env.TransactionSignature,
	})
	if !env.Success {
		return BetReceipt{}, fmt.Errorf("bet_service: claim race %d: %w", raceID, env.Err())
	}

	bet := s.refetch(ctx, raceID)
	if bet != nil {
		s.mirror(ctx, *bet)
	}

	claim := env.Data
	title, msg := notify.PayoutClaimed(claim, env.TransactionSignature)
	alert(ctx, s.notifier, s.logger, notify.EventPayoutClaimed, title, msg)

	return BetReceipt{Bet: bet, Claim: &claim, Signature: env.TransactionSignature}, nil
}

// HandleUserBetUpdate applies a pushed bet update.
func (s *BetService) HandleUserBetUpdate(ctx context.Context, bet domain.Bet) error {
	if s.player != "" && bet.Player != "" && bet.Player != s.player {
		return nil
	}
	s.mirror(ctx, bet)
	return nil
}

// RefreshBets reloads the player's bets from the backend. force bypasses the
// backend's own cache.
func (s *BetService) RefreshBets(ctx context.Context, force bool) ([]domain.Bet, error) {
	env := s.api.GetUserBets(ctx, s.player, force)
	if !env.Success {
		return nil, fmt.Errorf("bet_service: fetch bets: %w", env.Err())
	}

	if s.store != nil {
		if err := s.store.UpsertBatch(ctx, env.Data); err != nil {
			s.logger.WarnContext(ctx, "persist bets failed", slog.String("error", err.Error()))
		}
	}
	for _, b := range env.Data {
		s.announceWin(ctx, b)
	}
	return env.Data, nil
}

// List returns the player's bets from the store when one is configured,
// otherwise straight from the backend.
func (s *BetService) List(ctx context.Context, limit int) ([]domain.Bet, error) {
	if s.store == nil {
		return s.RefreshBets(ctx, false)
	}
	bets, err := s.store.ListByPlayer(ctx, s.player, domain.ListOpts{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("bet_service: list bets: %w", err)
	}
	return bets, nil
}

// refetch asks the backend for the bet after a mutation. It returns nil
// when the read fails; nothing local stands in for the backend's copy.
func (s *BetService) refetch(ctx context.Context, raceID uint64) *domain.Bet {
	env := s.api.GetBet(ctx, raceID, s.player)
	if env.Success {
		return &env.Data
	}
	s.logger.WarnContext(ctx, "refetch bet failed",
		slog.Uint64("race_id", raceID),
		slog.String("error", env.Error),
	)
	return nil
}

// mirror persists and publishes a bet and announces new wins.
func (s *BetService) mirror(ctx context.Context, bet domain.Bet) {
	if s.store != nil {
		if err := s.store.Upsert(ctx, bet); err != nil {
			s.logger.WarnContext(ctx, "persist bet failed",
				slog.Uint64("race_id", bet.RaceID),
				slog.String("error", err.Error()),
			)
		}
	}

	if payload, err := json.Marshal(bet); err == nil {
		if err := s.bus.Publish(ctx, domain.ChannelUserBetUpdate, payload); err != nil {
			s.logger.WarnContext(ctx, "publish bet update failed", slog.String("error", err.Error()))
		}
	}

	s.announceWin(ctx, bet)
}

func (s *BetService) announceWin(ctx context.Context, bet domain.Bet) {
	if !bet.IsWinner || bet.Claimed {
		return
	}
	if !s.wins.firstSeen(strconv.FormatUint(bet.RaceID, 10)) {
		return
	}

	title, msg := notify.BetWon(bet)
	alert(ctx, s.notifier, s.logger, notify.EventBetWon, title, msg)
}

func (s *BetService) record(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	detail["player"] = s.player
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
