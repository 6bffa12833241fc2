package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/momentumrace/internal/domain"
	"github.com/alanyoungcy/momentumrace/internal/service"
)

// BetService executes bet commands for the configured player.
type BetService interface {
	List(ctx context.Context, limit int) ([]domain.Bet, error)
	PlaceBet(ctx context.Context, raceID uint64, assetIdx int, amount uint64) (service.BetReceipt, error)
	ClaimPayout(ctx context.Context, raceID uint64) (service.BetReceipt, error)
}

// BetHandler serves bet endpoints.
type BetHandler struct {
	bets   BetService
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler.
func NewBetHandler(bets BetService, logger *slog.Logger) *BetHandler {
	return &BetHandler{bets: bets, logger: logger}
}

type listBetsResponse struct {
	Bets []domain.Bet `json:"bets"`
}

// ListBets returns the player's bets.
// GET /api/bets?limit=50
func (h *BetHandler) ListBets(w http.ResponseWriter, r *http.Request) {
	bets, err := h.bets.List(r.Context(), parseLimit(r))
	if err != nil {
		fail(w, r, h.logger, "list bets", err)
		return
	}
	if bets == nil {
		bets = []domain.Bet{}
	}
	writeJSON(w, http.StatusOK, listBetsResponse{Bets: bets})
}

type placeBetRequest struct {
	RaceID   uint64 `json:"raceId"`
	AssetIdx int    `json:"assetIdx"`
	Amount   uint64 `json:"amount"`
}

// PlaceBet stakes on one asset of a race.
// POST /api/bets/place
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req placeBetRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Amount == 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	if req.AssetIdx < 0 {
		writeError(w, http.StatusBadRequest, "assetIdx must not be negative")
		return
	}

	rec, err := h.bets.PlaceBet(r.Context(), req.RaceID, req.AssetIdx, req.Amount)
	if err != nil {
		fail(w, r, h.logger, "place bet", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type claimRequest struct {
	RaceID uint64 `json:"raceId"`
}

// ClaimPayout claims winnings for a settled race.
// POST /api/bets/claim
func (h *BetHandler) ClaimPayout(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.bets.ClaimPayout(r.Context(), req.RaceID)
	if err != nil {
		fail(w, r, h.logger, "claim payout", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
