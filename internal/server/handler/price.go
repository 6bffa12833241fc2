package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/momentumrace/internal/domain"
)

// PriceService is what the price endpoint reads from.
type PriceService interface {
	Latest(ctx context.Context) (domain.PriceTick, error)
}

// PriceHandler serves the latest prices.
type PriceHandler struct {
	prices PriceService
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler.
func NewPriceHandler(prices PriceService, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{prices: prices, logger: logger}
}

// GetPrices returns the latest price per symbol.
// GET /api/prices
func (h *PriceHandler) GetPrices(w http.ResponseWriter, r *http.Request) {
	tick, err := h.prices.Latest(r.Context())
	if err != nil {
		fail(w, r, h.logger, "get prices", err)
		return
	}
	if tick == nil {
		tick = domain.PriceTick{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"prices": tick})
}
