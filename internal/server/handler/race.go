package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/momentumrace/internal/domain"
)

// RaceService is what the race endpoints read from.
type RaceService interface {
	Current(ctx context.Context) (domain.Race, error)
	Get(ctx context.Context, raceID uint64) (domain.Race, error)
	Recent(ctx context.Context, limit int) ([]domain.Race, error)
}

// RaceHandler serves race endpoints.
type RaceHandler struct {
	races  RaceService
	logger *slog.Logger
}

// NewRaceHandler creates a RaceHandler.
func NewRaceHandler(races RaceService, logger *slog.Logger) *RaceHandler {
	return &RaceHandler{races: races, logger: logger}
}

// GetCurrent returns the current race.
// GET /api/race/current
func (h *RaceHandler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	race, err := h.races.Current(r.Context())
	if err != nil {
		fail(w, r, h.logger, "get current race", err)
		return
	}
	writeJSON(w, http.StatusOK, race)
}

// GetRace returns one race by id.
// GET /api/race/{id}
func (h *RaceHandler) GetRace(w http.ResponseWriter, r *http.Request) {
	id, err := raceIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	race, err := h.races.Get(r.Context(), id)
	if err != nil {
		fail(w, r, h.logger, "get race", err)
		return
	}
	writeJSON(w, http.StatusOK, race)
}

type listRacesResponse struct {
	Races []domain.Race `json:"races"`
}

// ListRecent returns persisted races, newest first.
// GET /api/races?limit=50
func (h *RaceHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	races, err := h.races.Recent(r.Context(), parseLimit(r))
	if err != nil {
		fail(w, r, h.logger, "list races", err)
		return
	}
	if races == nil {
		races = []domain.Race{}
	}
	writeJSON(w, http.StatusOK, listRacesResponse{Races: races})
}
