package domain

import (
	"fmt"
	"time"
)

// RaceState is the lifecycle state of a race. Races only ever move forward:
// Betting -> Running -> SettlementReady -> Settled.
type RaceState string

const (
	RaceStateBetting         RaceState = "Betting"
	RaceStateRunning         RaceState = "Running"
	RaceStateSettlementReady RaceState = "SettlementReady"
	RaceStateSettled         RaceState = "Settled"
)

// rank orders the lifecycle; unknown states rank 0.
func (s RaceState) rank() int {
	switch s {
	case RaceStateBetting:
		return 1
	case RaceStateRunning:
		return 2
	case RaceStateSettlementReady:
		return 3
	case RaceStateSettled:
		return 4
	default:
		return 0
	}
}

// Valid reports whether s is one of the four known states.
func (s RaceState) Valid() bool { return s.rank() > 0 }

// CanAdvanceTo reports whether a race in state s may be observed next in
// state next. Staying in the same state is allowed; moving backwards is not.
func (s RaceState) CanAdvanceTo(next RaceState) bool {
	if !next.Valid() {
		return false
	}
	return next.rank() >= s.rank()
}

// Race is a read-only snapshot of a race as reported by the backend.
type Race struct {
	RaceID        uint64             `json:"raceId"`
	State         RaceState          `json:"state"`
	StartTs       int64              `json:"startTs"`
	LockTs        int64              `json:"lockTs"`
	SettleTs      int64              `json:"settleTs"`
	Assets        []string           `json:"assets,omitempty"`
	AssetPools    []uint64           `json:"assetPools"`
	TotalPool     uint64             `json:"totalPool"`
	WinningAssets []int              `json:"winningAssets,omitempty"`
	FeeBps        uint16             `json:"feeBps"`
	PriceChanges  map[string]float64 `json:"priceChanges,omitempty"`
}

// StartTime returns the race start as a time.Time.
func (r Race) StartTime() time.Time { return time.Unix(r.StartTs, 0).UTC() }

// LockTime returns the betting lock as a time.Time.
func (r Race) LockTime() time.Time { return time.Unix(r.LockTs, 0).UTC() }

// SettleTime returns the settlement time as a time.Time.
func (r Race) SettleTime() time.Time { return time.Unix(r.SettleTs, 0).UTC() }

// Validate checks the state and the start <= lock <= settle ordering.
func (r Race) Validate() error {
	if !r.State.Valid() {
		return fmt.Errorf("race %d: unknown state %q", r.RaceID, r.State)
	}
	if r.StartTs > r.LockTs || r.LockTs > r.SettleTs {
		return fmt.Errorf("race %d: timestamps out of order (start=%d lock=%d settle=%d)",
			r.RaceID, r.StartTs, r.LockTs, r.SettleTs)
	}
	return nil
}

// IsWinner reports whether assetIdx is in the winning set.
func (r Race) IsWinner(assetIdx int) bool {
	for _, w := range r.WinningAssets {
		if w == assetIdx {
			return true
		}
	}
	return false
}

// Asset is a tradable asset that can be raced.
type Asset struct {
	Index  int     `json:"index"`
	Symbol string  `json:"symbol"`
	Name   string  `json:"name"`
	Price  float64 `json:"price,omitempty"`
	Feed   string  `json:"feed,omitempty"`
}

// PriceTick maps asset symbols to their latest price.
type PriceTick map[string]float64

// LeaderboardEntry is one row of a race leaderboard.
type LeaderboardEntry struct {
	Player   string `json:"player"`
	AssetIdx int    `json:"assetIdx"`
	Amount   uint64 `json:"amount"`
	Payout   uint64 `json:"payout"`
	IsWinner bool   `json:"isWinner"`
}

// GlobalStats summarises activity across all races.
type GlobalStats struct {
	TotalRaces    uint64 `json:"totalRaces"`
	TotalBets     uint64 `json:"totalBets"`
	TotalVolume   uint64 `json:"totalVolume"`
	TotalPayouts  uint64 `json:"totalPayouts"`
	UniquePlayers uint64 `json:"uniquePlayers"`
}
