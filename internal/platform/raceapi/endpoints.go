package raceapi

import (
	"context"
	"fmt"
	"net/url"

	"github.com/alanyoungcy/momentumrace/internal/domain"
)

// PlaceBetRequest is the body of POST /api/bets/place.
type PlaceBetRequest struct {
	PlayerAddress string `json:"playerAddress"`
	RaceID        uint64 `json:"raceId"`
	AssetIdx      int    `json:"assetIdx"`
	Amount        uint64 `json:"amount"`
}

// ClaimPayoutRequest is the body of POST /api/bets/claim.
type ClaimPayoutRequest struct {
	PlayerAddress string `json:"playerAddress"`
	RaceID        uint64 `json:"raceId"`
}

// ListAssets returns the tradable assets with their latest prices.
func (c *Client) ListAssets(ctx context.Context) domain.Envelope[[]domain.Asset] {
	return get[[]domain.Asset](ctx, c, "list_assets", "/api/assets")
}

// GetCurrentRace returns the race currently open or running.
func (c *Client) GetCurrentRace(ctx context.Context) domain.Envelope[domain.Race] {
	return get[domain.Race](ctx, c, "get_current_race", "/api/races/current")
}

// GetRace returns a race by id.
func (c *Client) GetRace(ctx context.Context, raceID uint64) domain.Envelope[domain.Race] {
	return get[domain.Race](ctx, c, "get_race", fmt.Sprintf("/api/races/%d", raceID))
}

// GetGlobalStats returns platform-wide statistics.
func (c *Client) GetGlobalStats(ctx context.Context) domain.Envelope[domain.GlobalStats] {
	return get[domain.GlobalStats](ctx, c, "get_global_stats", "/api/stats/global")
}

// GetRaceLeaderboard returns the per-player results of a race.
func (c *Client) GetRaceLeaderboard(ctx context.Context, raceID uint64) domain.Envelope[[]domain.LeaderboardEntry] {
	return get[[]domain.LeaderboardEntry](ctx, c, "get_race_leaderboard",
		fmt.Sprintf("/api/races/%d/leaderboard", raceID))
}

// GetUserBets returns the player's bets. force asks the backend to bypass
// its own cache.
func (c *Client) GetUserBets(ctx context.Context, pubkey string, force bool) domain.Envelope[[]domain.Bet] {
	path := userPath(pubkey, "bets")
	if force {
		path += "?force=true"
	}
	return get[[]domain.Bet](ctx, c, "get_user_bets", path)
}

// GetUserStats returns the player's aggregate history.
func (c *Client) GetUserStats(ctx context.Context, pubkey string) domain.Envelope[domain.UserStats] {
	return get[domain.UserStats](ctx, c, "get_user_stats", userPath(pubkey, "stats"))
}

// GetUserBalance returns the player's wallet balance.
func (c *Client) GetUserBalance(ctx context.Context, pubkey string) domain.Envelope[domain.Balance] {
	return get[domain.Balance](ctx, c, "get_user_balance", userPath(pubkey, "balance"))
}

// UpdateUserProfile replaces the player's editable profile fields.
func (c *Client) UpdateUserProfile(ctx context.Context, pubkey string, profile domain.UserProfile) domain.Envelope[domain.UserProfile] {
	return post[domain.UserProfile](ctx, c, "update_user_profile", userPath(pubkey, "profile"), profile)
}

// PlaceBet submits a bet. On success the envelope carries the resulting bet
// and the transaction signature.
func (c *Client) PlaceBet(ctx context.Context, req PlaceBetRequest) domain.Envelope[domain.Bet] {
	return post[domain.Bet](ctx, c, "place_bet", "/api/bets/place", req)
}

// ClaimPayout claims the player's winnings for a settled race.
func (c *Client) ClaimPayout(ctx context.Context, req ClaimPayoutRequest) domain.Envelope[domain.ClaimResult] {
	return post[domain.ClaimResult](ctx, c, "claim_payout", "/api/bets/claim", req)
}

// GetBet returns one player's bet in one race.
func (c *Client) GetBet(ctx context.Context, raceID uint64, player string) domain.Envelope[domain.Bet] {
	return get[domain.Bet](ctx, c, "get_bet",
		fmt.Sprintf("/api/races/%d/bets/%s", raceID, url.PathEscape(player)))
}

// GetRaceComplete returns the consolidated race view. When player is
// non-empty the view includes that player's bet.
func (c *Client) GetRaceComplete(ctx context.Context, raceID uint64, player string) domain.Envelope[domain.RaceView] {
	path := fmt.Sprintf("/api/races/%d/complete", raceID)
	if player != "" {
		path += "?player=" + url.QueryEscape(player)
	}
	return get[domain.RaceView](ctx, c, "get_race_complete", path)
}

func userPath(pubkey, leaf string) string {
	return "/api/users/" + url.PathEscape(pubkey) + "/" + leaf
}
