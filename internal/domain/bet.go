package domain

// Bet is a player's stake on one asset in one race. The backend is
// authoritative for every field; clients re-fetch after mutations.
type Bet struct {
	RaceID          uint64  `json:"raceId"`
	Player          string  `json:"player"`
	AssetIdx        int     `json:"assetIdx"`
	Amount          uint64  `json:"amount"`
	Claimed         bool    `json:"claimed"`
	IsWinner        bool    `json:"isWinner"`
	PotentialPayout *uint64 `json:"potentialPayout"`
}

// ClaimResult is returned by a payout claim.
type ClaimResult struct {
	RaceID uint64 `json:"raceId"`
	Player string `json:"player"`
	Payout uint64 `json:"payout"`
}

// RaceView is the consolidated race + bet + odds view.
type RaceView struct {
	Race Race               `json:"race"`
	Bet  *Bet               `json:"bet,omitempty"`
	Odds map[string]float64 `json:"odds,omitempty"`
}

// UserStats summarises a player's history.
type UserStats struct {
	Player       string  `json:"player"`
	TotalBets    uint64  `json:"totalBets"`
	TotalWagered uint64  `json:"totalWagered"`
	TotalWon     uint64  `json:"totalWon"`
	Wins         uint64  `json:"wins"`
	WinRate      float64 `json:"winRate"`
}

// Balance is a player's wallet balance in base units.
type Balance struct {
	Player   string `json:"player"`
	Lamports uint64 `json:"lamports"`
}

// UserProfile holds player-editable profile fields.
type UserProfile struct {
	Username  string `json:"username,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}
