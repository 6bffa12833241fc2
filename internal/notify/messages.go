package notify

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/momentumrace/internal/domain"
)

// lamportsPerSOL converts base units to SOL for display.
const lamportsPerSOL = 1_000_000_000

// FormatSOL renders a lamport amount as SOL with four decimals.
func FormatSOL(lamports uint64) string {
	return fmt.Sprintf("%.4f SOL", float64(lamports)/lamportsPerSOL)
}

// RaceSettled builds the race_settled alert.
func RaceSettled(race domain.Race) (title, message string) {
	var winners []string
	for _, idx := range race.WinningAssets {
		if idx >= 0 && idx < len(race.Assets) {
			winners = append(winners, race.Assets[idx])
		} else {
			winners = append(winners, fmt.Sprintf("#%d", idx))
		}
	}
	if len(winners) == 0 {
		winners = []string{"none"}
	}

	title = fmt.Sprintf("Race %d settled", race.RaceID)
	message = fmt.Sprintf("Winner: %s\nPool: %s", strings.Join(winners, ", "), FormatSOL(race.TotalPool))
	return title, message
}

// BetWon builds the bet_won alert.
func BetWon(bet domain.Bet) (title, message string) {
	title = fmt.Sprintf("Bet won in race %d", bet.RaceID)
	message = fmt.Sprintf("Stake: %s on asset #%d", FormatSOL(bet.Amount), bet.AssetIdx)
	if bet.PotentialPayout != nil {
		message += "\nPayout: " + FormatSOL(*bet.PotentialPayout)
	}
	return title, message
}

// PayoutClaimed builds the payout_claimed alert.
func PayoutClaimed(res domain.ClaimResult, signature string) (title, message string) {
	title = fmt.Sprintf("Payout claimed for race %d", res.RaceID)
	message = "Amount: " + FormatSOL(res.Payout)
	if signature != "" {
		message += "\nTx: " + signature
	}
	return title, message
}

// RealtimeDown builds the realtime_down alert.
func RealtimeDown(attempts int) (title, message string) {
	return "Realtime feed down",
		fmt.Sprintf("Gave up after %d reconnect attempts; a forced reconnect is scheduled.", attempts)
}
