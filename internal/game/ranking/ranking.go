// Package ranking implements the rating, trophy, and gold math applied after
// a battle. All functions are pure.
package ranking

import "math"

// KFactor is the ELO K-factor.
const KFactor = 32

// Trophy and gold constants for decisive outcomes and draws.
const (
	WinTrophyBase     = 30
	WinTrophyPerCrown = 5
	LossTrophies      = -20
	DrawTrophies      = -5

	WinGoldBase     = 50
	WinGoldPerCrown = 20
	LossGold        = 10
	DrawGold        = 10
)

// Deltas is the outcome of a decisive battle for both sides.
type Deltas struct {
	WinnerDelta     int // rating change for the winner (≥ 0)
	LoserDelta      int // rating change for the loser (≤ 0)
	NewWinnerRating int
	NewLoserRating  int // clamped at 0
}

// Calculate computes rating changes for a decisive outcome.
// winnerCrowns weights the gain: 1 crown ×1.0, 2 crowns ×1.25, 3 crowns ×1.5.
// The loser's delta floors toward −∞ so the loss is never understated.
func Calculate(winnerRating, loserRating, winnerCrowns int) Deltas {
	expectedWin := 1 / (1 + math.Pow(10, float64(loserRating-winnerRating)/400))
	crownMult := 1 + 0.25*float64(winnerCrowns-1)

	winnerDelta := int(math.Floor(KFactor * crownMult * (1 - expectedWin)))
	loserDelta := int(math.Floor(KFactor * -(1 - expectedWin)))

	newLoser := loserRating + loserDelta
	if newLoser < 0 {
		newLoser = 0
	}

	return Deltas{
		WinnerDelta:     winnerDelta,
		LoserDelta:      loserDelta,
		NewWinnerRating: winnerRating + winnerDelta,
		NewLoserRating:  newLoser,
	}
}

// WinTrophies returns the trophy gain for a winner with the given crowns.
func WinTrophies(crowns int) int {
	return WinTrophyBase + WinTrophyPerCrown*crowns
}

// WinGold returns the gold reward for a winner with the given crowns.
func WinGold(crowns int) int {
	return WinGoldBase + WinGoldPerCrown*crowns
}
