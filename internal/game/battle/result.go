package battle

// SideResult is one participant's personalized settlement.
type SideResult struct {
	Won          bool `json:"won"`
	TrophyChange int  `json:"trophy_change"`
	NewElo       int  `json:"new_elo"`
	Crowns       int  `json:"crowns"`
	GoldEarned   int  `json:"gold_earned"`
}

// Result is the authoritative outcome of a finished battle.
type Result struct {
	BattleID      string     `json:"battle_id"`
	Mode          string     `json:"mode"`
	WinnerID      *string    `json:"winner_id"` // nil on draw
	Player1ID     string     `json:"player1_id"`
	Player2ID     string     `json:"player2_id"`
	Player1Crowns int        `json:"player1_crowns"`
	Player2Crowns int        `json:"player2_crowns"`
	Timeout       bool       `json:"timeout"`
	Player1       SideResult `json:"player1_result"`
	Player2       SideResult `json:"player2_result"`
}

// personalResult wraps a Result with the receiving side's own numbers.
type personalResult struct {
	Result
	YourResult SideResult `json:"your_result"`
}
