package ranking

import "testing"

func TestCalculateEqualRatings(t *testing.T) {
	tests := []struct {
		name        string
		crowns      int
		wantWinner  int
		wantLoser   int
	}{
		{"one crown", 1, 16, -16},
		{"two crowns", 2, 20, -16},
		{"three crowns", 3, 24, -16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Calculate(1200, 1200, tt.crowns)
			if d.WinnerDelta != tt.wantWinner {
				t.Errorf("WinnerDelta = %d; want %d", d.WinnerDelta, tt.wantWinner)
			}
			if d.LoserDelta != tt.wantLoser {
				t.Errorf("LoserDelta = %d; want %d", d.LoserDelta, tt.wantLoser)
			}
		})
	}
}

func TestCalculateUpsetPaysMore(t *testing.T) {
	underdog := Calculate(1000, 1400, 1)
	favorite := Calculate(1400, 1000, 1)

	if underdog.WinnerDelta <= favorite.WinnerDelta {
		t.Errorf("underdog win delta %d should exceed favorite win delta %d",
			underdog.WinnerDelta, favorite.WinnerDelta)
	}
}

// Rating changes must cancel out up to one point of flooring when the crown
// multiplier is neutral.
func TestCalculateZeroSumUpToFloor(t *testing.T) {
	pairs := [][2]int{{1200, 1200}, {1000, 1400}, {1400, 1000}, {777, 1234}, {0, 2000}}
	for _, pr := range pairs {
		d := Calculate(pr[0], pr[1], 1)
		sum := d.WinnerDelta + d.LoserDelta
		if sum != 0 && sum != -1 {
			t.Errorf("Calculate(%d, %d, 1): delta sum = %d; want 0 or -1", pr[0], pr[1], sum)
		}
	}
}

func TestCalculateClampsLoserAtZero(t *testing.T) {
	d := Calculate(1200, 5, 3)
	if d.NewLoserRating != 0 {
		t.Errorf("NewLoserRating = %d; want 0", d.NewLoserRating)
	}
	if d.LoserDelta >= 0 {
		t.Errorf("LoserDelta = %d; want negative", d.LoserDelta)
	}
}

func TestLoserDeltaFloorsTowardNegativeInfinity(t *testing.T) {
	// 1000 vs 1100: raw delta ≈ ±20.48. Flooring toward −∞ gives the loser
	// -21, not the -20 truncation would give.
	d := Calculate(1000, 1100, 1)
	if d.LoserDelta != -21 {
		t.Errorf("LoserDelta = %d; want -21", d.LoserDelta)
	}
	if d.WinnerDelta != 20 {
		t.Errorf("WinnerDelta = %d; want 20", d.WinnerDelta)
	}
}

func TestTrophyAndGoldRewards(t *testing.T) {
	if got := WinTrophies(3); got != 45 {
		t.Errorf("WinTrophies(3) = %d; want 45", got)
	}
	if got := WinTrophies(1); got != 35 {
		t.Errorf("WinTrophies(1) = %d; want 35", got)
	}
	if got := WinGold(3); got != 110 {
		t.Errorf("WinGold(3) = %d; want 110", got)
	}
	if got := WinGold(0); got != 50 {
		t.Errorf("WinGold(0) = %d; want 50", got)
	}
}
