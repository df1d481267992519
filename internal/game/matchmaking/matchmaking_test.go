package matchmaking

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestMatchmaker() *Matchmaker {
	return New(nil, slog.Default())
}

func TestJoinAndPosition(t *testing.T) {
	m := newTestMatchmaker()

	m.Join("p1", "normal", 100, 1000, nil)
	m.Join("p2", "normal", 200, 1000, nil)

	require.Equal(t, 1, m.Position("p1"))
	require.Equal(t, 2, m.Position("p2"))
	require.Equal(t, 0, m.Position("p3"))
	require.Equal(t, 2, m.Size("normal"))
}

func TestJoinReplacesExistingEntry(t *testing.T) {
	m := newTestMatchmaker()

	m.Join("p1", "normal", 100, 1000, nil)
	m.Join("p1", "ranked", 100, 1000, nil)

	require.Equal(t, 0, m.Size("normal"))
	require.Equal(t, 1, m.Size("ranked"))
	require.Equal(t, 1, m.Position("p1"))
}

// join followed by leave must restore the matchmaker to its prior state.
func TestJoinLeaveRoundTrip(t *testing.T) {
	m := newTestMatchmaker()

	m.Join("p1", "normal", 100, 1000, nil)
	require.True(t, m.Leave("p1"))

	require.Equal(t, 0, m.Size("normal"))
	require.Equal(t, 0, m.Position("p1"))
	require.False(t, m.Leave("p1"))
}

func TestFindMatchPicksClosestPair(t *testing.T) {
	m := newTestMatchmaker()

	m.Join("far", "normal", 900, 2000, nil)
	m.Join("a", "normal", 1000, 1000, nil)
	m.Join("b", "normal", 1010, 1005, nil)

	p1, p2, ok := m.findMatch("normal")
	require.True(t, ok)

	got := map[string]bool{p1.PlayerID: true, p2.PlayerID: true}
	require.True(t, got["a"] && got["b"], "expected a vs b, got %s vs %s", p1.PlayerID, p2.PlayerID)

	require.Equal(t, 1, m.Size("normal"))
	require.Equal(t, 1, m.Position("far"))
}

func TestFindMatchRespectsTolerance(t *testing.T) {
	m := newTestMatchmaker()

	// 500 trophies apart, both just joined: outside the base tolerance.
	m.Join("low", "normal", 100, 1000, nil)
	m.Join("high", "normal", 600, 1000, nil)

	_, _, ok := m.findMatch("normal")
	require.False(t, ok)
}

func TestFindMatchToleranceWidensOverTime(t *testing.T) {
	m := newTestMatchmaker()
	base := time.Now()
	m.now = func() time.Time { return base }

	m.Join("low", "normal", 100, 1000, nil)
	m.Join("high", "normal", 600, 1000, nil)

	// After 45 seconds the tolerance is 100 + 50*9 = 550 ≥ 500.
	m.now = func() time.Time { return base.Add(45 * time.Second) }

	p1, p2, ok := m.findMatch("normal")
	require.True(t, ok)
	got := map[string]bool{p1.PlayerID: true, p2.PlayerID: true}
	require.True(t, got["low"] && got["high"])
}

func TestTolerance(t *testing.T) {
	tests := []struct {
		wait time.Duration
		want int
	}{
		{0, 100},
		{4 * time.Second, 100},
		{5 * time.Second, 150},
		{30 * time.Second, 400},
		{10 * time.Minute, 1000},
	}
	for _, tt := range tests {
		if got := Tolerance(tt.wait); got != tt.want {
			t.Errorf("Tolerance(%v) = %d; want %d", tt.wait, got, tt.want)
		}
	}
}

func TestTickEmitsPairsToHandler(t *testing.T) {
	m := newTestMatchmaker()

	var pairs [][2]string
	m.SetMatchHandler(func(p1, p2 Entry) {
		pairs = append(pairs, [2]string{p1.PlayerID, p2.PlayerID})
	})

	m.Join("a", "normal", 1000, 1000, nil)
	m.Join("b", "normal", 1000, 1000, nil)
	m.Join("c", "ranked", 1000, 1000, nil)
	m.Join("d", "ranked", 1000, 1000, nil)

	m.Tick()

	require.Len(t, pairs, 2)
	require.Equal(t, 0, m.Size("normal"))
	require.Equal(t, 0, m.Size("ranked"))

	// Matched players must be gone from the index.
	for _, id := range []string{"a", "b", "c", "d"} {
		require.Equal(t, 0, m.Position(id))
	}
}

func TestEstimatedWait(t *testing.T) {
	m := newTestMatchmaker()

	m.Join("p1", "normal", 100, 1000, nil)
	require.Equal(t, 10, m.EstimatedWait("p1"))

	m.Join("p2", "normal", 100, 3000, nil)
	require.Equal(t, 20, m.EstimatedWait("p1"))
	require.Equal(t, 0, m.EstimatedWait("ghost"))
}
