// Package battle tracks authoritative duel state and resolves outcomes.
//
// A Battle is created when the matchmaker emits a pair (or a challenge is
// accepted), becomes active once both sides signal ready, and finishes on
// three crowns, a fallen king tower, timeout, surrender, or disconnect.
package battle

import (
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Tower hit points and elixir parameters.
const (
	KingTowerHP = 4000
	SideTowerHP = 2000

	StartingElixir  = 5.0
	MaxElixir       = 10.0
	BaseElixirRate  = 1.0
	ChaosElixirRate = 1.5
)

// Battle phases.
const (
	PhaseWaiting  = "waiting"
	PhaseActive   = "active"
	PhaseFinished = "finished"
)

// Snapshot is a participant's state frozen at battle creation.
type Snapshot struct {
	PlayerID string
	Trophies int
	Rating   int
	Deck     []string
}

// TowerHP is one side's tower health.
type TowerHP struct {
	King  int `json:"king"`
	Left  int `json:"left"`
	Right int `json:"right"`
}

// Crowns returns the crown count earned by the opponent of this side.
// A fallen king is an instant three crowns, otherwise one per side tower.
func (t TowerHP) Crowns() int {
	if t.King <= 0 {
		return 3
	}
	crowns := 0
	if t.Left <= 0 {
		crowns++
	}
	if t.Right <= 0 {
		crowns++
	}
	return crowns
}

// side is one participant's live state.
type side struct {
	Snapshot
	towers TowerHP
	crowns int
	elixir float64
	ready  bool

	// Damage report throttling. The limiter bounds report frequency, the
	// window bounds cumulative HP per second.
	limiter      *rate.Limiter
	windowStart  time.Time
	windowDamage int
}

// Battle is one duel. All fields are guarded by mu; the Coordinator takes
// the lock around every mutation.
type Battle struct {
	mu sync.Mutex

	id   string
	mode string

	phase     string
	sides     [2]*side
	startTime time.Time
	endTime   time.Time
	duration  time.Duration

	elixirRate float64
	lastTick   time.Time

	actions []json.RawMessage

	warned30 bool
	warned10 bool

	winnerID string // empty until finished; empty after finish means draw
	timeout  bool
}

// ID returns the battle identifier.
func (b *Battle) ID() string { return b.id }

// Mode returns the battle mode.
func (b *Battle) Mode() string { return b.mode }

// Channel returns the pub/sub channel name for this battle.
func (b *Battle) Channel() string { return "battle:" + b.id }

// Phase returns the current phase.
func (b *Battle) Phase() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}

// sideIndex returns 0 or 1 for a participant, -1 for strangers.
func (b *Battle) sideIndex(playerID string) int {
	for i, s := range b.sides {
		if s.PlayerID == playerID {
			return i
		}
	}
	return -1
}

// Opponent returns the other participant's player ID, or "" for strangers.
func (b *Battle) Opponent(playerID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.sideIndex(playerID) {
	case 0:
		return b.sides[1].PlayerID
	case 1:
		return b.sides[0].PlayerID
	}
	return ""
}

// sideName is the wire name for a side index.
func sideName(i int) string {
	if i == 0 {
		return "player1"
	}
	return "player2"
}

// StatePayload is the battle_state broadcast body.
type StatePayload struct {
	Player1HP     TowerHP `json:"player1_hp"`
	Player2HP     TowerHP `json:"player2_hp"`
	Player1Crowns int     `json:"player1_crowns"`
	Player2Crowns int     `json:"player2_crowns"`
}

// statePayloadLocked builds the state snapshot. Caller holds b.mu.
func (b *Battle) statePayloadLocked() StatePayload {
	return StatePayload{
		Player1HP:     b.sides[0].towers,
		Player2HP:     b.sides[1].towers,
		Player1Crowns: b.sides[0].crowns,
		Player2Crowns: b.sides[1].crowns,
	}
}

// recomputeCrownsLocked derives both crown counts from the opposing towers.
// Caller holds b.mu.
func (b *Battle) recomputeCrownsLocked() {
	b.sides[0].crowns = b.sides[1].towers.Crowns()
	b.sides[1].crowns = b.sides[0].towers.Crowns()
}

// allowDamage reports whether a damage report from this side passes both the
// frequency limiter and the cumulative HP-per-second cap.
func (s *side) allowDamage(now time.Time, damage, capPerSec int) bool {
	if s.limiter != nil && !s.limiter.AllowN(now, 1) {
		return false
	}
	if capPerSec <= 0 {
		return true
	}
	if now.Sub(s.windowStart) >= time.Second {
		s.windowStart = now
		s.windowDamage = 0
	}
	if s.windowDamage+damage > capPerSec {
		return false
	}
	s.windowDamage += damage
	return true
}
