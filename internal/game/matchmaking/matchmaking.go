// Package matchmaking pairs queued players by trophy count and rating.
//
// Each mode has its own ordered queue. A driver tick widens every waiter's
// trophy tolerance over time, scores all eligible pairs, and emits the best
// pair to the match handler.
package matchmaking

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Tolerance widening: start at 100 trophies, +50 every 5 seconds of waiting,
// capped at 1000 so uncalibrated players eventually match anyone.
const (
	BaseTolerance     = 100
	ToleranceStep     = 50
	ToleranceInterval = 5 * time.Second
	MaxTolerance      = 1000
)

// Pair score weights. Rating is the better instantaneous skill signal, so it
// dominates.
const (
	ratingWeight = 0.7
	trophyWeight = 0.3
)

// Modes the driver scans every tick.
var Modes = []string{"normal", "ranked", "medals", "2v2", "draft", "chaos"}

// Entry is one waiting player.
type Entry struct {
	PlayerID string
	Mode     string
	Trophies int
	Rating   int
	Deck     []string
	JoinedAt time.Time

	tolerance int
}

// Sender delivers queue status updates to waiting players.
type Sender interface {
	Send(playerID, msgType string, data any) bool
}

// QueueStatus is pushed to every waiter once per tick.
type QueueStatus struct {
	Position      int    `json:"position"`
	QueueSize     int    `json:"queue_size"`
	EstimatedWait int    `json:"estimated_wait"`
	Mode          string `json:"mode"`
}

// MatchHandler receives both entries of a selected pair. The entries are
// already removed from the queue when it runs.
type MatchHandler func(p1, p2 Entry)

// Matchmaker owns the per-mode queues. All operations are atomic under one
// mutex; the matching tick snapshots tolerances and mutates in the same
// critical section so it never selects an entry the owner just left.
type Matchmaker struct {
	mu     sync.Mutex
	queues map[string][]*Entry
	index  map[string]string // playerID -> mode

	onMatch MatchHandler
	sender  Sender
	log     *slog.Logger
	now     func() time.Time
}

// New creates a Matchmaker. The sender may be nil in tests.
func New(sender Sender, log *slog.Logger) *Matchmaker {
	return &Matchmaker{
		queues: make(map[string][]*Entry),
		index:  make(map[string]string),
		sender: sender,
		log:    log,
		now:    time.Now,
	}
}

// SetMatchHandler installs the pair callback. Must be called before Run.
func (m *Matchmaker) SetMatchHandler(fn MatchHandler) {
	m.onMatch = fn
}

// Join adds a player to the queue for mode, replacing any existing entry for
// the same player across all modes.
func (m *Matchmaker) Join(playerID, mode string, trophies, rating int, deck []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(playerID)

	e := &Entry{
		PlayerID:  playerID,
		Mode:      mode,
		Trophies:  trophies,
		Rating:    rating,
		Deck:      deck,
		JoinedAt:  m.now(),
		tolerance: BaseTolerance,
	}
	m.queues[mode] = append(m.queues[mode], e)
	m.index[playerID] = mode

	m.log.Info("player joined queue",
		"player", playerID, "mode", mode, "trophies", trophies, "rating", rating)
}

// Leave removes a player from whatever queue they are in. Idempotent.
func (m *Matchmaker) Leave(playerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(playerID)
}

func (m *Matchmaker) removeLocked(playerID string) bool {
	mode, ok := m.index[playerID]
	if !ok {
		return false
	}
	q := m.queues[mode]
	for i, e := range q {
		if e.PlayerID == playerID {
			m.queues[mode] = append(q[:i], q[i+1:]...)
			break
		}
	}
	delete(m.index, playerID)
	return true
}

// Position returns the 1-based queue position, or 0 if not queued.
func (m *Matchmaker) Position(playerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	mode, ok := m.index[playerID]
	if !ok {
		return 0
	}
	for i, e := range m.queues[mode] {
		if e.PlayerID == playerID {
			return i + 1
		}
	}
	return 0
}

// Size returns the number of players waiting in mode.
func (m *Matchmaker) Size(mode string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[mode])
}

// QueueSizes returns a snapshot of all non-empty queue sizes.
func (m *Matchmaker) QueueSizes() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]int, len(m.queues))
	for mode, q := range m.queues {
		if len(q) > 0 {
			out[mode] = len(q)
		}
	}
	return out
}

// EstimatedWait returns the heuristic wait in seconds for a queued player,
// or 0 if not queued.
func (m *Matchmaker) EstimatedWait(playerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	mode, ok := m.index[playerID]
	if !ok {
		return 0
	}
	wait := len(m.queues[mode]) * 10
	if wait < 5 {
		wait = 5
	}
	return wait
}

// Tolerance returns the trophy tolerance for a given wait duration.
func Tolerance(wait time.Duration) int {
	t := BaseTolerance + ToleranceStep*int(wait/ToleranceInterval)
	if t > MaxTolerance {
		t = MaxTolerance
	}
	return t
}

// matchScore returns the pair quality (lower is better) or false if the
// trophy gap exceeds both tolerances.
func matchScore(a, b *Entry) (float64, bool) {
	trophyDiff := abs(a.Trophies - b.Trophies)
	maxTol := a.tolerance
	if b.tolerance > maxTol {
		maxTol = b.tolerance
	}
	if trophyDiff > maxTol {
		return 0, false
	}
	ratingDiff := abs(a.Rating - b.Rating)
	return ratingWeight*float64(ratingDiff) + trophyWeight*float64(trophyDiff), true
}

// findMatch selects and removes the best eligible pair in mode.
func (m *Matchmaker) findMatch(mode string) (Entry, Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[mode]
	if len(q) < 2 {
		return Entry{}, Entry{}, false
	}

	now := m.now()
	for _, e := range q {
		e.tolerance = Tolerance(now.Sub(e.JoinedAt))
	}

	bestI, bestJ := -1, -1
	bestScore := math.Inf(1)
	var bestJoined int64
	for i := 0; i < len(q); i++ {
		for j := i + 1; j < len(q); j++ {
			score, ok := matchScore(q[i], q[j])
			if !ok {
				continue
			}
			// Tie-break equal scores by earliest combined wait.
			combined := q[i].JoinedAt.UnixMilli() + q[j].JoinedAt.UnixMilli()
			if score < bestScore || (score == bestScore && combined < bestJoined) {
				bestScore = score
				bestI, bestJ = i, j
				bestJoined = combined
			}
		}
	}
	if bestI < 0 {
		return Entry{}, Entry{}, false
	}

	p1 := *q[bestI]
	p2 := *q[bestJ]
	m.queues[mode] = append(append(q[:bestI:bestI], q[bestI+1:bestJ]...), q[bestJ+1:]...)
	delete(m.index, p1.PlayerID)
	delete(m.index, p2.PlayerID)

	m.log.Info("match found",
		"mode", mode, "player1", p1.PlayerID, "player2", p2.PlayerID, "score", bestScore)
	return p1, p2, true
}

// Tick runs one matching pass over all modes and pushes queue status to the
// remaining waiters.
func (m *Matchmaker) Tick() {
	for _, mode := range Modes {
		for {
			p1, p2, ok := m.findMatch(mode)
			if !ok {
				break
			}
			if m.onMatch != nil {
				m.onMatch(p1, p2)
			}
		}
	}
	m.pushQueueStatus()
}

func (m *Matchmaker) pushQueueStatus() {
	if m.sender == nil {
		return
	}

	m.mu.Lock()
	type update struct {
		playerID string
		status   QueueStatus
	}
	var updates []update
	for mode, q := range m.queues {
		for i, e := range q {
			wait := len(q) * 10
			if wait < 5 {
				wait = 5
			}
			updates = append(updates, update{e.PlayerID, QueueStatus{
				Position:      i + 1,
				QueueSize:     len(q),
				EstimatedWait: wait,
				Mode:          mode,
			}})
		}
	}
	m.mu.Unlock()

	for _, u := range updates {
		m.sender.Send(u.playerID, "queue_status", u.status)
	}
}

// Run drives the matching tick once per second until ctx is cancelled.
func (m *Matchmaker) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick()
		}
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
