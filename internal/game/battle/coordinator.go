package battle

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/arenaroyale/arenaserver/internal/game/ranking"
	"github.com/arenaroyale/arenaserver/internal/model"
)

// Sender delivers messages to players and battle channels.
type Sender interface {
	Send(playerID, msgType string, data any) bool
	Broadcast(channel, msgType string, data any, exclude ...string)
	Subscribe(playerID, channel string) bool
	Unsubscribe(playerID, channel string)
}

// PlayerStore is the settlement surface. Update serializes read-modify-write
// per player.
type PlayerStore interface {
	Update(ctx context.Context, id string, fn func(*model.Player) error) (*model.Player, error)
}

// ResultPublisher receives finished battle results for downstream consumers.
type ResultPublisher interface {
	PublishResult(ctx context.Context, r Result)
}

// Config tunes battle timing and damage-report trust limits.
type Config struct {
	Duration time.Duration
	Grace    time.Duration // how long a finished battle stays queryable

	DamageRatePerSec float64 // tower_damage reports per second per side
	DamageRateBurst  int
	DamageCapPerSec  int // cumulative HP per second per side
}

// Coordinator owns all live battles, keyed by id with a player reverse index.
// Operations on different battles proceed independently.
type Coordinator struct {
	mu       sync.RWMutex
	battles  map[string]*Battle
	byPlayer map[string]string // playerID -> battleID, live battles only

	sender  Sender
	players PlayerStore
	pub     ResultPublisher
	cfg     Config
	log     *slog.Logger
	now     func() time.Time
}

// NewCoordinator creates a battle coordinator. pub may be nil.
func NewCoordinator(sender Sender, players PlayerStore, pub ResultPublisher, cfg Config, log *slog.Logger) *Coordinator {
	if cfg.Duration <= 0 {
		cfg.Duration = 180 * time.Second
	}
	if cfg.Grace <= 0 {
		cfg.Grace = 30 * time.Second
	}
	return &Coordinator{
		battles:  make(map[string]*Battle, 16),
		byPlayer: make(map[string]string, 32),
		sender:   sender,
		players:  players,
		pub:      pub,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

func (c *Coordinator) newSide(snap Snapshot) *side {
	var lim *rate.Limiter
	if c.cfg.DamageRatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(c.cfg.DamageRatePerSec), c.cfg.DamageRateBurst)
	}
	return &side{
		Snapshot: snap,
		towers:   TowerHP{King: KingTowerHP, Left: SideTowerHP, Right: SideTowerHP},
		elixir:   StartingElixir,
		limiter:  lim,
	}
}

// Create materializes a new battle and subscribes both players to its
// channel. The battle starts in the waiting phase.
func (c *Coordinator) Create(p1, p2 Snapshot, mode string) *Battle {
	elixirRate := BaseElixirRate
	if mode == "chaos" {
		elixirRate = ChaosElixirRate
	}

	b := &Battle{
		id:         uuid.NewString(),
		mode:       mode,
		phase:      PhaseWaiting,
		sides:      [2]*side{c.newSide(p1), c.newSide(p2)},
		duration:   c.cfg.Duration,
		elixirRate: elixirRate,
	}

	c.mu.Lock()
	c.battles[b.id] = b
	c.byPlayer[p1.PlayerID] = b.id
	c.byPlayer[p2.PlayerID] = b.id
	c.mu.Unlock()

	c.sender.Subscribe(p1.PlayerID, b.Channel())
	c.sender.Subscribe(p2.PlayerID, b.Channel())

	c.log.Info("battle created",
		"battle", b.id, "mode", mode, "player1", p1.PlayerID, "player2", p2.PlayerID)
	return b
}

// Get returns a battle by ID, or nil.
func (c *Coordinator) Get(battleID string) *Battle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.battles[battleID]
}

// PlayerBattle returns the live battle a player participates in, or nil.
func (c *Coordinator) PlayerBattle(playerID string) *Battle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byPlayer[playerID]
	if !ok {
		return nil
	}
	return c.battles[id]
}

// ActiveCount returns the number of live battles.
func (c *Coordinator) ActiveCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byPlayer) / 2
}

// Ready marks a participant ready. When both sides are ready the battle
// transitions to active exactly once and battle_start goes out on the
// channel.
func (c *Coordinator) Ready(battleID, playerID string) {
	b := c.Get(battleID)
	if b == nil {
		return
	}

	b.mu.Lock()
	i := b.sideIndex(playerID)
	if i < 0 || b.phase != PhaseWaiting {
		b.mu.Unlock()
		return
	}
	b.sides[i].ready = true
	if !(b.sides[0].ready && b.sides[1].ready) {
		b.mu.Unlock()
		return
	}
	b.phase = PhaseActive
	b.startTime = c.now()
	b.lastTick = b.startTime
	start := map[string]any{
		"battle_id":   b.id,
		"start_time":  float64(b.startTime.UnixMilli()) / 1000,
		"duration":    int(b.duration.Seconds()),
		"elixir_rate": b.elixirRate,
	}
	// Broadcast under the lock: it only enqueues frames, and an action relay
	// must not observe the active phase before battle_start is on the channel.
	c.sender.Broadcast(b.Channel(), "battle_start", start)
	b.mu.Unlock()

	c.log.Info("battle started", "battle", b.id)
}

// Action relays one opaque action to the opponent and appends it to the log.
// Actions outside the active phase are dropped.
func (c *Coordinator) Action(battleID, playerID string, action json.RawMessage) {
	b := c.Get(battleID)
	if b == nil {
		return
	}

	b.mu.Lock()
	i := b.sideIndex(playerID)
	if i < 0 || b.phase != PhaseActive {
		b.mu.Unlock()
		return
	}

	var record map[string]any
	if err := json.Unmarshal(action, &record); err != nil || record == nil {
		record = map[string]any{}
	}
	now := c.now()
	record["player_id"] = playerID
	record["timestamp"] = float64(now.UnixMilli()) / 1000
	record["battle_time"] = now.Sub(b.startTime).Seconds()

	logged, err := json.Marshal(record)
	if err == nil {
		b.actions = append(b.actions, logged)
	}
	from := sideName(i)
	b.mu.Unlock()

	c.sender.Broadcast(b.Channel(), "battle_action", map[string]any{
		"action": record,
		"from":   from,
	}, playerID)
}

// TowerDamage applies a client damage report: clamps the targeted tower HP,
// recomputes crowns, broadcasts the new state, and terminates the battle if
// a king fell or either side reached three crowns. Reports that exceed the
// per-side rate or HP caps are dropped.
func (c *Coordinator) TowerDamage(battleID, playerID, targetPlayer, target string, damage int) {
	b := c.Get(battleID)
	if b == nil {
		return
	}

	b.mu.Lock()
	reporter := b.sideIndex(playerID)
	if reporter < 0 || b.phase != PhaseActive || damage <= 0 {
		b.mu.Unlock()
		return
	}

	if !b.sides[reporter].allowDamage(c.now(), damage, c.cfg.DamageCapPerSec) {
		b.mu.Unlock()
		c.log.Warn("tower damage dropped by rate limit",
			"battle", battleID, "player", playerID, "damage", damage)
		return
	}

	var ti int
	switch targetPlayer {
	case "player1":
		ti = 0
	case "player2":
		ti = 1
	default:
		b.mu.Unlock()
		return
	}

	t := &b.sides[ti].towers
	switch target {
	case "king":
		t.King = max(0, t.King-damage)
	case "left":
		t.Left = max(0, t.Left-damage)
	case "right":
		t.Right = max(0, t.Right-damage)
	default:
		b.mu.Unlock()
		return
	}

	b.recomputeCrownsLocked()
	state := b.statePayloadLocked()
	decided := b.sides[0].crowns >= 3 || b.sides[1].crowns >= 3
	b.mu.Unlock()

	c.sender.Broadcast(b.Channel(), "battle_state", state)
	if decided {
		c.finish(b, false)
	}
}

// EndRequest handles a client battle_end. With surrender=true the opponent
// is granted three crowns before termination.
func (c *Coordinator) EndRequest(playerID string, surrender bool) {
	b := c.PlayerBattle(playerID)
	if b == nil {
		return
	}

	if surrender {
		b.mu.Lock()
		if i := b.sideIndex(playerID); i >= 0 && b.phase != PhaseFinished {
			b.sides[1-i].crowns = 3
		}
		b.mu.Unlock()
	}
	c.finish(b, false)
}

// OnDisconnect terminates the player's live battle with the opponent as
// winner. Wired as the session hub's disconnect hook.
func (c *Coordinator) OnDisconnect(playerID string) {
	b := c.PlayerBattle(playerID)
	if b == nil {
		return
	}

	b.mu.Lock()
	if i := b.sideIndex(playerID); i >= 0 && b.phase != PhaseFinished {
		b.sides[1-i].crowns = 3
	}
	b.mu.Unlock()

	c.log.Info("battle forfeit on disconnect", "battle", b.ID(), "player", playerID)
	c.finish(b, false)
}

// Tick advances every active battle: elixir regen, time warnings at 30 and
// 10 seconds remaining (once each), and timeout termination.
func (c *Coordinator) Tick() {
	c.mu.RLock()
	snapshot := make([]*Battle, 0, len(c.battles))
	for _, b := range c.battles {
		snapshot = append(snapshot, b)
	}
	c.mu.RUnlock()

	now := c.now()
	for _, b := range snapshot {
		b.mu.Lock()
		if b.phase != PhaseActive {
			b.mu.Unlock()
			continue
		}

		dt := now.Sub(b.lastTick).Seconds()
		b.lastTick = now
		for _, s := range b.sides {
			s.elixir = min(MaxElixir, s.elixir+b.elixirRate*dt)
		}

		remaining := b.duration - now.Sub(b.startTime)
		var warn int
		switch {
		case remaining <= 0:
			b.mu.Unlock()
			c.finish(b, true)
			continue
		case remaining <= 10*time.Second && !b.warned10:
			b.warned10 = true
			b.warned30 = true
			warn = 10
		case remaining <= 30*time.Second && !b.warned30:
			b.warned30 = true
			warn = 30
		}
		b.mu.Unlock()

		if warn > 0 {
			c.sender.Broadcast(b.Channel(), "time_warning", map[string]any{"remaining": warn})
		}
	}
}

// Run drives Tick once per second until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// finish runs the termination procedure exactly once per battle: resolve the
// winner, settle both players, emit personalized results, unsubscribe both
// sides, and schedule teardown after the grace period.
func (c *Coordinator) finish(b *Battle, timeout bool) {
	b.mu.Lock()
	if b.phase == PhaseFinished {
		b.mu.Unlock()
		return
	}
	b.phase = PhaseFinished
	b.endTime = c.now()
	b.timeout = timeout

	p1, p2 := b.sides[0], b.sides[1]
	winner := -1
	switch {
	case p1.crowns > p2.crowns:
		winner = 0
	case p2.crowns > p1.crowns:
		winner = 1
	case p1.towers.King > p2.towers.King:
		winner = 0
	case p2.towers.King > p1.towers.King:
		winner = 1
	}
	if winner >= 0 {
		b.winnerID = b.sides[winner].PlayerID
	}

	result := c.resolveLocked(b, winner, timeout)
	ids := [2]string{p1.PlayerID, p2.PlayerID}
	winnerID := b.winnerID
	channel := b.Channel()
	b.mu.Unlock()

	// Release the player index immediately so a rematch can start during
	// the grace period.
	c.mu.Lock()
	for _, id := range ids {
		if c.byPlayer[id] == b.id {
			delete(c.byPlayer, id)
		}
	}
	c.mu.Unlock()

	c.settle(ids[0], result.Player1, result)
	c.settle(ids[1], result.Player2, result)

	c.sender.Send(ids[0], "battle_result", personalResult{Result: result, YourResult: result.Player1})
	c.sender.Send(ids[1], "battle_result", personalResult{Result: result, YourResult: result.Player2})

	c.sender.Unsubscribe(ids[0], channel)
	c.sender.Unsubscribe(ids[1], channel)

	if c.pub != nil {
		c.pub.PublishResult(context.Background(), result)
	}

	time.AfterFunc(c.cfg.Grace, func() {
		c.mu.Lock()
		delete(c.battles, b.id)
		c.mu.Unlock()
	})

	c.log.Info("battle finished",
		"battle", b.id, "winner", winnerID, "timeout", timeout,
		"crowns1", result.Player1Crowns, "crowns2", result.Player2Crowns)
}

// resolveLocked computes both side results. Caller holds b.mu.
func (c *Coordinator) resolveLocked(b *Battle, winner int, timeout bool) Result {
	p1, p2 := b.sides[0], b.sides[1]
	r := Result{
		BattleID:      b.id,
		Mode:          b.mode,
		Player1ID:     p1.PlayerID,
		Player2ID:     p2.PlayerID,
		Player1Crowns: p1.crowns,
		Player2Crowns: p2.crowns,
		Timeout:       timeout,
	}

	if winner < 0 {
		// Draw: small trophy loss both sides, ratings untouched.
		r.Player1 = SideResult{
			TrophyChange: ranking.DrawTrophies, NewElo: p1.Rating,
			Crowns: p1.crowns, GoldEarned: ranking.DrawGold,
		}
		r.Player2 = SideResult{
			TrophyChange: ranking.DrawTrophies, NewElo: p2.Rating,
			Crowns: p2.crowns, GoldEarned: ranking.DrawGold,
		}
		return r
	}

	w, l := b.sides[winner], b.sides[1-winner]
	r.WinnerID = &w.PlayerID
	deltas := ranking.Calculate(w.Rating, l.Rating, w.crowns)

	winRes := SideResult{
		Won:          true,
		TrophyChange: ranking.WinTrophies(w.crowns),
		NewElo:       deltas.NewWinnerRating,
		Crowns:       w.crowns,
		GoldEarned:   ranking.WinGold(w.crowns),
	}
	loseRes := SideResult{
		TrophyChange: ranking.LossTrophies,
		NewElo:       deltas.NewLoserRating,
		Crowns:       l.crowns,
		GoldEarned:   ranking.LossGold,
	}

	if winner == 0 {
		r.Player1, r.Player2 = winRes, loseRes
	} else {
		r.Player1, r.Player2 = loseRes, winRes
	}
	return r
}

// settle persists one side's deltas. A failed write is retried once; after
// that the error is logged and the in-memory result still goes to the
// client, the next sync carries the authoritative state.
func (c *Coordinator) settle(playerID string, sr SideResult, r Result) {
	if c.players == nil {
		return
	}

	apply := func(p *model.Player) error {
		p.Stats.Trophies = max(0, p.Stats.Trophies+sr.TrophyChange)
		p.Stats.Elo = sr.NewElo
		p.Stats.Crowns += sr.Crowns
		p.Gold += int64(sr.GoldEarned)
		switch {
		case sr.Won:
			p.Stats.Wins++
			p.Stats.CurrentStreak++
			if p.Stats.CurrentStreak > p.Stats.MaxStreak {
				p.Stats.MaxStreak = p.Stats.CurrentStreak
			}
		case r.WinnerID != nil:
			p.Stats.Losses++
			p.Stats.CurrentStreak = 0
		default:
			p.Stats.Draws++
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.players.Update(ctx, playerID, apply)
	if err != nil {
		c.log.Warn("settlement write failed, retrying",
			"battle", r.BattleID, "player", playerID, "error", err)
		if _, err = c.players.Update(ctx, playerID, apply); err != nil {
			c.log.Error("settlement write failed",
				"battle", r.BattleID, "player", playerID, "error", err)
		}
	}
}
