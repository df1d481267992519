// Package challenge brokers direct player-versus-player invitations.
//
// A challenger has at most one outstanding challenge; sending another
// overwrites it. An accepted challenge materializes a battle in pvp mode.
// Unanswered challenges expire on the reaper tick.
package challenge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/arenaroyale/arenaserver/internal/game/battle"
	"github.com/arenaroyale/arenaserver/internal/model"
)

// Sender delivers challenge notifications.
type Sender interface {
	Send(playerID, msgType string, data any) bool
	IsOnline(playerID string) bool
}

// BattleCreator materializes a battle from two snapshots.
type BattleCreator interface {
	Create(p1, p2 battle.Snapshot, mode string) *battle.Battle
}

// PlayerLoader reads player records for snapshots.
type PlayerLoader interface {
	Get(ctx context.Context, id string) (*model.Player, error)
}

// Pending is one outstanding challenge.
type Pending struct {
	ChallengerID   string
	TargetID       string
	ChallengerName string
	Trophies       int
	CreatedAt      time.Time
}

var (
	ErrTargetOffline = errors.New("target is not online")
	ErrSelfChallenge = errors.New("cannot challenge yourself")
	ErrNoSuchPending = errors.New("no pending challenge from that player")
	ErrPlayerUnknown = errors.New("player not found")
)

// Broker tracks pending challenges by challenger.
type Broker struct {
	mu      sync.Mutex
	pending map[string]*Pending

	sender  Sender
	battles BattleCreator
	players PlayerLoader
	expiry  time.Duration
	log     *slog.Logger
	now     func() time.Time
}

// NewBroker creates a challenge broker.
func NewBroker(sender Sender, battles BattleCreator, players PlayerLoader, expiry time.Duration, log *slog.Logger) *Broker {
	if expiry <= 0 {
		expiry = time.Minute
	}
	return &Broker{
		pending: make(map[string]*Pending),
		sender:  sender,
		battles: battles,
		players: players,
		expiry:  expiry,
		log:     log,
		now:     time.Now,
	}
}

// Challenge sends an invitation from challenger to target. Any prior pending
// challenge by the same challenger is replaced.
func (b *Broker) Challenge(ctx context.Context, challengerID, targetID string) error {
	if challengerID == targetID {
		return ErrSelfChallenge
	}
	if !b.sender.IsOnline(targetID) {
		return ErrTargetOffline
	}

	p, err := b.players.Get(ctx, challengerID)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrPlayerUnknown
	}

	pending := &Pending{
		ChallengerID:   challengerID,
		TargetID:       targetID,
		ChallengerName: p.DisplayName(),
		Trophies:       p.Stats.Trophies,
		CreatedAt:      b.now(),
	}

	b.mu.Lock()
	b.pending[challengerID] = pending
	b.mu.Unlock()

	b.sender.Send(targetID, "challenge_received", map[string]any{
		"challenger_id":   challengerID,
		"challenger_name": pending.ChallengerName,
		"trophies":        pending.Trophies,
	})
	b.sender.Send(challengerID, "challenge_sent", map[string]any{
		"target_id": targetID,
	})

	b.log.Info("challenge sent", "challenger", challengerID, "target", targetID)
	return nil
}

// Respond resolves a pending challenge addressed to target. On accept, a pvp
// battle is created and both sides are told which seat they occupy.
func (b *Broker) Respond(ctx context.Context, targetID, challengerID string, accepted bool) error {
	b.mu.Lock()
	pending, ok := b.pending[challengerID]
	if !ok || pending.TargetID != targetID {
		b.mu.Unlock()
		return ErrNoSuchPending
	}
	delete(b.pending, challengerID)
	b.mu.Unlock()

	if !accepted {
		b.sender.Send(challengerID, "challenge_declined", map[string]any{
			"target_id": targetID,
		})
		return nil
	}

	challenger, err := b.players.Get(ctx, challengerID)
	if err != nil {
		return err
	}
	target, err := b.players.Get(ctx, targetID)
	if err != nil {
		return err
	}
	if challenger == nil || target == nil {
		return ErrPlayerUnknown
	}

	bt := b.battles.Create(snapshot(challenger), snapshot(target), "pvp")

	b.sender.Send(challengerID, "challenge_accepted", map[string]any{
		"battle_id": bt.ID(),
		"you_are":   "player1",
	})
	b.sender.Send(targetID, "challenge_accepted", map[string]any{
		"battle_id": bt.ID(),
		"you_are":   "player2",
	})

	b.log.Info("challenge accepted",
		"challenger", challengerID, "target", targetID, "battle", bt.ID())
	return nil
}

// Cancel withdraws the challenger's pending challenge and notifies both
// sides. Idempotent.
func (b *Broker) Cancel(challengerID string) {
	b.mu.Lock()
	pending, ok := b.pending[challengerID]
	if ok {
		delete(b.pending, challengerID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	payload := map[string]any{"challenger_id": challengerID}
	b.sender.Send(pending.TargetID, "challenge_cancelled", payload)
	b.sender.Send(challengerID, "challenge_cancelled", payload)
}

// PendingFor returns the outstanding challenge by challenger, or nil.
func (b *Broker) PendingFor(challengerID string) *Pending {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pending[challengerID]
}

// Tick reaps challenges older than the expiry window.
func (b *Broker) Tick() {
	now := b.now()

	b.mu.Lock()
	var expired []*Pending
	for id, p := range b.pending {
		if now.Sub(p.CreatedAt) >= b.expiry {
			expired = append(expired, p)
			delete(b.pending, id)
		}
	}
	b.mu.Unlock()

	for _, p := range expired {
		payload := map[string]any{
			"challenger_id": p.ChallengerID,
			"reason":        "expired",
		}
		b.sender.Send(p.TargetID, "challenge_cancelled", payload)
		b.sender.Send(p.ChallengerID, "challenge_cancelled", payload)
		b.log.Info("challenge expired", "challenger", p.ChallengerID, "target", p.TargetID)
	}
}

// Run drives the reaper tick once per second until ctx is cancelled.
func (b *Broker) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Tick()
		}
	}
}

func snapshot(p *model.Player) battle.Snapshot {
	return battle.Snapshot{
		PlayerID: p.ID,
		Trophies: p.Stats.Trophies,
		Rating:   p.Stats.Elo,
		Deck:     p.ActiveDeck(),
	}
}
