package gameserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/arenaroyale/arenaserver/internal/game/battle"
	"github.com/arenaroyale/arenaserver/internal/game/challenge"
	"github.com/arenaroyale/arenaserver/internal/game/matchmaking"
	"github.com/arenaroyale/arenaserver/internal/metrics"
	"github.com/arenaroyale/arenaserver/internal/store"
)

// maxChatLength clamps chat messages on relay, counted in runes.
const maxChatLength = 200

// Handlers wires hub messages to the game engines.
type Handlers struct {
	hub        *Hub
	players    store.PlayerStore
	matchmaker *matchmaking.Matchmaker
	battles    *battle.Coordinator
	challenges *challenge.Broker
	metrics    *metrics.Metrics
	log        *slog.Logger
}

// NewHandlers creates the handler set and registers every message type on
// the hub, including the matchmaker pair callback and the battle forfeit
// hook.
func NewHandlers(
	hub *Hub,
	players store.PlayerStore,
	matchmaker *matchmaking.Matchmaker,
	battles *battle.Coordinator,
	challenges *challenge.Broker,
	m *metrics.Metrics,
	log *slog.Logger,
) *Handlers {
	h := &Handlers{
		hub:        hub,
		players:    players,
		matchmaker: matchmaker,
		battles:    battles,
		challenges: challenges,
		metrics:    m,
		log:        log,
	}

	hub.RegisterHandler(MsgQueueJoin, h.handleQueueJoin)
	hub.RegisterHandler(MsgQueueLeave, h.handleQueueLeave)
	hub.RegisterHandler(MsgBattleReady, h.handleBattleReady)
	hub.RegisterHandler(MsgBattleAction, h.handleBattleAction)
	hub.RegisterHandler(MsgTowerDamage, h.handleTowerDamage)
	hub.RegisterHandler(MsgBattleEnd, h.handleBattleEnd)
	hub.RegisterHandler(MsgChatSend, h.handleChatSend)
	hub.RegisterHandler(MsgSubscribe, h.handleSubscribe)
	hub.RegisterHandler(MsgUnsubscribe, h.handleUnsubscribe)
	hub.RegisterHandler(MsgGetOnlinePlayers, h.handleGetOnlinePlayers)
	hub.RegisterHandler(MsgChallengePlayer, h.handleChallengePlayer)
	hub.RegisterHandler(MsgChallengeResponse, h.handleChallengeResponse)
	hub.RegisterHandler(MsgCancelChallenge, h.handleCancelChallenge)

	matchmaker.SetMatchHandler(h.onMatch)
	hub.SetDisconnectHook(battles.OnDisconnect)
	return h
}

// onMatch materializes a battle for an emitted pair and notifies both
// players which seat they occupy.
func (h *Handlers) onMatch(p1, p2 matchmaking.Entry) {
	b := h.battles.Create(
		battle.Snapshot{PlayerID: p1.PlayerID, Trophies: p1.Trophies, Rating: p1.Rating, Deck: p1.Deck},
		battle.Snapshot{PlayerID: p2.PlayerID, Trophies: p2.Trophies, Rating: p2.Rating, Deck: p2.Deck},
		p1.Mode,
	)
	h.metrics.MatchesTotal.Inc()

	h.hub.Send(p1.PlayerID, "match_found", map[string]any{
		"battle_id": b.ID(),
		"opponent": map[string]any{
			"id":       p2.PlayerID,
			"trophies": p2.Trophies,
			"deck":     p2.Deck,
		},
		"mode":    p1.Mode,
		"you_are": "player1",
	})
	h.hub.Send(p2.PlayerID, "match_found", map[string]any{
		"battle_id": b.ID(),
		"opponent": map[string]any{
			"id":       p1.PlayerID,
			"trophies": p1.Trophies,
			"deck":     p1.Deck,
		},
		"mode":    p1.Mode,
		"you_are": "player2",
	})
}

func (h *Handlers) handleQueueJoin(ctx context.Context, s *Session, data json.RawMessage) {
	var body struct {
		Mode string   `json:"mode"`
		Deck []string `json:"deck"`
	}
	json.Unmarshal(data, &body)
	if body.Mode == "" {
		body.Mode = "normal"
	}

	player, err := h.players.Get(ctx, s.PlayerID)
	if err != nil || player == nil {
		s.reply(MsgError, errorPayload("Player not found"))
		return
	}

	deck := body.Deck
	if len(deck) == 0 {
		deck = player.ActiveDeck()
	}

	h.matchmaker.Join(s.PlayerID, body.Mode, player.Stats.Trophies, player.Stats.Elo, deck)
	s.reply(MsgQueueJoined, map[string]any{
		"mode":     body.Mode,
		"position": h.matchmaker.Position(s.PlayerID),
	})
}

func (h *Handlers) handleQueueLeave(ctx context.Context, s *Session, data json.RawMessage) {
	ok := h.matchmaker.Leave(s.PlayerID)
	s.reply(MsgQueueLeft, map[string]any{"success": ok})
}

func (h *Handlers) handleBattleReady(ctx context.Context, s *Session, data json.RawMessage) {
	var body struct {
		BattleID string `json:"battle_id"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.BattleID == "" {
		return
	}
	h.battles.Ready(body.BattleID, s.PlayerID)
}

func (h *Handlers) handleBattleAction(ctx context.Context, s *Session, data json.RawMessage) {
	var body struct {
		BattleID string          `json:"battle_id"`
		Action   json.RawMessage `json:"action"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.BattleID == "" {
		return
	}
	h.battles.Action(body.BattleID, s.PlayerID, body.Action)
}

func (h *Handlers) handleTowerDamage(ctx context.Context, s *Session, data json.RawMessage) {
	var body struct {
		BattleID     string `json:"battle_id"`
		TargetPlayer string `json:"target_player"`
		Target       string `json:"target"`
		Damage       int    `json:"damage"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.BattleID == "" {
		return
	}
	h.battles.TowerDamage(body.BattleID, s.PlayerID, body.TargetPlayer, body.Target, body.Damage)
}

func (h *Handlers) handleBattleEnd(ctx context.Context, s *Session, data json.RawMessage) {
	var body struct {
		Surrender bool `json:"surrender"`
	}
	json.Unmarshal(data, &body)
	h.battles.EndRequest(s.PlayerID, body.Surrender)
}

func (h *Handlers) handleChatSend(ctx context.Context, s *Session, data json.RawMessage) {
	var body struct {
		Channel string `json:"channel"`
		ClanID  string `json:"clan_id"`
		Message string `json:"message"`
	}
	json.Unmarshal(data, &body)

	message := strings.TrimSpace(body.Message)
	if message == "" {
		return
	}
	if runes := []rune(message); len(runes) > maxChatLength {
		message = string(runes[:maxChatLength])
	}

	player, err := h.players.Get(ctx, s.PlayerID)
	if err != nil || player == nil {
		return
	}

	payload := map[string]any{
		"channel":     body.Channel,
		"sender_id":   s.PlayerID,
		"sender_name": player.DisplayName(),
		"message":     message,
		"timestamp":   float64(time.Now().UnixMilli()) / 1000,
	}

	switch body.Channel {
	case "clan":
		clanID := body.ClanID
		if clanID == "" {
			clanID = player.ClanID
		}
		if clanID == "" {
			return
		}
		h.hub.Broadcast("clan:"+clanID, MsgChatMessage, payload)
	case "global", "":
		payload["channel"] = "global"
		h.hub.BroadcastAll(MsgChatMessage, payload)
	}
}

func (h *Handlers) handleSubscribe(ctx context.Context, s *Session, data json.RawMessage) {
	var body struct {
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Channel == "" {
		return
	}
	h.hub.Subscribe(s.PlayerID, body.Channel)
	s.reply(MsgSubscribed, map[string]any{"channel": body.Channel})
}

func (h *Handlers) handleUnsubscribe(ctx context.Context, s *Session, data json.RawMessage) {
	var body struct {
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Channel == "" {
		return
	}
	h.hub.Unsubscribe(s.PlayerID, body.Channel)
	s.reply(MsgUnsubscribed, map[string]any{"channel": body.Channel})
}

func (h *Handlers) handleGetOnlinePlayers(ctx context.Context, s *Session, data json.RawMessage) {
	s.reply(MsgOnlinePlayers, map[string]any{
		"players": h.hub.OnlineRosterInfo(ctx),
	})
}

func (h *Handlers) handleChallengePlayer(ctx context.Context, s *Session, data json.RawMessage) {
	var body struct {
		TargetID string `json:"target_id"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.TargetID == "" {
		s.reply(MsgError, errorPayload("target_id required"))
		return
	}
	if err := h.challenges.Challenge(ctx, s.PlayerID, body.TargetID); err != nil {
		s.reply(MsgError, errorPayload(err.Error()))
	}
}

func (h *Handlers) handleChallengeResponse(ctx context.Context, s *Session, data json.RawMessage) {
	var body struct {
		ChallengerID string `json:"challenger_id"`
		Accepted     bool   `json:"accepted"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.ChallengerID == "" {
		s.reply(MsgError, errorPayload("challenger_id required"))
		return
	}
	err := h.challenges.Respond(ctx, s.PlayerID, body.ChallengerID, body.Accepted)
	if err != nil && !errors.Is(err, challenge.ErrNoSuchPending) {
		s.reply(MsgError, errorPayload(err.Error()))
	}
}

func (h *Handlers) handleCancelChallenge(ctx context.Context, s *Session, data json.RawMessage) {
	h.challenges.Cancel(s.PlayerID)
}
