// Package gameserver multiplexes authenticated websocket sessions onto a
// channel-based publish/subscribe fabric and dispatches typed messages to
// the game engines.
package gameserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arenaroyale/arenaserver/internal/auth"
	"github.com/arenaroyale/arenaserver/internal/metrics"
	"github.com/arenaroyale/arenaserver/internal/model"
	"github.com/arenaroyale/arenaserver/internal/store"
)

// HandlerFunc processes one inbound message from an authenticated session.
type HandlerFunc func(ctx context.Context, s *Session, data json.RawMessage)

// Hub owns the session registry and channel membership. One session per
// player; a newer connection for the same player displaces the older one.
type Hub struct {
	mu        sync.RWMutex
	sessions  map[string]*Session              // playerID -> live session
	channels  map[string]map[*Session]struct{} // channel -> members
	bySession map[*Session]map[string]struct{} // reverse membership

	handlers     map[string]HandlerFunc
	onDisconnect func(playerID string)

	tokens  *auth.TokenManager
	players store.PlayerStore
	metrics *metrics.Metrics
	log     *slog.Logger

	upgrader   websocket.Upgrader
	sendQueue  int
	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

// HubConfig tunes session I/O.
type HubConfig struct {
	SendQueueSize int
	WriteTimeout  time.Duration
	ReadTimeout   time.Duration
}

// NewHub creates the session hub.
func NewHub(tokens *auth.TokenManager, players store.PlayerStore, m *metrics.Metrics, cfg HubConfig, log *slog.Logger) *Hub {
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 120 * time.Second
	}
	return &Hub{
		sessions:  make(map[string]*Session, 256),
		channels:  make(map[string]map[*Session]struct{}, 64),
		bySession: make(map[*Session]map[string]struct{}, 256),
		handlers:  make(map[string]HandlerFunc, 16),
		tokens:    tokens,
		players:   players,
		metrics:   m,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sendQueue:  cfg.SendQueueSize,
		writeWait:  cfg.WriteTimeout,
		pongWait:   cfg.ReadTimeout,
		pingPeriod: cfg.ReadTimeout * 9 / 10,
	}
}

// RegisterHandler installs the handler for one message type. Last
// registration wins.
func (h *Hub) RegisterHandler(msgType string, fn HandlerFunc) {
	h.handlers[msgType] = fn
}

// SetDisconnectHook installs the battle forfeit hook, called with the
// player ID of every non-displaced disconnect.
func (h *Hub) SetDisconnectHook(fn func(playerID string)) {
	h.onDisconnect = fn
}

// ServeWS upgrades an HTTP request and runs the session pumps. Blocks until
// the connection drops.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	h.metrics.SessionsTotal.Inc()

	s := newSession(h, conn)
	go s.writePump()
	s.readPump()
}

// authenticate handles one pre-auth frame. Returns (authed, fatal): a fatal
// result closes the connection.
func (h *Hub) authenticate(s *Session, raw []byte) (bool, bool) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.reply(MsgError, errorPayload("Invalid JSON"))
		return false, false
	}
	if env.Type != MsgAuth {
		s.reply(MsgError, errorPayload("Not authenticated"))
		return false, false
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &body); err != nil || body.Token == "" {
		h.refuse(s, "invalid", false)
		return false, true
	}

	claims, err := h.tokens.Verify(body.Token)
	if err != nil {
		h.refuse(s, "invalid", false)
		return false, true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	player, err := h.players.Get(ctx, claims.PlayerID)
	cancel()
	if err != nil {
		h.log.Error("loading player during auth", "player", claims.PlayerID, "error", err)
		h.refuse(s, "invalid", false)
		return false, true
	}
	if player != nil && player.Banned {
		h.refuse(s, "banned", true)
		return false, true
	}

	s.PlayerID = claims.PlayerID
	s.Username = claims.Username
	s.IsGuest = claims.IsGuest
	h.register(s)

	s.reply(MsgAuthOK, map[string]any{
		"player_id": s.PlayerID,
		"username":  s.Username,
	})
	h.broadcastOnlineCount()
	h.log.Info("session authenticated", "player", s.PlayerID, "username", s.Username)
	return true, false
}

func (h *Hub) refuse(s *Session, reason string, banned bool) {
	h.metrics.SessionsRejected.Inc()
	payload := errorPayload(reason)
	if banned {
		payload["banned"] = true
	}
	s.reply(MsgAuthError, payload)
	s.close()
}

// register installs the session, displacing any prior session for the same
// player. The displaced session closes silently.
func (h *Hub) register(s *Session) {
	h.mu.Lock()
	old := h.sessions[s.PlayerID]
	h.sessions[s.PlayerID] = s
	h.mu.Unlock()

	if old != nil {
		old.displaced.Store(true)
		old.close()
		h.log.Info("session displaced", "player", s.PlayerID)
	} else {
		h.metrics.SessionsActive.Inc()
	}
}

// disconnect tears a session down: channel memberships go first, then the
// registry entry, then the battle hook and presence broadcast. A displaced
// session only releases its memberships.
func (h *Hub) disconnect(s *Session) {
	s.close()

	h.mu.Lock()
	for channel := range h.bySession[s] {
		delete(h.channels[channel], s)
		if len(h.channels[channel]) == 0 {
			delete(h.channels, channel)
		}
	}
	delete(h.bySession, s)

	registered := s.PlayerID != "" && h.sessions[s.PlayerID] == s
	if registered {
		delete(h.sessions, s.PlayerID)
	}
	h.mu.Unlock()

	if s.displaced.Load() || s.PlayerID == "" {
		return
	}
	if registered {
		h.metrics.SessionsActive.Dec()
	}

	if h.onDisconnect != nil {
		h.onDisconnect(s.PlayerID)
	}
	h.broadcastOnlineCount()
	h.log.Info("session disconnected", "player", s.PlayerID)
}

// Disconnect force-closes a player's live session (admin kick, in-flight
// ban). No-op if offline.
func (h *Hub) Disconnect(playerID string) {
	h.mu.RLock()
	s := h.sessions[playerID]
	h.mu.RUnlock()
	if s != nil {
		s.close()
	}
}

// dispatch routes one authenticated frame. Handler panics are contained:
// the offending session gets an error reply and the hub stays up.
func (h *Hub) dispatch(s *Session, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.reply(MsgError, errorPayload("Invalid JSON"))
		return
	}

	if env.Type == MsgAuth {
		// Re-auth after auth is a no-op.
		return
	}

	fn, ok := h.handlers[env.Type]
	if !ok {
		s.reply(MsgError, errorPayload(fmt.Sprintf("Unknown message type: %s", env.Type)))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			h.log.Error("handler panic", "type", env.Type, "player", s.PlayerID, "panic", r)
			s.reply(MsgError, errorPayload("internal error"))
		}
	}()
	fn(context.Background(), s, env.Data)
}

// Send delivers a message to a player's live session. Silent no-op when
// offline.
func (h *Hub) Send(playerID, msgType string, data any) bool {
	h.mu.RLock()
	s := h.sessions[playerID]
	h.mu.RUnlock()
	if s == nil {
		return false
	}
	return s.reply(msgType, data)
}

// Broadcast delivers to every member of channel, optionally excluding
// player IDs. Membership is snapshotted so concurrent unsubscribes are
// tolerated.
func (h *Hub) Broadcast(channel, msgType string, data any, exclude ...string) {
	frame := encodeMessage(msgType, data)
	if frame == nil {
		return
	}

	h.mu.RLock()
	members := make([]*Session, 0, len(h.channels[channel]))
	for s := range h.channels[channel] {
		members = append(members, s)
	}
	h.mu.RUnlock()

	for _, s := range members {
		if excluded(s.PlayerID, exclude) {
			continue
		}
		if s.enqueue(frame) {
			h.metrics.MessagesSent.Inc()
		}
	}
}

// BroadcastAll delivers to every live session, optionally excluding player
// IDs.
func (h *Hub) BroadcastAll(msgType string, data any, exclude ...string) {
	frame := encodeMessage(msgType, data)
	if frame == nil {
		return
	}

	h.mu.RLock()
	members := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		members = append(members, s)
	}
	h.mu.RUnlock()

	for _, s := range members {
		if excluded(s.PlayerID, exclude) {
			continue
		}
		if s.enqueue(frame) {
			h.metrics.MessagesSent.Inc()
		}
	}
}

func excluded(playerID string, exclude []string) bool {
	for _, e := range exclude {
		if e == playerID {
			return true
		}
	}
	return false
}

// Subscribe adds the player's live session to a channel. Idempotent; false
// if the player is offline.
func (h *Hub) Subscribe(playerID, channel string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[playerID]
	if !ok {
		return false
	}
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*Session]struct{}, 4)
	}
	h.channels[channel][s] = struct{}{}
	if h.bySession[s] == nil {
		h.bySession[s] = make(map[string]struct{}, 4)
	}
	h.bySession[s][channel] = struct{}{}
	return true
}

// Unsubscribe removes the player's live session from a channel. Idempotent.
func (h *Hub) Unsubscribe(playerID, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[playerID]
	if !ok {
		return
	}
	delete(h.channels[channel], s)
	if len(h.channels[channel]) == 0 {
		delete(h.channels, channel)
	}
	delete(h.bySession[s], channel)
}

// IsOnline reports whether a player has a live session.
func (h *Hub) IsOnline(playerID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.sessions[playerID]
	return ok
}

// OnlineCount returns the number of live sessions.
func (h *Hub) OnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// OnlineRoster returns the player IDs of all live sessions.
func (h *Hub) OnlineRoster() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		out = append(out, id)
	}
	return out
}

func (h *Hub) broadcastOnlineCount() {
	h.BroadcastAll(MsgOnlineCount, map[string]any{"count": h.OnlineCount()})
}

// OnlinePlayerInfo is one roster row for online_players.
type OnlinePlayerInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Trophies int    `json:"trophies"`
	Arena    int    `json:"arena"`
}

// OnlineRosterInfo loads display info for every online player.
func (h *Hub) OnlineRosterInfo(ctx context.Context) []OnlinePlayerInfo {
	ids := h.OnlineRoster()
	out := make([]OnlinePlayerInfo, 0, len(ids))
	for _, id := range ids {
		p, err := h.players.Get(ctx, id)
		if err != nil || p == nil {
			continue
		}
		out = append(out, playerInfo(p))
	}
	return out
}

func playerInfo(p *model.Player) OnlinePlayerInfo {
	return OnlinePlayerInfo{
		ID:       p.ID,
		Name:     p.DisplayName(),
		Trophies: p.Stats.Trophies,
		Arena:    p.Arena,
	}
}
