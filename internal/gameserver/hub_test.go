package gameserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/arenaroyale/arenaserver/internal/auth"
	"github.com/arenaroyale/arenaserver/internal/game/battle"
	"github.com/arenaroyale/arenaserver/internal/game/challenge"
	"github.com/arenaroyale/arenaserver/internal/game/matchmaking"
	"github.com/arenaroyale/arenaserver/internal/metrics"
	"github.com/arenaroyale/arenaserver/internal/model"
	"github.com/arenaroyale/arenaserver/internal/store"
)

type testEnv struct {
	t          *testing.T
	srv        *httptest.Server
	hub        *Hub
	tokens     *auth.TokenManager
	players    *store.MemoryStore
	matchmaker *matchmaking.Matchmaker
	battles    *battle.Coordinator
	challenges *challenge.Broker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	players := store.NewMemoryStore()
	tokens := auth.NewTokenManager("test-secret", time.Hour)
	m := metrics.New(prometheus.NewRegistry())

	hub := NewHub(tokens, players, m, HubConfig{}, log)
	mm := matchmaking.New(hub, log)
	bc := battle.NewCoordinator(hub, players, nil, battle.Config{
		Duration:         180 * time.Second,
		Grace:            time.Hour,
		DamageRatePerSec: 100,
		DamageRateBurst:  100,
	}, log)
	cb := challenge.NewBroker(hub, bc, players, time.Minute, log)
	NewHandlers(hub, players, mm, bc, cb, m, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testEnv{
		t:          t,
		srv:        srv,
		hub:        hub,
		tokens:     tokens,
		players:    players,
		matchmaker: mm,
		battles:    bc,
		challenges: cb,
	}
}

func (e *testEnv) addPlayer(id, username string) {
	e.t.Helper()
	p, err := model.NewPlayer(id, username)
	require.NoError(e.t, err)
	require.NoError(e.t, e.players.Save(context.Background(), p))
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (e *testEnv) dialRaw() *wsClient {
	e.t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { conn.Close() })
	return &wsClient{t: e.t, conn: conn}
}

// dial connects and completes the auth handshake for an existing player.
func (e *testEnv) dial(playerID, username string) *wsClient {
	e.t.Helper()
	c := e.dialRaw()
	token, err := e.tokens.Issue(playerID, username, false)
	require.NoError(e.t, err)
	c.send(MsgAuth, map[string]any{"token": token})
	data := c.expect(MsgAuthOK)
	require.Equal(e.t, playerID, data["player_id"])
	return c
}

func (c *wsClient) send(msgType string, data any) {
	c.t.Helper()
	frame, err := json.Marshal(map[string]any{"type": msgType, "data": data})
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, frame))
}

// expect reads frames until one of the wanted type arrives, skipping
// unrelated broadcasts (online_count, queue_status).
func (c *wsClient) expect(msgType string) map[string]any {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		c.conn.SetReadDeadline(deadline)
		_, raw, err := c.conn.ReadMessage()
		require.NoError(c.t, err, "waiting for %s", msgType)

		var env struct {
			Type string         `json:"type"`
			Data map[string]any `json:"data"`
		}
		require.NoError(c.t, json.Unmarshal(raw, &env))
		if env.Type == msgType {
			return env.Data
		}
	}
}

func (c *wsClient) expectClosed() {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestAuthHandshake(t *testing.T) {
	e := newTestEnv(t)
	e.addPlayer("p1", "Alice")

	c := e.dial("p1", "Alice")
	require.True(t, e.hub.IsOnline("p1"))

	data := c.expect(MsgOnlineCount)
	require.EqualValues(t, 1, data["count"])
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	e := newTestEnv(t)

	c := e.dialRaw()
	c.send(MsgAuth, map[string]any{"token": "garbage"})

	data := c.expect(MsgAuthError)
	require.Equal(t, "invalid", data["reason"])
	c.expectClosed()
}

func TestAuthRejectsBanned(t *testing.T) {
	e := newTestEnv(t)
	p, err := model.NewPlayer("p1", "Alice")
	require.NoError(t, err)
	p.Banned = true
	require.NoError(t, e.players.Save(context.Background(), p))

	c := e.dialRaw()
	token, err := e.tokens.Issue("p1", "Alice", false)
	require.NoError(t, err)
	c.send(MsgAuth, map[string]any{"token": token})

	data := c.expect(MsgAuthError)
	require.Equal(t, "banned", data["reason"])
	require.Equal(t, true, data["banned"])
	c.expectClosed()
	require.False(t, e.hub.IsOnline("p1"))
}

func TestPreAuthMessagesRejected(t *testing.T) {
	e := newTestEnv(t)

	c := e.dialRaw()
	c.send(MsgQueueJoin, map[string]any{"mode": "normal"})

	data := c.expect(MsgError)
	require.Equal(t, "Not authenticated", data["reason"])
}

func TestInvalidJSONSurvives(t *testing.T) {
	e := newTestEnv(t)
	e.addPlayer("p1", "Alice")
	c := e.dial("p1", "Alice")

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	data := c.expect(MsgError)
	require.Equal(t, "Invalid JSON", data["reason"])

	// Session is still usable.
	c.send(MsgSubscribe, map[string]any{"channel": "lobby"})
	c.expect(MsgSubscribed)
}

func TestUnknownMessageType(t *testing.T) {
	e := newTestEnv(t)
	e.addPlayer("p1", "Alice")
	c := e.dial("p1", "Alice")

	c.send("warp_drive", nil)
	data := c.expect(MsgError)
	require.Equal(t, "Unknown message type: warp_drive", data["reason"])
}

func TestSubscribeUnsubscribeAcks(t *testing.T) {
	e := newTestEnv(t)
	e.addPlayer("p1", "Alice")
	c := e.dial("p1", "Alice")

	c.send(MsgSubscribe, map[string]any{"channel": "clan:42"})
	data := c.expect(MsgSubscribed)
	require.Equal(t, "clan:42", data["channel"])

	c.send(MsgUnsubscribe, map[string]any{"channel": "clan:42"})
	data = c.expect(MsgUnsubscribed)
	require.Equal(t, "clan:42", data["channel"])
}

func TestDisplacementIsSilent(t *testing.T) {
	e := newTestEnv(t)
	e.addPlayer("p1", "Alice")

	forfeits := 0
	e.hub.SetDisconnectHook(func(string) { forfeits++ })

	first := e.dial("p1", "Alice")
	second := e.dial("p1", "Alice")

	// The first connection closes without firing the disconnect hook.
	first.expectClosed()
	require.Equal(t, 0, forfeits)
	require.Equal(t, 1, e.hub.OnlineCount())

	// The surviving session still works.
	second.send(MsgSubscribe, map[string]any{"channel": "lobby"})
	second.expect(MsgSubscribed)
}

func TestBroadcastSkipsClosedSession(t *testing.T) {
	e := newTestEnv(t)
	e.addPlayer("p1", "Alice")
	e.addPlayer("p2", "Bob")

	e.dial("p1", "Alice")
	c2 := e.dial("p2", "Bob")

	require.True(t, e.hub.Subscribe("p1", "battle:b1"))
	require.True(t, e.hub.Subscribe("p2", "battle:b1"))

	e.hub.mu.RLock()
	s := e.hub.sessions["p1"]
	e.hub.mu.RUnlock()
	require.NotNil(t, s)

	// Close while still registered and a channel member, the window a
	// displaced or slow session sits in before teardown runs.
	s.close()

	require.NotPanics(t, func() {
		e.hub.Broadcast("battle:b1", "battle_state", map[string]any{"n": 1})
		e.hub.Send("p1", "battle_state", map[string]any{"n": 2})
		e.hub.BroadcastAll(MsgOnlineCount, map[string]any{"count": 2})
	})

	// The live member still receives the channel broadcast.
	data := c2.expect("battle_state")
	require.EqualValues(t, 1, data["n"])
}

func TestChatClampsToRuneBoundary(t *testing.T) {
	e := newTestEnv(t)
	e.addPlayer("p1", "Alice")
	c := e.dial("p1", "Alice")

	long := strings.Repeat("ведьма", 50) // 300 runes, two bytes each
	c.send(MsgChatSend, map[string]any{"channel": "global", "message": long})

	data := c.expect(MsgChatMessage)
	got := data["message"].(string)
	require.True(t, utf8.ValidString(got))
	require.Equal(t, maxChatLength, utf8.RuneCountInString(got))
	require.Equal(t, string([]rune(long)[:maxChatLength]), got)
}

func TestKickClosesSession(t *testing.T) {
	e := newTestEnv(t)
	e.addPlayer("p1", "Alice")
	c := e.dial("p1", "Alice")

	e.hub.Disconnect("p1")
	c.expectClosed()
	require.Eventually(t, func() bool { return !e.hub.IsOnline("p1") },
		3*time.Second, 10*time.Millisecond)
}

func TestQueueJoinThroughBattleResult(t *testing.T) {
	e := newTestEnv(t)
	e.addPlayer("p1", "Alice")
	e.addPlayer("p2", "Bob")

	c1 := e.dial("p1", "Alice")
	c2 := e.dial("p2", "Bob")

	c1.send(MsgQueueJoin, map[string]any{"mode": "normal"})
	data := c1.expect(MsgQueueJoined)
	require.EqualValues(t, 1, data["position"])

	c2.send(MsgQueueJoin, map[string]any{"mode": "normal"})
	c2.expect(MsgQueueJoined)

	e.matchmaker.Tick()

	m1 := c1.expect("match_found")
	m2 := c2.expect("match_found")
	battleID := m1["battle_id"].(string)
	require.Equal(t, battleID, m2["battle_id"])
	require.NotEqual(t, m1["you_are"], m2["you_are"])

	c1.send(MsgBattleReady, map[string]any{"battle_id": battleID})
	c2.send(MsgBattleReady, map[string]any{"battle_id": battleID})
	c1.expect("battle_start")
	c2.expect("battle_start")

	// Which seat p1 occupies decides the damage target.
	target := "player2"
	if m1["you_are"] == "player2" {
		target = "player1"
	}
	c1.send(MsgTowerDamage, map[string]any{
		"battle_id":     battleID,
		"target_player": target,
		"target":        "king",
		"damage":        battle.KingTowerHP,
	})

	r1 := c1.expect("battle_result")
	r2 := c2.expect("battle_result")
	require.Equal(t, "p1", r1["winner_id"])
	require.Equal(t, "p1", r2["winner_id"])

	your := r1["your_result"].(map[string]any)
	require.Equal(t, true, your["won"])
	require.EqualValues(t, 3, your["crowns"])
}

func TestChatGlobalBroadcast(t *testing.T) {
	e := newTestEnv(t)
	e.addPlayer("p1", "Alice")
	e.addPlayer("p2", "Bob")

	c1 := e.dial("p1", "Alice")
	c2 := e.dial("p2", "Bob")

	c1.send(MsgChatSend, map[string]any{"channel": "global", "message": "  hello arena  "})

	for _, c := range []*wsClient{c1, c2} {
		data := c.expect(MsgChatMessage)
		require.Equal(t, "global", data["channel"])
		require.Equal(t, "p1", data["sender_id"])
		require.Equal(t, "hello arena", data["message"])
	}
}

func TestChatClanOnlyReachesMembers(t *testing.T) {
	e := newTestEnv(t)
	e.addPlayer("p1", "Alice")
	e.addPlayer("p2", "Bob")
	e.addPlayer("p3", "Carol")

	c1 := e.dial("p1", "Alice")
	c2 := e.dial("p2", "Bob")
	c3 := e.dial("p3", "Carol")

	c1.send(MsgSubscribe, map[string]any{"channel": "clan:7"})
	c1.expect(MsgSubscribed)
	c2.send(MsgSubscribe, map[string]any{"channel": "clan:7"})
	c2.expect(MsgSubscribed)

	c1.send(MsgChatSend, map[string]any{"channel": "clan", "clan_id": "7", "message": "rally"})
	c2.expect(MsgChatMessage)

	// Carol is not in the clan channel; she only ever sees her sub ack.
	c3.send(MsgSubscribe, map[string]any{"channel": "elsewhere"})
	data := c3.expect(MsgSubscribed)
	require.Equal(t, "elsewhere", data["channel"])
}

func TestGetOnlinePlayers(t *testing.T) {
	e := newTestEnv(t)
	e.addPlayer("p1", "Alice")
	e.addPlayer("p2", "Bob")

	c1 := e.dial("p1", "Alice")
	e.dial("p2", "Bob")

	c1.send(MsgGetOnlinePlayers, nil)
	data := c1.expect(MsgOnlinePlayers)
	players := data["players"].([]any)
	require.Len(t, players, 2)
}

func TestChallengeFlow(t *testing.T) {
	e := newTestEnv(t)
	e.addPlayer("p1", "Alice")
	e.addPlayer("p2", "Bob")

	c1 := e.dial("p1", "Alice")
	c2 := e.dial("p2", "Bob")

	c1.send(MsgChallengePlayer, map[string]any{"target_id": "p2"})
	c1.expect("challenge_sent")
	inv := c2.expect("challenge_received")
	require.Equal(t, "p1", inv["challenger_id"])

	c2.send(MsgChallengeResponse, map[string]any{"challenger_id": "p1", "accepted": true})
	a1 := c1.expect("challenge_accepted")
	a2 := c2.expect("challenge_accepted")
	require.Equal(t, a1["battle_id"], a2["battle_id"])
	require.Equal(t, "player1", a1["you_are"])
	require.Equal(t, "player2", a2["you_are"])
}

func TestDisconnectForfeitsLiveBattle(t *testing.T) {
	e := newTestEnv(t)
	e.addPlayer("p1", "Alice")
	e.addPlayer("p2", "Bob")

	c1 := e.dial("p1", "Alice")
	c2 := e.dial("p2", "Bob")

	c1.send(MsgQueueJoin, map[string]any{"mode": "normal"})
	c1.expect(MsgQueueJoined)
	c2.send(MsgQueueJoin, map[string]any{"mode": "normal"})
	c2.expect(MsgQueueJoined)
	e.matchmaker.Tick()

	m1 := c1.expect("match_found")
	battleID := m1["battle_id"].(string)
	c2.expect("match_found")

	c1.send(MsgBattleReady, map[string]any{"battle_id": battleID})
	c2.send(MsgBattleReady, map[string]any{"battle_id": battleID})
	c1.expect("battle_start")
	c2.expect("battle_start")

	c1.conn.Close()

	r := c2.expect("battle_result")
	require.Equal(t, "p2", r["winner_id"])
	your := r["your_result"].(map[string]any)
	require.Equal(t, true, your["won"])
	require.EqualValues(t, 3, your["crowns"])
}
