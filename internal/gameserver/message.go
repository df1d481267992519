package gameserver

import (
	"encoding/json"
	"time"
)

// Inbound message types.
const (
	MsgAuth              = "auth"
	MsgQueueJoin         = "queue_join"
	MsgQueueLeave        = "queue_leave"
	MsgBattleReady       = "battle_ready"
	MsgBattleAction      = "battle_action"
	MsgTowerDamage       = "tower_damage"
	MsgBattleEnd         = "battle_end"
	MsgChatSend          = "chat_send"
	MsgSubscribe         = "subscribe"
	MsgUnsubscribe       = "unsubscribe"
	MsgGetOnlinePlayers  = "get_online_players"
	MsgChallengePlayer   = "challenge_player"
	MsgChallengeResponse = "challenge_response"
	MsgCancelChallenge   = "cancel_challenge"
)

// Outbound message types. Battle and challenge events are emitted by their
// engines with literal type strings; these cover the hub's own replies.
const (
	MsgAuthOK        = "auth_ok"
	MsgAuthError     = "auth_error"
	MsgError         = "error"
	MsgQueueJoined   = "queue_joined"
	MsgQueueLeft     = "queue_left"
	MsgSubscribed    = "subscribed"
	MsgUnsubscribed  = "unsubscribed"
	MsgChatMessage   = "chat_message"
	MsgOnlineCount   = "online_count"
	MsgOnlinePlayers = "online_players"
)

// Envelope is one inbound frame.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type outEnvelope struct {
	Type      string  `json:"type"`
	Data      any     `json:"data"`
	Timestamp float64 `json:"timestamp"`
}

// encodeMessage frames an outbound message. Marshal failures return nil;
// payloads are server-built so this only trips on programmer error.
func encodeMessage(msgType string, data any) []byte {
	frame, err := json.Marshal(outEnvelope{
		Type:      msgType,
		Data:      data,
		Timestamp: float64(time.Now().UnixMilli()) / 1000,
	})
	if err != nil {
		return nil
	}
	return frame
}

// errorPayload is the body of error and auth_error replies.
func errorPayload(reason string) map[string]any {
	return map[string]any{"reason": reason}
}
