package gameserver

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const maxMessageSize = 8192

// Session is one authenticated websocket connection. The hub owns the
// registry; the session owns its connection and send queue.
type Session struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	PlayerID string
	Username string
	IsGuest  bool
	JoinedAt time.Time

	closeOnce sync.Once
	// displaced is set when a newer session for the same player takes over;
	// a displaced close skips the disconnect hook and presence broadcast.
	displaced atomic.Bool
}

func newSession(hub *Hub, conn *websocket.Conn) *Session {
	return &Session{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, hub.sendQueue),
		done:     make(chan struct{}),
		JoinedAt: time.Now(),
	}
}

// enqueue hands a frame to the write pump. Frames for a closed session are
// swallowed: broadcasters may hold a membership snapshot that outlives the
// session, and send must never panic. A full queue means the peer is too
// slow: the frame is dropped and the session is torn down.
func (s *Session) enqueue(frame []byte) bool {
	if frame == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	case <-s.done:
		return false
	default:
		s.hub.log.Warn("send queue full, dropping session", "player", s.PlayerID)
		s.hub.metrics.MessagesDropped.Inc()
		s.close()
		return false
	}
}

// reply sends directly to this session, bypassing the player registry. Used
// for pre-auth errors and handler replies.
func (s *Session) reply(msgType string, data any) bool {
	ok := s.enqueue(encodeMessage(msgType, data))
	if ok {
		s.hub.metrics.MessagesSent.Inc()
	}
	return ok
}

// close signals shutdown. The send channel itself is never closed so that
// concurrent enqueues stay safe; the write pump drains and exits on done.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// readPump drives the session: auth handshake first, then message dispatch
// until the connection drops.
func (s *Session) readPump() {
	defer func() {
		s.hub.disconnect(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(s.hub.pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(s.hub.pongWait))
		return nil
	})

	authed := false
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.log.Debug("websocket read error", "player", s.PlayerID, "error", err)
			}
			return
		}
		s.hub.metrics.MessagesReceived.Inc()

		if !authed {
			ok, fatal := s.hub.authenticate(s, raw)
			if fatal {
				return
			}
			authed = ok
			continue
		}
		s.hub.dispatch(s, raw)
	}
}

// writePump drains the send queue to the peer and keeps the connection
// alive with pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.hub.pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(s.hub.writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-s.done:
			// Flush replies enqueued before close (auth_error and friends),
			// then say goodbye.
			s.conn.SetWriteDeadline(time.Now().Add(s.hub.writeWait))
			for {
				select {
				case frame := <-s.send:
					if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
						return
					}
				default:
					s.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(s.hub.writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
