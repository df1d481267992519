// Package events publishes finished battle results to NATS for downstream
// consumers (leaderboards, analytics). Publishing is optional; a nil
// Publisher is a no-op.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/arenaroyale/arenaserver/internal/game/battle"
)

// SubjectBattleResults is the NATS subject battle results go out on.
const SubjectBattleResults = "arena.battles.results"

// Publisher sends battle results to NATS.
type Publisher struct {
	conn *nats.Conn
	log  *slog.Logger
}

// Connect dials NATS and returns a Publisher.
func Connect(url string, log *slog.Logger) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats %s: %w", url, err)
	}
	return &Publisher{conn: conn, log: log}, nil
}

// PublishResult emits a battle result. Failures are logged, never fatal.
func (p *Publisher) PublishResult(ctx context.Context, r battle.Result) {
	if p == nil || p.conn == nil {
		return
	}
	payload, err := json.Marshal(r)
	if err != nil {
		p.log.Error("encoding battle result event", "battle", r.BattleID, "error", err)
		return
	}
	if err := p.conn.Publish(SubjectBattleResults, payload); err != nil {
		p.log.Warn("publishing battle result", "battle", r.BattleID, "error", err)
	}
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
