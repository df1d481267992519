package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arenaroyale/arenaserver/internal/model"
)

// PostgresStore persists players in PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and returns a store handle.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

const playerColumns = `id, username, password_hash, is_guest, banned, clan_id, name, arena,
	trophies, elo, wins, losses, draws, crowns, current_streak, max_streak,
	gold, decks, current_deck, extra, created_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Player, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+playerColumns+` FROM players WHERE id = $1`, id)
	p, err := scanPlayer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying player %q: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) FindByUsername(ctx context.Context, username string) (*model.Player, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+playerColumns+` FROM players WHERE lower(username) = $1`,
		strings.ToLower(username))
	p, err := scanPlayer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying player by username %q: %w", username, err)
	}
	return p, nil
}

func (s *PostgresStore) Save(ctx context.Context, p *model.Player) error {
	decks, err := json.Marshal(p.Decks)
	if err != nil {
		return fmt.Errorf("encoding decks for %q: %w", p.ID, err)
	}
	extra := p.Extra
	if len(extra) == 0 {
		extra = json.RawMessage("{}")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO players (`+playerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8,
		        $9, $10, $11, $12, $13, $14, $15, $16,
		        $17, $18, $19, $20, $21, $22)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			password_hash = EXCLUDED.password_hash,
			is_guest = EXCLUDED.is_guest,
			banned = EXCLUDED.banned,
			clan_id = EXCLUDED.clan_id,
			name = EXCLUDED.name,
			arena = EXCLUDED.arena,
			trophies = EXCLUDED.trophies,
			elo = EXCLUDED.elo,
			wins = EXCLUDED.wins,
			losses = EXCLUDED.losses,
			draws = EXCLUDED.draws,
			crowns = EXCLUDED.crowns,
			current_streak = EXCLUDED.current_streak,
			max_streak = EXCLUDED.max_streak,
			gold = EXCLUDED.gold,
			decks = EXCLUDED.decks,
			current_deck = EXCLUDED.current_deck,
			extra = EXCLUDED.extra,
			updated_at = EXCLUDED.updated_at`,
		p.ID, p.Username, p.PasswordHash, p.IsGuest, p.Banned, p.ClanID, p.Name, p.Arena,
		p.Stats.Trophies, p.Stats.Elo, p.Stats.Wins, p.Stats.Losses, p.Stats.Draws,
		p.Stats.Crowns, p.Stats.CurrentStreak, p.Stats.MaxStreak,
		p.Gold, decks, p.CurrentDeck, extra, p.CreatedAt, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("saving player %q: %w", p.ID, err)
	}
	return nil
}

// Update reads the row FOR UPDATE inside a transaction, applies fn, and
// writes the result back. The row lock serializes concurrent settlements.
func (s *PostgresStore) Update(ctx context.Context, id string, fn func(*model.Player) error) (*model.Player, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning update for %q: %w", id, err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+playerColumns+` FROM players WHERE id = $1 FOR UPDATE`, id)
	p, err := scanPlayer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("locking player %q: %w", id, err)
	}

	if err := fn(p); err != nil {
		return nil, err
	}

	decks, err := json.Marshal(p.Decks)
	if err != nil {
		return nil, fmt.Errorf("encoding decks for %q: %w", id, err)
	}
	extra := p.Extra
	if len(extra) == 0 {
		extra = json.RawMessage("{}")
	}

	_, err = tx.Exec(ctx, `
		UPDATE players SET
			username = $2, password_hash = $3, is_guest = $4, banned = $5,
			clan_id = $6, name = $7, arena = $8,
			trophies = $9, elo = $10, wins = $11, losses = $12, draws = $13,
			crowns = $14, current_streak = $15, max_streak = $16,
			gold = $17, decks = $18, current_deck = $19, extra = $20,
			updated_at = $21
		WHERE id = $1`,
		id, p.Username, p.PasswordHash, p.IsGuest, p.Banned,
		p.ClanID, p.Name, p.Arena,
		p.Stats.Trophies, p.Stats.Elo, p.Stats.Wins, p.Stats.Losses, p.Stats.Draws,
		p.Stats.Crowns, p.Stats.CurrentStreak, p.Stats.MaxStreak,
		p.Gold, decks, p.CurrentDeck, extra, time.Now(),
	)
	if err != nil {
		return nil, fmt.Errorf("updating player %q: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing update for %q: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) ByRank(ctx context.Context, limit int) ([]*model.Player, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+playerColumns+` FROM players
		 WHERE NOT is_guest
		 ORDER BY trophies DESC, id ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying ranking: %w", err)
	}
	defer rows.Close()

	var out []*model.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning ranking row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ranking: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlayer(row rowScanner) (*model.Player, error) {
	var p model.Player
	var decks []byte
	var extra []byte
	err := row.Scan(
		&p.ID, &p.Username, &p.PasswordHash, &p.IsGuest, &p.Banned,
		&p.ClanID, &p.Name, &p.Arena,
		&p.Stats.Trophies, &p.Stats.Elo, &p.Stats.Wins, &p.Stats.Losses, &p.Stats.Draws,
		&p.Stats.Crowns, &p.Stats.CurrentStreak, &p.Stats.MaxStreak,
		&p.Gold, &decks, &p.CurrentDeck, &extra, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(decks) > 0 {
		if err := json.Unmarshal(decks, &p.Decks); err != nil {
			return nil, fmt.Errorf("decoding decks: %w", err)
		}
	}
	if len(extra) > 0 {
		p.Extra = json.RawMessage(extra)
	}
	return &p, nil
}
