// Package model defines the persistent record types the arena core reads
// and writes. Fields the server interprets are typed explicitly; everything
// else a client stores on its record rides along in Extra untouched.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Starting values for freshly created players.
const (
	StartingElo  = 1000
	StartingGold = 1000
)

// DefaultDeck is the card set every new player starts with.
var DefaultDeck = []string{"knight", "archer", "goblin", "bomber", "arrows", "minion", "giant", "zap"}

// Player is a durable player record.
type Player struct {
	ID           string          `json:"id"`
	Username     string          `json:"username"`
	PasswordHash string          `json:"password_hash,omitempty"`
	IsGuest      bool            `json:"is_guest"`
	Banned       bool            `json:"banned"`
	ClanID       string          `json:"clan_id,omitempty"`
	Name         string          `json:"name"`
	Arena        int             `json:"arena"`
	Stats        Stats           `json:"stats"`
	Gold         int64           `json:"gold"`
	Decks        [][]string      `json:"decks"`
	CurrentDeck  int             `json:"current_deck"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`

	// Extra carries client-owned fields (chests, battle pass, cosmetics…)
	// that the server round-trips without interpretation.
	Extra json.RawMessage `json:"extra,omitempty"`
}

// Stats holds the competitive counters the battle core updates.
type Stats struct {
	Trophies      int `json:"trophies"`
	Elo           int `json:"elo"`
	Wins          int `json:"wins"`
	Losses        int `json:"losses"`
	Draws         int `json:"draws"`
	Crowns        int `json:"crowns"`
	CurrentStreak int `json:"current_streak"`
	MaxStreak     int `json:"max_streak"`
}

// NewPlayer creates a player record with starting stats and the default deck.
func NewPlayer(id, username string) (*Player, error) {
	if id == "" {
		return nil, fmt.Errorf("player id is required")
	}
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}

	now := time.Now()
	deck := make([]string, len(DefaultDeck))
	copy(deck, DefaultDeck)

	return &Player{
		ID:       id,
		Username: username,
		Name:     username,
		Arena:    1,
		Stats: Stats{
			Elo: StartingElo,
		},
		Gold:        StartingGold,
		Decks:       [][]string{deck, {}, {}, {}, {}},
		CurrentDeck: 0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ActiveDeck returns the currently selected deck, or the first non-empty one.
func (p *Player) ActiveDeck() []string {
	if p.CurrentDeck >= 0 && p.CurrentDeck < len(p.Decks) && len(p.Decks[p.CurrentDeck]) > 0 {
		return p.Decks[p.CurrentDeck]
	}
	for _, d := range p.Decks {
		if len(d) > 0 {
			return d
		}
	}
	return nil
}

// DisplayName returns the profile name, falling back to the username.
func (p *Player) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Username
}

// ValidateUsername checks username format: 3-20 chars, letters, digits,
// underscores and hyphens only.
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("username is required")
	}
	if len(username) < 3 {
		return fmt.Errorf("username must be at least 3 characters")
	}
	if len(username) > 20 {
		return fmt.Errorf("username must be 20 characters or less")
	}
	stripped := strings.NewReplacer("_", "", "-", "").Replace(username)
	for _, r := range stripped {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		default:
			return fmt.Errorf("username can only contain letters, numbers, underscores, and hyphens")
		}
	}
	return nil
}

// Clone returns a deep copy of the record. Store implementations hand out
// clones so callers never share mutable state with the store.
func (p *Player) Clone() *Player {
	cp := *p
	cp.Decks = make([][]string, len(p.Decks))
	for i, d := range p.Decks {
		cp.Decks[i] = append([]string(nil), d...)
	}
	if p.Extra != nil {
		cp.Extra = append(json.RawMessage(nil), p.Extra...)
	}
	return &cp
}
