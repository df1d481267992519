package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/arenaroyale/arenaserver/internal/model"
)

// MemoryStore keeps players in a map. Used when no database is configured,
// and by tests.
type MemoryStore struct {
	mu      sync.RWMutex
	players map[string]*model.Player // by ID

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex // per-player update locks
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		players: make(map[string]*model.Player),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[id]
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

func (s *MemoryStore) FindByUsername(ctx context.Context, username string) (*model.Player, error) {
	username = strings.ToLower(username)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.players {
		if strings.ToLower(p.Username) == username {
			return p.Clone(), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) Save(ctx context.Context, p *model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.players[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn func(*model.Player) error) (*model.Player, error) {
	lock := s.playerLock(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	cur, ok := s.players[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.players[id] = next
	s.mu.Unlock()
	return next.Clone(), nil
}

func (s *MemoryStore) ByRank(ctx context.Context, limit int) ([]*model.Player, error) {
	s.mu.RLock()
	out := make([]*model.Player, 0, len(s.players))
	for _, p := range s.players {
		if p.IsGuest {
			continue
		}
		out = append(out, p.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Stats.Trophies != out[j].Stats.Trophies {
			return out[i].Stats.Trophies > out[j].Stats.Trophies
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) playerLock(id string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}
