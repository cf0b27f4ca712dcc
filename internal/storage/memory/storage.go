package memory

import (
	"context"
	"sync"

	"github.com/mcoot/partylobby/internal/model"
	"github.com/mcoot/partylobby/internal/storage"
)

// Storage is an in-memory implementation of the player store
type Storage struct {
	mu      sync.RWMutex
	players map[model.PlayerID]model.Player
}

// New creates a new in-memory storage instance
func New() *Storage {
	return &Storage{
		players: make(map[model.PlayerID]model.Player),
	}
}

// Ensure Storage implements the interface
var _ storage.PlayerStore = (*Storage)(nil)

func (s *Storage) SavePlayer(ctx context.Context, player *model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.players[player.ID] = *player
	return nil
}

func (s *Storage) GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	player, ok := s.players[id]
	if !ok {
		return nil, model.ErrPlayerNotFound
	}
	return &player, nil
}

func (s *Storage) DeletePlayer(ctx context.Context, id model.PlayerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.players, id)
	return nil
}

func (s *Storage) ListPlayers(ctx context.Context) ([]*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	players := make([]*model.Player, 0, len(s.players))
	for _, p := range s.players {
		player := p
		players = append(players, &player)
	}
	return players, nil
}
