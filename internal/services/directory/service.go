package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mcoot/partylobby/internal/dependencies/clock"
	"github.com/mcoot/partylobby/internal/dependencies/random"
	"github.com/mcoot/partylobby/internal/model"
	"github.com/mcoot/partylobby/internal/storage"
)

// Service tracks player identity, liveness and room association,
// independent of any transport
type Service struct {
	store  storage.PlayerStore
	clock  clock.Clock
	random random.Random
	logger *slog.Logger

	// mu serializes read-modify-write cycles against the store
	mu sync.Mutex
}

// New creates a new Player Directory
func New(store storage.PlayerStore, clock clock.Clock, random random.Random, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		clock:  clock,
		random: random,
		logger: logger.With(slog.String("component", "directory")),
	}
}

// RegisterParams describes a player registration
type RegisterParams struct {
	ID       model.PlayerID // Generated when empty
	Name     string
	RoomCode model.RoomCode
	AsHost   bool
	ConnID   string
}

// Register records a player. Registering an id that already exists is a
// reconnect: the record is refreshed and rebound rather than duplicated.
func (s *Service) Register(ctx context.Context, params RegisterParams) (*model.Player, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	name := strings.TrimSpace(params.Name)

	if params.ID != "" {
		existing, err := s.store.GetPlayer(ctx, params.ID)
		switch {
		case err == nil:
			if name != "" {
				existing.DisplayName = name
			}
			existing.RoomCode = params.RoomCode
			existing.IsHost = params.AsHost
			existing.ConnID = params.ConnID
			existing.LastSeen = now
			if err := s.store.SavePlayer(ctx, existing); err != nil {
				return nil, false, fmt.Errorf("save player: %w", err)
			}
			s.logger.Debug("player reconnected",
				slog.String("player_id", string(existing.ID)),
				slog.String("room_code", string(existing.RoomCode)))
			return existing, true, nil
		case !errors.Is(err, model.ErrPlayerNotFound):
			return nil, false, fmt.Errorf("get player: %w", err)
		}
	}

	if name == "" {
		return nil, false, model.ErrEmptyName
	}

	id := params.ID
	if id == "" {
		id = model.PlayerID(s.random.ID())
	}

	player := &model.Player{
		ID:          id,
		DisplayName: name,
		RoomCode:    params.RoomCode,
		IsHost:      params.AsHost,
		ConnID:      params.ConnID,
		LastSeen:    now,
		CreatedAt:   now,
	}
	if err := s.store.SavePlayer(ctx, player); err != nil {
		return nil, false, fmt.Errorf("save player: %w", err)
	}

	s.logger.Debug("player registered",
		slog.String("player_id", string(player.ID)),
		slog.String("room_code", string(player.RoomCode)))
	return player, false, nil
}

// Get retrieves a player record
func (s *Service) Get(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	return s.store.GetPlayer(ctx, id)
}

// Touch refreshes a player's last-seen timestamp
func (s *Service) Touch(ctx context.Context, id model.PlayerID) error {
	return s.update(ctx, id, func(p *model.Player) {
		p.LastSeen = s.clock.Now()
	})
}

// SetHost records the host flag last reported by the player's room
func (s *Service) SetHost(ctx context.Context, id model.PlayerID, isHost bool) error {
	return s.update(ctx, id, func(p *model.Player) {
		p.IsHost = isHost
	})
}

// BindConn records the player's live connection handle and refreshes liveness
func (s *Service) BindConn(ctx context.Context, id model.PlayerID, connID string) error {
	return s.update(ctx, id, func(p *model.Player) {
		p.ConnID = connID
		p.LastSeen = s.clock.Now()
	})
}

// UnbindConn clears the connection handle if it still matches connID
func (s *Service) UnbindConn(ctx context.Context, id model.PlayerID, connID string) error {
	return s.update(ctx, id, func(p *model.Player) {
		if p.ConnID == connID {
			p.ConnID = ""
		}
	})
}

// Remove deletes a player record. Removing an unknown player is a no-op.
func (s *Service) Remove(ctx context.Context, id model.PlayerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.DeletePlayer(ctx, id); err != nil {
		return fmt.Errorf("delete player: %w", err)
	}
	return nil
}

// IsAlive reports whether the player has been seen within staleAfter.
// Unknown players are never alive.
func (s *Service) IsAlive(ctx context.Context, id model.PlayerID, staleAfter time.Duration) bool {
	player, err := s.store.GetPlayer(ctx, id)
	if err != nil {
		if !errors.Is(err, model.ErrPlayerNotFound) {
			s.logger.Error("liveness lookup failed",
				slog.String("player_id", string(id)),
				slog.String("error", err.Error()))
		}
		return false
	}
	return s.alive(player, staleAfter)
}

// Stale lists players that have not been seen within staleAfter
func (s *Service) Stale(ctx context.Context, staleAfter time.Duration) ([]*model.Player, error) {
	players, err := s.store.ListPlayers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}

	var stale []*model.Player
	for _, p := range players {
		if !s.alive(p, staleAfter) {
			stale = append(stale, p)
		}
	}
	return stale, nil
}

// Count returns the number of known players
func (s *Service) Count(ctx context.Context) (int, error) {
	players, err := s.store.ListPlayers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list players: %w", err)
	}
	return len(players), nil
}

func (s *Service) alive(p *model.Player, staleAfter time.Duration) bool {
	return s.clock.Since(p.LastSeen) < staleAfter
}

func (s *Service) update(ctx context.Context, id model.PlayerID, fn func(p *model.Player)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	player, err := s.store.GetPlayer(ctx, id)
	if err != nil {
		return err
	}
	fn(player)
	if err := s.store.SavePlayer(ctx, player); err != nil {
		return fmt.Errorf("save player: %w", err)
	}
	return nil
}
