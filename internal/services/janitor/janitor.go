package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/mcoot/partylobby/internal/dependencies/clock"
	"github.com/mcoot/partylobby/internal/model"
	"github.com/mcoot/partylobby/internal/periodic"
	"github.com/mcoot/partylobby/internal/services/lobby"
)

// Eviction reasons sent with roomClosed
const (
	ReasonEmpty    = "empty"
	ReasonInactive = "inactive"
	ReasonCapacity = "capacity"
)

// StaleLister finds players that have not been seen recently
type StaleLister interface {
	Stale(ctx context.Context, staleAfter time.Duration) ([]*model.Player, error)
}

// Config controls sweep cadence and thresholds
type Config struct {
	Interval     time.Duration
	StaleTimeout time.Duration
	MaxRooms     int // Zero disables the cap
}

// DefaultConfig returns the default janitor settings
func DefaultConfig() Config {
	return Config{
		Interval:     15 * time.Second,
		StaleTimeout: 30 * time.Minute,
		MaxRooms:     500,
	}
}

// SweepResult counts what one sweep removed
type SweepResult struct {
	PlayersRemoved int
	RoomsEvicted   int
	RoomsOverCap   int
	PlayerFailures int
}

// Janitor periodically removes stale players and evicts dead rooms
type Janitor struct {
	lobby   *lobby.Controller
	players StaleLister
	clock   clock.Clock
	logger  *slog.Logger
	cfg     Config
}

// New creates a new Janitor
func New(lobby *lobby.Controller, players StaleLister, clock clock.Clock, logger *slog.Logger, cfg Config) *Janitor {
	return &Janitor{
		lobby:   lobby,
		players: players,
		clock:   clock,
		logger:  logger.With(slog.String("component", "janitor")),
		cfg:     cfg,
	}
}

// Run sweeps on the configured interval until ctx is cancelled
func (j *Janitor) Run(ctx context.Context) error {
	j.logger.Info("janitor started",
		slog.Duration("interval", j.cfg.Interval),
		slog.Duration("stale_timeout", j.cfg.StaleTimeout))
	defer j.logger.Info("janitor stopped")

	return periodic.Run(ctx, j.cfg.Interval, func(ctx context.Context) {
		j.Sweep(ctx)
	})
}

// Sweep runs one cleanup pass. Stale players are removed before rooms are
// considered, so a room whose last player went stale is evicted in the
// same pass.
func (j *Janitor) Sweep(ctx context.Context) SweepResult {
	var result SweepResult

	stale, err := j.players.Stale(ctx, j.cfg.StaleTimeout)
	if err != nil {
		j.logger.Error("failed to list stale players", slog.String("error", err.Error()))
	}
	for _, p := range stale {
		if err := j.lobby.RemovePlayer(ctx, p.ID); err != nil {
			result.PlayerFailures++
			j.logger.Error("failed to remove stale player",
				slog.String("player_id", string(p.ID)),
				slog.String("error", err.Error()))
			continue
		}
		result.PlayersRemoved++
	}

	now := j.clock.Now()
	for _, rm := range j.lobby.Rooms() {
		reason := ""
		switch {
		case rm.IsClosed() || rm.IsEmpty():
			reason = ReasonEmpty
		case now.Sub(rm.LastActivity()) > j.cfg.StaleTimeout:
			reason = ReasonInactive
		default:
			continue
		}
		if j.lobby.EvictRoom(ctx, rm.Code(), reason) {
			result.RoomsEvicted++
		}
	}

	if j.cfg.MaxRooms > 0 {
		// Rooms is oldest first
		for _, rm := range j.lobby.Rooms() {
			if j.lobby.RoomCount() <= j.cfg.MaxRooms {
				break
			}
			if j.lobby.EvictRoom(ctx, rm.Code(), ReasonCapacity) {
				result.RoomsOverCap++
			}
		}
	}

	if result != (SweepResult{}) {
		j.logger.Info("sweep complete",
			slog.Int("players_removed", result.PlayersRemoved),
			slog.Int("rooms_evicted", result.RoomsEvicted),
			slog.Int("rooms_over_cap", result.RoomsOverCap),
			slog.Int("player_failures", result.PlayerFailures),
			slog.Int("room_count", j.lobby.RoomCount()))
	}
	return result
}
