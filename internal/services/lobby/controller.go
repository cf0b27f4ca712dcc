package lobby

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mcoot/partylobby/internal/dependencies/clock"
	"github.com/mcoot/partylobby/internal/dependencies/random"
	"github.com/mcoot/partylobby/internal/model"
	"github.com/mcoot/partylobby/internal/services/directory"
	"github.com/mcoot/partylobby/internal/services/registry"
	"github.com/mcoot/partylobby/internal/services/room"
)

// Config holds coordinator-level settings
type Config struct {
	// LivenessWindow drives the roster "connected" flag. It is deliberately
	// much shorter than the janitor's stale timeout.
	LivenessWindow time.Duration

	// Per-player chat rate limiting
	ChatRate  float64 // Messages per second
	ChatBurst int

	// ListLimit caps room listings
	ListLimit int
}

// DefaultConfig returns default coordinator settings
func DefaultConfig() Config {
	return Config{
		LivenessWindow: 10 * time.Second,
		ChatRate:       2,
		ChatBurst:      5,
		ListLimit:      50,
	}
}

// Controller is the coordinator facade every transport talks to. It keeps
// the Registry, the rooms and the Player Directory consistent with each other.
type Controller struct {
	registry  *registry.Registry
	directory *directory.Service
	clock     clock.Clock
	random    random.Random
	logger    *slog.Logger
	cfg       Config

	limitersMu sync.Mutex
	limiters   map[model.PlayerID]*rate.Limiter
}

// NewController creates a new lobby Controller
func NewController(
	registry *registry.Registry,
	directory *directory.Service,
	clock clock.Clock,
	random random.Random,
	logger *slog.Logger,
	cfg Config,
) *Controller {
	return &Controller{
		registry:  registry,
		directory: directory,
		clock:     clock,
		random:    random,
		logger:    logger.With(slog.String("component", "lobby")),
		cfg:       cfg,
		limiters:  make(map[model.PlayerID]*rate.Limiter),
	}
}

// CreateRoomParams describes a room creation request
type CreateRoomParams struct {
	Name       string
	MinPlayers int
	MaxPlayers int
	Private    bool
	Secret     string
	HostID     model.PlayerID // Generated when empty
	HostName   string
}

// CreateRoom creates a room with the caller seated as host
func (c *Controller) CreateRoom(ctx context.Context, params CreateRoomParams) (*model.Snapshot, *model.Player, error) {
	hostID := params.HostID
	if hostID == "" {
		hostID = model.PlayerID(c.random.ID())
	}
	previousRoom := c.currentRoom(ctx, hostID)

	rm, err := c.registry.Create(registry.CreateParams{
		Name:       params.Name,
		MinPlayers: params.MinPlayers,
		MaxPlayers: params.MaxPlayers,
		Private:    params.Private,
		Secret:     params.Secret,
		HostID:     hostID,
		HostName:   params.HostName,
	})
	if err != nil {
		return nil, nil, err
	}

	player, _, err := c.directory.Register(ctx, directory.RegisterParams{
		ID:       hostID,
		Name:     params.HostName,
		RoomCode: rm.Code(),
		AsHost:   true,
	})
	if err != nil {
		// Roll back so the room does not outlive a host the directory never saw
		c.closeRoom(ctx, rm, "create failed")
		return nil, nil, err
	}

	c.leavePrevious(ctx, hostID, previousRoom, rm.Code())

	snap := c.decorate(ctx, rm.Snapshot())
	return &snap, player, nil
}

// JoinRoomParams describes a join request
type JoinRoomParams struct {
	Code     string
	PlayerID model.PlayerID // Generated when empty
	Name     string
	Secret   string
}

// JoinRoomResult describes an accepted join
type JoinRoomResult struct {
	Player      *model.Player
	Member      model.Member
	Reconnected bool
	Snapshot    model.Snapshot
}

// JoinRoom seats a player, binding sink as its live connection when given.
// Joining a different room than the one the player is in leaves the old one.
func (c *Controller) JoinRoom(ctx context.Context, params JoinRoomParams, sink room.Sink) (*JoinRoomResult, error) {
	rm, err := c.registry.Get(params.Code)
	if err != nil {
		return nil, err
	}

	playerID := params.PlayerID
	if playerID == "" {
		playerID = model.PlayerID(c.random.ID())
	}
	previousRoom := c.currentRoom(ctx, playerID)

	result, err := rm.Join(room.JoinRequest{
		PlayerID: playerID,
		Name:     params.Name,
		Secret:   params.Secret,
		Sink:     sink,
	})
	if err != nil {
		return nil, err
	}

	var connID string
	if sink != nil {
		connID = sink.ID()
	}
	player, _, err := c.directory.Register(ctx, directory.RegisterParams{
		ID:       playerID,
		Name:     result.Member.DisplayName,
		RoomCode: rm.Code(),
		AsHost:   result.Member.IsHost,
		ConnID:   connID,
	})
	if err != nil {
		if result.Reconnected {
			// The seat predates this request; keep it
			return nil, err
		}
		// Undo the seat so a failed join never leaks a roster entry
		if _, leaveErr := c.leaveRoom(ctx, rm, playerID); leaveErr != nil {
			c.logger.Error("failed to roll back join",
				slog.String("room_code", string(rm.Code())),
				slog.String("player_id", string(playerID)),
				slog.String("error", leaveErr.Error()))
		}
		return nil, err
	}

	if result.PreviousHostID != "" {
		c.syncHost(ctx, result.PreviousHostID, false)
	}
	c.leavePrevious(ctx, playerID, previousRoom, rm.Code())

	return &JoinRoomResult{
		Player:      player,
		Member:      result.Member,
		Reconnected: result.Reconnected,
		Snapshot:    c.decorate(ctx, result.Snapshot),
	}, nil
}

// LeaveRoom removes a player from a room and from the directory
func (c *Controller) LeaveRoom(ctx context.Context, code string, playerID model.PlayerID) (*room.LeaveResult, error) {
	rm, err := c.registry.Get(code)
	if err != nil {
		return nil, err
	}
	return c.leaveRoom(ctx, rm, playerID)
}

// Disconnect handles a transport close. The player leaves only if connID
// is still its live binding; a superseded connection changes nothing.
func (c *Controller) Disconnect(ctx context.Context, code model.RoomCode, playerID model.PlayerID, connID string) (bool, error) {
	rm, err := c.registry.Get(string(code))
	if err != nil {
		if errors.Is(err, model.ErrRoomNotFound) {
			return false, nil
		}
		return false, err
	}

	result, left, err := rm.LeaveIfBound(playerID, connID)
	if err != nil {
		return false, err
	}
	if !left {
		// Superseded; only the directory's record of this handle goes
		if err := c.directory.UnbindConn(ctx, playerID, connID); err != nil && !errors.Is(err, model.ErrPlayerNotFound) {
			c.logger.Error("failed to clear connection",
				slog.String("player_id", string(playerID)),
				slog.String("error", err.Error()))
		}
		return false, nil
	}

	c.afterLeave(ctx, rm, playerID, result)
	return true, nil
}

func (c *Controller) leaveRoom(ctx context.Context, rm *room.Room, playerID model.PlayerID) (*room.LeaveResult, error) {
	result, err := rm.Leave(playerID)
	if err != nil {
		return nil, err
	}
	c.afterLeave(ctx, rm, playerID, result)
	return &result, nil
}

func (c *Controller) afterLeave(ctx context.Context, rm *room.Room, playerID model.PlayerID, result room.LeaveResult) {
	if result.Closed {
		c.registry.Evict(rm.Code())
	}
	if result.NewHostID != "" {
		c.syncHost(ctx, result.NewHostID, true)
	}

	// Only drop the directory record if it still points at this room; a
	// player switching rooms already has a newer association
	if c.currentRoom(ctx, playerID) == rm.Code() {
		if err := c.directory.Remove(ctx, playerID); err != nil {
			c.logger.Error("failed to remove player",
				slog.String("player_id", string(playerID)),
				slog.String("error", err.Error()))
		}
		c.forgetLimiter(playerID)
	}
}

// Heartbeat records activity for a player in a room
func (c *Controller) Heartbeat(ctx context.Context, code string, playerID model.PlayerID) error {
	rm, err := c.registry.Get(code)
	if err != nil {
		return err
	}
	if !rm.IsMember(playerID) {
		return model.ErrNotInRoom
	}
	if err := c.directory.Touch(ctx, playerID); err != nil {
		return err
	}
	rm.Touch()
	return nil
}

// PostChatParams describes a chat post
type PostChatParams struct {
	Code            string
	SenderID        model.PlayerID
	Body            string
	ClientMessageID string
	ExceptSender    bool
}

// PostChat appends a user chat entry, subject to per-player rate limiting
func (c *Controller) PostChat(ctx context.Context, params PostChatParams) (model.ChatEntry, error) {
	rm, err := c.registry.Get(params.Code)
	if err != nil {
		return model.ChatEntry{}, err
	}
	if !rm.IsMember(params.SenderID) {
		return model.ChatEntry{}, model.ErrNotInRoom
	}
	if !c.allowChat(params.SenderID) {
		return model.ChatEntry{}, model.ErrChatRateLimited
	}

	result, err := rm.PostChat(room.ChatRequest{
		SenderID:        params.SenderID,
		Body:            params.Body,
		ClientMessageID: params.ClientMessageID,
		ExceptSender:    params.ExceptSender,
	})
	if err != nil {
		return model.ChatEntry{}, err
	}

	c.touch(ctx, params.SenderID)
	return result.Entry, nil
}

// StartGame hands the room to the game simulation
func (c *Controller) StartGame(ctx context.Context, code string, playerID model.PlayerID) (model.GameStart, error) {
	rm, err := c.registry.Get(code)
	if err != nil {
		return model.GameStart{}, err
	}
	if !rm.IsMember(playerID) {
		return model.GameStart{}, model.ErrNotInRoom
	}
	start, err := rm.StartGame(playerID)
	if err != nil {
		return model.GameStart{}, err
	}
	c.touch(ctx, playerID)
	return start, nil
}

// FinishGame is the game simulation's completion callback
func (c *Controller) FinishGame(ctx context.Context, code string, playerID model.PlayerID) error {
	rm, err := c.registry.Get(code)
	if err != nil {
		return err
	}
	if err := rm.FinishGame(playerID); err != nil {
		return err
	}
	c.touch(ctx, playerID)
	return nil
}

// Snapshot returns the full state of a room
func (c *Controller) Snapshot(ctx context.Context, code string) (model.Snapshot, error) {
	rm, err := c.registry.Get(code)
	if err != nil {
		return model.Snapshot{}, err
	}
	return c.decorate(ctx, rm.Snapshot()), nil
}

// View returns the room as viewer may see it. A private room shows only its
// info to non-members.
func (c *Controller) View(ctx context.Context, code string, viewer model.PlayerID) (model.Snapshot, error) {
	snap, err := c.Snapshot(ctx, code)
	if err != nil {
		return model.Snapshot{}, err
	}
	if snap.Info.Private && snap.GetMember(viewer) == nil {
		return model.Snapshot{
			Info:       snap.Info,
			NoMessages: true,
			Version:    snap.Version,
			Restricted: true,
		}, nil
	}
	return snap, nil
}

// ChatHistory returns the retained chat log. noMessages is set when the log
// is empty so callers can render that state instead of an empty loop. The
// log of a private room is only readable by its members.
func (c *Controller) ChatHistory(ctx context.Context, code string, viewer model.PlayerID) (entries []model.ChatEntry, noMessages bool, err error) {
	rm, err := c.registry.Get(code)
	if err != nil {
		return nil, false, err
	}
	if rm.Private() && !rm.IsMember(viewer) {
		return nil, false, model.ErrNotInRoom
	}
	entries = rm.ChatLog()
	return entries, len(entries) == 0, nil
}

// ListRooms returns public rooms accepting players
func (c *Controller) ListRooms(ctx context.Context, limit int) []model.RoomSummary {
	if limit <= 0 || limit > c.cfg.ListLimit {
		limit = c.cfg.ListLimit
	}
	return c.registry.ListPublicWaiting(limit)
}

// Attach binds sink as the live connection of a player already in the room
func (c *Controller) Attach(ctx context.Context, code string, playerID model.PlayerID, sink room.Sink) error {
	rm, err := c.registry.Get(code)
	if err != nil {
		return err
	}
	if err := rm.Bind(playerID, sink); err != nil {
		return err
	}
	if err := c.directory.BindConn(ctx, playerID, sink.ID()); err != nil && !errors.Is(err, model.ErrPlayerNotFound) {
		c.logger.Error("failed to record connection",
			slog.String("player_id", string(playerID)),
			slog.String("error", err.Error()))
	}
	return nil
}

// Touch refreshes a bound player's liveness from transport-level activity
func (c *Controller) Touch(ctx context.Context, code model.RoomCode, playerID model.PlayerID) {
	c.touch(ctx, playerID)
	if rm, err := c.registry.Get(string(code)); err == nil {
		rm.Touch()
	}
}

// Broadcast delivers an event to every bound member of a room
func (c *Controller) Broadcast(ctx context.Context, code string, event model.Event, except model.PlayerID) error {
	rm, err := c.registry.Get(code)
	if err != nil {
		return err
	}
	rm.Broadcast(event, except)
	return nil
}

// RemovePlayer drops a player from the directory and from its room
func (c *Controller) RemovePlayer(ctx context.Context, playerID model.PlayerID) error {
	code := c.currentRoom(ctx, playerID)
	if code != "" {
		if rm, err := c.registry.Get(string(code)); err == nil {
			if _, err := c.leaveRoom(ctx, rm, playerID); err != nil && !errors.Is(err, model.ErrNotInRoom) {
				return err
			}
		}
	}

	// The leave usually removes the record; this covers players whose room is gone
	if err := c.directory.Remove(ctx, playerID); err != nil {
		return err
	}
	c.forgetLimiter(playerID)
	return nil
}

// EvictRoom removes a room from the registry, notifies its live connections
// and drops its members from the directory
func (c *Controller) EvictRoom(ctx context.Context, code model.RoomCode, reason string) bool {
	rm, ok := c.registry.Evict(code)
	if !ok {
		return false
	}
	c.closeRoom(ctx, rm, reason)
	return true
}

// Rooms returns the rooms currently held, oldest first
func (c *Controller) Rooms() []*room.Room {
	return c.registry.Rooms()
}

// Stats is the coordinator's current load against its caps
type Stats struct {
	Rooms    int
	MaxRooms int
	Players  int
}

// Stats reports current load. An error means the player store is unreachable.
func (c *Controller) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Rooms: c.registry.Count(), MaxRooms: c.registry.MaxRooms()}
	players, err := c.directory.Count(ctx)
	if err != nil {
		return stats, err
	}
	stats.Players = players
	return stats, nil
}

// RoomCount returns the number of rooms held
func (c *Controller) RoomCount() int {
	return c.registry.Count()
}

func (c *Controller) closeRoom(ctx context.Context, rm *room.Room, reason string) {
	c.registry.Evict(rm.Code())
	for _, m := range rm.Close(reason) {
		if c.currentRoom(ctx, m.PlayerID) != rm.Code() {
			continue
		}
		if err := c.directory.Remove(ctx, m.PlayerID); err != nil {
			c.logger.Error("failed to remove player of closed room",
				slog.String("room_code", string(rm.Code())),
				slog.String("player_id", string(m.PlayerID)),
				slog.String("error", err.Error()))
		}
		c.forgetLimiter(m.PlayerID)
	}
}

// leavePrevious removes a player from the room it was in before moving to current
func (c *Controller) leavePrevious(ctx context.Context, playerID model.PlayerID, previous, current model.RoomCode) {
	if previous == "" || previous == current {
		return
	}
	rm, err := c.registry.Get(string(previous))
	if err != nil {
		return
	}
	result, err := rm.Leave(playerID)
	if err != nil {
		if !errors.Is(err, model.ErrNotInRoom) {
			c.logger.Warn("failed to leave previous room",
				slog.String("room_code", string(previous)),
				slog.String("player_id", string(playerID)),
				slog.String("error", err.Error()))
		}
		return
	}
	if result.Closed {
		c.registry.Evict(previous)
	}
	if result.NewHostID != "" {
		c.syncHost(ctx, result.NewHostID, true)
	}
	c.logger.Info("player switched rooms",
		slog.String("player_id", string(playerID)),
		slog.String("from", string(previous)),
		slog.String("to", string(current)))
}

// currentRoom returns the directory's room association for a player
func (c *Controller) currentRoom(ctx context.Context, playerID model.PlayerID) model.RoomCode {
	player, err := c.directory.Get(ctx, playerID)
	if err != nil {
		return ""
	}
	return player.RoomCode
}

// decorate marks members as connected when they hold a live binding or
// have been seen within the liveness window
func (c *Controller) decorate(ctx context.Context, snap model.Snapshot) model.Snapshot {
	for i := range snap.Members {
		if !snap.Members[i].Connected {
			snap.Members[i].Connected = c.directory.IsAlive(ctx, snap.Members[i].PlayerID, c.cfg.LivenessWindow)
		}
	}
	return snap
}

func (c *Controller) syncHost(ctx context.Context, playerID model.PlayerID, isHost bool) {
	if err := c.directory.SetHost(ctx, playerID, isHost); err != nil && !errors.Is(err, model.ErrPlayerNotFound) {
		c.logger.Error("failed to record host flag",
			slog.String("player_id", string(playerID)),
			slog.String("error", err.Error()))
	}
}

func (c *Controller) touch(ctx context.Context, playerID model.PlayerID) {
	if err := c.directory.Touch(ctx, playerID); err != nil && !errors.Is(err, model.ErrPlayerNotFound) {
		c.logger.Error("failed to touch player",
			slog.String("player_id", string(playerID)),
			slog.String("error", err.Error()))
	}
}

func (c *Controller) allowChat(playerID model.PlayerID) bool {
	if c.cfg.ChatRate <= 0 {
		return true
	}

	c.limitersMu.Lock()
	limiter, ok := c.limiters[playerID]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(c.cfg.ChatRate), c.cfg.ChatBurst)
		c.limiters[playerID] = limiter
	}
	c.limitersMu.Unlock()

	return limiter.AllowN(c.clock.Now(), 1)
}

func (c *Controller) forgetLimiter(playerID model.PlayerID) {
	c.limitersMu.Lock()
	defer c.limitersMu.Unlock()
	delete(c.limiters, playerID)
}
