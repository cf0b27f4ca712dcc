package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/mcoot/partylobby/internal/dependencies/clock"
	"github.com/mcoot/partylobby/internal/dependencies/random"
	"github.com/mcoot/partylobby/internal/model"
	"github.com/mcoot/partylobby/internal/services/room"
)

const (
	// RoomCodeAlphabet is the characters used in room codes (avoid confusing chars)
	RoomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	// MaxRoomNameLength is the longest accepted room name, in runes
	MaxRoomNameLength = 40

	// Administrative player bounds applied at creation
	MinPlayersFloor   = 4
	MinPlayersCeiling = 8
	MaxPlayersFloor   = 4
	MaxPlayersCeiling = 10
)

// Config holds registry limits
type Config struct {
	MaxRooms         int
	CodeLength       int
	CodeAttempts     int // Collision retries before giving up
	SecretCost       int // bcrypt cost for room secrets
	DefaultMinPlayer int
	DefaultMaxPlayer int
	Room             room.Config
}

// DefaultConfig returns the default registry limits
func DefaultConfig() Config {
	return Config{
		MaxRooms:         500,
		CodeLength:       6,
		CodeAttempts:     32,
		SecretCost:       bcrypt.DefaultCost,
		DefaultMinPlayer: MinPlayersFloor,
		DefaultMaxPlayer: MaxPlayersCeiling,
		Room:             room.DefaultConfig(),
	}
}

// Registry owns the mapping from room code to Room
type Registry struct {
	mu    sync.RWMutex
	rooms map[model.RoomCode]*room.Room

	cfg        Config
	clock      clock.Clock
	random     random.Random
	logger     *slog.Logger
	roomLogger *slog.Logger
}

// New creates an empty registry
func New(cfg Config, clock clock.Clock, random random.Random, logger *slog.Logger) *Registry {
	return &Registry{
		rooms:      make(map[model.RoomCode]*room.Room),
		cfg:        cfg,
		clock:      clock,
		random:     random,
		logger:     logger.With(slog.String("component", "registry")),
		roomLogger: logger.With(slog.String("component", "room")),
	}
}

// CreateParams describes a new room
type CreateParams struct {
	Name       string
	MinPlayers int // Zero selects the default
	MaxPlayers int // Zero selects the default
	Private    bool
	Secret     string // Only honoured for private rooms
	HostID     model.PlayerID
	HostName   string
}

// Create allocates a unique code and creates a room with the host seated
func (r *Registry) Create(params CreateParams) (*room.Room, error) {
	hostName := strings.TrimSpace(params.HostName)
	if hostName == "" {
		return nil, model.ErrEmptyName
	}
	if utf8.RuneCountInString(hostName) > room.MaxDisplayNameLength {
		return nil, model.ErrNameTooLong
	}
	if params.HostID == "" {
		return nil, fmt.Errorf("%w: host id is required", model.ErrInvalidInput)
	}

	name := strings.TrimSpace(params.Name)
	if name == "" {
		name = hostName + "'s room"
	}
	if utf8.RuneCountInString(name) > MaxRoomNameLength {
		return nil, model.ErrRoomNameTooLong
	}

	minPlayers, maxPlayers := r.clampBounds(params.MinPlayers, params.MaxPlayers)

	var secretHash []byte
	if params.Private && params.Secret != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(params.Secret), r.cfg.SecretCost)
		if err != nil {
			return nil, fmt.Errorf("hash room secret: %w", err)
		}
		secretHash = hash
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg.MaxRooms > 0 && len(r.rooms) >= r.cfg.MaxRooms {
		return nil, model.ErrTooManyRooms
	}

	code, err := r.allocateCode()
	if err != nil {
		return nil, err
	}

	rm := room.New(room.Params{
		Code:       code,
		Name:       name,
		MinPlayers: minPlayers,
		MaxPlayers: maxPlayers,
		Private:    params.Private,
		SecretHash: secretHash,
		HostID:     params.HostID,
		HostName:   hostName,
	}, r.cfg.Room, r.clock, r.random, r.roomLogger)
	r.rooms[code] = rm

	r.logger.Info("room created",
		slog.String("room_code", string(code)),
		slog.String("host_id", string(params.HostID)),
		slog.Int("min_players", minPlayers),
		slog.Int("max_players", maxPlayers),
		slog.Bool("private", params.Private),
		slog.Int("room_count", len(r.rooms)))

	return rm, nil
}

// allocateCode generates a code not already in use. Requires mu.
func (r *Registry) allocateCode() (model.RoomCode, error) {
	for attempt := 0; attempt < r.cfg.CodeAttempts; attempt++ {
		code := model.NormalizeRoomCode(r.random.String(r.cfg.CodeLength, RoomCodeAlphabet))
		if code == "" {
			continue
		}
		if _, exists := r.rooms[code]; !exists {
			return code, nil
		}
	}
	r.logger.Error("room code space exhausted", slog.Int("attempts", r.cfg.CodeAttempts))
	return "", model.ErrCodeSpaceExhausted
}

// clampBounds fits requested bounds into the administrative range.
// Malformed input is corrected rather than rejected.
func (r *Registry) clampBounds(minPlayers, maxPlayers int) (int, int) {
	if minPlayers <= 0 {
		minPlayers = r.cfg.DefaultMinPlayer
	}
	if maxPlayers <= 0 {
		maxPlayers = r.cfg.DefaultMaxPlayer
	}
	minPlayers = clamp(minPlayers, MinPlayersFloor, MinPlayersCeiling)
	maxPlayers = clamp(maxPlayers, MaxPlayersFloor, MaxPlayersCeiling)
	if minPlayers > maxPlayers {
		minPlayers = maxPlayers
	}
	return minPlayers, maxPlayers
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// Get looks up a room by code. Input is trimmed and case-normalized.
// Closed rooms are treated as absent.
func (r *Registry) Get(code string) (*room.Room, error) {
	r.mu.RLock()
	rm, ok := r.rooms[model.NormalizeRoomCode(code)]
	r.mu.RUnlock()

	if !ok || rm.IsClosed() {
		return nil, model.ErrRoomNotFound
	}
	return rm, nil
}

// ListPublicWaiting returns summaries of public rooms still accepting
// players, oldest first, truncated to limit
func (r *Registry) ListPublicWaiting(limit int) []model.RoomSummary {
	summaries := make([]model.RoomSummary, 0)
	for _, rm := range r.Rooms() {
		if rm.Private() {
			continue
		}
		summary := rm.Summary()
		if summary.Status != model.RoomStatusWaiting || summary.PlayerCount == 0 {
			continue
		}
		summaries = append(summaries, summary)
	}

	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries
}

// Evict removes a room. Evicting an unknown code is a no-op.
func (r *Registry) Evict(code model.RoomCode) (*room.Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok {
		return nil, false
	}
	delete(r.rooms, code)

	r.logger.Info("room evicted",
		slog.String("room_code", string(code)),
		slog.Int("room_count", len(r.rooms)))
	return rm, true
}

// Rooms returns the current rooms, oldest first
func (r *Registry) Rooms() []*room.Room {
	r.mu.RLock()
	rooms := make([]*room.Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt().Equal(rooms[j].CreatedAt()) {
			return rooms[i].Code() < rooms[j].Code()
		}
		return rooms[i].CreatedAt().Before(rooms[j].CreatedAt())
	})
	return rooms
}

// Count returns the number of rooms held
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// MaxRooms returns the configured room cap
func (r *Registry) MaxRooms() int {
	return r.cfg.MaxRooms
}
