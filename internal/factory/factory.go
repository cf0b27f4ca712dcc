package factory

import (
	"errors"
	"io"
	"log/slog"

	"github.com/mcoot/partylobby/internal/dependencies/clock"
	"github.com/mcoot/partylobby/internal/dependencies/random"
	"github.com/mcoot/partylobby/internal/services/connmux"
	"github.com/mcoot/partylobby/internal/services/directory"
	"github.com/mcoot/partylobby/internal/services/janitor"
	"github.com/mcoot/partylobby/internal/services/lobby"
	"github.com/mcoot/partylobby/internal/services/registry"
	"github.com/mcoot/partylobby/internal/storage"
	"github.com/mcoot/partylobby/internal/storage/memory"
	redisstorage "github.com/mcoot/partylobby/internal/storage/redis"
	"github.com/mcoot/partylobby/internal/transport/ws"
	"github.com/mcoot/partylobby/internal/web/sse"
)

// Storage type constants
const (
	StorageTypeMemory = "memory"
	StorageTypeRedis  = "redis"
)

// App contains all wired application components
type App struct {
	// Storage
	Storage storage.PlayerStore

	// External dependencies
	Clock  clock.Clock
	Random random.Random

	// Services
	Directory       *directory.Service
	Registry        *registry.Registry
	LobbyController *lobby.Controller
	Multiplexer     *connmux.Multiplexer
	Janitor         *janitor.Janitor

	// Transports
	WebSocket *ws.Handler
	Streamer  *sse.Streamer

	closers []io.Closer
}

// Config holds configuration for the application factory. Zero-valued
// sections fall back to their package defaults.
type Config struct {
	// Logger is the application logger (optional)
	// If nil, a no-op logger is used
	Logger *slog.Logger
	// StorageType selects the directory backend ("memory" or "redis")
	// If empty, defaults to "memory"
	StorageType string
	// RedisConfig holds Redis connection settings (required if StorageType is "redis")
	RedisConfig *redisstorage.Config

	Registry  registry.Config
	Lobby     lobby.Config
	Janitor   janitor.Config
	WebSocket ws.Config
}

// New creates a new application with all dependencies wired
func New(cfg Config) (*App, error) {
	// Use no-op logger if not provided
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	// Create storage based on type
	var store storage.PlayerStore
	var closers []io.Closer
	storageType := cfg.StorageType
	if storageType == "" {
		storageType = StorageTypeMemory
	}

	switch storageType {
	case StorageTypeMemory:
		store = memory.New()
	case StorageTypeRedis:
		if cfg.RedisConfig == nil {
			return nil, errors.New("RedisConfig required when StorageType is redis")
		}
		redisStore, err := redisstorage.New(*cfg.RedisConfig)
		if err != nil {
			return nil, err
		}
		store = redisStore
		closers = append(closers, redisStore)
	default:
		return nil, errors.New("invalid StorageType: must be 'memory' or 'redis'")
	}

	app := newWithDependencies(store, clock.New(), random.New(), withDefaults(cfg), logger)
	app.closers = closers
	return app, nil
}

// withDefaults fills zero-valued sections with package defaults
func withDefaults(cfg Config) Config {
	if cfg.Registry.MaxRooms == 0 && cfg.Registry.CodeLength == 0 {
		cfg.Registry = registry.DefaultConfig()
	}
	if cfg.Lobby == (lobby.Config{}) {
		cfg.Lobby = lobby.DefaultConfig()
	}
	if cfg.Janitor == (janitor.Config{}) {
		cfg.Janitor = janitor.DefaultConfig()
	}
	if cfg.WebSocket == (ws.Config{}) {
		cfg.WebSocket = ws.DefaultConfig()
	}
	return cfg
}

// newWithDependencies creates an App with the given dependencies (useful for testing)
func newWithDependencies(store storage.PlayerStore, clk clock.Clock, rnd random.Random, cfg Config, logger *slog.Logger) *App {
	dir := directory.New(store, clk, rnd, logger)
	reg := registry.New(cfg.Registry, clk, rnd, logger)
	lobbyController := lobby.NewController(reg, dir, clk, rnd, logger, cfg.Lobby)
	multiplexer := connmux.New(lobbyController, clk, logger)

	return &App{
		Storage:         store,
		Clock:           clk,
		Random:          rnd,
		Directory:       dir,
		Registry:        reg,
		LobbyController: lobbyController,
		Multiplexer:     multiplexer,
		Janitor:         janitor.New(lobbyController, dir, clk, logger, cfg.Janitor),
		WebSocket:       ws.NewHandler(multiplexer, random.New(), logger, cfg.WebSocket),
		Streamer:        sse.NewStreamer(multiplexer, random.New(), logger),
	}
}

// Close ends open push streams and releases storage connections
func (a *App) Close() error {
	a.WebSocket.CloseAll()
	a.Streamer.Close()

	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
