package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mcoot/partylobby/internal/api"
	"github.com/mcoot/partylobby/internal/config"
	"github.com/mcoot/partylobby/internal/factory"
	"github.com/mcoot/partylobby/internal/services/janitor"
	"github.com/mcoot/partylobby/internal/services/lobby"
	"github.com/mcoot/partylobby/internal/services/registry"
	"github.com/mcoot/partylobby/internal/services/room"
	redisstorage "github.com/mcoot/partylobby/internal/storage/redis"
	"github.com/mcoot/partylobby/internal/transport/ws"
)

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:          "partylobby",
		Short:        "Party lobby room and connection coordinator",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("LOBBY_CONFIG"), "YAML config file (env: LOBBY_CONFIG)")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Set up logging with JSON output
	level, _ := config.ParseLevel(cfg.Log.Level)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Create application factory
	app, err := factory.New(factoryConfig(cfg, logger))
	if err != nil {
		logger.Error("failed to create application", slog.String("error", err.Error()))
		return err
	}

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		Logger:          logger,
		LobbyController: app.LobbyController,
		Multiplexer:     app.Multiplexer,
		Streamer:        app.Streamer,
		WebSocket:       app.WebSocket,
	})

	// Create server
	server := api.NewServer(router, api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)
	server.OnShutdown(app.WebSocket.CloseAll)
	server.OnShutdown(app.Streamer.Close)
	if err := server.Listen(); err != nil {
		logger.Error("failed to bind", slog.String("error", err.Error()))
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)
	g.Go(func() error {
		return app.Janitor.Run(gctx)
	})

	// Handle graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		// Shutdown hooks end the push streams; storage closes after
		shutdownErr := server.Shutdown(context.Background())
		closeErr := app.Close()
		return errors.Join(shutdownErr, closeErr)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("server stopped")
	return nil
}

// factoryConfig maps the loaded configuration onto the application factory
func factoryConfig(cfg *config.Config, logger *slog.Logger) factory.Config {
	regCfg := registry.DefaultConfig()
	regCfg.MaxRooms = cfg.Lobby.MaxRooms
	regCfg.CodeLength = cfg.Lobby.RoomCodeLength
	regCfg.SecretCost = cfg.Lobby.SecretCost
	regCfg.Room = room.Config{
		ChatLogLimit:  cfg.Lobby.ChatLogLimit,
		ChatMaxLength: cfg.Lobby.ChatMaxLength,
	}

	wsCfg := ws.DefaultConfig()
	wsCfg.ReadLimit = cfg.WebSocket.ReadLimit
	wsCfg.PingPeriod = cfg.WebSocket.PingPeriod
	wsCfg.SendBuffer = cfg.WebSocket.SendBuffer

	fc := factory.Config{
		Logger:      logger,
		StorageType: cfg.Storage.Type,
		Registry:    regCfg,
		Lobby: lobby.Config{
			LivenessWindow: cfg.Lobby.LivenessWindow,
			ChatRate:       cfg.Lobby.ChatRate,
			ChatBurst:      cfg.Lobby.ChatBurst,
			ListLimit:      cfg.Lobby.ListLimit,
		},
		Janitor: janitor.Config{
			Interval:     cfg.Lobby.JanitorInterval,
			StaleTimeout: cfg.Lobby.StaleTimeout,
			MaxRooms:     cfg.Lobby.MaxRooms,
		},
		WebSocket: wsCfg,
	}

	if cfg.Storage.Type == factory.StorageTypeRedis {
		fc.RedisConfig = &redisstorage.Config{
			URL:          cfg.Storage.Redis.URL,
			PoolSize:     cfg.Storage.Redis.PoolSize,
			MinIdleConns: cfg.Storage.Redis.MinIdleConns,
			PlayerTTL:    cfg.Storage.Redis.PlayerTTL,
		}
	}

	return fc
}
