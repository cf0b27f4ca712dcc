package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	cfg    *Config
	client *Client
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cfg = DefaultConfig()

	rootCmd := &cobra.Command{
		Use:   "lobbyctl",
		Short: "CLI tool for the party lobby API",
		Long: `lobbyctl is a CLI tool for interacting with the party lobby server.

It covers creating, joining and leaving rooms, chat, starting games and
watching a room's live events over a WebSocket.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load player id from file if not provided via flag/env
			if err := cfg.LoadPlayer(); err != nil {
				return err
			}

			// Create HTTP client
			client = NewClient(cfg.ServerURL, cfg.PlayerID)
			return nil
		},
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "Server URL (env: LOBBY_SERVER)")
	rootCmd.PersistentFlags().StringVar(&cfg.PlayerID, "player", cfg.PlayerID, "Player id (env: LOBBY_PLAYER)")
	rootCmd.PersistentFlags().StringVar(&cfg.PlayerFile, "player-file", cfg.PlayerFile, "Player id file path (env: LOBBY_PLAYER_FILE)")
	rootCmd.PersistentFlags().StringVarP(&cfg.Output, "output", "o", cfg.Output, "Output format: text, json")

	// Add subcommands
	rootCmd.AddCommand(newRoomCmd())
	rootCmd.AddCommand(newHeartbeatCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newHealthCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
