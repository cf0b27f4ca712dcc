package cli

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mcoot/partylobby/internal/api/request"
	"github.com/mcoot/partylobby/internal/api/response"
)

func newRoomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room",
		Short: "Room management commands",
	}

	cmd.AddCommand(newRoomCreateCmd())
	cmd.AddCommand(newRoomListCmd())
	cmd.AddCommand(newRoomGetCmd())
	cmd.AddCommand(newRoomJoinCmd())
	cmd.AddCommand(newRoomLeaveCmd())
	cmd.AddCommand(newRoomChatCmd())
	cmd.AddCommand(newRoomHistoryCmd())
	cmd.AddCommand(newRoomStartCmd())
	cmd.AddCommand(newRoomFinishCmd())

	return cmd
}

func roomPath(code string, suffix ...string) string {
	path := "/api/v1/rooms/" + url.PathEscape(code)
	for _, s := range suffix {
		path += "/" + s
	}
	return path
}

// rememberPlayer persists an id the server issued so later commands reuse it
func rememberPlayer(playerID string) error {
	if cfg.PlayerID != "" || playerID == "" {
		return nil
	}
	client.SetPlayer(playerID)
	return cfg.SavePlayer(playerID)
}

func requirePlayer() error {
	if cfg.PlayerID == "" {
		return errors.New("no player id: pass --player or create/join a room first")
	}
	return nil
}

func newRoomCreateCmd() *cobra.Command {
	var req request.CreateRoomRequest

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new room with yourself as host",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.RoomStateResponse

			if err := client.Post(cmd.Context(), "/api/v1/rooms", req, &result); err != nil {
				return err
			}
			if err := rememberPlayer(result.PlayerID); err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.DisplayName, "name", "", "Your display name (required)")
	cmd.Flags().StringVar(&req.Name, "room-name", "", "Room name")
	cmd.Flags().IntVar(&req.MinPlayers, "min-players", 0, "Players needed to start (default: server default)")
	cmd.Flags().IntVar(&req.MaxPlayers, "max-players", 0, "Room capacity (default: server default)")
	cmd.Flags().BoolVar(&req.Private, "private", false, "Hide the room from listings")
	cmd.Flags().StringVar(&req.Secret, "secret", "", "Secret required to join")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newRoomListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List public rooms waiting for players",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/rooms"
			if limit > 0 {
				path += "?limit=" + strconv.Itoa(limit)
			}

			var result response.RoomListResponse

			if err := client.Get(cmd.Context(), path, &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.Print(result)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum rooms to list")

	return cmd
}

func newRoomGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <code>",
		Short: "Get room details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.RoomStateResponse

			if err := client.Get(cmd.Context(), roomPath(args[0]), &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.Print(result)
			return nil
		},
	}
}

func newRoomJoinCmd() *cobra.Command {
	var req request.JoinRoomRequest

	cmd := &cobra.Command{
		Use:   "join <code>",
		Short: "Join a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.RoomStateResponse

			if err := client.Post(cmd.Context(), roomPath(args[0], "join"), req, &result); err != nil {
				return err
			}
			if err := rememberPlayer(result.PlayerID); err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.DisplayName, "name", "", "Your display name (required)")
	cmd.Flags().StringVar(&req.Secret, "secret", "", "Room secret")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newRoomLeaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leave <code>",
		Short: "Leave a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePlayer(); err != nil {
				return err
			}

			var result response.LeaveResponse

			if err := client.Post(cmd.Context(), roomPath(args[0], "leave"), nil, &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.Print(result)
			return nil
		},
	}
}

func newRoomChatCmd() *cobra.Command {
	var clientMessageID string

	cmd := &cobra.Command{
		Use:   "chat <code> <message>",
		Short: "Post a chat message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePlayer(); err != nil {
				return err
			}

			req := request.PostChatRequest{Body: args[1], ClientMessageID: clientMessageID}
			var result response.ChatMessageResponse

			if err := client.Post(cmd.Context(), roomPath(args[0], "chat"), req, &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&clientMessageID, "id", "", "Client message id for safe retries")

	return cmd
}

func newRoomHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <code>",
		Short: "Show a room's chat history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result response.ChatHistoryResponse

			if err := client.Get(cmd.Context(), roomPath(args[0], "chat"), &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.Print(result)
			return nil
		},
	}
}

func newRoomStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <code>",
		Short: "Start the game (host only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePlayer(); err != nil {
				return err
			}

			var result response.GameStartResponse

			if err := client.Post(cmd.Context(), roomPath(args[0], "game"), nil, &result); err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.Print(result)
			return nil
		},
	}
}

func newRoomFinishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finish <code>",
		Short: "Finish the game and return the room to waiting (host only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePlayer(); err != nil {
				return err
			}

			if err := client.Delete(cmd.Context(), roomPath(args[0], "game")); err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.PrintMessage(fmt.Sprintf("Game in room %s finished", args[0]))
			return nil
		},
	}
}

func newHeartbeatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "heartbeat <code>",
		Short: "Mark yourself as active in a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePlayer(); err != nil {
				return err
			}

			if err := client.Post(cmd.Context(), roomPath(args[0], "heartbeat"), nil, nil); err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.PrintMessage("ok")
			return nil
		},
	}
}
