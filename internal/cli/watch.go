package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/mcoot/partylobby/internal/api/response"
	"github.com/mcoot/partylobby/internal/model"
	"github.com/mcoot/partylobby/internal/periodic"
	"github.com/mcoot/partylobby/internal/protocol"
)

// watchOptions configures a watch session
type watchOptions struct {
	serverURL         string
	playerID          string
	code              string
	name              string
	secret            string
	heartbeatInterval time.Duration
	maxBackoff        time.Duration
}

func newWatchCmd() *cobra.Command {
	opts := watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch <code>",
		Short: "Join a room over WebSocket and stream its events",
		Long: `Join the room over a WebSocket and print every event pushed to you:
roomState, playerJoined, playerLeft, hostChanged, chatMessage,
gameStarted, gameFinished and roomClosed.

The connection is re-established with backoff if it drops. Rejoining with
the same player id reclaims the seat. Press Ctrl+C to disconnect.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.code = args[0]
			if cfg.PlayerID == "" {
				if err := cfg.SavePlayer(uuid.NewString()); err != nil {
					return err
				}
			}
			if opts.name == "" {
				name, err := seatedName(cmd.Context(), opts.code, cfg.PlayerID)
				if err != nil {
					return err
				}
				opts.name = name
			}

			opts.serverURL = cfg.ServerURL
			opts.playerID = cfg.PlayerID
			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			return watchRoom(cmd.Context(), out, opts)
		},
	}

	cmd.Flags().StringVar(&opts.name, "name", "", "Display name (default: your name if already seated)")
	cmd.Flags().StringVar(&opts.secret, "secret", "", "Room secret")
	cmd.Flags().DurationVar(&opts.heartbeatInterval, "heartbeat", 15*time.Second, "Heartbeat interval")
	cmd.Flags().DurationVar(&opts.maxBackoff, "max-backoff", 30*time.Second, "Maximum wait between reconnects")

	return cmd
}

// seatedName finds the caller's display name in a room they already sit in
func seatedName(ctx context.Context, code, playerID string) (string, error) {
	var state response.RoomStateResponse
	if err := client.Get(ctx, roomPath(code), &state); err != nil {
		return "", err
	}
	for _, m := range state.State.Members {
		if m.PlayerID == playerID {
			return m.DisplayName, nil
		}
	}
	return "", errors.New("not seated in this room: pass --name to join")
}

// joinRejectedError is a refusal the server sent in reply to joinRoom.
// Retrying won't help.
type joinRejectedError struct {
	payload protocol.Error
}

func (e *joinRejectedError) Error() string {
	return fmt.Sprintf("join rejected: %s (%s)", e.payload.Message, e.payload.Code)
}

// errRoomClosed ends a watch without reconnecting
var errRoomClosed = errors.New("room closed")

// watchRoom streams the room's events, reconnecting until ctx is cancelled,
// the join is refused or the room closes
func watchRoom(ctx context.Context, out *Output, opts watchOptions) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = max(opts.maxBackoff, time.Second)
	policy.MaxElapsedTime = 0 // Until cancelled

	err := backoff.Retry(func() error {
		err := watchOnce(ctx, out, opts)
		var rejected *joinRejectedError
		switch {
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case errors.As(err, &rejected):
			return backoff.Permanent(err)
		case errors.Is(err, errRoomClosed):
			return nil
		}
		out.PrintMessage(fmt.Sprintf("Disconnected (%v), reconnecting", err))
		return err
	}, backoff.WithContext(policy, ctx))
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// watchOnce runs a single connection until it fails
func watchOnce(ctx context.Context, out *Output, opts watchOptions) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL(opts.serverURL), nil)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return fmt.Errorf("dial: HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	join, err := protocol.EncodeMessage(protocol.JoinRoom{
		RoomCode:   opts.code,
		PlayerID:   opts.playerID,
		PlayerName: opts.name,
		Secret:     opts.secret,
	})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, join); err != nil {
		return fmt.Errorf("send join: %w", err)
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unblock the read loop on cancellation
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	heartbeat, err := protocol.EncodeMessage(protocol.Heartbeat{})
	if err != nil {
		return err
	}
	go func() {
		_ = periodic.Run(connCtx, opts.heartbeatInterval, func(context.Context) {
			_ = conn.WriteMessage(websocket.TextMessage, heartbeat)
		})
	}()

	joined := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			continue
		}

		switch model.EventType(frame.Type) {
		case model.EventPong:
			continue
		case model.EventError:
			if !joined {
				var payload protocol.Error
				_ = json.Unmarshal(frame.Payload, &payload)
				return &joinRejectedError{payload: payload}
			}
		case model.EventRoomState:
			joined = true
		}

		out.PrintFrame(frame)

		if model.EventType(frame.Type) == model.EventRoomClosed {
			return errRoomClosed
		}
	}
}

// wsURL maps the server's HTTP base URL to its WebSocket endpoint
func wsURL(serverURL string) string {
	base := strings.TrimSuffix(serverURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/api/v1/ws"
}
