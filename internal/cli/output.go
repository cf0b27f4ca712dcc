package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mcoot/partylobby/internal/api/response"
	"github.com/mcoot/partylobby/internal/protocol"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
	w      io.Writer
}

// NewOutput creates a new Output formatter
func NewOutput(format string, w io.Writer) *Output {
	return &Output{format: format, w: w}
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"message": msg})
		fmt.Fprintln(o.w, string(data))
	} else {
		fmt.Fprintln(o.w, msg)
	}
}

// PrintFrame outputs one pushed event. JSON output is one frame per line.
func (o *Output) PrintFrame(frame *protocol.Frame) {
	if o.format == "json" {
		data, _ := json.Marshal(frame)
		fmt.Fprintln(o.w, string(data))
		return
	}

	timestamp := frame.Timestamp.Local().Format("15:04:05")
	// Truncate payload if it's too long for display
	payload := string(frame.Payload)
	if len(payload) > 120 {
		payload = payload[:120] + "..."
	}
	fmt.Fprintf(o.w, "[%s] %s v%d %s\n", timestamp, frame.Type, frame.Version, payload)
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case response.RoomStateResponse:
		o.printRoomState(v)
	case response.RoomListResponse:
		o.printRoomList(v)
	case response.LeaveResponse:
		o.printLeave(v)
	case response.ChatHistoryResponse:
		o.printChatHistory(v)
	case response.ChatMessageResponse:
		o.printChatEntry(v.Message)
	case response.GameStartResponse:
		o.printGameStart(v)
	case response.HealthResponse:
		fmt.Fprintf(o.w, "Status: %s\nRooms: %d/%d\nPlayers: %d\nConnections: %d\n", v.Status, v.Rooms, v.MaxRooms, v.Players, v.Connections)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

func (o *Output) printRoomState(r response.RoomStateResponse) {
	if r.PlayerID != "" {
		fmt.Fprintf(o.w, "Player: %s\n", r.PlayerID)
	}
	if r.Reconnected {
		fmt.Fprintln(o.w, "Reconnected")
	}

	room := r.State.Room
	visibility := "public"
	if room.Private {
		visibility = "private"
	}
	fmt.Fprintf(o.w, "Room: %s", room.Code)
	if room.Name != "" {
		fmt.Fprintf(o.w, " (%s)", room.Name)
	}
	fmt.Fprintln(o.w)
	fmt.Fprintf(o.w, "Status: %s, %s\n", room.Status, visibility)
	fmt.Fprintf(o.w, "Players: %d (min %d, max %d)\n", room.PlayerCount, room.MinPlayers, room.MaxPlayers)
	o.printMembers(r.State.Members)
}

func (o *Output) printMembers(members []protocol.Member) {
	for _, m := range members {
		var flags []string
		if m.IsHost {
			flags = append(flags, "host")
		}
		if !m.Connected {
			flags = append(flags, "away")
		}
		suffix := ""
		if len(flags) > 0 {
			suffix = " [" + strings.Join(flags, ", ") + "]"
		}
		fmt.Fprintf(o.w, "  - %s (%s)%s\n", m.DisplayName, m.PlayerID, suffix)
	}
}

func (o *Output) printRoomList(l response.RoomListResponse) {
	if len(l.Rooms) == 0 {
		fmt.Fprintln(o.w, "No open rooms")
		return
	}
	for _, r := range l.Rooms {
		fmt.Fprintf(o.w, "%s  %-20s %d/%d  %s\n", r.Code, r.Name, r.PlayerCount, r.MaxPlayers, r.Status)
	}
}

func (o *Output) printLeave(l response.LeaveResponse) {
	switch {
	case l.RoomClosed:
		fmt.Fprintln(o.w, "Left room; room closed")
	case l.NewHostID != "":
		fmt.Fprintf(o.w, "Left room; %s is now host\n", l.NewHostID)
	default:
		fmt.Fprintln(o.w, "Left room")
	}
}

func (o *Output) printChatHistory(h response.ChatHistoryResponse) {
	if h.NoMessages {
		fmt.Fprintln(o.w, "No messages")
		return
	}
	for _, e := range h.Messages {
		o.printChatEntry(e)
	}
}

func (o *Output) printChatEntry(e protocol.ChatEntry) {
	fmt.Fprintf(o.w, "[%s] %s: %s\n", e.SentAt.Local().Format("15:04:05"), e.Sender, e.Body)
}

func (o *Output) printGameStart(g response.GameStartResponse) {
	fmt.Fprintf(o.w, "Game started in room %s with %d players\n", g.RoomCode, len(g.Roster))
	o.printMembers(g.Roster)
}
