package response

import (
	"time"

	"github.com/mcoot/partylobby/internal/model"
	"github.com/mcoot/partylobby/internal/protocol"
)

// RoomStateResponse is returned by create, join and snapshot calls.
// PlayerID tells a new caller which identity it was given.
type RoomStateResponse struct {
	PlayerID    string             `json:"player_id,omitempty"`
	Reconnected bool               `json:"reconnected,omitempty"`
	State       protocol.RoomState `json:"state"`
}

// RoomStateFromSnapshot builds a RoomStateResponse
func RoomStateFromSnapshot(playerID model.PlayerID, reconnected bool, snap model.Snapshot) RoomStateResponse {
	return RoomStateResponse{
		PlayerID:    string(playerID),
		Reconnected: reconnected,
		State:       protocol.FromSnapshot(snap),
	}
}

// RoomListResponse lists public rooms accepting players
type RoomListResponse struct {
	Rooms []protocol.RoomSummary `json:"rooms"`
}

// RoomListFromModel converts summaries
func RoomListFromModel(summaries []model.RoomSummary) RoomListResponse {
	rooms := make([]protocol.RoomSummary, len(summaries))
	for i, s := range summaries {
		rooms[i] = protocol.FromRoomSummary(s)
	}
	return RoomListResponse{Rooms: rooms}
}

// LeaveResponse describes the room after a leave
type LeaveResponse struct {
	NewHostID  string `json:"new_host_id,omitempty"`
	RoomClosed bool   `json:"room_closed"`
}

// ChatHistoryResponse is the retained chat log
type ChatHistoryResponse struct {
	Messages   []protocol.ChatEntry `json:"messages"`
	NoMessages bool                 `json:"no_messages"`
}

// ChatHistoryFromModel converts a chat log
func ChatHistoryFromModel(entries []model.ChatEntry, noMessages bool) ChatHistoryResponse {
	return ChatHistoryResponse{
		Messages:   protocol.FromChatEntries(entries),
		NoMessages: noMessages,
	}
}

// ChatMessageResponse is the accepted chat entry
type ChatMessageResponse struct {
	Message protocol.ChatEntry `json:"message"`
}

// ChatMessageFromModel converts an accepted entry
func ChatMessageFromModel(entry model.ChatEntry) ChatMessageResponse {
	return ChatMessageResponse{Message: protocol.FromChatEntry(entry)}
}

// GameStartResponse is the roster handed to the game simulation
type GameStartResponse struct {
	RoomCode  string            `json:"room_code"`
	Roster    []protocol.Member `json:"roster"`
	StartedAt time.Time         `json:"started_at"`
}

// GameStartFromModel converts a GameStart
func GameStartFromModel(g model.GameStart) GameStartResponse {
	return GameStartResponse{
		RoomCode:  string(g.RoomCode),
		Roster:    protocol.FromMembers(g.Roster),
		StartedAt: g.StartedAt,
	}
}

// HealthResponse reports liveness and load
type HealthResponse struct {
	Status      string `json:"status"`
	Rooms       int    `json:"rooms"`
	MaxRooms    int    `json:"max_rooms"`
	Players     int    `json:"players"`
	Connections int    `json:"connections"`
}
