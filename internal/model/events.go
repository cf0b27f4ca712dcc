package model

import "time"

// EventType identifies the type of outbound event
type EventType string

const (
	// State sync
	EventRoomState   EventType = "roomState"
	EventRoomClosed  EventType = "roomClosed"
	EventGameStarted EventType = "gameStarted"
	EventGameEnded   EventType = "gameFinished"

	// Roster deltas
	EventPlayerJoined EventType = "playerJoined"
	EventPlayerLeft   EventType = "playerLeft"
	EventHostChanged  EventType = "hostChanged"

	// Chat
	EventChatMessage EventType = "chatMessage"

	// Unicast replies
	EventError EventType = "error"
	EventPong  EventType = "pong"
)

// Event is the base structure for all outbound notifications
type Event struct {
	Type      EventType
	Timestamp time.Time
	RoomCode  RoomCode
	PlayerID  PlayerID // The player who triggered or is affected
	Version   uint64   // Room state version the event was produced at
	Payload   any      // Type-specific data
}

// RoomStatePayload carries a full snapshot
type RoomStatePayload struct {
	Snapshot Snapshot
}

// PlayerJoinedPayload contains data for player joined events
type PlayerJoinedPayload struct {
	Member Member
}

// PlayerLeftPayload contains data for player left events
type PlayerLeftPayload struct {
	PlayerID    PlayerID
	DisplayName string
	NewHostID   PlayerID // Empty unless the host left
}

// HostChangedPayload contains data for host changed events
type HostChangedPayload struct {
	OldHostID PlayerID
	NewHostID PlayerID
}

// ChatMessagePayload contains a chat entry
type ChatMessagePayload struct {
	Entry ChatEntry
}

// GameStartedPayload contains the final roster
type GameStartedPayload struct {
	Roster []Member
}

// GameEndedPayload is sent when the game simulation reports completion
type GameEndedPayload struct {
	FinishedBy PlayerID
}

// RoomClosedPayload is sent to live connections of an evicted room
type RoomClosedPayload struct {
	Reason string
}

// ErrorPayload is unicast to the originating connection
type ErrorPayload struct {
	Code    string
	Message string
}
