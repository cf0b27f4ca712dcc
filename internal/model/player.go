package model

import "time"

// PlayerID uniquely identifies a player across the system.
// It is an opaque, caller-supplied string; no identity proofing is done.
type PlayerID string

// Player is the directory record for a participant
type Player struct {
	ID          PlayerID
	DisplayName string
	RoomCode    RoomCode // Room the player is currently associated with
	IsHost      bool     // Host flag as last reported by the room
	ConnID      string   // Live connection handle, empty for request/response clients
	LastSeen    time.Time
	CreatedAt   time.Time
}

// Member is a player's entry in a room roster
type Member struct {
	PlayerID    PlayerID
	DisplayName string
	IsHost      bool
	Connected   bool
	JoinedAt    time.Time
}
