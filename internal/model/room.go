package model

import (
	"strings"
	"time"
)

// RoomCode is a short human-typable identifier for joining rooms
type RoomCode string

// NormalizeRoomCode trims and upper-cases user input so codes match
// regardless of how they were typed
func NormalizeRoomCode(s string) RoomCode {
	return RoomCode(strings.ToUpper(strings.TrimSpace(s)))
}

// RoomStatus represents the phase of a room
type RoomStatus string

const (
	RoomStatusWaiting  RoomStatus = "waiting"  // Gathering players, joins allowed
	RoomStatusPlaying  RoomStatus = "playing"  // Game handed to the simulation
	RoomStatusFinished RoomStatus = "finished" // Terminal
)

// RoomInfo holds the descriptive attributes of a room
type RoomInfo struct {
	Code         RoomCode
	Name         string
	MinPlayers   int
	MaxPlayers   int
	Private      bool
	Status       RoomStatus
	HostID       PlayerID
	PlayerCount  int
	CreatedAt    time.Time
	LastActivity time.Time
}

// RoomSummary is the listing view of a public room
type RoomSummary struct {
	Code        RoomCode
	Name        string
	PlayerCount int
	MinPlayers  int
	MaxPlayers  int
	Status      RoomStatus
	CreatedAt   time.Time
}

// Snapshot is the full state of a room, sent wholesale rather than as a delta
type Snapshot struct {
	Info       RoomInfo
	Members    []Member // Join order
	Chat       []ChatEntry
	NoMessages bool // True when the chat log is empty
	Version    uint64

	// Restricted is set when roster and chat were withheld from a viewer
	// who is not a member of a private room
	Restricted bool
}

// GetMember returns the roster entry for the given player, or nil
func (s *Snapshot) GetMember(playerID PlayerID) *Member {
	for i := range s.Members {
		if s.Members[i].PlayerID == playerID {
			return &s.Members[i]
		}
	}
	return nil
}

// GetHost returns the host roster entry, or nil if the roster is empty
func (s *Snapshot) GetHost() *Member {
	for i := range s.Members {
		if s.Members[i].IsHost {
			return &s.Members[i]
		}
	}
	return nil
}

// GameStart is the final roster handed to the game simulation
type GameStart struct {
	RoomCode  RoomCode
	Roster    []Member
	StartedAt time.Time
}
