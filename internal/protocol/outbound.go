package protocol

import (
	"encoding/json"
	"time"

	"github.com/mcoot/partylobby/internal/model"
)

// Frame is the wire frame for outbound events
type Frame struct {
	Type      string          `json:"type"`
	RoomCode  string          `json:"room_code,omitempty"`
	PlayerID  string          `json:"player_id,omitempty"`
	Version   uint64          `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Room is the wire view of a room's descriptive attributes
type Room struct {
	Code         string    `json:"code"`
	Name         string    `json:"name"`
	MinPlayers   int       `json:"min_players"`
	MaxPlayers   int       `json:"max_players"`
	Private      bool      `json:"private"`
	Status       string    `json:"status"`
	HostID       string    `json:"host_id,omitempty"`
	PlayerCount  int       `json:"player_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// RoomSummary is the wire view of a listed room
type RoomSummary struct {
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	PlayerCount int       `json:"player_count"`
	MinPlayers  int       `json:"min_players"`
	MaxPlayers  int       `json:"max_players"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Member is the wire view of a roster entry
type Member struct {
	PlayerID    string    `json:"player_id"`
	DisplayName string    `json:"display_name"`
	IsHost      bool      `json:"is_host"`
	Connected   bool      `json:"connected"`
	JoinedAt    time.Time `json:"joined_at"`
}

// ChatEntry is the wire view of a chat log line
type ChatEntry struct {
	ID       string    `json:"id"`
	SenderID string    `json:"sender_id,omitempty"`
	Sender   string    `json:"sender"`
	Body     string    `json:"body"`
	Kind     string    `json:"kind"`
	SentAt   time.Time `json:"sent_at"`
}

// RoomState is the full snapshot payload
type RoomState struct {
	Room       Room        `json:"room"`
	Members    []Member    `json:"members"`
	Chat       []ChatEntry `json:"chat"`
	NoMessages bool        `json:"no_messages"`
	Version    uint64      `json:"version"`
	Restricted bool        `json:"restricted,omitempty"`
}

// PlayerJoined is the playerJoined payload
type PlayerJoined struct {
	Member Member `json:"member"`
}

// PlayerLeft is the playerLeft payload
type PlayerLeft struct {
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	NewHostID   string `json:"new_host_id,omitempty"`
}

// HostChanged is the hostChanged payload
type HostChanged struct {
	OldHostID string `json:"old_host_id"`
	NewHostID string `json:"new_host_id"`
}

// GameStarted is the gameStarted payload
type GameStarted struct {
	Roster []Member `json:"roster"`
}

// GameFinished is the gameFinished payload
type GameFinished struct {
	FinishedBy string `json:"finished_by"`
}

// RoomClosed is the roomClosed payload
type RoomClosed struct {
	Reason string `json:"reason"`
}

// Error is the error payload
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Conversion helpers

func FromRoomInfo(info model.RoomInfo) Room {
	return Room{
		Code:         string(info.Code),
		Name:         info.Name,
		MinPlayers:   info.MinPlayers,
		MaxPlayers:   info.MaxPlayers,
		Private:      info.Private,
		Status:       string(info.Status),
		HostID:       string(info.HostID),
		PlayerCount:  info.PlayerCount,
		CreatedAt:    info.CreatedAt,
		LastActivity: info.LastActivity,
	}
}

func FromRoomSummary(s model.RoomSummary) RoomSummary {
	return RoomSummary{
		Code:        string(s.Code),
		Name:        s.Name,
		PlayerCount: s.PlayerCount,
		MinPlayers:  s.MinPlayers,
		MaxPlayers:  s.MaxPlayers,
		Status:      string(s.Status),
		CreatedAt:   s.CreatedAt,
	}
}

func FromMember(m model.Member) Member {
	return Member{
		PlayerID:    string(m.PlayerID),
		DisplayName: m.DisplayName,
		IsHost:      m.IsHost,
		Connected:   m.Connected,
		JoinedAt:    m.JoinedAt,
	}
}

func FromMembers(members []model.Member) []Member {
	out := make([]Member, len(members))
	for i, m := range members {
		out[i] = FromMember(m)
	}
	return out
}

func FromChatEntry(e model.ChatEntry) ChatEntry {
	return ChatEntry{
		ID:       e.ID,
		SenderID: string(e.SenderID),
		Sender:   e.Sender,
		Body:     e.Body,
		Kind:     string(e.Kind),
		SentAt:   e.SentAt,
	}
}

func FromChatEntries(entries []model.ChatEntry) []ChatEntry {
	out := make([]ChatEntry, len(entries))
	for i, e := range entries {
		out[i] = FromChatEntry(e)
	}
	return out
}

func FromSnapshot(snap model.Snapshot) RoomState {
	return RoomState{
		Room:       FromRoomInfo(snap.Info),
		Members:    FromMembers(snap.Members),
		Chat:       FromChatEntries(snap.Chat),
		NoMessages: snap.NoMessages,
		Version:    snap.Version,
		Restricted: snap.Restricted,
	}
}

// payloadFor converts a model payload into its wire shape
func payloadFor(payload any) any {
	switch p := payload.(type) {
	case model.RoomStatePayload:
		return FromSnapshot(p.Snapshot)
	case model.PlayerJoinedPayload:
		return PlayerJoined{Member: FromMember(p.Member)}
	case model.PlayerLeftPayload:
		return PlayerLeft{
			PlayerID:    string(p.PlayerID),
			DisplayName: p.DisplayName,
			NewHostID:   string(p.NewHostID),
		}
	case model.HostChangedPayload:
		return HostChanged{OldHostID: string(p.OldHostID), NewHostID: string(p.NewHostID)}
	case model.ChatMessagePayload:
		return FromChatEntry(p.Entry)
	case model.GameStartedPayload:
		return GameStarted{Roster: FromMembers(p.Roster)}
	case model.GameEndedPayload:
		return GameFinished{FinishedBy: string(p.FinishedBy)}
	case model.RoomClosedPayload:
		return RoomClosed{Reason: p.Reason}
	case model.ErrorPayload:
		return Error{Code: p.Code, Message: p.Message}
	default:
		return p
	}
}

// Encode serializes an outbound event
func Encode(event model.Event) ([]byte, error) {
	frame := Frame{
		Type:      string(event.Type),
		RoomCode:  string(event.RoomCode),
		PlayerID:  string(event.PlayerID),
		Version:   event.Version,
		Timestamp: event.Timestamp,
	}
	if event.Payload != nil {
		payload, err := json.Marshal(payloadFor(event.Payload))
		if err != nil {
			return nil, err
		}
		frame.Payload = payload
	}
	return json.Marshal(frame)
}

// DecodeFrame parses an outbound frame (used by clients)
func DecodeFrame(data []byte) (*Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

// ErrorEvent builds the unicast error reply for err. Errors outside the
// coordinator's taxonomy are reported without their internal detail.
func ErrorEvent(err error, now time.Time) model.Event {
	message := err.Error()
	if !model.IsExpected(err) {
		message = "internal error"
	}
	return model.Event{
		Type:      model.EventError,
		Timestamp: now,
		Payload: model.ErrorPayload{
			Code:    model.ErrorCode(err),
			Message: message,
		},
	}
}

// PongEvent builds the heartbeat reply
func PongEvent(now time.Time) model.Event {
	return model.Event{Type: model.EventPong, Timestamp: now}
}
