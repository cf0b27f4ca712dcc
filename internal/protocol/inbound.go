package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/mcoot/partylobby/internal/model"
)

// Inbound message types
const (
	TypeJoinRoom     = "joinRoom"
	TypeLeaveRoom    = "leaveRoom"
	TypeChatMessage  = "chatMessage"
	TypeStartGame    = "startGame"
	TypeGetRoomState = "getRoomState"
	TypeHeartbeat    = "heartbeat"
)

// Envelope is the wire frame for inbound messages
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message is a decoded inbound message. The set of implementations is
// closed; the multiplexer switches over them exhaustively.
type Message interface {
	MessageType() string
	validate() error
}

// JoinRoom asks to join (or rejoin) a room
type JoinRoom struct {
	RoomCode   string `json:"room_code"`
	PlayerID   string `json:"player_id,omitempty"`
	PlayerName string `json:"player_name"`
	Secret     string `json:"secret,omitempty"`
}

// LeaveRoom asks to leave a room
type LeaveRoom struct {
	RoomCode string `json:"room_code"`
	PlayerID string `json:"player_id"`
}

// ChatMessage posts a chat entry. Sender is the sending player's id.
type ChatMessage struct {
	RoomCode        string `json:"room_code"`
	Sender          string `json:"sender"`
	Body            string `json:"body"`
	ClientMessageID string `json:"client_message_id,omitempty"`
}

// StartGame asks the host's room to start
type StartGame struct {
	RoomCode string `json:"room_code"`
	PlayerID string `json:"player_id"`
}

// GetRoomState requests a full snapshot
type GetRoomState struct {
	RoomCode string `json:"room_code"`
}

// Heartbeat keeps the connection's player alive
type Heartbeat struct{}

func (JoinRoom) MessageType() string     { return TypeJoinRoom }
func (LeaveRoom) MessageType() string    { return TypeLeaveRoom }
func (ChatMessage) MessageType() string  { return TypeChatMessage }
func (StartGame) MessageType() string    { return TypeStartGame }
func (GetRoomState) MessageType() string { return TypeGetRoomState }
func (Heartbeat) MessageType() string    { return TypeHeartbeat }

func (m JoinRoom) validate() error {
	return required(map[string]string{"room_code": m.RoomCode, "player_name": m.PlayerName})
}

func (m LeaveRoom) validate() error {
	return required(map[string]string{"room_code": m.RoomCode, "player_id": m.PlayerID})
}

func (m ChatMessage) validate() error {
	return required(map[string]string{"room_code": m.RoomCode, "sender": m.Sender})
}

func (m StartGame) validate() error {
	return required(map[string]string{"room_code": m.RoomCode, "player_id": m.PlayerID})
}

func (m GetRoomState) validate() error {
	return required(map[string]string{"room_code": m.RoomCode})
}

func (Heartbeat) validate() error { return nil }

// required reports the first missing field in a stable order
func required(fields map[string]string) error {
	for _, name := range []string{"room_code", "player_id", "player_name", "sender"} {
		if v, ok := fields[name]; ok && v == "" {
			return fmt.Errorf("%w: %s is required", model.ErrMalformed, name)
		}
	}
	return nil
}

// Decode parses one inbound frame. Unknown types are rejected with
// ErrUnknownMessage rather than ignored.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMalformed, err)
	}

	var msg Message
	switch env.Type {
	case TypeJoinRoom:
		msg = &JoinRoom{}
	case TypeLeaveRoom:
		msg = &LeaveRoom{}
	case TypeChatMessage:
		msg = &ChatMessage{}
	case TypeStartGame:
		msg = &StartGame{}
	case TypeGetRoomState:
		msg = &GetRoomState{}
	case TypeHeartbeat:
		return Heartbeat{}, nil
	case "":
		return nil, fmt.Errorf("%w: type is required", model.ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownMessage, env.Type)
	}

	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("%w: payload is required", model.ErrMalformed)
	}
	if err := json.Unmarshal(env.Payload, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrMalformed, err)
	}

	// Return values rather than pointers so callers switch on value types
	var out Message
	switch m := msg.(type) {
	case *JoinRoom:
		out = *m
	case *LeaveRoom:
		out = *m
	case *ChatMessage:
		out = *m
	case *StartGame:
		out = *m
	case *GetRoomState:
		out = *m
	}
	if err := out.validate(); err != nil {
		return nil, err
	}
	return out, nil
}

// EncodeMessage frames an inbound message for sending (used by clients)
func EncodeMessage(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: msg.MessageType(), Payload: payload})
}
