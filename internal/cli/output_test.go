package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mcoot/partylobby/internal/api/response"
	"github.com/mcoot/partylobby/internal/protocol"
)

func TestWSURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://localhost:8080", "ws://localhost:8080/api/v1/ws"},
		{"https://lobby.example.com/", "wss://lobby.example.com/api/v1/ws"},
		{"ws://already", "ws://already/api/v1/ws"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, wsURL(tt.in))
	}
}

func TestPrintRoomState(t *testing.T) {
	var buf bytes.Buffer
	out := NewOutput("text", &buf)

	out.Print(response.RoomStateResponse{
		PlayerID: "p1",
		State: protocol.RoomState{
			Room: protocol.Room{Code: "ABC123", Name: "Friday", Status: "waiting", PlayerCount: 2, MinPlayers: 4, MaxPlayers: 10},
			Members: []protocol.Member{
				{PlayerID: "p1", DisplayName: "Alice", IsHost: true, Connected: true},
				{PlayerID: "p2", DisplayName: "Bob"},
			},
		},
	})

	text := buf.String()
	assert.Contains(t, text, "Player: p1")
	assert.Contains(t, text, "Room: ABC123 (Friday)")
	assert.Contains(t, text, "Alice (p1) [host]")
	assert.Contains(t, text, "Bob (p2) [away]")
}

func TestPrintChatHistoryEmpty(t *testing.T) {
	var buf bytes.Buffer
	NewOutput("text", &buf).Print(response.ChatHistoryResponse{NoMessages: true})

	assert.Equal(t, "No messages\n", buf.String())
}

func TestPrintFrameJSONIsOneLine(t *testing.T) {
	var buf bytes.Buffer
	NewOutput("json", &buf).PrintFrame(&protocol.Frame{
		Type:      "chatMessage",
		RoomCode:  "ABC123",
		Version:   3,
		Timestamp: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Payload:   []byte(`{"body":"hi"}`),
	})

	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")))
	assert.Contains(t, buf.String(), `"type":"chatMessage"`)
}

func TestPrintMessageJSON(t *testing.T) {
	var buf bytes.Buffer
	NewOutput("json", &buf).PrintMessage("ok")

	assert.JSONEq(t, `{"message":"ok"}`, buf.String())
}
