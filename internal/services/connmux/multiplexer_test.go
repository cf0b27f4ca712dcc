package connmux

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"github.com/mcoot/partylobby/internal/dependencies/mocks"
	"github.com/mcoot/partylobby/internal/model"
	"github.com/mcoot/partylobby/internal/services/directory"
	"github.com/mcoot/partylobby/internal/services/lobby"
	"github.com/mcoot/partylobby/internal/services/registry"
	"github.com/mcoot/partylobby/internal/storage/memory"
	"github.com/mcoot/partylobby/internal/testutil"
)

type MultiplexerSuite struct {
	suite.Suite
	clock      *mocks.MockClock
	random     *mocks.MockRandom
	controller *lobby.Controller
	mux        *Multiplexer
	logs       *testutil.LogCapture
	ctx        context.Context
}

func TestMultiplexerSuite(t *testing.T) {
	suite.Run(t, new(MultiplexerSuite))
}

func (s *MultiplexerSuite) SetupTest() {
	logger, logs := testutil.NewLogCapture()
	s.logs = logs
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.random = mocks.NewMockRandom()
	dir := directory.New(memory.New(), s.clock, s.random, logger)

	regCfg := registry.DefaultConfig()
	regCfg.SecretCost = bcrypt.MinCost
	reg := registry.New(regCfg, s.clock, s.random, logger)

	s.controller = lobby.NewController(reg, dir, s.clock, s.random, logger, lobby.DefaultConfig())
	s.mux = New(s.controller, s.clock, logger)
	s.ctx = context.Background()
}

func (s *MultiplexerSuite) createRoom(code string) {
	s.createRoomHostedBy(code, "host")
}

func (s *MultiplexerSuite) createRoomHostedBy(code string, hostID model.PlayerID) {
	s.random.QueueString(code)
	_, _, err := s.controller.CreateRoom(s.ctx, lobby.CreateRoomParams{
		Name:     "Room",
		HostID:   hostID,
		HostName: "Host",
	})
	s.Require().NoError(err)
}

func (s *MultiplexerSuite) open(id string) *testutil.RecordingSink {
	conn := testutil.NewRecordingSink(id)
	s.mux.Open(conn)
	return conn
}

func (s *MultiplexerSuite) send(conn Conn, frame string) {
	s.mux.OnMessage(s.ctx, conn, []byte(frame))
}

func (s *MultiplexerSuite) joinFrame(code, playerID, name string) string {
	return fmt.Sprintf(`{"type":"joinRoom","payload":{"room_code":%q,"player_id":%q,"player_name":%q}}`, code, playerID, name)
}

func (s *MultiplexerSuite) lastErrorCode(conn *testutil.RecordingSink) string {
	event, ok := conn.Last(model.EventError)
	s.Require().True(ok, "expected an error event")
	return event.Payload.(model.ErrorPayload).Code
}

func (s *MultiplexerSuite) members(code string) []model.PlayerID {
	snap, err := s.controller.Snapshot(s.ctx, code)
	s.Require().NoError(err)
	ids := make([]model.PlayerID, len(snap.Members))
	for i, m := range snap.Members {
		ids[i] = m.PlayerID
	}
	return ids
}

// Join tests

func (s *MultiplexerSuite) TestJoinBindsConnection() {
	s.createRoom("ABC123")
	conn := s.open("c1")

	s.send(conn, s.joinFrame("abc123", "p1", "Alice"))

	playerID, code, bound := s.mux.Bound(conn)
	s.True(bound)
	s.Equal(model.PlayerID("p1"), playerID)
	s.Equal(model.RoomCode("ABC123"), code)

	event, ok := conn.Last(model.EventRoomState)
	s.Require().True(ok)
	snap := event.Payload.(model.RoomStatePayload).Snapshot
	s.Len(snap.Members, 2)
	s.Equal(0, conn.Count(model.EventError))
}

func (s *MultiplexerSuite) TestJoinWithoutPlayerIDAssignsOne() {
	s.createRoom("ABC123")
	s.random.QueueID("generated")
	conn := s.open("c1")

	s.send(conn, `{"type":"joinRoom","payload":{"room_code":"ABC123","player_name":"Alice"}}`)

	playerID, _, bound := s.mux.Bound(conn)
	s.True(bound)
	s.Equal(model.PlayerID("generated"), playerID)
}

func (s *MultiplexerSuite) TestJoinUnknownRoomReportsError() {
	conn := s.open("c1")

	s.send(conn, s.joinFrame("NOPE00", "p1", "Alice"))

	s.Equal(model.CodeRoomNotFound, s.lastErrorCode(conn))
	_, _, bound := s.mux.Bound(conn)
	s.False(bound)
}

func (s *MultiplexerSuite) TestJoinOtherRoomReleasesPrevious() {
	s.createRoom("ABC123")
	s.createRoomHostedBy("XYZ789", "host-2")
	conn := s.open("c1")

	s.send(conn, s.joinFrame("ABC123", "p1", "Alice"))
	s.send(conn, s.joinFrame("XYZ789", "p1", "Alice"))

	_, code, bound := s.mux.Bound(conn)
	s.True(bound)
	s.Equal(model.RoomCode("XYZ789"), code)
	s.NotContains(s.members("ABC123"), model.PlayerID("p1"))
	s.Contains(s.members("XYZ789"), model.PlayerID("p1"))
}

func (s *MultiplexerSuite) TestRejectedJoinKeepsCurrentSeat() {
	s.createRoom("ABC123")
	s.random.QueueString("PRIV22")
	_, _, err := s.controller.CreateRoom(s.ctx, lobby.CreateRoomParams{
		Name:     "Private",
		Private:  true,
		Secret:   "xyz",
		HostID:   "host-2",
		HostName: "Other",
	})
	s.Require().NoError(err)
	conn := s.open("c1")
	s.send(conn, s.joinFrame("ABC123", "p1", "Alice"))

	s.send(conn, s.joinFrame("PRIV22", "p1", "Alice"))

	s.Equal(model.CodeWrongSecret, s.lastErrorCode(conn))
	playerID, code, bound := s.mux.Bound(conn)
	s.True(bound)
	s.Equal(model.PlayerID("p1"), playerID)
	s.Equal(model.RoomCode("ABC123"), code)
	s.Contains(s.members("ABC123"), model.PlayerID("p1"))
	s.NotContains(s.members("PRIV22"), model.PlayerID("p1"))

	// The seat is still live over this connection
	s.send(conn, `{"type":"chatMessage","payload":{"room_code":"ABC123","sender":"p1","body":"still here"}}`)
	s.Equal(1, conn.Count(model.EventError))
}

func (s *MultiplexerSuite) TestJoinAsAnotherPlayerReleasesPrevious() {
	s.createRoom("ABC123")
	conn := s.open("c1")
	s.send(conn, s.joinFrame("ABC123", "p1", "Alice"))

	s.send(conn, s.joinFrame("ABC123", "p2", "Bob"))

	playerID, _, bound := s.mux.Bound(conn)
	s.True(bound)
	s.Equal(model.PlayerID("p2"), playerID)
	s.NotContains(s.members("ABC123"), model.PlayerID("p1"))
	s.Contains(s.members("ABC123"), model.PlayerID("p2"))
}

func (s *MultiplexerSuite) TestConcurrentJoinAndCloseLeaveNoSeat() {
	s.createRoom("ABC123")

	for i := 0; i < 50; i++ {
		conn := s.open(fmt.Sprintf("c%d", i))
		frame := s.joinFrame("ABC123", fmt.Sprintf("p%d", i), fmt.Sprintf("Player %d", i))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.send(conn, frame)
		}()
		go func() {
			defer wg.Done()
			s.mux.OnClose(s.ctx, conn)
		}()
		wg.Wait()
	}

	s.Equal([]model.PlayerID{"host"}, s.members("ABC123"))
	s.Equal(0, s.mux.Count())
}

// Decode errors

func (s *MultiplexerSuite) TestMalformedFrameReportsError() {
	conn := s.open("c1")

	s.send(conn, `{not json`)

	s.Equal(model.CodeInvalidInput, s.lastErrorCode(conn))
}

func (s *MultiplexerSuite) TestUnknownTypeReportsError() {
	conn := s.open("c1")

	s.send(conn, `{"type":"dance","payload":{}}`)

	s.Equal(model.CodeInvalidInput, s.lastErrorCode(conn))
}

func (s *MultiplexerSuite) TestUnopenedConnectionIsIgnored() {
	conn := testutil.NewRecordingSink("stranger")

	s.send(conn, `{"type":"heartbeat"}`)

	s.Empty(conn.Events())
}

// Identity checks

func (s *MultiplexerSuite) TestChatRequiresJoin() {
	s.createRoom("ABC123")
	conn := s.open("c1")

	s.send(conn, `{"type":"chatMessage","payload":{"room_code":"ABC123","sender":"p1","body":"hi"}}`)

	s.Equal(model.CodeNotJoined, s.lastErrorCode(conn))
}

func (s *MultiplexerSuite) TestChatAsAnotherPlayerIsRejected() {
	s.createRoom("ABC123")
	conn := s.open("c1")
	s.send(conn, s.joinFrame("ABC123", "p1", "Alice"))

	s.send(conn, `{"type":"chatMessage","payload":{"room_code":"ABC123","sender":"host","body":"hi"}}`)

	s.Equal(model.CodeIdentityMismatch, s.lastErrorCode(conn))
}

func (s *MultiplexerSuite) TestStartGameByNonHostIsRejected() {
	s.createRoom("ABC123")
	conn := s.open("c1")
	s.send(conn, s.joinFrame("ABC123", "p1", "Alice"))

	s.send(conn, `{"type":"startGame","payload":{"room_code":"ABC123","player_id":"p1"}}`)

	s.Equal(model.CodeNotHost, s.lastErrorCode(conn))
}

// Chat

func (s *MultiplexerSuite) TestChatIsNotEchoedToSender() {
	s.createRoom("ABC123")
	alice := s.open("c1")
	bob := s.open("c2")
	s.send(alice, s.joinFrame("ABC123", "p1", "Alice"))
	s.send(bob, s.joinFrame("ABC123", "p2", "Bob"))
	alice.Reset()
	bob.Reset()

	s.send(alice, `{"type":"chatMessage","payload":{"room_code":"ABC123","sender":"p1","body":"hello"}}`)

	s.Equal(0, alice.Count(model.EventChatMessage))
	s.Equal(0, alice.Count(model.EventError))
	event, ok := bob.Last(model.EventChatMessage)
	s.Require().True(ok)
	s.Equal("hello", event.Payload.(model.ChatMessagePayload).Entry.Body)
}

func (s *MultiplexerSuite) TestChatRateLimitReportsError() {
	s.createRoom("ABC123")
	conn := s.open("c1")
	s.send(conn, s.joinFrame("ABC123", "p1", "Alice"))

	for i := 0; i < lobby.DefaultConfig().ChatBurst+1; i++ {
		s.send(conn, fmt.Sprintf(`{"type":"chatMessage","payload":{"room_code":"ABC123","sender":"p1","body":"msg %d"}}`, i))
	}

	s.Equal(model.CodeRateLimited, s.lastErrorCode(conn))
}

// Leave

func (s *MultiplexerSuite) TestLeaveUnbindsConnection() {
	s.createRoom("ABC123")
	conn := s.open("c1")
	s.send(conn, s.joinFrame("ABC123", "p1", "Alice"))

	s.send(conn, `{"type":"leaveRoom","payload":{"room_code":"ABC123","player_id":"p1"}}`)

	_, _, bound := s.mux.Bound(conn)
	s.False(bound)
	s.NotContains(s.members("ABC123"), model.PlayerID("p1"))
}

func (s *MultiplexerSuite) TestBindingDroppedAfterLeaveElsewhere() {
	s.createRoom("ABC123")
	conn := s.open("c1")
	s.send(conn, s.joinFrame("ABC123", "p1", "Alice"))

	// e.g. a leave over HTTP
	_, err := s.controller.LeaveRoom(s.ctx, "ABC123", "p1")
	s.Require().NoError(err)

	s.send(conn, `{"type":"heartbeat"}`)

	s.Equal(model.CodeNotInRoom, s.lastErrorCode(conn))
	_, _, bound := s.mux.Bound(conn)
	s.False(bound)

	s.send(conn, `{"type":"chatMessage","payload":{"room_code":"ABC123","sender":"p1","body":"hi"}}`)
	s.Equal(model.CodeNotJoined, s.lastErrorCode(conn))
}

// Broadcast

func (s *MultiplexerSuite) TestBroadcastSkipsExceptedAndFailingConnections() {
	s.createRoom("ABC123")
	host := s.open("c0")
	alice := s.open("c1")
	bob := s.open("c2")
	s.send(host, s.joinFrame("ABC123", "host", "Host"))
	s.send(alice, s.joinFrame("ABC123", "p1", "Alice"))
	s.send(bob, s.joinFrame("ABC123", "p2", "Bob"))
	host.Reset()
	alice.Reset()
	bob.Fail(errors.New("buffer full"))

	notice := model.Event{
		Type:    model.EventChatMessage,
		Payload: model.ChatMessagePayload{Entry: model.ChatEntry{Sender: "System", Body: "maintenance soon", Kind: model.ChatKindSystem}},
	}
	s.Require().NoError(s.mux.Broadcast(s.ctx, "ABC123", notice, "p1"))

	event, ok := host.Last(model.EventChatMessage)
	s.Require().True(ok)
	s.Equal(model.RoomCode("ABC123"), event.RoomCode)
	snap, err := s.controller.Snapshot(s.ctx, "ABC123")
	s.Require().NoError(err)
	s.Equal(snap.Version, event.Version)
	s.False(event.Timestamp.IsZero())

	s.Empty(alice.Events())
	s.True(s.logs.Contains("broadcast partial failure"))
	// A failed send does not unseat the player
	s.Contains(s.members("ABC123"), model.PlayerID("p2"))
}

func (s *MultiplexerSuite) TestBroadcastUnknownRoom() {
	err := s.mux.Broadcast(s.ctx, "NOPE00", model.Event{Type: model.EventChatMessage}, "")

	s.ErrorIs(err, model.ErrRoomNotFound)
}

// State and heartbeat

func (s *MultiplexerSuite) TestGetRoomStateWorksUnbound() {
	s.createRoom("ABC123")
	conn := s.open("c1")

	s.send(conn, `{"type":"getRoomState","payload":{"room_code":"abc123"}}`)

	event, ok := conn.Last(model.EventRoomState)
	s.Require().True(ok)
	s.Equal(model.RoomCode("ABC123"), event.RoomCode)
	s.Equal(0, conn.Count(model.EventError))
}

func (s *MultiplexerSuite) TestHeartbeatRepliesWithPong() {
	conn := s.open("c1")

	s.send(conn, `{"type":"heartbeat"}`)

	s.Equal(1, conn.Count(model.EventPong))
}

// Close

func (s *MultiplexerSuite) TestCloseLeavesRoom() {
	s.createRoom("ABC123")
	conn := s.open("c1")
	s.send(conn, s.joinFrame("ABC123", "p1", "Alice"))

	s.mux.OnClose(s.ctx, conn)

	s.NotContains(s.members("ABC123"), model.PlayerID("p1"))
	s.Equal(0, s.mux.Count())
}

func (s *MultiplexerSuite) TestCloseOfSupersededConnectionKeepsPlayer() {
	s.createRoom("ABC123")
	first := s.open("c1")
	second := s.open("c2")
	s.send(first, s.joinFrame("ABC123", "p1", "Alice"))
	s.send(second, s.joinFrame("ABC123", "p1", "Alice"))

	s.mux.OnClose(s.ctx, first)
	s.Contains(s.members("ABC123"), model.PlayerID("p1"))

	s.mux.OnClose(s.ctx, second)
	s.NotContains(s.members("ABC123"), model.PlayerID("p1"))
}

func (s *MultiplexerSuite) TestMessagesAfterCloseAreDropped() {
	s.createRoom("ABC123")
	conn := s.open("c1")
	s.mux.OnClose(s.ctx, conn)

	s.send(conn, s.joinFrame("ABC123", "p1", "Alice"))

	s.Empty(conn.Events())
	s.NotContains(s.members("ABC123"), model.PlayerID("p1"))
}

// Bind

func (s *MultiplexerSuite) TestBindAttachesSeatedPlayer() {
	s.createRoom("ABC123")
	_, err := s.controller.JoinRoom(s.ctx, lobby.JoinRoomParams{Code: "ABC123", PlayerID: "p1", Name: "Alice"}, nil)
	s.Require().NoError(err)
	conn := s.open("sse-1")

	s.Require().NoError(s.mux.Bind(s.ctx, conn, "ABC123", "p1"))

	_, _, bound := s.mux.Bound(conn)
	s.True(bound)
	s.Equal(1, conn.Count(model.EventRoomState))
}

func (s *MultiplexerSuite) TestBindNonMemberFails() {
	s.createRoom("ABC123")
	conn := s.open("sse-1")

	err := s.mux.Bind(s.ctx, conn, "ABC123", "ghost")

	s.ErrorIs(err, model.ErrNotInRoom)
}
