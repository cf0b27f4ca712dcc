package lobby

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"github.com/mcoot/partylobby/internal/dependencies/mocks"
	"github.com/mcoot/partylobby/internal/model"
	"github.com/mcoot/partylobby/internal/services/directory"
	"github.com/mcoot/partylobby/internal/services/registry"
	"github.com/mcoot/partylobby/internal/storage"
	"github.com/mcoot/partylobby/internal/storage/memory"
	"github.com/mcoot/partylobby/internal/testutil"
)

// flakyStore fails saves while failSaves is set
type flakyStore struct {
	storage.PlayerStore
	failSaves atomic.Bool
}

func (f *flakyStore) SavePlayer(ctx context.Context, player *model.Player) error {
	if f.failSaves.Load() {
		return errors.New("store unavailable")
	}
	return f.PlayerStore.SavePlayer(ctx, player)
}

type ControllerSuite struct {
	suite.Suite
	storage    *memory.Storage
	store      *flakyStore
	clock      *mocks.MockClock
	random     *mocks.MockRandom
	directory  *directory.Service
	registry   *registry.Registry
	cfg        Config
	controller *Controller
	ctx        context.Context
}

func TestControllerSuite(t *testing.T) {
	suite.Run(t, new(ControllerSuite))
}

func (s *ControllerSuite) SetupTest() {
	s.storage = memory.New()
	logger := testutil.NopLogger()
	s.clock = mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	s.random = mocks.NewMockRandom()
	s.store = &flakyStore{PlayerStore: s.storage}
	s.directory = directory.New(s.store, s.clock, s.random, logger)

	regCfg := registry.DefaultConfig()
	regCfg.SecretCost = bcrypt.MinCost
	s.registry = registry.New(regCfg, s.clock, s.random, logger)

	s.cfg = DefaultConfig()
	s.controller = NewController(s.registry, s.directory, s.clock, s.random, logger, s.cfg)
	s.ctx = context.Background()
}

func (s *ControllerSuite) createRoom(code string, hostID model.PlayerID) *model.Snapshot {
	s.random.QueueString(code)
	snap, _, err := s.controller.CreateRoom(s.ctx, CreateRoomParams{
		Name:       "Room A",
		MinPlayers: 4,
		MaxPlayers: 8,
		HostID:     hostID,
		HostName:   "Host",
	})
	s.Require().NoError(err)
	return snap
}

func (s *ControllerSuite) join(code string, id model.PlayerID, name string) *JoinRoomResult {
	result, err := s.controller.JoinRoom(s.ctx, JoinRoomParams{Code: code, PlayerID: id, Name: name}, nil)
	s.Require().NoError(err)
	return result
}

// CreateRoom tests

func (s *ControllerSuite) TestCreateRoomRegistersHost() {
	snap := s.createRoom("ABC123", "host")

	s.Equal(model.RoomCode("ABC123"), snap.Info.Code)
	s.Equal(model.PlayerID("host"), snap.Info.HostID)
	s.True(snap.Members[0].Connected)

	player, err := s.directory.Get(s.ctx, "host")
	s.Require().NoError(err)
	s.Equal(model.RoomCode("ABC123"), player.RoomCode)
	s.True(player.IsHost)
}

func (s *ControllerSuite) TestCreateRoomGeneratesHostID() {
	s.random.QueueString("ABC123")
	s.random.QueueID("generated-host")

	snap, player, err := s.controller.CreateRoom(s.ctx, CreateRoomParams{HostName: "Host"})
	s.Require().NoError(err)

	s.Equal(model.PlayerID("generated-host"), player.ID)
	s.Equal(player.ID, snap.Info.HostID)
}

func (s *ControllerSuite) TestCreateRoomCapacityExceeded() {
	regCfg := registry.DefaultConfig()
	regCfg.MaxRooms = 1
	s.registry = registry.New(regCfg, s.clock, s.random, testutil.NopLogger())
	s.controller = NewController(s.registry, s.directory, s.clock, s.random, testutil.NopLogger(), s.cfg)
	s.createRoom("ABC123", "h1")

	s.random.QueueString("XYZ789")
	_, _, err := s.controller.CreateRoom(s.ctx, CreateRoomParams{HostID: "h2", HostName: "Two"})
	s.ErrorIs(err, model.ErrCapacityExceeded)

	_, err = s.directory.Get(s.ctx, "h2")
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

// JoinRoom tests

func (s *ControllerSuite) TestJoinRoomRegistersPlayer() {
	s.createRoom("ABC123", "host")

	result := s.join("abc123", "p1", "Alice")

	s.False(result.Reconnected)
	s.Equal(model.PlayerID("p1"), result.Player.ID)
	s.Len(result.Snapshot.Members, 2)

	player, err := s.directory.Get(s.ctx, "p1")
	s.Require().NoError(err)
	s.Equal(model.RoomCode("ABC123"), player.RoomCode)
	s.False(player.IsHost)
}

func (s *ControllerSuite) TestJoinRoomNotFound() {
	_, err := s.controller.JoinRoom(s.ctx, JoinRoomParams{Code: "NOPE99", PlayerID: "p1", Name: "Alice"}, nil)
	s.ErrorIs(err, model.ErrRoomNotFound)
}

func (s *ControllerSuite) TestRejoinDoesNotDuplicate() {
	s.createRoom("ABC123", "host")
	s.join("ABC123", "p1", "Alice")

	sink := testutil.NewRecordingSink("conn-2")
	result, err := s.controller.JoinRoom(s.ctx, JoinRoomParams{Code: "ABC123", PlayerID: "p1", Name: "Alice"}, sink)
	s.Require().NoError(err)

	s.True(result.Reconnected)
	s.Len(result.Snapshot.Members, 2)
	s.Equal(1, sink.Count(model.EventRoomState))

	player, _ := s.directory.Get(s.ctx, "p1")
	s.Equal("conn-2", player.ConnID)
}

func (s *ControllerSuite) TestJoinOtherRoomLeavesPrevious() {
	s.createRoom("AAA222", "h1")
	s.createRoom("BBB333", "h2")
	s.join("AAA222", "p1", "Alice")

	s.join("BBB333", "p1", "Alice")

	first, err := s.controller.Snapshot(s.ctx, "AAA222")
	s.Require().NoError(err)
	s.Nil(first.GetMember("p1"))

	second, err := s.controller.Snapshot(s.ctx, "BBB333")
	s.Require().NoError(err)
	s.NotNil(second.GetMember("p1"))

	player, _ := s.directory.Get(s.ctx, "p1")
	s.Equal(model.RoomCode("BBB333"), player.RoomCode)
}

func (s *ControllerSuite) TestPrivateRoomScenario() {
	s.random.QueueString("PRIV23")
	_, _, err := s.controller.CreateRoom(s.ctx, CreateRoomParams{
		Private:  true,
		Secret:   "xyz",
		HostID:   "host",
		HostName: "Host",
	})
	s.Require().NoError(err)

	_, err = s.controller.JoinRoom(s.ctx, JoinRoomParams{Code: "PRIV23", PlayerID: "p1", Name: "Alice", Secret: "wrong"}, nil)
	s.ErrorIs(err, model.ErrWrongSecret)
	s.ErrorIs(err, model.ErrRejected)

	_, err = s.controller.JoinRoom(s.ctx, JoinRoomParams{Code: "PRIV23", PlayerID: "p1", Name: "Alice", Secret: "xyz"}, nil)
	s.NoError(err)

	s.Empty(s.controller.ListRooms(s.ctx, 10))
}

func (s *ControllerSuite) TestDuplicateDisplayNameScenario() {
	s.createRoom("ABC123", "host")
	s.join("ABC123", "p1", "Alex")

	_, err := s.controller.JoinRoom(s.ctx, JoinRoomParams{Code: "ABC123", PlayerID: "p2", Name: "Alex"}, nil)
	s.ErrorIs(err, model.ErrDuplicateName)

	_, err = s.directory.Get(s.ctx, "p2")
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

func (s *ControllerSuite) TestCreatorRejoinReclaimsHost() {
	s.createRoom("ABC123", "host")
	s.join("ABC123", "p1", "Alice")
	s.join("ABC123", "p2", "Bob")
	_, err := s.controller.LeaveRoom(s.ctx, "ABC123", "host")
	s.Require().NoError(err)

	alice, _ := s.directory.Get(s.ctx, "p1")
	s.True(alice.IsHost)

	result := s.join("ABC123", "host", "Host")
	s.True(result.Member.IsHost)

	alice, _ = s.directory.Get(s.ctx, "p1")
	s.False(alice.IsHost)
}

// LeaveRoom tests

func (s *ControllerSuite) TestFailedRegistrationRollsBackNewSeat() {
	s.createRoom("ABC123", "host")
	s.store.failSaves.Store(true)

	_, err := s.controller.JoinRoom(s.ctx, JoinRoomParams{Code: "ABC123", PlayerID: "p1", Name: "Alice"}, nil)
	s.Error(err)

	s.store.failSaves.Store(false)
	snap, err := s.controller.Snapshot(s.ctx, "ABC123")
	s.Require().NoError(err)
	s.Nil(snap.GetMember("p1"))
}

func (s *ControllerSuite) TestFailedRegistrationKeepsReconnectingSeat() {
	s.createRoom("ABC123", "host")
	s.join("ABC123", "p1", "Alice")
	s.store.failSaves.Store(true)

	_, err := s.controller.JoinRoom(s.ctx, JoinRoomParams{Code: "ABC123", PlayerID: "p1", Name: "Alice"}, nil)
	s.Error(err)

	s.store.failSaves.Store(false)
	snap, err := s.controller.Snapshot(s.ctx, "ABC123")
	s.Require().NoError(err)
	s.NotNil(snap.GetMember("p1"))
	_, err = s.directory.Get(s.ctx, "p1")
	s.NoError(err)
}

func (s *ControllerSuite) TestLeaveRoomTransfersHost() {
	s.createRoom("ABC123", "host")
	s.join("ABC123", "p1", "Alice")
	s.join("ABC123", "p2", "Bob")

	result, err := s.controller.LeaveRoom(s.ctx, "ABC123", "host")
	s.Require().NoError(err)

	s.Equal(model.PlayerID("p1"), result.NewHostID)
	_, err = s.directory.Get(s.ctx, "host")
	s.ErrorIs(err, model.ErrPlayerNotFound)

	newHost, _ := s.directory.Get(s.ctx, "p1")
	s.True(newHost.IsHost)
}

func (s *ControllerSuite) TestLastLeaveEvictsRoom() {
	s.createRoom("ABC123", "host")

	result, err := s.controller.LeaveRoom(s.ctx, "ABC123", "host")
	s.Require().NoError(err)

	s.True(result.Closed)
	s.Equal(0, s.controller.RoomCount())
	_, err = s.controller.Snapshot(s.ctx, "ABC123")
	s.ErrorIs(err, model.ErrRoomNotFound)
}

func (s *ControllerSuite) TestLeaveRoomNotMember() {
	s.createRoom("ABC123", "host")

	_, err := s.controller.LeaveRoom(s.ctx, "ABC123", "stranger")
	s.ErrorIs(err, model.ErrNotInRoom)
}

func (s *ControllerSuite) TestDisconnectOnlyForLiveBinding() {
	s.createRoom("ABC123", "host")
	s.join("ABC123", "p1", "Alice")
	s.Require().NoError(s.controller.Attach(s.ctx, "ABC123", "p1", testutil.NewRecordingSink("conn-old")))
	s.Require().NoError(s.controller.Attach(s.ctx, "ABC123", "p1", testutil.NewRecordingSink("conn-new")))

	left, err := s.controller.Disconnect(s.ctx, "ABC123", "p1", "conn-old")
	s.Require().NoError(err)
	s.False(left)

	left, err = s.controller.Disconnect(s.ctx, "ABC123", "p1", "conn-new")
	s.Require().NoError(err)
	s.True(left)

	snap, _ := s.controller.Snapshot(s.ctx, "ABC123")
	s.Nil(snap.GetMember("p1"))
}

func (s *ControllerSuite) TestSupersededDisconnectClearsOnlyItsHandle() {
	s.createRoom("ABC123", "host")
	s.join("ABC123", "p1", "Alice")
	s.Require().NoError(s.controller.Attach(s.ctx, "ABC123", "p1", testutil.NewRecordingSink("conn-live")))

	// The directory still names a connection the room no longer routes to
	s.Require().NoError(s.directory.BindConn(s.ctx, "p1", "conn-stale"))
	left, err := s.controller.Disconnect(s.ctx, "ABC123", "p1", "conn-stale")
	s.Require().NoError(err)
	s.False(left)

	player, err := s.directory.Get(s.ctx, "p1")
	s.Require().NoError(err)
	s.Empty(player.ConnID)

	s.Require().NoError(s.directory.BindConn(s.ctx, "p1", "conn-live"))
	left, err = s.controller.Disconnect(s.ctx, "ABC123", "p1", "conn-other")
	s.Require().NoError(err)
	s.False(left)

	player, err = s.directory.Get(s.ctx, "p1")
	s.Require().NoError(err)
	s.Equal("conn-live", player.ConnID)
}

func (s *ControllerSuite) TestDisconnectUnknownRoomIsNoop() {
	left, err := s.controller.Disconnect(s.ctx, "NOPE99", "p1", "conn-1")
	s.NoError(err)
	s.False(left)
}

// Game tests

func (s *ControllerSuite) TestStartGameScenario() {
	s.createRoom("ABC123", "host")
	s.join("ABC123", "p1", "A")
	s.join("ABC123", "p2", "B")

	_, err := s.controller.StartGame(s.ctx, "ABC123", "host")
	s.ErrorIs(err, model.ErrInsufficientPlayers)

	s.join("ABC123", "p3", "C")

	start, err := s.controller.StartGame(s.ctx, "ABC123", "host")
	s.Require().NoError(err)
	s.Len(start.Roster, 4)

	snap, _ := s.controller.Snapshot(s.ctx, "ABC123")
	s.Equal(model.RoomStatusPlaying, snap.Info.Status)
	s.Empty(s.controller.ListRooms(s.ctx, 10))
}

func (s *ControllerSuite) TestFinishGame() {
	s.createRoom("ABC123", "host")
	for i := 1; i <= 3; i++ {
		s.join("ABC123", model.PlayerID(fmt.Sprintf("p%d", i)), fmt.Sprintf("P%d", i))
	}
	_, err := s.controller.StartGame(s.ctx, "ABC123", "host")
	s.Require().NoError(err)

	s.Require().NoError(s.controller.FinishGame(s.ctx, "ABC123", "host"))

	snap, _ := s.controller.Snapshot(s.ctx, "ABC123")
	s.Equal(model.RoomStatusFinished, snap.Info.Status)
}

// Chat tests

func (s *ControllerSuite) TestPostChatAndHistory() {
	s.createRoom("ABC123", "host")

	entries, noMessages, err := s.controller.ChatHistory(s.ctx, "ABC123", "host")
	s.Require().NoError(err)
	s.True(noMessages)
	s.Empty(entries)

	entry, err := s.controller.PostChat(s.ctx, PostChatParams{Code: "ABC123", SenderID: "host", Body: "hello", ClientMessageID: "m-1"})
	s.Require().NoError(err)
	s.Equal("m-1", entry.ID)

	_, err = s.controller.PostChat(s.ctx, PostChatParams{Code: "ABC123", SenderID: "host", Body: "hello", ClientMessageID: "m-1"})
	s.Require().NoError(err)

	entries, noMessages, err = s.controller.ChatHistory(s.ctx, "ABC123", "host")
	s.Require().NoError(err)
	s.False(noMessages)
	s.Len(entries, 1)
}

func (s *ControllerSuite) TestPostChatRateLimited() {
	s.createRoom("ABC123", "host")

	for i := 0; i < s.cfg.ChatBurst; i++ {
		_, err := s.controller.PostChat(s.ctx, PostChatParams{Code: "ABC123", SenderID: "host", Body: fmt.Sprintf("msg %d", i)})
		s.Require().NoError(err)
	}

	_, err := s.controller.PostChat(s.ctx, PostChatParams{Code: "ABC123", SenderID: "host", Body: "one too many"})
	s.ErrorIs(err, model.ErrChatRateLimited)
	s.ErrorIs(err, model.ErrRejected)

	// Tokens refill with time
	s.clock.Advance(time.Second)
	_, err = s.controller.PostChat(s.ctx, PostChatParams{Code: "ABC123", SenderID: "host", Body: "later"})
	s.NoError(err)
}

func (s *ControllerSuite) TestPostChatNonMember() {
	s.createRoom("ABC123", "host")

	_, err := s.controller.PostChat(s.ctx, PostChatParams{Code: "ABC123", SenderID: "stranger", Body: "hi"})
	s.ErrorIs(err, model.ErrNotInRoom)
}

// Liveness tests

func (s *ControllerSuite) TestSnapshotConnectedFlagUsesLivenessWindow() {
	s.createRoom("ABC123", "host")
	s.join("ABC123", "p1", "Alice")

	s.clock.Advance(s.cfg.LivenessWindow + time.Second)
	s.Require().NoError(s.controller.Heartbeat(s.ctx, "ABC123", "p1"))

	snap, err := s.controller.Snapshot(s.ctx, "ABC123")
	s.Require().NoError(err)
	s.False(snap.GetMember("host").Connected)
	s.True(snap.GetMember("p1").Connected)
}

func (s *ControllerSuite) TestHeartbeatRequiresMembership() {
	s.createRoom("ABC123", "host")

	err := s.controller.Heartbeat(s.ctx, "ABC123", "stranger")
	s.ErrorIs(err, model.ErrNotInRoom)
}

func (s *ControllerSuite) TestHeartbeatTouchesRoom() {
	s.createRoom("ABC123", "host")
	s.clock.Advance(time.Minute)

	s.Require().NoError(s.controller.Heartbeat(s.ctx, "ABC123", "host"))

	snap, _ := s.controller.Snapshot(s.ctx, "ABC123")
	s.Equal(s.clock.Now(), snap.Info.LastActivity)
}

// Eviction tests

func (s *ControllerSuite) TestEvictRoomNotifiesAndRemovesPlayers() {
	s.createRoom("ABC123", "host")
	s.join("ABC123", "p1", "Alice")
	sink := testutil.NewRecordingSink("conn-p1")
	s.Require().NoError(s.controller.Attach(s.ctx, "ABC123", "p1", sink))

	s.True(s.controller.EvictRoom(s.ctx, "ABC123", "stale"))

	s.Equal(1, sink.Count(model.EventRoomClosed))
	s.Equal(0, s.controller.RoomCount())
	_, err := s.directory.Get(s.ctx, "p1")
	s.ErrorIs(err, model.ErrPlayerNotFound)

	s.False(s.controller.EvictRoom(s.ctx, "ABC123", "stale"))
}

func (s *ControllerSuite) TestRemovePlayerLeavesRoom() {
	s.createRoom("ABC123", "host")
	s.join("ABC123", "p1", "Alice")

	s.Require().NoError(s.controller.RemovePlayer(s.ctx, "p1"))

	snap, _ := s.controller.Snapshot(s.ctx, "ABC123")
	s.Len(snap.Members, 1)
	_, err := s.directory.Get(s.ctx, "p1")
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

func (s *ControllerSuite) TestRemoveSoleOccupantEvictsRoom() {
	s.createRoom("ABC123", "host")

	s.Require().NoError(s.controller.RemovePlayer(s.ctx, "host"))

	s.Equal(0, s.controller.RoomCount())
}

func (s *ControllerSuite) TestListRoomsAppliesLimit() {
	s.createRoom("AAA222", "h1")
	s.createRoom("BBB333", "h2")
	s.createRoom("CCC444", "h3")

	s.Len(s.controller.ListRooms(s.ctx, 2), 2)
	s.Len(s.controller.ListRooms(s.ctx, 0), 3)
}

// Private room visibility

func (s *ControllerSuite) createPrivateRoom(code string, hostID model.PlayerID) {
	s.random.QueueString(code)
	_, _, err := s.controller.CreateRoom(s.ctx, CreateRoomParams{
		Name:     "Hideout",
		Private:  true,
		Secret:   "xyz",
		HostID:   hostID,
		HostName: "Host",
	})
	s.Require().NoError(err)
}

func (s *ControllerSuite) TestViewOfPrivateRoomIsRestrictedForOutsiders() {
	s.createPrivateRoom("PRIV22", "host")

	snap, err := s.controller.View(s.ctx, "PRIV22", "stranger")
	s.Require().NoError(err)
	s.True(snap.Restricted)
	s.Empty(snap.Members)
	s.Empty(snap.Chat)
	s.Equal(model.RoomCode("PRIV22"), snap.Info.Code)
	s.Equal(1, snap.Info.PlayerCount)

	snap, err = s.controller.View(s.ctx, "PRIV22", "host")
	s.Require().NoError(err)
	s.False(snap.Restricted)
	s.NotNil(snap.GetMember("host"))
}

func (s *ControllerSuite) TestViewOfPublicRoomIsOpen() {
	s.createRoom("ABC123", "host")

	snap, err := s.controller.View(s.ctx, "ABC123", "")
	s.Require().NoError(err)
	s.False(snap.Restricted)
	s.Len(snap.Members, 1)
}

func (s *ControllerSuite) TestPrivateChatHistoryRequiresMembership() {
	s.createPrivateRoom("PRIV22", "host")
	_, err := s.controller.PostChat(s.ctx, PostChatParams{Code: "PRIV22", SenderID: "host", Body: "secret plans"})
	s.Require().NoError(err)

	_, _, err = s.controller.ChatHistory(s.ctx, "PRIV22", "stranger")
	s.ErrorIs(err, model.ErrNotInRoom)

	entries, _, err := s.controller.ChatHistory(s.ctx, "PRIV22", "host")
	s.Require().NoError(err)
	s.Len(entries, 1)
}

func (s *ControllerSuite) TestStartGameByNonMember() {
	s.createRoom("ABC123", "host")

	_, err := s.controller.StartGame(s.ctx, "ABC123", "stranger")

	s.ErrorIs(err, model.ErrNotInRoom)
}

func (s *ControllerSuite) TestStatsReportsLoad() {
	s.createRoom("ABC123", "host")
	s.createRoom("XYZ789", "host-2")
	s.join("ABC123", "p1", "Bob")

	stats, err := s.controller.Stats(s.ctx)

	s.Require().NoError(err)
	s.Equal(2, stats.Rooms)
	s.Equal(registry.DefaultConfig().MaxRooms, stats.MaxRooms)
	s.Equal(3, stats.Players)
}
