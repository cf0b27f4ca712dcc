package connmux

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/mcoot/partylobby/internal/dependencies/clock"
	"github.com/mcoot/partylobby/internal/model"
	"github.com/mcoot/partylobby/internal/protocol"
	"github.com/mcoot/partylobby/internal/services/lobby"
)

// Conn is the transport side of a connection. TrySend must not block.
type Conn interface {
	ID() string
	TrySend(event model.Event) error
}

// connState is the multiplexer's view of one open connection.
// Lock order is connState.mu before any room lock.
type connState struct {
	mu       sync.Mutex
	conn     Conn
	playerID model.PlayerID
	roomCode model.RoomCode
	closed   bool
}

func (s *connState) bound() bool {
	return s.playerID != "" && s.roomCode != ""
}

// Multiplexer binds transport connections to (player, room) pairs and
// routes their inbound messages to the coordinator
type Multiplexer struct {
	lobby  *lobby.Controller
	clock  clock.Clock
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]*connState
}

// New creates a new Multiplexer
func New(lobby *lobby.Controller, clock clock.Clock, logger *slog.Logger) *Multiplexer {
	return &Multiplexer{
		lobby:  lobby,
		clock:  clock,
		logger: logger.With(slog.String("component", "connmux")),
		conns:  make(map[string]*connState),
	}
}

// Open registers a newly accepted connection. Messages from connections
// that were never opened, or were already closed, are dropped.
func (m *Multiplexer) Open(conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conns[conn.ID()]; !ok {
		m.conns[conn.ID()] = &connState{conn: conn}
	}
}

func (m *Multiplexer) state(conn Conn) (*connState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.conns[conn.ID()]
	return st, ok
}

// Count returns the number of open connections
func (m *Multiplexer) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Bound returns the (player, room) pair a connection is bound to
func (m *Multiplexer) Bound(conn Conn) (model.PlayerID, model.RoomCode, bool) {
	st, ok := m.state(conn)
	if !ok {
		return "", "", false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.playerID, st.roomCode, st.bound()
}

// Bind attaches a connection to a player already seated in a room. Any
// previous connection of that player is superseded but not closed.
func (m *Multiplexer) Bind(ctx context.Context, conn Conn, code string, playerID model.PlayerID) error {
	st, ok := m.state(conn)
	if !ok {
		return model.ErrNotJoined
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return model.ErrNotJoined
	}
	if err := m.lobby.Attach(ctx, code, playerID, conn); err != nil {
		return err
	}
	st.playerID = playerID
	st.roomCode = model.NormalizeRoomCode(code)

	m.logger.Debug("connection bound",
		slog.String("conn_id", conn.ID()),
		slog.String("player_id", string(playerID)),
		slog.String("room_code", string(st.roomCode)))
	return nil
}

// OnMessage decodes and dispatches one inbound frame. Messages of a single
// connection are processed one at a time, in order. Failures are reported
// to the originating connection only.
func (m *Multiplexer) OnMessage(ctx context.Context, conn Conn, data []byte) {
	st, ok := m.state(conn)
	if !ok {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.closed {
		return
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		m.replyError(conn, err)
		return
	}

	if st.bound() {
		m.lobby.Touch(ctx, st.roomCode, st.playerID)
	}

	if err := m.dispatch(ctx, st, msg); err != nil {
		m.dropStaleBinding(st, msg, err)
		m.replyError(conn, err)
	}
}

func (m *Multiplexer) dispatch(ctx context.Context, st *connState, msg protocol.Message) error {
	switch msg := msg.(type) {
	case protocol.JoinRoom:
		return m.handleJoin(ctx, st, msg)
	case protocol.LeaveRoom:
		return m.handleLeave(ctx, st, msg)
	case protocol.ChatMessage:
		return m.handleChat(ctx, st, msg)
	case protocol.StartGame:
		return m.handleStart(ctx, st, msg)
	case protocol.GetRoomState:
		return m.handleGetState(ctx, st, msg)
	case protocol.Heartbeat:
		return m.handleHeartbeat(ctx, st)
	default:
		return model.ErrUnknownMessage
	}
}

func (m *Multiplexer) handleJoin(ctx context.Context, st *connState, msg protocol.JoinRoom) error {
	code := model.NormalizeRoomCode(msg.RoomCode)
	playerID := model.PlayerID(msg.PlayerID)

	// A connection speaks for one player at a time. Handing it to another
	// player releases the old binding up front. The same player moving rooms
	// keeps its seat until the new join succeeds; the coordinator then
	// leaves the old room, which drops the old binding with it.
	if st.bound() {
		switch {
		case playerID == "":
			playerID = st.playerID
		case playerID != st.playerID:
			m.release(ctx, st)
		}
	}

	result, err := m.lobby.JoinRoom(ctx, lobby.JoinRoomParams{
		Code:     string(code),
		PlayerID: playerID,
		Name:     msg.PlayerName,
		Secret:   msg.Secret,
	}, st.conn)
	if err != nil {
		return err
	}

	st.playerID = result.Player.ID
	st.roomCode = code
	return nil
}

func (m *Multiplexer) handleLeave(ctx context.Context, st *connState, msg protocol.LeaveRoom) error {
	if err := m.checkIdentity(st, msg.RoomCode, msg.PlayerID); err != nil {
		return err
	}
	if _, err := m.lobby.LeaveRoom(ctx, string(st.roomCode), st.playerID); err != nil {
		return err
	}
	st.playerID = ""
	st.roomCode = ""
	return nil
}

func (m *Multiplexer) handleChat(ctx context.Context, st *connState, msg protocol.ChatMessage) error {
	if err := m.checkIdentity(st, msg.RoomCode, msg.Sender); err != nil {
		return err
	}
	// The sender renders its own message locally, so it is not echoed back
	_, err := m.lobby.PostChat(ctx, lobby.PostChatParams{
		Code:            string(st.roomCode),
		SenderID:        st.playerID,
		Body:            msg.Body,
		ClientMessageID: msg.ClientMessageID,
		ExceptSender:    true,
	})
	return err
}

func (m *Multiplexer) handleStart(ctx context.Context, st *connState, msg protocol.StartGame) error {
	if err := m.checkIdentity(st, msg.RoomCode, msg.PlayerID); err != nil {
		return err
	}
	_, err := m.lobby.StartGame(ctx, string(st.roomCode), st.playerID)
	return err
}

func (m *Multiplexer) handleGetState(ctx context.Context, st *connState, msg protocol.GetRoomState) error {
	snap, err := m.lobby.View(ctx, msg.RoomCode, st.playerID)
	if err != nil {
		return err
	}
	m.send(st.conn, model.Event{
		Type:      model.EventRoomState,
		Timestamp: m.clock.Now(),
		RoomCode:  snap.Info.Code,
		PlayerID:  st.playerID,
		Version:   snap.Version,
		Payload:   model.RoomStatePayload{Snapshot: snap},
	})
	return nil
}

func (m *Multiplexer) handleHeartbeat(ctx context.Context, st *connState) error {
	if st.bound() {
		if err := m.lobby.Heartbeat(ctx, string(st.roomCode), st.playerID); err != nil {
			return err
		}
	}
	m.send(st.conn, protocol.PongEvent(m.clock.Now()))
	return nil
}

// dropStaleBinding forgets the binding once the coordinator reports the
// player gone from its room, e.g. after an HTTP leave or a janitor sweep
func (m *Multiplexer) dropStaleBinding(st *connState, msg protocol.Message, err error) {
	switch msg.(type) {
	case protocol.JoinRoom, protocol.GetRoomState:
		// These name their own room, not the bound one
		return
	}
	if !st.bound() || !(errors.Is(err, model.ErrNotInRoom) || errors.Is(err, model.ErrRoomNotFound)) {
		return
	}
	m.logger.Debug("stale binding dropped",
		slog.String("conn_id", st.conn.ID()),
		slog.String("player_id", string(st.playerID)),
		slog.String("room_code", string(st.roomCode)))
	st.playerID = ""
	st.roomCode = ""
}

// checkIdentity requires the connection to be bound and the message to
// name the bound room and player
func (m *Multiplexer) checkIdentity(st *connState, code, playerID string) error {
	if !st.bound() {
		return model.ErrNotJoined
	}
	if model.NormalizeRoomCode(code) != st.roomCode || model.PlayerID(playerID) != st.playerID {
		return model.ErrIdentityMismatch
	}
	return nil
}

// OnClose handles a transport close. The bound player leaves its room only
// if this connection is still its live binding.
func (m *Multiplexer) OnClose(ctx context.Context, conn Conn) {
	st, ok := m.state(conn)
	if !ok {
		return
	}
	st.mu.Lock()
	st.closed = true
	if st.bound() {
		m.release(ctx, st)
	}
	st.mu.Unlock()

	m.mu.Lock()
	delete(m.conns, conn.ID())
	m.mu.Unlock()
}

// release drops the connection's binding, leaving the room if it was live.
// Requires st.mu.
func (m *Multiplexer) release(ctx context.Context, st *connState) {
	left, err := m.lobby.Disconnect(ctx, st.roomCode, st.playerID, st.conn.ID())
	if err != nil {
		m.logger.Warn("disconnect failed",
			slog.String("conn_id", st.conn.ID()),
			slog.String("player_id", string(st.playerID)),
			slog.String("room_code", string(st.roomCode)),
			slog.String("error", err.Error()))
	} else {
		m.logger.Debug("connection released",
			slog.String("conn_id", st.conn.ID()),
			slog.String("player_id", string(st.playerID)),
			slog.Bool("left_room", left))
	}
	st.playerID = ""
	st.roomCode = ""
}

// Touch records transport-level liveness (e.g. a pong) for a bound connection
func (m *Multiplexer) Touch(ctx context.Context, conn Conn) {
	st, ok := m.state(conn)
	if !ok {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.bound() && !st.closed {
		m.lobby.Touch(ctx, st.roomCode, st.playerID)
	}
}

// Broadcast sends an event to every live connection of a room, except the
// given player. Delivery is best effort.
func (m *Multiplexer) Broadcast(ctx context.Context, code model.RoomCode, event model.Event, except model.PlayerID) error {
	return m.lobby.Broadcast(ctx, string(code), event, except)
}

func (m *Multiplexer) replyError(conn Conn, err error) {
	if !model.IsExpected(err) {
		m.logger.Error("message handling failed",
			slog.String("conn_id", conn.ID()),
			slog.String("error", err.Error()))
	} else if !errors.Is(err, model.ErrChatRateLimited) {
		m.logger.Debug("message rejected",
			slog.String("conn_id", conn.ID()),
			slog.String("error", err.Error()))
	}
	m.send(conn, protocol.ErrorEvent(err, m.clock.Now()))
}

func (m *Multiplexer) send(conn Conn, event model.Event) {
	if err := conn.TrySend(event); err != nil {
		m.logger.Warn("unicast failed",
			slog.String("conn_id", conn.ID()),
			slog.String("event", string(event.Type)),
			slog.String("error", err.Error()))
	}
}
