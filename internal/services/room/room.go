package room

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/mcoot/partylobby/internal/dependencies/clock"
	"github.com/mcoot/partylobby/internal/dependencies/random"
	"github.com/mcoot/partylobby/internal/model"
)

const (
	// MaxDisplayNameLength is the longest accepted player display name, in runes
	MaxDisplayNameLength = 24

	// systemSender labels coordinator-authored chat entries
	systemSender = "System"
)

// Sink is a live outbound connection bound to a player in this room.
// TrySend must never block; a failed send is a deferred disconnect.
type Sink interface {
	ID() string
	TrySend(event model.Event) error
}

// Config holds per-room limits
type Config struct {
	ChatLogLimit  int // Retained chat entries, oldest pruned first
	ChatMaxLength int // Max chat body length in runes
}

// DefaultConfig returns the default room limits
func DefaultConfig() Config {
	return Config{
		ChatLogLimit:  100,
		ChatMaxLength: 200,
	}
}

// chatKey scopes a client message id to its sender
type chatKey struct {
	sender   model.PlayerID
	clientID string
}

// Params describes a room at creation. Bounds are expected to be clamped
// by the caller.
type Params struct {
	Code       model.RoomCode
	Name       string
	MinPlayers int
	MaxPlayers int
	Private    bool
	SecretHash []byte // bcrypt hash, nil for an open room

	// The creator is seated as host immediately
	HostID   model.PlayerID
	HostName string
}

// Room is the lobby aggregate: roster, host, chat log, status and the live
// sinks of its members. All state is guarded by mu; every mutation together
// with its fan-out happens inside one critical section.
type Room struct {
	mu sync.Mutex

	code       model.RoomCode
	name       string
	minPlayers int
	maxPlayers int
	private    bool
	secretHash []byte
	creatorID  model.PlayerID
	createdAt  time.Time

	status       model.RoomStatus
	members      []model.Member // Join order
	chat         []model.ChatEntry
	chatIndex    map[chatKey]model.ChatEntry // Client message ids, per sender
	bindings     map[model.PlayerID]Sink
	lastActivity time.Time
	version      uint64
	closed       bool

	cfg    Config
	clock  clock.Clock
	random random.Random
	logger *slog.Logger
}

// New creates a room with its creator seated as host
func New(params Params, cfg Config, clock clock.Clock, random random.Random, logger *slog.Logger) *Room {
	now := clock.Now()
	r := &Room{
		code:         params.Code,
		name:         params.Name,
		minPlayers:   params.MinPlayers,
		maxPlayers:   params.MaxPlayers,
		private:      params.Private,
		secretHash:   params.SecretHash,
		creatorID:    params.HostID,
		createdAt:    now,
		status:       model.RoomStatusWaiting,
		chatIndex:    make(map[chatKey]model.ChatEntry),
		bindings:     make(map[model.PlayerID]Sink),
		lastActivity: now,
		version:      1,
		cfg:          cfg,
		clock:        clock,
		random:       random,
		logger:       logger.With(slog.String("room_code", string(params.Code))),
	}

	r.members = []model.Member{{
		PlayerID:    params.HostID,
		DisplayName: params.HostName,
		IsHost:      true,
		JoinedAt:    now,
	}}

	return r
}

// Code returns the room code
func (r *Room) Code() model.RoomCode {
	return r.code
}

// CreatedAt returns the room's creation time
func (r *Room) CreatedAt() time.Time {
	return r.createdAt
}

// Private reports whether the room is hidden from listings
func (r *Room) Private() bool {
	return r.private
}

// LastActivity returns the time of the last mutation or touch
func (r *Room) LastActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivity
}

// Touch marks the room as active
func (r *Room) Touch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastActivity = r.clock.Now()
}

// IsEmpty reports whether the roster is empty
func (r *Room) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members) == 0
}

// IsClosed reports whether the room has been closed
func (r *Room) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// IsMember reports whether the player is in the roster
func (r *Room) IsMember(playerID model.PlayerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.indexOf(playerID) >= 0
}

// Info returns the room's descriptive attributes
func (r *Room) Info() model.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info()
}

// Summary returns the listing view of the room
func (r *Room) Summary() model.RoomSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return model.RoomSummary{
		Code:        r.code,
		Name:        r.name,
		PlayerCount: len(r.members),
		MinPlayers:  r.minPlayers,
		MaxPlayers:  r.maxPlayers,
		Status:      r.status,
		CreatedAt:   r.createdAt,
	}
}

// Snapshot returns the full current state of the room
func (r *Room) Snapshot() model.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

// ChatLog returns a copy of the retained chat log
func (r *Room) ChatLog() []model.ChatEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	chat := make([]model.ChatEntry, len(r.chat))
	copy(chat, r.chat)
	return chat
}

// JoinRequest describes a join attempt
type JoinRequest struct {
	PlayerID model.PlayerID
	Name     string
	Secret   string
	Sink     Sink // Optional live connection to bind
}

// JoinResult describes an accepted join
type JoinResult struct {
	Member         model.Member
	Reconnected    bool
	PreviousHostID model.PlayerID // Set when the joiner took host from someone
	Snapshot       model.Snapshot
}

// Join seats a player. Re-joining with an id already in the roster is a
// reconnect and never duplicates the roster entry.
func (r *Room) Join(req JoinRequest) (JoinResult, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return JoinResult{}, model.ErrEmptyName
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return JoinResult{}, model.ErrNameTooLong
	}

	if r.IsClosed() {
		return JoinResult{}, model.ErrRoomNotFound
	}

	// The hash never changes after creation, so the slow compare runs
	// outside the lock
	if r.private && r.secretHash != nil {
		if err := bcrypt.CompareHashAndPassword(r.secretHash, []byte(req.Secret)); err != nil {
			return JoinResult{}, model.ErrWrongSecret
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return JoinResult{}, model.ErrRoomNotFound
	}

	if idx := r.indexOf(req.PlayerID); idx >= 0 {
		r.lastActivity = r.clock.Now()
		if req.Sink != nil {
			r.bind(req.PlayerID, req.Sink)
		}
		snap := r.snapshot()
		if req.Sink != nil {
			r.send(req.Sink, r.event(model.EventRoomState, req.PlayerID, model.RoomStatePayload{Snapshot: snap}))
		}
		r.logger.Debug("player reconnected", slog.String("player_id", string(req.PlayerID)))
		return JoinResult{Member: r.members[idx], Reconnected: true, Snapshot: snap}, nil
	}

	if len(r.members) >= r.maxPlayers {
		return JoinResult{}, model.ErrRoomFull
	}
	if r.status != model.RoomStatusWaiting {
		return JoinResult{}, model.ErrRoomNotWaiting
	}
	for _, m := range r.members {
		if strings.EqualFold(m.DisplayName, name) {
			return JoinResult{}, model.ErrDuplicateName
		}
	}

	now := r.clock.Now()
	member := model.Member{
		PlayerID:    req.PlayerID,
		DisplayName: name,
		IsHost:      len(r.members) == 0 || req.PlayerID == r.creatorID,
		JoinedAt:    now,
	}

	var previousHost model.PlayerID
	if member.IsHost {
		for i := range r.members {
			if r.members[i].IsHost {
				previousHost = r.members[i].PlayerID
				r.members[i].IsHost = false
			}
		}
	}

	r.members = append(r.members, member)
	r.lastActivity = now
	r.version++
	r.ensureSingleHost()

	joinEntry := r.appendSystemChat(fmt.Sprintf("%s joined the room", name))
	r.broadcast(r.event(model.EventPlayerJoined, member.PlayerID, model.PlayerJoinedPayload{Member: member}), member.PlayerID)
	r.broadcast(r.event(model.EventChatMessage, member.PlayerID, model.ChatMessagePayload{Entry: joinEntry}), member.PlayerID)

	if previousHost != "" {
		hostEntry := r.appendSystemChat(fmt.Sprintf("%s is now the host", name))
		r.broadcast(r.event(model.EventHostChanged, member.PlayerID, model.HostChangedPayload{
			OldHostID: previousHost,
			NewHostID: member.PlayerID,
		}), "")
		r.broadcast(r.event(model.EventChatMessage, member.PlayerID, model.ChatMessagePayload{Entry: hostEntry}), member.PlayerID)
	}

	if req.Sink != nil {
		r.bind(member.PlayerID, req.Sink)
	}
	snap := r.snapshot()
	if req.Sink != nil {
		r.send(req.Sink, r.event(model.EventRoomState, member.PlayerID, model.RoomStatePayload{Snapshot: snap}))
	}

	r.logger.Info("player joined",
		slog.String("player_id", string(member.PlayerID)),
		slog.Bool("is_host", member.IsHost),
		slog.Int("player_count", len(r.members)))

	return JoinResult{Member: member, PreviousHostID: previousHost, Snapshot: snap}, nil
}

// LeaveResult describes the effect of a departure
type LeaveResult struct {
	Member    model.Member   // The departed roster entry
	NewHostID model.PlayerID // Set when host passed to another member
	Closed    bool           // The roster emptied and the room closed
}

// Leave removes a player from the roster
func (r *Room) Leave(playerID model.PlayerID) (LeaveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leave(playerID)
}

// LeaveIfBound removes the player only if sinkID is still its live binding.
// It reports false without error when the binding was superseded.
func (r *Room) LeaveIfBound(playerID model.PlayerID, sinkID string) (LeaveResult, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sink, ok := r.bindings[playerID]
	if !ok || sink.ID() != sinkID {
		return LeaveResult{}, false, nil
	}

	result, err := r.leave(playerID)
	if err != nil {
		return LeaveResult{}, false, err
	}
	return result, true, nil
}

func (r *Room) leave(playerID model.PlayerID) (LeaveResult, error) {
	if r.closed {
		return LeaveResult{}, model.ErrRoomNotFound
	}

	idx := r.indexOf(playerID)
	if idx < 0 {
		return LeaveResult{}, model.ErrNotInRoom
	}

	departed := r.members[idx]
	r.members = append(r.members[:idx:idx], r.members[idx+1:]...)
	delete(r.bindings, playerID)
	r.lastActivity = r.clock.Now()
	r.version++

	if len(r.members) == 0 {
		r.closed = true
		r.logger.Info("room emptied", slog.String("player_id", string(playerID)))
		return LeaveResult{Member: departed, Closed: true}, nil
	}

	var newHost model.PlayerID
	if departed.IsHost {
		// Roster is join-ordered, so the earliest remaining joiner inherits host
		r.members[0].IsHost = true
		newHost = r.members[0].PlayerID
	}
	r.ensureSingleHost()

	leaveEntry := r.appendSystemChat(fmt.Sprintf("%s left the room", departed.DisplayName))
	r.broadcast(r.event(model.EventPlayerLeft, playerID, model.PlayerLeftPayload{
		PlayerID:    playerID,
		DisplayName: departed.DisplayName,
		NewHostID:   newHost,
	}), "")
	r.broadcast(r.event(model.EventChatMessage, playerID, model.ChatMessagePayload{Entry: leaveEntry}), "")

	if newHost != "" {
		hostEntry := r.appendSystemChat(fmt.Sprintf("%s is now the host", r.members[0].DisplayName))
		r.broadcast(r.event(model.EventHostChanged, newHost, model.HostChangedPayload{
			OldHostID: playerID,
			NewHostID: newHost,
		}), "")
		r.broadcast(r.event(model.EventChatMessage, newHost, model.ChatMessagePayload{Entry: hostEntry}), "")
	}

	r.logger.Info("player left",
		slog.String("player_id", string(playerID)),
		slog.String("new_host_id", string(newHost)),
		slog.Int("player_count", len(r.members)))

	return LeaveResult{Member: departed, NewHostID: newHost}, nil
}

// StartGame moves the room into play. Only the host may start, and only
// once the roster has reached the minimum size.
func (r *Room) StartGame(requesterID model.PlayerID) (model.GameStart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return model.GameStart{}, model.ErrRoomNotFound
	}
	if host := r.host(); host == nil || host.PlayerID != requesterID {
		return model.GameStart{}, model.ErrNotHost
	}
	if r.status != model.RoomStatusWaiting {
		return model.GameStart{}, model.ErrRoomNotWaiting
	}
	if len(r.members) < r.minPlayers {
		return model.GameStart{}, model.ErrInsufficientPlayers
	}

	now := r.clock.Now()
	r.status = model.RoomStatusPlaying
	r.lastActivity = now
	r.version++

	roster := r.roster()
	start := model.GameStart{
		RoomCode:  r.code,
		Roster:    roster,
		StartedAt: now,
	}

	entry := r.appendSystemChat("The game has started")
	r.broadcast(r.event(model.EventGameStarted, requesterID, model.GameStartedPayload{Roster: roster}), "")
	r.broadcast(r.event(model.EventChatMessage, requesterID, model.ChatMessagePayload{Entry: entry}), "")

	r.logger.Info("game started", slog.Int("player_count", len(roster)))
	return start, nil
}

// FinishGame marks a running game as finished. The room is terminal afterwards.
func (r *Room) FinishGame(requesterID model.PlayerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return model.ErrRoomNotFound
	}
	if host := r.host(); host == nil || host.PlayerID != requesterID {
		return model.ErrNotHost
	}
	if r.status != model.RoomStatusPlaying {
		return model.ErrNotPlaying
	}

	r.status = model.RoomStatusFinished
	r.lastActivity = r.clock.Now()
	r.version++

	entry := r.appendSystemChat("The game has finished")
	r.broadcast(r.event(model.EventGameEnded, requesterID, model.GameEndedPayload{FinishedBy: requesterID}), "")
	r.broadcast(r.event(model.EventChatMessage, requesterID, model.ChatMessagePayload{Entry: entry}), "")

	r.logger.Info("game finished")
	return nil
}

// ChatRequest describes a chat post
type ChatRequest struct {
	SenderID        model.PlayerID
	Body            string
	ClientMessageID string
	ExceptSender    bool // Do not echo the entry back to the sender's sink
}

// ChatResult describes an accepted chat post
type ChatResult struct {
	Entry     model.ChatEntry
	Duplicate bool // The client message id was already in the log
}

// PostChat appends a user entry and fans it out. Re-posting a retained
// client message id returns the existing entry without a new broadcast.
func (r *Room) PostChat(req ChatRequest) (ChatResult, error) {
	body := strings.TrimSpace(req.Body)
	if body == "" {
		return ChatResult{}, model.ErrEmptyChat
	}
	if utf8.RuneCountInString(body) > r.cfg.ChatMaxLength {
		return ChatResult{}, model.ErrChatTooLong
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ChatResult{}, model.ErrRoomNotFound
	}
	idx := r.indexOf(req.SenderID)
	if idx < 0 {
		return ChatResult{}, model.ErrNotInRoom
	}

	key := chatKey{sender: req.SenderID, clientID: req.ClientMessageID}
	if req.ClientMessageID != "" {
		if existing, ok := r.chatIndex[key]; ok {
			return ChatResult{Entry: existing, Duplicate: true}, nil
		}
	}

	id := req.ClientMessageID
	if id == "" {
		id = r.random.ID()
	}

	entry := model.ChatEntry{
		ID:       id,
		SenderID: req.SenderID,
		Sender:   r.members[idx].DisplayName,
		Body:     body,
		Kind:     model.ChatKindUser,
		SentAt:   r.clock.Now(),
	}
	r.appendChat(entry)
	if req.ClientMessageID != "" {
		r.chatIndex[key] = entry
	}
	r.lastActivity = entry.SentAt
	r.version++

	var except model.PlayerID
	if req.ExceptSender {
		except = req.SenderID
	}
	r.broadcast(r.event(model.EventChatMessage, req.SenderID, model.ChatMessagePayload{Entry: entry}), except)

	return ChatResult{Entry: entry}, nil
}

// Bind makes sink the player's live connection, superseding any previous
// one, and sends it the full room state. The old sink is not closed.
func (r *Room) Bind(playerID model.PlayerID, sink Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return model.ErrRoomNotFound
	}
	if r.indexOf(playerID) < 0 {
		return model.ErrNotInRoom
	}

	r.bind(playerID, sink)
	r.lastActivity = r.clock.Now()
	r.send(sink, r.event(model.EventRoomState, playerID, model.RoomStatePayload{Snapshot: r.snapshot()}))
	return nil
}

// Broadcast stamps the event with the room's code and version and delivers
// it to every bound member except the optional excluded player
func (r *Room) Broadcast(event model.Event, except model.PlayerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	event.RoomCode = r.code
	event.Version = r.version
	if event.Timestamp.IsZero() {
		event.Timestamp = r.clock.Now()
	}
	r.broadcast(event, except)
}

// Close terminates the room, notifying bound members with a roomClosed
// event. It returns the roster at the time of closing. Closing twice is a
// no-op that returns nil.
func (r *Room) Close(reason string) []model.Member {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true
	r.version++
	r.broadcast(r.event(model.EventRoomClosed, "", model.RoomClosedPayload{Reason: reason}), "")

	members := r.roster()
	r.members = nil
	r.bindings = make(map[model.PlayerID]Sink)

	r.logger.Info("room closed", slog.String("reason", reason), slog.Int("player_count", len(members)))
	return members
}

// Internal helpers. All require mu to be held.

func (r *Room) indexOf(playerID model.PlayerID) int {
	for i := range r.members {
		if r.members[i].PlayerID == playerID {
			return i
		}
	}
	return -1
}

func (r *Room) host() *model.Member {
	for i := range r.members {
		if r.members[i].IsHost {
			return &r.members[i]
		}
	}
	return nil
}

func (r *Room) info() model.RoomInfo {
	var hostID model.PlayerID
	if h := r.host(); h != nil {
		hostID = h.PlayerID
	}
	return model.RoomInfo{
		Code:         r.code,
		Name:         r.name,
		MinPlayers:   r.minPlayers,
		MaxPlayers:   r.maxPlayers,
		Private:      r.private,
		Status:       r.status,
		HostID:       hostID,
		PlayerCount:  len(r.members),
		CreatedAt:    r.createdAt,
		LastActivity: r.lastActivity,
	}
}

func (r *Room) roster() []model.Member {
	roster := make([]model.Member, len(r.members))
	copy(roster, r.members)
	for i := range roster {
		_, roster[i].Connected = r.bindings[roster[i].PlayerID]
	}
	return roster
}

func (r *Room) snapshot() model.Snapshot {
	chat := make([]model.ChatEntry, len(r.chat))
	copy(chat, r.chat)
	return model.Snapshot{
		Info:       r.info(),
		Members:    r.roster(),
		Chat:       chat,
		NoMessages: len(chat) == 0,
		Version:    r.version,
	}
}

// ensureSingleHost repairs the exactly-one-host invariant. A violation is a
// programming error; it is logged and healed from roster order.
func (r *Room) ensureSingleHost() {
	if len(r.members) == 0 {
		return
	}
	hosts := 0
	for _, m := range r.members {
		if m.IsHost {
			hosts++
		}
	}
	if hosts == 1 {
		return
	}

	r.logger.Error("host invariant violated, repairing from roster order",
		slog.Int("host_count", hosts),
		slog.Int("player_count", len(r.members)))
	for i := range r.members {
		r.members[i].IsHost = i == 0
	}
}

func (r *Room) appendSystemChat(body string) model.ChatEntry {
	entry := model.ChatEntry{
		ID:     r.random.ID(),
		Sender: systemSender,
		Body:   body,
		Kind:   model.ChatKindSystem,
		SentAt: r.clock.Now(),
	}
	r.appendChat(entry)
	return entry
}

func (r *Room) appendChat(entry model.ChatEntry) {
	r.chat = append(r.chat, entry)

	if over := len(r.chat) - r.cfg.ChatLogLimit; r.cfg.ChatLogLimit > 0 && over > 0 {
		for _, pruned := range r.chat[:over] {
			key := chatKey{sender: pruned.SenderID, clientID: pruned.ID}
			if indexed, ok := r.chatIndex[key]; ok && indexed == pruned {
				delete(r.chatIndex, key)
			}
		}
		r.chat = append([]model.ChatEntry(nil), r.chat[over:]...)
	}
}

func (r *Room) bind(playerID model.PlayerID, sink Sink) {
	if old, ok := r.bindings[playerID]; ok && old.ID() != sink.ID() {
		r.logger.Debug("binding superseded",
			slog.String("player_id", string(playerID)),
			slog.String("old_conn", old.ID()),
			slog.String("new_conn", sink.ID()))
	}
	r.bindings[playerID] = sink
}

func (r *Room) event(eventType model.EventType, playerID model.PlayerID, payload any) model.Event {
	return model.Event{
		Type:      eventType,
		Timestamp: r.clock.Now(),
		RoomCode:  r.code,
		PlayerID:  playerID,
		Version:   r.version,
		Payload:   payload,
	}
}

// broadcast delivers in roster order. Sends never block; failures are left
// for the transport's close callback or the janitor to reconcile.
func (r *Room) broadcast(event model.Event, except model.PlayerID) {
	sent, dropped := 0, 0
	for _, m := range r.members {
		if m.PlayerID == except {
			continue
		}
		sink, ok := r.bindings[m.PlayerID]
		if !ok {
			continue
		}
		if r.send(sink, event) {
			sent++
		} else {
			dropped++
		}
	}
	if dropped > 0 {
		r.logger.Warn("broadcast partial failure",
			slog.String("event", string(event.Type)),
			slog.Int("sent", sent),
			slog.Int("dropped", dropped))
	}
}

func (r *Room) send(sink Sink, event model.Event) bool {
	if err := sink.TrySend(event); err != nil {
		r.logger.Warn("send failed",
			slog.String("conn_id", sink.ID()),
			slog.String("event", string(event.Type)),
			slog.String("error", err.Error()))
		return false
	}
	return true
}
