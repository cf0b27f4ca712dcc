package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/mcoot/partylobby/internal/api/apierr"
	"github.com/mcoot/partylobby/internal/api/middleware"
	"github.com/mcoot/partylobby/internal/api/request"
	"github.com/mcoot/partylobby/internal/api/response"
	"github.com/mcoot/partylobby/internal/services/lobby"
)

// RoomHandler handles room-related HTTP requests
type RoomHandler struct {
	lobbyController *lobby.Controller
}

// NewRoomHandler creates a new RoomHandler
func NewRoomHandler(lobbyController *lobby.Controller) *RoomHandler {
	return &RoomHandler{lobbyController: lobbyController}
}

// Create handles POST /rooms. The caller is seated as host; without an
// identity header a fresh player id is issued.
func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.NewInvalidRequestError("Invalid request body"))
		return
	}

	snap, player, err := h.lobbyController.CreateRoom(r.Context(), lobby.CreateRoomParams{
		Name:       req.Name,
		MinPlayers: req.MinPlayers,
		MaxPlayers: req.MaxPlayers,
		Private:    req.Private,
		Secret:     req.Secret,
		HostID:     middleware.GetPlayerID(r.Context()),
		HostName:   req.DisplayName,
	})
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	response.Created(w, response.RoomStateFromSnapshot(player.ID, false, *snap))
}

// List handles GET /rooms
func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			apierr.WriteError(w, apierr.NewInvalidRequestError("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	rooms := h.lobbyController.ListRooms(r.Context(), limit)
	response.JSON(w, http.StatusOK, response.RoomListFromModel(rooms))
}

// Get handles GET /rooms/{code}
func (h *RoomHandler) Get(w http.ResponseWriter, r *http.Request) {
	snap, err := h.lobbyController.View(r.Context(), mux.Vars(r)["code"], middleware.GetPlayerID(r.Context()))
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.RoomStateFromSnapshot("", false, snap))
}

// Join handles POST /rooms/{code}/join
func (h *RoomHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req request.JoinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.NewInvalidRequestError("Invalid request body"))
		return
	}

	result, err := h.lobbyController.JoinRoom(r.Context(), lobby.JoinRoomParams{
		Code:     mux.Vars(r)["code"],
		PlayerID: middleware.GetPlayerID(r.Context()),
		Name:     req.DisplayName,
		Secret:   req.Secret,
	}, nil)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.RoomStateFromSnapshot(result.Player.ID, result.Reconnected, result.Snapshot))
}

// Leave handles POST /rooms/{code}/leave
func (h *RoomHandler) Leave(w http.ResponseWriter, r *http.Request) {
	result, err := h.lobbyController.LeaveRoom(r.Context(), mux.Vars(r)["code"], middleware.MustGetPlayerID(r.Context()))
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.LeaveResponse{
		NewHostID:  string(result.NewHostID),
		RoomClosed: result.Closed,
	})
}

// Heartbeat handles POST /rooms/{code}/heartbeat
func (h *RoomHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	if err := h.lobbyController.Heartbeat(r.Context(), mux.Vars(r)["code"], middleware.MustGetPlayerID(r.Context())); err != nil {
		apierr.WriteError(w, err)
		return
	}

	response.NoContent(w)
}

// ChatHistory handles GET /rooms/{code}/chat
func (h *RoomHandler) ChatHistory(w http.ResponseWriter, r *http.Request) {
	entries, noMessages, err := h.lobbyController.ChatHistory(r.Context(), mux.Vars(r)["code"], middleware.GetPlayerID(r.Context()))
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.ChatHistoryFromModel(entries, noMessages))
}

// PostChat handles POST /rooms/{code}/chat. The sender gets the entry in
// the response rather than as a pushed event.
func (h *RoomHandler) PostChat(w http.ResponseWriter, r *http.Request) {
	var req request.PostChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteError(w, apierr.NewInvalidRequestError("Invalid request body"))
		return
	}

	entry, err := h.lobbyController.PostChat(r.Context(), lobby.PostChatParams{
		Code:            mux.Vars(r)["code"],
		SenderID:        middleware.MustGetPlayerID(r.Context()),
		Body:            req.Body,
		ClientMessageID: req.ClientMessageID,
		ExceptSender:    true,
	})
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	response.Created(w, response.ChatMessageFromModel(entry))
}

// StartGame handles POST /rooms/{code}/game
func (h *RoomHandler) StartGame(w http.ResponseWriter, r *http.Request) {
	start, err := h.lobbyController.StartGame(r.Context(), mux.Vars(r)["code"], middleware.MustGetPlayerID(r.Context()))
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.GameStartFromModel(start))
}

// FinishGame handles DELETE /rooms/{code}/game
func (h *RoomHandler) FinishGame(w http.ResponseWriter, r *http.Request) {
	if err := h.lobbyController.FinishGame(r.Context(), mux.Vars(r)["code"], middleware.MustGetPlayerID(r.Context())); err != nil {
		apierr.WriteError(w, err)
		return
	}

	response.NoContent(w)
}
