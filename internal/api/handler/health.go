package handler

import (
	"log/slog"
	"net/http"

	"github.com/mcoot/partylobby/internal/api/response"
	"github.com/mcoot/partylobby/internal/services/connmux"
	"github.com/mcoot/partylobby/internal/services/lobby"
)

// HealthHandler reports liveness and current load
type HealthHandler struct {
	lobbyController *lobby.Controller
	multiplexer     *connmux.Multiplexer
	logger          *slog.Logger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(lobbyController *lobby.Controller, multiplexer *connmux.Multiplexer, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{lobbyController: lobbyController, multiplexer: multiplexer, logger: logger}
}

// Get handles GET /health. It answers 503 while the player store is unreachable.
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	stats, err := h.lobbyController.Stats(r.Context())
	resp := response.HealthResponse{
		Status:      "ok",
		Rooms:       stats.Rooms,
		MaxRooms:    stats.MaxRooms,
		Players:     stats.Players,
		Connections: h.multiplexer.Count(),
	}
	if err != nil {
		h.logger.Warn("health check degraded", slog.String("error", err.Error()))
		resp.Status = "degraded"
		response.JSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	response.JSON(w, http.StatusOK, resp)
}
