package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/partylobby/internal/api/apierr"
	"github.com/mcoot/partylobby/internal/api/middleware"
	"github.com/mcoot/partylobby/internal/web/sse"
)

// StreamHandler serves the SSE push stream for a seated player
type StreamHandler struct {
	streamer *sse.Streamer
}

// NewStreamHandler creates a new StreamHandler
func NewStreamHandler(streamer *sse.Streamer) *StreamHandler {
	return &StreamHandler{streamer: streamer}
}

// Events handles GET /rooms/{code}/events
func (h *StreamHandler) Events(w http.ResponseWriter, r *http.Request) {
	err := h.streamer.Stream(w, r, mux.Vars(r)["code"], middleware.MustGetPlayerID(r.Context()))
	if err != nil {
		apierr.WriteError(w, err)
	}
}
