package sse

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mcoot/partylobby/internal/dependencies/random"
	"github.com/mcoot/partylobby/internal/model"
	"github.com/mcoot/partylobby/internal/services/connmux"
)

// Streamer serves SSE streams bound through the connection multiplexer
type Streamer struct {
	hub        *Hub
	mux        *connmux.Multiplexer
	random     random.Random
	pingPeriod time.Duration
}

// NewStreamer creates a Streamer and starts its hub
func NewStreamer(mux *connmux.Multiplexer, random random.Random, logger *slog.Logger) *Streamer {
	hub := NewHub(logger)
	go hub.Run()
	return &Streamer{
		hub:        hub,
		mux:        mux,
		random:     random,
		pingPeriod: pingPeriod,
	}
}

// Hub returns the hub tracking open streams
func (s *Streamer) Hub() *Hub {
	return s.hub
}

// Close ends every open stream
func (s *Streamer) Close() {
	s.hub.Close()
}

// Stream binds a new SSE stream to a player already seated in the room and
// pushes its events until the client goes away. A non-nil error means
// nothing was written and the caller should report it.
func (s *Streamer) Stream(w http.ResponseWriter, r *http.Request, code string, playerID model.PlayerID) error {
	// Check if SSE is supported
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return nil
	}

	client := NewClient(s.random.ID(), playerID, model.NormalizeRoomCode(code))

	// The request context is cancelled on disconnect; the close path must outlive it
	ctx := context.WithoutCancel(r.Context())

	s.mux.Open(client)
	if err := s.mux.Bind(ctx, client, code, playerID); err != nil {
		s.mux.OnClose(ctx, client)
		return err
	}
	if !s.hub.Register(client) {
		s.mux.OnClose(ctx, client)
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return nil
	}

	// Ensure cleanup on disconnect
	defer func() {
		s.mux.OnClose(ctx, client)
		s.hub.Unregister(client)
	}()

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	// Streams outlive the server's write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(s.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				// Hub closed the stream
				return nil
			}
			if _, err := w.Write(message); err != nil {
				return nil
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return nil
			}
			flusher.Flush()
			s.mux.Touch(ctx, client)

		case <-r.Context().Done():
			// Client disconnected
			return nil
		}
	}
}
