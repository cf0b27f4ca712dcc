package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/partylobby/internal/api/handler"
	"github.com/mcoot/partylobby/internal/api/middleware"
	"github.com/mcoot/partylobby/internal/services/connmux"
	"github.com/mcoot/partylobby/internal/services/lobby"
	"github.com/mcoot/partylobby/internal/transport/ws"
	"github.com/mcoot/partylobby/internal/web/sse"
)

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger          *slog.Logger
	LobbyController *lobby.Controller
	Multiplexer     *connmux.Multiplexer
	Streamer        *sse.Streamer
	WebSocket       *ws.Handler
}

// NewRouter creates a new API router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	// Create handlers
	roomHandler := handler.NewRoomHandler(cfg.LobbyController)
	streamHandler := handler.NewStreamHandler(cfg.Streamer)
	healthHandler := handler.NewHealthHandler(cfg.LobbyController, cfg.Multiplexer, cfg.Logger)

	// Create middleware
	loggingMiddleware := middleware.Logging(cfg.Logger)
	recoveryMiddleware := middleware.Recovery(cfg.Logger)

	// API subrouter with common middleware
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(recoveryMiddleware)
	api.Use(loggingMiddleware)

	// Creating, joining and viewing rooms work without an identity;
	// one is issued on create/join when missing
	open := api.PathPrefix("/rooms").Subrouter()
	open.Use(middleware.OptionalIdentity)
	open.HandleFunc("", roomHandler.Create).Methods(http.MethodPost)
	open.HandleFunc("", roomHandler.List).Methods(http.MethodGet)
	open.HandleFunc("/{code}", roomHandler.Get).Methods(http.MethodGet)
	open.HandleFunc("/{code}/join", roomHandler.Join).Methods(http.MethodPost)
	open.HandleFunc("/{code}/chat", roomHandler.ChatHistory).Methods(http.MethodGet)

	// Everything acting as a seated player requires an identity
	rooms := api.PathPrefix("/rooms").Subrouter()
	rooms.Use(middleware.RequireIdentity)
	rooms.HandleFunc("/{code}/leave", roomHandler.Leave).Methods(http.MethodPost)
	rooms.HandleFunc("/{code}/heartbeat", roomHandler.Heartbeat).Methods(http.MethodPost)
	rooms.HandleFunc("/{code}/chat", roomHandler.PostChat).Methods(http.MethodPost)
	rooms.HandleFunc("/{code}/game", roomHandler.StartGame).Methods(http.MethodPost)
	rooms.HandleFunc("/{code}/game", roomHandler.FinishGame).Methods(http.MethodDelete)
	rooms.HandleFunc("/{code}/events", streamHandler.Events).Methods(http.MethodGet)

	// Socket identity travels in the joinRoom frame
	api.Handle("/ws", cfg.WebSocket).Methods(http.MethodGet)

	// Health check endpoint (no auth)
	api.HandleFunc("/health", healthHandler.Get).Methods(http.MethodGet)

	return r
}
