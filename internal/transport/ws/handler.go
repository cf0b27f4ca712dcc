package ws

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcoot/partylobby/internal/dependencies/random"
	"github.com/mcoot/partylobby/internal/services/connmux"
)

// Config holds WebSocket limits
type Config struct {
	ReadLimit  int64         // Largest accepted inbound frame, in bytes
	PingPeriod time.Duration // Interval between server pings
	WriteWait  time.Duration // Deadline for a single write
	SendBuffer int           // Outbound frames queued per connection
}

// DefaultConfig returns the default WebSocket limits
func DefaultConfig() Config {
	return Config{
		ReadLimit:  4096,
		PingPeriod: 30 * time.Second,
		WriteWait:  10 * time.Second,
		SendBuffer: 64,
	}
}

// Handler upgrades HTTP requests and drives each connection through the
// multiplexer lifecycle: Open, OnMessage per frame, OnClose on exit
type Handler struct {
	mux      *connmux.Multiplexer
	random   random.Random
	logger   *slog.Logger
	cfg      Config
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// NewHandler creates a new WebSocket handler
func NewHandler(mux *connmux.Multiplexer, random random.Random, logger *slog.Logger, cfg Config) *Handler {
	return &Handler{
		mux:    mux,
		random: random,
		logger: logger.With(slog.String("component", "ws")),
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Identity is per message, not per origin
			},
		},
		conns: make(map[*Conn]struct{}),
	}
}

// ServeHTTP handles GET /api/v1/ws
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	conn := newConn(h.random.ID(), h.cfg.SendBuffer)
	h.track(conn)
	h.mux.Open(conn)

	h.logger.Info("websocket connected",
		slog.String("conn_id", conn.ID()),
		slog.String("remote_addr", r.RemoteAddr))

	// The request context ends with the handler; the close path must outlive it
	ctx := context.WithoutCancel(r.Context())

	go h.writePump(wsConn, conn)
	h.readPump(ctx, wsConn, conn)
}

func (h *Handler) readPump(ctx context.Context, wsConn *websocket.Conn, conn *Conn) {
	connectedAt := time.Now()
	defer func() {
		h.mux.OnClose(ctx, conn)
		h.untrack(conn)
		conn.close()
		_ = wsConn.Close()
		h.logger.Info("websocket disconnected",
			slog.String("conn_id", conn.ID()),
			slog.Duration("connection_duration", time.Since(connectedAt)))
	}()

	pongWait := 2 * h.cfg.PingPeriod
	wsConn.SetReadLimit(h.cfg.ReadLimit)
	_ = wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		h.mux.Touch(ctx, conn)
		return wsConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read failed",
					slog.String("conn_id", conn.ID()),
					slog.String("error", err.Error()))
			}
			return
		}
		_ = wsConn.SetReadDeadline(time.Now().Add(pongWait))
		h.mux.OnMessage(ctx, conn, data)
	}
}

func (h *Handler) writePump(wsConn *websocket.Conn, conn *Conn) {
	ticker := time.NewTicker(h.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = wsConn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.send:
			_ = wsConn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if !ok {
				_ = wsConn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := wsConn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = wsConn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) track(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

func (h *Handler) untrack(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}

// Count returns the number of open WebSocket connections
func (h *Handler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// CloseAll asks every open connection to close. Used on shutdown, since
// hijacked connections are not closed by http.Server.Shutdown.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	if len(conns) > 0 {
		h.logger.Info("websocket connections closed", slog.Int("count", len(conns)))
	}
}
