package e2e_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mcoot/partylobby/internal/api"
	"github.com/mcoot/partylobby/internal/api/response"
	"github.com/mcoot/partylobby/internal/cli"
	"github.com/mcoot/partylobby/internal/factory"
	"github.com/mcoot/partylobby/internal/services/lobby"
	"github.com/mcoot/partylobby/internal/services/registry"
)

// syncBuffer is a bytes.Buffer safe for a writer and a polling reader
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// testServer runs the full API in-process
type testServer struct {
	app    *factory.App
	server *httptest.Server
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	regCfg := registry.DefaultConfig()
	regCfg.SecretCost = bcrypt.MinCost

	app, err := factory.New(factory.Config{Logger: logger, Registry: regCfg})
	require.NoError(t, err)

	router := api.NewRouter(api.RouterConfig{
		Logger:          logger,
		LobbyController: app.LobbyController,
		Multiplexer:     app.Multiplexer,
		Streamer:        app.Streamer,
		WebSocket:       app.WebSocket,
	})
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		_ = app.Close()
		server.Close()
	})

	return &testServer{app: app, server: server}
}

// cliRunner executes lobbyctl commands in-process
type cliRunner struct {
	serverURL  string
	playerFile string
}

func newCLIRunner(t *testing.T, ts *testServer) *cliRunner {
	t.Helper()
	return &cliRunner{
		serverURL:  ts.server.URL,
		playerFile: filepath.Join(t.TempDir(), "player"),
	}
}

func (r *cliRunner) args(extra ...string) []string {
	return append([]string{
		"--server", r.serverURL,
		"--player-file", r.playerFile,
		"--output", "json",
	}, extra...)
}

func (r *cliRunner) run(args ...string) (string, error) {
	return r.runContext(context.Background(), &bytes.Buffer{}, args...)
}

func (r *cliRunner) runContext(ctx context.Context, out interface {
	Write([]byte) (int, error)
	String() string
}, args ...string) (string, error) {
	cmd := cli.NewRootCmd()
	cmd.SetArgs(r.args(args...))
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func decode[T any](t *testing.T, output string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(output), &v), output)
	return v
}

func TestHealth(t *testing.T) {
	ts := startTestServer(t)
	r := newCLIRunner(t, ts)

	output, err := r.run("health")
	require.NoError(t, err)

	resp := decode[response.HealthResponse](t, output)
	assert.Equal(t, "ok", resp.Status)
}

func TestCreateRemembersPlayer(t *testing.T) {
	ts := startTestServer(t)
	r := newCLIRunner(t, ts)

	output, err := r.run("room", "create", "--name", "Alice", "--room-name", "Friday")
	require.NoError(t, err)
	created := decode[response.RoomStateResponse](t, output)
	require.NotEmpty(t, created.PlayerID)

	saved, err := os.ReadFile(r.playerFile)
	require.NoError(t, err)
	assert.Equal(t, created.PlayerID, string(saved))

	// Later commands act as the saved player
	output, err = r.run("room", "chat", created.State.Room.Code, "hello")
	require.NoError(t, err)
	msg := decode[response.ChatMessageResponse](t, output)
	assert.Equal(t, "Alice", msg.Message.Sender)
}

func TestFullLobbyFlow(t *testing.T) {
	ts := startTestServer(t)
	host := newCLIRunner(t, ts)

	output, err := host.run("--player", "host", "room", "create", "--name", "Host")
	require.NoError(t, err)
	code := decode[response.RoomStateResponse](t, output).State.Room.Code

	output, err = host.run("room", "list")
	require.NoError(t, err)
	list := decode[response.RoomListResponse](t, output)
	require.Len(t, list.Rooms, 1)
	assert.Equal(t, code, list.Rooms[0].Code)

	for _, p := range []struct{ id, name string }{{"p1", "Ann"}, {"p2", "Ben"}} {
		_, err = host.run("--player", p.id, "room", "join", code, "--name", p.name)
		require.NoError(t, err)
	}

	// Three players is below the default minimum
	_, err = host.run("--player", "host", "room", "start", code)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INSUFFICIENT_PLAYERS")

	_, err = host.run("--player", "p3", "room", "join", code, "--name", "Cat")
	require.NoError(t, err)

	output, err = host.run("--player", "host", "room", "start", code)
	require.NoError(t, err)
	assert.Len(t, decode[response.GameStartResponse](t, output).Roster, 4)

	_, err = host.run("--player", "host", "room", "finish", code)
	require.NoError(t, err)

	output, err = host.run("--player", "host", "room", "leave", code)
	require.NoError(t, err)
	assert.Equal(t, "p1", decode[response.LeaveResponse](t, output).NewHostID)

	output, err = host.run("room", "history", code)
	require.NoError(t, err)
	history := decode[response.ChatHistoryResponse](t, output)
	assert.False(t, history.NoMessages)
	assert.NotEmpty(t, history.Messages)
}

func TestCommandsRequirePlayer(t *testing.T) {
	ts := startTestServer(t)
	r := newCLIRunner(t, ts)

	_, err := r.run("heartbeat", "ABC123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no player id")
}

func TestWatchStreamsEvents(t *testing.T) {
	ts := startTestServer(t)
	r := newCLIRunner(t, ts)

	output, err := r.run("--player", "host", "room", "create", "--name", "Host")
	require.NoError(t, err)
	code := decode[response.RoomStateResponse](t, output).State.Room.Code

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		_, err := r.runContext(ctx, out, "--player", "watcher", "watch", code, "--name", "Wendy")
		done <- err
	}()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"type":"roomState"`)
	}, 5*time.Second, 20*time.Millisecond)

	_, err = ts.app.LobbyController.JoinRoom(context.Background(), lobby.JoinRoomParams{
		Code: code, PlayerID: "p1", Name: "Ann",
	}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"type":"playerJoined"`)
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestWatchRejectedJoinStops(t *testing.T) {
	ts := startTestServer(t)
	r := newCLIRunner(t, ts)

	_, err := r.run("--player", "watcher", "watch", "NOPE00", "--name", "Wendy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ROOM_NOT_FOUND")
}
