// Package server tests drive the full stack: real SQLite store, real
// dispatcher, in-memory pipes instead of TCP sockets.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/parley/internal/profile"
	"github.com/hrygo/parley/plugin/storage"
	"github.com/hrygo/parley/server/wire"
	"github.com/hrygo/parley/store"
	"github.com/hrygo/parley/store/db/sqlite"
)

const (
	testAdminPassword = "admin123"
	testIOTimeout     = 3 * time.Second
)

func newTestProfile(t *testing.T) *profile.Profile {
	t.Helper()
	dir := t.TempDir()
	return &profile.Profile{
		Mode:          "dev",
		Addr:          "127.0.0.1",
		Data:          dir,
		Driver:        "sqlite",
		DSN:           filepath.Join(dir, "parley_test.db"),
		Version:       "0.0.0-test",
		AdminPassword: testAdminPassword,
		FileRoot:      filepath.Join(dir, "files"),
		MaxFileMB:     8,
		FileExts:      []string{"txt", "pdf", "jpg", "png"},
		HistoryLimit:  50,
		// Generous limits so only the dedicated test trips the limiter.
		ChatRatePerSec: 1000,
		ChatBurst:      1000,
	}
}

// newTestServer assembles a server over a fresh store without binding a
// TCP listener; tests connect through dial.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestServerWithProfile(t, newTestProfile(t))
}

func newTestServerWithProfile(t *testing.T, p *profile.Profile) *Server {
	t.Helper()

	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	st := store.New(driver, p)
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.Seed(ctx, p.AdminPassword))

	blobs, err := storage.NewLocalStore(p.FileRoot)
	require.NoError(t, err)

	s, err := NewServer(p, st, blobs)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = st.Close()
	})
	return s
}

// testClient is one protocol peer over an in-memory pipe.
type testClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

// dial connects a client to the server the same way the accept loop
// would, minus the socket.
func dial(t *testing.T, s *Server) *testClient {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	go s.serveConn(context.Background(), serverSide)

	tc := &testClient{t: t, conn: clientSide, reader: bufio.NewReader(clientSide)}
	t.Cleanup(func() {
		_ = clientSide.Close()
	})
	return tc
}

func (tc *testClient) send(v any) {
	tc.t.Helper()
	data, err := json.Marshal(v)
	require.NoError(tc.t, err)
	tc.sendRaw(string(data))
}

func (tc *testClient) sendRaw(line string) {
	tc.t.Helper()
	require.NoError(tc.t, tc.conn.SetWriteDeadline(time.Now().Add(testIOTimeout)))
	_, err := tc.conn.Write([]byte(line + "\n"))
	require.NoError(tc.t, err)
}

func (tc *testClient) recv() map[string]any {
	tc.t.Helper()
	require.NoError(tc.t, tc.conn.SetReadDeadline(time.Now().Add(testIOTimeout)))
	line, err := tc.reader.ReadString('\n')
	require.NoError(tc.t, err)

	var frame map[string]any
	require.NoError(tc.t, json.Unmarshal([]byte(line), &frame))
	return frame
}

// expect reads one frame and asserts its tag.
func (tc *testClient) expect(messageType string) map[string]any {
	tc.t.Helper()
	frame := tc.recv()
	require.Equal(tc.t, messageType, frame["message_type"], "unexpected frame: %v", frame)
	return frame
}

func (tc *testClient) register(username, password string) map[string]any {
	tc.t.Helper()
	tc.send(map[string]any{
		"message_type": wire.TypeRegisterRequest,
		"timestamp":    wire.Now(),
		"username":     username,
		"password":     password,
	})
	return tc.expect(wire.TypeRegisterResponse)
}

func (tc *testClient) login(username, password string) map[string]any {
	tc.t.Helper()
	tc.send(map[string]any{
		"message_type": wire.TypeLoginRequest,
		"timestamp":    wire.Now(),
		"username":     username,
		"password":     password,
	})
	return tc.expect(wire.TypeLoginResponse)
}

// registerAndLogin is the common preamble of most scenarios.
func (tc *testClient) registerAndLogin(username, password string) {
	tc.t.Helper()
	resp := tc.register(username, password)
	require.Equal(tc.t, true, resp["success"])
	resp = tc.login(username, password)
	require.Equal(tc.t, true, resp["success"])
}

func (tc *testClient) createChat(name string, members []string) map[string]any {
	tc.t.Helper()
	tc.send(map[string]any{
		"message_type":     wire.TypeCreateChatRequest,
		"timestamp":        wire.Now(),
		"chat_name":        name,
		"member_usernames": members,
	})
	return tc.expect(wire.TypeCreateChatResponse)
}

func (tc *testClient) joinChat(name string) map[string]any {
	tc.t.Helper()
	tc.send(map[string]any{
		"message_type": wire.TypeJoinChatRequest,
		"timestamp":    wire.Now(),
		"chat_name":    name,
	})
	return tc.expect(wire.TypeJoinChatResponse)
}

func (tc *testClient) enterChat(name string) map[string]any {
	tc.t.Helper()
	tc.send(map[string]any{
		"message_type": wire.TypeEnterChatRequest,
		"timestamp":    wire.Now(),
		"chat_name":    name,
	})
	return tc.expect(wire.TypeEnterChatResponse)
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestServer(t)
	alice := dial(t, s)

	resp := alice.register("alice", "secret1")
	require.Equal(t, true, resp["success"])
	require.Equal(t, "alice", resp["username"])
	require.NotZero(t, resp["user_id"])

	resp = alice.login("alice", "secret1")
	require.Equal(t, true, resp["success"])
	require.Equal(t, "alice", resp["username"])
	// A fresh login always lands in the public group.
	require.EqualValues(t, store.PublicGroupID, resp["current_chat_group_id"])
}

func TestRegisterDuplicateUsername(t *testing.T) {
	s := newTestServer(t)
	alice := dial(t, s)

	resp := alice.register("alice", "secret1")
	require.Equal(t, true, resp["success"])

	resp = alice.register("alice", "other99")
	require.Equal(t, false, resp["success"])
	require.EqualValues(t, wire.CodeUserExists, resp["error_code"])
	require.Contains(t, resp["error_message"], "alice")
}

func TestRegisterValidation(t *testing.T) {
	s := newTestServer(t)
	tc := dial(t, s)

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"short username", "ab", "secret1"},
		{"leading digit", "1alice", "secret1"},
		{"short password", "alice", "a1"},
		{"letters-only password", "alice", "secrets"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := tc.register(tt.username, tt.password)
			require.Equal(t, false, resp["success"])
			require.EqualValues(t, wire.CodeInvalidCommand, resp["error_code"])
		})
	}
}

func TestLoginFailures(t *testing.T) {
	s := newTestServer(t)
	tc := dial(t, s)
	resp := tc.register("alice", "secret1")
	require.Equal(t, true, resp["success"])

	t.Run("wrong password", func(t *testing.T) {
		resp := tc.login("alice", "wrong99")
		require.Equal(t, false, resp["success"])
		require.EqualValues(t, wire.CodeAuthFailed, resp["error_code"])
	})

	t.Run("unknown user", func(t *testing.T) {
		resp := tc.login("nobody", "secret1")
		require.Equal(t, false, resp["success"])
		require.EqualValues(t, wire.CodeAuthFailed, resp["error_code"])
	})

	t.Run("ai account cannot log in", func(t *testing.T) {
		resp := tc.login(store.AIUsername, "")
		require.Equal(t, false, resp["success"])
		require.EqualValues(t, wire.CodeAuthFailed, resp["error_code"])
	})
}

// TestLoginDisplacesPriorConnection logs the same account in twice; the
// first connection gets a courtesy error and is closed.
func TestLoginDisplacesPriorConnection(t *testing.T) {
	s := newTestServer(t)

	first := dial(t, s)
	first.registerAndLogin("alice", "secret1")

	second := dial(t, s)
	resp := second.login("alice", "secret1")
	require.Equal(t, true, resp["success"])

	frame := first.expect(wire.TypeErrorMessage)
	require.EqualValues(t, wire.CodeAuthFailed, frame["error_code"])

	// The displaced socket is closed after the notice.
	require.NoError(t, first.conn.SetReadDeadline(time.Now().Add(testIOTimeout)))
	_, err := first.reader.ReadString('\n')
	require.Error(t, err)
}

func TestLogout(t *testing.T) {
	s := newTestServer(t)
	tc := dial(t, s)
	tc.registerAndLogin("alice", "secret1")

	tc.send(map[string]any{"message_type": wire.TypeLogoutRequest, "timestamp": wire.Now()})
	resp := tc.expect(wire.TypeLogoutResponse)
	require.Equal(t, true, resp["success"])
	require.Contains(t, resp["message"], "alice")

	// The socket survives logout; the session does not.
	tc.send(map[string]any{"message_type": wire.TypeUserInfoRequest, "timestamp": wire.Now()})
	info := tc.expect(wire.TypeUserInfoResponse)
	require.Equal(t, false, info["success"])
	require.EqualValues(t, wire.CodeAuthFailed, info["error_code"])

	// And the same connection can log straight back in.
	resp = tc.login("alice", "secret1")
	require.Equal(t, true, resp["success"])
}

func TestUserInfo(t *testing.T) {
	s := newTestServer(t)
	tc := dial(t, s)
	tc.registerAndLogin("alice", "secret1")

	tc.send(map[string]any{"message_type": wire.TypeUserInfoRequest, "timestamp": wire.Now()})
	info := tc.expect(wire.TypeUserInfoResponse)
	require.Equal(t, true, info["success"])
	require.Equal(t, "alice", info["username"])
	require.Equal(t, false, info["is_admin"])
	require.EqualValues(t, 1, info["joined_chats"]) // public only
	require.EqualValues(t, 0, info["private_chats"])
	require.EqualValues(t, 1, info["group_chats"])
	require.EqualValues(t, 3, info["total_users"]) // admin, AI, alice
	require.EqualValues(t, 1, info["total_chats"])
	require.EqualValues(t, 1, info["online_users"])
}
