package server

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// newPipeConn returns a Connection over an in-memory pipe plus the peer
// end a test can read from.
func newPipeConn(t *testing.T) (*Connection, net.Conn) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	c := newConnection(serverSide, 100, 100)
	t.Cleanup(func() {
		c.Close()
		_ = clientSide.Close()
	})
	return c, clientSide
}

func TestRegistryLoginDisplacesPriorSession(t *testing.T) {
	r := NewRegistry()
	first, _ := newPipeConn(t)
	second, _ := newPipeConn(t)

	displaced := r.Login(7, "alice", first)
	require.Nil(t, displaced, "first login displaces nothing")
	require.Equal(t, 1, r.OnlineCount())

	displaced = r.Login(7, "alice", second)
	require.Same(t, first, displaced, "second login must hand back the old connection")
	require.Equal(t, 1, r.OnlineCount(), "displacement replaces, never adds")

	// The old connection no longer resolves to a session.
	_, ok := r.GetByConn(first)
	require.False(t, ok)
	sess, ok := r.GetByConn(second)
	require.True(t, ok)
	require.Equal(t, "alice", sess.Username)
}

func TestRegistryLogout(t *testing.T) {
	r := NewRegistry()
	conn, _ := newPipeConn(t)

	require.Nil(t, r.Logout(7), "logout without session is a no-op")

	r.Login(7, "alice", conn)
	sess := r.Logout(7)
	require.NotNil(t, sess)
	require.Equal(t, int32(7), sess.UserID)
	require.Equal(t, 0, r.OnlineCount())

	_, ok := r.GetByConn(conn)
	require.False(t, ok, "logout must unbind the connection")
}

func TestRegistryDisconnect(t *testing.T) {
	r := NewRegistry()
	conn, _ := newPipeConn(t)
	stranger, _ := newPipeConn(t)

	r.Login(7, "alice", conn)

	require.Nil(t, r.Disconnect(stranger), "unknown connections disconnect silently")

	sess := r.Disconnect(conn)
	require.NotNil(t, sess)
	require.Equal(t, "alice", sess.Username)
	require.Equal(t, 0, r.OnlineCount())
}

func TestRegistryCurrentGroup(t *testing.T) {
	r := NewRegistry()
	conn, _ := newPipeConn(t)

	require.False(t, r.SetCurrentGroup(7, 3), "no session, no current group")

	r.Login(7, "alice", conn)
	require.True(t, r.SetCurrentGroup(7, 3))

	groupID, ok := r.CurrentGroup(7)
	require.True(t, ok)
	require.Equal(t, int32(3), groupID)

	routed, currentGroup, ok := r.Route(7)
	require.True(t, ok)
	require.Same(t, conn, routed)
	require.Equal(t, int32(3), currentGroup)

	_, _, ok = r.Route(99)
	require.False(t, ok)
}

// TestRegistryRehomeGroup simulates a group deletion: every viewer falls
// back to the target group, others keep their place.
func TestRegistryRehomeGroup(t *testing.T) {
	r := NewRegistry()
	a, _ := newPipeConn(t)
	b, _ := newPipeConn(t)
	c, _ := newPipeConn(t)

	r.Login(1, "alice", a)
	r.Login(2, "bob", b)
	r.Login(3, "carol", c)
	r.SetCurrentGroup(1, 5)
	r.SetCurrentGroup(2, 5)
	r.SetCurrentGroup(3, 2)

	r.RehomeGroup(5, 1)

	for _, tt := range []struct {
		userID int32
		want   int32
	}{
		{1, 1},
		{2, 1},
		{3, 2},
	} {
		got, ok := r.CurrentGroup(tt.userID)
		require.True(t, ok)
		require.Equal(t, tt.want, got, "user %d", tt.userID)
	}
}

func TestRegistryRename(t *testing.T) {
	r := NewRegistry()
	conn, _ := newPipeConn(t)

	r.Login(7, "alice", conn)
	r.Rename(7, "alicia")
	r.Rename(99, "ghost") // no session, no effect

	sess, ok := r.GetByConn(conn)
	require.True(t, ok)
	require.Equal(t, "alicia", sess.Username)
}

func TestRegistryConnections(t *testing.T) {
	r := NewRegistry()
	a, _ := newPipeConn(t)
	b, _ := newPipeConn(t)

	r.Login(1, "alice", a)
	r.Login(2, "bob", b)

	conns := r.Connections()
	require.Len(t, conns, 2)
	require.ElementsMatch(t, []*Connection{a, b}, conns)
}
