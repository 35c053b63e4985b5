package server

import (
	"sync"
	"time"
)

// Session is the in-memory record of a logged-in user. CurrentGroupID is
// advisory routing state: it decides which broadcasts reach this
// connection, never whether a send is authorized.
type Session struct {
	UserID         int32
	Username       string
	Conn           *Connection
	LoginTime      time.Time
	CurrentGroupID int32
}

// Registry maps authenticated users to their live connection. All access
// goes through one mutex; the lock is never held across socket I/O, so
// displaced connections are returned to the caller for closing.
type Registry struct {
	mu       sync.Mutex
	sessions map[int32]*Session
	byConn   map[*Connection]int32
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[int32]*Session),
		byConn:   make(map[*Connection]int32),
	}
}

// Login installs a session for the user and returns the connection of a
// displaced prior session, if any. The caller must close the displaced
// connection after this returns.
func (r *Registry) Login(userID int32, username string, conn *Connection) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	var displaced *Connection
	if old, ok := r.sessions[userID]; ok {
		displaced = old.Conn
		delete(r.byConn, old.Conn)
	}
	r.sessions[userID] = &Session{
		UserID:    userID,
		Username:  username,
		Conn:      conn,
		LoginTime: time.Now(),
	}
	r.byConn[conn] = userID
	return displaced
}

// Logout removes the user's session and returns it, or nil when the user
// was not logged in.
func (r *Registry) Logout(userID int32) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[userID]
	if !ok {
		return nil
	}
	delete(r.sessions, userID)
	delete(r.byConn, sess.Conn)
	return sess
}

// Disconnect removes whatever session is bound to conn and returns it.
// Safe to call for connections that never logged in.
func (r *Registry) Disconnect(conn *Connection) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[conn]
	if !ok {
		return nil
	}
	sess := r.sessions[userID]
	delete(r.sessions, userID)
	delete(r.byConn, conn)
	return sess
}

// GetByConn returns a snapshot of the session bound to conn.
func (r *Registry) GetByConn(conn *Connection) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[conn]
	if !ok {
		return Session{}, false
	}
	return *r.sessions[userID], true
}

// SetCurrentGroup points the user's session at a group. Returns false
// when the user has no session.
func (r *Registry) SetCurrentGroup(userID, groupID int32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[userID]
	if !ok {
		return false
	}
	sess.CurrentGroupID = groupID
	return true
}

// CurrentGroup returns the group the user's session is looking at.
func (r *Registry) CurrentGroup(userID int32) (int32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[userID]
	if !ok {
		return 0, false
	}
	return sess.CurrentGroupID, true
}

// Rename updates the cached username of a live session after an admin
// rename, so system messages stop using the old name.
func (r *Registry) Rename(userID int32, username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[userID]; ok {
		sess.Username = username
	}
}

// Route returns the delivery target for a broadcast recipient: their
// connection and current group.
func (r *Registry) Route(userID int32) (*Connection, int32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[userID]
	if !ok {
		return nil, 0, false
	}
	return sess.Conn, sess.CurrentGroupID, true
}

// RehomeGroup repoints every session looking at `from` to `to`. Used when
// a group is deleted so its viewers fall back to the public group.
func (r *Registry) RehomeGroup(from, to int32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sess := range r.sessions {
		if sess.CurrentGroupID == from {
			sess.CurrentGroupID = to
		}
	}
}

// OnlineCount returns the number of live sessions.
func (r *Registry) OnlineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Connections returns every connection with a session, for shutdown.
func (r *Registry) Connections() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := make([]*Connection, 0, len(r.byConn))
	for conn := range r.byConn {
		conns = append(conns, conn)
	}
	return conns
}
