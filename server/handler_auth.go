package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/hrygo/parley/server/wire"
	"github.com/hrygo/parley/store"
)

// handleRegister creates the account. Registering does not log the
// connection in; the client follows up with login_request.
func (s *Server) handleRegister(ctx context.Context, c *Connection, raw []byte) error {
	var req wire.RegisterRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errBadPayload
	}
	resp := &wire.RegisterResponse{Envelope: wire.NewEnvelope(wire.TypeRegisterResponse)}

	user, err := registerUser(ctx, s.store, req.Username, req.Password)
	if err != nil {
		return s.respond(c, resp, err)
	}
	resp.UserID = user.ID
	resp.Username = user.Username
	return s.respond(c, resp, nil)
}

// registerUser is the one account-creation path; /add -u goes through
// it too.
func registerUser(ctx context.Context, st *store.Store, username, password string) (*store.User, error) {
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	user, err := st.CreateUser(ctx, username, password)
	if err != nil {
		if errors.Is(err, store.ErrUserExists) {
			return nil, wire.Errorf(wire.CodeUserExists, "用户名 '%s' 已存在", username)
		}
		return nil, storeFailure("create user", err)
	}
	slog.Info("user registered", "user_id", user.ID, "username", user.Username)
	return user, nil
}

// handleLogin authenticates and installs the session. A second login
// displaces the first: the old connection gets a courtesy notice and is
// closed. Banned users may log in; the ban bites on send.
func (s *Server) handleLogin(ctx context.Context, c *Connection, raw []byte) error {
	var req wire.LoginRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errBadPayload
	}
	resp := &wire.LoginResponse{Envelope: wire.NewEnvelope(wire.TypeLoginResponse)}

	user, err := s.store.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		return s.respond(c, resp, storeFailure("authenticate", err))
	}
	if user == nil {
		return s.respond(c, resp, wire.NewError(wire.CodeAuthFailed, "用户名或密码错误"))
	}

	// Everyone belongs to the public group; repair the membership in
	// case an older deployment missed it.
	if err := s.store.UpsertGroupMember(ctx, &store.UpsertGroupMember{GroupID: store.PublicGroupID, UserID: user.ID}); err != nil {
		return s.respond(c, resp, storeFailure("public membership", err))
	}

	displaced := s.registry.Login(user.ID, user.Username, c)
	if displaced != nil {
		s.sendError(displaced, wire.NewError(wire.CodeAuthFailed, "您的账号已在其他地方登录，当前连接断开"))
		displaced.Close()
		s.metrics.SessionEnded()
	}
	s.registry.SetCurrentGroup(user.ID, store.PublicGroupID)
	s.metrics.SessionStarted()

	online := true
	if _, err := s.store.UpdateUser(ctx, &store.UpdateUser{ID: user.ID, IsOnline: &online}); err != nil {
		slog.Warn("failed to set online flag", "user_id", user.ID, "error", err)
	}
	slog.Info("user logged in", "user_id", user.ID, "username", user.Username, "conn_id", c.ID())

	resp.UserID = user.ID
	resp.Username = user.Username
	resp.CurrentChatGroupID = store.PublicGroupID
	return s.respond(c, resp, nil)
}

// handleLogout removes the session but leaves the socket open; closing
// is the client's decision.
func (s *Server) handleLogout(ctx context.Context, c *Connection, raw []byte) error {
	var req wire.LogoutRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errBadPayload
	}
	resp := &wire.LogoutResponse{Envelope: wire.NewEnvelope(wire.TypeLogoutResponse)}

	sess, wireErr := s.requireSession(c)
	if wireErr != nil {
		return s.respond(c, resp, wireErr)
	}

	s.registry.Logout(sess.UserID)
	s.metrics.SessionEnded()
	online := false
	if _, err := s.store.UpdateUser(ctx, &store.UpdateUser{ID: sess.UserID, IsOnline: &online}); err != nil {
		slog.Warn("failed to clear online flag", "user_id", sess.UserID, "error", err)
	}
	slog.Info("user logged out", "user_id", sess.UserID, "username", sess.Username)

	resp.Message = fmt.Sprintf("再见，%s", sess.Username)
	return s.respond(c, resp, nil)
}
