package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hrygo/parley/server/wire"
	"github.com/hrygo/parley/store"
)

func (s *Server) handleCreateChat(ctx context.Context, c *Connection, raw []byte) error {
	var req wire.CreateChatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errBadPayload
	}
	resp := &wire.CreateChatResponse{Envelope: wire.NewEnvelope(wire.TypeCreateChatResponse)}
	sess, wireErr := s.requireSession(c)
	if wireErr != nil {
		return s.respond(c, resp, wireErr)
	}

	group, err := s.createChat(ctx, sess, &req)
	if err != nil {
		return s.respond(c, resp, err)
	}
	resp.ChatGroupID = group.ID
	resp.ChatName = group.Name
	resp.IsPrivate = group.IsPrivate
	return s.respond(c, resp, nil)
}

// createChat picks the private or named path. An empty chat_name with
// exactly two member usernames, one of them the caller, starts a private
// chat with the named peer; anything else creates a named group. Listed
// members are resolved up front so a typo comes back as 1003 instead of
// being silently dropped.
func (s *Server) createChat(ctx context.Context, sess Session, req *wire.CreateChatRequest) (*store.ChatGroup, error) {
	name := strings.TrimSpace(req.ChatName)
	if name == "" {
		return s.createPrivateChat(ctx, sess, req.MemberUsernames)
	}

	if err := validateGroupName(name); err != nil {
		return nil, err
	}
	var memberIDs []int32
	for _, username := range req.MemberUsernames {
		if username == sess.Username {
			continue
		}
		user, err := s.store.GetUserByName(ctx, username)
		if err != nil {
			return nil, storeFailure("get user", err)
		}
		if user == nil {
			return nil, wire.Errorf(wire.CodeUserNotFound, "用户 '%s' 不存在", username)
		}
		memberIDs = append(memberIDs, user.ID)
	}
	return s.engine.Create(ctx, name, sess.UserID, memberIDs, false)
}

func (s *Server) createPrivateChat(ctx context.Context, sess Session, memberUsernames []string) (*store.ChatGroup, error) {
	if len(memberUsernames) != 2 {
		return nil, wire.NewError(wire.CodeInvalidCommand, "私聊需要恰好两个成员用户名")
	}
	var peerName string
	switch sess.Username {
	case memberUsernames[0]:
		peerName = memberUsernames[1]
	case memberUsernames[1]:
		peerName = memberUsernames[0]
	default:
		return nil, wire.NewError(wire.CodeInvalidCommand, "私聊成员必须包含您自己")
	}
	if peerName == sess.Username {
		return nil, wire.NewError(wire.CodeInvalidCommand, "不能与自己建立私聊")
	}

	caller, err := s.store.GetUser(ctx, sess.UserID)
	if err != nil {
		return nil, storeFailure("get user", err)
	}
	if caller == nil {
		return nil, wire.NewError(wire.CodeAuthFailed, "请先登录")
	}
	peer, err := s.store.GetUserByName(ctx, peerName)
	if err != nil {
		return nil, storeFailure("get user", err)
	}
	if peer == nil {
		return nil, wire.Errorf(wire.CodeUserNotFound, "用户 '%s' 不存在", peerName)
	}
	return s.engine.FindOrCreatePrivate(ctx, caller, peer)
}

func (s *Server) handleJoinChat(ctx context.Context, c *Connection, raw []byte) error {
	var req wire.JoinChatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errBadPayload
	}
	resp := &wire.JoinChatResponse{Envelope: wire.NewEnvelope(wire.TypeJoinChatResponse)}
	sess, wireErr := s.requireSession(c)
	if wireErr != nil {
		return s.respond(c, resp, wireErr)
	}

	name := strings.TrimSpace(req.ChatName)
	if name == "" {
		return s.respond(c, resp, wire.NewError(wire.CodeInvalidCommand, "聊天群名不能为空"))
	}

	group, newlyJoined, err := s.engine.Join(ctx, name, sess.UserID)
	if err != nil {
		return s.respond(c, resp, err)
	}
	if newlyJoined {
		if _, err := s.engine.PostSystemMessage(ctx, group.ID, fmt.Sprintf("%s 加入了聊天群", sess.Username)); err != nil {
			slog.Warn("join announcement failed", "group_id", group.ID, "error", err)
		}
	}

	resp.ChatGroupID = group.ID
	resp.ChatName = group.Name
	return s.respond(c, resp, nil)
}

func (s *Server) handleEnterChat(ctx context.Context, c *Connection, raw []byte) error {
	var req wire.EnterChatRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errBadPayload
	}
	resp := &wire.EnterChatResponse{Envelope: wire.NewEnvelope(wire.TypeEnterChatResponse)}
	sess, wireErr := s.requireSession(c)
	if wireErr != nil {
		return s.respond(c, resp, wireErr)
	}

	name := strings.TrimSpace(req.ChatName)
	if name == "" {
		return s.respond(c, resp, wire.NewError(wire.CodeInvalidCommand, "聊天群名不能为空"))
	}

	group, err := s.engine.Enter(ctx, name, sess.UserID)
	if err != nil {
		return s.respond(c, resp, err)
	}
	resp.ChatGroupID = group.ID
	resp.ChatName = group.Name
	resp.MemberCount = group.MemberCount
	if err := s.respond(c, resp, nil); err != nil {
		return nil
	}

	s.replayHistory(ctx, c, group.ID, sess.UserID)
	return nil
}

// replayHistory streams the group's recent messages to one connection,
// oldest first, then marks the end of the snapshot. Messages arriving
// concurrently go out through the normal broadcast path and may
// interleave behind the marker's position in the stream.
func (s *Server) replayHistory(ctx context.Context, c *Connection, groupID, userID int32) {
	messages, err := s.engine.HistoryFor(ctx, groupID, userID, s.profile.HistoryLimit)
	if err != nil {
		slog.Warn("history replay failed", "group_id", groupID, "user_id", userID, "error", err)
		return
	}

	names := map[int32]string{}
	for _, msg := range messages {
		name, ok := names[msg.SenderID]
		if !ok {
			name = "unknown"
			if user, err := s.store.GetUser(ctx, msg.SenderID); err == nil && user != nil {
				name = user.Username
			}
			names[msg.SenderID] = name
		}
		if err := c.Send(deliveryFrame(msg, name)); err != nil {
			return
		}
	}

	_ = c.Send(&wire.ChatHistoryComplete{
		Envelope:     wire.NewEnvelope(wire.TypeChatHistoryComplete),
		ChatGroupID:  groupID,
		MessageCount: len(messages),
	})
}
