package server

import (
	"context"
	"encoding/json"

	"github.com/hrygo/parley/server/wire"
	"github.com/hrygo/parley/store"
)

func (s *Server) handleUserInfo(ctx context.Context, c *Connection, raw []byte) error {
	var req wire.UserInfoRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errBadPayload
	}
	resp := &wire.UserInfoResponse{Envelope: wire.NewEnvelope(wire.TypeUserInfoResponse)}
	sess, wireErr := s.requireSession(c)
	if wireErr != nil {
		return s.respond(c, resp, wireErr)
	}

	groups, err := s.store.ListChatGroups(ctx, &store.FindChatGroup{MemberUserID: &sess.UserID})
	if err != nil {
		return s.respond(c, resp, storeFailure("list groups", err))
	}
	totalUsers, err := s.store.CountUsers(ctx)
	if err != nil {
		return s.respond(c, resp, storeFailure("count users", err))
	}
	totalChats, err := s.store.CountChatGroups(ctx)
	if err != nil {
		return s.respond(c, resp, storeFailure("count groups", err))
	}

	resp.UserID = sess.UserID
	resp.Username = sess.Username
	resp.IsAdmin = sess.UserID == store.AdminUserID
	resp.JoinedChats = len(groups)
	for _, group := range groups {
		if group.IsPrivate {
			resp.PrivateChats++
		} else {
			resp.GroupChats++
		}
	}
	resp.TotalUsers = totalUsers
	resp.TotalChats = totalChats
	resp.OnlineUsers = s.registry.OnlineCount()
	return s.respond(c, resp, nil)
}

func (s *Server) handleListUsers(ctx context.Context, c *Connection, raw []byte) error {
	var req wire.ListUsersRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errBadPayload
	}
	resp := &wire.ListUsersResponse{Envelope: wire.NewEnvelope(wire.TypeListUsersResponse)}
	sess, wireErr := s.requireSession(c)
	if wireErr != nil {
		return s.respond(c, resp, wireErr)
	}

	listType := req.ListType
	if listType == "" {
		listType = wire.ListTypeAll
	}
	resp.ListType = listType

	switch listType {
	case wire.ListTypeAll:
		users, err := s.store.ListUsers(ctx, &store.FindUser{})
		if err != nil {
			return s.respond(c, resp, storeFailure("list users", err))
		}
		for _, user := range users {
			resp.Users = append(resp.Users, wire.UserSummary{
				UserID:   user.ID,
				Username: user.Username,
				IsOnline: user.IsOnline,
			})
		}

	case wire.ListTypeCurrentChat:
		members, err := s.store.ListGroupMembers(ctx, &store.FindGroupMember{GroupID: &sess.CurrentGroupID})
		if err != nil {
			return s.respond(c, resp, storeFailure("list members", err))
		}
		for _, member := range members {
			user, err := s.store.GetUser(ctx, member.UserID)
			if err != nil {
				return s.respond(c, resp, storeFailure("get user", err))
			}
			if user == nil {
				continue
			}
			resp.Users = append(resp.Users, wire.UserSummary{
				UserID:   user.ID,
				Username: user.Username,
				IsOnline: user.IsOnline,
			})
		}

	default:
		return s.respond(c, resp, wire.Errorf(wire.CodeInvalidCommand, "无效的列表类型 '%s'", listType))
	}
	return s.respond(c, resp, nil)
}

func (s *Server) handleListChats(ctx context.Context, c *Connection, raw []byte) error {
	var req wire.ListChatsRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errBadPayload
	}
	resp := &wire.ListChatsResponse{Envelope: wire.NewEnvelope(wire.TypeListChatsResponse)}
	sess, wireErr := s.requireSession(c)
	if wireErr != nil {
		return s.respond(c, resp, wireErr)
	}

	listType := req.ListType
	if listType == "" {
		listType = wire.ListTypeUserChats
	}
	resp.ListType = listType

	find := &store.FindChatGroup{}
	switch listType {
	case wire.ListTypeUserChats:
		find.MemberUserID = &sess.UserID
	case wire.ListTypeGroupChats:
		isPrivate := false
		find.IsPrivate = &isPrivate
	default:
		return s.respond(c, resp, wire.Errorf(wire.CodeInvalidCommand, "无效的列表类型 '%s'", listType))
	}

	groups, err := s.store.ListChatGroups(ctx, find)
	if err != nil {
		return s.respond(c, resp, storeFailure("list groups", err))
	}
	for _, group := range groups {
		resp.Chats = append(resp.Chats, wire.ChatSummary{
			ChatGroupID: group.ID,
			ChatName:    group.Name,
			IsPrivate:   group.IsPrivate,
			MemberCount: group.MemberCount,
		})
	}
	return s.respond(c, resp, nil)
}
