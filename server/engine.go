package server

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/hrygo/parley/server/metrics"
	"github.com/hrygo/parley/server/wire"
	"github.com/hrygo/parley/store"
)

// Engine implements the three forms of group association (create, join,
// enter) and the persist-then-broadcast message path. Expected failures
// come back as *wire.Error with the caller-facing message; store
// failures are logged here and surface as a generic 1011.
type Engine struct {
	store    *store.Store
	registry *Registry
	metrics  *metrics.Metrics
}

func NewEngine(st *store.Store, registry *Registry, m *metrics.Metrics) *Engine {
	return &Engine{store: st, registry: registry, metrics: m}
}

// storeFailure logs the real error and returns the wire-safe one.
func storeFailure(op string, err error) *wire.Error {
	slog.Error("store operation failed", "op", op, "error", err)
	return wire.NewError(wire.CodeStoreError, "服务器存储错误")
}

// Create builds the membership set and creates the group in one store
// transaction. The creator is always a member; the AI user is added
// unless the group is private; initial members are honored only for
// private groups (anyone else joins explicitly). Duplicate and unknown
// ids are silently dropped.
func (e *Engine) Create(ctx context.Context, name string, creatorID int32, initialMemberIDs []int32, isPrivate bool) (*store.ChatGroup, error) {
	seen := map[int32]struct{}{}
	var memberIDs []int32
	add := func(id int32) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			memberIDs = append(memberIDs, id)
		}
	}

	add(creatorID)
	if !isPrivate {
		add(store.AIUserID)
	} else {
		for _, id := range initialMemberIDs {
			if id == creatorID {
				add(id)
				continue
			}
			user, err := e.store.GetUser(ctx, id)
			if err != nil {
				return nil, storeFailure("get user", err)
			}
			if user == nil {
				continue
			}
			add(id)
		}
	}

	group, err := e.store.CreateChatGroup(ctx, &store.ChatGroup{Name: name, IsPrivate: isPrivate}, memberIDs)
	if err != nil {
		if errors.Is(err, store.ErrGroupExists) {
			return nil, wire.Errorf(wire.CodeInvalidCommand, "聊天群名 '%s' 已存在", name)
		}
		return nil, storeFailure("create chat group", err)
	}
	return group, nil
}

// Join adds the user to the named group. Idempotent; it does not touch
// the session's current group. The bool reports whether the membership
// is new.
func (e *Engine) Join(ctx context.Context, groupName string, userID int32) (*store.ChatGroup, bool, error) {
	group, err := e.store.GetChatGroupByName(ctx, groupName)
	if err != nil {
		return nil, false, storeFailure("get chat group", err)
	}
	if group == nil {
		return nil, false, wire.Errorf(wire.CodeGroupNotFound, "聊天群 '%s' 不存在", groupName)
	}

	wasMember, err := e.store.IsMember(ctx, group.ID, userID)
	if err != nil {
		return nil, false, storeFailure("membership check", err)
	}
	if !wasMember {
		// Private chats are invitation-only; their names are guessable.
		if group.IsPrivate {
			return nil, false, wire.NewError(wire.CodePermissionDenied, "无法加入私聊")
		}
		if err := e.store.UpsertGroupMember(ctx, &store.UpsertGroupMember{GroupID: group.ID, UserID: userID}); err != nil {
			return nil, false, storeFailure("add member", err)
		}
	}
	return group, !wasMember, nil
}

// Enter requires membership, then points the session's current group at
// the target. History delivery is the caller's concern.
func (e *Engine) Enter(ctx context.Context, groupName string, userID int32) (*store.ChatGroup, error) {
	group, err := e.store.GetChatGroupByName(ctx, groupName)
	if err != nil {
		return nil, storeFailure("get chat group", err)
	}
	if group == nil {
		return nil, wire.Errorf(wire.CodeGroupNotFound, "聊天群 '%s' 不存在", groupName)
	}

	isMember, err := e.store.IsMember(ctx, group.ID, userID)
	if err != nil {
		return nil, storeFailure("membership check", err)
	}
	if !isMember {
		return nil, wire.Errorf(wire.CodePermissionDenied, "您不是聊天群 '%s' 的成员，请先加入", groupName)
	}

	e.registry.SetCurrentGroup(userID, group.ID)
	return group, nil
}

// Send authorizes, persists, and broadcasts one message. Membership is
// required for everyone; the AI user self-heals its membership first;
// ban flags do not apply to the reserved users.
func (e *Engine) Send(ctx context.Context, senderID, groupID int32, content, kind string) (*store.Message, error) {
	group, err := e.store.GetChatGroup(ctx, groupID)
	if err != nil {
		return nil, storeFailure("get chat group", err)
	}
	if group == nil {
		return nil, wire.Errorf(wire.CodeGroupNotFound, "聊天群不存在 (id=%d)", groupID)
	}

	if senderID == store.AIUserID {
		if err := e.store.UpsertGroupMember(ctx, &store.UpsertGroupMember{GroupID: groupID, UserID: senderID}); err != nil {
			return nil, storeFailure("ai self-enroll", err)
		}
	}

	isMember, err := e.store.IsMember(ctx, groupID, senderID)
	if err != nil {
		return nil, storeFailure("membership check", err)
	}
	if !isMember {
		return nil, wire.Errorf(wire.CodePermissionDenied, "您不是聊天群 '%s' 的成员", group.Name)
	}

	if !store.IsReservedUser(senderID) {
		banned, err := e.store.IsUserBanned(ctx, senderID)
		if err != nil {
			return nil, storeFailure("user ban check", err)
		}
		if banned {
			return nil, wire.NewError(wire.CodePermissionDenied, "您已被禁言，无法发送消息")
		}
		if group.IsBanned {
			return nil, wire.Errorf(wire.CodePermissionDenied, "聊天群 '%s' 已被封禁", group.Name)
		}
	}

	msg, err := e.store.CreateMessage(ctx, &store.Message{
		GroupID:  groupID,
		SenderID: senderID,
		Content:  content,
		Kind:     kind,
	})
	if err != nil {
		return nil, storeFailure("create message", err)
	}
	e.metrics.RecordMessage(msg.Kind)

	e.Broadcast(ctx, msg)
	return msg, nil
}

// deliveryFrame is the wire form of a persisted message; the timestamp
// is the persist time, so history replays carry original times.
func deliveryFrame(msg *store.Message, senderUsername string) *wire.ChatMessage {
	return &wire.ChatMessage{
		Envelope: wire.Envelope{
			MessageType: wire.TypeChatMessage,
			Timestamp:   float64(msg.CreatedTs),
		},
		ChatGroupID:    msg.GroupID,
		Content:        msg.Content,
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		SenderUsername: senderUsername,
		Kind:           msg.Kind,
	}
}

// Broadcast delivers msg to every member who is online and currently
// looking at the message's group; this includes the sender. A failed
// delivery closes that recipient and never aborts the rest.
func (e *Engine) Broadcast(ctx context.Context, msg *store.Message) {
	members, err := e.store.ListGroupMembers(ctx, &store.FindGroupMember{GroupID: &msg.GroupID})
	if err != nil {
		slog.Error("broadcast aborted: cannot list members", "group_id", msg.GroupID, "error", err)
		return
	}

	senderName := "unknown"
	if sender, err := e.store.GetUser(ctx, msg.SenderID); err == nil && sender != nil {
		senderName = sender.Username
	}
	frame := deliveryFrame(msg, senderName)

	var delivered, failed int
	for _, member := range members {
		conn, currentGroup, online := e.registry.Route(member.UserID)
		if !online || currentGroup != msg.GroupID {
			continue
		}
		if err := conn.Send(frame); err != nil {
			failed++
			slog.Warn("broadcast delivery failed, closing recipient",
				"user_id", member.UserID,
				"group_id", msg.GroupID,
				"conn_id", conn.ID(),
				"error", err,
			)
			e.dropConnection(ctx, conn)
			continue
		}
		delivered++
	}
	e.metrics.RecordBroadcast(delivered, failed)
}

// dropConnection tears down a recipient that failed a delivery: session
// out of the registry, online flag cleared, socket closed.
func (e *Engine) dropConnection(ctx context.Context, conn *Connection) {
	if sess := e.registry.Disconnect(conn); sess != nil {
		e.metrics.SessionEnded()
		online := false
		if _, err := e.store.UpdateUser(ctx, &store.UpdateUser{ID: sess.UserID, IsOnline: &online}); err != nil {
			slog.Warn("failed to clear online flag", "user_id", sess.UserID, "error", err)
		}
	}
	conn.Close()
}

// HistoryFor is the authorized history read: most recent limit messages,
// oldest first.
func (e *Engine) HistoryFor(ctx context.Context, groupID, userID int32, limit int) ([]*store.Message, error) {
	isMember, err := e.store.IsMember(ctx, groupID, userID)
	if err != nil {
		return nil, storeFailure("membership check", err)
	}
	if !isMember {
		return nil, wire.NewError(wire.CodePermissionDenied, "您不是该聊天群的成员")
	}

	messages, err := e.store.ListRecentMessages(ctx, groupID, limit)
	if err != nil {
		return nil, storeFailure("list messages", err)
	}
	return messages, nil
}

// FindOrCreatePrivate returns the private group shared by the two users,
// creating it on first use. The scan is membership-based, so the pair
// maps to the same group no matter who asked first.
func (e *Engine) FindOrCreatePrivate(ctx context.Context, u1, u2 *store.User) (*store.ChatGroup, error) {
	if group, err := e.findSharedPrivate(ctx, u1.ID, u2.ID); err != nil || group != nil {
		return group, err
	}

	name := u1.Username + "_" + u2.Username
	group, err := e.store.CreateChatGroup(ctx, &store.ChatGroup{Name: name, IsPrivate: true}, []int32{u1.ID, u2.ID})
	if err == nil {
		return group, nil
	}
	if !errors.Is(err, store.ErrGroupExists) {
		return nil, storeFailure("create private group", err)
	}

	// Lost a race, or the auto-generated name is taken: re-scan before
	// giving up.
	if group, err := e.findSharedPrivate(ctx, u1.ID, u2.ID); err != nil || group != nil {
		return group, err
	}
	return nil, wire.Errorf(wire.CodeInvalidCommand, "无法创建私聊 '%s'：名称已被占用", name)
}

func (e *Engine) findSharedPrivate(ctx context.Context, u1ID, u2ID int32) (*store.ChatGroup, error) {
	isPrivate := true
	groups, err := e.store.ListChatGroups(ctx, &store.FindChatGroup{MemberUserID: &u1ID, IsPrivate: &isPrivate})
	if err != nil {
		return nil, storeFailure("list private groups", err)
	}
	for _, group := range groups {
		shared, err := e.store.IsMember(ctx, group.ID, u2ID)
		if err != nil {
			return nil, storeFailure("membership check", err)
		}
		if shared {
			return group, nil
		}
	}
	return nil, nil
}

// PostSystemMessage persists and broadcasts a system notice in the
// group. System notices bypass send authorization: the store appends
// unconditionally and the announcement must go out even in banned groups.
func (e *Engine) PostSystemMessage(ctx context.Context, groupID int32, content string) (*store.Message, error) {
	msg, err := e.store.CreateMessage(ctx, &store.Message{
		GroupID:  groupID,
		SenderID: store.AdminUserID,
		Content:  content,
		Kind:     store.MessageKindSystem,
	})
	if err != nil {
		return nil, storeFailure("create system message", err)
	}
	e.metrics.RecordMessage(msg.Kind)
	e.Broadcast(ctx, msg)
	return msg, nil
}

// PostAIReply implements ai.Replier: generated replies enter the chat
// through the same authorized send path as everyone else.
func (e *Engine) PostAIReply(ctx context.Context, groupID int32, content string) error {
	_, err := e.Send(ctx, store.AIUserID, groupID, content, store.MessageKindAI)
	return err
}
