package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/parley/plugin/storage"
	"github.com/hrygo/parley/server/metrics"
	"github.com/hrygo/parley/server/wire"
	"github.com/hrygo/parley/store"
)

// handleAdminCommand is the tagged entry into the admin engine; the
// other entry is a "/..." chat message from any user.
func (s *Server) handleAdminCommand(ctx context.Context, c *Connection, raw []byte) error {
	var req wire.AdminCommandRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errBadPayload
	}
	resp := &wire.AdminCommandResponse{Envelope: wire.NewEnvelope(wire.TypeAdminCommandResponse)}
	sess, wireErr := s.requireSession(c)
	if wireErr != nil {
		return s.respond(c, resp, wireErr)
	}

	out, err := s.admin.Execute(ctx, sess, req.Command)
	if err != nil {
		return s.respond(c, resp, err)
	}
	return s.respond(c, out, nil)
}

// Admin executes the /VERB -OBJECT command grammar. Only the reserved
// admin user is authorized; every attempt, denied and failed ones
// included, lands in the audit log.
type Admin struct {
	store    *store.Store
	registry *Registry
	engine   *Engine
	blobs    storage.BlobStore
	metrics  *metrics.Metrics
}

func NewAdmin(st *store.Store, registry *Registry, engine *Engine, blobs storage.BlobStore, m *metrics.Metrics) *Admin {
	return &Admin{store: st, registry: registry, engine: engine, blobs: blobs, metrics: m}
}

func (a *Admin) Execute(ctx context.Context, sess Session, command string) (*wire.AdminCommandResponse, error) {
	verb, object, args := tokenizeCommand(command)

	resp, err := a.dispatch(ctx, sess, verb, object, args)
	a.audit(ctx, sess, verb, object, strings.Join(args, " "), err)
	if err != nil {
		return nil, err
	}
	resp.Command = command
	return resp, nil
}

func tokenizeCommand(command string) (verb, object string, args []string) {
	fields := strings.Fields(command)
	if len(fields) > 0 {
		verb = strings.TrimPrefix(fields[0], "/")
	}
	if len(fields) > 1 {
		object = fields[1]
	}
	if len(fields) > 2 {
		args = fields[2:]
	}
	return verb, object, args
}

func (a *Admin) audit(ctx context.Context, sess Session, verb, object, target string, execErr error) {
	outcome := store.AuditOutcomeOK
	var errText *string
	if execErr != nil {
		outcome = store.AuditOutcomeError
		if sess.UserID != store.AdminUserID {
			outcome = store.AuditOutcomeDenied
		}
		text := execErr.Error()
		errText = &text
	}
	if _, err := a.store.CreateAuditEntry(ctx, &store.AuditEntry{
		OperatorID: sess.UserID,
		Verb:       verb,
		Object:     object,
		Target:     target,
		Outcome:    outcome,
		Error:      errText,
	}); err != nil {
		slog.Error("audit append failed", "operator_id", sess.UserID, "verb", verb, "object", object, "error", err)
	}
	a.metrics.RecordAdminCommand(verb, outcome)
}

func (a *Admin) dispatch(ctx context.Context, sess Session, verb, object string, args []string) (*wire.AdminCommandResponse, error) {
	if sess.UserID != store.AdminUserID {
		return nil, wire.NewError(wire.CodePermissionDenied, "只有管理员可以执行管理命令")
	}

	resp := &wire.AdminCommandResponse{Envelope: wire.NewEnvelope(wire.TypeAdminCommandResponse)}
	var err error
	switch verb + " " + object {
	case "add -u":
		err = a.addUser(ctx, resp, args)
	case "del -u":
		err = a.delUser(ctx, resp, args)
	case "del -g":
		err = a.delGroup(ctx, resp, args)
	case "del -f":
		err = a.delFile(ctx, resp, args)
	case "modify -u":
		err = a.modifyUser(ctx, resp, args)
	case "modify -g":
		err = a.modifyGroup(ctx, resp, args)
	case "ban -u":
		err = a.banUser(ctx, resp, args)
	case "ban -g":
		err = a.banGroup(ctx, resp, args)
	case "free -u":
		err = a.freeUser(ctx, resp, args)
	case "free -g":
		err = a.freeGroup(ctx, resp, args)
	case "free -l":
		err = a.freeList(ctx, resp)
	default:
		err = wire.Errorf(wire.CodeInvalidCommand,
			"未知的管理命令 '/%s %s'，支持 add/del/modify/ban/free 配合 -u/-g/-f/-l", verb, object)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func parseID(token, noun string) (int32, *wire.Error) {
	id, err := strconv.Atoi(token)
	if err != nil || id < 0 {
		return 0, wire.Errorf(wire.CodeInvalidCommand, "无效的%s ID '%s'", noun, token)
	}
	return int32(id), nil
}

// resolveUser accepts an id or a username. Usernames cannot start with a
// digit, so a numeric token is unambiguously an id.
func (a *Admin) resolveUser(ctx context.Context, target string) (*store.User, error) {
	if id, err := strconv.Atoi(target); err == nil {
		user, err := a.store.GetUser(ctx, int32(id))
		if err != nil {
			return nil, storeFailure("get user", err)
		}
		return user, nil
	}
	user, err := a.store.GetUserByName(ctx, target)
	if err != nil {
		return nil, storeFailure("get user", err)
	}
	return user, nil
}

func (a *Admin) resolveGroup(ctx context.Context, target string) (*store.ChatGroup, error) {
	if id, err := strconv.Atoi(target); err == nil {
		group, err := a.store.GetChatGroup(ctx, int32(id))
		if err != nil {
			return nil, storeFailure("get chat group", err)
		}
		return group, nil
	}
	group, err := a.store.GetChatGroupByName(ctx, target)
	if err != nil {
		return nil, storeFailure("get chat group", err)
	}
	return group, nil
}

func (a *Admin) addUser(ctx context.Context, resp *wire.AdminCommandResponse, args []string) error {
	if len(args) != 2 {
		return wire.NewError(wire.CodeInvalidCommand, "用法: /add -u <用户名> <密码>")
	}
	user, err := registerUser(ctx, a.store, args[0], args[1])
	if err != nil {
		return err
	}
	resp.Detail = fmt.Sprintf("用户 '%s' 已创建 (id=%d)", user.Username, user.ID)
	return nil
}

func (a *Admin) delUser(ctx context.Context, resp *wire.AdminCommandResponse, args []string) error {
	if len(args) != 1 {
		return wire.NewError(wire.CodeInvalidCommand, "用法: /del -u <用户ID>")
	}
	id, wireErr := parseID(args[0], "用户")
	if wireErr != nil {
		return wireErr
	}
	if store.IsReservedUser(id) {
		return wire.NewError(wire.CodePermissionDenied, "不能删除保留用户")
	}
	user, err := a.store.GetUser(ctx, id)
	if err != nil {
		return storeFailure("get user", err)
	}
	if user == nil {
		return wire.Errorf(wire.CodeUserNotFound, "用户不存在 (id=%d)", id)
	}

	// Kick the live session before the cascade runs.
	if sess := a.registry.Logout(id); sess != nil {
		sess.Conn.Close()
		a.metrics.SessionEnded()
	}
	if err := a.store.DeleteUser(ctx, &store.DeleteUser{ID: id}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return wire.Errorf(wire.CodeUserNotFound, "用户不存在 (id=%d)", id)
		}
		return storeFailure("delete user", err)
	}
	resp.Detail = fmt.Sprintf("用户 '%s' (id=%d) 已删除", user.Username, id)
	return nil
}

func (a *Admin) delGroup(ctx context.Context, resp *wire.AdminCommandResponse, args []string) error {
	if len(args) != 1 {
		return wire.NewError(wire.CodeInvalidCommand, "用法: /del -g <群ID>")
	}
	id, wireErr := parseID(args[0], "聊天群")
	if wireErr != nil {
		return wireErr
	}
	if store.IsProtectedGroup(id) {
		return wire.NewError(wire.CodePermissionDenied, "不能删除公共聊天群")
	}
	group, err := a.store.GetChatGroup(ctx, id)
	if err != nil {
		return storeFailure("get chat group", err)
	}
	if group == nil {
		return wire.Errorf(wire.CodeGroupNotFound, "聊天群不存在 (id=%d)", id)
	}

	files, err := a.store.ListFileMetas(ctx, &store.FindFileMeta{GroupID: &id})
	if err != nil {
		return storeFailure("list file metas", err)
	}
	if err := a.store.DeleteChatGroup(ctx, &store.DeleteChatGroup{ID: id}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return wire.Errorf(wire.CodeGroupNotFound, "聊天群不存在 (id=%d)", id)
		}
		return storeFailure("delete chat group", err)
	}

	// Viewers of the dead group fall back to public; their blobs go too.
	a.registry.RehomeGroup(id, store.PublicGroupID)
	for _, meta := range files {
		if err := a.blobs.Remove(meta.ServerPath); err != nil {
			slog.Warn("failed to remove blob", "server_path", meta.ServerPath, "error", err)
		}
	}
	resp.Detail = fmt.Sprintf("聊天群 '%s' (id=%d) 已删除", group.Name, id)
	return nil
}

func (a *Admin) delFile(ctx context.Context, resp *wire.AdminCommandResponse, args []string) error {
	if len(args) != 1 {
		return wire.NewError(wire.CodeInvalidCommand, "用法: /del -f <文件ID>")
	}
	id, wireErr := parseID(args[0], "文件")
	if wireErr != nil {
		return wireErr
	}
	meta, err := a.store.GetFileMeta(ctx, id)
	if err != nil {
		return storeFailure("get file meta", err)
	}
	if meta == nil {
		return wire.Errorf(wire.CodeFileNotFound, "文件不存在 (id=%d)", id)
	}

	if err := a.blobs.Remove(meta.ServerPath); err != nil {
		slog.Warn("failed to remove blob", "server_path", meta.ServerPath, "error", err)
	}
	if err := a.store.DeleteFileMeta(ctx, &store.DeleteFileMeta{ID: id}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return wire.Errorf(wire.CodeFileNotFound, "文件不存在 (id=%d)", id)
		}
		return storeFailure("delete file meta", err)
	}
	resp.Detail = fmt.Sprintf("文件 '%s' (id=%d) 已删除", meta.OriginalName, id)
	return nil
}

func (a *Admin) modifyUser(ctx context.Context, resp *wire.AdminCommandResponse, args []string) error {
	if len(args) != 3 {
		return wire.NewError(wire.CodeInvalidCommand, "用法: /modify -u <用户ID> <username|password> <新值>")
	}
	id, wireErr := parseID(args[0], "用户")
	if wireErr != nil {
		return wireErr
	}
	user, err := a.store.GetUser(ctx, id)
	if err != nil {
		return storeFailure("get user", err)
	}
	if user == nil {
		return wire.Errorf(wire.CodeUserNotFound, "用户不存在 (id=%d)", id)
	}

	field, value := args[1], args[2]
	switch field {
	case "username":
		if store.IsReservedUser(id) {
			return wire.NewError(wire.CodePermissionDenied, "不能修改保留用户的用户名")
		}
		if err := validateUsername(value); err != nil {
			return err
		}
		if _, err := a.store.UpdateUser(ctx, &store.UpdateUser{ID: id, Username: &value}); err != nil {
			if errors.Is(err, store.ErrUserExists) {
				return wire.Errorf(wire.CodeUserExists, "用户名 '%s' 已存在", value)
			}
			return storeFailure("update user", err)
		}
		a.registry.Rename(id, value)
		resp.Detail = fmt.Sprintf("用户 (id=%d) 的用户名已更新为 '%s'", id, value)

	case "password":
		// The AI user must keep an empty hash so nobody can log in as it.
		if id == store.AIUserID {
			return wire.NewError(wire.CodePermissionDenied, "不能修改 AI 用户的密码")
		}
		if err := validatePassword(value); err != nil {
			return err
		}
		if _, err := a.store.UpdateUser(ctx, &store.UpdateUser{ID: id, Password: &value}); err != nil {
			return storeFailure("update user", err)
		}
		resp.Detail = fmt.Sprintf("用户 '%s' (id=%d) 的密码已更新", user.Username, id)

	default:
		return wire.Errorf(wire.CodeInvalidCommand, "未知的字段 '%s'，支持 username/password", field)
	}
	return nil
}

func (a *Admin) modifyGroup(ctx context.Context, resp *wire.AdminCommandResponse, args []string) error {
	if len(args) != 3 {
		return wire.NewError(wire.CodeInvalidCommand, "用法: /modify -g <群ID> name <新名称>")
	}
	id, wireErr := parseID(args[0], "聊天群")
	if wireErr != nil {
		return wireErr
	}
	if args[1] != "name" {
		return wire.Errorf(wire.CodeInvalidCommand, "未知的字段 '%s'，仅支持 name", args[1])
	}
	if store.IsProtectedGroup(id) {
		return wire.NewError(wire.CodePermissionDenied, "不能重命名公共聊天群")
	}
	group, err := a.store.GetChatGroup(ctx, id)
	if err != nil {
		return storeFailure("get chat group", err)
	}
	if group == nil {
		return wire.Errorf(wire.CodeGroupNotFound, "聊天群不存在 (id=%d)", id)
	}

	newName := args[2]
	if err := validateGroupName(newName); err != nil {
		return err
	}
	if _, err := a.store.UpdateChatGroup(ctx, &store.UpdateChatGroup{ID: id, Name: &newName}); err != nil {
		if errors.Is(err, store.ErrGroupExists) {
			return wire.Errorf(wire.CodeInvalidCommand, "聊天群名 '%s' 已存在", newName)
		}
		return storeFailure("update chat group", err)
	}
	resp.Detail = fmt.Sprintf("聊天群 '%s' (id=%d) 已重命名为 '%s'", group.Name, id, newName)
	return nil
}

func (a *Admin) banUser(ctx context.Context, resp *wire.AdminCommandResponse, args []string) error {
	if len(args) != 1 {
		return wire.NewError(wire.CodeInvalidCommand, "用法: /ban -u <用户ID或用户名>")
	}
	user, err := a.resolveUser(ctx, args[0])
	if err != nil {
		return err
	}
	if user == nil {
		return wire.Errorf(wire.CodeUserNotFound, "用户 '%s' 不存在", args[0])
	}
	if store.IsReservedUser(user.ID) {
		return wire.NewError(wire.CodePermissionDenied, "不能封禁保留用户")
	}

	banned := true
	if _, err := a.store.UpdateUser(ctx, &store.UpdateUser{ID: user.ID, IsBanned: &banned}); err != nil {
		return storeFailure("update user", err)
	}
	resp.Detail = fmt.Sprintf("用户 '%s' 已被禁言", user.Username)
	return nil
}

func (a *Admin) banGroup(ctx context.Context, resp *wire.AdminCommandResponse, args []string) error {
	if len(args) != 1 {
		return wire.NewError(wire.CodeInvalidCommand, "用法: /ban -g <群ID或群名>")
	}
	group, err := a.resolveGroup(ctx, args[0])
	if err != nil {
		return err
	}
	if group == nil {
		return wire.Errorf(wire.CodeGroupNotFound, "聊天群 '%s' 不存在", args[0])
	}
	if store.IsProtectedGroup(group.ID) {
		return wire.NewError(wire.CodePermissionDenied, "不能封禁公共聊天群")
	}

	banned := true
	if _, err := a.store.UpdateChatGroup(ctx, &store.UpdateChatGroup{ID: group.ID, IsBanned: &banned}); err != nil {
		return storeFailure("update chat group", err)
	}
	resp.Detail = fmt.Sprintf("聊天群 '%s' 已被封禁", group.Name)
	return nil
}

func (a *Admin) freeUser(ctx context.Context, resp *wire.AdminCommandResponse, args []string) error {
	if len(args) != 1 {
		return wire.NewError(wire.CodeInvalidCommand, "用法: /free -u <用户ID或用户名>")
	}
	user, err := a.resolveUser(ctx, args[0])
	if err != nil {
		return err
	}
	if user == nil {
		return wire.Errorf(wire.CodeUserNotFound, "用户 '%s' 不存在", args[0])
	}
	if !user.IsBanned {
		return wire.Errorf(wire.CodeInvalidCommand, "用户 '%s' 未被禁言", user.Username)
	}

	banned := false
	if _, err := a.store.UpdateUser(ctx, &store.UpdateUser{ID: user.ID, IsBanned: &banned}); err != nil {
		return storeFailure("update user", err)
	}
	resp.Detail = fmt.Sprintf("用户 '%s' 已解除禁言", user.Username)
	return nil
}

func (a *Admin) freeGroup(ctx context.Context, resp *wire.AdminCommandResponse, args []string) error {
	if len(args) != 1 {
		return wire.NewError(wire.CodeInvalidCommand, "用法: /free -g <群ID或群名>")
	}
	group, err := a.resolveGroup(ctx, args[0])
	if err != nil {
		return err
	}
	if group == nil {
		return wire.Errorf(wire.CodeGroupNotFound, "聊天群 '%s' 不存在", args[0])
	}
	if !group.IsBanned {
		return wire.Errorf(wire.CodeInvalidCommand, "聊天群 '%s' 未被封禁", group.Name)
	}

	banned := false
	if _, err := a.store.UpdateChatGroup(ctx, &store.UpdateChatGroup{ID: group.ID, IsBanned: &banned}); err != nil {
		return storeFailure("update chat group", err)
	}
	resp.Detail = fmt.Sprintf("聊天群 '%s' 已解除封禁", group.Name)
	return nil
}

func (a *Admin) freeList(ctx context.Context, resp *wire.AdminCommandResponse) error {
	banned := true
	users, err := a.store.ListUsers(ctx, &store.FindUser{IsBanned: &banned})
	if err != nil {
		return storeFailure("list users", err)
	}
	groups, err := a.store.ListChatGroups(ctx, &store.FindChatGroup{IsBanned: &banned})
	if err != nil {
		return storeFailure("list chat groups", err)
	}

	for _, user := range users {
		resp.BannedUsers = append(resp.BannedUsers, user.Username)
	}
	for _, group := range groups {
		resp.BannedGroups = append(resp.BannedGroups, group.Name)
	}
	resp.Detail = fmt.Sprintf("被禁言用户 %d 个，被封禁聊天群 %d 个", len(resp.BannedUsers), len(resp.BannedGroups))
	return nil
}
