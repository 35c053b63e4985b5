package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/hrygo/parley/server/wire"
)

// handlerFunc processes one inbound frame. Expected failures come back
// as *wire.Error; anything else is treated as an internal fault.
type handlerFunc func(ctx context.Context, c *Connection, raw []byte) error

var errBadPayload = wire.NewError(wire.CodeInvalidCommand, "无效的消息格式")

func (s *Server) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		wire.TypeRegisterRequest: s.handleRegister,
		wire.TypeLoginRequest:    s.handleLogin,
		wire.TypeLogoutRequest:   s.handleLogout,

		wire.TypeChatMessage: s.handleChatMessage,

		wire.TypeUserInfoRequest:  s.handleUserInfo,
		wire.TypeListUsersRequest: s.handleListUsers,
		wire.TypeListChatsRequest: s.handleListChats,

		wire.TypeCreateChatRequest: s.handleCreateChat,
		wire.TypeJoinChatRequest:   s.handleJoinChat,
		wire.TypeEnterChatRequest:  s.handleEnterChat,

		wire.TypeFileUploadRequest:         s.handleFileUpload,
		wire.TypeFileUploadCompleteRequest: s.handleFileUploadComplete,
		wire.TypeFileDownloadRequest:       s.handleFileDownload,
		wire.TypeFileListRequest:           s.handleFileList,

		wire.TypeAdminCommandRequest: s.handleAdminCommand,
	}
}

// readLoop pulls frames off the connection until it dies. An oversized
// line is a per-frame error, not a connection error: the reader has
// already resynchronized on the next newline.
func (s *Server) readLoop(ctx context.Context, c *Connection) {
	for {
		line, err := c.ReadLine()
		if err != nil {
			if errors.Is(err, errLineTooLong) {
				s.sendError(c, wire.NewError(wire.CodeInvalidCommand, "消息过长"))
				continue
			}
			return
		}
		if len(line) == 0 {
			continue
		}
		s.dispatch(ctx, c, line)
	}
}

// dispatch peeks the message_type, routes to the handler, and converts
// the outcome to wire form. A panicking handler answers 1009 and the
// connection lives on.
func (s *Server) dispatch(ctx context.Context, c *Connection, raw []byte) {
	start := time.Now()
	messageType := "unknown"
	handled := false
	defer func() {
		if r := recover(); r != nil {
			slog.Error("handler panic",
				"message_type", messageType,
				"conn_id", c.ID(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			s.sendError(c, wire.NewError(wire.CodeServerError, "服务器内部错误"))
		}
		s.metrics.RecordFrame(messageType, time.Since(start), handled)
	}()

	if !utf8.Valid(raw) {
		s.sendError(c, wire.NewError(wire.CodeInvalidCommand, "消息必须是合法的 UTF-8 编码"))
		return
	}

	var peek struct {
		MessageType string `json:"message_type"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil || peek.MessageType == "" {
		s.sendError(c, errBadPayload)
		return
	}
	messageType = peek.MessageType

	handler, found := s.handlers[messageType]
	if !found {
		s.sendError(c, wire.Errorf(wire.CodeInvalidCommand, "未知的消息类型 '%s'", messageType))
		return
	}

	if messageType == wire.TypeChatMessage && !c.AllowChat() {
		s.sendError(c, wire.NewError(wire.CodeInvalidCommand, "发送过于频繁，请稍后再试"))
		return
	}

	if err := handler(ctx, c, raw); err != nil {
		var wireErr *wire.Error
		if errors.As(err, &wireErr) {
			s.sendError(c, wireErr)
		} else {
			slog.Error("handler failed", "message_type", messageType, "conn_id", c.ID(), "error", err)
			s.sendError(c, wire.NewError(wire.CodeServerError, "服务器内部错误"))
		}
		return
	}
	handled = true
}

// respond stamps the Result on a tagged response frame and sends it.
// Expected failures ride inside the response so the waiting client can
// correlate them; internal faults bubble up to the dispatcher instead.
func (s *Server) respond(c *Connection, resp wire.Response, err error) error {
	if err != nil {
		var wireErr *wire.Error
		if !errors.As(err, &wireErr) {
			return err
		}
		resp.SetResult(wire.Failed(wireErr))
	} else {
		resp.SetResult(wire.OK())
	}
	return c.Send(resp)
}

// sendError emits a bare error_message envelope. Delivery failures are
// ignored here: a dead connection is reaped by its own read loop.
func (s *Server) sendError(c *Connection, err *wire.Error) {
	_ = c.Send(wire.NewErrorMessage(err))
}

// requireSession resolves the logged-in session behind a connection.
func (s *Server) requireSession(c *Connection) (Session, *wire.Error) {
	sess, ok := s.registry.GetByConn(c)
	if !ok {
		return Session{}, wire.NewError(wire.CodeAuthFailed, "请先登录")
	}
	return sess, nil
}
