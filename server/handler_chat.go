package server

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/hrygo/parley/server/wire"
	"github.com/hrygo/parley/store"
)

// handleChatMessage posts one message. chat_message has no response
// tag: success is observed through the broadcast echo, failures come
// back as error_message envelopes.
func (s *Server) handleChatMessage(ctx context.Context, c *Connection, raw []byte) error {
	var req wire.ChatMessage
	if err := json.Unmarshal(raw, &req); err != nil {
		return errBadPayload
	}
	sess, wireErr := s.requireSession(c)
	if wireErr != nil {
		return wireErr
	}

	content, wireErr := sanitizeMessage(req.Content)
	if wireErr != nil {
		return wireErr
	}

	// "/..." is a command attempt no matter who sends it; authorization
	// and auditing happen inside the admin engine.
	if strings.HasPrefix(content, "/") {
		resp, err := s.admin.Execute(ctx, sess, content)
		if err != nil {
			return err
		}
		return s.respond(c, resp, nil)
	}

	groupID := req.ChatGroupID
	if groupID == 0 {
		groupID = sess.CurrentGroupID
	}

	msg, err := s.engine.Send(ctx, sess.UserID, groupID, content, store.MessageKindText)
	if err != nil {
		return err
	}

	if s.ai != nil {
		if group, err := s.store.GetChatGroup(ctx, msg.GroupID); err == nil && group != nil {
			s.ai.Observe(ctx, msg, group)
		}
	}
	return nil
}
