package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hrygo/parley/plugin/storage"
	"github.com/hrygo/parley/server/wire"
	"github.com/hrygo/parley/store"
)

// blobFailure is the storage-collaborator analog of storeFailure.
func blobFailure(op string, err error) *wire.Error {
	slog.Error("blob operation failed", "op", op, "error", err)
	return wire.NewError(wire.CodeServerError, "服务器内部错误")
}

// handleFileUpload reserves a server path and records the metadata. The
// byte transfer itself happens out of band against server_path; the
// client reports back with file_upload_complete_request.
func (s *Server) handleFileUpload(ctx context.Context, c *Connection, raw []byte) error {
	var req wire.FileUploadRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errBadPayload
	}
	resp := &wire.FileUploadResponse{Envelope: wire.NewEnvelope(wire.TypeFileUploadResponse)}
	sess, wireErr := s.requireSession(c)
	if wireErr != nil {
		return s.respond(c, resp, wireErr)
	}

	if err := validateFileName(req.FileName, s.profile.FileExts); err != nil {
		return s.respond(c, resp, err)
	}
	if req.FileSize <= 0 {
		return s.respond(c, resp, wire.NewError(wire.CodeInvalidCommand, "文件大小无效"))
	}
	if req.FileSize > s.profile.MaxFileBytes() {
		return s.respond(c, resp, wire.Errorf(wire.CodeFileTooLarge, "文件大小超过限制 (%d MB)", s.profile.MaxFileMB))
	}

	groupID := req.ChatGroupID
	if groupID == 0 {
		groupID = sess.CurrentGroupID
	}
	group, err := s.store.GetChatGroup(ctx, groupID)
	if err != nil {
		return s.respond(c, resp, storeFailure("get chat group", err))
	}
	if group == nil {
		return s.respond(c, resp, wire.Errorf(wire.CodeGroupNotFound, "聊天群不存在 (id=%d)", groupID))
	}
	isMember, err := s.store.IsMember(ctx, groupID, sess.UserID)
	if err != nil {
		return s.respond(c, resp, storeFailure("membership check", err))
	}
	if !isMember {
		return s.respond(c, resp, wire.Errorf(wire.CodePermissionDenied, "您不是聊天群 '%s' 的成员", group.Name))
	}

	serverPath, err := s.blobs.Allocate(req.FileName)
	if err != nil {
		return s.respond(c, resp, blobFailure("allocate", err))
	}
	meta, err := s.store.CreateFileMeta(ctx, &store.FileMeta{
		OriginalName: req.FileName,
		ServerPath:   serverPath,
		Size:         req.FileSize,
		UploaderID:   sess.UserID,
		GroupID:      groupID,
	})
	if err != nil {
		return s.respond(c, resp, storeFailure("create file meta", err))
	}
	slog.Info("file upload started",
		"file_id", meta.ID,
		"file_name", meta.OriginalName,
		"size", meta.Size,
		"group_id", groupID,
		"uploader_id", sess.UserID,
	)

	resp.FileID = meta.ID
	resp.ServerPath = meta.ServerPath
	return s.respond(c, resp, nil)
}

// handleFileUploadComplete verifies the blob landed, announces it in the
// group, and links the announcement back to the metadata row.
func (s *Server) handleFileUploadComplete(ctx context.Context, c *Connection, raw []byte) error {
	var req wire.FileUploadCompleteRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errBadPayload
	}
	resp := &wire.FileUploadCompleteResponse{Envelope: wire.NewEnvelope(wire.TypeFileUploadCompleteResponse)}
	sess, wireErr := s.requireSession(c)
	if wireErr != nil {
		return s.respond(c, resp, wireErr)
	}

	meta, err := s.store.GetFileMeta(ctx, req.FileID)
	if err != nil {
		return s.respond(c, resp, storeFailure("get file meta", err))
	}
	if meta == nil {
		return s.respond(c, resp, wire.Errorf(wire.CodeFileNotFound, "文件不存在 (id=%d)", req.FileID))
	}
	if meta.UploaderID != sess.UserID {
		return s.respond(c, resp, wire.NewError(wire.CodePermissionDenied, "只有上传者可以完成此操作"))
	}

	size, err := s.blobs.Stat(meta.ServerPath)
	if err != nil {
		return s.respond(c, resp, wire.NewError(wire.CodeFileNotFound, "文件尚未上传完成"))
	}
	if size > s.profile.MaxFileBytes() {
		// Announced size was a lie; drop the blob and the record.
		if err := s.blobs.Remove(meta.ServerPath); err != nil {
			slog.Warn("failed to remove oversized blob", "server_path", meta.ServerPath, "error", err)
		}
		if err := s.store.DeleteFileMeta(ctx, &store.DeleteFileMeta{ID: meta.ID}); err != nil {
			slog.Warn("failed to delete oversized file meta", "file_id", meta.ID, "error", err)
		}
		return s.respond(c, resp, wire.Errorf(wire.CodeFileTooLarge, "文件大小超过限制 (%d MB)", s.profile.MaxFileMB))
	}

	announcement := fmt.Sprintf("%s 上传了文件 '%s' (%s)", sess.Username, meta.OriginalName, formatBytes(size))
	msg, err := s.engine.PostSystemMessage(ctx, meta.GroupID, announcement)
	if err != nil {
		return s.respond(c, resp, err)
	}
	if _, err := s.store.UpdateFileMeta(ctx, &store.UpdateFileMeta{ID: meta.ID, MessageID: &msg.ID, Size: &size}); err != nil {
		return s.respond(c, resp, storeFailure("update file meta", err))
	}

	if storage.HasThumbnail(meta.OriginalName) {
		serverPath := meta.ServerPath
		go func() {
			tctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := s.blobs.GenerateThumbnail(tctx, serverPath); err != nil {
				slog.Warn("thumbnail generation failed", "server_path", serverPath, "error", err)
			}
		}()
	}

	resp.FileID = meta.ID
	resp.MessageID = msg.ID
	return s.respond(c, resp, nil)
}

func (s *Server) handleFileDownload(ctx context.Context, c *Connection, raw []byte) error {
	var req wire.FileDownloadRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errBadPayload
	}
	resp := &wire.FileDownloadResponse{Envelope: wire.NewEnvelope(wire.TypeFileDownloadResponse)}
	sess, wireErr := s.requireSession(c)
	if wireErr != nil {
		return s.respond(c, resp, wireErr)
	}

	meta, err := s.store.GetFileMeta(ctx, req.FileID)
	if err != nil {
		return s.respond(c, resp, storeFailure("get file meta", err))
	}
	if meta == nil {
		return s.respond(c, resp, wire.Errorf(wire.CodeFileNotFound, "文件不存在 (id=%d)", req.FileID))
	}
	isMember, err := s.store.IsMember(ctx, meta.GroupID, sess.UserID)
	if err != nil {
		return s.respond(c, resp, storeFailure("membership check", err))
	}
	if !isMember {
		return s.respond(c, resp, wire.NewError(wire.CodePermissionDenied, "您不是该聊天群的成员"))
	}
	if _, err := s.blobs.Stat(meta.ServerPath); err != nil {
		return s.respond(c, resp, wire.NewError(wire.CodeFileNotFound, "文件尚未上传完成"))
	}

	resp.FileID = meta.ID
	resp.FileName = meta.OriginalName
	resp.ServerPath = meta.ServerPath
	resp.FileSize = meta.Size
	return s.respond(c, resp, nil)
}

func (s *Server) handleFileList(ctx context.Context, c *Connection, raw []byte) error {
	var req wire.FileListRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return errBadPayload
	}
	resp := &wire.FileListResponse{Envelope: wire.NewEnvelope(wire.TypeFileListResponse)}
	sess, wireErr := s.requireSession(c)
	if wireErr != nil {
		return s.respond(c, resp, wireErr)
	}

	groupID := req.ChatGroupID
	if groupID == 0 {
		groupID = sess.CurrentGroupID
	}
	isMember, err := s.store.IsMember(ctx, groupID, sess.UserID)
	if err != nil {
		return s.respond(c, resp, storeFailure("membership check", err))
	}
	if !isMember {
		return s.respond(c, resp, wire.NewError(wire.CodePermissionDenied, "您不是该聊天群的成员"))
	}

	files, err := s.store.ListFileMetas(ctx, &store.FindFileMeta{GroupID: &groupID})
	if err != nil {
		return s.respond(c, resp, storeFailure("list file metas", err))
	}

	resp.ChatGroupID = groupID
	for _, meta := range files {
		resp.Files = append(resp.Files, wire.FileSummary{
			FileID:     meta.ID,
			FileName:   meta.OriginalName,
			FileSize:   meta.Size,
			UploaderID: meta.UploaderID,
			UploadTime: float64(meta.UploadTs),
		})
	}
	return s.respond(c, resp, nil)
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(n)/float64(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/float64(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
