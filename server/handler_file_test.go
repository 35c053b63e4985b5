package server

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/parley/server/wire"
	"github.com/hrygo/parley/store"
)

func (tc *testClient) fileUpload(name string, size int64, groupID int32) map[string]any {
	tc.t.Helper()
	tc.send(map[string]any{
		"message_type":  wire.TypeFileUploadRequest,
		"timestamp":     wire.Now(),
		"file_name":     name,
		"file_size":     size,
		"chat_group_id": groupID,
	})
	return tc.expect(wire.TypeFileUploadResponse)
}

func (tc *testClient) fileUploadComplete(fileID int32) map[string]any {
	tc.t.Helper()
	tc.send(map[string]any{
		"message_type": wire.TypeFileUploadCompleteRequest,
		"timestamp":    wire.Now(),
		"file_id":      fileID,
	})
	return tc.expect(wire.TypeFileUploadCompleteResponse)
}

// TestFileUploadFlow walks the whole protocol: reserve a path, land the
// bytes out of band, complete, see the announcement, then list and
// download.
func TestFileUploadFlow(t *testing.T) {
	s := newTestServer(t)
	alice := dial(t, s)
	alice.registerAndLogin("alice", "secret1")

	resp := alice.fileUpload("notes.txt", 11, store.PublicGroupID)
	require.Equal(t, true, resp["success"])
	fileID := int32(resp["file_id"].(float64))
	serverPath := resp["server_path"].(string)
	require.NotEmpty(t, serverPath)

	// The transfer happens outside the chat protocol.
	require.NoError(t, os.WriteFile(serverPath, []byte("hello files"), 0o644))

	// Completion announces before it answers, so the system notice lands
	// first on the uploader's own stream.
	alice.send(map[string]any{
		"message_type": wire.TypeFileUploadCompleteRequest,
		"timestamp":    wire.Now(),
		"file_id":      fileID,
	})
	notice := alice.expect(wire.TypeChatMessage)
	require.Equal(t, store.MessageKindSystem, notice["kind"])
	require.Contains(t, notice["content"], "alice 上传了文件 'notes.txt'")
	require.Contains(t, notice["content"], "11 B")

	done := alice.expect(wire.TypeFileUploadCompleteResponse)
	require.Equal(t, true, done["success"])
	require.EqualValues(t, fileID, done["file_id"])
	require.NotZero(t, done["message_id"])

	t.Run("list", func(t *testing.T) {
		alice.send(map[string]any{
			"message_type":  wire.TypeFileListRequest,
			"timestamp":     wire.Now(),
			"chat_group_id": store.PublicGroupID,
		})
		resp := alice.expect(wire.TypeFileListResponse)
		require.Equal(t, true, resp["success"])
		files := resp["files"].([]any)
		require.Len(t, files, 1)
		entry := files[0].(map[string]any)
		require.Equal(t, "notes.txt", entry["file_name"])
		require.EqualValues(t, 11, entry["file_size"])
	})

	t.Run("download", func(t *testing.T) {
		alice.send(map[string]any{
			"message_type": wire.TypeFileDownloadRequest,
			"timestamp":    wire.Now(),
			"file_id":      fileID,
		})
		resp := alice.expect(wire.TypeFileDownloadResponse)
		require.Equal(t, true, resp["success"])
		require.Equal(t, "notes.txt", resp["file_name"])
		require.Equal(t, serverPath, resp["server_path"])
		require.EqualValues(t, 11, resp["file_size"])
	})
}

func TestFileUploadRejections(t *testing.T) {
	s := newTestServer(t)
	alice := dial(t, s)
	alice.registerAndLogin("alice", "secret1")

	owner := dial(t, s)
	owner.registerAndLogin("owner", "secret2")
	resp := owner.createChat("devs", nil)
	require.Equal(t, true, resp["success"])
	devsID := int32(resp["chat_group_id"].(float64))

	tests := []struct {
		name     string
		fileName string
		size     int64
		groupID  int32
		wantCode int
	}{
		{"disallowed extension", "tool.exe", 10, store.PublicGroupID, wire.CodeInvalidCommand},
		{"zero size", "notes.txt", 0, store.PublicGroupID, wire.CodeInvalidCommand},
		{"over the limit", "big.txt", 9 << 20, store.PublicGroupID, wire.CodeFileTooLarge},
		{"unknown group", "notes.txt", 10, 999, wire.CodeGroupNotFound},
		{"not a member", "notes.txt", 10, devsID, wire.CodePermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := alice.fileUpload(tt.fileName, tt.size, tt.groupID)
			require.Equal(t, false, resp["success"])
			require.EqualValues(t, tt.wantCode, resp["error_code"])
		})
	}
}

func TestFileUploadCompleteGuards(t *testing.T) {
	s := newTestServer(t)
	alice := dial(t, s)
	alice.registerAndLogin("alice", "secret1")
	bob := dial(t, s)
	bob.registerAndLogin("bob", "secret2")

	resp := alice.fileUpload("notes.txt", 10, store.PublicGroupID)
	require.Equal(t, true, resp["success"])
	fileID := int32(resp["file_id"].(float64))

	t.Run("unknown file", func(t *testing.T) {
		resp := alice.fileUploadComplete(999)
		require.Equal(t, false, resp["success"])
		require.EqualValues(t, wire.CodeFileNotFound, resp["error_code"])
	})

	t.Run("only the uploader may complete", func(t *testing.T) {
		resp := bob.fileUploadComplete(fileID)
		require.Equal(t, false, resp["success"])
		require.EqualValues(t, wire.CodePermissionDenied, resp["error_code"])
	})

	t.Run("blob not there yet", func(t *testing.T) {
		resp := alice.fileUploadComplete(fileID)
		require.Equal(t, false, resp["success"])
		require.EqualValues(t, wire.CodeFileNotFound, resp["error_code"])
	})
}

// TestFileUploadCompleteOversized writes more bytes than the limit
// allows; the server drops both the blob and the metadata.
func TestFileUploadCompleteOversized(t *testing.T) {
	p := newTestProfile(t)
	p.MaxFileMB = 1
	s := newTestServerWithProfile(t, p)

	alice := dial(t, s)
	alice.registerAndLogin("alice", "secret1")

	resp := alice.fileUpload("big.txt", 100, store.PublicGroupID)
	require.Equal(t, true, resp["success"])
	fileID := int32(resp["file_id"].(float64))
	serverPath := resp["server_path"].(string)

	require.NoError(t, os.WriteFile(serverPath, make([]byte, 2<<20), 0o644))

	done := alice.fileUploadComplete(fileID)
	require.Equal(t, false, done["success"])
	require.EqualValues(t, wire.CodeFileTooLarge, done["error_code"])

	_, err := os.Stat(serverPath)
	require.True(t, os.IsNotExist(err), "oversized blob must be deleted")

	meta, err := s.store.GetFileMeta(context.Background(), fileID)
	require.NoError(t, err)
	require.Nil(t, meta, "metadata row must be deleted")
}

func TestFileDownloadRequiresMembership(t *testing.T) {
	s := newTestServer(t)

	owner := dial(t, s)
	owner.registerAndLogin("owner", "secret1")
	resp := owner.createChat("devs", nil)
	require.Equal(t, true, resp["success"])
	devsID := int32(resp["chat_group_id"].(float64))

	resp = owner.fileUpload("notes.txt", 5, devsID)
	require.Equal(t, true, resp["success"])
	fileID := int32(resp["file_id"].(float64))
	require.NoError(t, os.WriteFile(resp["server_path"].(string), []byte("12345"), 0o644))

	outsider := dial(t, s)
	outsider.registerAndLogin("mallory", "secret2")

	outsider.send(map[string]any{
		"message_type": wire.TypeFileDownloadRequest,
		"timestamp":    wire.Now(),
		"file_id":      fileID,
	})
	dl := outsider.expect(wire.TypeFileDownloadResponse)
	require.Equal(t, false, dl["success"])
	require.EqualValues(t, wire.CodePermissionDenied, dl["error_code"])

	outsider.send(map[string]any{
		"message_type":  wire.TypeFileListRequest,
		"timestamp":     wire.Now(),
		"chat_group_id": devsID,
	})
	list := outsider.expect(wire.TypeFileListResponse)
	require.Equal(t, false, list["success"])
	require.EqualValues(t, wire.CodePermissionDenied, list["error_code"])
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 << 20, "5.0 MB"},
		{3 << 30, "3.0 GB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.n); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
