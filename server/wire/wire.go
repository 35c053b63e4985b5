// Package wire defines the newline-delimited JSON protocol spoken between
// parley clients and the server. Every frame is a single UTF-8 JSON object
// terminated by '\n', carrying a `message_type` tag and a `timestamp` in
// float seconds since the epoch; the remaining fields are tag-specific.
package wire

import "time"

// Frame tags. Requests use `<name>_request`; their replies use
// `<name>_response`. `chat_message` flows both ways: clients send it to
// post, the server sends it to deliver broadcasts and history.
const (
	TypeRegisterRequest  = "register_request"
	TypeRegisterResponse = "register_response"
	TypeLoginRequest     = "login_request"
	TypeLoginResponse    = "login_response"
	TypeLogoutRequest    = "logout_request"
	TypeLogoutResponse   = "logout_response"

	TypeChatMessage         = "chat_message"
	TypeChatHistoryComplete = "chat_history_complete"

	TypeUserInfoRequest   = "user_info_request"
	TypeUserInfoResponse  = "user_info_response"
	TypeListUsersRequest  = "list_users_request"
	TypeListUsersResponse = "list_users_response"
	TypeListChatsRequest  = "list_chats_request"
	TypeListChatsResponse = "list_chats_response"

	TypeCreateChatRequest  = "create_chat_request"
	TypeCreateChatResponse = "create_chat_response"
	TypeJoinChatRequest    = "join_chat_request"
	TypeJoinChatResponse   = "join_chat_response"
	TypeEnterChatRequest   = "enter_chat_request"
	TypeEnterChatResponse  = "enter_chat_response"

	TypeFileUploadRequest          = "file_upload_request"
	TypeFileUploadResponse         = "file_upload_response"
	TypeFileUploadCompleteRequest  = "file_upload_complete_request"
	TypeFileUploadCompleteResponse = "file_upload_complete_response"
	TypeFileDownloadRequest        = "file_download_request"
	TypeFileDownloadResponse       = "file_download_response"
	TypeFileListRequest            = "file_list_request"
	TypeFileListResponse           = "file_list_response"

	TypeAdminCommandRequest  = "admin_command_request"
	TypeAdminCommandResponse = "admin_command_response"

	TypeErrorMessage = "error_message"
)

// Scopes accepted by list_users_request and list_chats_request.
const (
	ListTypeAll         = "all"
	ListTypeCurrentChat = "current_chat"
	ListTypeUserChats   = "user_chats"
	ListTypeGroupChats  = "group_chats"
)

// Envelope is embedded in every frame.
type Envelope struct {
	MessageType string  `json:"message_type"`
	Timestamp   float64 `json:"timestamp"`
}

// NewEnvelope stamps a frame header with the current time.
func NewEnvelope(messageType string) Envelope {
	return Envelope{MessageType: messageType, Timestamp: Now()}
}

// Now returns the wire-format timestamp: seconds since the epoch as a
// float, sub-second precision preserved.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// Result is embedded in every response frame. Failures carry the same
// code/message pair the error_message envelope uses.
type Result struct {
	Success      bool   `json:"success"`
	ErrorCode    int    `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// OK is the Result of a successful request.
func OK() Result {
	return Result{Success: true}
}

// Failed converts a protocol error into a failing Result.
func Failed(err *Error) Result {
	return Result{Success: false, ErrorCode: err.Code, ErrorMessage: err.Message}
}

// Response is satisfied by every *_response frame through its embedded
// Result, so transport code can stamp the outcome without knowing the
// concrete frame type.
type Response interface {
	SetResult(Result)
}

func (r *Result) SetResult(res Result) { *r = res }
