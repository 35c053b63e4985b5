package wire

// RegisterRequest creates a new account.
type RegisterRequest struct {
	Envelope
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	Envelope
	Result
	UserID   int32  `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
}

// LoginRequest authenticates and installs a session. A second login for
// the same user closes the previous connection.
type LoginRequest struct {
	Envelope
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Envelope
	Result
	UserID             int32  `json:"user_id,omitempty"`
	Username           string `json:"username,omitempty"`
	CurrentChatGroupID int32  `json:"current_chat_group_id,omitempty"`
}

type LogoutRequest struct {
	Envelope
}

type LogoutResponse struct {
	Envelope
	Result
	Message string `json:"message,omitempty"`
}

// ChatMessage is both the client's post request ({chat_group_id, content})
// and the server's delivery frame, which fills in the sender and message
// identity. History replay uses the delivery form.
type ChatMessage struct {
	Envelope
	ChatGroupID    int32  `json:"chat_group_id"`
	Content        string `json:"content"`
	MessageID      int32  `json:"message_id,omitempty"`
	SenderID       int32  `json:"sender_id,omitempty"`
	SenderUsername string `json:"sender_username,omitempty"`
	Kind           string `json:"kind,omitempty"`
}

// ChatHistoryComplete marks the end of the history snapshot replayed on
// enter_chat_request. Live broadcasts may already interleave before it.
type ChatHistoryComplete struct {
	Envelope
	ChatGroupID  int32 `json:"chat_group_id"`
	MessageCount int   `json:"message_count"`
}

type UserInfoRequest struct {
	Envelope
}

type UserInfoResponse struct {
	Envelope
	Result
	UserID       int32  `json:"user_id"`
	Username     string `json:"username"`
	IsAdmin      bool   `json:"is_admin"`
	JoinedChats  int    `json:"joined_chats"`
	PrivateChats int    `json:"private_chats"`
	GroupChats   int    `json:"group_chats"`
	TotalUsers   int32  `json:"total_users"`
	TotalChats   int32  `json:"total_chats"`
	OnlineUsers  int    `json:"online_users"`
}

type ListUsersRequest struct {
	Envelope
	ListType string `json:"list_type"`
}

type UserSummary struct {
	UserID   int32  `json:"user_id"`
	Username string `json:"username"`
	IsOnline bool   `json:"is_online"`
}

type ListUsersResponse struct {
	Envelope
	Result
	ListType string        `json:"list_type"`
	Users    []UserSummary `json:"users"`
}

type ListChatsRequest struct {
	Envelope
	ListType string `json:"list_type"`
}

type ChatSummary struct {
	ChatGroupID int32  `json:"chat_group_id"`
	ChatName    string `json:"chat_name"`
	IsPrivate   bool   `json:"is_private"`
	MemberCount int32  `json:"member_count"`
}

type ListChatsResponse struct {
	Envelope
	Result
	ListType string        `json:"list_type"`
	Chats    []ChatSummary `json:"chats"`
}

// CreateChatRequest creates a named group, or a private chat when
// chat_name is empty and member_usernames holds exactly the two peers.
type CreateChatRequest struct {
	Envelope
	ChatName        string   `json:"chat_name"`
	MemberUsernames []string `json:"member_usernames"`
}

type CreateChatResponse struct {
	Envelope
	Result
	ChatGroupID int32  `json:"chat_group_id,omitempty"`
	ChatName    string `json:"chat_name,omitempty"`
	IsPrivate   bool   `json:"is_private,omitempty"`
}

type JoinChatRequest struct {
	Envelope
	ChatName string `json:"chat_name"`
}

type JoinChatResponse struct {
	Envelope
	Result
	ChatGroupID int32  `json:"chat_group_id,omitempty"`
	ChatName    string `json:"chat_name,omitempty"`
}

type EnterChatRequest struct {
	Envelope
	ChatName string `json:"chat_name"`
}

type EnterChatResponse struct {
	Envelope
	Result
	ChatGroupID int32  `json:"chat_group_id,omitempty"`
	ChatName    string `json:"chat_name,omitempty"`
	MemberCount int32  `json:"member_count,omitempty"`
}

// FileUploadRequest reserves a server path for an upload. The byte
// transfer itself happens out of band against the returned path.
type FileUploadRequest struct {
	Envelope
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	ChatGroupID int32  `json:"chat_group_id"`
}

type FileUploadResponse struct {
	Envelope
	Result
	FileID     int32  `json:"file_id,omitempty"`
	ServerPath string `json:"server_path,omitempty"`
}

// FileUploadCompleteRequest tells the server the out-of-band transfer
// finished, so it can verify the blob and announce the file.
type FileUploadCompleteRequest struct {
	Envelope
	FileID int32 `json:"file_id"`
}

type FileUploadCompleteResponse struct {
	Envelope
	Result
	FileID    int32 `json:"file_id,omitempty"`
	MessageID int32 `json:"message_id,omitempty"`
}

type FileDownloadRequest struct {
	Envelope
	FileID int32 `json:"file_id"`
}

type FileDownloadResponse struct {
	Envelope
	Result
	FileID     int32  `json:"file_id,omitempty"`
	FileName   string `json:"file_name,omitempty"`
	ServerPath string `json:"server_path,omitempty"`
	FileSize   int64  `json:"file_size,omitempty"`
}

type FileListRequest struct {
	Envelope
	ChatGroupID int32 `json:"chat_group_id"`
}

type FileSummary struct {
	FileID     int32   `json:"file_id"`
	FileName   string  `json:"file_name"`
	FileSize   int64   `json:"file_size"`
	UploaderID int32   `json:"uploader_id"`
	UploadTime float64 `json:"upload_time"`
}

type FileListResponse struct {
	Envelope
	Result
	ChatGroupID int32         `json:"chat_group_id"`
	Files       []FileSummary `json:"files"`
}

// AdminCommandRequest carries a `/verb -object arg*` command line. The
// same grammar is also accepted as chat_message content starting with '/'.
type AdminCommandRequest struct {
	Envelope
	Command string `json:"command"`
}

type AdminCommandResponse struct {
	Envelope
	Result
	Command      string   `json:"command"`
	Detail       string   `json:"detail,omitempty"`
	BannedUsers  []string `json:"banned_users,omitempty"`
	BannedGroups []string `json:"banned_groups,omitempty"`
}
