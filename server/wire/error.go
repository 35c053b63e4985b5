package wire

import "fmt"

// Protocol error codes. These are wire-stable: clients key on them.
const (
	CodeAuthFailed       = 1001 // bad credentials or not logged in
	CodeUserExists       = 1002
	CodeUserNotFound     = 1003
	CodeGroupNotFound    = 1004
	CodePermissionDenied = 1005
	CodeFileNotFound     = 1006
	CodeFileTooLarge     = 1007
	CodeInvalidCommand   = 1008 // malformed frame, unknown tag, bad input
	CodeServerError      = 1009
	CodeNetworkError     = 1010
	CodeStoreError       = 1011
	CodeAIError          = 1012
)

// Error is a protocol-visible failure. Handlers return it to have the
// dispatcher emit the error envelope; its message is written to the wire,
// so it must never carry internal detail.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("wire error %d: %s", e.Code, e.Message)
}

// NewError builds a protocol error with a fixed message.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf builds a protocol error with a formatted message.
func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ErrorMessage is the uniform error envelope.
type ErrorMessage struct {
	Envelope
	ErrorCode int    `json:"error_code"`
	ErrorText string `json:"error_message"`
}

// NewErrorMessage wraps a protocol error into its wire frame.
func NewErrorMessage(err *Error) *ErrorMessage {
	return &ErrorMessage{
		Envelope:  NewEnvelope(TypeErrorMessage),
		ErrorCode: err.Code,
		ErrorText: err.Message,
	}
}
