package server

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/hrygo/parley/server/wire"
)

// Boundary validation for client-supplied names and content. Everything
// here answers with code 1008; the messages are user-facing.

const (
	usernameMinLen  = 3
	usernameMaxLen  = 20
	passwordMinLen  = 6
	passwordMaxLen  = 50
	groupNameMinLen = 2
	groupNameMaxLen = 30
	messageMaxLen   = 1000
	fileNameMaxLen  = 255
)

// CJK covers Chinese, Japanese kana, and Korean hangul.
var (
	usernameRegex  = regexp.MustCompile(`^[A-Za-z_\p{Han}\p{Hiragana}\p{Katakana}\p{Hangul}][A-Za-z0-9_\p{Han}\p{Hiragana}\p{Katakana}\p{Hangul}]*$`)
	groupNameRegex = regexp.MustCompile(`^[A-Za-z0-9_ \p{Han}\p{Hiragana}\p{Katakana}\p{Hangul}]+$`)
)

func validateUsername(username string) *wire.Error {
	n := len([]rune(username))
	if n < usernameMinLen || n > usernameMaxLen {
		return wire.Errorf(wire.CodeInvalidCommand, "用户名长度必须在 %d-%d 个字符之间", usernameMinLen, usernameMaxLen)
	}
	if !usernameRegex.MatchString(username) {
		return wire.NewError(wire.CodeInvalidCommand, "用户名只能包含字母、数字、下划线和中文，且不能以数字开头")
	}
	return nil
}

func validatePassword(password string) *wire.Error {
	n := len([]rune(password))
	if n < passwordMinLen || n > passwordMaxLen {
		return wire.Errorf(wire.CodeInvalidCommand, "密码长度必须在 %d-%d 个字符之间", passwordMinLen, passwordMaxLen)
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return wire.NewError(wire.CodeInvalidCommand, "密码必须同时包含字母和数字")
	}
	return nil
}

func validateGroupName(name string) *wire.Error {
	n := len([]rune(name))
	if n < groupNameMinLen || n > groupNameMaxLen {
		return wire.Errorf(wire.CodeInvalidCommand, "聊天群名长度必须在 %d-%d 个字符之间", groupNameMinLen, groupNameMaxLen)
	}
	if strings.TrimSpace(name) == "" {
		return wire.NewError(wire.CodeInvalidCommand, "聊天群名不能为空白")
	}
	if !groupNameRegex.MatchString(name) {
		return wire.NewError(wire.CodeInvalidCommand, "聊天群名只能包含字母、数字、下划线、空格和中文")
	}
	return nil
}

// sanitizeMessage strips control characters (keeping newline and tab),
// caps the length, and trims surrounding whitespace, in that order.
func sanitizeMessage(content string) (string, *wire.Error) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, content)

	if runes := []rune(cleaned); len(runes) > messageMaxLen {
		cleaned = string(runes[:messageMaxLen])
	}
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return "", wire.NewError(wire.CodeInvalidCommand, "消息内容不能为空")
	}
	return cleaned, nil
}

// Windows device names are rejected regardless of the server platform so
// a downloaded file is always writable on the client side.
var reservedFileNames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {},
	"COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {},
	"LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

func validateFileName(name string, allowedExts []string) *wire.Error {
	if name == "" || len([]rune(name)) > fileNameMaxLen {
		return wire.Errorf(wire.CodeInvalidCommand, "文件名长度必须在 1-%d 个字符之间", fileNameMaxLen)
	}
	if strings.ContainsAny(name, `<>:"|?*\/`) {
		return wire.NewError(wire.CodeInvalidCommand, "文件名包含非法字符")
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return wire.NewError(wire.CodeInvalidCommand, "文件名包含非法字符")
		}
	}

	ext := strings.ToLower(filepath.Ext(name))
	base := strings.ToUpper(strings.TrimSuffix(name, filepath.Ext(name)))
	if _, reserved := reservedFileNames[base]; reserved {
		return wire.Errorf(wire.CodeInvalidCommand, "文件名 '%s' 是系统保留名称", name)
	}

	ext = strings.TrimPrefix(ext, ".")
	for _, allowed := range allowedExts {
		if ext == allowed {
			return nil
		}
	}
	return wire.Errorf(wire.CodeInvalidCommand, "不支持的文件类型 '%s'", ext)
}
