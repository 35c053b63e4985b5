package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// ErrNotFound reports a missing row on update or delete.
var ErrNotFound = errors.New("not found")

// Driver is an interface for database access. Every backend implements
// the full set; multi-row operations (user creation with the public
// membership, group creation with its initial members, delete cascades)
// run inside a single transaction in the driver.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	Migrate(ctx context.Context) error
	Seed(ctx context.Context, seed *SeedParams) error

	CreateUser(ctx context.Context, create *User) (*User, error)
	ListUsers(ctx context.Context, find *FindUser) ([]*User, error)
	UpdateUser(ctx context.Context, update *UpdateUser) (*User, error)
	DeleteUser(ctx context.Context, delete *DeleteUser) error
	CountUsers(ctx context.Context) (int32, error)

	CreateChatGroup(ctx context.Context, create *ChatGroup, memberIDs []int32) (*ChatGroup, error)
	ListChatGroups(ctx context.Context, find *FindChatGroup) ([]*ChatGroup, error)
	UpdateChatGroup(ctx context.Context, update *UpdateChatGroup) (*ChatGroup, error)
	DeleteChatGroup(ctx context.Context, delete *DeleteChatGroup) error
	CountChatGroups(ctx context.Context) (int32, error)

	UpsertGroupMember(ctx context.Context, upsert *UpsertGroupMember) error
	ListGroupMembers(ctx context.Context, find *FindGroupMember) ([]*GroupMember, error)

	CreateMessage(ctx context.Context, create *Message) (*Message, error)
	ListMessages(ctx context.Context, find *FindMessage) ([]*Message, error)

	CreateFileMeta(ctx context.Context, create *FileMeta) (*FileMeta, error)
	ListFileMetas(ctx context.Context, find *FindFileMeta) ([]*FileMeta, error)
	UpdateFileMeta(ctx context.Context, update *UpdateFileMeta) (*FileMeta, error)
	DeleteFileMeta(ctx context.Context, delete *DeleteFileMeta) error

	CreateAuditEntry(ctx context.Context, create *AuditEntry) (*AuditEntry, error)
	ListAuditEntries(ctx context.Context, find *FindAuditEntry) ([]*AuditEntry, error)
}
