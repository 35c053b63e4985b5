package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

const (
	// PublicGroupID is the bootstrap group every user belongs to.
	PublicGroupID int32 = 1

	PublicGroupName = "public"
)

// ErrGroupExists reports a group name collision on create.
var ErrGroupExists = errors.New("chat group already exists")

// IsProtectedGroup reports whether id names a group that can never be
// deleted or banned.
func IsProtectedGroup(id int32) bool {
	return id == PublicGroupID
}

type ChatGroup struct {
	ID        int32
	Name      string
	IsPrivate bool
	IsBanned  bool
	CreatedTs int64

	// MemberCount is populated by list queries, not a column.
	MemberCount int32
}

type FindChatGroup struct {
	ID        *int32
	Name      *string
	IsPrivate *bool
	IsBanned  *bool
	// MemberUserID restricts to groups the given user belongs to.
	MemberUserID *int32
	Limit        *int
}

type UpdateChatGroup struct {
	Name     *string
	IsBanned *bool
	ID       int32
}

type DeleteChatGroup struct {
	ID int32
}

// CreateChatGroup inserts the group and its initial membership rows in
// one transaction. The caller (group engine) decides the member set;
// the store does not re-derive it.
func (s *Store) CreateChatGroup(ctx context.Context, create *ChatGroup, memberIDs []int32) (*ChatGroup, error) {
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.driver.CreateChatGroup(ctx, create, memberIDs)
}

func (s *Store) ListChatGroups(ctx context.Context, find *FindChatGroup) ([]*ChatGroup, error) {
	return s.driver.ListChatGroups(ctx, find)
}

func (s *Store) GetChatGroup(ctx context.Context, id int32) (*ChatGroup, error) {
	groups, err := s.ListChatGroups(ctx, &FindChatGroup{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, nil
	}
	return groups[0], nil
}

func (s *Store) GetChatGroupByName(ctx context.Context, name string) (*ChatGroup, error) {
	groups, err := s.ListChatGroups(ctx, &FindChatGroup{Name: &name})
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, nil
	}
	return groups[0], nil
}

func (s *Store) UpdateChatGroup(ctx context.Context, update *UpdateChatGroup) (*ChatGroup, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.driver.UpdateChatGroup(ctx, update)
}

// DeleteChatGroup removes the group and cascades to memberships,
// messages in the group, and file metadata it holds. The public group
// is refused.
func (s *Store) DeleteChatGroup(ctx context.Context, delete *DeleteChatGroup) error {
	if IsProtectedGroup(delete.ID) {
		return errors.Errorf("group %d is protected and cannot be deleted", delete.ID)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.driver.DeleteChatGroup(ctx, delete)
}

func (s *Store) CountChatGroups(ctx context.Context) (int32, error) {
	return s.driver.CountChatGroups(ctx)
}

// IsGroupBanned is an authorization primitive.
func (s *Store) IsGroupBanned(ctx context.Context, id int32) (bool, error) {
	group, err := s.GetChatGroup(ctx, id)
	if err != nil {
		return false, err
	}
	return group != nil && group.IsBanned, nil
}
