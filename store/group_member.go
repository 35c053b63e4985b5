package store

import (
	"context"
	"time"
)

type GroupMember struct {
	GroupID  int32
	UserID   int32
	JoinedTs int64
}

type UpsertGroupMember struct {
	GroupID  int32
	UserID   int32
	JoinedTs int64
}

type FindGroupMember struct {
	GroupID *int32
	UserID  *int32
}

// UpsertGroupMember adds a membership row; re-adding an existing member
// is a no-op, never an error.
func (s *Store) UpsertGroupMember(ctx context.Context, upsert *UpsertGroupMember) error {
	if upsert.JoinedTs == 0 {
		upsert.JoinedTs = time.Now().Unix()
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.driver.UpsertGroupMember(ctx, upsert)
}

func (s *Store) ListGroupMembers(ctx context.Context, find *FindGroupMember) ([]*GroupMember, error) {
	return s.driver.ListGroupMembers(ctx, find)
}

// IsMember is the authorization primitive behind every send.
func (s *Store) IsMember(ctx context.Context, groupID, userID int32) (bool, error) {
	members, err := s.driver.ListGroupMembers(ctx, &FindGroupMember{GroupID: &groupID, UserID: &userID})
	if err != nil {
		return false, err
	}
	return len(members) > 0, nil
}
