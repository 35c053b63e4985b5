package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// Reserved accounts created at seed time. Both are immutable: they can
// never be deleted, renamed through admin commands, or banned.
const (
	// AdminUserID is the moderator account.
	AdminUserID int32 = 0
	// AIUserID is the virtual assistant that participates in groups.
	AIUserID int32 = 1

	AdminUsername = "admin"
	AIUsername    = "AI"
)

// ErrUserExists reports a username collision on create.
var ErrUserExists = errors.New("user already exists")

// IsReservedUser reports whether id belongs to a reserved account.
func IsReservedUser(id int32) bool {
	return id == AdminUserID || id == AIUserID
}

type User struct {
	ID           int32
	Username     string
	PasswordHash string
	IsOnline     bool
	IsBanned     bool
	CreatedTs    int64
}

type FindUser struct {
	ID       *int32
	Username *string
	IsOnline *bool
	IsBanned *bool
	Limit    *int
}

type UpdateUser struct {
	Username     *string
	Password     *string // plaintext; the facade hashes it into PasswordHash
	PasswordHash *string
	IsOnline     *bool
	IsBanned     *bool
	ID           int32
}

type DeleteUser struct {
	ID int32
}

// CreateUser hashes the password and inserts the user. The driver adds
// the public-group membership in the same transaction, so a user never
// exists outside public.
func (s *Store) CreateUser(ctx context.Context, username, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "failed to hash password")
	}
	create := &User{
		Username:     username,
		PasswordHash: string(hash),
		CreatedTs:    time.Now().Unix(),
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.driver.CreateUser(ctx, create)
}

// Authenticate returns the user on an exact credential match and
// (nil, nil) on unknown name or password mismatch. Only backend
// failures surface as errors.
func (s *Store) Authenticate(ctx context.Context, username, password string) (*User, error) {
	user, err := s.GetUserByName(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, nil
	}
	// The AI account is seeded without a password and can never log in.
	if user.PasswordHash == "" {
		return nil, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to compare password hash")
	}
	return user, nil
}

func (s *Store) ListUsers(ctx context.Context, find *FindUser) ([]*User, error) {
	return s.driver.ListUsers(ctx, find)
}

func (s *Store) GetUser(ctx context.Context, id int32) (*User, error) {
	if cached, ok := s.userCache.Get(userCacheKey(id)); ok {
		if user, ok := cached.(*User); ok {
			return user, nil
		}
	}
	users, err := s.ListUsers(ctx, &FindUser{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	s.userCache.Set(userCacheKey(id), users[0])
	return users[0], nil
}

func (s *Store) GetUserByName(ctx context.Context, username string) (*User, error) {
	users, err := s.ListUsers(ctx, &FindUser{Username: &username})
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	return users[0], nil
}

func (s *Store) UpdateUser(ctx context.Context, update *UpdateUser) (*User, error) {
	if update.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*update.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, errors.Wrap(err, "failed to hash password")
		}
		hashed := string(hash)
		update.PasswordHash = &hashed
		update.Password = nil
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	user, err := s.driver.UpdateUser(ctx, update)
	if err != nil {
		return nil, err
	}
	s.userCache.Delete(userCacheKey(update.ID))
	return user, nil
}

// DeleteUser removes the user and cascades to memberships, messages by
// that sender, and file metadata they uploaded. Reserved accounts are
// refused here so no caller can reach the driver with one.
func (s *Store) DeleteUser(ctx context.Context, delete *DeleteUser) error {
	if IsReservedUser(delete.ID) {
		return errors.Errorf("user %d is reserved and cannot be deleted", delete.ID)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.driver.DeleteUser(ctx, delete); err != nil {
		return err
	}
	s.userCache.Delete(userCacheKey(delete.ID))
	return nil
}

func (s *Store) CountUsers(ctx context.Context) (int32, error) {
	return s.driver.CountUsers(ctx)
}

// IsUserBanned is an authorization primitive; unknown users read as not
// banned, membership checks reject them elsewhere.
func (s *Store) IsUserBanned(ctx context.Context, id int32) (bool, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return false, err
	}
	return user != nil && user.IsBanned, nil
}
