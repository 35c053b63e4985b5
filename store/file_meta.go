package store

import (
	"context"
	"time"
)

// FileMeta records an uploaded file. The blob bytes live with the
// storage collaborator; the store only tracks metadata.
type FileMeta struct {
	ID           int32
	OriginalName string
	ServerPath   string
	Size         int64
	UploaderID   int32
	GroupID      int32
	UploadTs     int64
	// MessageID links the announcement message once the upload finished.
	MessageID *int32
}

type FindFileMeta struct {
	ID         *int32
	GroupID    *int32
	UploaderID *int32
	ServerPath *string
	Limit      *int
	Offset     *int
}

type UpdateFileMeta struct {
	MessageID *int32
	Size      *int64
	ID        int32
}

type DeleteFileMeta struct {
	ID int32
}

func (s *Store) CreateFileMeta(ctx context.Context, create *FileMeta) (*FileMeta, error) {
	if create.UploadTs == 0 {
		create.UploadTs = time.Now().Unix()
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.driver.CreateFileMeta(ctx, create)
}

func (s *Store) ListFileMetas(ctx context.Context, find *FindFileMeta) ([]*FileMeta, error) {
	return s.driver.ListFileMetas(ctx, find)
}

func (s *Store) GetFileMeta(ctx context.Context, id int32) (*FileMeta, error) {
	files, err := s.ListFileMetas(ctx, &FindFileMeta{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}
	return files[0], nil
}

func (s *Store) UpdateFileMeta(ctx context.Context, update *UpdateFileMeta) (*FileMeta, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.driver.UpdateFileMeta(ctx, update)
}

// DeleteFileMeta removes the metadata row only; callers that own the
// blob delete it through the storage collaborator first.
func (s *Store) DeleteFileMeta(ctx context.Context, delete *DeleteFileMeta) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.driver.DeleteFileMeta(ctx, delete)
}
