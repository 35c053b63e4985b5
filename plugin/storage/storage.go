// Package storage owns the server-side blob layout for file transfers.
// The chat core only ever deals in server paths: it asks for a path at
// upload time, checks the blob after the out-of-band transfer, and asks
// for removal when an admin deletes the file. Bytes never travel through
// the chat protocol itself.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	// Register decoders beyond the stdlib set so thumbnails work for
	// webp uploads too.
	_ "golang.org/x/image/webp"
)

// BlobStore is the collaborator interface the chat core consumes.
type BlobStore interface {
	// Allocate reserves a fresh server path for an upload of the given
	// original name. The parent directory exists on return.
	Allocate(originalName string) (string, error)
	// Stat returns the size of the blob at serverPath.
	Stat(serverPath string) (int64, error)
	// Remove deletes the blob and its thumbnail. Missing files are not
	// an error.
	Remove(serverPath string) error
	// ThumbnailPath returns where the thumbnail for serverPath lives,
	// whether or not it has been generated yet.
	ThumbnailPath(serverPath string) string
	// GenerateThumbnail renders a bounded preview for image blobs.
	GenerateThumbnail(ctx context.Context, serverPath string) error
}

const (
	thumbnailMaxSize = 512
	thumbnailSuffix  = "_thumb.jpg"
)

// LocalStore keeps blobs on the local filesystem under root, sharded by
// upload month: <root>/<yyyy>/<mm>/<shortuuid><ext>.
type LocalStore struct {
	root string

	// Thumbnail rendering decodes whole images into memory; cap how
	// many run at once.
	thumbnailSemaphore *semaphore.Weighted
}

func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		return nil, errors.New("storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create storage root %s", root)
	}
	return &LocalStore{
		root:               root,
		thumbnailSemaphore: semaphore.NewWeighted(3),
	}, nil
}

func (s *LocalStore) Allocate(originalName string) (string, error) {
	now := time.Now()
	dir := filepath.Join(s.root, fmt.Sprintf("%04d", now.Year()), fmt.Sprintf("%02d", now.Month()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create storage directory %s", dir)
	}
	ext := strings.ToLower(filepath.Ext(originalName))
	return filepath.Join(dir, shortuuid.New()+ext), nil
}

func (s *LocalStore) Stat(serverPath string) (int64, error) {
	info, err := os.Stat(serverPath)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to stat blob %s", serverPath)
	}
	return info.Size(), nil
}

func (s *LocalStore) Remove(serverPath string) error {
	if err := os.Remove(serverPath); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove blob %s", serverPath)
	}
	if err := os.Remove(s.ThumbnailPath(serverPath)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove thumbnail for %s", serverPath)
	}
	return nil
}

func (s *LocalStore) ThumbnailPath(serverPath string) string {
	ext := filepath.Ext(serverPath)
	return strings.TrimSuffix(serverPath, ext) + thumbnailSuffix
}

// GenerateThumbnail fits the image into 512x512 and saves it as JPEG next
// to the blob. Non-image blobs should not be passed here; decode failures
// surface as errors for the caller to log.
func (s *LocalStore) GenerateThumbnail(ctx context.Context, serverPath string) error {
	if err := s.thumbnailSemaphore.Acquire(ctx, 1); err != nil {
		return errors.Wrap(err, "failed to acquire thumbnail slot")
	}
	defer s.thumbnailSemaphore.Release(1)

	img, err := imaging.Open(serverPath, imaging.AutoOrientation(true))
	if err != nil {
		return errors.Wrapf(err, "failed to decode image %s", serverPath)
	}
	thumb := imaging.Fit(img, thumbnailMaxSize, thumbnailMaxSize, imaging.Lanczos)
	if err := imaging.Save(thumb, s.ThumbnailPath(serverPath)); err != nil {
		return errors.Wrapf(err, "failed to save thumbnail for %s", serverPath)
	}
	return nil
}

// HasThumbnail reports whether origName's extension is one the thumbnail
// pipeline can decode.
func HasThumbnail(origName string) bool {
	switch strings.ToLower(filepath.Ext(origName)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".bmp":
		return true
	default:
		return false
	}
}
