package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hrygo/parley/internal/profile"
	"github.com/hrygo/parley/store/cache"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	// Writes are serialised process-wide; the underlying engine may add
	// its own serialisation (SQLite runs on a single connection).
	writeMu sync.Mutex

	// Cache settings
	cacheConfig cache.Config

	// Caches
	userCache *cache.Cache // cache for users by id
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	cacheConfig := cache.Config{
		DefaultTTL:      10 * time.Minute,
		CleanupInterval: 5 * time.Minute,
		MaxItems:        1000,
		OnEviction:      nil,
	}

	store := &Store{
		driver:      driver,
		profile:     profile,
		cacheConfig: cacheConfig,
		userCache:   cache.New(cacheConfig),
	}

	return store
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	s.userCache.Close()
	return s.driver.Close()
}

// Migrate creates or upgrades the schema.
func (s *Store) Migrate(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.driver.Migrate(ctx)
}

func userCacheKey(id int32) string {
	return fmt.Sprintf("user/%d", id)
}
