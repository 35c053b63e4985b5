package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// SeedParams carries the values the driver needs to create the
// bootstrap rows.
type SeedParams struct {
	AdminPasswordHash string
	Now               int64
}

// Seed creates the bootstrap state on first start: the public group,
// the admin user (hashed password, never overwritten on later starts)
// and the AI user, with both accounts members of public. Safe to call
// on every start.
func (s *Store) Seed(ctx context.Context, adminPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
	if err != nil {
		return errors.Wrap(err, "failed to hash admin password")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.driver.Seed(ctx, &SeedParams{
		AdminPasswordHash: string(hash),
		Now:               time.Now().Unix(),
	})
}
