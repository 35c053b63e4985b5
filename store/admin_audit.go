package store

import (
	"context"
	"time"
)

// Audit outcomes. Every admin command attempt lands here, denied and
// failed ones included.
const (
	AuditOutcomeOK     = "ok"
	AuditOutcomeDenied = "denied"
	AuditOutcomeError  = "error"
)

type AuditEntry struct {
	ID         int32
	CreatedTs  int64
	OperatorID int32
	Verb       string
	Object     string
	Target     string
	Outcome    string
	Error      *string
}

type FindAuditEntry struct {
	OperatorID *int32
	Verb       *string
	Outcome    *string
	Limit      *int
}

func (s *Store) CreateAuditEntry(ctx context.Context, create *AuditEntry) (*AuditEntry, error) {
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.driver.CreateAuditEntry(ctx, create)
}

func (s *Store) ListAuditEntries(ctx context.Context, find *FindAuditEntry) ([]*AuditEntry, error) {
	return s.driver.ListAuditEntries(ctx, find)
}
