package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/parley/store"
)

func (d *DB) CreateAuditEntry(ctx context.Context, create *store.AuditEntry) (*store.AuditEntry, error) {
	stmt := `
		INSERT INTO admin_audit (created_ts, operator_id, verb, object, target, outcome, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	if err := d.db.QueryRowContext(ctx, stmt,
		create.CreatedTs,
		create.OperatorID,
		create.Verb,
		create.Object,
		create.Target,
		create.Outcome,
		create.Error,
	).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create audit entry")
	}
	return create, nil
}

func (d *DB) ListAuditEntries(ctx context.Context, find *store.FindAuditEntry) ([]*store.AuditEntry, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.OperatorID != nil {
		where, args = append(where, "operator_id = ?"), append(args, *find.OperatorID)
	}
	if find.Verb != nil {
		where, args = append(where, "verb = ?"), append(args, *find.Verb)
	}
	if find.Outcome != nil {
		where, args = append(where, "outcome = ?"), append(args, *find.Outcome)
	}

	query := `SELECT id, created_ts, operator_id, verb, object, target, outcome, error
		FROM admin_audit
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id DESC`
	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list audit entries")
	}
	defer rows.Close()

	var entries []*store.AuditEntry
	for rows.Next() {
		var entry store.AuditEntry
		var auditErr sql.NullString
		if err := rows.Scan(
			&entry.ID,
			&entry.CreatedTs,
			&entry.OperatorID,
			&entry.Verb,
			&entry.Object,
			&entry.Target,
			&entry.Outcome,
			&auditErr,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan audit entry")
		}
		if auditErr.Valid {
			entry.Error = &auditErr.String
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}
