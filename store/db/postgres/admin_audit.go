package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hrygo/parley/store"
)

func (d *DB) CreateAuditEntry(ctx context.Context, create *store.AuditEntry) (*store.AuditEntry, error) {
	fields := []string{"created_ts", "operator_id", "verb", "object", "target", "outcome", "error"}
	args := []any{create.CreatedTs, create.OperatorID, create.Verb, create.Object, create.Target, create.Outcome, create.Error}
	stmt := `INSERT INTO admin_audit (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, fmt.Errorf("failed to create audit entry: %w", err)
	}
	return create, nil
}

func (d *DB) ListAuditEntries(ctx context.Context, find *store.FindAuditEntry) ([]*store.AuditEntry, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.OperatorID != nil {
		where, args = append(where, "operator_id = "+placeholder(len(args)+1)), append(args, *find.OperatorID)
	}
	if find.Verb != nil {
		where, args = append(where, "verb = "+placeholder(len(args)+1)), append(args, *find.Verb)
	}
	if find.Outcome != nil {
		where, args = append(where, "outcome = "+placeholder(len(args)+1)), append(args, *find.Outcome)
	}

	query := `SELECT id, created_ts, operator_id, verb, object, target, outcome, error
		FROM admin_audit
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id DESC`
	if find.Limit != nil {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*store.AuditEntry
	for rows.Next() {
		var entry store.AuditEntry
		var errText sql.NullString
		if err := rows.Scan(
			&entry.ID,
			&entry.CreatedTs,
			&entry.OperatorID,
			&entry.Verb,
			&entry.Object,
			&entry.Target,
			&entry.Outcome,
			&errText,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if errText.Valid {
			entry.Error = &errText.String
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}

	return entries, nil
}
