package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/parley/store"
)

func (d *DB) UpsertGroupMember(ctx context.Context, upsert *store.UpsertGroupMember) error {
	stmt := `
		INSERT INTO group_members (group_id, user_id, joined_ts)
		VALUES (?, ?, ?)
		ON CONFLICT (group_id, user_id) DO NOTHING
	`
	if _, err := d.db.ExecContext(ctx, stmt, upsert.GroupID, upsert.UserID, upsert.JoinedTs); err != nil {
		return errors.Wrap(err, "failed to upsert group member")
	}
	return nil
}

func (d *DB) ListGroupMembers(ctx context.Context, find *store.FindGroupMember) ([]*store.GroupMember, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.GroupID != nil {
		where, args = append(where, "group_id = ?"), append(args, *find.GroupID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *find.UserID)
	}

	query := `SELECT group_id, user_id, joined_ts
		FROM group_members
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY joined_ts, user_id`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list group members")
	}
	defer rows.Close()

	var members []*store.GroupMember
	for rows.Next() {
		var member store.GroupMember
		if err := rows.Scan(&member.GroupID, &member.UserID, &member.JoinedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan group member")
		}
		members = append(members, &member)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return members, nil
}
