package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/hrygo/parley/store"
)

func (d *DB) UpsertGroupMember(ctx context.Context, upsert *store.UpsertGroupMember) error {
	if _, err := d.db.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id, joined_ts)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_id, user_id) DO NOTHING`,
		upsert.GroupID, upsert.UserID, upsert.JoinedTs,
	); err != nil {
		return fmt.Errorf("failed to upsert group member: %w", err)
	}
	return nil
}

func (d *DB) ListGroupMembers(ctx context.Context, find *store.FindGroupMember) ([]*store.GroupMember, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.GroupID != nil {
		where, args = append(where, "group_id = "+placeholder(len(args)+1)), append(args, *find.GroupID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}

	query := `SELECT group_id, user_id, joined_ts
		FROM group_members
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY joined_ts, user_id`
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list group members: %w", err)
	}
	defer rows.Close()

	var members []*store.GroupMember
	for rows.Next() {
		var member store.GroupMember
		if err := rows.Scan(&member.GroupID, &member.UserID, &member.JoinedTs); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		members = append(members, &member)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate group members: %w", err)
	}

	return members, nil
}
