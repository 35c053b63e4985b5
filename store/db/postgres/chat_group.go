package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hrygo/parley/store"
)

// CreateChatGroup inserts the group and its initial memberships in one
// transaction. memberIDs is assumed to be deduplicated by the caller.
func (d *DB) CreateChatGroup(ctx context.Context, create *store.ChatGroup, memberIDs []int32) (*store.ChatGroup, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	fields := []string{"name", "is_private", "is_banned", "created_ts"}
	args := []any{create.Name, create.IsPrivate, create.IsBanned, create.CreatedTs}
	stmt := `INSERT INTO chat_groups (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := tx.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrGroupExists
		}
		return nil, fmt.Errorf("failed to create chat group: %w", err)
	}

	for _, userID := range memberIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO group_members (group_id, user_id, joined_ts)
			VALUES ($1, $2, $3)
			ON CONFLICT (group_id, user_id) DO NOTHING`,
			create.ID, userID, create.CreatedTs,
		); err != nil {
			return nil, fmt.Errorf("failed to add member %d: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit tx: %w", err)
	}
	create.MemberCount = int32(len(memberIDs))
	return create, nil
}

func (d *DB) ListChatGroups(ctx context.Context, find *store.FindChatGroup) ([]*store.ChatGroup, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "chat_groups.id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.Name != nil {
		where, args = append(where, "chat_groups.name = "+placeholder(len(args)+1)), append(args, *find.Name)
	}
	if find.IsPrivate != nil {
		where, args = append(where, "chat_groups.is_private = "+placeholder(len(args)+1)), append(args, *find.IsPrivate)
	}
	if find.IsBanned != nil {
		where, args = append(where, "chat_groups.is_banned = "+placeholder(len(args)+1)), append(args, *find.IsBanned)
	}
	if find.MemberUserID != nil {
		where = append(where, "chat_groups.id IN (SELECT group_id FROM group_members WHERE user_id = "+placeholder(len(args)+1)+")")
		args = append(args, *find.MemberUserID)
	}

	// Pull the member count in the same query to avoid per-group lookups.
	query := `SELECT
			chat_groups.id,
			chat_groups.name,
			chat_groups.is_private,
			chat_groups.is_banned,
			chat_groups.created_ts,
			COUNT(group_members.user_id) AS member_count
		FROM chat_groups
		LEFT JOIN group_members ON group_members.group_id = chat_groups.id
		WHERE ` + strings.Join(where, " AND ") + `
		GROUP BY chat_groups.id
		ORDER BY chat_groups.id`
	if find.Limit != nil {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat groups: %w", err)
	}
	defer rows.Close()

	var groups []*store.ChatGroup
	for rows.Next() {
		var group store.ChatGroup
		if err := rows.Scan(
			&group.ID,
			&group.Name,
			&group.IsPrivate,
			&group.IsBanned,
			&group.CreatedTs,
			&group.MemberCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chat group: %w", err)
		}
		groups = append(groups, &group)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chat groups: %w", err)
	}

	return groups, nil
}

func (d *DB) UpdateChatGroup(ctx context.Context, update *store.UpdateChatGroup) (*store.ChatGroup, error) {
	set, args := []string{}, []any{}

	if update.Name != nil {
		set, args = append(set, "name = "+placeholder(len(args)+1)), append(args, *update.Name)
	}
	if update.IsBanned != nil {
		set, args = append(set, "is_banned = "+placeholder(len(args)+1)), append(args, *update.IsBanned)
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}

	args = append(args, update.ID)
	stmt := `UPDATE chat_groups SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args)) + `
		RETURNING id, name, is_private, is_banned, created_ts`
	var group store.ChatGroup
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&group.ID,
		&group.Name,
		&group.IsPrivate,
		&group.IsBanned,
		&group.CreatedTs,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, store.ErrGroupExists
		}
		return nil, fmt.Errorf("failed to update chat group: %w", err)
	}
	return &group, nil
}

// DeleteChatGroup cascades to memberships, messages, and file metadata
// belonging to the group.
func (d *DB) DeleteChatGroup(ctx context.Context, delete *store.DeleteChatGroup) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM group_members WHERE group_id = $1", delete.ID); err != nil {
		return fmt.Errorf("failed to delete memberships: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE group_id = $1", delete.ID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM files_metadata WHERE group_id = $1", delete.ID); err != nil {
		return fmt.Errorf("failed to delete file metadata: %w", err)
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM chat_groups WHERE id = $1", delete.ID)
	if err != nil {
		return fmt.Errorf("failed to delete chat group: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return store.ErrNotFound
	}

	return tx.Commit()
}

func (d *DB) CountChatGroups(ctx context.Context) (int32, error) {
	var count int32
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chat_groups").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count chat groups: %w", err)
	}
	return count, nil
}
