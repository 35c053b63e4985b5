package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/parley/store"
)

// CreateChatGroup inserts the group and its initial membership rows in
// one transaction.
func (d *DB) CreateChatGroup(ctx context.Context, create *store.ChatGroup, memberIDs []int32) (*store.ChatGroup, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	stmt := `
		INSERT INTO chat_groups (name, is_private, is_banned, created_ts)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`
	if err := tx.QueryRowContext(ctx, stmt,
		create.Name,
		create.IsPrivate,
		create.IsBanned,
		create.CreatedTs,
	).Scan(&create.ID); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrGroupExists
		}
		return nil, errors.Wrap(err, "failed to create chat group")
	}

	for _, userID := range memberIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO group_members (group_id, user_id, joined_ts)
			VALUES (?, ?, ?)`,
			create.ID, userID, create.CreatedTs,
		); err != nil {
			return nil, errors.Wrapf(err, "failed to add member %d", userID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit tx")
	}
	create.MemberCount = int32(len(memberIDs))
	return create, nil
}

func (d *DB) ListChatGroups(ctx context.Context, find *store.FindChatGroup) ([]*store.ChatGroup, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "g.id = ?"), append(args, *find.ID)
	}
	if find.Name != nil {
		where, args = append(where, "g.name = ?"), append(args, *find.Name)
	}
	if find.IsPrivate != nil {
		where, args = append(where, "g.is_private = ?"), append(args, *find.IsPrivate)
	}
	if find.IsBanned != nil {
		where, args = append(where, "g.is_banned = ?"), append(args, *find.IsBanned)
	}
	if find.MemberUserID != nil {
		where = append(where, "g.id IN (SELECT group_id FROM group_members WHERE user_id = ?)")
		args = append(args, *find.MemberUserID)
	}

	// LEFT JOIN + COUNT returns member counts in the same query.
	query := `
		SELECT
			g.id, g.name, g.is_private, g.is_banned, g.created_ts,
			COALESCE(COUNT(m.user_id), 0) AS member_count
		FROM chat_groups g
		LEFT JOIN group_members m ON m.group_id = g.id
		WHERE ` + strings.Join(where, " AND ") + `
		GROUP BY g.id, g.name, g.is_private, g.is_banned, g.created_ts
		ORDER BY g.id`
	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list chat groups")
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
			return nil, errors.Wrap(err, "failed to scan chat group")
		}
		groups = append(groups, &group)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return groups, nil
}

func (d *DB) UpdateChatGroup(ctx context.Context, update *store.UpdateChatGroup) (*store.ChatGroup, error) {
	set, args := []string{}, []any{}

	if update.Name != nil {
		set, args = append(set, "name = ?"), append(args, *update.Name)
	}
	if update.IsBanned != nil {
		set, args = append(set, "is_banned = ?"), append(args, *update.IsBanned)
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}

	args = append(args, update.ID)
	stmt := `UPDATE chat_groups SET ` + strings.Join(set, ", ") + ` WHERE id = ?
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
		return nil, errors.Wrap(err, "failed to update chat group")
	}
	return &group, nil
}

// DeleteChatGroup cascades to memberships, messages in the group, and
// file metadata, all in one transaction.
func (d *DB) DeleteChatGroup(ctx context.Context, delete *store.DeleteChatGroup) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM group_members WHERE group_id = ?", delete.ID); err != nil {
		return errors.Wrap(err, "failed to delete memberships")
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE group_id = ?", delete.ID); err != nil {
		return errors.Wrap(err, "failed to delete messages")
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM files_metadata WHERE group_id = ?", delete.ID); err != nil {
		return errors.Wrap(err, "failed to delete file metadata")
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM chat_groups WHERE id = ?", delete.ID)
	if err != nil {
		return errors.Wrap(err, "failed to delete chat group")
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
		return 0, errors.Wrap(err, "failed to count chat groups")
	}
	return count, nil
}
