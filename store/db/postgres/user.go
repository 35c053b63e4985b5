package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hrygo/parley/store"
)

// CreateUser inserts the user and its public-group membership in one
// transaction, so a half-created user can never be observed.
func (d *DB) CreateUser(ctx context.Context, create *store.User) (*store.User, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	fields := []string{"username", "password_hash", "is_online", "is_banned", "created_ts"}
	args := []any{create.Username, create.PasswordHash, create.IsOnline, create.IsBanned, create.CreatedTs}
	stmt := `INSERT INTO users (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := tx.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id, joined_ts)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_id, user_id) DO NOTHING`,
		store.PublicGroupID, create.ID, create.CreatedTs,
	); err != nil {
		return nil, fmt.Errorf("failed to add user to public group: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit tx: %w", err)
	}
	return create, nil
}

func (d *DB) ListUsers(ctx context.Context, find *store.FindUser) ([]*store.User, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.Username != nil {
		where, args = append(where, "username = "+placeholder(len(args)+1)), append(args, *find.Username)
	}
	if find.IsOnline != nil {
		where, args = append(where, "is_online = "+placeholder(len(args)+1)), append(args, *find.IsOnline)
	}
	if find.IsBanned != nil {
		where, args = append(where, "is_banned = "+placeholder(len(args)+1)), append(args, *find.IsBanned)
	}

	query := `SELECT id, username, password_hash, is_online, is_banned, created_ts
		FROM users
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id`
	if find.Limit != nil {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*store.User
	for rows.Next() {
		var user store.User
		if err := rows.Scan(
			&user.ID,
			&user.Username,
			&user.PasswordHash,
			&user.IsOnline,
			&user.IsBanned,
			&user.CreatedTs,
		); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, &user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}

	return users, nil
}

func (d *DB) UpdateUser(ctx context.Context, update *store.UpdateUser) (*store.User, error) {
	set, args := []string{}, []any{}

	if update.Username != nil {
		set, args = append(set, "username = "+placeholder(len(args)+1)), append(args, *update.Username)
	}
	if update.PasswordHash != nil {
		set, args = append(set, "password_hash = "+placeholder(len(args)+1)), append(args, *update.PasswordHash)
	}
	if update.IsOnline != nil {
		set, args = append(set, "is_online = "+placeholder(len(args)+1)), append(args, *update.IsOnline)
	}
	if update.IsBanned != nil {
		set, args = append(set, "is_banned = "+placeholder(len(args)+1)), append(args, *update.IsBanned)
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}

	args = append(args, update.ID)
	stmt := `UPDATE users SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args)) + `
		RETURNING id, username, password_hash, is_online, is_banned, created_ts`
	var user store.User
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.IsOnline,
		&user.IsBanned,
		&user.CreatedTs,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, store.ErrUserExists
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return &user, nil
}

// DeleteUser cascades to memberships, messages by the sender, and file
// metadata they uploaded, all in one transaction.
func (d *DB) DeleteUser(ctx context.Context, delete *store.DeleteUser) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM group_members WHERE user_id = $1", delete.ID); err != nil {
		return fmt.Errorf("failed to delete memberships: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE sender_id = $1", delete.ID); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM files_metadata WHERE uploader_id = $1", delete.ID); err != nil {
		return fmt.Errorf("failed to delete file metadata: %w", err)
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM users WHERE id = $1", delete.ID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return store.ErrNotFound
	}

	return tx.Commit()
}

func (d *DB) CountUsers(ctx context.Context) (int32, error) {
	var count int32
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}
