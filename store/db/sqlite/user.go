package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/parley/store"
)

// CreateUser inserts the user and its public-group membership in one
// transaction, so a half-created user can never be observed.
func (d *DB) CreateUser(ctx context.Context, create *store.User) (*store.User, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	stmt := `
		INSERT INTO users (username, password_hash, is_online, is_banned, created_ts)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`
	if err := tx.QueryRowContext(ctx, stmt,
		create.Username,
		create.PasswordHash,
		create.IsOnline,
		create.IsBanned,
		create.CreatedTs,
	).Scan(&create.ID); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrUserExists
		}
		return nil, errors.Wrap(err, "failed to create user")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO group_members (group_id, user_id, joined_ts)
		VALUES (?, ?, ?)`,
		store.PublicGroupID, create.ID, create.CreatedTs,
	); err != nil {
		return nil, errors.Wrap(err, "failed to add user to public group")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit tx")
	}
	return create, nil
}

func (d *DB) ListUsers(ctx context.Context, find *store.FindUser) ([]*store.User, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.Username != nil {
		where, args = append(where, "username = ?"), append(args, *find.Username)
	}
	if find.IsOnline != nil {
		where, args = append(where, "is_online = ?"), append(args, *find.IsOnline)
	}
	if find.IsBanned != nil {
		where, args = append(where, "is_banned = ?"), append(args, *find.IsBanned)
	}

	query := `SELECT id, username, password_hash, is_online, is_banned, created_ts
		FROM users
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id`
	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list users")
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
			return nil, errors.Wrap(err, "failed to scan user")
		}
		users = append(users, &user)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

func (d *DB) UpdateUser(ctx context.Context, update *store.UpdateUser) (*store.User, error) {
	set, args := []string{}, []any{}

	if update.Username != nil {
		set, args = append(set, "username = ?"), append(args, *update.Username)
	}
	if update.PasswordHash != nil {
		set, args = append(set, "password_hash = ?"), append(args, *update.PasswordHash)
	}
	if update.IsOnline != nil {
		set, args = append(set, "is_online = ?"), append(args, *update.IsOnline)
	}
	if update.IsBanned != nil {
		set, args = append(set, "is_banned = ?"), append(args, *update.IsBanned)
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}

	args = append(args, update.ID)
	stmt := `UPDATE users SET ` + strings.Join(set, ", ") + ` WHERE id = ?
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
		return nil, errors.Wrap(err, "failed to update user")
	}
	return &user, nil
}

// DeleteUser cascades to memberships, messages by the sender, and file
// metadata they uploaded, all in one transaction.
func (d *DB) DeleteUser(ctx context.Context, delete *store.DeleteUser) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM group_members WHERE user_id = ?", delete.ID); err != nil {
		return errors.Wrap(err, "failed to delete memberships")
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE sender_id = ?", delete.ID); err != nil {
		return errors.Wrap(err, "failed to delete messages")
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM files_metadata WHERE uploader_id = ?", delete.ID); err != nil {
		return errors.Wrap(err, "failed to delete file metadata")
	}
	result, err := tx.ExecContext(ctx, "DELETE FROM users WHERE id = ?", delete.ID)
	if err != nil {
		return errors.Wrap(err, "failed to delete user")
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
		return 0, errors.Wrap(err, "failed to count users")
	}
	return count, nil
}
