package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hrygo/parley/store"
)

func (d *DB) CreateFileMeta(ctx context.Context, create *store.FileMeta) (*store.FileMeta, error) {
	fields := []string{"original_name", "server_path", "size", "uploader_id", "group_id", "upload_ts"}
	args := []any{create.OriginalName, create.ServerPath, create.Size, create.UploaderID, create.GroupID, create.UploadTs}
	stmt := `INSERT INTO files_metadata (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, fmt.Errorf("failed to create file metadata: %w", err)
	}
	return create, nil
}

func (d *DB) ListFileMetas(ctx context.Context, find *store.FindFileMeta) ([]*store.FileMeta, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.ServerPath != nil {
		where, args = append(where, "server_path = "+placeholder(len(args)+1)), append(args, *find.ServerPath)
	}
	if find.UploaderID != nil {
		where, args = append(where, "uploader_id = "+placeholder(len(args)+1)), append(args, *find.UploaderID)
	}
	if find.GroupID != nil {
		where, args = append(where, "group_id = "+placeholder(len(args)+1)), append(args, *find.GroupID)
	}

	query := `SELECT id, original_name, server_path, size, uploader_id, group_id, upload_ts, message_id
		FROM files_metadata
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id DESC`
	if find.Limit != nil {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list file metadata: %w", err)
	}
	defer rows.Close()

	var metas []*store.FileMeta
	for rows.Next() {
		var meta store.FileMeta
		var messageID sql.NullInt32
		if err := rows.Scan(
			&meta.ID,
			&meta.OriginalName,
			&meta.ServerPath,
			&meta.Size,
			&meta.UploaderID,
			&meta.GroupID,
			&meta.UploadTs,
			&messageID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan file metadata: %w", err)
		}
		if messageID.Valid {
			meta.MessageID = &messageID.Int32
		}
		metas = append(metas, &meta)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate file metadata: %w", err)
	}

	return metas, nil
}

func (d *DB) UpdateFileMeta(ctx context.Context, update *store.UpdateFileMeta) (*store.FileMeta, error) {
	set, args := []string{}, []any{}

	if update.MessageID != nil {
		set, args = append(set, "message_id = "+placeholder(len(args)+1)), append(args, *update.MessageID)
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}

	args = append(args, update.ID)
	stmt := `UPDATE files_metadata SET ` + strings.Join(set, ", ") + ` WHERE id = ` + placeholder(len(args)) + `
		RETURNING id, original_name, server_path, size, uploader_id, group_id, upload_ts, message_id`
	var meta store.FileMeta
	var messageID sql.NullInt32
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&meta.ID,
		&meta.OriginalName,
		&meta.ServerPath,
		&meta.Size,
		&meta.UploaderID,
		&meta.GroupID,
		&meta.UploadTs,
		&messageID,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update file metadata: %w", err)
	}
	if messageID.Valid {
		meta.MessageID = &messageID.Int32
	}
	return &meta, nil
}

func (d *DB) DeleteFileMeta(ctx context.Context, delete *store.DeleteFileMeta) error {
	result, err := d.db.ExecContext(ctx, "DELETE FROM files_metadata WHERE id = $1", delete.ID)
	if err != nil {
		return fmt.Errorf("failed to delete file metadata: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}
