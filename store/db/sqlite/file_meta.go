package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/parley/store"
)

func (d *DB) CreateFileMeta(ctx context.Context, create *store.FileMeta) (*store.FileMeta, error) {
	stmt := `
		INSERT INTO files_metadata (original_name, server_path, size, uploader_id, group_id, upload_ts, message_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`
	if err := d.db.QueryRowContext(ctx, stmt,
		create.OriginalName,
		create.ServerPath,
		create.Size,
		create.UploaderID,
		create.GroupID,
		create.UploadTs,
		create.MessageID,
	).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create file metadata")
	}
	return create, nil
}

func (d *DB) ListFileMetas(ctx context.Context, find *store.FindFileMeta) ([]*store.FileMeta, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.GroupID != nil {
		where, args = append(where, "group_id = ?"), append(args, *find.GroupID)
	}
	if find.UploaderID != nil {
		where, args = append(where, "uploader_id = ?"), append(args, *find.UploaderID)
	}
	if find.ServerPath != nil {
		where, args = append(where, "server_path = ?"), append(args, *find.ServerPath)
	}

	query := `SELECT id, original_name, server_path, size, uploader_id, group_id, upload_ts, message_id
		FROM files_metadata
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id DESC`
	if find.Limit != nil {
		query += " LIMIT ?"
		args = append(args, *find.Limit)
		if find.Offset != nil {
			query += " OFFSET ?"
			args = append(args, *find.Offset)
		}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list file metadata")
	}
	defer rows.Close()

	var files []*store.FileMeta
	for rows.Next() {
		var file store.FileMeta
		var messageID sql.NullInt32
		if err := rows.Scan(
			&file.ID,
			&file.OriginalName,
			&file.ServerPath,
			&file.Size,
			&file.UploaderID,
			&file.GroupID,
			&file.UploadTs,
			&messageID,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan file metadata")
		}
		if messageID.Valid {
			id := messageID.Int32
			file.MessageID = &id
		}
		files = append(files, &file)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return files, nil
}

func (d *DB) UpdateFileMeta(ctx context.Context, update *store.UpdateFileMeta) (*store.FileMeta, error) {
	set, args := []string{}, []any{}

	if update.MessageID != nil {
		set, args = append(set, "message_id = ?"), append(args, *update.MessageID)
	}
	if update.Size != nil {
		set, args = append(set, "size = ?"), append(args, *update.Size)
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}

	args = append(args, update.ID)
	stmt := `UPDATE files_metadata SET ` + strings.Join(set, ", ") + ` WHERE id = ?
		RETURNING id, original_name, server_path, size, uploader_id, group_id, upload_ts, message_id`
	var file store.FileMeta
	var messageID sql.NullInt32
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(
		&file.ID,
		&file.OriginalName,
		&file.ServerPath,
		&file.Size,
		&file.UploaderID,
		&file.GroupID,
		&file.UploadTs,
		&messageID,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to update file metadata")
	}
	if messageID.Valid {
		id := messageID.Int32
		file.MessageID = &id
	}
	return &file, nil
}

func (d *DB) DeleteFileMeta(ctx context.Context, delete *store.DeleteFileMeta) error {
	result, err := d.db.ExecContext(ctx, "DELETE FROM files_metadata WHERE id = ?", delete.ID)
	if err != nil {
		return errors.Wrap(err, "failed to delete file metadata")
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}
