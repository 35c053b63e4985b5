package postgres

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hrygo/parley/store"
)

const schemaVersion = "0.1.0"

const schema = `
-- Accounts. Reserved rows: id 0 (admin), id 1 (AI assistant).
CREATE TABLE IF NOT EXISTS users (
	id INT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	is_online BOOLEAN NOT NULL DEFAULT FALSE,
	is_banned BOOLEAN NOT NULL DEFAULT FALSE,
	created_ts BIGINT NOT NULL
);

-- Chat groups. Row id 1 is the bootstrap public group.
CREATE TABLE IF NOT EXISTS chat_groups (
	id INT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	is_private BOOLEAN NOT NULL DEFAULT FALSE,
	is_banned BOOLEAN NOT NULL DEFAULT FALSE,
	created_ts BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS group_members (
	group_id INT NOT NULL,
	user_id INT NOT NULL,
	joined_ts BIGINT NOT NULL,
	PRIMARY KEY (group_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_group_members_user_id ON group_members (user_id);

CREATE TABLE IF NOT EXISTS messages (
	id INT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	group_id INT NOT NULL,
	sender_id INT NOT NULL,
	content TEXT NOT NULL,
	kind TEXT NOT NULL DEFAULT 'text',
	created_ts BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_group_id ON messages (group_id, id);

CREATE TABLE IF NOT EXISTS files_metadata (
	id INT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	original_name TEXT NOT NULL,
	server_path TEXT NOT NULL UNIQUE,
	size BIGINT NOT NULL,
	uploader_id INT NOT NULL,
	group_id INT NOT NULL,
	upload_ts BIGINT NOT NULL,
	message_id INT
);

CREATE INDEX IF NOT EXISTS idx_files_metadata_group_id ON files_metadata (group_id);

CREATE TABLE IF NOT EXISTS admin_audit (
	id INT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	created_ts BIGINT NOT NULL,
	operator_id INT NOT NULL,
	verb TEXT NOT NULL,
	object TEXT NOT NULL,
	target TEXT NOT NULL,
	outcome TEXT NOT NULL,
	error TEXT
);

CREATE TABLE IF NOT EXISTS migration_history (
	version TEXT NOT NULL PRIMARY KEY,
	created_ts BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())
);
`

// Migrate creates the schema. Statements are IF NOT EXISTS so running
// on every start is safe.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to apply schema")
	}
	if _, err := d.db.ExecContext(ctx,
		"INSERT INTO migration_history (version) VALUES ($1) ON CONFLICT (version) DO NOTHING", schemaVersion,
	); err != nil {
		return errors.Wrap(err, "failed to record schema version")
	}
	return nil
}

// Seed inserts the bootstrap rows with their reserved ids and advances
// the identity sequences past them so later inserts do not collide.
func (d *DB) Seed(ctx context.Context, seed *store.SeedParams) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chat_groups (id, name, is_private, is_banned, created_ts)
		VALUES ($1, $2, FALSE, FALSE, $3)
		ON CONFLICT (id) DO NOTHING`,
		store.PublicGroupID, store.PublicGroupName, seed.Now,
	); err != nil {
		return errors.Wrap(err, "failed to seed public group")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, is_online, is_banned, created_ts)
		VALUES ($1, $2, $3, FALSE, FALSE, $4)
		ON CONFLICT (id) DO NOTHING`,
		store.AdminUserID, store.AdminUsername, seed.AdminPasswordHash, seed.Now,
	); err != nil {
		return errors.Wrap(err, "failed to seed admin user")
	}

	// The AI account has no password; it cannot be logged into.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, is_online, is_banned, created_ts)
		VALUES ($1, $2, '', FALSE, FALSE, $3)
		ON CONFLICT (id) DO NOTHING`,
		store.AIUserID, store.AIUsername, seed.Now,
	); err != nil {
		return errors.Wrap(err, "failed to seed AI user")
	}

	for _, userID := range []int32{store.AdminUserID, store.AIUserID} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO group_members (group_id, user_id, joined_ts)
			VALUES ($1, $2, $3)
			ON CONFLICT (group_id, user_id) DO NOTHING`,
			store.PublicGroupID, userID, seed.Now,
		); err != nil {
			return errors.Wrapf(err, "failed to seed membership for user %d", userID)
		}
	}

	// Identity sequences ignore explicit inserts; bump them so the next
	// generated id lands after the reserved rows.
	if _, err := tx.ExecContext(ctx, `
		SELECT setval(pg_get_serial_sequence('users', 'id'),
			GREATEST((SELECT COALESCE(MAX(id), 1) FROM users), 1))`,
	); err != nil {
		return errors.Wrap(err, "failed to advance users sequence")
	}
	if _, err := tx.ExecContext(ctx, `
		SELECT setval(pg_get_serial_sequence('chat_groups', 'id'),
			GREATEST((SELECT COALESCE(MAX(id), 1) FROM chat_groups), 1))`,
	); err != nil {
		return errors.Wrap(err, "failed to advance chat_groups sequence")
	}

	return tx.Commit()
}
