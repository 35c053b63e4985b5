package sqlite

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hrygo/parley/store"
)

const schemaVersion = "0.1.0"

const schema = `
-- Accounts. Reserved rows: id 0 (admin), id 1 (AI assistant).
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	is_online INTEGER NOT NULL DEFAULT 0,
	is_banned INTEGER NOT NULL DEFAULT 0,
	created_ts BIGINT NOT NULL
);

-- Chat groups. Row id 1 is the bootstrap public group.
CREATE TABLE IF NOT EXISTS chat_groups (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	is_private INTEGER NOT NULL DEFAULT 0,
	is_banned INTEGER NOT NULL DEFAULT 0,
	created_ts BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS group_members (
	group_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	joined_ts BIGINT NOT NULL,
	PRIMARY KEY (group_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_group_members_user_id ON group_members (user_id);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	group_id INTEGER NOT NULL,
	sender_id INTEGER NOT NULL,
	content TEXT NOT NULL,
	kind TEXT NOT NULL DEFAULT 'text',
	created_ts BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_group_id ON messages (group_id, id);

CREATE TABLE IF NOT EXISTS files_metadata (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	original_name TEXT NOT NULL,
	server_path TEXT NOT NULL UNIQUE,
	size BIGINT NOT NULL,
	uploader_id INTEGER NOT NULL,
	group_id INTEGER NOT NULL,
	upload_ts BIGINT NOT NULL,
	message_id INTEGER
);

CREATE INDEX IF NOT EXISTS idx_files_metadata_group_id ON files_metadata (group_id);

CREATE TABLE IF NOT EXISTS admin_audit (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	created_ts BIGINT NOT NULL,
	operator_id INTEGER NOT NULL,
	verb TEXT NOT NULL,
	object TEXT NOT NULL,
	target TEXT NOT NULL,
	outcome TEXT NOT NULL,
	error TEXT
);

CREATE TABLE IF NOT EXISTS migration_history (
	version TEXT NOT NULL PRIMARY KEY,
	created_ts BIGINT NOT NULL DEFAULT (strftime('%s', 'now'))
);
`

// Migrate creates the schema. Statements are IF NOT EXISTS so running
// on every start is safe.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to apply schema")
	}
	if _, err := d.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO migration_history (version) VALUES (?)", schemaVersion,
	); err != nil {
		return errors.Wrap(err, "failed to record schema version")
	}
	return nil
}

// Seed inserts the bootstrap rows with their reserved ids. OR IGNORE
// keeps it idempotent; an existing admin keeps its password.
func (d *DB) Seed(ctx context.Context, seed *store.SeedParams) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO chat_groups (id, name, is_private, is_banned, created_ts)
		VALUES (?, ?, 0, 0, ?)`,
		store.PublicGroupID, store.PublicGroupName, seed.Now,
	); err != nil {
		return errors.Wrap(err, "failed to seed public group")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO users (id, username, password_hash, is_online, is_banned, created_ts)
		VALUES (?, ?, ?, 0, 0, ?)`,
		store.AdminUserID, store.AdminUsername, seed.AdminPasswordHash, seed.Now,
	); err != nil {
		return errors.Wrap(err, "failed to seed admin user")
	}

	// The AI account has no password; it cannot be logged into.
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO users (id, username, password_hash, is_online, is_banned, created_ts)
		VALUES (?, ?, '', 0, 0, ?)`,
		store.AIUserID, store.AIUsername, seed.Now,
	); err != nil {
		return errors.Wrap(err, "failed to seed AI user")
	}

	for _, userID := range []int32{store.AdminUserID, store.AIUserID} {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO group_members (group_id, user_id, joined_ts)
			VALUES (?, ?, ?)`,
			store.PublicGroupID, userID, seed.Now,
		); err != nil {
			return errors.Wrapf(err, "failed to seed membership for user %d", userID)
		}
	}

	return tx.Commit()
}
