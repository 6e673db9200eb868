package host

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// migration is one schema step, applied exactly once and tracked in the
// schema_version table.
type migration struct {
	Version     int
	Description string
	SQL         string
}

var sqliteMigrations = []migration{
	{
		Version:     1,
		Description: "accounts and account metadata",
		SQL: `
		CREATE TABLE IF NOT EXISTS users (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			login        TEXT NOT NULL UNIQUE,
			email        TEXT NOT NULL UNIQUE COLLATE NOCASE,
			display_name TEXT NOT NULL DEFAULT '',
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS usermeta (
			user_id    INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			meta_key   TEXT NOT NULL,
			meta_value TEXT NOT NULL,
			PRIMARY KEY (user_id, meta_key)
		);
		CREATE INDEX IF NOT EXISTS idx_usermeta_value ON usermeta(meta_key, meta_value);
		`,
	},
	{
		Version:     2,
		Description: "published content",
		SQL: `
		CREATE TABLE IF NOT EXISTS posts (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			type          TEXT NOT NULL DEFAULT 'post',
			status        TEXT NOT NULL DEFAULT 'publish',
			title         TEXT NOT NULL,
			content       TEXT NOT NULL DEFAULT '',
			permalink     TEXT NOT NULL DEFAULT '',
			section       TEXT NOT NULL DEFAULT '',
			image_url     TEXT NOT NULL DEFAULT '',
			author_id     INTEGER REFERENCES users(id),
			comment_count INTEGER NOT NULL DEFAULT 0,
			published_at  DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_posts_recent ON posts(type, status, published_at);
		`,
	},
	{
		Version:     3,
		Description: "points ledger and daily check-ins",
		SQL: `
		CREATE TABLE IF NOT EXISTS points_ledger (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    INTEGER NOT NULL REFERENCES users(id),
			delta      INTEGER NOT NULL,
			token      TEXT NOT NULL,
			type       TEXT NOT NULL,
			note       TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (token, user_id)
		);
		CREATE INDEX IF NOT EXISTS idx_points_user ON points_ledger(user_id);

		CREATE TABLE IF NOT EXISTS checkins (
			user_id    INTEGER NOT NULL REFERENCES users(id),
			day        TEXT NOT NULL,
			streak     INTEGER NOT NULL,
			points     INTEGER NOT NULL,
			integral   INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, day)
		);
		`,
	},
}

// runMigrations applies every pending migration inside its own transaction.
func runMigrations(db *sql.DB, migrations []migration, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current := 0
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("query schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_version (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
	}
	return nil
}
