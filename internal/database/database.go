package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// TimeLayout is the fixed-width UTC layout used for every timestamp column so that
// lexical ordering in SQL matches chronological ordering.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a value written by FormatTime.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

// New creates a new database connection pool.
func New(dataSourceName string) (*sql.DB, error) {
	dsn := dataSourceName
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate runs the SQL statements to set up the database schema.
func Migrate(db *sql.DB) error {
	const sqlStmt = `
	CREATE TABLE IF NOT EXISTS workspaces (
		id TEXT NOT NULL PRIMARY KEY,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS workspace_members (
		workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL, -- owner, admin, member
		created_at TEXT NOT NULL,
		PRIMARY KEY (workspace_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS backup_settings (
		workspace_id TEXT NOT NULL PRIMARY KEY REFERENCES workspaces(id) ON DELETE CASCADE,
		is_enabled INTEGER NOT NULL DEFAULT 0,
		cadence TEXT NOT NULL DEFAULT 'daily',
		retain_count INTEGER NOT NULL DEFAULT 7 CHECK (retain_count >= 1),
		store_in_storage INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		last_scheduled_at TEXT
	);

	CREATE TABLE IF NOT EXISTS workspace_snapshots (
		id TEXT NOT NULL PRIMARY KEY,
		workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
		created_at TEXT NOT NULL,
		created_by TEXT NOT NULL,
		snapshot_type TEXT NOT NULL,
		reason TEXT,
		-- Inline document, cleared once the payload is externalized
		payload TEXT,
		storage_path TEXT,
		size_bytes INTEGER,
		checksum TEXT,
		omitted_domains TEXT NOT NULL DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_workspace_created ON workspace_snapshots(workspace_id, created_at DESC, id DESC);

	CREATE TABLE IF NOT EXISTS restore_confirmations (
		token_hash TEXT NOT NULL PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		snapshot_id TEXT NOT NULL,
		actor_user_id TEXT NOT NULL,
		issued_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		consumed_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_confirmations_expires ON restore_confirmations(expires_at);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT NOT NULL PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		actor_user_id TEXT NOT NULL,
		action TEXT NOT NULL, -- e.g. snapshot.captured, snapshot.restored
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_workspace_created ON audit_log(workspace_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS advisory_locks (
		lock_key INTEGER NOT NULL PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		holder TEXT NOT NULL,
		acquired_at TEXT NOT NULL
	);

	-- Business tables captured by the default snapshot providers
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT NOT NULL PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		title TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'open',
		assignee_id TEXT,
		due_date TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_workspace ON tasks(workspace_id);

	CREATE TABLE IF NOT EXISTS goals (
		id TEXT NOT NULL PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		title TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		target_date TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_goals_workspace ON goals(workspace_id);

	CREATE TABLE IF NOT EXISTS plans (
		id TEXT NOT NULL PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		name TEXT NOT NULL,
		body TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_plans_workspace ON plans(workspace_id);

	CREATE TABLE IF NOT EXISTS workspace_settings (
		workspace_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT,
		PRIMARY KEY (workspace_id, key)
	);

	CREATE TABLE IF NOT EXISTS vendors (
		id TEXT NOT NULL PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		name TEXT NOT NULL,
		category TEXT,
		contact_email TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_vendors_workspace ON vendors(workspace_id);
	`
	if _, err := db.Exec(sqlStmt); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return addColumn(db, "backup_settings", "last_scheduled_at", "TEXT")
}

// addColumn adds a column to a table created by an older schema.
func addColumn(db *sql.DB, table, column, decl string) error {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column).Scan(&n)
	if err != nil {
		return fmt.Errorf("inspecting %s: %w", table, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
		return fmt.Errorf("adding %s.%s: %w", table, column, err)
	}
	return nil
}
