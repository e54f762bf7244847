package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB is the sqlite entity store. Reads run concurrently; every write goes
// through writeMu so read-check-write sequences never interleave.
type DB struct {
	*sql.DB
	path    string
	writeMu sync.Mutex
	logger  *zerolog.Logger
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func isMemoryPath(path string) bool {
	return path == ":memory:" || strings.HasPrefix(path, "file::memory:")
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	dsn := path
	memory := isMemoryPath(path)
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if memory {
		// every connection would get its own empty in-memory database
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := sqlDB.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return &DB{DB: sqlDB, path: path, logger: logger}, nil
}

func (db *DB) Path() string {
	return db.path
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS cleaning_services (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            name_key TEXT NOT NULL,
            phone TEXT NOT NULL DEFAULT '',
            email TEXT NOT NULL DEFAULT '',
            sms_enabled BOOLEAN NOT NULL DEFAULT 0,
            is_default BOOLEAN NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		// at most one default service
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_cleaning_services_default ON cleaning_services(is_default) WHERE is_default = 1`,

		`CREATE TABLE IF NOT EXISTS properties (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            name_key TEXT NOT NULL,
            type TEXT NOT NULL DEFAULT '',
            address TEXT NOT NULL DEFAULT '',
            city TEXT NOT NULL DEFAULT '',
            bedrooms INTEGER NOT NULL DEFAULT 0,
            bathrooms INTEGER NOT NULL DEFAULT 0,
            max_guests INTEGER NOT NULL,
            base_price REAL NOT NULL DEFAULT 0,
            cleaning_fee REAL NOT NULL DEFAULT 0,
            amenities TEXT NOT NULL DEFAULT '[]',
            cleaning_service_id TEXT REFERENCES cleaning_services(id) ON DELETE RESTRICT,
            status TEXT NOT NULL DEFAULT 'active',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_properties_service ON properties(cleaning_service_id)`,

		`CREATE TABLE IF NOT EXISTS bookings (
            id TEXT PRIMARY KEY,
            property_id TEXT NOT NULL REFERENCES properties(id),
            property_name TEXT NOT NULL,
            guest_name TEXT NOT NULL DEFAULT '',
            user_id TEXT NOT NULL DEFAULT '',
            check_in_date TEXT NOT NULL,
            check_out_date TEXT NOT NULL,
            guests INTEGER NOT NULL,
            check_in_time TEXT NOT NULL DEFAULT '',
            special_requests TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL,
            payment_status TEXT NOT NULL DEFAULT 'unpaid',
            total_price REAL NOT NULL,
            checked_out_at DATETIME,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_property ON bookings(property_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_user ON bookings(user_id)`,

		`CREATE TABLE IF NOT EXISTS invoice_counters (
            scope TEXT PRIMARY KEY,
            last_value INTEGER NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS invoices (
            id TEXT PRIMARY KEY,
            booking_id TEXT NOT NULL UNIQUE REFERENCES bookings(id),
            number TEXT NOT NULL UNIQUE,
            sequence INTEGER NOT NULL,
            scope TEXT NOT NULL,
            issue_date DATETIME NOT NULL,
            gross_amount REAL NOT NULL,
            net_amount REAL NOT NULL,
            tax_amount REAL NOT NULL,
            tax_rate REAL NOT NULL,
            status TEXT NOT NULL,
            paid_at DATETIME,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,

		`CREATE TABLE IF NOT EXISTS cleaning_tasks (
            id TEXT PRIMARY KEY,
            property_id TEXT NOT NULL REFERENCES properties(id),
            service_id TEXT REFERENCES cleaning_services(id) ON DELETE SET NULL,
            scheduled_at INTEGER NOT NULL,
            status TEXT NOT NULL,
            booking_id TEXT REFERENCES bookings(id),
            notes TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_cleaning_tasks_schedule ON cleaning_tasks(status, scheduled_at)`,
		`CREATE INDEX IF NOT EXISTS idx_cleaning_tasks_booking ON cleaning_tasks(booking_id)`,

		`CREATE TABLE IF NOT EXISTS notification_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            kind TEXT NOT NULL,
            recipient TEXT NOT NULL,
            message TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            outcome TEXT NOT NULL DEFAULT '',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,
		`CREATE INDEX IF NOT EXISTS idx_notification_queue_status ON notification_queue(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}

	for _, table := range []string{"cleaning_services", "properties"} {
		if err := migrateNameKey(db, table); err != nil {
			return err
		}
	}
	return nil
}

// nameKey is the lookup and uniqueness key of a name. SQLite NOCASE folds
// ASCII only, so "CITTÀ" and "città" are folded here instead.
func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// migrateNameKey adds and backfills name_key on tables created before the
// column existed, then replaces the old NOCASE index with one on the key.
func migrateNameKey(db *sql.DB, table string) error {
	hasKey, err := hasColumn(db, table, "name_key")
	if err != nil {
		return err
	}
	if !hasKey {
		if _, err := db.Exec(`ALTER TABLE ` + table + ` ADD COLUMN name_key TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("failed to add name_key to %s: %w", table, err)
		}
	}

	rows, err := db.Query(`SELECT id, name FROM ` + table + ` WHERE name_key = ''`)
	if err != nil {
		return fmt.Errorf("failed to read %s names: %w", table, err)
	}
	keys := make(map[string]string)
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan %s name: %w", table, err)
		}
		keys[id] = nameKey(name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for id, key := range keys {
		if _, err := db.Exec(`UPDATE `+table+` SET name_key = ? WHERE id = ?`, key, id); err != nil {
			return fmt.Errorf("failed to backfill %s name_key: %w", table, err)
		}
	}

	stmts := []string{
		`DROP INDEX IF EXISTS idx_` + table + `_name`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_` + table + `_name_key ON ` + table + `(name_key)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to index %s names: %w", table, err)
		}
	}
	return nil
}

func hasColumn(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return false, fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// withWriteTx runs fn in a transaction while holding the store write lock.
// fn must only use tx: on an in-memory database the pool has a single connection.
func (db *DB) withWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
