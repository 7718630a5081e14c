// Package devicedb owns the per-device SQLite database that backs the local
// transaction ledger and the offline balance records. The store survives
// process restarts; both ledgers share one file so a payment's transaction
// row and balance row commit through the same connection.
package devicedb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultDBFileName is the SQLite filename under the wallet data dir.
const DefaultDBFileName = "wallet.db"

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS transactions (
  id               TEXT PRIMARY KEY,
  direction        TEXT NOT NULL CHECK(direction IN ('send','receive')),
  amount           TEXT NOT NULL,
  counterparty_id  TEXT NOT NULL,
  timestamp_ms     INTEGER NOT NULL,
  note             TEXT NOT NULL DEFAULT '',
  status           TEXT NOT NULL CHECK(status IN ('pending','completed','failed')) DEFAULT 'pending',
  receipt_id       TEXT NOT NULL DEFAULT '',
  synced           INTEGER NOT NULL DEFAULT 0
);
`,
	`
CREATE TABLE IF NOT EXISTS offline_balances (
  user_id          TEXT PRIMARY KEY,
  amount           TEXT NOT NULL,
  last_updated_ms  INTEGER NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_transactions_status_synced
ON transactions (status, synced, timestamp_ms);
`,
}

// DB wraps the shared SQLite handle.
type DB struct {
	sql *sql.DB
}

// Open creates or opens the wallet database under dataDir and applies any
// pending migrations. Returns the store and the resolved database path.
func Open(dataDir string) (*DB, string, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, DefaultDBFileName)

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, "", fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("enable WAL: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, "", err
	}

	return &DB{sql: db}, dbPath, nil
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, len(migrations))
	}

	for i := version; i < len(migrations); i++ {
		if _, err := db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("bump schema version to %d: %w", i+1, err)
		}
	}
	return nil
}

// SQL exposes the underlying handle to the ledger packages.
func (d *DB) SQL() *sql.DB {
	return d.sql
}

// Close closes the database.
func (d *DB) Close() error {
	return d.sql.Close()
}
