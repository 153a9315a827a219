package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const defaultBusyTimeout = 5 * time.Second

// sqliteDSN builds a go-sqlite3 DSN for path, forcing the pragmas the
// coordinator's single-writer/many-reader split depends on: foreign key
// enforcement always, WAL + NORMAL sync only for the writer (a reader
// only needs _mode=ro; WAL itself is a database-level setting the
// writer already established).
func sqliteDSN(path string, writable bool) string {
	q := url.Values{}
	q.Set("_foreign_keys", "on")
	q.Set("_busy_timeout", strconv.Itoa(int(defaultBusyTimeout/time.Millisecond)))
	q.Set("_cache", "shared")
	if writable {
		q.Set("_mode", "rwc")
		q.Set("_journal_mode", "WAL")
		q.Set("_synchronous", "NORMAL")
	} else {
		q.Set("_mode", "ro")
	}
	return fmt.Sprintf("file:%s?%s", path, q.Encode())
}

// openWriter opens the single serialized write connection for path,
// creating the database file and its parent directory first if needed.
func openWriter(dbPath string) (*sql.DB, error) {
	path := normalizePath(dbPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prepare database directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create database file: %w", err)
	}
	f.Close()

	db, err := sql.Open("sqlite3", sqliteDSN(path, true))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// openReader opens a read-only pool of conns connections against path.
func openReader(dbPath string, conns int) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(normalizePath(dbPath), false))
	if err != nil {
		return nil, fmt.Errorf("open read-only database: %w", err)
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	return db, nil
}

func normalizePath(dbPath string) string {
	if dbPath == "" {
		return dbPath
	}
	if abs, err := filepath.Abs(dbPath); err == nil {
		return abs
	}
	return dbPath
}
