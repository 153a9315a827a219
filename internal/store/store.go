// Package store is the single durable relational store (spec §4.A):
// agents, tasks, actions, messages, file locks, chunks, embeddings,
// session persistence, and the opaque key/value containers, all in one
// sqlite file under a project's .agent directory.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/fleetmcp/coordinator/internal/common/config"
	"github.com/fleetmcp/coordinator/internal/common/logger"
)

// Store wraps a writer connection (single, serialized) and a reader pool,
// the way the teacher's internal/common/database.DB wraps a pgxpool but
// adapted to database/sql since spec §4.A mandates a single sqlite file.
type Store struct {
	writer *sqlx.DB
	reader *sqlx.DB
	log    *logger.Logger
}

// Open opens (creating if necessary) the sqlite store at cfg's resolved
// path, then applies the schema.
func Open(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*Store, error) {
	path := cfg.ResolvedPath()

	w, err := openWriter(path)
	if err != nil {
		return nil, err
	}
	r, err := openReader(path, 4)
	if err != nil {
		w.Close()
		return nil, err
	}

	s := &Store{
		writer: sqlx.NewDb(w, "sqlite3"),
		reader: sqlx.NewDb(r, "sqlite3"),
		log:    log,
	}

	if err := s.writer.PingContext(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := applySchema(ctx, s.writer); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return s, nil
}

// OpenMemory opens an ephemeral in-process store, used by tests.
func OpenMemory(ctx context.Context) (*Store, error) {
	w, err := sql.Open("sqlite3", "file::memory:?_foreign_keys=on&cache=shared")
	if err != nil {
		return nil, err
	}
	w.SetMaxOpenConns(1)

	s := &Store{
		writer: sqlx.NewDb(w, "sqlite3"),
		reader: sqlx.NewDb(w, "sqlite3"),
		log:    logger.Default(),
	}
	if err := applySchema(ctx, s.writer); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Writer exposes the single writer connection for components that need
// raw SQL access beyond the per-entity helpers in this package.
func (s *Store) Writer() *sqlx.DB { return s.writer }

// Reader exposes the read-only pool.
func (s *Store) Reader() *sqlx.DB { return s.reader }

// Close drains and closes both connections. Safe to call more than once.
func (s *Store) Close() error {
	var firstErr error
	if s.writer != nil {
		if err := s.writer.Close(); err != nil {
			firstErr = err
		}
	}
	if s.reader != nil && s.reader != s.writer {
		if err := s.reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Ping verifies the writer connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.writer.PingContext(ctx)
}

// WithTx runs fn inside one exclusive write transaction. On any error the
// transaction aborts and no row changes (spec §4.A contract). Every tool
// handler that mutates state is expected to call this exactly once.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := s.writer.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx failed: %w, rollback failed: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
