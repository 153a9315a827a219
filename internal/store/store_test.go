package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"
)

func TestOpenMemoryPingsAndAppliesSchema(t *testing.T) {
	ctx := context.Background()
	st, err := OpenMemory(ctx)
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	defer st.Close()

	if err := st.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	var n int
	if err := st.Reader().GetContext(ctx, &n, `SELECT COUNT(*) FROM agents`); err != nil {
		t.Fatalf("agents table should exist after schema migration: %v", err)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	st, err := OpenMemory(ctx)
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	defer st.Close()

	boom := errors.New("boom")
	err = st.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO kv_store (namespace, key, value, last_updated) VALUES (?, ?, ?, ?)`,
			"test", "k", "v", "2024-01-01T00:00:00Z"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}

	var n int
	if err := st.Reader().GetContext(ctx, &n, `SELECT COUNT(*) FROM kv_store WHERE namespace = 'test'`); err != nil {
		t.Fatalf("count kv rows: %v", err)
	}
	if n != 0 {
		t.Errorf("got %d rows after a rolled-back transaction, want 0", n)
	}
}

func TestWithTxCommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	st, err := OpenMemory(ctx)
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	defer st.Close()

	err = st.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO kv_store (namespace, key, value, last_updated) VALUES (?, ?, ?, ?)`,
			"test", "k", "v", "2024-01-01T00:00:00Z")
		return err
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	var n int
	if err := st.Reader().GetContext(ctx, &n, `SELECT COUNT(*) FROM kv_store WHERE namespace = 'test'`); err != nil {
		t.Fatalf("count kv rows: %v", err)
	}
	if n != 1 {
		t.Errorf("got %d rows after a committed transaction, want 1", n)
	}
}
