package registry

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Lllllllleong/labelflow/internal/store"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS printed_codes (
	code       TEXT PRIMARY KEY,
	created_at TEXT NOT NULL
)`

// SQLiteRegistry keeps codes in the printed_codes table. A unit of work is
// one immediate transaction, so concurrent units serialize on the database
// write lock and a racing unit sees the winner's committed row.
type SQLiteRegistry struct {
	db     *sql.DB
	closed atomic.Bool
}

// NewSQLite prepares the schema on db. The caller owns db.
func NewSQLite(ctx context.Context, db *sql.DB) (*SQLiteRegistry, error) {
	if err := store.InitSchema(ctx, db, sqliteSchema); err != nil {
		return nil, err
	}
	return &SQLiteRegistry{db: db}, nil
}

func (r *SQLiteRegistry) Begin(ctx context.Context) (UnitOfWork, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin registry transaction: %w", err)
	}
	return &sqliteUnit{tx: tx, savepoints: make(map[string]bool)}, nil
}

func (r *SQLiteRegistry) ReadAll(ctx context.Context) (Snapshot, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := r.db.QueryContext(ctx, `SELECT code FROM printed_codes`)
	if err != nil {
		return nil, fmt.Errorf("failed to read codes: %w", err)
	}
	defer rows.Close()
	snap := Snapshot{}
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan code: %w", err)
		}
		snap[code] = struct{}{}
	}
	return snap, rows.Err()
}

func (r *SQLiteRegistry) Release(ctx context.Context, codes []string) ([]string, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	var released []string
	err := store.RunTx(ctx, r.db, func(tx *sql.Tx) error {
		released = released[:0]
		for _, code := range codes {
			res, err := tx.ExecContext(ctx, `DELETE FROM printed_codes WHERE code = ?`, code)
			if err != nil {
				return fmt.Errorf("failed to release %s: %w", code, err)
			}
			if n, _ := res.RowsAffected(); n == 1 {
				released = append(released, code)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

// Close stops new work. The database handle belongs to the caller.
func (r *SQLiteRegistry) Close() error {
	r.closed.Store(true)
	return nil
}

type sqliteUnit struct {
	mu         sync.Mutex
	tx         *sql.Tx
	savepoints map[string]bool
	done       bool
}

func (u *sqliteUnit) RegisterIfNew(ctx context.Context, code string) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.done {
		return false, ErrDone
	}
	res, err := u.tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO printed_codes (code, created_at) VALUES (?, ?)`,
		code, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("failed to register code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to register code: %w", err)
	}
	return n == 1, nil
}

func (u *sqliteUnit) Savepoint(ctx context.Context, name string) error {
	if err := checkSavepoint(name); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.done {
		return ErrDone
	}
	if _, err := u.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to create savepoint %s: %w", name, err)
	}
	u.savepoints[name] = true
	return nil
}

func (u *sqliteUnit) RollbackTo(ctx context.Context, name string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.done {
		return ErrDone
	}
	if !u.savepoints[name] {
		return ErrUnknownSavepoint
	}
	if _, err := u.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to roll back to %s: %w", name, err)
	}
	return nil
}

func (u *sqliteUnit) Commit() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.done {
		return ErrDone
	}
	u.done = true
	if err := u.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit registry transaction: %w", err)
	}
	return nil
}

func (u *sqliteUnit) Rollback() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.done {
		return nil
	}
	u.done = true
	return u.tx.Rollback()
}
