// Package orderlog keeps one durable row per processed order line.
package orderlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Lllllllleong/labelflow/internal/models"
	"github.com/Lllllllleong/labelflow/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS order_logs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id     TEXT NOT NULL,
	article    TEXT NOT NULL,
	size       TEXT NOT NULL,
	requested  INTEGER NOT NULL,
	sent       INTEGER NOT NULL,
	shortage   INTEGER NOT NULL,
	created_at TEXT NOT NULL
)`

const indexSchema = `CREATE INDEX IF NOT EXISTS order_logs_job_id ON order_logs (job_id)`

// Entry is one logged order line.
type Entry struct {
	JobID     string    `json:"jobId"`
	Article   string    `json:"article"`
	Size      string    `json:"size"`
	Requested int       `json:"requested"`
	Sent      int       `json:"sent"`
	Shortage  int       `json:"shortage"`
	CreatedAt time.Time `json:"createdAt"`
}

type Store struct {
	db *sql.DB
}

// New prepares the order_logs table on db. The caller owns db.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if err := store.InitSchema(ctx, db, schema, indexSchema); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Record writes the outcomes of one fulfillment run in a single transaction.
func (s *Store) Record(ctx context.Context, jobID string, lines []models.LineOutcome) error {
	if len(lines) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return store.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO order_logs
			(job_id, article, size, requested, sent, shortage, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare order log insert: %w", err)
		}
		defer stmt.Close()
		for _, l := range lines {
			if _, err := stmt.ExecContext(ctx, jobID, l.Article, l.Size, l.Requested, l.Sent, l.Shortage, now); err != nil {
				return fmt.Errorf("failed to log order line %s/%s: %w", l.Article, l.Size, err)
			}
		}
		return nil
	})
}

// ForJob returns the logged lines of a job in insertion order.
func (s *Store) ForJob(ctx context.Context, jobID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT job_id, article, size, requested, sent, shortage, created_at
		FROM order_logs WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order log: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e  Entry
			ts string
		)
		if err := rows.Scan(&e.JobID, &e.Article, &e.Size, &e.Requested, &e.Sent, &e.Shortage, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan order log: %w", err)
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("bad order log timestamp %q: %w", ts, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
