package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Lllllllleong/labelflow/internal/store"
)

const catalogSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL
)`

const sourcesSchema = `
CREATE TABLE IF NOT EXISTS ingested_sources (
	hash       TEXT PRIMARY KEY,
	source     TEXT NOT NULL,
	created_at TEXT NOT NULL
)`

// Entry is one cataloged inventory document.
type Entry struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// catalog maps document IDs to names. It is the inventory index; the
// directory is only scanned to reconcile it.
type catalog struct {
	db *sql.DB
}

func newCatalog(ctx context.Context, db *sql.DB) (*catalog, error) {
	if err := store.InitSchema(ctx, db, catalogSchema, sourcesSchema); err != nil {
		return nil, err
	}
	return &catalog{db: db}, nil
}

func (c *catalog) add(ctx context.Context, name string) (Entry, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Entry{}, fmt.Errorf("failed to generate document id: %w", err)
	}
	now := time.Now().UTC()
	_, err = c.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO documents (id, name, created_at) VALUES (?, ?, ?)`,
		id.String(), name, now.Format(time.RFC3339Nano))
	if err != nil {
		return Entry{}, fmt.Errorf("failed to catalog %s: %w", name, err)
	}
	return c.get(ctx, name)
}

func (c *catalog) get(ctx context.Context, name string) (Entry, error) {
	var (
		e       Entry
		created string
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM documents WHERE name = ?`, name).Scan(&e.ID, &e.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("failed to read catalog entry %s: %w", name, err)
	}
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return Entry{}, fmt.Errorf("catalog entry %s has a bad timestamp: %w", name, err)
	}
	return e, nil
}

func (c *catalog) remove(ctx context.Context, name string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE name = ?`, name); err != nil {
		return fmt.Errorf("failed to uncatalog %s: %w", name, err)
	}
	return nil
}

func (c *catalog) list(ctx context.Context) ([]Entry, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT id, name, created_at FROM documents ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list catalog: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			created string
		)
		if err := rows.Scan(&e.ID, &e.Name, &created); err != nil {
			return nil, fmt.Errorf("failed to scan catalog: %w", err)
		}
		var err error
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("catalog entry %s has a bad timestamp: %w", e.Name, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ClaimSource records that the file with the given content hash is being
// ingested. It returns false when the same content was claimed before.
func (inv *Inventory) ClaimSource(ctx context.Context, hash, source string) (bool, error) {
	res, err := inv.catalog.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO ingested_sources (hash, source, created_at) VALUES (?, ?, ?)`,
		hash, source, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("failed to claim source %s: %w", source, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim source %s: %w", source, err)
	}
	return n == 1, nil
}

// UnclaimSource forgets a claim so the content can be ingested again.
func (inv *Inventory) UnclaimSource(ctx context.Context, hash string) error {
	if _, err := inv.catalog.db.ExecContext(ctx, `DELETE FROM ingested_sources WHERE hash = ?`, hash); err != nil {
		return fmt.Errorf("failed to unclaim source: %w", err)
	}
	return nil
}
