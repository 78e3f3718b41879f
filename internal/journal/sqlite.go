package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS position_transitions (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	position_id TEXT    NOT NULL,
	product_id  TEXT    NOT NULL,
	from_state  TEXT    NOT NULL,
	to_state    TEXT    NOT NULL,
	at          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_position_transitions_position ON position_transitions (position_id);
`

// SQLiteJournal stores transitions in a single append-only table
type SQLiteJournal struct {
	db *sql.DB
}

func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteJournal{db: db}, nil
}

func (j *SQLiteJournal) Append(ctx context.Context, e Entry) error {
	query := `INSERT INTO position_transitions (position_id, product_id, from_state, to_state, at) VALUES (?, ?, ?, ?, ?)`
	if _, err := j.db.ExecContext(ctx, query, e.PositionID, e.ProductID, e.From, e.To, e.At.UnixNano()); err != nil {
		return fmt.Errorf("failed to append transition: %w", err)
	}
	return nil
}

// Entries returns the recorded transitions of positionID in insertion order
func (j *SQLiteJournal) Entries(ctx context.Context, positionID string) ([]Entry, error) {
	query := `SELECT position_id, product_id, from_state, to_state, at FROM position_transitions WHERE position_id = ? ORDER BY seq`
	rows, err := j.db.QueryContext(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at int64
		if err := rows.Scan(&e.PositionID, &e.ProductID, &e.From, &e.To, &at); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		e.At = time.Unix(0, at).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
