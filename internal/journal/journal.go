// Package journal provides a SQLite-backed append-only log of purchase
// state transitions.
//
// The journal is diagnostic infrastructure: every transition the engine
// applies is recorded with its logical sequence number, so an operator can
// reconstruct exactly how a purchase reached its current state (the `vend
// trace` command reads it). It is never consulted to make lifecycle
// decisions and a nil journal is a valid configuration - the record store
// alone carries correctness.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Entry is one recorded state transition.
type Entry struct {
	Seq           int64
	ItemID        string
	TransactionID string
	AttemptToken  string
	FromStatus    string
	ToStatus      string
	Event         string
	Detail        string
	At            time.Time
}

// Journal is an append-only transition log over a single SQLite file.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal database at the given path.
//
// The database is configured with WAL mode for concurrent reads during
// writes, NORMAL synchronous mode, a 5-second busy timeout, and a single
// writer connection (SQLite supports only one writer at a time).
//
// Idempotent: safe to call against an existing journal.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect journal: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal pragmas: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Append records one transition.
//
// Duplicate (item_id, seq) pairs are silently ignored: recovery replays
// the same transition entry points, and a replayed append must not error
// or double-record.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO transitions
		(seq, item_id, transaction_id, attempt_token, from_status, to_status, event, detail, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id, seq) DO NOTHING
	`,
		e.Seq,
		e.ItemID,
		e.TransactionID,
		e.AttemptToken,
		e.FromStatus,
		e.ToStatus,
		e.Event,
		e.Detail,
		e.At.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append transition: %w", err)
	}
	return nil
}

// ReadByItem returns all transitions for an item, ordered by seq.
// Returns an empty slice (not nil) when the item has no history.
func (j *Journal) ReadByItem(ctx context.Context, itemID string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, item_id, transaction_id, attempt_token, from_status, to_status, event, detail, at
		FROM transitions
		WHERE item_id = ?
		ORDER BY seq ASC, id ASC
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ReadAll returns every transition in the journal, ordered by seq.
func (j *Journal) ReadAll(ctx context.Context) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT seq, item_id, transaction_id, attempt_token, from_status, to_status, event, detail, at
		FROM transitions
		ORDER BY seq ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// LastSeq returns the highest recorded sequence number, or 0 for an empty
// journal. The engine seeds its logical clock from this after a restart so
// journal ordering stays monotonic across process lives.
func (j *Journal) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := j.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM transitions`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var at string
		if err := rows.Scan(
			&e.Seq,
			&e.ItemID,
			&e.TransactionID,
			&e.AttemptToken,
			&e.FromStatus,
			&e.ToStatus,
			&e.Event,
			&e.Detail,
			&at,
		); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse transition time %q: %w", at, err)
		}
		e.At = ts
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return entries, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}
