package taskrt

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // register sqlite3 driver
)

// ResultStore backs chord-callback draining (§9): many Group workers append
// their result under a shared correlation key; exactly one callback later
// drains and deletes the whole list atomically so no result is read twice.
type ResultStore struct {
	db *sql.DB
}

const resultStoreSchema = `
CREATE TABLE IF NOT EXISTS chord_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	correlation_id TEXT NOT NULL,
	step_name TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_chord_results_correlation ON chord_results(correlation_id);
`

// OpenResultStore opens (creating if absent) the SQLite-backed result list
// at path. WAL mode lets many concurrent appenders and one drainer coexist
// without blocking each other on every write.
func OpenResultStore(path string) (*ResultStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("taskrt: open result store: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("taskrt: set wal mode: %w", err)
	}
	if _, err := db.Exec(resultStoreSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("taskrt: apply schema: %w", err)
	}
	return &ResultStore{db: db}, nil
}

// Close releases the underlying database handle.
func (r *ResultStore) Close() error { return r.db.Close() }

// AppendResult atomically appends one step's payload under a correlation
// key. Safe under concurrent callers — each call is a single INSERT.
func (r *ResultStore) AppendResult(ctx context.Context, correlationID, stepName, payload string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO chord_results (correlation_id, step_name, payload) VALUES (?, ?, ?)`,
		correlationID, stepName, payload,
	)
	if err != nil {
		return fmt.Errorf("taskrt: append result: %w", err)
	}
	return nil
}

// AppendedResult is one entry DrainResults returns.
type AppendedResult struct {
	StepName string
	Payload  string
}

// DrainResults atomically reads and deletes every result under a
// correlation key inside one transaction, so the chord callback that wins
// the drain is the only one that ever observes the results — a second,
// racing drain call (e.g. a retried callback activity) sees an empty list
// rather than double-processing.
func (r *ResultStore) DrainResults(ctx context.Context, correlationID string) ([]AppendedResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("taskrt: drain results: begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT step_name, payload FROM chord_results WHERE correlation_id = ? ORDER BY id ASC`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("taskrt: drain results: select: %w", err)
	}
	var out []AppendedResult
	for rows.Next() {
		var ar AppendedResult
		if err := rows.Scan(&ar.StepName, &ar.Payload); err != nil {
			rows.Close()
			return nil, fmt.Errorf("taskrt: drain results: scan: %w", err)
		}
		out = append(out, ar)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chord_results WHERE correlation_id = ?`, correlationID); err != nil {
		return nil, fmt.Errorf("taskrt: drain results: delete: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("taskrt: drain results: commit: %w", err)
	}
	return out, nil
}
