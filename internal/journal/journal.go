// Package journal keeps one SQLite row per pipeline run. The journal is
// the audit trail of the pipeline itself: what was attempted, where it
// failed, and which ledger reference confirmed it.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Entry is one journaled pipeline run.
type Entry struct {
	ID          int64     // ID is the journal row id
	OperationID string    // OperationID identifies the pipeline run
	DeviceID    string    // DeviceID is the processed device
	Digest      string    // Digest is the computed proof digest, hex (empty before hashing)
	LedgerTx    string    // LedgerTx is the confirming transaction id (empty on failure)
	Sequence    uint64    // Sequence is the ledger sequence number (zero on failure)
	Step        string    // Step is the last step reached
	Success     bool      // Success reports whether the run certified
	ErrorKind   string    // ErrorKind classifies the failure (empty on success)
	StartedAt   time.Time // StartedAt is when the run began
	FinishedAt  time.Time // FinishedAt is when the run ended
}

// Journal is a SQLite-backed operation journal.
type Journal struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS operations (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	operation_id TEXT NOT NULL UNIQUE,
	device_id    TEXT NOT NULL,
	digest       TEXT NOT NULL DEFAULT '',
	ledger_tx    TEXT NOT NULL DEFAULT '',
	sequence     INTEGER NOT NULL DEFAULT 0,
	step         TEXT NOT NULL,
	success      INTEGER NOT NULL,
	error_kind   TEXT NOT NULL DEFAULT '',
	started_at   TEXT NOT NULL,
	finished_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_operations_device ON operations(device_id);
`

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*Journal, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_temp_store=MEMORY", path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal database:\n%w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal database:\n%w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema:\n%w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record inserts one pipeline run and returns its row id.
func (j *Journal) Record(e Entry) (int64, error) {
	query := `
		INSERT INTO operations (operation_id, device_id, digest, ledger_tx, sequence, step, success, error_kind, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	success := 0
	if e.Success {
		success = 1
	}

	result, err := j.db.Exec(query,
		e.OperationID,
		e.DeviceID,
		e.Digest,
		e.LedgerTx,
		e.Sequence,
		e.Step,
		success,
		e.ErrorKind,
		e.StartedAt.UTC().Format(time.RFC3339Nano),
		e.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert journal entry:\n%w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read journal insert id:\n%w", err)
	}

	return id, nil
}

// List returns journal entries, newest first, optionally filtered by
// device id.
func (j *Journal) List(deviceID string, limit int) ([]Entry, error) {
	query := `
		SELECT id, operation_id, device_id, digest, ledger_tx, sequence, step, success, error_kind, started_at, finished_at
		FROM operations
		WHERE 1=1
	`
	args := []any{}

	if deviceID != "" {
		query += " AND device_id = ?"
		args = append(args, deviceID)
	}

	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	return j.query(query, args...)
}

// Failures returns failed runs, newest first.
func (j *Journal) Failures(limit int) ([]Entry, error) {
	query := `
		SELECT id, operation_id, device_id, digest, ledger_tx, sequence, step, success, error_kind, started_at, finished_at
		FROM operations
		WHERE success = 0
		ORDER BY id DESC LIMIT ?
	`

	return j.query(query, limit)
}

// query runs a SELECT over the operations table and scans the rows.
func (j *Journal) query(query string, args ...any) ([]Entry, error) {
	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal:\n%w", err)
	}
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		var (
			e        Entry
			success  int
			started  string
			finished string
		)

		if err := rows.Scan(&e.ID, &e.OperationID, &e.DeviceID, &e.Digest, &e.LedgerTx,
			&e.Sequence, &e.Step, &success, &e.ErrorKind, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan journal entry:\n%w", err)
		}

		e.Success = success != 0

		if e.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parse journal start time:\n%w", err)
		}
		if e.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("parse journal finish time:\n%w", err)
		}

		entries = append(entries, e)
	}

	return entries, rows.Err()
}
