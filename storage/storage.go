package storage

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Run states persisted for each pipeline execution.
const (
	RunDone    = "done"
	RunAborted = "aborted"
)

// Run is one pipeline execution record.
type Run struct {
	ID           int64
	StartedAt    int64 // Unix timestamp
	FinishedAt   int64
	State        string // RunDone or RunAborted
	Reason       string // abort reason, empty on done
	Model        string
	FinishReason string
	DigestCount  int
	RawResponse  string // generation response body as received
}

// Delivery is one chunk delivery outcome belonging to a run.
type Delivery struct {
	RunID      int64
	Seq        int // submission order, 0-based
	StatusCode int
	Body       string
}

// Store provides SQLite-backed persistence for run history.
type Store struct {
	db *sql.DB
}

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at INTEGER,
	finished_at INTEGER,
	state TEXT,
	reason TEXT,
	model TEXT,
	finish_reason TEXT,
	digest_count INTEGER,
	raw_response TEXT
);

CREATE TABLE IF NOT EXISTS deliveries (
	run_id INTEGER,
	seq INTEGER,
	status_code INTEGER,
	body TEXT,
	PRIMARY KEY (run_id, seq)
);
`

// New opens the SQLite database at dbPath, creates tables if they don't
// exist, and returns a Store.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: set WAL mode: %w", err)
	}

	if _, err := db.Exec(createTablesSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create tables: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun inserts a run record and returns its id.
func (s *Store) SaveRun(r *Run) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO runs (started_at, finished_at, state, reason, model, finish_reason, digest_count, raw_response)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.StartedAt, r.FinishedAt, r.State, r.Reason, r.Model, r.FinishReason, r.DigestCount, r.RawResponse,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: save run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("storage: run id: %w", err)
	}
	return id, nil
}

// SaveDelivery inserts one chunk delivery outcome.
func (s *Store) SaveDelivery(d *Delivery) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO deliveries (run_id, seq, status_code, body) VALUES (?, ?, ?, ?)`,
		d.RunID, d.Seq, d.StatusCode, d.Body,
	)
	if err != nil {
		return fmt.Errorf("storage: save delivery %d/%d: %w", d.RunID, d.Seq, err)
	}
	return nil
}

// RecentRuns returns the most recent runs, newest first.
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	rows, err := s.db.Query(
		`SELECT id, started_at, finished_at, state, reason, model, finish_reason, digest_count, raw_response
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: recent runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.State, &r.Reason, &r.Model, &r.FinishReason, &r.DigestCount, &r.RawResponse); err != nil {
			return nil, fmt.Errorf("storage: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Deliveries returns a run's chunk outcomes in submission order.
func (s *Store) Deliveries(runID int64) ([]Delivery, error) {
	rows, err := s.db.Query(
		`SELECT run_id, seq, status_code, body FROM deliveries WHERE run_id = ? ORDER BY seq`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: deliveries for run %d: %w", runID, err)
	}
	defer rows.Close()

	var deliveries []Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.RunID, &d.Seq, &d.StatusCode, &d.Body); err != nil {
			return nil, fmt.Errorf("storage: scan delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}
