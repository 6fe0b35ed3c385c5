// Package store provides SQLite-backed storage for simulation runs: the
// snapshot series of each run and its resumable checkpoints.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/popsim/popsim/sim"
)

// ErrNotFound is returned when a run or checkpoint does not exist.
var ErrNotFound = errors.New("not found")

// Run status values.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Run is one row of the runs table.
type Run struct {
	ID        string    `db:"id" json:"id"`
	Scenario  string    `db:"scenario" json:"scenario"`
	Seed      int64     `db:"seed" json:"seed"`
	Status    string    `db:"status" json:"status"`
	LastTick  int       `db:"last_tick" json:"last_tick"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// DB wraps a SQLite connection for run storage.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		scenario TEXT NOT NULL,
		seed INTEGER NOT NULL,
		status TEXT NOT NULL,
		last_tick INTEGER NOT NULL DEFAULT 0,
		config_json TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		tick INTEGER NOT NULL,
		population INTEGER NOT NULL,
		snapshot_json TEXT NOT NULL,
		PRIMARY KEY (run_id, tick)
	);

	CREATE TABLE IF NOT EXISTS checkpoints (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		tick INTEGER NOT NULL,
		data BLOB NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (run_id, tick)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// CreateRun registers a new run of cfg and returns it with a fresh id.
func (db *DB) CreateRun(cfg *sim.ScenarioConfig) (*Run, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode scenario: %w", err)
	}
	now := time.Now().UTC()
	run := &Run{
		ID:        uuid.NewString(),
		Scenario:  cfg.Name,
		Seed:      cfg.Seed,
		Status:    StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = db.conn.Exec(`INSERT INTO runs
		(id, scenario, seed, status, last_tick, config_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Scenario, run.Seed, run.Status, 0, string(cfgJSON), run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// GetRun loads a run by id.
func (db *DB) GetRun(id string) (*Run, error) {
	var run Run
	err := db.conn.Get(&run, `SELECT id, scenario, seed, status, last_tick, created_at, updated_at
		FROM runs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns the most recent runs first.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	var runs []Run
	err := db.conn.Select(&runs, `SELECT id, scenario, seed, status, last_tick, created_at, updated_at
		FROM runs ORDER BY created_at DESC, id LIMIT ?`, limit)
	return runs, err
}

// RunConfig returns the scenario configuration a run was created with.
func (db *DB) RunConfig(id string) (*sim.ScenarioConfig, error) {
	var raw string
	err := db.conn.Get(&raw, "SELECT config_json FROM runs WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var cfg sim.ScenarioConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("decode scenario of run %s: %w", id, err)
	}
	return &cfg, nil
}

// SetStatus updates a run's status.
func (db *DB) SetStatus(id, status string) error {
	res, err := db.conn.Exec("UPDATE runs SET status = ?, updated_at = ? WHERE id = ?",
		status, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	return expectOne(res, id)
}

// AppendSnapshots stores committed snapshots and advances the run's last
// tick. Re-appending a tick replaces it.
func (db *DB) AppendSnapshots(runID string, snaps []sim.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(`INSERT OR REPLACE INTO snapshots
		(run_id, tick, population, snapshot_json) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	last := 0
	for _, s := range snaps {
		raw, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("encode snapshot %d: %w", s.Tick, err)
		}
		if _, err := stmt.Exec(runID, s.Tick, s.Population, string(raw)); err != nil {
			return fmt.Errorf("insert snapshot %d: %w", s.Tick, err)
		}
		last = max(last, s.Tick)
	}

	res, err := tx.Exec("UPDATE runs SET last_tick = MAX(last_tick, ?), updated_at = ? WHERE id = ?",
		last, time.Now().UTC(), runID)
	if err != nil {
		return err
	}
	if err := expectOne(res, runID); err != nil {
		return err
	}
	return tx.Commit()
}

// Snapshots returns a run's snapshots with fromTick <= tick, in tick order.
func (db *DB) Snapshots(runID string, fromTick int) ([]sim.Snapshot, error) {
	var rows []string
	err := db.conn.Select(&rows,
		"SELECT snapshot_json FROM snapshots WHERE run_id = ? AND tick >= ? ORDER BY tick", runID, fromTick)
	if err != nil {
		return nil, err
	}
	snaps := make([]sim.Snapshot, 0, len(rows))
	for _, raw := range rows {
		var s sim.Snapshot
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		snaps = append(snaps, s)
	}
	return snaps, nil
}

// SaveCheckpoint stores a compressed checkpoint for the run.
func (db *DB) SaveCheckpoint(runID string, cp *sim.Checkpoint) error {
	data, err := cp.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	_, err = db.conn.Exec(`INSERT OR REPLACE INTO checkpoints (run_id, tick, data, created_at)
		VALUES (?, ?, ?, ?)`, runID, cp.Tick, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert checkpoint at tick %d: %w", cp.Tick, err)
	}
	return nil
}

// LatestCheckpoint loads the checkpoint with the highest tick for a run.
func (db *DB) LatestCheckpoint(runID string) (*sim.Checkpoint, error) {
	var data []byte
	err := db.conn.Get(&data,
		"SELECT data FROM checkpoints WHERE run_id = ? ORDER BY tick DESC LIMIT 1", runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checkpoint for run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return sim.UnmarshalCheckpoint(data)
}

func expectOne(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}
