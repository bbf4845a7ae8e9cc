package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	started_at TIMESTAMP NOT NULL,
	ended_at TIMESTAMP NOT NULL,
	outcome TEXT NOT NULL,
	error TEXT,
	start REAL NOT NULL,
	stop REAL NOT NULL,
	step_size REAL NOT NULL,
	averaging INTEGER NOT NULL,
	post_move_wait REAL NOT NULL,
	time_constant_s REAL NOT NULL,
	sensitivity_v REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS samples (
	run_id TEXT NOT NULL REFERENCES runs(id),
	seq INTEGER NOT NULL,
	position REAL NOT NULL,
	value REAL NOT NULL,
	quadrature REAL NOT NULL DEFAULT 0,
	recovered INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, seq)
);`

const insertRunSQL = `
INSERT INTO runs (id, started_at, ended_at, outcome, error, start, stop,
	step_size, averaging, post_move_wait, time_constant_s, sensitivity_v)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertSampleSQL = `
INSERT INTO samples (run_id, seq, position, value, quadrature, recovered) VALUES (?, ?, ?, ?, ?, ?)`

const selectSamplesSQL = `
SELECT position, value, quadrature, recovered FROM samples WHERE run_id = ? ORDER BY seq`

// SQLiteArchive keeps every saved run in one SQLite database
type SQLiteArchive struct {
	dbPath string

	// Timeout bounds one Archive call
	Timeout time.Duration

	db     *sql.DB
	dbOnce sync.Once
	dbErr  error
}

// NewSQLiteArchive creates an archive at dbPath.  The database is opened on
// first use
func NewSQLiteArchive(dbPath string) *SQLiteArchive {
	return &SQLiteArchive{dbPath: dbPath, Timeout: 10 * time.Second}
}

func (a *SQLiteArchive) getDB() (*sql.DB, error) {
	a.dbOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", a.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			a.dbErr = fmt.Errorf("opening archive: %w", err)
			return
		}
		if _, err = db.Exec(schemaSQL); err != nil {
			_ = db.Close()
			a.dbErr = fmt.Errorf("initializing schema: %w", err)
			return
		}
		a.db = db
	})
	return a.db, a.dbErr
}

// Archive inserts run and its samples in one transaction
func (a *SQLiteArchive) Archive(run Run, samples []Sample) (err error) {
	db, err := a.getDB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.Timeout)
	defer cancel()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) && err == nil {
			err = rerr
		}
	}()

	_, err = tx.ExecContext(ctx, insertRunSQL, run.ID, run.StartedAt, run.EndedAt, run.Outcome,
		run.Error, run.Start, run.Stop, run.StepSize, run.Averaging, run.PostMoveWait,
		run.TimeConstant.Seconds(), run.Sensitivity.Volts())
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, insertSampleSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()
	for i, s := range samples {
		if _, err = stmt.ExecContext(ctx, run.ID, i, s.Position, s.Value, s.Quadrature, s.Recovered); err != nil {
			return fmt.Errorf("inserting sample %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Samples reads back the samples archived for a run
func (a *SQLiteArchive) Samples(ctx context.Context, runID string) (out []Sample, err error) {
	db, err := a.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, selectSamplesSQL, runID)
	if err != nil {
		return nil, fmt.Errorf("querying samples: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	for rows.Next() {
		var s Sample
		if err = rows.Scan(&s.Position, &s.Value, &s.Quadrature, &s.Recovered); err != nil {
			return nil, fmt.Errorf("scanning sample: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close closes the database if it was opened
func (a *SQLiteArchive) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
