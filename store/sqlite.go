// Package store archives per-step population statistics in SQLite so runs
// can be compared with plain SQL after the fact.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pthm-cable/mozzie/telemetry"
)

// CommitBatchSize is the number of step rows per transaction.
const CommitBatchSize = 1000

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id     INTEGER PRIMARY KEY AUTOINCREMENT,
	seed       INTEGER NOT NULL,
	workers    INTEGER NOT NULL,
	capacity   INTEGER NOT NULL,
	started_at INTEGER NOT NULL,
	outcome    TEXT NOT NULL DEFAULT 'running',
	digest     TEXT NOT NULL DEFAULT '',
	steps      INTEGER NOT NULL DEFAULT 0,
	elapsed_ns INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS steps (
	run_id                INTEGER NOT NULL,
	step                  INTEGER NOT NULL,
	hours                 REAL NOT NULL,
	temperature           REAL NOT NULL,
	mature                INTEGER NOT NULL,
	immature              INTEGER NOT NULL,
	mate_seeking          INTEGER NOT NULL,
	blood_seeking         INTEGER NOT NULL,
	blood_digesting       INTEGER NOT NULL,
	gravid                INTEGER NOT NULL,
	females               INTEGER NOT NULL,
	potentially_infective INTEGER NOT NULL,
	males                 INTEGER NOT NULL,
	eggs                  INTEGER NOT NULL,
	larvae                INTEGER NOT NULL,
	pupae                 INTEGER NOT NULL,
	larvae_1day_equiv     INTEGER NOT NULL,
	biomass               INTEGER NOT NULL,
	mean_cycle_length     INTEGER NOT NULL,
	bites                 INTEGER NOT NULL,
	infectious_bites      INTEGER NOT NULL,
	new_eggs              INTEGER NOT NULL,
	killed                INTEGER NOT NULL,
	spent                 INTEGER NOT NULL,
	live                  INTEGER NOT NULL,
	PRIMARY KEY (run_id, step)
) WITHOUT ROWID;
`

const insertStep = `
INSERT OR REPLACE INTO steps (
	run_id, step, hours, temperature,
	mature, immature, mate_seeking, blood_seeking, blood_digesting, gravid,
	females, potentially_infective, males,
	eggs, larvae, pupae, larvae_1day_equiv, biomass,
	mean_cycle_length, bites, infectious_bites, new_eggs, killed, spent, live
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// Run describes the run a new archive session records.
type Run struct {
	Seed     int64
	Workers  int
	Capacity int
}

// Archive appends step rows for one run. It is not safe for concurrent use.
type Archive struct {
	db     *sql.DB
	runID  int64
	tx     *sql.Tx
	insert *sql.Stmt
	batch  int
}

// Open creates or opens the database at path and registers a new run.
func Open(path string, run Run) (*Archive, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := configureDatabase(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	res, err := db.Exec(
		`INSERT INTO runs (seed, workers, capacity, started_at) VALUES (?, ?, ?, ?)`,
		run.Seed, run.Workers, run.Capacity, time.Now().Unix(),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("registering run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("registering run: %w", err)
	}
	return &Archive{db: db, runID: id}, nil
}

func configureDatabase(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("executing %s: %w", p, err)
		}
	}
	return nil
}

// RunID returns the identifier of the run being recorded.
func (a *Archive) RunID() int64 {
	return a.runID
}

func (a *Archive) begin() error {
	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	stmt, err := tx.Prepare(insertStep)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert: %w", err)
	}
	a.tx, a.insert, a.batch = tx, stmt, 0
	return nil
}

// Flush commits buffered rows.
func (a *Archive) Flush() error {
	if a.tx == nil {
		return nil
	}
	a.insert.Close()
	err := a.tx.Commit()
	a.tx, a.insert, a.batch = nil, nil, 0
	if err != nil {
		return fmt.Errorf("committing steps: %w", err)
	}
	return nil
}

// WriteStats buffers one step row, committing every CommitBatchSize rows.
func (a *Archive) WriteStats(s telemetry.StepStats) error {
	if a.tx == nil {
		if err := a.begin(); err != nil {
			return err
		}
	}
	_, err := a.insert.Exec(
		a.runID, s.Step, s.Hours, s.Temperature,
		s.Mature, s.Immature, s.MateSeeking, s.BloodSeeking, s.BloodDigesting, s.Gravid,
		s.Females, s.PotentiallyInfective, s.Males,
		s.Eggs, s.Larvae, s.Pupae, s.Larvae1DayEquiv, s.Biomass,
		s.MeanCycleLength, s.Bites, s.InfectiousBites, s.NewEggs, s.Killed, s.Spent, s.Live,
	)
	if err != nil {
		return fmt.Errorf("inserting step %d: %w", s.Step, err)
	}
	a.batch++
	if a.batch >= CommitBatchSize {
		return a.Flush()
	}
	return nil
}

// Finish records the run outcome.
func (a *Archive) Finish(sum *telemetry.Summary) error {
	if err := a.Flush(); err != nil {
		return err
	}
	_, err := a.db.Exec(
		`UPDATE runs SET outcome = ?, digest = ?, steps = ?, elapsed_ns = ? WHERE run_id = ?`,
		sum.Outcome, sum.Digest, sum.Steps, int64(sum.Elapsed), a.runID,
	)
	if err != nil {
		return fmt.Errorf("finishing run %d: %w", a.runID, err)
	}
	return nil
}

// Steps reads back the recorded rows of a run in step order.
func (a *Archive) Steps(runID int64) ([]telemetry.StepStats, error) {
	if err := a.Flush(); err != nil {
		return nil, err
	}
	rows, err := a.db.Query(`
		SELECT step, hours, temperature,
			mature, immature, mate_seeking, blood_seeking, blood_digesting, gravid,
			females, potentially_infective, males,
			eggs, larvae, pupae, larvae_1day_equiv, biomass,
			mean_cycle_length, bites, infectious_bites, new_eggs, killed, spent, live
		FROM steps WHERE run_id = ? ORDER BY step`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying steps: %w", err)
	}
	defer rows.Close()

	var out []telemetry.StepStats
	for rows.Next() {
		var s telemetry.StepStats
		err := rows.Scan(
			&s.Step, &s.Hours, &s.Temperature,
			&s.Mature, &s.Immature, &s.MateSeeking, &s.BloodSeeking, &s.BloodDigesting, &s.Gravid,
			&s.Females, &s.PotentiallyInfective, &s.Males,
			&s.Eggs, &s.Larvae, &s.Pupae, &s.Larvae1DayEquiv, &s.Biomass,
			&s.MeanCycleLength, &s.Bites, &s.InfectiousBites, &s.NewEggs, &s.Killed, &s.Spent, &s.Live,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning step: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Outcome returns the recorded outcome and digest of a run.
func (a *Archive) Outcome(runID int64) (outcome, digest string, err error) {
	if err := a.Flush(); err != nil {
		return "", "", err
	}
	err = a.db.QueryRow(`SELECT outcome, digest FROM runs WHERE run_id = ?`, runID).Scan(&outcome, &digest)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("run %d not found", runID)
	}
	return outcome, digest, err
}

// Close commits pending rows and closes the database.
func (a *Archive) Close() error {
	if a == nil {
		return nil
	}
	return errors.Join(a.Flush(), a.db.Close())
}
