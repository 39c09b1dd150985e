// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ledger records every run, identifier outcome, report row and
// skipped candidate in a SQLite database so that absorbed failures stay
// visible after the process exits.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/foldeval/internal/report"
	"github.com/pdiddy/foldeval/pkg/types"
)

// ErrNoRuns is returned by Latest when the ledger is empty.
var ErrNoRuns = errors.New("no runs recorded")

// Ledger is the SQLite run ledger.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// Run is one recorded evaluation run.
type Run struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time // zero while the run is in progress
	Identifiers int
	Errored     int
	Rows        int
	MeanRMSD    *float64
	ReportPath  string
}

// Finished reports whether FinishRun was called for r.
func (r Run) Finished() bool { return !r.FinishedAt.IsZero() }

// Open opens or creates the ledger at path and ensures the schema exists.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Outcomes may arrive from several workers; SQLite takes one writer.
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db, now: time.Now}
	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return l, nil
}

// Close releases the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			identifiers INTEGER NOT NULL,
			errored INTEGER NOT NULL DEFAULT 0,
			row_count INTEGER NOT NULL DEFAULT 0,
			mean_rmsd REAL,
			report_path TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS identifiers (
			run_id TEXT NOT NULL REFERENCES runs(id),
			position INTEGER NOT NULL,
			identifier TEXT NOT NULL,
			state TEXT NOT NULL,
			stage TEXT,
			error TEXT,
			candidates INTEGER NOT NULL DEFAULT 0,
			malformed_hits INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (run_id, position)
		)`,
		`CREATE TABLE IF NOT EXISTS report_rows (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id),
			position INTEGER NOT NULL,
			identifier TEXT NOT NULL,
			candidate TEXT NOT NULL,
			percent_identity REAL NOT NULL,
			rmsd REAL NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS candidate_failures (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id),
			position INTEGER NOT NULL,
			identifier TEXT NOT NULL,
			candidate TEXT NOT NULL,
			stage TEXT NOT NULL,
			error TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rows_run ON report_rows(run_id, position)`,
		`CREATE INDEX IF NOT EXISTS idx_failures_run ON candidate_failures(run_id, position)`,
	}
	for _, stmt := range statements {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// BeginRun records a new run over n identifiers and returns its id.
func (l *Ledger) BeginRun(ctx context.Context, n int) (string, error) {
	id := uuid.NewString()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, identifiers) VALUES (?, ?, ?)`,
		id, formatTime(l.now()), n)
	if err != nil {
		return "", fmt.Errorf("recording run: %w", err)
	}
	return id, nil
}

// RecordOutcome stores the outcome of the identifier at position (its
// index in the input list) together with its rows and skipped candidates.
func (l *Ledger) RecordOutcome(ctx context.Context, runID string, position int, out types.IdentifierOutcome) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO identifiers (run_id, position, identifier, state, stage, error, candidates, malformed_hits)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, position, out.Identifier, string(out.State), nullString(string(out.Stage)), nullString(out.Error), out.Candidates, out.MalformedHits,
	); err != nil {
		return fmt.Errorf("recording identifier %s: %w", out.Identifier, err)
	}
	for _, r := range out.Rows {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO report_rows (run_id, position, identifier, candidate, percent_identity, rmsd) VALUES (?, ?, ?, ?, ?, ?)`,
			runID, position, r.Identifier, r.CandidateID, r.PercentIdentity, r.RMSD,
		); err != nil {
			return fmt.Errorf("recording row %s,%s: %w", r.Identifier, r.CandidateID, err)
		}
	}
	for _, f := range out.CandidateFailures {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO candidate_failures (run_id, position, identifier, candidate, stage, error) VALUES (?, ?, ?, ?, ?, ?)`,
			runID, position, out.Identifier, f.Candidate, string(f.Stage), f.Error,
		); err != nil {
			return fmt.Errorf("recording candidate failure %s: %w", f.Candidate, err)
		}
	}
	return tx.Commit()
}

// FinishRun stamps the run with its completion time and summary.
func (l *Ledger) FinishRun(ctx context.Context, runID string, s report.Summary, reportPath string) error {
	var mean sql.NullFloat64
	if s.MeanRMSD != nil {
		mean = sql.NullFloat64{Float64: *s.MeanRMSD, Valid: true}
	}
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, errored = ?, row_count = ?, mean_rmsd = ?, report_path = ? WHERE id = ?`,
		formatTime(l.now()), s.Errored, s.Rows, mean, reportPath, runID)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finishing run %s: no such run", runID)
	}
	return nil
}

// Latest returns the most recently started run.
func (l *Ledger) Latest(ctx context.Context) (Run, error) {
	runs, err := l.Runs(ctx, 1)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, ErrNoRuns
	}
	return runs[0], nil
}

// Lookup returns the run with the given id.
func (l *Ledger) Lookup(ctx context.Context, id string) (Run, error) {
	runs, err := l.queryRuns(ctx, `WHERE id = ? LIMIT 1`, id)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, fmt.Errorf("run %s: %w", id, sql.ErrNoRows)
	}
	return runs[0], nil
}

// Runs returns up to limit runs, newest first.
func (l *Ledger) Runs(ctx context.Context, limit int) ([]Run, error) {
	return l.queryRuns(ctx, `ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
}

func (l *Ledger) queryRuns(ctx context.Context, clause string, args ...any) ([]Run, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, identifiers, errored, row_count, mean_rmsd, report_path
		 FROM runs `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                Run
			started          string
			finished, path   sql.NullString
			mean             sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.Identifiers, &r.Errored, &r.Rows, &mean, &path); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if finished.Valid {
			r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished.String)
		}
		if mean.Valid {
			v := mean.Float64
			r.MeanRMSD = &v
		}
		r.ReportPath = path.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Outcomes returns the recorded identifier outcomes of a run in input
// order, with their rows and candidate failures attached.
func (l *Ledger) Outcomes(ctx context.Context, runID string) ([]types.IdentifierOutcome, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT position, identifier, state, stage, error, candidates, malformed_hits
		 FROM identifiers WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying identifiers: %w", err)
	}
	defer rows.Close()

	var outcomes []types.IdentifierOutcome
	byPosition := make(map[int]int)
	for rows.Next() {
		var (
			pos        int
			o          types.IdentifierOutcome
			state      string
			stage, msg sql.NullString
		)
		if err := rows.Scan(&pos, &o.Identifier, &state, &stage, &msg, &o.Candidates, &o.MalformedHits); err != nil {
			return nil, fmt.Errorf("scanning identifier: %w", err)
		}
		o.State = types.State(state)
		o.Stage = types.State(stage.String)
		o.Error = msg.String
		byPosition[pos] = len(outcomes)
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := l.attachRows(ctx, runID, outcomes, byPosition); err != nil {
		return nil, err
	}
	if err := l.attachFailures(ctx, runID, outcomes, byPosition); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (l *Ledger) attachRows(ctx context.Context, runID string, outcomes []types.IdentifierOutcome, byPosition map[int]int) error {
	rows, err := l.db.QueryContext(ctx,
		`SELECT position, identifier, candidate, percent_identity, rmsd
		 FROM report_rows WHERE run_id = ? ORDER BY position, rowid`, runID)
	if err != nil {
		return fmt.Errorf("querying rows: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			pos int
			r   types.ReportRow
		)
		if err := rows.Scan(&pos, &r.Identifier, &r.CandidateID, &r.PercentIdentity, &r.RMSD); err != nil {
			return fmt.Errorf("scanning row: %w", err)
		}
		if i, ok := byPosition[pos]; ok {
			outcomes[i].Rows = append(outcomes[i].Rows, r)
		}
	}
	return rows.Err()
}

func (l *Ledger) attachFailures(ctx context.Context, runID string, outcomes []types.IdentifierOutcome, byPosition map[int]int) error {
	rows, err := l.db.QueryContext(ctx,
		`SELECT position, candidate, stage, error
		 FROM candidate_failures WHERE run_id = ? ORDER BY position, rowid`, runID)
	if err != nil {
		return fmt.Errorf("querying candidate failures: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			pos   int
			f     types.CandidateFailure
			stage string
		)
		if err := rows.Scan(&pos, &f.Candidate, &stage, &f.Error); err != nil {
			return fmt.Errorf("scanning candidate failure: %w", err)
		}
		f.Stage = types.CandidateStage(stage)
		if i, ok := byPosition[pos]; ok {
			outcomes[i].CandidateFailures = append(outcomes[i].CandidateFailures, f)
		}
	}
	return rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
