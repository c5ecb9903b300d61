// Package history stores run results in a SQLite database, optionally
// encrypted with SQLCipher.
package history

import (
	"context"
	"crypto/sha3"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kuitang/uirunner/internal/errs"
	"github.com/kuitang/uirunner/internal/obs"
	"github.com/kuitang/uirunner/internal/runner"
	"github.com/kuitang/uirunner/internal/scenario"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("history: run not found")

const (
	// MaxOpenConns bounds file-backed stores. SQLite is single-writer.
	MaxOpenConns = 4
	MaxIdleConns = 2

	// DefaultListLimit caps List when no limit is given.
	DefaultListLimit = 50
)

// Options selects the database.
type Options struct {
	// Path is the database file. Empty or ":memory:" opens a private in-memory store.
	Path string
	// Key encrypts the database with SQLCipher. The same key must be used on every open.
	Key string
}

// Store is the run history.
type Store struct {
	db *sql.DB
}

// Open opens or creates the store and applies the schema.
func Open(ctx context.Context, opts Options) (*Store, error) {
	memory := opts.Path == "" || opts.Path == ":memory:"

	var dsn string
	if memory {
		dsn = fmt.Sprintf("file:history-%s?mode=memory&cache=shared", uuid.NewString())
	} else {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0750); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
		dsn = opts.Path
	}
	if opts.Key != "" {
		dsn = appendSQLiteParams(dsn, fmt.Sprintf("_pragma_key=x'%s'&_pragma_cipher_page_size=4096", deriveKey(opts.Key)))
	}
	if memory {
		dsn = appendSQLiteParams(dsn, "_foreign_keys=on")
	} else {
		dsn = appendSQLiteParams(dsn, sqliteCommonParams())
	}

	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if memory {
		// Every connection must see the same in-memory database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(MaxOpenConns)
		db.SetMaxIdleConns(MaxIdleConns)
	}

	// Reading the schema page fails on a wrong key.
	var sqliteVersion string
	var tables int
	if err := db.QueryRowContext(ctx, "SELECT sqlite_version(), (SELECT count(*) FROM sqlite_master)").Scan(&sqliteVersion, &tables); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify history database: %w", err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	obs.From(ctx).With("pkg", "history").Debug("history_opened",
		"memory", memory,
		"encrypted", opts.Key != "",
		"sqlite_version", sqliteVersion,
	)
	return &Store{db: db}, nil
}

// deriveKey turns a passphrase into a raw 256-bit SQLCipher key.
func deriveKey(passphrase string) string {
	sum := sha3.Sum256([]byte(passphrase))
	return hex.EncodeToString(sum[:])
}

func sqliteCommonParams() string {
	return "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
}

func appendSQLiteParams(dsn, params string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + params
	}
	return dsn + "?" + params
}

// DB returns the underlying sql.DB.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Run is a stored result with the URL it targeted.
type Run struct {
	runner.Result
	Target string `json:"target,omitempty"`
}

// Save stores a result and its step records. Saving the same run twice replaces it.
func (s *Store) Save(ctx context.Context, target string, res runner.Result) error {
	if res.RunID == "" {
		return errs.New(errs.InvalidArgument, "history: run id is required")
	}
	degraded, err := json.Marshal(nonNil(res.Degraded))
	if err != nil {
		return fmt.Errorf("history: encode degraded: %w", err)
	}
	artifacts, err := json.Marshal(nonNil(res.Artifacts))
	if err != nil {
		return fmt.Errorf("history: encode artifacts: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM steps WHERE run_id = ?`, res.RunID); err != nil {
		return fmt.Errorf("history: clear steps: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (
			run_id, scenario, target, status, phase, code, message, expected, observed,
			failed_step, steps_executed, degraded, artifacts, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, res.Scenario, target, string(res.Status), string(res.Phase), string(res.Code),
		res.Message, res.Expected, res.Observed, res.FailedStep, res.StepsExecuted,
		string(degraded), string(artifacts), res.StartedAt.UnixMilli(), res.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("history: insert run %s: %w", res.RunID, err)
	}
	for _, st := range res.Steps {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO steps (run_id, idx, action, label, duration_ms, code, error)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			res.RunID, st.Index, st.Action, st.Label, st.Duration.Milliseconds(), string(st.Code), st.Error,
		)
		if err != nil {
			return fmt.Errorf("history: insert step %d of run %s: %w", st.Index, res.RunID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: commit run %s: %w", res.RunID, err)
	}
	return nil
}

const runColumns = `run_id, scenario, target, status, phase, code, message, expected, observed,
	failed_step, steps_executed, degraded, artifacts, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run                 Run
		status, phase, code string
		degraded, artifacts string
		started, finished   int64
	)
	err := row.Scan(&run.RunID, &run.Scenario, &run.Target, &status, &phase, &code, &run.Message,
		&run.Expected, &run.Observed, &run.FailedStep, &run.StepsExecuted, &degraded, &artifacts,
		&started, &finished)
	if err != nil {
		return Run{}, err
	}
	run.Status = runner.Status(status)
	run.Phase = runner.State(phase)
	run.Code = errs.Code(code)
	run.StartedAt = time.UnixMilli(started).UTC()
	run.FinishedAt = time.UnixMilli(finished).UTC()
	if err := json.Unmarshal([]byte(degraded), &run.Degraded); err != nil {
		return Run{}, fmt.Errorf("decode degraded: %w", err)
	}
	if err := json.Unmarshal([]byte(artifacts), &run.Artifacts); err != nil {
		return Run{}, fmt.Errorf("decode artifacts: %w", err)
	}
	return run, nil
}

// Get returns one run with its step records.
func (s *Store) Get(ctx context.Context, runID string) (Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("history: get run %s: %w", runID, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, action, label, duration_ms, code, error
		FROM steps WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return Run{}, fmt.Errorf("history: get steps of run %s: %w", runID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			st    runner.StepRecord
			durMS int64
			code  string
		)
		if err := rows.Scan(&st.Index, &st.Action, &st.Label, &durMS, &code, &st.Error); err != nil {
			return Run{}, fmt.Errorf("history: scan step of run %s: %w", runID, err)
		}
		st.Duration = time.Duration(durMS) * time.Millisecond
		st.Code = errs.Code(code)
		run.Steps = append(run.Steps, st)
	}
	if err := rows.Err(); err != nil {
		return Run{}, fmt.Errorf("history: read steps of run %s: %w", runID, err)
	}
	return run, nil
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Scenario string
	Status   runner.Status
	Limit    int
}

// List returns runs newest first, without step records.
func (s *Store) List(ctx context.Context, f Filter) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any
	if f.Scenario != "" {
		query += ` AND scenario = ?`
		args = append(args, f.Scenario)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	query += ` ORDER BY started_at DESC, run_id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	return runs, nil
}

// HostStats counts runs per target host and status.
type HostStats struct {
	Host    string `json:"host"`
	Passed  int    `json:"passed"`
	Failed  int    `json:"failed"`
	Errored int    `json:"errored"`
}

// StatsByHost aggregates every stored run by the host of its target.
func (s *Store) StatsByHost(ctx context.Context) ([]HostStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT url_host(target) AS host,
			SUM(CASE WHEN status = 'passed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'errored' THEN 1 ELSE 0 END)
		FROM runs GROUP BY host ORDER BY host`)
	if err != nil {
		return nil, fmt.Errorf("history: stats by host: %w", err)
	}
	defer rows.Close()
	var out []HostStats
	for rows.Next() {
		var st HostStats
		if err := rows.Scan(&st.Host, &st.Passed, &st.Failed, &st.Errored); err != nil {
			return nil, fmt.Errorf("history: scan stats: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// Recorder saves every observed result against the scenario's own absolute
// target, falling back to Target.
type Recorder struct {
	Store  *Store
	Target string
}

// Observe implements suite.Observer.
func (r Recorder) Observe(ctx context.Context, sc scenario.Scenario, res runner.Result) error {
	return r.Store.Save(ctx, sc.Target(r.Target), res)
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
