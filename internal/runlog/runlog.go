// Package runlog keeps a history of fetch runs and their attempts in sqlite
// (or a remote libsql database).
package runlog

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"hashdive-scraper/internal/acquire"
	"hashdive-scraper/internal/components/assert"
	"hashdive-scraper/internal/components/chrono"
	"hashdive-scraper/lib/jsonutil"

	"github.com/oklog/ulid/v2"
)

//go:embed schema.sql
var schema string

type Ledger struct {
	db    *sql.DB
	clock chrono.API
}

// New creates the tables if needed.
func New(ctx context.Context, db *sql.DB, clock chrono.API) (*Ledger, error) {
	assert.NotNil(db)
	assert.NotNil(clock)

	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err := db.ExecContext(ctx, stmt)
		if err != nil {
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	err := addColumn(ctx, db, "runs", "error", "text")
	if err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Ledger{db: db, clock: clock}, nil
}

// addColumn brings ledgers created before a column existed up to date.
func addColumn(ctx context.Context, db *sql.DB, table, column, decl string) error {
	var count int
	err := db.QueryRowContext(
		ctx,
		"select count(*) from pragma_table_info(?) where name = ?",
		table, column,
	).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	_, err = db.ExecContext(ctx, fmt.Sprintf("alter table %s add column %s %s", table, column, decl))
	return err
}

// fixed width so that text ordering is time ordering
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Run is an open entry in the ledger, it implements acquire.Journal.
type Run struct {
	ID     string
	ledger *Ledger
}

func (l *Ledger) StartRun(ctx context.Context, opts acquire.Options) (Run, error) {
	now := l.clock.Now()
	id := ulid.MustNewDefault(now).String()

	encoded, err := jsonutil.Marshal(opts)
	if err != nil {
		return Run{}, err
	}
	_, err = l.db.ExecContext(
		ctx,
		"insert into runs (id, started_at, options) values (?, ?, ?)",
		id, formatTime(now), string(encoded),
	)
	if err != nil {
		return Run{}, fmt.Errorf("start run: %w", err)
	}
	return Run{ID: id, ledger: l}, nil
}

func (r Run) RecordAttempt(ctx context.Context, attempt acquire.Attempt) error {
	errText := ""
	if attempt.Outcome.Err != nil {
		errText = attempt.Outcome.Err.Error()
	}
	_, err := r.ledger.db.ExecContext(
		ctx,
		`insert into attempts
			(run_id, idx, identifier, outcome, messages, stop_reason, error, started_at, duration_ms)
		values (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID,
		attempt.Index,
		attempt.Identifier,
		string(attempt.Outcome.Kind),
		attempt.Outcome.Messages,
		string(attempt.Outcome.Stop),
		errText,
		formatTime(attempt.StartedAt),
		attempt.Outcome.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// Finish stores the final counts, a run that is never finished keeps a null
// finished_at which is how interrupted runs show up.
func (r Run) Finish(ctx context.Context, summary acquire.Summary) error {
	return r.close(ctx, summary, nil)
}

// Abort closes a run that stopped on a fatal error, unlike an interrupted run
// it is marked finished and keeps the error.
func (r Run) Abort(ctx context.Context, summary acquire.Summary, cause error) error {
	assert.NotNil(cause)
	return r.close(ctx, summary, cause)
}

func (r Run) close(ctx context.Context, summary acquire.Summary, cause error) error {
	var errText sql.NullString
	if cause != nil {
		errText = sql.NullString{String: cause.Error(), Valid: true}
	}
	_, err := r.ledger.db.ExecContext(
		ctx,
		`update runs set
			finished_at = ?, total = ?, attempted = ?, skipped = ?,
			success = ?, empty = ?, timed_out = ?, errored = ?, error = ?
		where id = ?`,
		formatTime(r.ledger.clock.Now()),
		summary.Total,
		summary.Attempted,
		summary.Skipped,
		summary.Success,
		summary.Empty,
		summary.TimedOut,
		summary.Errored,
		errText,
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

type RunRow struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Finished   bool
	Error      string
	Summary    acquire.Summary
}

// Runs returns the most recent runs first.
func (l *Ledger) Runs(ctx context.Context, limit int) ([]RunRow, error) {
	rows, err := l.db.QueryContext(
		ctx,
		`select id, started_at, finished_at, total, attempted, skipped, success, empty, timed_out, errored, error
		from runs order by started_at desc, id desc limit ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []RunRow{}
	for rows.Next() {
		var row RunRow
		var started string
		var finished, errText sql.NullString
		err := rows.Scan(
			&row.ID, &started, &finished,
			&row.Summary.Total, &row.Summary.Attempted, &row.Summary.Skipped,
			&row.Summary.Success, &row.Summary.Empty, &row.Summary.TimedOut, &row.Summary.Errored,
			&errText,
		)
		if err != nil {
			return nil, err
		}
		row.StartedAt = parseTime(started)
		row.Error = errText.String
		if finished.Valid {
			row.Finished = true
			row.FinishedAt = parseTime(finished.String)
			row.Summary.Elapsed = row.FinishedAt.Sub(row.StartedAt)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

type AttemptRow struct {
	RunID      string
	Index      int
	Identifier string
	Outcome    acquire.Kind
	Messages   int
	StopReason string
	Error      string
	StartedAt  time.Time
	Duration   time.Duration
}

const attemptColumns = "run_id, idx, identifier, outcome, messages, stop_reason, error, started_at, duration_ms"

func scanAttempts(rows *sql.Rows) ([]AttemptRow, error) {
	defer rows.Close()
	out := []AttemptRow{}
	for rows.Next() {
		var row AttemptRow
		var outcome, started string
		var durationMs int64
		err := rows.Scan(
			&row.RunID, &row.Index, &row.Identifier, &outcome, &row.Messages,
			&row.StopReason, &row.Error, &started, &durationMs,
		)
		if err != nil {
			return nil, err
		}
		row.Outcome = acquire.Kind(outcome)
		row.StartedAt = parseTime(started)
		row.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, row)
	}
	return out, rows.Err()
}

// LatestAttempts returns the most recent attempts across runs, newest first.
func (l *Ledger) LatestAttempts(ctx context.Context, limit int) ([]AttemptRow, error) {
	rows, err := l.db.QueryContext(
		ctx,
		"select "+attemptColumns+" from attempts order by started_at desc, run_id desc, idx desc limit ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	return scanAttempts(rows)
}

// History returns every attempt made for one identifier, newest first.
func (l *Ledger) History(ctx context.Context, identifier string) ([]AttemptRow, error) {
	rows, err := l.db.QueryContext(
		ctx,
		"select "+attemptColumns+" from attempts where identifier = ? order by started_at desc, run_id desc",
		identifier,
	)
	if err != nil {
		return nil, err
	}
	return scanAttempts(rows)
}
