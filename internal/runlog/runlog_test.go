package runlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"hashdive-scraper/internal/acquire"
	"hashdive-scraper/internal/channel"
	"hashdive-scraper/internal/components/chrono"
	configlibsql "hashdive-scraper/lib/configutil/libsql"
	"hashdive-scraper/lib/testutil"

	"github.com/stretchr/testify/require"
)

func newLedger(t *testing.T) (*Ledger, *chrono.FakeImpl) {
	db := testutil.OpenDB(t, "runs")
	clock := chrono.NewFakeImpl(time.Date(2025, 10, 21, 9, 0, 0, 0, time.UTC))
	ledger, err := New(context.Background(), db, clock)
	require.NoError(t, err)
	return ledger, clock
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	ledger, clock := newLedger(t)

	run, err := ledger.StartRun(ctx, acquire.DefaultOptions())
	require.NoError(t, err)
	require.Len(t, run.ID, 26)

	start := clock.Now()
	require.NoError(t, run.RecordAttempt(ctx, acquire.Attempt{
		Index:      1,
		Identifier: "0xaaa",
		StartedAt:  start,
		Outcome: acquire.Outcome{
			Kind:     acquire.KindSuccess,
			Messages: 57,
			Stop:     channel.StopComplete,
			Duration: 4200 * time.Millisecond,
		},
	}))
	clock.Advance(time.Minute)
	require.NoError(t, run.RecordAttempt(ctx, acquire.Attempt{
		Index:      2,
		Identifier: "0xbbb",
		StartedAt:  clock.Now(),
		Outcome:    acquire.Outcome{Kind: acquire.KindErrored, Err: errors.New("handshake refused")},
	}))

	runs, err := ledger.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.False(t, runs[0].Finished)

	clock.Advance(time.Minute)
	require.NoError(t, run.Finish(ctx, acquire.Summary{Total: 2, Attempted: 2, Success: 1, Errored: 1}))

	runs, err = ledger.Runs(ctx, 10)
	require.NoError(t, err)
	require.True(t, runs[0].Finished)
	require.Equal(t, 1, runs[0].Summary.Success)
	require.Equal(t, 2*time.Minute, runs[0].Summary.Elapsed)

	attempts, err := ledger.LatestAttempts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	require.Equal(t, "0xbbb", attempts[0].Identifier)
	require.Equal(t, acquire.KindErrored, attempts[0].Outcome)
	require.Equal(t, "handshake refused", attempts[0].Error)
	require.Equal(t, 57, attempts[1].Messages)
	require.Equal(t, string(channel.StopComplete), attempts[1].StopReason)
	require.Equal(t, 4200*time.Millisecond, attempts[1].Duration)
	require.True(t, start.Equal(attempts[1].StartedAt))

	history, err := ledger.History(ctx, "0xaaa")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, run.ID, history[0].RunID)
}

func TestRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	ledger, clock := newLedger(t)

	first, err := ledger.StartRun(ctx, acquire.Options{})
	require.NoError(t, err)
	clock.Advance(time.Hour)
	second, err := ledger.StartRun(ctx, acquire.Options{Refetch: true})
	require.NoError(t, err)

	runs, err := ledger.Runs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, second.ID, runs[0].ID)
	require.NotEqual(t, first.ID, second.ID)
}

func TestUnsupportedURL(t *testing.T) {
	_, err := configlibsql.Struct{URL: "postgres://localhost"}.OpenDB()
	require.Error(t, err)
	_, err = configlibsql.Struct{}.OpenDB()
	require.Error(t, err)
}

func TestAbortedRun(t *testing.T) {
	ctx := context.Background()
	ledger, clock := newLedger(t)

	run, err := ledger.StartRun(ctx, acquire.DefaultOptions())
	require.NoError(t, err)
	clock.Advance(3 * time.Second)
	require.NoError(t, run.Abort(ctx, acquire.Summary{Total: 5}, errors.New("credential missing: _streamlit_xsrf")))

	runs, err := ledger.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.True(t, runs[0].Finished)
	require.Equal(t, "credential missing: _streamlit_xsrf", runs[0].Error)
	require.Equal(t, 5, runs[0].Summary.Total)
	require.Equal(t, 3*time.Second, runs[0].Summary.Elapsed)
}

func TestLedgerWithoutErrorColumn(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t, "old")
	_, err := db.ExecContext(ctx, `create table runs (
		id text primary key,
		started_at text not null,
		finished_at text,
		options text not null,
		total integer not null default 0,
		attempted integer not null default 0,
		skipped integer not null default 0,
		success integer not null default 0,
		empty integer not null default 0,
		timed_out integer not null default 0,
		errored integer not null default 0
	)`)
	require.NoError(t, err)

	clock := chrono.NewFakeImpl(time.Date(2025, 10, 21, 9, 0, 0, 0, time.UTC))
	ledger, err := New(ctx, db, clock)
	require.NoError(t, err)
	_, err = New(ctx, db, clock)
	require.NoError(t, err)

	run, err := ledger.StartRun(ctx, acquire.DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, run.Abort(ctx, acquire.Summary{}, errors.New("boom")))

	runs, err := ledger.Runs(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "boom", runs[0].Error)
}
