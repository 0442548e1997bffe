package acquire

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"hashdive-scraper/internal/channel"
	"hashdive-scraper/internal/channel/channeltest"
	"hashdive-scraper/internal/codec"
	"hashdive-scraper/internal/codec/codectest"
	"hashdive-scraper/internal/components/chrono"
	"hashdive-scraper/internal/components/telemetry"
	"hashdive-scraper/internal/msglog"
	"hashdive-scraper/internal/record"
	"hashdive-scraper/internal/session"
	"hashdive-scraper/lib/jsonutil"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

var allTokens = map[string]string{
	session.NameAnonymousID: "anon",
	session.NameUser:        "user",
	session.NameXsrf:        "xsrf",
}

type memoryJournal struct {
	attempts []Attempt
}

func (j *memoryJournal) RecordAttempt(ctx context.Context, attempt Attempt) error {
	j.attempts = append(j.attempts, attempt)
	return nil
}

type failingStore struct {
	record.Store
}

func (failingStore) Write(id string, rec record.Record) error {
	return errors.New("disk full")
}

type cancelAfter struct {
	n      int
	cancel context.CancelFunc
}

func (c *cancelAfter) Started(int, int, string) {}

func (c *cancelAfter) Finished(index, total int, id string, outcome Outcome, tally Summary) {
	if index >= c.n {
		c.cancel()
	}
}

type fixture struct {
	store    record.Store
	opener   *channeltest.Opener
	clock    *chrono.FakeImpl
	rec      *telemetry.Recorder
	messages msglog.Writer
	journal  *memoryJournal
	metrics  *Metrics
	progress *bytes.Buffer
	deps     Deps
}

func newFixture(t *testing.T, tokens map[string]string) *fixture {
	dir := t.TempDir()
	f := &fixture{
		store:    record.NewStore(filepath.Join(dir, "users")),
		opener:   channeltest.NewOpener(),
		clock:    chrono.NewFakeImpl(time.Date(2025, 10, 21, 12, 0, 0, 0, time.UTC)),
		rec:      telemetry.NewRecorder(),
		messages: msglog.NewWriter(filepath.Join(dir, "messages")),
		journal:  &memoryJournal{},
		metrics:  NewMetrics(),
		progress: &bytes.Buffer{},
	}
	f.deps = Deps{
		Store:    f.store,
		Sessions: session.NewProvider(session.Config{Domain: "hashdive.com", Overrides: tokens}, nil, f.rec),
		Opener:   f.opener,
		Codec:    codectest.Codec{},
		Schemas:  Schemas{Request: "BackMsg", Response: "ForwardMsg"},
		Request:  codec.DefaultRequestOptions(),
		Clock:    f.clock,
		Tel:      f.rec,
		Progress: ConsoleProgress{Out: f.progress},
		Messages: f.messages,
		Journal:  f.journal,
		Metrics:  f.metrics,
	}
	return f
}

func (f *fixture) run(t *testing.T, opts Options, rows []record.Row) (Summary, error) {
	t.Helper()
	return NewPipeline(f.deps, opts).Run(context.Background(), rows)
}

func rows(ids ...string) []record.Row {
	out := []record.Row{}
	for i, id := range ids {
		out = append(out, record.Row{
			Identifier: id,
			Fields: map[string]any{
				"win_rate":    0.5 + float64(i)/10,
				"num_markets": int64(10 + i),
			},
		})
	}
	return out
}

func traderStream() *channeltest.Conn {
	return channeltest.NewConn(
		codectest.Frame(map[string]any{"newSession": map[string]any{}}),
		codectest.Markdown(":green-badge[:material/bolt: Whale]"),
		codectest.Markdown("Large positions."),
		codectest.Markdown("Sharpe Ratio: <span>1.25</span>"),
		codectest.Finished(),
		codectest.Markdown("never read"),
	)
}

func TestRunSuccess(t *testing.T) {
	f := newFixture(t, allTokens)
	conn := traderStream()
	f.opener.Conns["0xaaa"] = conn

	opts := DefaultOptions()
	summary, err := f.run(t, opts, rows("0xaaa"))
	require.NoError(t, err)
	require.Equal(t, 1, summary.Success)
	require.Equal(t, 1, summary.Attempted)

	saved, err := f.store.Read("0xaaa")
	require.NoError(t, err)
	require.Equal(t, "0xaaa", saved.Identifier())
	tags, ok := saved.TraderTypes()
	require.True(t, ok)
	require.Equal(t, []string{"Whale"}, tags)
	require.Equal(t, 1.25, saved["sharpe_ratio"])
	require.Equal(t, 0.5, saved["win_rate"])
	require.Equal(t, "2025-10-21T12:00:00Z", saved[record.FieldFetchedAt])

	sent := conn.Sent()
	require.Len(t, sent, 1)
	request := map[string]any{}
	require.NoError(t, jsonutil.Unmarshal(sent[0], &request))
	require.Equal(t, "user_address=0xaaa", request["rerunScript"].(map[string]any)["queryString"])

	require.Equal(t, 1, conn.Closed())
	count, err := f.messages.Count("0xaaa")
	require.NoError(t, err)
	require.Equal(t, 5, count)

	require.Equal(t, []time.Duration{time.Second}, f.clock.Slept())
	require.Len(t, f.journal.attempts, 1)
	require.Equal(t, channel.StopComplete, f.journal.attempts[0].Outcome.Stop)
	require.Equal(t, float64(1), testutil.ToFloat64(f.metrics.outcomes.WithLabelValues(string(KindSuccess))))
	require.Contains(t, f.progress.String(), "[1/1] Fetching data for 0xaaa")
}

func TestRunSkipsExistingWithoutNetwork(t *testing.T) {
	f := newFixture(t, allTokens)
	require.NoError(t, f.store.Write("0xaaa", record.Record{record.FieldIdentifier: "0xaaa", record.FieldTraderTypes: []string{"Whale"}}))

	summary, err := f.run(t, DefaultOptions(), rows("0xaaa", "0xbbb"))
	require.NoError(t, err)
	require.Equal(t, []string{"0xbbb"}, f.opener.Opened())
	require.Equal(t, 1, summary.Skipped)
	require.Equal(t, 1, summary.Attempted)
	// the delay only follows attempts
	require.Len(t, f.clock.Slept(), 1)

	f = newFixture(t, allTokens)
	require.NoError(t, f.store.Write("0xaaa", record.Record{record.FieldIdentifier: "0xaaa"}))
	opts := DefaultOptions()
	opts.Refetch = true
	summary, err = f.run(t, opts, rows("0xaaa"))
	require.NoError(t, err)
	require.Equal(t, []string{"0xaaa"}, f.opener.Opened())
	require.Zero(t, summary.Skipped)
}

func TestRunOffsetAndLimit(t *testing.T) {
	ids := []string{"0x0", "0x1", "0x2", "0x3", "0x4"}
	cases := []struct {
		offset, limit int
		expected      []string
	}{
		{offset: 1, limit: 1, expected: []string{"0x1"}},
		{offset: 0, limit: 0, expected: ids},
		{offset: 3, limit: 10, expected: []string{"0x3", "0x4"}},
		{offset: 2, limit: 2, expected: []string{"0x2", "0x3"}},
		{offset: 9, limit: 1, expected: nil},
	}
	for _, c := range cases {
		t.Run(fmt.Sprintf("offset %d limit %d", c.offset, c.limit), func(t *testing.T) {
			f := newFixture(t, allTokens)
			opts := DefaultOptions()
			opts.Offset = c.offset
			opts.Limit = c.limit

			summary, err := f.run(t, opts, rows(ids...))
			require.NoError(t, err)
			require.Equal(t, c.expected, f.opener.Opened())
			require.Equal(t, len(c.expected), summary.Attempted)
			require.Equal(t, len(c.expected), summary.Total)
		})
	}
}

func TestRunEmptyStreamWritesRecord(t *testing.T) {
	f := newFixture(t, allTokens)
	f.opener.Conns["0xaaa"] = channeltest.NewConn()

	summary, err := f.run(t, DefaultOptions(), rows("0xaaa"))
	require.NoError(t, err)
	require.Equal(t, 1, summary.Empty)
	require.Zero(t, summary.Errored)

	saved, err := f.store.Read("0xaaa")
	require.NoError(t, err)
	require.True(t, saved.HasNoTags())
	require.Equal(t, "0xaaa", saved.Identifier())
	require.Equal(t, channel.StopIdle, f.journal.attempts[0].Outcome.Stop)
}

func TestRunFailuresKeepExistingRecords(t *testing.T) {
	f := newFixture(t, allTokens)
	ids := []string{"0xopen", "0xdeadline", "0xreset", "0xsend"}
	before := map[string][]byte{}
	for _, id := range ids {
		require.NoError(t, f.store.Write(id, record.Record{
			record.FieldIdentifier:  id,
			record.FieldTraderTypes: []string{"Whale"},
			"sharpe_ratio":          2.5,
		}))
		contents, err := os.ReadFile(f.store.Path(id))
		require.NoError(t, err)
		before[id] = contents
	}

	f.opener.Fail["0xopen"] = fmt.Errorf("%w: 403", channel.ErrConnection)
	f.opener.Fail["0xdeadline"] = fmt.Errorf("dial: %w", context.DeadlineExceeded)
	f.opener.Conns["0xreset"] = &channeltest.Conn{
		Frames: []channel.RawMessage{{Binary: true, Data: codectest.Markdown(":x[:material/bolt: Whale]")}},
		After:  errors.New("connection reset by peer"),
	}
	f.opener.Conns["0xsend"] = &channeltest.Conn{SendErr: errors.New("broken pipe")}

	opts := DefaultOptions()
	opts.Refetch = true
	summary, err := f.run(t, opts, rows(ids...))
	require.NoError(t, err)
	require.Equal(t, 3, summary.Errored)
	require.Equal(t, 1, summary.TimedOut)
	require.Equal(t, 4, summary.Attempted)

	for _, id := range ids {
		contents, err := os.ReadFile(f.store.Path(id))
		require.NoError(t, err)
		require.Equal(t, before[id], contents, id)
	}
	require.Equal(t, 1, f.opener.Conns["0xreset"].Closed())
	require.Equal(t, 1, f.opener.Conns["0xsend"].Closed())
	require.True(t, f.rec.Has(telemetry.LevelWarning, report_attempt_open))
	require.True(t, f.rec.Has(telemetry.LevelWarning, report_attempt_read))
	require.Len(t, f.clock.Slept(), 4)
}

func TestRunMissingCredentialAborts(t *testing.T) {
	f := newFixture(t, map[string]string{
		session.NameAnonymousID: "anon",
		session.NameUser:        "user",
	})

	summary, err := f.run(t, DefaultOptions(), rows("0xaaa", "0xbbb"))
	require.ErrorIs(t, err, session.ErrCredentialMissing)
	require.Empty(t, f.opener.Opened())
	require.Zero(t, summary.Attempted)
	require.Zero(t, summary.Processed())
	require.True(t, f.rec.Has(telemetry.LevelBroken, report_run_credentials))
}

func TestRunPersistFailure(t *testing.T) {
	f := newFixture(t, allTokens)
	f.deps.Store = failingStore{Store: f.store}
	f.opener.Conns["0xaaa"] = traderStream()

	summary, err := f.run(t, DefaultOptions(), rows("0xaaa", "0xbbb"))
	require.NoError(t, err)
	require.Equal(t, 2, summary.Errored)
	require.True(t, f.rec.Has(telemetry.LevelBroken, report_attempt_persist))
}

func TestRunEncodeFailure(t *testing.T) {
	f := newFixture(t, allTokens)
	f.deps.Codec = codectest.Codec{FailEncode: true}

	summary, err := f.run(t, DefaultOptions(), rows("0xaaa"))
	require.NoError(t, err)
	require.Equal(t, 1, summary.Errored)
	require.ErrorIs(t, f.journal.attempts[0].Outcome.Err, codectest.ErrInjected)
	require.Equal(t, 1, f.opener.Conns["0xaaa"].Closed())
}

func TestRunCancelledBetweenIdentifiers(t *testing.T) {
	f := newFixture(t, allTokens)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.deps.Progress = &cancelAfter{n: 1, cancel: cancel}

	summary, err := NewPipeline(f.deps, DefaultOptions()).Run(ctx, rows("0xaaa", "0xbbb", "0xccc"))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, summary.Processed())
	require.Equal(t, []string{"0xaaa"}, f.opener.Opened())
}

func TestKindPersists(t *testing.T) {
	expected := map[Kind]bool{
		KindSkipped:  false,
		KindSuccess:  true,
		KindEmpty:    true,
		KindTimedOut: false,
		KindErrored:  false,
	}
	for _, kind := range Kinds {
		require.Equal(t, expected[kind], kind.Persists(), kind)
	}
	require.Panics(t, func() { Kind("bogus").Persists() })
}

func TestSummaryTable(t *testing.T) {
	s := Summary{Total: 5}
	s.Add(Outcome{Kind: KindSuccess})
	s.Add(Outcome{Kind: KindEmpty})
	s.Add(Outcome{Kind: KindSkipped})
	s.Add(Outcome{Kind: KindErrored})
	require.Equal(t, 3, s.Attempted)
	require.Equal(t, 4, s.Processed())

	rendered := s.Table()
	require.Contains(t, rendered, "success")
	require.Contains(t, rendered, "timeout")
}

// slowOpener spends part of the attempt budget on the fake clock before
// handing out the connection.
type slowOpener struct {
	*channeltest.Opener
	clock *chrono.FakeImpl
	spend time.Duration
}

func (o slowOpener) Open(ctx context.Context, identifier string, creds session.Credentials) (channel.Conn, error) {
	o.clock.Advance(o.spend)
	return o.Opener.Open(ctx, identifier, creds)
}

func TestAttemptBudgetFollowsClock(t *testing.T) {
	cases := []struct {
		name     string
		spend    time.Duration
		expected Kind
		messages int
	}{
		{name: "handshake within budget", spend: 10 * time.Second, expected: KindSuccess, messages: 5},
		{name: "handshake used the whole budget", spend: 30 * time.Second, expected: KindTimedOut, messages: 0},
	}
	for _, test := range cases {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t, allTokens)
			conn := traderStream()
			f.opener.Conns["0xaaa"] = conn
			f.deps.Opener = slowOpener{Opener: f.opener, clock: f.clock, spend: test.spend}

			summary, err := f.run(t, DefaultOptions(), rows("0xaaa"))
			require.NoError(t, err)
			require.Equal(t, 1, summary.Count(test.expected))
			require.Len(t, f.journal.attempts, 1)
			outcome := f.journal.attempts[0].Outcome
			require.Equal(t, test.expected, outcome.Kind)
			require.Equal(t, test.messages, outcome.Messages)
			require.Equal(t, test.spend, outcome.Duration)
		})
	}
}
