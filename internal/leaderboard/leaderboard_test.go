package leaderboard

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hashdive-scraper/internal/acquire"
	"hashdive-scraper/internal/channel"
	"hashdive-scraper/internal/channel/channeltest"
	"hashdive-scraper/internal/codec"
	"hashdive-scraper/internal/codec/codectest"
	"hashdive-scraper/internal/components/chrono"
	"hashdive-scraper/internal/components/telemetry"
	"hashdive-scraper/internal/session"
	"hashdive-scraper/internal/tabular"
	"hashdive-scraper/lib/jsonutil"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/stretchr/testify/require"
)

type trader struct {
	address string
	score   float64
	markets int64
	// nullScore leaves the score cell null
	nullScore bool
}

// arrowTable encodes traders the way the explorer dataframe does, including
// the pandas index column.
func arrowTable(t *testing.T, traders ...trader) []byte {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "User Address", Type: arrow.BinaryTypes.String},
		{Name: "Score", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "Num Markets", Type: arrow.PrimitiveTypes.Int64},
		{Name: "__index_level_0__", Type: arrow.PrimitiveTypes.Int64},
	}, nil)

	builder := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer builder.Release()
	for i, tr := range traders {
		builder.Field(0).(*array.StringBuilder).Append(tr.address)
		if tr.nullScore {
			builder.Field(1).(*array.Float64Builder).AppendNull()
		} else {
			builder.Field(1).(*array.Float64Builder).Append(tr.score)
		}
		builder.Field(2).(*array.Int64Builder).Append(tr.markets)
		builder.Field(3).(*array.Int64Builder).Append(int64(i))
	}
	rec := builder.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, ipc.WithSchema(schema))
	require.NoError(t, writer.Write(rec))
	require.NoError(t, writer.Close())
	return buf.Bytes()
}

func tableFrame(t *testing.T, traders ...trader) []byte {
	return codectest.Element("arrowDataFrame", map[string]any{
		"data": base64.StdEncoding.EncodeToString(arrowTable(t, traders...)),
	})
}

func TestColumnName(t *testing.T) {
	cases := []struct {
		label    string
		expected string
	}{
		{label: "user_address", expected: "user_address"},
		{label: "User Address", expected: "user_address"},
		{label: "Win Rate (%)", expected: "win_rate"},
		{label: "  PnL / Volume ", expected: "pnl_volume"},
	}
	for _, c := range cases {
		t.Run(c.label, func(t *testing.T) {
			require.Equal(t, c.expected, ColumnName(c.label))
		})
	}
}

func TestDecodeArrow(t *testing.T) {
	table, err := DecodeArrow(arrowTable(t,
		trader{address: "0xaaa", score: 71.5, markets: 12},
		trader{address: "0xbbb", markets: 3, nullScore: true},
	))
	require.NoError(t, err)
	require.Equal(t, []string{"user_address", "score", "num_markets"}, table.Columns)
	require.Equal(t, [][]string{
		{"0xaaa", "71.5", "12"},
		{"0xbbb", "", "3"},
	}, table.Rows)

	_, err = DecodeArrow([]byte("not arrow"))
	require.Error(t, err)
}

func TestTableOf(t *testing.T) {
	cases := []struct {
		name  string
		frame []byte
		err   error
		rows  int
	}{
		{name: "table", frame: tableFrame(t, trader{address: "0xaaa", score: 50, markets: 1}), rows: 1},
		{name: "markdown", frame: codectest.Markdown("Page 1 of 2"), err: ErrNoTable},
		{name: "empty data", frame: codectest.Element("arrowDataFrame", map[string]any{}), err: ErrNoTable},
		{name: "finished", frame: codectest.Finished(), err: ErrNoTable},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			tree, err := codectest.Codec{}.Decode(c.frame, "ForwardMsg")
			require.NoError(t, err)
			table, err := TableOf(tree)
			if c.err != nil {
				require.ErrorIs(t, err, c.err)
				return
			}
			require.NoError(t, err)
			require.Len(t, table.Rows, c.rows)
		})
	}
}

func TestPageCount(t *testing.T) {
	cases := []struct {
		body  string
		count int
		ok    bool
	}{
		{body: "Page 1 of 37", count: 37, ok: true},
		{body: "**Page  4  of  9** traders", count: 9, ok: true},
		{body: "Page 1 of 0", ok: false},
		{body: "37 traders", ok: false},
	}
	for _, c := range cases {
		t.Run(c.body, func(t *testing.T) {
			tree, err := codectest.Codec{}.Decode(codectest.Markdown(c.body), "ForwardMsg")
			require.NoError(t, err)
			count, ok := PageCount(tree)
			require.Equal(t, c.ok, ok)
			require.Equal(t, c.count, count)
		})
	}
}

func TestQueryTree(t *testing.T) {
	query := DefaultQuery()
	tree := query.Tree(codec.DefaultRequestOptions(), 4)

	script := tree["rerunScript"].(map[string]any)
	require.Equal(t, query.ScriptHash, script["pageScriptHash"])
	require.Equal(t, "", script["pageName"])
	require.Equal(t, []any{"3a41fe9df8c1ade2604e52d289d709d6"}, script["cachedMessageHashes"])
	require.True(t, strings.HasSuffix(script["contextInfo"].(map[string]any)["url"].(string), "/Trader_explorer"))

	widgets := script["widgetStates"].(map[string]any)["widgets"].([]any)
	require.Len(t, widgets, len(query.Filters)+1)
	require.Equal(t, map[string]any{"id": query.PageWidget, "intValue": int64(4)}, widgets[len(widgets)-1])

	// building a page must not grow the shared filters
	query.Tree(codec.DefaultRequestOptions(), 5)
	require.Len(t, query.Filters, len(DefaultQuery().Filters))
}

type fetchEnv struct {
	opener  *channeltest.Opener
	clock   *chrono.FakeImpl
	tel     *telemetry.Recorder
	fetcher Fetcher
	pages   map[int]Table
}

func newFetchEnv(frames ...[]byte) *fetchEnv {
	env := &fetchEnv{
		opener: channeltest.NewOpener(),
		clock:  chrono.NewFakeImpl(time.Date(2025, 10, 21, 12, 0, 0, 0, time.UTC)),
		tel:    telemetry.NewRecorder(),
		pages:  map[int]Table{},
	}
	env.opener.Conns[streamIdentifier] = channeltest.NewConn(frames...)
	env.fetcher = Fetcher{
		Opener:  env.opener,
		Codec:   codectest.Codec{},
		Schemas: acquire.Schemas{Request: "BackMsg", Response: "ForwardMsg"},
		Request: codec.DefaultRequestOptions(),
		Query:   DefaultQuery(),
		Clock:   env.clock,
		Tel:     env.tel,
	}
	return env
}

func (e *fetchEnv) sink(page int, table Table) error {
	e.pages[page] = table
	return nil
}

func (e *fetchEnv) conn() *channeltest.Conn {
	return e.opener.Conns[streamIdentifier]
}

func sentPage(t *testing.T, data []byte) float64 {
	tree := map[string]any{}
	require.NoError(t, jsonutil.Unmarshal(data, &tree))
	widgets := tree["rerunScript"].(map[string]any)["widgetStates"].(map[string]any)["widgets"].([]any)
	return widgets[len(widgets)-1].(map[string]any)["intValue"].(float64)
}

func TestFetchAllPages(t *testing.T) {
	env := newFetchEnv(
		codectest.Markdown("Page 1 of 3"),
		tableFrame(t, trader{address: "0x01", score: 90, markets: 4}, trader{address: "0x02", score: 80, markets: 2}),
		codectest.Finished(),
		tableFrame(t, trader{address: "0x03", score: 70, markets: 9}),
		codectest.Finished(),
		codectest.Markdown("no traders"),
		codectest.Finished(),
	)

	report, err := env.fetcher.Fetch(context.Background(), session.Credentials{}, DefaultOptions(), env.sink)
	require.NoError(t, err)
	require.Equal(t, Report{Pages: 3, Fetched: []int{1, 2}, Missing: []int{3}, Rows: 3}, report)
	require.Equal(t, []string{streamIdentifier}, env.opener.Opened())
	require.Equal(t, 1, env.conn().Closed())
	require.True(t, env.tel.Has(telemetry.LevelWarning, report_page_missed))

	sent := env.conn().Sent()
	require.Len(t, sent, 3)
	for i, data := range sent {
		require.Equal(t, float64(i+1), sentPage(t, data))
	}

	require.Equal(t, "0x03", env.pages[2].Rows[0][0])
	opts := DefaultOptions()
	require.Equal(t, []time.Duration{
		opts.SettleDelay,
		opts.PageDelay, opts.SettleDelay,
		opts.PageDelay, opts.SettleDelay,
	}, env.clock.Slept())
}

func TestFetchMaxPages(t *testing.T) {
	env := newFetchEnv(
		codectest.Markdown("Page 1 of 50"),
		tableFrame(t, trader{address: "0x01", score: 90, markets: 4}),
		codectest.Finished(),
		tableFrame(t, trader{address: "0x02", score: 80, markets: 2}),
		codectest.Finished(),
	)
	opts := DefaultOptions()
	opts.MaxPages = 2

	report, err := env.fetcher.Fetch(context.Background(), session.Credentials{}, opts, env.sink)
	require.NoError(t, err)
	require.Equal(t, 50, report.Pages)
	require.Equal(t, []int{1, 2}, report.Fetched)
	require.Len(t, env.conn().Sent(), 2)
}

func TestFetchFailures(t *testing.T) {
	errSink := errors.New("disk full")
	cases := []struct {
		name   string
		frames [][]byte
		setup  func(env *fetchEnv)
		sink   func(env *fetchEnv) Sink
		err    error
		report string
	}{
		{
			name:   "no page count",
			frames: [][]byte{tableFrame(t, trader{address: "0x01", markets: 1}), codectest.Finished()},
			err:    ErrNoPageCount,
			report: report_page_count,
		},
		{
			name: "open fails",
			setup: func(env *fetchEnv) {
				env.opener.Fail[streamIdentifier] = channel.ErrConnection
			},
			err:    channel.ErrConnection,
			report: report_page_open,
		},
		{
			name:   "send fails",
			setup:  func(env *fetchEnv) { env.conn().SendErr = channel.ErrClosed },
			err:    channel.ErrClosed,
			report: report_page_send,
		},
		{
			name:   "sink fails",
			frames: [][]byte{codectest.Markdown("Page 1 of 2"), tableFrame(t, trader{address: "0x01", markets: 1}), codectest.Finished()},
			sink: func(env *fetchEnv) Sink {
				return func(int, Table) error { return errSink }
			},
			err:    errSink,
			report: report_page_sink,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			env := newFetchEnv(c.frames...)
			if c.setup != nil {
				c.setup(env)
			}
			sink := env.sink
			if c.sink != nil {
				sink = c.sink(env)
			}
			_, err := env.fetcher.Fetch(context.Background(), session.Credentials{}, DefaultOptions(), sink)
			require.ErrorIs(t, err, c.err)
			require.True(t, env.tel.Has(telemetry.LevelBroken, c.report))
		})
	}
}

func TestCombinePages(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WritePage(dir, 10, Table{
		Columns: []string{"user_address", "score", "num_markets"},
		Rows:    [][]string{{"0x10", "12.5", "1"}},
	}))
	require.NoError(t, WritePage(dir, 2, Table{
		Columns: []string{"user_address", "score", "num_markets", "win_rate"},
		Rows:    [][]string{{"0x02", "88", "7", "0.6"}},
	}))
	require.NoError(t, WritePage(dir, 1, Table{
		Columns: []string{"user_address", "score", "num_markets"},
		Rows:    [][]string{{"0x01", "99", "3"}, {"0x01b", "", "2"}},
	}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "page_notes.csv"), []byte("x\n"), 0644))

	paths, err := PageFiles(dir)
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, "page_1.csv"),
		filepath.Join(dir, "page_2.csv"),
		filepath.Join(dir, "page_10.csv"),
	}, paths)

	out := filepath.Join(t.TempDir(), "traders.csv")
	written, err := Combine(dir, out)
	require.NoError(t, err)
	require.Equal(t, 4, written)

	rows, err := tabular.ReadCSV(out)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	require.Equal(t, "0x01", rows[0].Identifier)
	require.Equal(t, "0x02", rows[2].Identifier)
	require.Equal(t, "0x10", rows[3].Identifier)
	require.Equal(t, int64(7), rows[2].Fields["num_markets"])
	require.Equal(t, 0.6, rows[2].Fields["win_rate"])
	require.Nil(t, rows[3].Fields["win_rate"])
}

func TestCombineErrors(t *testing.T) {
	_, err := Combine(t.TempDir(), filepath.Join(t.TempDir(), "out.csv"))
	require.ErrorIs(t, err, ErrNoPages)

	dir := t.TempDir()
	require.NoError(t, WritePage(dir, 1, Table{Columns: []string{"score"}, Rows: [][]string{{"1"}}}))
	_, err = Combine(dir, filepath.Join(t.TempDir(), "out.csv"))
	require.ErrorIs(t, err, tabular.ErrMissingIdentifierColumn)
}
