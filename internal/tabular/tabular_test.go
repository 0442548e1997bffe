package tabular

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hashdive-scraper/internal/record"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	input := "\xEF\xBB\xBFuser_address,win_rate,effective_count,num_markets,score,sum_pnl,label\n" +
		"0xaaa,0.5,10.25,12,71.3,-1200.5,whale\n" +
		",0.1,1,1,1,1,skip\n" +
		"0xbbb,,NaN,3.0,,,\n"

	rows, err := Parse(strings.NewReader(input))
	require.NoError(t, err)

	diff := cmp.Diff([]record.Row{
		{
			Identifier: "0xaaa",
			Fields: map[string]any{
				"win_rate":        0.5,
				"effective_count": 10.25,
				"num_markets":     int64(12),
				"score":           71.3,
				"sum_pnl":         -1200.5,
				"label":           "whale",
			},
		},
		{
			Identifier: "0xbbb",
			Fields: map[string]any{
				"win_rate":        nil,
				"effective_count": nil,
				"num_markets":     int64(3),
				"score":           nil,
				"sum_pnl":         nil,
				"label":           nil,
			},
		},
	}, rows)
	if diff != "" {
		t.Fatal(diff)
	}
}

func TestParseMissingIdentifier(t *testing.T) {
	_, err := Parse(strings.NewReader("address,win_rate\n0x1,0.2\n"))
	require.ErrorIs(t, err, ErrMissingIdentifierColumn)

	_, err = Parse(strings.NewReader(""))
	require.ErrorIs(t, err, ErrMissingIdentifierColumn)
}

func TestReadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traders.csv")
	require.NoError(t, os.WriteFile(path, []byte("user_address\n0x1\n0x2\n"), 0644))

	rows, err := ReadCSV(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "0x2", rows[1].Identifier)

	_, err = ReadCSV(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
}

func TestSlice(t *testing.T) {
	items := []string{"a", "b", "c"}
	cases := []struct {
		name     string
		offset   int
		limit    int
		expected []string
	}{
		{name: "everything", offset: 0, limit: 0, expected: []string{"a", "b", "c"}},
		{name: "offset and limit", offset: 1, limit: 1, expected: []string{"b"}},
		{name: "limit larger than rest", offset: 1, limit: 10, expected: []string{"b", "c"}},
		{name: "offset past end", offset: 5, limit: 1, expected: []string{}},
		{name: "negative offset", offset: -2, limit: 2, expected: []string{"a", "b"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.expected, Slice(items, c.offset, c.limit))
		})
	}
}
