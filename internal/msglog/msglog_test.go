package msglog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteAndCount(t *testing.T) {
	w := NewWriter(filepath.Join(t.TempDir(), "messages"))

	require.NoError(t, w.Write("0xabc", []map[string]any{
		{"a": 1},
		{"b": "two"},
		{"scriptFinished": "FINISHED_SUCCESSFULLY"},
	}))
	count, err := w.Count("0xabc")
	require.NoError(t, err)
	require.Equal(t, 3, count)
	require.True(t, w.Exists("0xabc"))

	contents, err := os.ReadFile(filepath.Join(w.Dir("0xabc"), "message_1.json"))
	require.NoError(t, err)
	require.JSONEq(t, `{"b":"two"}`, string(contents))

	// a refetch with fewer messages drops the old captures
	require.NoError(t, w.Write("0xabc", []map[string]any{{"a": 1}}))
	count, err = w.Count("0xabc")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	require.NoError(t, w.Remove("0xabc"))
	require.False(t, w.Exists("0xabc"))
	require.NoError(t, w.Remove("0xabc"))

	count, err = w.Count("0xmissing")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestRejectsPathIdentifiers(t *testing.T) {
	w := NewWriter(t.TempDir())
	for _, id := range []string{"", "..", "a/b", `a\b`} {
		require.Error(t, w.Write(id, nil), id)
		require.Error(t, w.Remove(id), id)
	}
}
