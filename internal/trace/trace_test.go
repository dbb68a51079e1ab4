package trace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rtjones/dilog/internal/codec"
)

func TestWriteThenReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.dilog")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := NewWriter(f)

	lines := []codec.Line{
		{Kind: codec.Open, Prefix: "run/loop"},
		{Kind: codec.Message, Prefix: "run/loop", Text: "iteration 1"},
		{Kind: codec.Close, Prefix: "run/loop"},
	}
	for _, l := range lines {
		require.NoError(t, w.WriteLine(l))
	}
	require.NoError(t, w.Close())

	rf, err := os.Open(path)
	require.NoError(t, err)
	c := NewCursor(rf)
	defer c.Close()

	for _, want := range lines {
		got, err := c.ReadLine()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err = c.ReadLine()
	require.ErrorIs(t, err, ErrEndOfTrace)
}

func TestCursorSeekReturnsToARecordedPosition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.dilog")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := NewWriter(f)
	require.NoError(t, w.WriteLine(codec.Line{Kind: codec.Open, Prefix: "run/loop"}))
	require.NoError(t, w.WriteLine(codec.Line{Kind: codec.Message, Prefix: "run/loop", Text: "a"}))
	require.NoError(t, w.Close())

	rf, err := os.Open(path)
	require.NoError(t, err)
	c := NewCursor(rf)
	defer c.Close()

	before, beforeLine := c.Tell(), c.Line()
	first, err := c.ReadLine()
	require.NoError(t, err)
	require.Equal(t, codec.Open, first.Kind)

	_, err = c.ReadLine()
	require.NoError(t, err)

	require.NoError(t, c.Seek(before, beforeLine))
	again, err := c.ReadLine()
	require.NoError(t, err)
	require.Equal(t, first, again)
}

func TestOpenSelectsRecordThenReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.dilog")

	mode, cursor, writer, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, Record, mode)
	require.Nil(t, cursor)
	require.NotNil(t, writer)
	require.NoError(t, writer.WriteLine(codec.Line{Kind: codec.Message, Prefix: "run", Text: "hi"}))
	require.NoError(t, writer.Close())

	mode, cursor, writer, err = Open(path)
	require.NoError(t, err)
	require.Equal(t, Replay, mode)
	require.Nil(t, writer)
	require.NotNil(t, cursor)
	line, err := cursor.ReadLine()
	require.NoError(t, err)
	require.Equal(t, "hi", line.Text)
}

func TestPathAppendsExtension(t *testing.T) {
	require.Equal(t, "myrun.dilog", Path("myrun"))
}

func TestOpenPropagatesCreateErrorForUnwritablePath(t *testing.T) {
	// A path inside a nonexistent directory can neither be opened nor
	// created.
	_, _, _, err := Open(filepath.Join(t.TempDir(), "missing-dir", "run.dilog"))
	require.Error(t, err)
}
