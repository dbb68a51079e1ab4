package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSmallestGreaterPrefersEarliestBeyondBase(t *testing.T) {
	u := New()
	u.Record("run/loop", 10, 1)
	u.Record("run/loop", 40, 3)
	u.Record("run/loop", 25, 2)

	off, line, ok := u.SmallestGreater("run/loop", 10)
	assert.True(t, ok)
	assert.Equal(t, int64(25), off)
	assert.Equal(t, 2, line)
}

func TestSmallestGreaterExcludesAtOrBelowBase(t *testing.T) {
	u := New()
	u.Record("run/loop", 10, 1)

	_, _, ok := u.SmallestGreater("run/loop", 10)
	assert.False(t, ok)
}

func TestResolveRemovesEntryAndCleansUpPrefix(t *testing.T) {
	u := New()
	u.Record("run/loop", 10, 1)
	u.Resolve("run/loop", 10)

	assert.Empty(t, u.Prefixes())
	_, _, ok := u.SmallestGreater("run/loop", 0)
	assert.False(t, ok)
}

func TestPrefixesAndLinesAreIndependentPerPrefix(t *testing.T) {
	u := New()
	u.Record("run/a", 1, 1)
	u.Record("run/b", 2, 1)

	assert.ElementsMatch(t, []string{"run/a", "run/b"}, u.Prefixes())
	assert.Equal(t, []int{1}, u.Lines("run/a"))
}
