package dilog

import (
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtjones/dilog/internal/diverr"
	"github.com/rtjones/dilog/internal/registry"
)

// chdirTemp runs the test against a scratch directory, since a channel's
// trace file path is derived from its name relative to the current
// working directory (spec §6).
func chdirTemp(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	orig, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(orig) })
}

// resetRegistry gives a test its own empty channel registry, standing in
// for the fresh process a real replay run would happen in: the process
// that recorded a trace and the process that replays it never share one
// in-memory registry.
func resetRegistry(t *testing.T) {
	t.Helper()
	old := channels
	channels = registry.New[*Channel]()
	t.Cleanup(func() { channels = old })
}

func TestGetCreatesRecordModeChannelOnFirstUse(t *testing.T) {
	chdirTemp(t)
	resetRegistry(t)

	c, err := Get("checkout")
	require.NoError(t, err)
	assert.Equal(t, "record", c.Mode().String())
	assert.Equal(t, "checkout", c.Name())
	assert.NotEmpty(t, c.ID().String())
	require.NoError(t, c.Close())
}

func TestGetReturnsSameChannelForRepeatedName(t *testing.T) {
	chdirTemp(t)
	resetRegistry(t)

	a, err := Get("checkout")
	require.NoError(t, err)
	b, err := Get("checkout")
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestRecordThenReplayToleratesLoopIterationReordering(t *testing.T) {
	chdirTemp(t)
	resetRegistry(t)

	rec, err := Get("checkout")
	require.NoError(t, err)
	require.Equal(t, "record", rec.Mode().String())

	for _, text := range []string{"A", "B", "C"} {
		require.NoError(t, rec.OpenBlock("loop"))
		require.NoError(t, rec.Emit(text))
		require.NoError(t, rec.CloseBlock())
		require.NoError(t, rec.Err())
	}
	require.NoError(t, rec.Close())

	resetRegistry(t)

	rep, err := Get("checkout")
	require.NoError(t, err)
	require.Equal(t, "replay", rep.Mode().String())

	for _, text := range []string{"C", "A", "B"} {
		require.NoError(t, rep.OpenBlock("loop"))
		require.NoError(t, rep.Emit(text))
		require.NoError(t, rep.CloseBlock())
		require.NoError(t, rep.Err(), "iteration %q should not diverge", text)
	}
	require.NoError(t, rep.Close())
}

func TestReplayReportsFirstDivergingMessage(t *testing.T) {
	chdirTemp(t)
	resetRegistry(t)

	rec, err := Get("checkout")
	require.NoError(t, err)
	require.NoError(t, rec.OpenBlock("loop"))
	require.NoError(t, rec.Emit("expected"))
	require.NoError(t, rec.CloseBlock())
	require.NoError(t, rec.Close())

	resetRegistry(t)

	rep, err := Get("checkout")
	require.NoError(t, err)
	require.NoError(t, rep.OpenBlock("loop"))

	err = rep.Emit("unexpected")
	require.Error(t, err)

	var derr *diverr.Error
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, diverr.ExpectedMessage, derr.Code)
	assert.Equal(t, "checkout", derr.Channel)
	assert.Equal(t, rep.ID().String(), derr.ChanID)
}

func TestWithBlockClosesOnFnError(t *testing.T) {
	chdirTemp(t)
	resetRegistry(t)

	c, err := Get("checkout")
	require.NoError(t, err)

	boom := errors.New("boom")
	err = WithBlock(c, "loop", func() error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, c.stack.Depth(), "the block must still be closed despite fn's error")
}

func TestWithBlockSurfacesLatchedCloseDivergence(t *testing.T) {
	chdirTemp(t)
	resetRegistry(t)

	rec, err := Get("checkout")
	require.NoError(t, err)
	require.NoError(t, rec.OpenBlock("loop"))
	require.NoError(t, rec.Emit("only message"))
	require.NoError(t, rec.CloseBlock())
	require.NoError(t, rec.Close())

	resetRegistry(t)

	rep, err := Get("checkout")
	require.NoError(t, err)

	// The live run closes the block without ever emitting the message the
	// trace recorded, so CloseBlock's own match fails; the failure is
	// latched rather than returned from CloseBlock itself, and surfaces
	// here from WithBlock even though fn returned nil.
	err = WithBlock(rep, "loop", func() error { return nil })
	require.Error(t, err)

	var derr *diverr.Error
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, diverr.UnexpectedEndOfTrace, derr.Code)
}

func TestLatchedCloseErrorSurfacesOnNextEmitOrOpenBlock(t *testing.T) {
	chdirTemp(t)
	resetRegistry(t)

	rec, err := Get("checkout")
	require.NoError(t, err)
	require.NoError(t, rec.OpenBlock("loop"))
	require.NoError(t, rec.Emit("only message"))
	require.NoError(t, rec.CloseBlock())
	require.NoError(t, rec.Close())

	resetRegistry(t)

	rep, err := Get("checkout")
	require.NoError(t, err)

	// Close the block without reproducing the recorded message: the
	// divergence is latched, not returned, from CloseBlock itself.
	require.NoError(t, rep.OpenBlock("loop"))
	require.NoError(t, rep.CloseBlock())

	// The very next public operation must raise the latched error
	// (spec §7/§8), even though it is itself syntactically unrelated.
	err = rep.Emit("unrelated")
	require.Error(t, err)
	var derr *diverr.Error
	require.True(t, errors.As(err, &derr))

	// And it stays sticky until explicitly drained via Err/WithBlock.
	err = rep.OpenBlock("another")
	require.Error(t, err)
	require.True(t, errors.As(err, &derr))
}

func TestCloseBlockWithNoOpenBlockErrors(t *testing.T) {
	chdirTemp(t)
	resetRegistry(t)

	c, err := Get("checkout")
	require.NoError(t, err)
	require.Error(t, c.CloseBlock())
}

func TestCrossThreadAccessIsDetectedByDefault(t *testing.T) {
	chdirTemp(t)
	resetRegistry(t)

	c, err := Get("checkout")
	require.NoError(t, err)

	var otherErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		otherErr = c.Emit("from another goroutine")
	}()
	wg.Wait()

	require.Error(t, otherErr)
	assert.True(t, diverr.IsCode(otherErr, diverr.CrossThreadAccess))
}

func TestThreadSafeOptionDisablesAffinityCheck(t *testing.T) {
	chdirTemp(t)
	resetRegistry(t)

	c, err := Get("checkout", ThreadSafe(false))
	require.NoError(t, err)

	var otherErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		otherErr = c.Emit("from another goroutine")
	}()
	wg.Wait()

	assert.NoError(t, otherErr)
}

func TestPrintfFormatsBeforeEmitting(t *testing.T) {
	chdirTemp(t)
	resetRegistry(t)

	c, err := Get("checkout")
	require.NoError(t, err)
	require.NoError(t, c.Printf("value = %d", 42))
	require.NoError(t, c.Close())
}
