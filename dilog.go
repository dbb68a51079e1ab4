// Package dilog is a diagnostic facility for locating the first point of
// divergence between two runs of an otherwise-deterministic application.
// The first run creates a channel and records every message and block it
// passes through to a trace file; a later run against the same channel
// name replays its own messages and blocks against that trace, and
// reports precisely where the two runs first disagree.
//
// A block groups repeated iterations of a loop or a recursive call under
// one name. Iterations of the same block name may occur in a different
// order between the two runs — concurrency, scheduling, and map
// iteration order are all common sources of harmless reordering — and
// the replay side tolerates that by searching sibling iterations for one
// that matches, while still requiring exact ordering of everything
// inside a single iteration. This is what distinguishes dilog from a
// plain diff of two log files.
//
// This is a diagnostic tool, meant to be reached for once a discrepancy
// between two runs has already been observed by other means, not a
// facility left running in steady-state production.
package dilog

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rtjones/dilog/internal/affinity"
	"github.com/rtjones/dilog/internal/codec"
	"github.com/rtjones/dilog/internal/diverr"
	"github.com/rtjones/dilog/internal/frame"
	"github.com/rtjones/dilog/internal/index"
	"github.com/rtjones/dilog/internal/matcher"
	"github.com/rtjones/dilog/internal/name"
	"github.com/rtjones/dilog/internal/record"
	"github.com/rtjones/dilog/internal/registry"
	"github.com/rtjones/dilog/internal/trace"
)

// Option configures a Channel at creation time. Options only take effect
// on the call that actually creates the channel; a Get for an
// already-registered name ignores options passed to it, since a
// channel's configuration is fixed for the process's lifetime once
// created (spec §6).
type Option func(*settings)

type settings struct {
	threadSafe bool
}

// ThreadSafe controls whether a channel enforces that every operation on
// it originates from the goroutine that created it. It defaults to true;
// pass ThreadSafe(false) for a channel a caller has already made safe to
// share across goroutines by its own synchronization.
func ThreadSafe(enabled bool) Option {
	return func(s *settings) { s.threadSafe = enabled }
}

var channels = registry.New[*Channel]()

// Channel is a named diagnostic stream, either recording to or replaying
// against one trace file. Channel is not safe for concurrent use; by
// default a call from a goroutine other than the creating one fails with
// CrossThreadAccess, and ThreadSafe(false) turns that check off without
// adding any locking. See internal/affinity.
type Channel struct {
	name  string
	id    uuid.UUID
	mode  trace.Mode
	guard affinity.Guard

	cursor *trace.Cursor
	writer *trace.Writer

	stack     *frame.Stack
	rec       *record.Record
	unmatched *index.Unmatched
	m         *matcher.Matcher

	// closeErr latches the first error a CloseBlock call encounters.
	// Spec §7: close_block errors are raised on the next public
	// operation rather than synchronously, since a scoped close is
	// often invoked from a deferred/RAII-style cleanup path where a
	// caller cannot usefully react to an error at the call site itself.
	closeErr error
}

// Get returns the channel registered under name, creating it — and
// opening or creating its trace file — on first use. Subsequent calls
// with the same name return the same *Channel regardless of the options
// passed.
func Get(rawName string, opts ...Option) (*Channel, error) {
	normalized, err := name.Normalize(rawName)
	if err != nil {
		return nil, err
	}
	cfg := settings{threadSafe: true}
	for _, o := range opts {
		o(&cfg)
	}
	return channels.GetOrCreate(normalized, func() (*Channel, error) {
		return newChannel(normalized, cfg)
	})
}

func newChannel(n string, cfg settings) (*Channel, error) {
	mode, cursor, writer, err := trace.Open(trace.Path(n))
	if err != nil {
		return nil, err
	}
	ch := &Channel{
		name:   n,
		id:     uuid.New(),
		mode:   mode,
		guard:  affinity.NewGuard(cfg.threadSafe),
		cursor: cursor,
		writer: writer,
		stack:  frame.NewStack(n),
	}
	if mode == trace.Replay {
		ch.rec = &record.Record{}
		ch.unmatched = index.New()
		ch.m = matcher.New(ch.cursor, ch.stack, ch.rec, ch.unmatched, n)
	}
	return ch, nil
}

// Name returns the channel's normalized name.
func (c *Channel) Name() string { return c.name }

// ID returns the channel's correlation UUID, generated once at creation
// and stable for the process's lifetime. It is stamped on the channel's
// divergence errors (diverr.Error.ChanID) so a report can be tied back to
// a specific channel instance across log lines.
func (c *Channel) ID() uuid.UUID { return c.id }

// Mode reports whether the channel is recording or replaying.
func (c *Channel) Mode() trace.Mode { return c.mode }

// checkSticky raises a previously latched CloseBlock divergence, per
// spec §7/§8: "once a close_block has latched an error, the next public
// operation raises exactly that error." The latch is not cleared here —
// Emit and OpenBlock report the same sticky error on every subsequent
// call, since a channel that has already diverged is a known-bad
// channel for the rest of its lifetime.
func (c *Channel) checkSticky() error {
	return c.closeErr
}

func (c *Channel) checkAffinity() error {
	if !c.guard.Check() {
		return c.withID(&diverr.Error{
			Code:     diverr.CrossThreadAccess,
			Channel:  c.name,
			Expected: "access from the owning goroutine",
			Actual:   "a different goroutine",
		})
	}
	return nil
}

// withID stamps a *diverr.Error with this channel's correlation ID, and
// passes any other error through unchanged.
func (c *Channel) withID(err error) error {
	if de, ok := err.(*diverr.Error); ok {
		de.ChanID = c.id.String()
	}
	return err
}

// Emit records or matches a single message at the current block. Errors
// are returned synchronously (spec §7).
func (c *Channel) Emit(text string) error {
	if err := c.checkSticky(); err != nil {
		return err
	}
	if err := c.checkAffinity(); err != nil {
		return err
	}
	if c.mode == trace.Record {
		return c.writer.WriteLine(codec.Line{Kind: codec.Message, Prefix: c.stack.Top().Prefix, Text: text})
	}
	return c.withID(c.m.Message(text))
}

// Printf is a convenience wrapper over Emit using fmt.Sprintf, mirroring
// the formatted-message helper the original tool's usage examples build
// by hand around a plain Emit.
func (c *Channel) Printf(format string, args ...interface{}) error {
	return c.Emit(fmt.Sprintf(format, args...))
}

// OpenBlock begins a new iteration of a block named name, nested under
// whatever block is currently open (or at the channel root). Errors are
// returned synchronously (spec §7).
func (c *Channel) OpenBlock(blockName string) error {
	if err := c.checkSticky(); err != nil {
		return err
	}
	if err := c.checkAffinity(); err != nil {
		return err
	}
	normalized, err := name.Normalize(blockName)
	if err != nil {
		return err
	}
	if c.mode == trace.Record {
		parent := *c.stack.Top()
		prefix := parent.ChildPrefix(normalized)
		if err := c.writer.WriteLine(codec.Line{Kind: codec.Open, Prefix: prefix}); err != nil {
			return err
		}
		c.stack.Push(frame.Frame{Name: normalized, Prefix: prefix})
		return nil
	}
	return c.withID(c.m.Open(normalized))
}

// CloseBlock ends the innermost open block. Unlike Emit and OpenBlock,
// any divergence CloseBlock discovers is latched rather than returned
// here: it surfaces from the next call to Emit or OpenBlock (spec §7).
// CloseBlock itself always returns nil unless called with no block open.
func (c *Channel) CloseBlock() error {
	if c.stack.Depth() == 1 {
		return fmt.Errorf("dilog: CloseBlock called on channel %q with no open block", c.name)
	}
	var err error
	if aerr := c.checkAffinity(); aerr != nil {
		err = aerr
	} else if c.mode == trace.Record {
		top := c.stack.Pop()
		err = c.writer.WriteLine(codec.Line{Kind: codec.Close, Prefix: top.Prefix})
	} else {
		err = c.withID(c.m.CloseTop())
	}
	if c.closeErr == nil {
		c.closeErr = err
	}
	return nil
}

// WithBlock opens a block, runs fn, and closes the block regardless of
// whether fn returns an error or panics — the scoped-closure replacement
// for the original's RAII block guard, since Go has no destructors to run
// the matching close automatically (spec §9). Any latched close error is
// folded into the returned error alongside fn's.
func WithBlock(c *Channel, blockName string, fn func() error) error {
	if err := c.OpenBlock(blockName); err != nil {
		return err
	}
	closed := false
	defer func() {
		if !closed {
			_ = c.CloseBlock()
		}
	}()
	fnErr := fn()
	closed = true
	_ = c.CloseBlock()
	closeErr := c.pendingCloseErr()
	if fnErr != nil && closeErr != nil {
		return errors.Join(fnErr, closeErr)
	}
	if fnErr != nil {
		return fnErr
	}
	return closeErr
}

// pendingCloseErr returns and clears any latched close error.
func (c *Channel) pendingCloseErr() error {
	err := c.closeErr
	c.closeErr = nil
	return err
}

// Err returns and clears any divergence error latched by a prior
// CloseBlock call. Callers that don't use WithBlock should check this
// periodically — at minimum after the outermost block of a run closes —
// since a latched error otherwise surfaces only as a side effect of the
// next operation.
func (c *Channel) Err() error {
	return c.pendingCloseErr()
}

// Close releases the channel's trace file handle. It does not remove the
// channel from the registry — a channel's identity is fixed for the
// process's lifetime once created (spec §6) — so a later Get for the
// same name returns this same, closed channel rather than reopening the
// file.
func (c *Channel) Close() error {
	if c.mode == trace.Record {
		return c.writer.Close()
	}
	return c.cursor.Close()
}
