// Package matcher implements the reorder matcher of spec §4.5: the state
// machine that matches live actions against the trace, consults and
// updates the per-prefix unmatched-iteration index, and on mismatch
// searches sibling iterations by seek-and-retry, replaying the action
// record against each candidate.
//
// A Matcher owns the replay-mode state of exactly one channel: its
// cursor, its block stack, its action record, and its unmatched-iteration
// index. It is not safe for concurrent use, matching the single-context
// contract the rest of this module enforces via internal/affinity.
package matcher

import (
	"fmt"

	"github.com/rtjones/dilog/internal/codec"
	"github.com/rtjones/dilog/internal/diverr"
	"github.com/rtjones/dilog/internal/frame"
	"github.com/rtjones/dilog/internal/index"
	"github.com/rtjones/dilog/internal/record"
	"github.com/rtjones/dilog/internal/trace"
)

// Matcher drives replay-mode matching for one channel.
type Matcher struct {
	cur       *trace.Cursor
	stack     *frame.Stack
	rec       *record.Record
	unmatched *index.Unmatched
	channel   string

	// rollback holds real (non-synthetic) frames set aside while
	// ascending past them in search of a viable sibling iteration for
	// an ancestor, per spec §4.5 step 4 / §9. They are restored by
	// replayFrom when their own Open action is replayed again.
	rollback []frame.Frame

	// wantCode/wantDesc describe the top-level expectation currently
	// being pursued, set once per public entry point and consulted only
	// if the search bottoms out at the root frame (spec §4.5 step 7).
	wantCode diverr.Code
	wantDesc string
}

// New creates a Matcher over the given replay-mode state.
func New(cur *trace.Cursor, stack *frame.Stack, rec *record.Record, unmatched *index.Unmatched, channel string) *Matcher {
	return &Matcher{cur: cur, stack: stack, rec: rec, unmatched: unmatched, channel: channel}
}

// Message consumes the next line expected to be a message with the given
// text at the current top-of-stack prefix. On mismatch it invokes the
// reorder algorithm, which repositions the frame(s) onto the next
// candidate iteration, and then retries the read/compare; a retry that
// mismatches again invokes the algorithm again, until a line matches or
// the search ends in a terminal error.
func (m *Matcher) Message(text string) error {
	m.wantCode = diverr.ExpectedMessage
	m.wantDesc = fmt.Sprintf("message %q", text)

	top := m.stack.Top()
	line, err := m.expectOwn(top.Prefix)
	if err != nil {
		return m.terminalEOF()
	}
	if line.Kind == codec.Message && line.Text == text {
		if m.stack.Depth() > 1 {
			m.rec.Append(record.Msg(text))
		}
		return nil
	}
	if err := m.reconcile(line); err != nil {
		return err
	}
	return m.Message(text)
}

// CloseTop consumes the next line expected to be the close marker for
// the current top-of-stack prefix, and pops the frame on success.
func (m *Matcher) CloseTop() error {
	m.wantCode = diverr.ExpectedBlockClose
	m.wantDesc = "end of block"

	top := m.stack.Top()
	line, err := m.expectOwn(top.Prefix)
	if err != nil {
		return m.terminalEOF()
	}
	if line.Kind == codec.Close {
		popped := m.stack.Pop()
		m.unmatched.Resolve(popped.Prefix, popped.BaseOffset)
		if m.stack.Depth() > 1 {
			m.rec.Append(record.Close(popped.Prefix))
		} else {
			m.rec.Clear()
		}
		return nil
	}
	if err := m.reconcile(line); err != nil {
		return err
	}
	return m.CloseTop()
}

// Open consumes lines until the open marker for a new child block named
// name (of the current top-of-stack frame) is found, and pushes the new
// frame.
//
// A sibling iteration of want may already sit in the unmatched index,
// left there by an earlier mismatch that skipped past it (spec §4.5 step
// 1). Since want's enclosing frame may never produce a boundary Close of
// its own (a block whose parent is the channel root has none; the root
// is never closed mid-trace), a plain forward scan could never revisit
// that iteration once the cursor has passed it. The index is therefore
// consulted first, exactly as reconcile's step 3 does for an already-open
// frame.
func (m *Matcher) Open(name string) error {
	parent := *m.stack.Top()
	want := parent.ChildPrefix(name)
	m.wantCode = diverr.ExpectedBlockOpen
	m.wantDesc = fmt.Sprintf("open of block %q", want)

	if off, ln, ok := m.unmatched.SmallestGreater(want, -1); ok {
		if err := m.cur.Seek(off, ln); err != nil {
			return fmt.Errorf("open: %w", err)
		}
		line, err := m.cur.ReadLine()
		if err != nil {
			return m.terminalEOF()
		}
		if line.Kind != codec.Open || line.Prefix != want {
			return m.terminalMismatch(&line)
		}
		m.pushChild(name, want, off, ln)
		return nil
	}

	before, beforeLine, hitBoundary, boundaryLine, err := m.consumeOpen(want, parent.Prefix)
	if err != nil {
		return m.terminalEOF()
	}
	if hitBoundary {
		if err := m.reconcile(boundaryLine); err != nil {
			return err
		}
		return m.Open(name)
	}

	m.pushChild(name, want, before, beforeLine)
	return nil
}

// pushChild pushes the new frame for a successfully located block open at
// prefix, starting at offset/line, and appends the corresponding action
// record entry unless the stack was at the root (spec §4.4). OpenIndex
// records where that entry landed (for later rollback restoration);
// ReplayIndex points past it, to where this frame's own content will
// start being recorded.
func (m *Matcher) pushChild(name, prefix string, offset int64, line int) {
	openIndex := m.rec.Len()
	if m.stack.Depth() != 1 {
		m.rec.Append(record.Open(prefix))
	}
	m.stack.Push(frame.Frame{
		Name:        name,
		Prefix:      prefix,
		BaseOffset:  offset,
		BaseLine:    line,
		OpenIndex:   openIndex,
		ReplayIndex: m.rec.Len(),
	})
}

// expectOwn scans forward for the next line belonging exactly to prefix,
// ignoring lines with any other prefix (spec §4.1: irrelevant lines are
// skipped). A block's own message or close marker is always reachable
// this way in a well-formed trace, since nested content always carries a
// strictly longer prefix.
func (m *Matcher) expectOwn(prefix string) (codec.Line, error) {
	for {
		line, err := m.cur.ReadLine()
		if err != nil {
			return codec.Line{}, err
		}
		if line.Prefix == prefix {
			return line, nil
		}
	}
}

// consumeOpen scans forward for the open marker of prefix want. If the
// close marker of boundary (the enclosing frame) is found first, the
// enclosing iteration has ended without ever containing want; the caller
// must ascend (spec §4.3, §4.5 step 4).
func (m *Matcher) consumeOpen(want, boundary string) (before int64, beforeLine int, hitBoundary bool, boundaryLine codec.Line, err error) {
	for {
		before, beforeLine = m.cur.Tell(), m.cur.Line()
		var line codec.Line
		line, err = m.cur.ReadLine()
		if err != nil {
			return
		}
		if line.Prefix == want {
			return before, beforeLine, false, codec.Line{}, nil
		}
		if line.Prefix == boundary && line.Kind == codec.Close {
			return before, beforeLine, true, line, nil
		}
	}
}

// skipToClose consumes and discards lines belonging to prefix until its
// close marker is found, abandoning the remainder of an iteration that
// has already been determined not to match (spec §4.5 step 2).
func (m *Matcher) skipToClose(prefix string) error {
	for {
		line, err := m.expectOwn(prefix)
		if err != nil {
			return err
		}
		if line.Kind == codec.Close {
			return nil
		}
	}
}

// reconcile implements spec §4.5 steps 1-7 for the frame currently on top
// of the stack, whose expected next line turned out to be offending. It
// either returns nil once the stack has been repositioned so the
// caller's original expectation will now be satisfied, or returns a
// terminal *diverr.Error.
func (m *Matcher) reconcile(offending codec.Line) error {
	if m.stack.Depth() == 1 {
		return m.terminalMismatch(&offending)
	}

	top := *m.stack.Top()
	prefix := top.Prefix

	// Step 1: this iteration is now known-unmatched.
	m.unmatched.Record(prefix, top.BaseOffset, top.BaseLine)

	// Step 2: fully skip the remainder of the abandoned iteration.
	if !(offending.Kind == codec.Close && offending.Prefix == prefix) {
		if err := m.skipToClose(prefix); err != nil {
			return m.terminalEOF()
		}
	}

	// Step 3: find the next candidate iteration.
	if off, ln, ok := m.unmatched.SmallestGreater(prefix, top.BaseOffset); ok {
		if err := m.cur.Seek(off, ln); err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}
		line, err := m.cur.ReadLine()
		if err != nil {
			return m.terminalEOF()
		}
		if line.Kind != codec.Open || line.Prefix != prefix {
			return m.terminalMismatch(&line)
		}
		m.stack.Top().BaseOffset, m.stack.Top().BaseLine = off, ln
		return m.replayFrom(top.ReplayIndex)
	}

	parent := m.stack.At(m.stack.Depth() - 1)
	before, beforeLine, hitBoundary, boundaryLine, err := m.consumeOpen(prefix, parent.Prefix)
	if err != nil {
		return m.terminalEOF()
	}
	if hitBoundary {
		popped := m.stack.Pop()
		if !popped.Synthetic {
			m.rollback = append(m.rollback, popped)
		}
		return m.reconcile(boundaryLine)
	}
	m.stack.Top().BaseOffset, m.stack.Top().BaseLine = before, beforeLine
	return m.replayFrom(top.ReplayIndex)
}

// replayFrom re-executes the action record from idx onward against
// whatever content the cursor is now positioned at, per spec §4.5 step 5.
// A mismatch encountered during replay recurses back into reconcile
// (step 5's closing note); success means the whole ascent has found a
// consistent permutation (step 6).
func (m *Matcher) replayFrom(idx int) error {
	actions := m.rec.From(idx)
	for i, a := range actions {
		absIdx := idx + i
		switch a.Kind {
		case record.MsgKind:
			top := m.stack.Top()
			line, err := m.expectOwn(top.Prefix)
			if err != nil {
				return m.terminalEOF()
			}
			if line.Kind != codec.Message || line.Text != a.Text {
				return m.reconcile(line)
			}

		case record.OpenKind:
			parent := *m.stack.Top()
			child, foundIdx := m.takeRollback(a.Prefix, absIdx)
			before, beforeLine, hitBoundary, boundaryLine, err := m.consumeOpen(a.Prefix, parent.Prefix)
			if err != nil {
				return m.terminalEOF()
			}
			if hitBoundary {
				if foundIdx {
					m.rollback = append(m.rollback, child)
				}
				return m.reconcile(boundaryLine)
			}
			child.BaseOffset, child.BaseLine = before, beforeLine
			m.stack.Push(child)

		case record.CloseKind:
			top := m.stack.Top()
			line, err := m.expectOwn(top.Prefix)
			if err != nil {
				return m.terminalEOF()
			}
			if line.Kind != codec.Close {
				return m.reconcile(line)
			}
			popped := m.stack.Pop()
			m.unmatched.Resolve(popped.Prefix, popped.BaseOffset)
		}
	}
	return nil
}

// takeRollback removes and returns a previously set-aside real frame
// matching prefix and the action record index at which it was originally
// opened, if one exists (spec §4.5 step 5 / §9). openIndex is the
// position, in the replaying frame's own record, of the Open action
// currently being replayed — the same value that frame carried as its
// OpenIndex when it was first pushed.
func (m *Matcher) takeRollback(prefix string, openIndex int) (frame.Frame, bool) {
	for i, f := range m.rollback {
		if f.Prefix == prefix && f.OpenIndex == openIndex {
			m.rollback = append(m.rollback[:i], m.rollback[i+1:]...)
			return f, true
		}
	}
	return frame.Frame{Prefix: prefix, OpenIndex: openIndex, ReplayIndex: openIndex + 1, Synthetic: true}, false
}

// terminalEOF builds the terminal error for a trace file exhausted while
// a match was still being sought (spec §7: UnexpectedEndOfTrace).
func (m *Matcher) terminalEOF() error {
	return &diverr.Error{
		Code:     diverr.UnexpectedEndOfTrace,
		Channel:  m.channel,
		Line:     m.cur.Line(),
		Expected: m.wantDesc,
		Actual:   "end of file",
		Dump:     m.buildDump(),
	}
}

// terminalMismatch builds the terminal error for spec §4.5 step 7: the
// ascent reached the root frame without finding any viable iteration.
func (m *Matcher) terminalMismatch(offending *codec.Line) error {
	actual := "nothing"
	line := m.cur.Line()
	if offending != nil {
		actual = describe(*offending)
	}
	return &diverr.Error{
		Code:     m.wantCode,
		Channel:  m.channel,
		Line:     line,
		Expected: m.wantDesc,
		Actual:   actual,
		Dump:     m.buildDump(),
	}
}

func describe(l codec.Line) string {
	switch l.Kind {
	case codec.Open:
		return fmt.Sprintf("open of block %q", l.Prefix)
	case codec.Close:
		return fmt.Sprintf("close of block %q", l.Prefix)
	default:
		return fmt.Sprintf("message %q at %q", l.Text, l.Prefix)
	}
}

// buildDump assembles the structured divergence context of spec §4.6:
// the full action record with indentation reflecting nesting, and the
// unmatched-iteration line numbers for every prefix touched by the
// search.
func (m *Matcher) buildDump() *diverr.Dump {
	d := &diverr.Dump{}
	depth := 0
	for _, a := range m.rec.From(0) {
		if a.Kind == record.CloseKind {
			if depth > 0 {
				depth--
			}
		}
		entry := diverr.DumpAction{Depth: depth, Kind: a.Kind.String(), Text: a.Text, Prefix: a.Prefix}
		d.Actions = append(d.Actions, entry)
		if a.Kind == record.OpenKind {
			depth++
		}
	}
	for _, prefix := range m.unmatched.Prefixes() {
		d.Unmatched = append(d.Unmatched, diverr.PrefixLines{Prefix: prefix, Lines: m.unmatched.Lines(prefix)})
	}
	return d
}
