// Package diverr implements the error reporter of spec §4.6: the
// divergence error taxonomy of spec §7, structured so every error carries
// the channel name, the current line number, and the expected/actual
// content, with terminal matcher failures additionally carrying a
// structured dump of the unresolved context.
package diverr

import (
	"errors"
	"fmt"
	"strings"
)

// Code categorizes a divergence error, one entry per spec §7.
type Code string

const (
	// ExpectedMessage: a message was emitted but the next relevant trace
	// line, after all reordering attempts, does not equal it.
	ExpectedMessage Code = "EXPECTED_MESSAGE"
	// ExpectedBlockOpen: a block was opened but no matching open marker
	// is reachable.
	ExpectedBlockOpen Code = "EXPECTED_BLOCK_OPEN"
	// ExpectedBlockClose: a block was closed but the expected close
	// marker is not reachable.
	ExpectedBlockClose Code = "EXPECTED_BLOCK_CLOSE"
	// UnexpectedEndOfTrace: the trace file was exhausted while a match
	// was still being sought.
	UnexpectedEndOfTrace Code = "UNEXPECTED_END_OF_TRACE"
	// CrossThreadAccess: the channel was used from an unauthorized
	// execution context.
	CrossThreadAccess Code = "CROSS_THREAD_ACCESS"
	// MalformedTrace: a line does not conform to the trace grammar.
	MalformedTrace Code = "MALFORMED_TRACE"
)

// Error is a divergence error. It implements the standard error
// interface and is the only error type this module's public API raises
// for divergence conditions (spec §7).
type Error struct {
	Code     Code
	Channel  string
	ChanID   string // the owning channel's correlation ID, set by the caller after construction
	Line     int
	Expected string // human-readable description of what was expected, e.g. "end of block" or a quoted message
	Actual   string // what was actually found, e.g. "end of file" for UnexpectedEndOfTrace

	// Dump is populated only for terminal matcher failures (spec §4.5
	// step 7): the action record and unmatched-iteration context at the
	// point no reconciling permutation could be found.
	Dump *Dump
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: channel %q", e.Code, e.Channel)
	if e.ChanID != "" {
		fmt.Fprintf(&b, " (%s)", e.ChanID)
	}
	fmt.Fprintf(&b, ", line %d: expected %s", e.Line, e.Expected)
	if e.Actual != "" {
		fmt.Fprintf(&b, ", found %s", e.Actual)
	}
	if e.Dump != nil {
		b.WriteString("\n")
		b.WriteString(e.Dump.String())
	}
	return b.String()
}

// Is supports errors.Is comparisons by Code, so callers can write
// errors.Is(err, diverr.ExpectedMessage) style checks via IsCode below
// without depending on pointer identity.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// IsCode reports whether err is a *Error with the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
