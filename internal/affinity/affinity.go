// Package affinity implements the thread-affinity check of spec §5: each
// channel is created from one execution context and, unless configured
// otherwise, every subsequent operation must originate from that same
// context.
//
// Go exposes no first-class goroutine identity comparable to the
// original's thread-local storage, so this package derives one from the
// runtime's own debugging output. That makes the check a diagnostic
// approximation, not an isolation guarantee — exactly the posture the
// original tool documents for itself: a tool reached for once a
// discrepancy has already been found, not a production safety net.
package affinity

import (
	"bytes"
	"runtime"
	"strconv"
)

// ID identifies the goroutine that captured it.
type ID uint64

// Capture returns the identity of the calling goroutine, parsed out of
// runtime.Stack's header line ("goroutine 123 [running]:"), or 0 if that
// line cannot be parsed. The value carries no meaning beyond identity:
// Guard only ever compares two IDs for equality.
func Capture() ID {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	line := buf[:n]

	const prefix = "goroutine "
	if !bytes.HasPrefix(line, []byte(prefix)) {
		return 0
	}
	rest := line[len(prefix):]
	end := bytes.IndexByte(rest, ' ')
	if end < 0 {
		return 0
	}
	id, err := strconv.ParseUint(string(rest[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return ID(id)
}

// Guard records the owning goroutine of a channel and checks subsequent
// accesses against it.
type Guard struct {
	enabled bool
	owner   ID
}

// NewGuard captures the current goroutine as owner if enabled is true.
// When enabled is false (the ThreadSafe(false) option), Check always
// succeeds — the caller has taken responsibility for serializing access
// itself.
func NewGuard(enabled bool) Guard {
	g := Guard{enabled: enabled}
	if enabled {
		g.owner = Capture()
	}
	return g
}

// Check reports whether the calling goroutine is the guard's owner. A
// disabled guard always reports true.
func (g Guard) Check() bool {
	if !g.enabled {
		return true
	}
	return Capture() == g.owner
}
