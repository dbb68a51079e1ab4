// Package index implements the unmatched-iteration index of spec §3: a
// mapping, keyed by block prefix, from trace byte offset to line number,
// recording iteration-start positions of that prefix that have been read
// but not yet consumed by a successful match.
package index

// Unmatched tracks, per block prefix, the set of iteration-start
// positions (offset -> line number) seen in the trace but not yet
// resolved. Unlike a registry shared across goroutines, an Unmatched
// index belongs to one channel and is only ever touched by the single
// execution context that owns it (enforced by internal/affinity), so no
// locking is needed here.
type Unmatched struct {
	byPrefix map[string]map[int64]int
}

// New creates an empty index.
func New() *Unmatched {
	return &Unmatched{byPrefix: make(map[string]map[int64]int)}
}

// Record notes that the iteration of prefix starting at offset (line
// lineNum) has been read but not yet matched.
func (u *Unmatched) Record(prefix string, offset int64, lineNum int) {
	m := u.byPrefix[prefix]
	if m == nil {
		m = make(map[int64]int)
		u.byPrefix[prefix] = m
	}
	m[offset] = lineNum
}

// Resolve marks the iteration of prefix starting at offset as matched,
// removing it from the index (spec §4.5: "an iteration is matched and
// removed from the index when its close marker has been consumed").
func (u *Unmatched) Resolve(prefix string, offset int64) {
	m := u.byPrefix[prefix]
	if m == nil {
		return
	}
	delete(m, offset)
	if len(m) == 0 {
		delete(u.byPrefix, prefix)
	}
}

// SmallestGreater returns the smallest recorded offset for prefix that is
// strictly greater than after, and its line number. ok is false if no
// such offset exists. Per spec §4.5 step 3, the search always prefers
// earlier-seen unmatched iterations over later ones, which this
// smallest-first selection guarantees.
func (u *Unmatched) SmallestGreater(prefix string, after int64) (offset int64, lineNum int, ok bool) {
	m := u.byPrefix[prefix]
	if len(m) == 0 {
		return 0, 0, false
	}
	found := false
	var bestOffset int64
	var bestLine int
	for off, line := range m {
		if off <= after {
			continue
		}
		if !found || off < bestOffset {
			bestOffset, bestLine, found = off, line, true
		}
	}
	return bestOffset, bestLine, found
}

// Lines returns, for diagnostics (spec §4.6), the set of line numbers
// still unmatched for prefix, in no particular order.
func (u *Unmatched) Lines(prefix string) []int {
	m := u.byPrefix[prefix]
	if len(m) == 0 {
		return nil
	}
	lines := make([]int, 0, len(m))
	for _, line := range m {
		lines = append(lines, line)
	}
	return lines
}

// Prefixes returns every prefix with at least one unmatched iteration,
// for the terminal-failure dump of spec §4.5 step 7.
func (u *Unmatched) Prefixes() []string {
	prefixes := make([]string, 0, len(u.byPrefix))
	for p := range u.byPrefix {
		prefixes = append(prefixes, p)
	}
	return prefixes
}
