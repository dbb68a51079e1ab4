package diverr

import (
	"fmt"
	"sort"
	"strings"
)

// DumpAction is one entry of the action record, rendered for a terminal
// failure dump (spec §4.6: "a structured dump of the action record with
// indentation reflecting nesting"). It is a plain value so this package
// stays free of a dependency on internal/record.
type DumpAction struct {
	Depth  int
	Kind   string // "msg", "open", or "close"
	Text   string
	Prefix string
}

// PrefixLines names, for one open prefix, the line numbers of its
// unmatched iterations (spec §4.6).
type PrefixLines struct {
	Prefix string
	Lines  []int
}

// Dump is the structured context attached to a terminal matcher failure:
// the action record since the outermost open block began, and the
// unmatched-iteration line numbers for each prefix still open.
type Dump struct {
	Actions   []DumpAction
	Unmatched []PrefixLines
}

// String renders the dump as indented text, the shape spec §4.6 and
// §4.5 step 7 describe printing to the diagnostic stream.
func (d *Dump) String() string {
	var b strings.Builder
	b.WriteString("action record:\n")
	if len(d.Actions) == 0 {
		b.WriteString("  (empty)\n")
	}
	for _, a := range d.Actions {
		fmt.Fprintf(&b, "  %s%s", strings.Repeat("  ", a.Depth), a.Kind)
		switch a.Kind {
		case "msg":
			fmt.Fprintf(&b, " %q", a.Text)
		case "open", "close":
			fmt.Fprintf(&b, " %s", a.Prefix)
		}
		b.WriteString("\n")
	}

	b.WriteString("unmatched iterations:\n")
	if len(d.Unmatched) == 0 {
		b.WriteString("  (none)\n")
		return b.String()
	}
	sorted := make([]PrefixLines, len(d.Unmatched))
	copy(sorted, d.Unmatched)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Prefix < sorted[j].Prefix })
	for _, pl := range sorted {
		lines := make([]int, len(pl.Lines))
		copy(lines, pl.Lines)
		sort.Ints(lines)
		fmt.Fprintf(&b, "  %s: %v\n", pl.Prefix, lines)
	}
	return b.String()
}
