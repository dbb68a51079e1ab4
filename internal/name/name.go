// Package name validates and normalizes channel and block names (spec
// §3, §6). Names become path segments of a block's prefix and, for a
// channel, part of its trace file name, so they are normalized to
// Unicode NFC (so visually identical names spelled with different
// combining-sequence forms compare equal, the way the corpus this module
// was built alongside normalizes user-facing identifiers) and rejected
// outright if they could corrupt the trace grammar or the filesystem
// path derived from them.
package name

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Normalize validates raw and returns its NFC-normalized form. A name
// must be non-empty and must not contain '/', '[', ']', or a newline,
// since those characters are load-bearing in the trace grammar (spec
// §4.1) or in the channel-name-derived file path (spec §6).
func Normalize(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("name: empty")
	}
	normalized := norm.NFC.String(raw)
	if i := strings.IndexAny(normalized, "/[]\n"); i >= 0 {
		return "", fmt.Errorf("name %q: contains reserved character %q", raw, normalized[i])
	}
	return normalized, nil
}
