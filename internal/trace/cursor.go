// Package trace implements the file-level half of the matcher: a
// seekable, line-counting reader over a .dilog trace file (the Cursor of
// spec §4.2), and the record-mode writer that appends canonical lines to
// it. Mode selection itself (spec §6: "existence determines mode") lives
// in Open.
package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rtjones/dilog/internal/codec"
)

// ErrEndOfTrace is returned by ReadLine when the trace file is exhausted.
var ErrEndOfTrace = errors.New("end of trace")

// Cursor is a seekable, line-counting reader over a trace file. It treats
// the file as a byte-addressable stream: offsets returned by Tell after a
// ReadLine are valid Seek targets and correspond to the start of the next
// line, per spec §4.2.
type Cursor struct {
	file   *os.File
	reader *bufio.Reader
	offset int64
	line   int
}

// NewCursor wraps an open, readable file in a Cursor positioned at the
// start of the file (offset 0, line 0).
func NewCursor(f *os.File) *Cursor {
	return &Cursor{file: f, reader: bufio.NewReader(f)}
}

// ReadLine returns the next decoded trace line and advances the line
// count. A trailing newline is consumed and discarded per spec §4.1.
// Returns ErrEndOfTrace when the file is exhausted.
func (c *Cursor) ReadLine() (codec.Line, error) {
	raw, err := c.reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return codec.Line{}, fmt.Errorf("read trace line: %w", err)
	}
	if err == io.EOF && raw == "" {
		return codec.Line{}, ErrEndOfTrace
	}

	n := len(raw)
	if n > 0 && raw[n-1] == '\n' {
		raw = raw[:n-1]
	}
	c.offset += int64(n)
	c.line++

	decoded, derr := codec.Decode(raw)
	if derr != nil {
		return codec.Line{}, derr
	}
	return decoded, nil
}

// Tell returns the current byte offset: the start of the next unread
// line.
func (c *Cursor) Tell() int64 {
	return c.offset
}

// Line returns the current line number (the number of lines already
// consumed).
func (c *Cursor) Line() int {
	return c.line
}

// Seek repositions the cursor to the given byte offset and sets the line
// counter to the given value. offset/lineNum must have come from a prior
// Tell/Line pair (or 0/0 for the start of the file).
func (c *Cursor) Seek(offset int64, lineNum int) error {
	if _, err := c.file.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek trace cursor: %w", err)
	}
	c.reader.Reset(c.file)
	c.offset = offset
	c.line = lineNum
	return nil
}

// Close releases the underlying file handle.
func (c *Cursor) Close() error {
	return c.file.Close()
}
