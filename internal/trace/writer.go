package trace

import (
	"bufio"
	"fmt"
	"os"

	"github.com/rtjones/dilog/internal/codec"
)

// Writer appends canonical trace lines to a record-mode trace file. Lines
// are terminated by a single newline on write, per spec §4.1.
type Writer struct {
	file *os.File
	buf  *bufio.Writer
	line int
}

// NewWriter wraps an open, writable file in a Writer.
func NewWriter(f *os.File) *Writer {
	return &Writer{file: f, buf: bufio.NewWriter(f)}
}

// WriteLine encodes and appends a line, incrementing the line count.
func (w *Writer) WriteLine(l codec.Line) error {
	if _, err := w.buf.WriteString(codec.Encode(l)); err != nil {
		return fmt.Errorf("write trace line: %w", err)
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return fmt.Errorf("write trace line: %w", err)
	}
	w.line++
	return w.buf.Flush()
}

// Line returns the number of lines written so far.
func (w *Writer) Line() int {
	return w.line
}

// Close flushes any buffered output and releases the file handle.
func (w *Writer) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return fmt.Errorf("flush trace writer: %w", err)
	}
	return w.file.Close()
}
