package jwriter

import (
	"fmt"
	"os"
)

// BufferSize is the fixed accumulation buffer for report output. Writes are
// delivered to the OS in chunks of at most this size.
const BufferSize = 1024

// BufferedWriter accumulates report bytes and flushes them to a file in
// fixed-size chunks. The buffer is part of the struct, so a writer placed on
// the stack performs no allocation of its own.
type BufferedWriter struct {
	f   *os.File
	buf [BufferSize]byte
	pos int
}

// Create opens path exclusively for a new report. It fails if the
// destination already exists: a leftover file means a previous report was
// never recovered, and silently clobbering it would destroy the evidence the
// recrash flow needs.
func Create(path string) (*BufferedWriter, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("jwriter: could not create report file: %w", err)
	}
	return &BufferedWriter{f: f}, nil
}

// Write implements io.Writer. Data that would overflow the buffer forces a
// flush first; data larger than the buffer bypasses it entirely.
func (w *BufferedWriter) Write(p []byte) (int, error) {
	if w.f == nil {
		return 0, fmt.Errorf("jwriter: write on closed writer")
	}
	if len(p) > BufferSize-w.pos {
		if err := w.Flush(); err != nil {
			return 0, err
		}
	}
	if len(p) > BufferSize {
		if _, err := w.f.Write(p); err != nil {
			return 0, err
		}
		return len(p), nil
	}
	copy(w.buf[w.pos:], p)
	w.pos += len(p)
	return len(p), nil
}

// Flush delivers any buffered bytes to the file. Safe to call repeatedly.
func (w *BufferedWriter) Flush() error {
	if w.f == nil || w.pos == 0 {
		return nil
	}
	if _, err := w.f.Write(w.buf[:w.pos]); err != nil {
		return err
	}
	w.pos = 0
	return nil
}

// Close flushes and releases the file descriptor exactly once.
func (w *BufferedWriter) Close() error {
	if w.f == nil {
		return nil
	}
	err := w.Flush()
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	w.f = nil
	return err
}
