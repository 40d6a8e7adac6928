// Package iow implements the slot file engine's buffered writer: a
// 512-byte-aligned output buffer with explicit flush/seek semantics and a
// 0xFF garbage-padding helper, plus a duplicate-write cache so bytes just
// written are available to the engine's read cache without a re-read.
package iow

import "os"

const alignment = 512

// BufferedWriter wraps an *os.File with an aligned output buffer.
type BufferedWriter struct {
	file   *os.File
	buf    []byte
	pos    int64 // file offset the buffer starts at
	dup    map[int64][]byte
	keepDup bool
}

// New wraps file, starting the buffer at the file's current write position.
func New(file *os.File, keepDuplicateCache bool) (*BufferedWriter, error) {
	pos, err := file.Seek(0, os.SEEK_CUR)
	if err != nil {
		return nil, err
	}
	w := &BufferedWriter{file: file, pos: pos, keepDup: keepDuplicateCache}
	if keepDuplicateCache {
		w.dup = make(map[int64][]byte)
	}
	return w, nil
}

// Write appends data to the buffer, growing it; the buffer is only flushed
// to disk on Flush or SetFilePosition.
func (w *BufferedWriter) Write(data []byte) (int, error) {
	w.buf = append(w.buf, data...)
	return len(data), nil
}

// WriteGarbage appends n bytes of 0xFF padding.
func (w *BufferedWriter) WriteGarbage(n int) {
	for i := 0; i < n; i++ {
		w.buf = append(w.buf, 0xFF)
	}
}

// AlignUp pads the buffer with 0xFF until the current logical write
// position is a multiple of 512.
func (w *BufferedWriter) AlignUp() {
	cur := w.pos + int64(len(w.buf))
	rem := cur % alignment
	if rem == 0 {
		return
	}
	w.WriteGarbage(int(alignment - rem))
}

// Flush writes the buffered bytes to disk at their recorded start
// position, retains them in the duplicate-write cache if enabled, and
// resets the buffer to start at the new end-of-write position.
func (w *BufferedWriter) Flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	if _, err := w.file.WriteAt(w.buf, w.pos); err != nil {
		return err
	}
	if w.keepDup {
		w.dup[w.pos] = append([]byte(nil), w.buf...)
	}
	w.pos += int64(len(w.buf))
	w.buf = w.buf[:0]
	return nil
}

// SetFilePosition flushes any pending bytes and repositions the buffer to
// start writing at pos.
func (w *BufferedWriter) SetFilePosition(pos int64) error {
	if err := w.Flush(); err != nil {
		return err
	}
	w.pos = pos
	return nil
}

// Position returns the logical write position (flushed bytes + buffered).
func (w *BufferedWriter) Position() int64 {
	return w.pos + int64(len(w.buf))
}

// DuplicateRead returns bytes previously flushed at pos if the duplicate
// cache is enabled and holds an exact match, avoiding a disk re-read.
func (w *BufferedWriter) DuplicateRead(pos int64, size int) ([]byte, bool) {
	if !w.keepDup {
		return nil, false
	}
	data, ok := w.dup[pos]
	if !ok || len(data) < size {
		return nil, false
	}
	return data[:size], true
}
