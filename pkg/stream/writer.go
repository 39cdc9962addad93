// Package stream adapts sequences of segments to io.Writer and io.Reader.
package stream

import (
	"io"

	"github.com/iamBelugaa/manmem/pkg/errors"
	"github.com/iamBelugaa/manmem/pkg/manmem"
)

// Writer appends bytes to freshly requested segments, filling each one before asking
// for the next. At most one segment is held open at a time.
type Writer struct {
	alloc    manmem.Allocator
	segments []*manmem.Segment
	current  *manmem.Access
	written  int64
	closed   bool
}

var (
	_ io.WriteCloser = (*Writer)(nil)
	_ io.ByteWriter  = (*Writer)(nil)
)

func NewWriter(alloc manmem.Allocator) *Writer {
	return &Writer{alloc: alloc}
}

// Write implements io.Writer. It fails with CAPACITY_EXCEEDED when no further segment
// can be obtained; the bytes reported as written are kept.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, errors.NewLockError(errors.ErrAccessClosed, "Writer has been closed").WithOperation("write")
	}

	written := 0
	for written < len(p) {
		if err := w.ensure(); err != nil {
			return written, err
		}

		room := w.current.Cap() - w.current.Len()
		n, err := w.current.WriteAt(p[written:written+min(room, len(p)-written)], int64(w.current.Len()))
		written += n
		w.written += int64(n)
		if err != nil {
			return written, err
		}

		if w.current.Len() == w.current.Cap() {
			if err := w.finish(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// WriteByte implements io.ByteWriter.
func (w *Writer) WriteByte(c byte) error {
	_, err := w.Write([]byte{c})
	return err
}

// Len returns the number of bytes written.
func (w *Writer) Len() int64 {
	return w.written
}

// Segments returns the segments written so far, in order.
func (w *Writer) Segments() []*manmem.Segment {
	return w.segments
}

// Close closes the segment being filled. The segments stay allocated.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.finish()
}

func (w *Writer) ensure() error {
	if w.current != nil {
		return nil
	}

	seg, err := w.alloc.RequestDefaultMemory()
	if err != nil {
		return err
	}
	w.segments = append(w.segments, seg)

	acc, err := seg.WriteAccess()
	if err != nil {
		return err
	}
	w.current = acc
	return nil
}

func (w *Writer) finish() error {
	if w.current == nil {
		return nil
	}
	err := w.current.Close()
	w.current = nil
	return err
}
