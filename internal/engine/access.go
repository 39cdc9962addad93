package engine

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/iamBelugaa/manmem/pkg/errors"
)

// Mode tells what an Access may do.
type Mode uint8

const (
	ModeRead Mode = iota
	ModeWrite
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// Access is an open view of a segment's content. While it is open the segment stays
// resident and cannot be reclaimed. A read access only exposes the getters; a write
// access also exposes the mutators, whose changes become visible to later accesses
// when it is closed.
//
// An Access must be closed exactly once and is not safe for concurrent use.
type Access struct {
	seg      *Segment
	blk      *block
	mode     Mode
	length   int
	modified bool
	closed   atomic.Bool
}

func newAccess(seg *Segment, blk *block, mode Mode) *Access {
	return &Access{
		seg:      seg,
		blk:      blk,
		mode:     mode,
		length:   blk.length,
		modified: mode == ModeWrite,
	}
}

// Mode returns the access mode.
func (a *Access) Mode() Mode {
	return a.mode
}

// Segment returns the segment the access was obtained from.
func (a *Access) Segment() *Segment {
	return a.seg
}

// Len returns the number of valid bytes.
func (a *Access) Len() int {
	return a.length
}

// Cap returns the segment size, the upper bound for Len.
func (a *Access) Cap() int {
	return len(a.blk.buf)
}

// Bytes returns the valid content. The slice aliases the segment memory and must not
// be used after Close; through a read access it must not be modified.
func (a *Access) Bytes() []byte {
	if a.closed.Load() {
		return nil
	}
	return a.blk.buf[:a.length]
}

// ReadAt implements io.ReaderAt over the valid content.
func (a *Access) ReadAt(p []byte, off int64) (int, error) {
	if err := a.check("readAt", false); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, a.outOfBounds("readAt", off, len(p))
	}
	if off >= int64(a.length) {
		return 0, io.EOF
	}

	n := copy(p, a.blk.buf[off:a.length])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (a *Access) Byte(off int) (byte, error) {
	b, err := a.get("byte", off, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (a *Access) Uint16(off int) (uint16, error) {
	b, err := a.get("uint16", off, 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (a *Access) Uint32(off int) (uint32, error) {
	b, err := a.get("uint32", off, 4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (a *Access) Uint64(off int) (uint64, error) {
	b, err := a.get("uint64", off, 8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// WriteAt implements io.WriterAt. Writing past Len extends the valid content; writing
// past Cap fails without writing anything.
func (a *Access) WriteAt(p []byte, off int64) (int, error) {
	if err := a.check("writeAt", true); err != nil {
		return 0, err
	}
	if off < 0 || off+int64(len(p)) > int64(len(a.blk.buf)) {
		return 0, a.outOfBounds("writeAt", off, len(p))
	}

	end := int(off) + len(p)
	a.extend(end)
	return copy(a.blk.buf[off:end], p), nil
}

// SetLen sets the number of valid bytes. Growing exposes zero bytes.
func (a *Access) SetLen(n int) error {
	if err := a.check("setLen", true); err != nil {
		return err
	}
	if n < 0 || n > len(a.blk.buf) {
		return a.outOfBounds("setLen", int64(n), 0)
	}

	a.extend(n)
	a.length = n
	return nil
}

func (a *Access) PutByte(off int, v byte) error {
	b, err := a.put("putByte", off, 1)
	if err != nil {
		return err
	}
	b[0] = v
	return nil
}

func (a *Access) PutUint16(off int, v uint16) error {
	b, err := a.put("putUint16", off, 2)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(b, v)
	return nil
}

func (a *Access) PutUint32(off int, v uint32) error {
	b, err := a.put("putUint32", off, 4)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b, v)
	return nil
}

func (a *Access) PutUint64(off int, v uint64) error {
	b, err := a.put("putUint64", off, 8)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint64(b, v)
	return nil
}

// SetModified controls whether Close publishes the changes of a write access. It
// defaults to true. With false, Close keeps the previous length and the segment is not
// marked dirty, so bytes changed in place may be lost on the next reclaim.
func (a *Access) SetModified(modified bool) error {
	if err := a.check("setModified", true); err != nil {
		return err
	}
	a.modified = modified
	return nil
}

// Close ends the access. Closing twice returns an ACCESS_CLOSED error.
func (a *Access) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return errors.NewLockError(errors.ErrAccessClosed, "Access has already been closed").
			WithSegmentID(a.seg.id).
			WithOperation("close")
	}

	s := a.seg
	if a.mode == ModeWrite {
		if a.modified {
			s.assignMu.Lock()
			a.blk.length = a.length
			a.blk.state = stateDirty
			s.assignMu.Unlock()
		}
		s.writing.Store(false)
		s.readers.Release(s.maxReads)
		s.writeMu.Unlock()
	} else {
		s.readers.Release(1)
	}

	s.requeueIfIdle()
	return nil
}

func (a *Access) get(op string, off, size int) ([]byte, error) {
	if err := a.check(op, false); err != nil {
		return nil, err
	}
	if off < 0 || off+size > a.length {
		return nil, a.outOfBounds(op, int64(off), size)
	}
	return a.blk.buf[off : off+size], nil
}

func (a *Access) put(op string, off, size int) ([]byte, error) {
	if err := a.check(op, true); err != nil {
		return nil, err
	}
	if off < 0 || off+size > len(a.blk.buf) {
		return nil, a.outOfBounds(op, int64(off), size)
	}
	a.extend(off + size)
	return a.blk.buf[off : off+size], nil
}

// extend grows the valid length to n, zeroing the bytes it exposes.
func (a *Access) extend(n int) {
	if n > a.length {
		clear(a.blk.buf[a.length:n])
		a.length = n
	}
}

func (a *Access) check(op string, write bool) error {
	if a.closed.Load() {
		return errors.NewLockError(errors.ErrAccessClosed, "Access has already been closed").
			WithSegmentID(a.seg.id).
			WithOperation(op)
	}
	if write && a.mode != ModeWrite {
		return errors.NewLockError(errors.ErrReadOnlyAccess, "Cannot modify a segment through a read access").
			WithSegmentID(a.seg.id).
			WithOperation(op)
	}
	return nil
}

func (a *Access) outOfBounds(op string, off int64, size int) *errors.LockError {
	return errors.NewLockError(errors.ErrOutOfBounds, fmt.Sprintf("Access of %d bytes at offset %d is out of bounds", size, off)).
		WithSegmentID(a.seg.id).
		WithOperation(op).
		WithDetail("length", a.length).
		WithDetail("capacity", len(a.blk.buf))
}
