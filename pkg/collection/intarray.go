// Package collection provides data structures laid out over managed memory segments.
package collection

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/iamBelugaa/manmem/pkg/errors"
	"github.com/iamBelugaa/manmem/pkg/manmem"
)

const intBytes = 4

// IntArray is a fixed-length array of int32 values spread over segments. Values that
// were never written read as zero.
//
// Each Get and Set opens and closes an access on its own unless the array has been
// locked with LockForRead or LockForWrite, in which case every segment stays pinned
// until Unlock. An IntArray is not safe for concurrent use.
type IntArray struct {
	segments   []*manmem.Segment
	accesses   []*manmem.Access
	size       int64
	perSegment int64
}

// NewIntArray allocates enough segments for size values. The default segment size of
// alloc must be a multiple of 4.
func NewIntArray(alloc manmem.Allocator, size int64) (*IntArray, error) {
	if size < 0 {
		return nil, errors.NewFieldRangeError("size", size, 0, "unbounded")
	}

	segmentSize := alloc.DefaultSegmentSize()
	if segmentSize%intBytes != 0 {
		return nil, errors.NewValidationError(
			nil, errors.ErrValidationInvalidData,
			fmt.Sprintf("Segment size must be divisible by %d to hold int32 values", intBytes),
		).WithProvided(segmentSize)
	}

	perSegment := int64(segmentSize / intBytes)
	count := int((size + perSegment - 1) / perSegment)

	a := &IntArray{
		size:       size,
		perSegment: perSegment,
		segments:   make([]*manmem.Segment, 0, count),
		accesses:   make([]*manmem.Access, count),
	}

	for range count {
		seg, err := alloc.RequestDefaultMemory()
		if err != nil {
			return nil, multierr.Append(err, manmem.ReleaseAll(a.segments))
		}
		a.segments = append(a.segments, seg)
	}
	return a, nil
}

// Len returns the number of values.
func (a *IntArray) Len() int64 {
	return a.size
}

// UsedCapacity returns the number of bytes of managed memory the array occupies.
func (a *IntArray) UsedCapacity() int64 {
	return int64(len(a.segments)) * a.perSegment * intBytes
}

// Set stores v at pos.
func (a *IntArray) Set(pos int64, v int32) (err error) {
	idx, off, err := a.locate(pos, "set")
	if err != nil {
		return err
	}

	acc := a.accesses[idx]
	if acc == nil {
		if acc, err = a.segments[idx].WriteAccess(); err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, acc.Close()) }()
	}
	return acc.PutUint32(off, uint32(v))
}

// Get returns the value at pos.
func (a *IntArray) Get(pos int64) (v int32, err error) {
	idx, off, err := a.locate(pos, "get")
	if err != nil {
		return 0, err
	}

	acc := a.accesses[idx]
	if acc == nil {
		if acc, err = a.segments[idx].ReadAccess(); err != nil {
			return 0, err
		}
		defer func() { err = multierr.Append(err, acc.Close()) }()
	}

	if off+intBytes > acc.Len() {
		return 0, nil
	}
	u, err := acc.Uint32(off)
	return int32(u), err
}

// SetAll stores v at every position.
func (a *IntArray) SetAll(v int32) error {
	for idx, seg := range a.segments {
		acc := a.accesses[idx]
		if acc == nil {
			var err error
			if acc, err = seg.WriteAccess(); err != nil {
				return err
			}
		}

		n := min(a.perSegment, a.size-int64(idx)*a.perSegment)
		var err error
		for i := range int(n) {
			if err = acc.PutUint32(i*intBytes, uint32(v)); err != nil {
				break
			}
		}

		if a.accesses[idx] == nil {
			err = multierr.Append(err, acc.Close())
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// LockForRead opens a read access on every segment that has none. It fails if the
// array is already locked for writing. On failure the accesses opened so far stay open
// until Unlock.
func (a *IntArray) LockForRead() error {
	return a.lock(manmem.ModeRead)
}

// LockForWrite opens a write access on every segment that has none. It fails if the
// array is already locked for reading.
func (a *IntArray) LockForWrite() error {
	return a.lock(manmem.ModeWrite)
}

// Unlock closes every access opened by LockForRead or LockForWrite.
func (a *IntArray) Unlock() error {
	var err error
	for i, acc := range a.accesses {
		if acc != nil {
			err = multierr.Append(err, acc.Close())
			a.accesses[i] = nil
		}
	}
	return err
}

// Dispose unlocks the array and releases its segments. The array must not be used
// afterwards.
func (a *IntArray) Dispose() error {
	err := a.Unlock()
	err = multierr.Append(err, manmem.ReleaseAll(a.segments))
	a.segments = nil
	a.accesses = nil
	a.size = 0
	return err
}

func (a *IntArray) lock(mode manmem.Mode) error {
	for i, seg := range a.segments {
		if acc := a.accesses[i]; acc != nil {
			if acc.Mode() != mode {
				return errors.NewLockError(errors.ErrLockHeld, fmt.Sprintf("Segment %d is locked for %s", i, acc.Mode())).
					WithSegmentID(seg.ID()).
					WithOperation("lock")
			}
			continue
		}

		var (
			acc *manmem.Access
			err error
		)
		if mode == manmem.ModeWrite {
			acc, err = seg.WriteAccess()
		} else {
			acc, err = seg.ReadAccess()
		}
		if err != nil {
			return err
		}
		a.accesses[i] = acc
	}
	return nil
}

func (a *IntArray) locate(pos int64, op string) (int, int, error) {
	if pos < 0 || pos >= a.size {
		return 0, 0, errors.NewLockError(errors.ErrOutOfBounds, fmt.Sprintf("Index %d is out of range [0, %d)", pos, a.size)).
			WithOperation(op)
	}
	return int(pos / a.perSegment), int(pos%a.perSegment) * intBytes, nil
}
