package engine

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/iamBelugaa/manmem/internal/storage"
	"github.com/iamBelugaa/manmem/pkg/errors"
)

// Segment is a fixed-size piece of managed memory. Its content lives in a block of
// backing memory, in a slot of the spill file, or in both; which one is hidden from
// the caller. All access goes through ReadAccess and WriteAccess.
//
// Lock order: writeMu, then assignMu, then any queue lock. Queue pollers only ever
// try-lock assignMu.
type Segment struct {
	id       uint64
	m        *Manager
	released atomic.Bool

	// Gates entry: readers hold it only while taking a reader unit, writers for the
	// whole access.
	writeMu sync.Mutex

	// One unit per open read access; a writer takes all of them.
	readers  *semaphore.Weighted
	maxReads int64

	// Set while a writer holds writeMu, from entry until its access is closed.
	writing atomic.Bool

	// Called by Release between a failed reader check and unlocking writeMu.
	releaseContended func()

	// Serializes the idle check after token close.
	requeueMu sync.Mutex

	// Guards blk, disk and the state of blk.
	assignMu sync.Mutex
	blk      *block
	disk     *storage.Location
}

func newSegment(m *Manager, id uint64) *Segment {
	return &Segment{
		m:        m,
		id:       id,
		maxReads: m.maxReads,
		readers:  semaphore.NewWeighted(m.maxReads),
	}
}

// ID returns the identifier of the segment, unique within its manager.
func (s *Segment) ID() uint64 {
	return s.id
}

// Size returns the capacity of the segment in bytes.
func (s *Segment) Size() int {
	return s.m.segmentSize
}

// Resident reports whether the segment currently holds backing memory.
func (s *Segment) Resident() bool {
	s.assignMu.Lock()
	defer s.assignMu.Unlock()
	return s.blk != nil
}

// Spilled reports whether the segment has a copy in the spill file.
func (s *Segment) Spilled() bool {
	s.assignMu.Lock()
	defer s.assignMu.Unlock()
	return s.disk != nil
}

// Released reports whether Release has succeeded.
func (s *Segment) Released() bool {
	return s.released.Load()
}

// ReadAccess blocks until no writer holds the segment and returns a read-only view of
// its content, loading it from disk if necessary. Any number of read accesses may be
// open at once. The access must be closed.
func (s *Segment) ReadAccess() (*Access, error) {
	if s.released.Load() {
		return nil, s.releasedError("read")
	}

	s.writeMu.Lock()
	if err := s.readers.Acquire(context.Background(), 1); err != nil {
		s.writeMu.Unlock()
		return nil, err
	}
	s.writeMu.Unlock()

	blk, err := s.pin("read")
	if err != nil {
		s.readers.Release(1)
		s.requeueIfIdle()
		return nil, err
	}

	return newAccess(s, blk, ModeRead), nil
}

// WriteAccess blocks until every other access is closed and returns a writable view of
// the content, loading it from disk if necessary. The access must be closed.
func (s *Segment) WriteAccess() (*Access, error) {
	if s.released.Load() {
		return nil, s.releasedError("write")
	}

	s.writeMu.Lock()
	s.writing.Store(true)
	if err := s.readers.Acquire(context.Background(), s.maxReads); err != nil {
		s.writing.Store(false)
		s.writeMu.Unlock()
		return nil, err
	}

	blk, err := s.pin("write")
	if err != nil {
		s.writing.Store(false)
		s.readers.Release(s.maxReads)
		s.writeMu.Unlock()
		s.requeueIfIdle()
		return nil, err
	}

	return newAccess(s, blk, ModeWrite), nil
}

// Release returns the memory and the spill slot of the segment to the manager. It
// fails with a LOCK_HELD error while any access is open. A released segment cannot be
// used again.
func (s *Segment) Release() error {
	if !s.writeMu.TryLock() {
		return errors.NewLockError(errors.ErrLockHeld, "Segment is being write-accessed").
			WithSegmentID(s.id).
			WithOperation("release")
	}

	if !s.readers.TryAcquire(s.maxReads) {
		if s.releaseContended != nil {
			s.releaseContended()
		}
		s.writeMu.Unlock()

		// A reader that closed meanwhile skipped its requeue because writeMu was held.
		s.requeueIfIdle()
		return errors.NewLockError(errors.ErrLockHeld, "Segment is still being read-accessed").
			WithSegmentID(s.id).
			WithOperation("release")
	}

	err := s.release()
	s.readers.Release(s.maxReads)
	s.writeMu.Unlock()
	if err != nil {
		return err
	}

	s.m.segments.Delete(s.id)
	s.m.log.Debugw("Released segment", "segmentID", s.id)
	return nil
}

func (s *Segment) release() error {
	s.assignMu.Lock()
	defer s.assignMu.Unlock()

	if !s.released.CompareAndSwap(false, true) {
		return s.releasedError("release")
	}

	blk, loc := s.blk, s.disk
	s.blk, s.disk = nil, nil

	if blk != nil {
		if blk.owner != s {
			panic(invalidState(s.id, "release", "block is owned by another segment"))
		}
		s.m.detach(blk)
	}

	return s.m.returnMemory(blk, loc)
}

// Back writes the content to the spill file without giving up the backing memory, so
// that a later reclaim needs no I/O. It fails with LOCK_HELD while a write access is
// open; open read accesses are fine. Goroutines briefly entering or leaving an access
// only delay it.
func (s *Segment) Back() error {
	if s.released.Load() {
		return s.releasedError("back")
	}

	// Readers and token closes hold writeMu only briefly; a writer holds it with
	// writing set.
	for !s.writeMu.TryLock() {
		if s.writing.Load() {
			return s.writeHeldError("back")
		}
		runtime.Gosched()
	}

	err := s.back()
	s.writeMu.Unlock()

	s.requeueIfIdle()
	return err
}

func (s *Segment) back() error {
	s.assignMu.Lock()
	defer s.assignMu.Unlock()

	if s.released.Load() {
		return s.releasedError("back")
	}

	if s.blk == nil || s.blk.state != stateDirty {
		return nil
	}

	s.m.detach(s.blk)
	return s.m.spill(s.blk)
}

// pin makes the segment resident and detaches its block from the eviction queues.
// The caller holds reader units.
func (s *Segment) pin(op string) (*block, error) {
	s.assignMu.Lock()
	defer s.assignMu.Unlock()

	if s.released.Load() {
		return nil, s.releasedError(op)
	}

	if s.blk != nil {
		if s.blk.owner != s {
			panic(invalidState(s.id, op, "segment/block ownership is broken"))
		}
		s.m.detach(s.blk)
		return s.blk, nil
	}

	if s.disk == nil {
		panic(invalidState(s.id, op, "segment has neither memory nor a spill location"))
	}

	blk, err := s.m.acquireBlock()
	if err != nil {
		if ce, ok := errors.AsCapacityError(err); ok {
			ce.WithDetail("segmentID", s.id).WithDetail("operation", op)
		}
		return nil, err
	}

	n, err := s.m.disk.Load(s.disk, blk.buf)
	if err != nil {
		s.m.returnBlock(blk)
		return nil, err
	}

	blk.assign(s)
	blk.length = n
	blk.state = stateBacked

	s.m.loads.Add(1)
	return blk, nil
}

// requeueIfIdle puts the block back into the queue matching its state once no access
// is open.
func (s *Segment) requeueIfIdle() {
	s.requeueMu.Lock()
	defer s.requeueMu.Unlock()

	if !s.writeMu.TryLock() {
		return
	}
	defer s.writeMu.Unlock()

	if !s.readers.TryAcquire(s.maxReads) {
		return
	}
	defer s.readers.Release(s.maxReads)

	s.assignMu.Lock()
	defer s.assignMu.Unlock()

	if s.released.Load() || s.blk == nil || s.blk.queue != nil {
		return
	}
	s.m.enqueue(s.blk)
}

// yield gives up blk. The caller holds assignMu.
func (s *Segment) yield(blk *block, op string) {
	if s.blk != blk || blk.owner != s {
		panic(invalidState(s.id, op, "segment/block ownership is broken"))
	}
	s.blk = nil
}

func (s *Segment) writeHeldError(op string) *errors.LockError {
	return errors.NewLockError(errors.ErrLockHeld, "Cannot back a segment that is being written").
		WithSegmentID(s.id).
		WithOperation(op)
}

func (s *Segment) releasedError(op string) *errors.LockError {
	return errors.NewLockError(errors.ErrSegmentReleased, "Segment has been released").
		WithSegmentID(s.id).
		WithOperation(op)
}
