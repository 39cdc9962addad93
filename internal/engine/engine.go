// Package engine implements the memory manager: a fixed budget of backing memory shared
// by any number of segments, with the content of idle segments spilled to disk when the
// budget runs out.
//
// Idle blocks of backing memory wait in one of three FIFO queues according to their
// state. When a block is needed the manager walks a cost ladder: reuse a free block,
// allocate a new one while the budget allows, take a block whose content is already on
// disk, and finally spill a dirty block and take it.
package engine

import (
	stdErrors "errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/iamBelugaa/manmem/internal/index"
	"github.com/iamBelugaa/manmem/internal/queue"
	"github.com/iamBelugaa/manmem/internal/storage"
	"github.com/iamBelugaa/manmem/internal/storage/slotpool"
	"github.com/iamBelugaa/manmem/pkg/errors"
	"github.com/iamBelugaa/manmem/pkg/filesys"
	"github.com/iamBelugaa/manmem/pkg/options"
)

var (
	ErrManagerClosed = stdErrors.New("operation failed: cannot access closed memory manager")
)

// Manager hands out segments and owns the backing memory behind them.
type Manager struct {
	closed      atomic.Bool
	segmentSize int
	maxReads    int64

	// mu guards capacity and used only; it is never held while waiting for another lock.
	// used counts every allocated block, free ones included.
	mu       sync.Mutex
	capacity int64
	used     int64

	// Serializes Resize calls.
	resizeMu sync.Mutex

	free   *queue.Queue[*block]
	dirty  *queue.Queue[*block]
	backed *queue.Queue[*block]

	blockIDs      *slotpool.Tracker
	nextSegmentID atomic.Uint64
	segments      *index.Index[*Segment]

	disk    *storage.Disk
	metrics *storage.BasicMetrics

	reclaimed atomic.Int64
	spilled   atomic.Int64
	loads     atomic.Int64

	options *options.Options
	log     *zap.SugaredLogger
}

// New validates opts, creates the spill directory and opens the spill file.
func New(log *zap.SugaredLogger, opts *options.Options) (*Manager, error) {
	if opts == nil {
		return nil, errors.NewRequiredFieldError("options")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	log.Infow(
		"Initializing memory manager",
		"capacity", options.FormatBytes(uint64(opts.Capacity)),
		"segmentSize", options.FormatBytes(uint64(opts.SegmentSize)),
		"maxConcurrentReads", opts.MaxConcurrentReads,
		"spillDir", opts.SpillOptions.Directory,
	)

	if err := filesys.CreateDir(opts.SpillOptions.Directory, 0755, true); err != nil {
		return nil, errors.ClassifyDirectoryCreationError(err, opts.SpillOptions.Directory)
	}

	metrics := &storage.BasicMetrics{}
	disk, err := storage.Open(log, storage.Config{
		Directory:          opts.SpillOptions.Directory,
		Prefix:             opts.SpillOptions.Prefix,
		SlotSize:           opts.SegmentSize,
		IOLimitBytesPerSec: opts.SpillOptions.IOLimitBytesPerSec,
		RemoveStale:        opts.SpillOptions.RemoveStale,
		FileSystem:         opts.FileSystem,
		Metrics:            metrics,
	})
	if err != nil {
		return nil, err
	}

	m := &Manager{
		log:         log,
		disk:        disk,
		options:     opts,
		metrics:     metrics,
		capacity:    opts.Capacity,
		segmentSize: opts.SegmentSize,
		maxReads:    opts.MaxConcurrentReads,
		free:        queue.New[*block]("free"),
		dirty:       queue.New[*block]("dirty"),
		backed:      queue.New[*block]("backed"),
		blockIDs:    slotpool.New(),
		segments:    index.New[*Segment](log, "segments"),
	}

	log.Infow("Memory manager initialized", "spillFile", disk.Path(), "slotSize", options.FormatBytes(uint64(disk.SlotSize())))
	return m, nil
}

// RequestDefaultMemory returns a new empty segment of DefaultSegmentSize bytes. It
// fails with a CAPACITY_EXCEEDED error when no backing memory can be produced.
func (m *Manager) RequestDefaultMemory() (*Segment, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}

	blk, err := m.acquireBlock()
	if err != nil {
		return nil, err
	}

	seg := newSegment(m, m.nextSegmentID.Add(1))
	blk.assign(seg)
	m.enqueue(blk)
	m.segments.Set(seg.id, seg)

	m.log.Debugw("Allocated segment", "segmentID", seg.id, "blockID", blk.id)
	return seg, nil
}

// Resize changes the capacity. Shrinking drops free blocks first, then blocks whose
// content is on disk, then spills and drops dirty blocks. If usage still exceeds
// newCapacity after that, the capacity is set to the usage and a CAPACITY_EXCEEDED
// error is returned; blocks dropped so far stay dropped. A failed spill ends the shrink
// the same way but returns the I/O error.
func (m *Manager) Resize(newCapacity int64) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	if newCapacity < 0 {
		return errors.NewFieldRangeError("capacity", newCapacity, 0, "max int64")
	}

	m.resizeMu.Lock()
	defer m.resizeMu.Unlock()

	m.mu.Lock()
	previous := m.capacity
	m.capacity = newCapacity
	m.mu.Unlock()

	m.log.Infow(
		"Resizing memory manager",
		"from", options.FormatBytes(uint64(previous)),
		"to", options.FormatBytes(uint64(newCapacity)),
	)

	evicted := 0
	for m.overCommitted() {
		blk, ok := m.drawFree()
		if !ok {
			break
		}
		m.discard(blk)
		evicted++
	}

	for m.overCommitted() {
		blk, ok := m.drawBacked()
		if !ok {
			break
		}
		m.discard(blk)
		evicted++
	}

	for m.overCommitted() {
		blk, ok, err := m.drawDirty()
		if err != nil {
			m.mu.Lock()
			m.capacity = max(m.capacity, m.used)
			capacity := m.capacity
			m.mu.Unlock()

			m.log.Errorw(
				"Failed to spill dirty block while resizing",
				"evicted", evicted,
				"capacity", options.FormatBytes(uint64(capacity)),
				"error", err,
			)
			return err
		}
		if !ok {
			break
		}
		m.discard(blk)
		evicted++
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.used > m.capacity {
		m.capacity = m.used
		m.log.Warnw(
			"Could not shrink to requested capacity",
			"requested", options.FormatBytes(uint64(newCapacity)),
			"capacity", options.FormatBytes(uint64(m.capacity)),
			"evicted", evicted,
		)
		return errors.NewCapacityError("Could not resize the capacity as requested").
			WithRequested(newCapacity).
			WithCapacity(m.capacity).
			WithUsed(m.used).
			WithDetail("evicted", evicted)
	}

	m.log.Infow("Resized memory manager", "capacity", options.FormatBytes(uint64(m.capacity)), "evicted", evicted)
	return nil
}

// DefaultSegmentSize returns the size of every segment handed out.
func (m *Manager) DefaultSegmentSize() int {
	return m.segmentSize
}

// Capacity returns the current capacity in bytes.
func (m *Manager) Capacity() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.capacity
}

// UsedCapacity returns the bytes of backing memory held by segments. Free blocks kept
// for reuse count against the capacity but not as used.
func (m *Manager) UsedCapacity() int64 {
	free := int64(m.free.Len()) * int64(m.segmentSize)

	m.mu.Lock()
	defer m.mu.Unlock()
	return max(m.used-free, 0)
}

// Stats describes the state of a Manager at one instant.
type Stats struct {
	Capacity        int64                   `json:"capacity"`
	Allocated       int64                   `json:"allocated"`
	Used            int64                   `json:"used"`
	FreeBytes       int64                   `json:"freeBytes"`
	SegmentSize     int                     `json:"segmentSize"`
	FreeBlocks      int                     `json:"freeBlocks"`
	DirtyBlocks     int                     `json:"dirtyBlocks"`
	BackedBlocks    int                     `json:"backedBlocks"`
	LiveSegments    int                     `json:"liveSegments"`
	SpilledSegments int                     `json:"spilledSegments"`
	Reclaimed       int64                   `json:"reclaimed"`
	Spilled         int64                   `json:"spilled"`
	Loads           int64                   `json:"loads"`
	Disk            storage.MetricsSnapshot `json:"disk"`
}

// Stats returns a snapshot of capacity, queue and spill counters. The fields are read
// one after another and need not be mutually consistent under concurrent use.
func (m *Manager) Stats() Stats {
	st := Stats{
		SegmentSize:  m.segmentSize,
		FreeBlocks:   m.free.Len(),
		DirtyBlocks:  m.dirty.Len(),
		BackedBlocks: m.backed.Len(),
		LiveSegments: m.segments.Len(),
		Reclaimed:    m.reclaimed.Load(),
		Spilled:      m.spilled.Load(),
		Loads:        m.loads.Load(),
		Disk:         m.metrics.Snapshot(),
	}
	st.FreeBytes = int64(st.FreeBlocks) * int64(m.segmentSize)

	m.segments.Range(func(_ uint64, entry *index.Entry[*Segment]) bool {
		if entry.Value.Spilled() {
			st.SpilledSegments++
		}
		return true
	})

	m.mu.Lock()
	st.Capacity, st.Allocated = m.capacity, m.used
	m.mu.Unlock()

	st.Used = max(st.Allocated-st.FreeBytes, 0)
	return st
}

// Close removes the spill file. Segments still alive become unusable. A second call
// returns ErrManagerClosed.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return ErrManagerClosed
	}

	m.log.Infow("Closing memory manager", "liveSegments", m.segments.Len())

	var err error
	if closeErr := m.segments.Close(); closeErr != nil {
		m.log.Errorw("Failed to close segment index", "error", closeErr)
		err = multierr.Append(err, fmt.Errorf("failed to close segment index: %w", closeErr))
	}

	if closeErr := m.disk.Close(); closeErr != nil {
		m.log.Errorw("Failed to close spill store", "error", closeErr)
		err = multierr.Append(err, fmt.Errorf("failed to close spill store: %w", closeErr))
	}

	if err == nil {
		m.log.Infow("Memory manager closed")
	}
	return err
}

// acquireBlock walks the cost ladder and returns a Free block that sits in no queue.
func (m *Manager) acquireBlock() (*block, error) {
	if blk, ok := m.drawFree(); ok {
		return blk, nil
	}

	if blk := m.tryCreate(); blk != nil {
		return blk, nil
	}

	if blk, ok := m.drawBacked(); ok {
		return blk, nil
	}

	blk, ok, err := m.drawDirty()
	if err != nil {
		return nil, err
	}
	if ok {
		return blk, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return nil, errors.NewCapacityError("Could not obtain the requested memory segment").
		WithRequested(int64(m.segmentSize)).
		WithCapacity(m.capacity).
		WithUsed(m.used)
}

func (m *Manager) drawFree() (*block, bool) {
	blk, ok := m.free.Poll(nil)
	if !ok {
		return nil, false
	}
	blk.queue = nil

	if blk.state != stateFree || blk.owner != nil {
		panic(invalidState(0, "drawFree", fmt.Sprintf("block %d in free queue has state %s", blk.id, blk.state)))
	}
	return blk, true
}

func (m *Manager) tryCreate() *block {
	size := int64(m.segmentSize)

	m.mu.Lock()
	if m.used+size > m.capacity {
		m.mu.Unlock()
		return nil
	}
	m.used += size
	m.mu.Unlock()

	id := int(m.blockIDs.Retrieve())
	m.log.Debugw("Created block", "blockID", id)
	return newBlock(id, m.segmentSize)
}

// drawBacked takes a block whose content is on disk away from its owner.
func (m *Manager) drawBacked() (*block, bool) {
	blk, ok := m.backed.Poll(lockOwner)
	if !ok {
		return nil, false
	}
	blk.queue = nil

	owner := blk.owner
	if owner == nil || blk.state != stateBacked {
		panic(invalidState(0, "drawBacked", fmt.Sprintf("block %d in backed queue has state %s", blk.id, blk.state)))
	}

	owner.yield(blk, "drawBacked")
	owner.assignMu.Unlock()
	blk.reset()

	m.reclaimed.Add(1)
	m.log.Debugw("Reclaimed backed block", "blockID", blk.id, "segmentID", owner.id)
	return blk, true
}

// drawDirty spills a dirty block and takes it away from its owner. When the spill
// fails the block goes back into the dirty queue untouched.
func (m *Manager) drawDirty() (*block, bool, error) {
	blk, ok := m.dirty.Poll(lockOwner)
	if !ok {
		return nil, false, nil
	}
	blk.queue = nil

	owner := blk.owner
	if owner == nil || blk.state != stateDirty {
		panic(invalidState(0, "drawDirty", fmt.Sprintf("block %d in dirty queue has state %s", blk.id, blk.state)))
	}

	if err := m.spill(blk); err != nil {
		m.enqueue(blk)
		owner.assignMu.Unlock()
		return nil, false, err
	}

	owner.yield(blk, "drawDirty")
	owner.assignMu.Unlock()
	blk.reset()

	m.spilled.Add(1)
	m.log.Debugw("Spilled and reclaimed dirty block", "blockID", blk.id, "segmentID", owner.id)
	return blk, true, nil
}

// spill writes an owned block to the owner's slot, reserving one on first use, and
// marks it Backed. The owner's assignMu is held.
func (m *Manager) spill(blk *block) error {
	owner := blk.owner
	loc, err := m.disk.Write(blk.buf[:blk.length], owner.disk)
	if err != nil {
		return err
	}
	owner.disk = loc
	blk.state = stateBacked

	m.log.Debugw("Spilled block", "blockID", blk.id, "segmentID", owner.id, "offset", loc.Offset(), "checksum", loc.Checksum())
	return nil
}

// enqueue is the only place blocks enter a queue.
func (m *Manager) enqueue(blk *block) {
	var q *queue.Queue[*block]
	switch blk.state {
	case stateFree:
		q = m.free
	case stateDirty:
		q = m.dirty
	case stateBacked:
		q = m.backed
	}

	blk.queue = q
	if !q.Add(blk.id, blk) {
		panic(invalidState(0, "enqueue", fmt.Sprintf("block %d is already in the %s queue", blk.id, q.Name())))
	}
}

func (m *Manager) detach(blk *block) {
	if blk.queue == nil {
		return
	}
	if !blk.queue.Remove(blk.id) {
		panic(invalidState(0, "detach", fmt.Sprintf("block %d is missing from the %s queue", blk.id, blk.queue.Name())))
	}
	blk.queue = nil
}

func (m *Manager) returnBlock(blk *block) {
	blk.reset()
	m.enqueue(blk)
}

// returnMemory takes back what a released segment held.
func (m *Manager) returnMemory(blk *block, loc *storage.Location) error {
	if blk != nil {
		m.returnBlock(blk)
	}
	if loc != nil {
		return m.disk.Recycle(loc)
	}
	return nil
}

// discard drops a Free block from the budget.
func (m *Manager) discard(blk *block) {
	m.blockIDs.Add(uint32(blk.id))

	m.mu.Lock()
	m.used -= blk.size()
	m.mu.Unlock()
}

func (m *Manager) overCommitted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used > m.capacity
}

// lockOwner is the poll hook of the owned queues.
func lockOwner(blk *block) bool {
	if blk.owner == nil {
		return true
	}
	return blk.owner.assignMu.TryLock()
}
