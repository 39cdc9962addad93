package engine

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/iamBelugaa/manmem/pkg/errors"
	"github.com/iamBelugaa/manmem/pkg/filesys"
	"github.com/iamBelugaa/manmem/pkg/options"
)

const testSegmentSize = 256

func newTestManager(t *testing.T, segments int, opts ...options.OptionFunc) *Manager {
	t.Helper()

	o := options.DefaultOptions()
	o.Apply(
		options.WithSegmentSize(testSegmentSize),
		options.WithCapacity(int64(segments*testSegmentSize)),
		options.WithSpillDir(t.TempDir()),
	)
	o.Apply(opts...)

	m, err := New(zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel)).Sugar(), &o)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func request(t *testing.T, m *Manager) *Segment {
	t.Helper()
	seg, err := m.RequestDefaultMemory()
	require.NoError(t, err)
	return seg
}

func fill(t *testing.T, seg *Segment, p []byte) {
	t.Helper()
	w, err := seg.WriteAccess()
	require.NoError(t, err)
	_, err = w.WriteAt(p, 0)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func content(t *testing.T, seg *Segment) []byte {
	t.Helper()
	r, err := seg.ReadAccess()
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close()) }()
	return bytes.Clone(r.Bytes())
}

func pattern(n int, seed byte) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = seed ^ byte(i*7)
	}
	return p
}

func TestNewValidatesOptions(t *testing.T) {
	o := options.DefaultOptions()
	o.SegmentSize = 1

	_, err := New(zap.NewNop().Sugar(), &o)
	_, ok := errors.AsValidationError(err)
	assert.True(t, ok)

	_, err = New(zap.NewNop().Sugar(), nil)
	assert.True(t, errors.HasCode(err, errors.ErrValidationRequired))
}

func TestFreshSegmentIsEmptyAndDirty(t *testing.T) {
	m := newTestManager(t, 2)
	seg := request(t, m)

	assert.True(t, seg.Resident())
	assert.False(t, seg.Spilled())
	assert.Equal(t, testSegmentSize, seg.Size())
	assert.Empty(t, content(t, seg))

	st := m.Stats()
	assert.Equal(t, 1, st.DirtyBlocks)
	assert.Equal(t, 1, st.LiveSegments)
	assert.Equal(t, int64(testSegmentSize), st.Used)
}

func TestLadderReusesReleasedBlockWithoutIO(t *testing.T) {
	m := newTestManager(t, 2)
	a := request(t, m)
	_ = request(t, m)
	fill(t, a, pattern(64, 1))

	require.NoError(t, a.Release())
	assert.Equal(t, 1, m.Stats().FreeBlocks)
	assert.Equal(t, int64(testSegmentSize), m.UsedCapacity())

	c := request(t, m)
	assert.Empty(t, content(t, c), "reused memory must not leak old content")

	st := m.Stats()
	assert.Zero(t, st.Disk.Writes)
	assert.Equal(t, int64(2*testSegmentSize), st.Used)
	assert.Equal(t, 0, st.FreeBlocks)
}

func TestLadderFailsWhenAllSegmentsArePinned(t *testing.T) {
	m := newTestManager(t, 2)
	a := request(t, m)
	b := request(t, m)

	ra, err := a.ReadAccess()
	require.NoError(t, err)
	wb, err := b.WriteAccess()
	require.NoError(t, err)

	_, err = m.RequestDefaultMemory()
	require.True(t, errors.IsCapacityExceeded(err))
	ce, ok := errors.AsCapacityError(err)
	require.True(t, ok)
	assert.Equal(t, int64(2*testSegmentSize), ce.Capacity())
	assert.Equal(t, int64(testSegmentSize), ce.Requested())

	require.NoError(t, ra.Close())
	require.NoError(t, wb.Close())

	_, err = m.RequestDefaultMemory()
	assert.NoError(t, err)
}

func TestLadderSpillsExactlyOneDirtySegment(t *testing.T) {
	m := newTestManager(t, 2)
	a := request(t, m)
	b := request(t, m)
	fill(t, a, pattern(100, 1))
	fill(t, b, pattern(50, 2))

	c := request(t, m)
	st := m.Stats()
	assert.Equal(t, int64(1), st.Disk.Writes)
	assert.Equal(t, int64(1), st.Spilled)

	// FIFO: a became dirty first.
	assert.False(t, a.Resident())
	assert.True(t, a.Spilled())
	assert.True(t, b.Resident())
	assert.True(t, c.Resident())

	assert.Equal(t, pattern(100, 1), content(t, a))
	assert.Equal(t, int64(1), m.Stats().Loads)
}

func TestLadderReclaimsBackedBeforeSpilling(t *testing.T) {
	m := newTestManager(t, 2)
	a := request(t, m)
	b := request(t, m)
	fill(t, a, pattern(10, 3))
	fill(t, b, pattern(20, 4))

	require.NoError(t, b.Back())
	require.Equal(t, int64(1), m.Stats().Disk.Writes)
	assert.True(t, b.Resident())
	assert.Equal(t, 1, m.Stats().BackedBlocks)

	_ = request(t, m)
	st := m.Stats()
	assert.Equal(t, int64(1), st.Disk.Writes, "backed memory is reclaimed without I/O")
	assert.Equal(t, int64(1), st.Reclaimed)
	assert.False(t, b.Resident())
	assert.True(t, a.Resident())

	assert.Equal(t, pattern(20, 4), content(t, b))
}

func TestSpillRoundTripKeepsLength(t *testing.T) {
	m := newTestManager(t, 1)
	a := request(t, m)
	fill(t, a, pattern(77, 9))

	b := request(t, m)
	require.False(t, a.Resident())
	fill(t, b, pattern(testSegmentSize, 5))

	r, err := a.ReadAccess()
	require.NoError(t, err)
	assert.Equal(t, 77, r.Len())
	assert.Equal(t, pattern(77, 9), r.Bytes())
	require.NoError(t, r.Close())

	assert.False(t, b.Resident())
	assert.Equal(t, pattern(testSegmentSize, 5), content(t, b))
}

func TestRespillReusesSlot(t *testing.T) {
	m := newTestManager(t, 1)
	a := request(t, m)
	fill(t, a, pattern(8, 1))
	b := request(t, m)
	require.True(t, a.Spilled())
	offset := a.disk.Offset()

	fill(t, a, pattern(16, 2))
	require.True(t, b.Spilled())
	assert.Equal(t, offset, a.disk.Offset())

	fill(t, b, pattern(4, 3))
	assert.Equal(t, offset, a.disk.Offset())
	assert.Equal(t, pattern(16, 2), content(t, a))
}

func TestReleasedSlotIsReused(t *testing.T) {
	m := newTestManager(t, 1)
	a := request(t, m)
	fill(t, a, pattern(8, 1))
	b := request(t, m)
	require.True(t, a.Spilled())
	freed := a.disk.Offset()

	require.NoError(t, a.Release())

	fill(t, b, pattern(8, 2))
	_ = request(t, m)
	require.True(t, b.Spilled())
	assert.Equal(t, freed, b.disk.Offset())
}

func TestReleaseRequiresExclusivity(t *testing.T) {
	m := newTestManager(t, 2)
	seg := request(t, m)

	r, err := seg.ReadAccess()
	require.NoError(t, err)
	err = seg.Release()
	le, ok := errors.AsLockError(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrLockHeld, le.Code())
	assert.Equal(t, seg.ID(), le.SegmentID())
	require.NoError(t, r.Close())

	w, err := seg.WriteAccess()
	require.NoError(t, err)
	assert.True(t, errors.HasCode(seg.Release(), errors.ErrLockHeld))
	require.NoError(t, w.Close())

	require.NoError(t, seg.Release())
	assert.True(t, seg.Released())
	assert.Equal(t, 0, m.Stats().LiveSegments)

	assert.True(t, errors.HasCode(seg.Release(), errors.ErrSegmentReleased))
	_, err = seg.ReadAccess()
	assert.True(t, errors.HasCode(err, errors.ErrSegmentReleased))
	_, err = seg.WriteAccess()
	assert.True(t, errors.HasCode(err, errors.ErrSegmentReleased))
	assert.True(t, errors.HasCode(seg.Back(), errors.ErrSegmentReleased))
}

func TestBackFailsDuringWrite(t *testing.T) {
	m := newTestManager(t, 2)
	seg := request(t, m)

	w, err := seg.WriteAccess()
	require.NoError(t, err)
	assert.True(t, errors.HasCode(seg.Back(), errors.ErrLockHeld))
	require.NoError(t, w.Close())

	r, err := seg.ReadAccess()
	require.NoError(t, err)
	require.NoError(t, seg.Back())
	require.NoError(t, r.Close())

	assert.Equal(t, 1, m.Stats().BackedBlocks)

	// Nothing to do for memory that is already backed.
	require.NoError(t, seg.Back())
	assert.Equal(t, int64(1), m.Stats().Disk.Writes)
}

func TestReleaseRequeuesWhenLastReaderLeaves(t *testing.T) {
	m := newTestManager(t, 1)
	seg := request(t, m)
	fill(t, seg, pattern(40, 3))

	r, err := seg.ReadAccess()
	require.NoError(t, err)

	// The reader closes after Release saw it but before Release let go of the gate.
	seg.releaseContended = func() { require.NoError(t, r.Close()) }
	err = seg.Release()
	seg.releaseContended = nil
	assert.True(t, errors.HasCode(err, errors.ErrLockHeld))

	assert.Equal(t, 1, m.Stats().DirtyBlocks)
	_, err = m.RequestDefaultMemory()
	require.NoError(t, err)
	assert.True(t, seg.Spilled())
	assert.Equal(t, pattern(40, 3), content(t, seg))
}

func TestBackWaitsOutBriefGateHolders(t *testing.T) {
	m := newTestManager(t, 2)
	seg := request(t, m)
	fill(t, seg, pattern(20, 4))

	// Stands in for a reader passing the gate or a token close checking for idleness.
	seg.writeMu.Lock()
	done := make(chan error, 1)
	go func() { done <- seg.Back() }()

	select {
	case err := <-done:
		t.Fatalf("Back returned while the gate was held: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	seg.writeMu.Unlock()
	require.NoError(t, <-done)
	assert.Equal(t, 1, m.Stats().BackedBlocks)
}

func TestBackFailsForPendingWriter(t *testing.T) {
	m := newTestManager(t, 2)
	seg := request(t, m)

	r, err := seg.ReadAccess()
	require.NoError(t, err)

	acquired := make(chan *Access, 1)
	go func() {
		w, err := seg.WriteAccess()
		assert.NoError(t, err)
		acquired <- w
	}()
	require.Eventually(t, seg.writing.Load, time.Second, time.Millisecond)

	// The caller holds a read access the writer waits for, so Back must not block.
	assert.True(t, errors.HasCode(seg.Back(), errors.ErrLockHeld))

	require.NoError(t, r.Close())
	w := <-acquired
	require.NotNil(t, w)
	require.NoError(t, w.Close())
	assert.False(t, seg.writing.Load())
}

func TestWriterWaitsForReaders(t *testing.T) {
	m := newTestManager(t, 2)
	seg := request(t, m)

	r1, err := seg.ReadAccess()
	require.NoError(t, err)
	r2, err := seg.ReadAccess()
	require.NoError(t, err)

	acquired := make(chan *Access)
	go func() {
		w, err := seg.WriteAccess()
		assert.NoError(t, err)
		acquired <- w
	}()

	select {
	case <-acquired:
		t.Fatal("writer acquired access while readers were open")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, r1.Close())
	select {
	case <-acquired:
		t.Fatal("writer acquired access while a reader was open")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, r2.Close())
	w := <-acquired
	require.NoError(t, w.Close())
}

func TestReadersWaitForWriter(t *testing.T) {
	m := newTestManager(t, 2)
	seg := request(t, m)

	w, err := seg.WriteAccess()
	require.NoError(t, err)

	acquired := make(chan *Access)
	go func() {
		r, err := seg.ReadAccess()
		assert.NoError(t, err)
		acquired <- r
	}()

	select {
	case <-acquired:
		t.Fatal("reader acquired access while a writer was open")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, w.PutUint32(0, 0xCAFEBABE))
	require.NoError(t, w.Close())

	r := <-acquired
	v, err := r.Uint32(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xCAFEBABE), v)
	require.NoError(t, r.Close())
}

func TestResize(t *testing.T) {
	m := newTestManager(t, 4)
	a := request(t, m)
	b := request(t, m)
	c := request(t, m)
	fill(t, a, pattern(10, 1))
	fill(t, b, pattern(10, 2))
	require.NoError(t, b.Back())
	require.NoError(t, c.Release())

	require.NoError(t, m.Resize(8*testSegmentSize))
	assert.Equal(t, int64(8*testSegmentSize), m.Capacity())

	// Free memory goes first.
	require.NoError(t, m.Resize(2*testSegmentSize))
	assert.Equal(t, int64(2*testSegmentSize), m.UsedCapacity())
	assert.Equal(t, int64(1), m.Stats().Disk.Writes)
	assert.True(t, b.Resident())

	// Then backed memory, then dirty memory.
	require.NoError(t, m.Resize(testSegmentSize))
	assert.False(t, b.Resident())
	assert.True(t, a.Resident())

	require.NoError(t, m.Resize(0))
	assert.False(t, a.Resident())
	assert.Equal(t, int64(0), m.UsedCapacity())
	assert.Equal(t, int64(2), m.Stats().Disk.Writes)

	_, err := m.RequestDefaultMemory()
	assert.True(t, errors.IsCapacityExceeded(err))

	require.NoError(t, m.Resize(2*testSegmentSize))
	assert.Equal(t, pattern(10, 1), content(t, a))
	assert.Equal(t, pattern(10, 2), content(t, b))
}

func TestResizeBelowPinnedUsage(t *testing.T) {
	m := newTestManager(t, 3)
	a := request(t, m)
	b := request(t, m)
	c := request(t, m)
	require.NoError(t, c.Release())

	ra, err := a.ReadAccess()
	require.NoError(t, err)
	defer ra.Close()

	err = m.Resize(0)
	ce, ok := errors.AsCapacityError(err)
	require.True(t, ok)
	assert.Equal(t, int64(0), ce.Requested())

	// b was spilled, c's free block dropped, a is pinned.
	assert.Equal(t, int64(testSegmentSize), m.Capacity())
	assert.Equal(t, int64(testSegmentSize), m.UsedCapacity())
	assert.False(t, b.Resident())
	assert.True(t, a.Resident())

	err = m.Resize(-1)
	_, ok = errors.AsValidationError(err)
	assert.True(t, ok)
}

func TestFailedSpillLeavesSegmentsIntact(t *testing.T) {
	ffs := filesys.NewFaultyFS(nil)
	m := newTestManager(t, 2, options.WithFileSystem(ffs))
	a := request(t, m)
	b := request(t, m)
	fill(t, a, pattern(30, 1))
	fill(t, b, pattern(30, 2))

	ffs.SetFault(filesys.Fault{FailWrites: true})
	_, err := m.RequestDefaultMemory()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrIOWriteFailed))
	assert.False(t, errors.IsCapacityExceeded(err))

	assert.True(t, a.Resident())
	assert.True(t, b.Resident())
	assert.False(t, a.Spilled())
	assert.Equal(t, 2, m.Stats().DirtyBlocks)

	ffs.Reset()
	_, err = m.RequestDefaultMemory()
	require.NoError(t, err)
	assert.Equal(t, pattern(30, 1), content(t, a))
}

func TestFailedSpillDuringResizeKeepsCapacity(t *testing.T) {
	ffs := filesys.NewFaultyFS(nil)
	m := newTestManager(t, 2, options.WithFileSystem(ffs))
	a := request(t, m)
	b := request(t, m)
	fill(t, a, pattern(30, 1))
	fill(t, b, pattern(30, 2))

	ffs.SetFault(filesys.Fault{FailWrites: true})
	err := m.Resize(testSegmentSize)
	assert.True(t, errors.HasCode(err, errors.ErrIOWriteFailed))

	st := m.Stats()
	assert.Equal(t, int64(2*testSegmentSize), st.Capacity)
	assert.LessOrEqual(t, st.Allocated, st.Capacity)
	assert.LessOrEqual(t, m.UsedCapacity(), m.Capacity())
	assert.Equal(t, 2, st.DirtyBlocks)
	assert.True(t, a.Resident())
	assert.True(t, b.Resident())

	ffs.Reset()
	require.NoError(t, m.Resize(testSegmentSize))
	assert.Equal(t, int64(testSegmentSize), m.Capacity())
	assert.Equal(t, pattern(30, 1), content(t, a))
	assert.Equal(t, pattern(30, 2), content(t, b))
}

func TestFailedLoadReturnsMemory(t *testing.T) {
	ffs := filesys.NewFaultyFS(nil)
	m := newTestManager(t, 1, options.WithFileSystem(ffs))
	a := request(t, m)
	fill(t, a, pattern(30, 1))
	b := request(t, m)
	require.NoError(t, b.Release())
	require.Equal(t, 1, m.Stats().FreeBlocks)

	ffs.SetFault(filesys.Fault{FailReads: true})
	_, err := a.ReadAccess()
	assert.True(t, errors.HasCode(err, errors.ErrIOReadFailed))
	assert.Equal(t, 1, m.Stats().FreeBlocks)
	assert.False(t, a.Resident())

	ffs.Reset()
	assert.Equal(t, pattern(30, 1), content(t, a))
}

func TestLoadFailsWithCapacityExceeded(t *testing.T) {
	m := newTestManager(t, 1)
	a := request(t, m)
	fill(t, a, pattern(5, 1))
	b := request(t, m)

	w, err := b.WriteAccess()
	require.NoError(t, err)
	defer w.Close()

	_, err = a.ReadAccess()
	ce, ok := errors.AsCapacityError(err)
	require.True(t, ok)
	assert.Equal(t, a.ID(), ce.Details()["segmentID"])

	// The failed acquisition must not leave the segment locked.
	assert.NoError(t, a.Back())
}

func TestCloseManager(t *testing.T) {
	m := newTestManager(t, 2)
	_ = request(t, m)

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Close(), ErrManagerClosed)

	_, err := m.RequestDefaultMemory()
	assert.ErrorIs(t, err, ErrManagerClosed)
	assert.ErrorIs(t, m.Resize(0), ErrManagerClosed)
}

func TestSizingHelpers(t *testing.T) {
	assert.Equal(t, 0, RequiredSegments(0, 32))
	assert.Equal(t, 1, RequiredSegments(1, 32))
	assert.Equal(t, 1, RequiredSegments(32, 32))
	assert.Equal(t, 2, RequiredSegments(33, 32))
	assert.Equal(t, int64(96), ProvidedMemory(3, 32))
	assert.Equal(t, int64(64), FitMemoryToSegments(40, 32))
	assert.Equal(t, int64(10<<20), FitMemoryToSegments(10<<20, 32<<10))
}
