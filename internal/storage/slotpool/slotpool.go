// Package slotpool tracks which slots of the spill file are free.
package slotpool

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// Tracker holds the sorted set of free slot indices. The set is never empty: its
// largest member is the frontier, the first slot beyond everything handed out so far,
// so the file can always grow by one slot without a scan.
type Tracker struct {
	mu   sync.Mutex
	free *roaring.Bitmap
}

// New creates a tracker whose only free slot is 0.
func New() *Tracker {
	t := &Tracker{free: roaring.New()}
	t.free.Add(0)
	return t
}

// Retrieve pops the smallest free slot.
func (t *Tracker) Retrieve() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	slot := t.free.Minimum()
	t.free.Remove(slot)

	// The popped slot was the frontier; its successor becomes the new one.
	if t.free.IsEmpty() {
		t.free.Add(slot + 1)
	}
	return slot
}

// Add marks slot as free again.
func (t *Tracker) Add(slot uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.free.Add(slot)
}

// IsFree reports whether slot is currently free.
func (t *Tracker) IsFree(slot uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.free.Contains(slot)
}

// Len returns the number of free slots known to the tracker, frontier included.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int(t.free.GetCardinality())
}
