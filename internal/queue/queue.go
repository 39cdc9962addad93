// Package queue implements the intrusive FIFO used for eviction candidates.
//
// Elements are addressed by a stable, non-negative integer ID chosen by the caller.
// Links live in an index arena owned by the queue, so unlinking any element is O(1)
// without pointer cycles between elements. Two sentinel slots frame the list and are
// never handed out, which keeps Add and Remove free of boundary checks.
package queue

import (
	"runtime"
	"sync"
)

const (
	head = 0
	tail = 1
	none = -1

	// Element IDs are shifted past the sentinels.
	reserved = 2
)

type link struct {
	prev, next int
}

// Queue is a FIFO of elements of type T. All methods are safe for concurrent use; the
// queue mutex is held only while links are rewired.
type Queue[T any] struct {
	mu    sync.Mutex
	name  string
	links []link
	items []T
	size  int
}

// New creates an empty queue. The name shows up in logs only.
func New[T any](name string) *Queue[T] {
	q := &Queue[T]{
		name:  name,
		links: make([]link, reserved),
		items: make([]T, reserved),
	}
	q.links[head] = link{prev: none, next: tail}
	q.links[tail] = link{prev: head, next: none}
	return q
}

// Name returns the queue name.
func (q *Queue[T]) Name() string {
	return q.name
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Add appends v under id at the tail. It returns false, leaving the queue untouched,
// when id is already queued.
func (q *Queue[T]) Add(id int, v T) bool {
	s := id + reserved

	q.mu.Lock()
	defer q.mu.Unlock()

	q.growLocked(s)
	if q.linkedLocked(s) {
		return false
	}

	last := q.links[tail].prev
	q.links[last].next = s
	q.links[s] = link{prev: last, next: tail}
	q.links[tail].prev = s
	q.items[s] = v
	q.size++
	return true
}

// Remove unlinks the element with the given ID and reports whether it was queued.
func (q *Queue[T]) Remove(id int) bool {
	s := id + reserved

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.linkedLocked(s) {
		return false
	}
	q.unlinkLocked(s)
	return true
}

// Poll removes and returns the first element, in FIFO order, that the hook accepts.
// The hook runs under the queue lock just before the element is unlinked; it is meant
// to try-lock whatever guards the element elsewhere, so it must not block. When every
// queued element is refused, the lock is dropped, the goroutine yields and the scan
// restarts. A nil hook accepts everything. Poll returns false only for an empty queue.
func (q *Queue[T]) Poll(hook func(T) bool) (T, bool) {
	for {
		q.mu.Lock()
		if q.size == 0 {
			q.mu.Unlock()
			var zero T
			return zero, false
		}

		for s := q.links[head].next; s != tail; s = q.links[s].next {
			v := q.items[s]
			if hook == nil || hook(v) {
				q.unlinkLocked(s)
				q.mu.Unlock()
				return v, true
			}
		}

		q.mu.Unlock()
		runtime.Gosched()
	}
}

func (q *Queue[T]) linkedLocked(s int) bool {
	return s >= reserved && s < len(q.links) && q.links[s].prev != none
}

func (q *Queue[T]) unlinkLocked(s int) {
	l := q.links[s]
	q.links[l.prev].next = l.next
	q.links[l.next].prev = l.prev
	q.links[s] = link{prev: none, next: none}

	var zero T
	q.items[s] = zero
	q.size--
}

func (q *Queue[T]) growLocked(s int) {
	for len(q.links) <= s {
		q.links = append(q.links, link{prev: none, next: none})
		var zero T
		q.items = append(q.items, zero)
	}
}
