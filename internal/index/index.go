// Package index keeps track of live objects by ID so that they can be counted,
// inspected and reported when their owner shuts down.
package index

import (
	"time"

	"go.uber.org/zap"
)

func New[V any](log *zap.SugaredLogger, name string) *Index[V] {
	return &Index[V]{
		log:     log,
		name:    name,
		entries: make(map[uint64]*Entry[V]),
	}
}

func (idx *Index[V]) Set(id uint64, value V) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.entries[id] = &Entry[V]{Value: value, RegisteredAt: time.Now().UnixNano()}
}

func (idx *Index[V]) Delete(id uint64) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.entries[id]; !ok {
		return false
	}
	delete(idx.entries, id)
	return true
}

func (idx *Index[V]) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Range calls fn for every entry until fn returns false. fn runs under the read lock
// and must not modify the index.
func (idx *Index[V]) Range(fn func(id uint64, entry *Entry[V]) bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	for id, entry := range idx.entries {
		if !fn(id, entry) {
			return
		}
	}
}

// Close drops all entries. Entries still present are logged as leaked. The index stays
// usable, so a registration racing with Close is simply counted at the next Close.
func (idx *Index[V]) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if len(idx.entries) > 0 {
		var oldest time.Duration
		for _, entry := range idx.entries {
			oldest = max(oldest, entry.Age())
		}
		idx.log.Warnw("Closing index with live entries", "index", idx.name, "count", len(idx.entries), "oldestAge", oldest)
	}

	clear(idx.entries)
	return nil
}
