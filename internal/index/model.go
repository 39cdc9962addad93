package index

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Entry is a registered value together with the time it was registered.
type Entry[V any] struct {
	Value        V     // Value is the registered object.
	RegisteredAt int64 // RegisteredAt is the Unix nanosecond timestamp of registration.
}

// Age returns how long the entry has been registered.
func (e *Entry[V]) Age() time.Duration {
	return time.Duration(time.Now().UnixNano() - e.RegisteredAt)
}

// Index is the in-memory table of live objects keyed by their numeric ID.
type Index[V any] struct {
	name    string
	mu      sync.RWMutex
	log     *zap.SugaredLogger
	entries map[uint64]*Entry[V]
}
