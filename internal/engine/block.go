package engine

import (
	"fmt"

	"github.com/iamBelugaa/manmem/internal/queue"
	"github.com/iamBelugaa/manmem/pkg/errors"
)

type blockState uint8

const (
	stateFree   blockState = iota // Unowned, waiting in the free queue.
	stateDirty                    // Owned; content differs from disk or was never spilled.
	stateBacked                   // Owned; content equals the spilled copy.
)

func (s blockState) String() string {
	switch s {
	case stateFree:
		return "free"
	case stateDirty:
		return "dirty"
	case stateBacked:
		return "backed"
	default:
		return fmt.Sprintf("blockState(%d)", uint8(s))
	}
}

// block is a fixed-size buffer of backing memory.
//
// state, owner and length change only while the owner's assignment lock is held, or
// while the block is Free and out of every queue. queue is the queue the block sits in,
// nil while it is attached to an open access or in transit between queues.
type block struct {
	id     int
	buf    []byte
	length int
	state  blockState
	owner  *Segment
	queue  *queue.Queue[*block]
}

func newBlock(id, size int) *block {
	return &block{id: id, buf: make([]byte, size)}
}

func (b *block) size() int64 {
	return int64(len(b.buf))
}

// assign hands a Free block to owner and marks it Dirty.
func (b *block) assign(owner *Segment) {
	if b.state != stateFree || b.owner != nil {
		panic(invalidState(owner.id, "assign", fmt.Sprintf("cannot assign block %d in state %s", b.id, b.state)))
	}
	b.owner = owner
	b.state = stateDirty
	owner.blk = b
}

// reset discards content and ownership.
func (b *block) reset() {
	clear(b.buf)
	b.owner = nil
	b.length = 0
	b.state = stateFree
}

func invalidState(segmentID uint64, op, msg string) *errors.LockError {
	return errors.NewLockError(errors.ErrInvalidState, msg).WithSegmentID(segmentID).WithOperation(op)
}
