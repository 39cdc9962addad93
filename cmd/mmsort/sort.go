package main

import (
	"container/heap"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iamBelugaa/manmem/pkg/manmem"
	"github.com/iamBelugaa/manmem/pkg/stream"
)

type histogram [256]int64

// sorter sorts bytes that do not fit into managed memory: the input is cut into
// segments, each segment is sorted in place, and the sorted segments are merged into
// a fresh run of segments.
type sorter struct {
	inst    *manmem.Instance
	log     *zap.SugaredLogger
	workers int
	window  int
}

// generate writes size pseudo-random bytes into segments and counts every value.
func (s *sorter) generate(ctx context.Context, size int64, seed uint64) ([]*manmem.Segment, histogram, error) {
	var hist histogram
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	w := stream.NewWriter(s.inst)
	buf := make([]byte, 64<<10)

	for left := size; left > 0; {
		if err := ctx.Err(); err != nil {
			return w.Segments(), hist, err
		}

		chunk := buf[:min(int64(len(buf)), left)]
		for i := range chunk {
			chunk[i] = byte(rng.Uint32())
			hist[chunk[i]]++
		}

		if _, err := w.Write(chunk); err != nil {
			return w.Segments(), hist, err
		}
		left -= int64(len(chunk))
	}

	if err := w.Close(); err != nil {
		return w.Segments(), hist, err
	}

	s.log.Infow("Generated input", "bytes", size, "segments", len(w.Segments()))
	return w.Segments(), hist, nil
}

// sortChunks sorts every segment in place with at most s.workers segments pinned at
// once.
func (s *sorter) sortChunks(ctx context.Context, segs []*manmem.Segment) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, seg := range segs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			acc, err := seg.WriteAccess()
			if err != nil {
				return err
			}
			slices.Sort(acc.Bytes())
			return acc.Close()
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	s.log.Infow("Sorted chunks", "segments", len(segs), "workers", s.workers)
	return nil
}

// merge merges sorted segments into a new run. Every input segment is released once
// it has been consumed.
func (s *sorter) merge(ctx context.Context, segs []*manmem.Segment) ([]*manmem.Segment, error) {
	h := make(cursorHeap, 0, len(segs))
	for _, seg := range segs {
		c := &cursor{seg: seg, buf: make([]byte, s.window)}
		if err := c.refill(); err != nil {
			return nil, err
		}
		if c.n > 0 {
			h = append(h, c)
		} else if err := seg.Release(); err != nil {
			return nil, err
		}
	}
	heap.Init(&h)

	w := stream.NewWriter(s.inst)
	defer w.Close()

	out := make([]byte, 0, s.window)
	for h.Len() > 0 {
		c := h[0]
		out = append(out, c.buf[c.pos])

		if len(out) == cap(out) {
			if err := ctx.Err(); err != nil {
				return w.Segments(), err
			}
			if _, err := w.Write(out); err != nil {
				return w.Segments(), err
			}
			out = out[:0]
		}

		if c.pos++; c.pos < c.n {
			heap.Fix(&h, 0)
			continue
		}

		if err := c.refill(); err != nil {
			return w.Segments(), err
		}
		if c.n > 0 {
			heap.Fix(&h, 0)
			continue
		}

		heap.Pop(&h)
		if err := c.seg.Release(); err != nil {
			return w.Segments(), err
		}
	}

	if _, err := w.Write(out); err != nil {
		return w.Segments(), err
	}
	if err := w.Close(); err != nil {
		return w.Segments(), err
	}

	s.log.Infow("Merged chunks", "inputs", len(segs), "outputs", len(w.Segments()))
	return w.Segments(), nil
}

// verify checks that segs hold the values counted in hist in ascending order.
func verify(segs []*manmem.Segment, hist histogram) (int64, error) {
	r := stream.NewReader(segs)
	defer r.Close()

	var (
		seen  histogram
		total int64
		prev  byte
		buf   = make([]byte, 32<<10)
	)

	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			if b < prev {
				return total, fmt.Errorf("output not sorted at byte %d: %d follows %d", total, b, prev)
			}
			prev = b
			seen[b]++
			total++
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return total, err
		}
	}

	if seen != hist {
		return total, fmt.Errorf("output is not a permutation of the input")
	}
	return total, nil
}

// cursor reads a sorted segment window by window, holding a read access only while
// refilling.
type cursor struct {
	seg    *manmem.Segment
	offset int64
	buf    []byte
	pos, n int
}

func (c *cursor) refill() error {
	acc, err := c.seg.ReadAccess()
	if err != nil {
		return err
	}

	n, err := acc.ReadAt(c.buf, c.offset)
	if cerr := acc.Close(); err == nil || err == io.EOF {
		err = cerr
	}
	if err != nil {
		return err
	}

	c.offset += int64(n)
	c.n, c.pos = n, 0
	return nil
}

type cursorHeap []*cursor

func (h cursorHeap) Len() int           { return len(h) }
func (h cursorHeap) Less(i, j int) bool { return h[i].buf[h[i].pos] < h[j].buf[h[j].pos] }
func (h cursorHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *cursorHeap) Push(x any)        { *h = append(*h, x.(*cursor)) }

func (h *cursorHeap) Pop() any {
	old := *h
	c := old[len(old)-1]
	*h = old[:len(old)-1]
	return c
}
