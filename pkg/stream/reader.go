package stream

import (
	"io"

	"github.com/iamBelugaa/manmem/pkg/manmem"
)

// Reader reads the content of a sequence of segments back to back. At most one segment
// is held open at a time.
type Reader struct {
	segments []*manmem.Segment
	next     int
	current  *manmem.Access
	pos      int
}

var (
	_ io.ReadCloser = (*Reader)(nil)
	_ io.ByteReader = (*Reader)(nil)
)

func NewReader(segments []*manmem.Segment) *Reader {
	return &Reader{segments: segments}
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	for {
		if r.current == nil {
			if r.next >= len(r.segments) {
				return 0, io.EOF
			}

			acc, err := r.segments[r.next].ReadAccess()
			if err != nil {
				return 0, err
			}
			r.next++
			r.current, r.pos = acc, 0
		}

		n := copy(p, r.current.Bytes()[r.pos:])
		r.pos += n

		if r.pos == r.current.Len() {
			if err := r.finish(); err != nil {
				return n, err
			}
		}

		if n > 0 {
			return n, nil
		}
	}
}

// ReadByte implements io.ByteReader.
func (r *Reader) ReadByte() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// Close closes the segment being read.
func (r *Reader) Close() error {
	return r.finish()
}

func (r *Reader) finish() error {
	if r.current == nil {
		return nil
	}
	err := r.current.Close()
	r.current = nil
	return err
}
