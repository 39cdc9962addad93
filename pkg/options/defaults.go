package options

import "os"

const (
	DefaultCapacity    int64 = 64 * 1024 * 1024
	DefaultSegmentSize int   = 32 * 1024

	MinSegmentSize int = 8
	MaxSegmentSize int = 1 << 30

	DefaultMaxConcurrentReads int64 = 1024

	DefaultSpillPrefix string = "manmem"
)

// DefaultOptions returns a fresh Options value; callers may mutate it freely.
func DefaultOptions() Options {
	return Options{
		Capacity:           DefaultCapacity,
		SegmentSize:        DefaultSegmentSize,
		MaxConcurrentReads: DefaultMaxConcurrentReads,
		SpillOptions: &SpillOptions{
			Prefix:    DefaultSpillPrefix,
			Directory: os.TempDir(),
		},
	}
}
