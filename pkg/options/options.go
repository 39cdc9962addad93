// Package options provides data structures and functions for configuring the memory manager.
package options

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/iamBelugaa/manmem/pkg/errors"
	"github.com/iamBelugaa/manmem/pkg/filesys"
)

// Defines where and how segments are spilled to disk.
type SpillOptions struct {
	// Specifies the directory that holds the spill file.
	//
	// Default: os.TempDir()
	Directory string `json:"directory"`

	// Defines the file name prefix of the spill file.
	// Final filename will be: `prefix_pid_timestamp.spill`
	//
	// Default: "manmem"
	Prefix string `json:"prefix"`

	// Caps spill and load throughput in bytes per second. Zero disables throttling.
	IOLimitBytesPerSec int64 `json:"ioLimitBytesPerSec"`

	// Removes spill files with the same prefix left behind by other processes
	// when the manager starts.
	//
	// Default: false
	RemoveStale bool `json:"removeStale"`
}

// Defines the configuration parameters of a memory manager.
type Options struct {
	// Total number of bytes of backing memory the manager may hold at once.
	//
	// Default: 64MB
	Capacity int64 `json:"capacity"`

	// Size in bytes of every segment handed out by the manager; also the disk slot size.
	//
	// Default: 32KB
	SegmentSize int `json:"segmentSize"`

	// Upper bound of concurrent read accesses per segment. Writers drain all of them.
	//
	// Default: 1024
	MaxConcurrentReads int64 `json:"maxConcurrentReads"`

	// Configures the spill file.
	SpillOptions *SpillOptions `json:"spillOptions"`

	// File system used for the spill file. Nil means filesys.Default.
	FileSystem filesys.FileSystem `json:"-"`
}

type OptionFunc func(*Options)

// Applies a predefined set of default configuration values to the Options struct.
func WithDefaultOptions() OptionFunc {
	return func(o *Options) {
		*o = DefaultOptions()
	}
}

// Sets the total capacity in bytes. Zero is a valid capacity; out-of-range values
// are rejected by Validate.
func WithCapacity(capacity int64) OptionFunc {
	return func(o *Options) {
		o.Capacity = capacity
	}
}

// Sets the default segment size in bytes.
func WithSegmentSize(size int) OptionFunc {
	return func(o *Options) {
		o.SegmentSize = size
	}
}

// Sets the per-segment read concurrency bound.
func WithMaxConcurrentReads(n int64) OptionFunc {
	return func(o *Options) {
		o.MaxConcurrentReads = n
	}
}

// Sets the directory of the spill file.
func WithSpillDir(directory string) OptionFunc {
	return func(o *Options) {
		directory = strings.TrimSpace(directory)
		if directory != "" {
			o.spill().Directory = directory
		}
	}
}

// Sets the file name prefix of the spill file.
func WithSpillPrefix(prefix string) OptionFunc {
	return func(o *Options) {
		prefix = strings.TrimSpace(prefix)
		if prefix != "" {
			o.spill().Prefix = prefix
		}
	}
}

// Throttles spill I/O to the given bytes per second.
func WithIOLimit(bytesPerSec int64) OptionFunc {
	return func(o *Options) {
		o.spill().IOLimitBytesPerSec = bytesPerSec
	}
}

// Enables removal of stale spill files on startup.
func WithRemoveStaleSpills(remove bool) OptionFunc {
	return func(o *Options) {
		o.spill().RemoveStale = remove
	}
}

// Replaces the file system used for the spill file.
func WithFileSystem(fs filesys.FileSystem) OptionFunc {
	return func(o *Options) {
		o.FileSystem = fs
	}
}

// Apply runs opts against o in order.
func (o *Options) Apply(opts ...OptionFunc) {
	for _, opt := range opts {
		opt(o)
	}
}

func (o *Options) spill() *SpillOptions {
	if o.SpillOptions == nil {
		o.SpillOptions = DefaultOptions().SpillOptions
	}
	return o.SpillOptions
}

// FormatBytes converts byte count to human-readable format for log and error messages.
func FormatBytes(bytes uint64) string {
	return humanize.IBytes(bytes)
}

// ParseBytes parses sizes such as "32KiB", "1 MB" or "4096".
func ParseBytes(s string) (uint64, error) {
	return humanize.ParseBytes(strings.TrimSpace(s))
}

// ParseSize parses a human-readable size for field and rejects values above limit,
// so callers can convert the result to a signed type without wrapping around.
func ParseSize(field, value string, limit uint64) (uint64, error) {
	n, err := ParseBytes(value)
	if err != nil {
		return 0, errors.NewValidationError(err, errors.ErrValidationInvalidData, fmt.Sprintf("Invalid size for %s: %q", field, value)).
			WithProvided(value)
	}
	if n > limit {
		return 0, errors.NewFieldRangeError(field, value, 0, FormatBytes(limit))
	}
	return n, nil
}
