package options

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamBelugaa/manmem/pkg/errors"
)

func TestDefaultOptionsAreIndependent(t *testing.T) {
	a := DefaultOptions()
	b := DefaultOptions()

	a.Apply(WithSpillDir("/somewhere"))
	assert.NotEqual(t, a.SpillOptions.Directory, b.SpillOptions.Directory)
	require.NoError(t, b.Validate())
}

func TestOptionFuncsLeaveRangeChecksToValidate(t *testing.T) {
	o := DefaultOptions()
	o.Apply(WithCapacity(0), WithSpillPrefix("   "))
	assert.Zero(t, o.Capacity)
	assert.Equal(t, DefaultSpillPrefix, o.SpillOptions.Prefix)
	require.NoError(t, o.Validate())

	tests := []struct {
		name string
		opt  OptionFunc
		code errors.ErrorCode
	}{
		{"negative capacity", WithCapacity(-1), errors.ErrValidationRange},
		{"zero segment size", WithSegmentSize(0), errors.ErrValidationRange},
		{"no readers", WithMaxConcurrentReads(0), errors.ErrValidationRequired},
		{"negative io limit", WithIOLimit(-1), errors.ErrValidationRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			o.Apply(tt.opt)

			err := o.Validate()
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code))
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Options)
		code errors.ErrorCode
	}{
		{"segment too small", func(o *Options) { o.SegmentSize = 4 }, errors.ErrValidationRange},
		{"negative capacity", func(o *Options) { o.Capacity = -5 }, errors.ErrValidationRange},
		{"no readers", func(o *Options) { o.MaxConcurrentReads = 0 }, errors.ErrValidationRequired},
		{"no spill options", func(o *Options) { o.SpillOptions = nil }, errors.ErrValidationRequired},
		{"empty directory", func(o *Options) { o.SpillOptions.Directory = "" }, errors.ErrValidationRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			tt.mut(&o)

			err := o.Validate()
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code))
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manmem.ini")
	content := `
[memory]
capacity = 1MiB
segment_size = 32KiB
max_concurrent_reads = 16

[spill]
directory = /var/tmp/manmem
prefix = sorter
io_limit = 10MiB
remove_stale = true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	opts, err := LoadFile(path)
	require.NoError(t, err)

	o := DefaultOptions()
	o.Apply(opts...)

	assert.Equal(t, int64(1<<20), o.Capacity)
	assert.Equal(t, 32*1024, o.SegmentSize)
	assert.Equal(t, int64(16), o.MaxConcurrentReads)
	assert.Equal(t, "/var/tmp/manmem", o.SpillOptions.Directory)
	assert.Equal(t, "sorter", o.SpillOptions.Prefix)
	assert.Equal(t, int64(10<<20), o.SpillOptions.IOLimitBytesPerSec)
	assert.True(t, o.SpillOptions.RemoveStale)
}

func TestLoadFileRejectsBadSizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.ini")
	require.NoError(t, os.WriteFile(path, []byte("[memory]\ncapacity = lots\n"), 0644))

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrValidationInvalidData))

	require.NoError(t, os.WriteFile(path, []byte("[memory]\ncapacity = 9EiB\n"), 0644))
	_, err = LoadFile(path)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrValidationRange))

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.ini"))
	assert.True(t, errors.HasCode(err, errors.ErrSystemInvalidInput))
}

func TestFormatAndParseBytes(t *testing.T) {
	assert.Equal(t, "32 KiB", FormatBytes(32*1024))

	n, err := ParseBytes(" 1 MiB ")
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<20), n)
}

func TestParseSizeRejectsValuesAboveLimit(t *testing.T) {
	n, err := ParseSize("capacity", "0", math.MaxInt64)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = ParseSize("capacity", "9EiB", math.MaxInt64)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrValidationRange))

	_, err = ParseSize("segment", "2KiB", 1024)
	assert.True(t, errors.HasCode(err, errors.ErrValidationRange))

	_, err = ParseSize("capacity", "lots", math.MaxInt64)
	assert.True(t, errors.HasCode(err, errors.ErrValidationInvalidData))
}
