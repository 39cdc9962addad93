package errors

import (
	stdErrors "errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapacityErrorClassification(t *testing.T) {
	err := fmt.Errorf("request failed: %w",
		NewCapacityError("no segment available").WithRequested(512).WithCapacity(1024).WithUsed(1024))

	require.True(t, IsCapacityExceeded(err))
	assert.False(t, IsLockError(err))
	assert.True(t, HasCode(err, ErrCapacityExceeded))

	ce, ok := AsCapacityError(err)
	require.True(t, ok)
	assert.Equal(t, int64(512), ce.Requested())
	assert.Equal(t, int64(1024), ce.Capacity())
	assert.Equal(t, int64(1024), ce.Used())
}

func TestLockErrorCarriesSegment(t *testing.T) {
	err := NewLockError(ErrLockHeld, "segment is being read").WithSegmentID(7).WithOperation("release")

	le, ok := AsLockError(err)
	require.True(t, ok)
	assert.Equal(t, uint64(7), le.SegmentID())
	assert.Equal(t, "release", le.Operation())
	assert.Equal(t, ErrLockHeld, le.Code())
	assert.False(t, IsCapacityExceeded(err))
}

func TestStorageErrorUnwrapsCause(t *testing.T) {
	cause := stdErrors.New("disk on fire")
	err := NewStorageError(cause, ErrIOWriteFailed, "write failed").WithOffset(4096).WithDetail("slot", 1)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk on fire")
	assert.Equal(t, int64(4096), err.Offset())
	assert.Equal(t, 1, err.Details()["slot"])
	assert.True(t, HasCode(fmt.Errorf("wrapped: %w", err), ErrIOWriteFailed))
	assert.False(t, HasCode(err, ErrIOReadFailed))
}

func TestClassifyFileOpenError(t *testing.T) {
	err := ClassifyFileOpenError(fs.ErrPermission, "/tmp/x/a.spill")
	assert.Equal(t, ErrIOOpenFailed, err.Code())
	assert.Contains(t, err.Error(), "Permission denied")
	assert.Equal(t, "/tmp/x/a.spill", err.Path())
	assert.Equal(t, "open", err.Operation())

	err = ClassifyFileOpenError(fs.ErrNotExist, "/tmp/x/a.spill")
	assert.Contains(t, err.Error(), "/tmp/x")
}

func TestFieldRangeError(t *testing.T) {
	err := NewFieldRangeError("segmentSize", 3, 8, 1024)
	ve, ok := AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "segmentSize", ve.Field())
	assert.Equal(t, 3, ve.Provided())
	assert.Equal(t, ErrValidationRange, ve.Code())
}
