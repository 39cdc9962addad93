package errors

type ErrorCode string

const (
	ErrCapacityExceeded ErrorCode = "CAPACITY_EXCEEDED"

	ErrLockHeld          ErrorCode = "LOCK_HELD"
	ErrAccessClosed      ErrorCode = "ACCESS_CLOSED"
	ErrReadOnlyAccess    ErrorCode = "READ_ONLY_ACCESS"
	ErrSegmentReleased   ErrorCode = "SEGMENT_RELEASED"
	ErrOwnershipMismatch ErrorCode = "OWNERSHIP_MISMATCH"
	ErrInvalidState      ErrorCode = "INVALID_STATE"
	ErrOutOfBounds       ErrorCode = "OUT_OF_BOUNDS"

	ErrIOGeneral          ErrorCode = "IO_GENERAL"
	ErrIOOpenFailed       ErrorCode = "IO_OPEN_FAILED"
	ErrIOWriteFailed      ErrorCode = "IO_WRITE_FAILED"
	ErrIOReadFailed       ErrorCode = "IO_READ_FAILED"
	ErrIOUnexpectedEOF    ErrorCode = "IO_UNEXPECTED_EOF"
	ErrIOChecksumMismatch ErrorCode = "IO_CHECKSUM_MISMATCH"
	ErrIOCloseFailed      ErrorCode = "IO_CLOSE_FAILED"
	ErrIORemoveFailed     ErrorCode = "IO_REMOVE_FAILED"

	ErrSystemInternal     ErrorCode = "SYSTEM_INTERNAL"
	ErrSystemInvalidInput ErrorCode = "SYSTEM_INVALID_INPUT"

	ErrValidationInvalidData ErrorCode = "VALIDATION_INVALID_DATA"
	ErrValidationRequired    ErrorCode = "VALIDATION_REQUIRED"
	ErrValidationRange       ErrorCode = "VALIDATION_RANGE"
)
