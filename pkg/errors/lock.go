package errors

// LockError signals a violated access contract: releasing a segment that is still
// accessed, writing through a read token, closing a token twice and the like.
type LockError struct {
	*baseError
	segmentID uint64
	operation string
}

// NewLockError creates a new locking error with the provided code.
func NewLockError(code ErrorCode, msg string) *LockError {
	return &LockError{baseError: NewBaseError(nil, code, msg)}
}

// WithDetail adds contextual information.
func (le *LockError) WithDetail(key string, value any) *LockError {
	le.baseError.WithDetail(key, value)
	return le
}

// WithSegmentID captures which virtual segment was involved.
func (le *LockError) WithSegmentID(id uint64) *LockError {
	le.segmentID = id
	return le
}

// WithOperation records the operation that was attempted.
func (le *LockError) WithOperation(op string) *LockError {
	le.operation = op
	return le
}

// SegmentID returns the virtual segment identifier associated with the error.
func (le *LockError) SegmentID() uint64 {
	return le.segmentID
}

// Operation returns the name of the operation that was being performed.
func (le *LockError) Operation() string {
	return le.operation
}
