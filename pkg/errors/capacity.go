package errors

// CapacityError reports that the manager could not produce the memory a caller asked for.
// It is the one recoverable error of the system: nothing retries it internally.
type CapacityError struct {
	*baseError
	requested int64
	capacity  int64
	used      int64
}

// NewCapacityError creates a capacity error with the CAPACITY_EXCEEDED code.
func NewCapacityError(msg string) *CapacityError {
	return &CapacityError{baseError: NewBaseError(nil, ErrCapacityExceeded, msg)}
}

// WithDetail adds contextual information.
func (ce *CapacityError) WithDetail(key string, value any) *CapacityError {
	ce.baseError.WithDetail(key, value)
	return ce
}

// WithRequested records how many bytes were asked for.
func (ce *CapacityError) WithRequested(bytes int64) *CapacityError {
	ce.requested = bytes
	return ce
}

// WithCapacity records the capacity in effect when the request failed.
func (ce *CapacityError) WithCapacity(bytes int64) *CapacityError {
	ce.capacity = bytes
	return ce
}

// WithUsed records the accounted usage when the request failed.
func (ce *CapacityError) WithUsed(bytes int64) *CapacityError {
	ce.used = bytes
	return ce
}

func (ce *CapacityError) Requested() int64 { return ce.requested }
func (ce *CapacityError) Capacity() int64  { return ce.capacity }
func (ce *CapacityError) Used() int64      { return ce.used }
