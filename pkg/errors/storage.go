package errors

// StorageError is the single failure category for spill file I/O.
type StorageError struct {
	*baseError
	op     string
	path   string
	offset int64
}

func NewStorageError(err error, code ErrorCode, msg string) *StorageError {
	return &StorageError{baseError: NewBaseError(err, code, msg)}
}

func (se *StorageError) WithMessage(msg string) *StorageError {
	se.baseError.WithMessage(msg)
	return se
}

func (se *StorageError) WithDetail(key string, value any) *StorageError {
	se.baseError.WithDetail(key, value)
	return se
}

// WithOperation names the spill file operation that failed: open, write, load, close, ...
func (se *StorageError) WithOperation(op string) *StorageError {
	se.op = op
	return se
}

// WithPath records the spill file or directory involved.
func (se *StorageError) WithPath(path string) *StorageError {
	se.path = path
	return se
}

// WithOffset records the byte offset of the slot involved.
func (se *StorageError) WithOffset(offset int64) *StorageError {
	se.offset = offset
	return se
}

func (se *StorageError) Operation() string { return se.op }
func (se *StorageError) Path() string      { return se.path }

// Offset returns the slot offset, or zero when no slot was involved.
func (se *StorageError) Offset() int64 { return se.offset }
