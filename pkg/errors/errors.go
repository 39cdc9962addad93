package errors

import (
	stdErrors "errors"
)

func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if stdErrors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

func AsStorageError(err error) (*StorageError, bool) {
	var se *StorageError
	if stdErrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func AsCapacityError(err error) (*CapacityError, bool) {
	var ce *CapacityError
	if stdErrors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

func AsLockError(err error) (*LockError, bool) {
	var le *LockError
	if stdErrors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// IsCapacityExceeded reports whether err, or any error it wraps, is a capacity error.
func IsCapacityExceeded(err error) bool {
	_, ok := AsCapacityError(err)
	return ok
}

// IsLockError reports whether err is an access contract violation.
func IsLockError(err error) bool {
	_, ok := AsLockError(err)
	return ok
}

// HasCode walks the wrap chain and reports whether any coded error carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if coded, ok := err.(interface{ Code() ErrorCode }); ok && coded.Code() == code {
			return true
		}
		err = stdErrors.Unwrap(err)
	}
	return false
}
