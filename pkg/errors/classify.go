package errors

import (
	stdErrors "errors"
	"fmt"
	"io/fs"
	"path/filepath"
)

// ClassifyDirectoryCreationError maps a failed spill directory creation onto a storage error.
func ClassifyDirectoryCreationError(err error, path string) *StorageError {
	code := ErrIOGeneral
	msg := fmt.Sprintf("Failed to create spill directory: %s", path)

	switch {
	case stdErrors.Is(err, fs.ErrPermission):
		msg = fmt.Sprintf("Permission denied while creating spill directory: %s", path)
	case stdErrors.Is(err, fs.ErrExist):
		msg = fmt.Sprintf("Spill directory path exists but is not a directory: %s", path)
	}

	return NewStorageError(err, code, msg).WithPath(path).WithOperation("mkdir")
}

// ClassifyFileOpenError maps a failed spill file open onto a storage error.
func ClassifyFileOpenError(err error, path string) *StorageError {
	msg := fmt.Sprintf("Failed to open spill file: %s", path)

	switch {
	case stdErrors.Is(err, fs.ErrPermission):
		msg = fmt.Sprintf("Permission denied while opening spill file: %s", path)
	case stdErrors.Is(err, fs.ErrNotExist):
		msg = fmt.Sprintf("Spill directory does not exist: %s", filepath.Dir(path))
	case stdErrors.Is(err, fs.ErrExist):
		msg = fmt.Sprintf("Spill file already exists: %s", path)
	}

	return NewStorageError(err, ErrIOOpenFailed, msg).WithPath(path).WithOperation("open")
}
