package filesys

import (
	"fmt"
	"os"
	"sync"
)

// Fault describes how a file opened through FaultyFS misbehaves.
type Fault struct {
	FailWrites    bool  // Every WriteAt fails with Err.
	FailReads     bool  // Every ReadAt fails with Err.
	ShortWriteMax int   // When > 0, a WriteAt writes at most this many bytes per call.
	ShortReadMax  int   // When > 0, a ReadAt reads at most this many bytes per call.
	FailOnClose   bool  // Close closes the file but reports Err.
	Err           error // Injected error, a generic one when nil.
}

// FaultyFS wraps a FileSystem and applies a Fault to every file it opens.
// The fault can be swapped at runtime and applies to already open files.
type FaultyFS struct {
	FS FileSystem

	mu     sync.Mutex
	fault  Fault
	writes int64
	reads  int64
}

// NewFaultyFS creates a FaultyFS wrapping fs (or Default when nil) with no faults armed.
func NewFaultyFS(fs FileSystem) *FaultyFS {
	if fs == nil {
		fs = Default
	}
	return &FaultyFS{FS: fs}
}

// SetFault arms a new fault for all files.
func (f *FaultyFS) SetFault(fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fault = fault
}

// Reset disarms all faults.
func (f *FaultyFS) Reset() {
	f.SetFault(Fault{})
}

// Calls returns how many WriteAt and ReadAt calls reached the faulty layer.
func (f *FaultyFS) Calls() (writes, reads int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes, f.reads
}

func (f *FaultyFS) current() Fault {
	f.mu.Lock()
	defer f.mu.Unlock()
	fault := f.fault
	if fault.Err == nil {
		fault.Err = fmt.Errorf("injected fault error")
	}
	return fault
}

func (f *FaultyFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	file, err := f.FS.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &faultyFile{File: file, fs: f}, nil
}

func (f *FaultyFS) Remove(name string) error                     { return f.FS.Remove(name) }
func (f *FaultyFS) MkdirAll(path string, perm os.FileMode) error { return f.FS.MkdirAll(path, perm) }
func (f *FaultyFS) Stat(name string) (os.FileInfo, error)        { return f.FS.Stat(name) }
func (f *FaultyFS) Truncate(name string, size int64) error       { return f.FS.Truncate(name, size) }

type faultyFile struct {
	File
	fs *FaultyFS
}

func (ff *faultyFile) WriteAt(p []byte, off int64) (int, error) {
	ff.fs.mu.Lock()
	ff.fs.writes++
	ff.fs.mu.Unlock()

	fault := ff.fs.current()
	if fault.FailWrites {
		return 0, fault.Err
	}
	if fault.ShortWriteMax > 0 && len(p) > fault.ShortWriteMax {
		p = p[:fault.ShortWriteMax]
	}
	return ff.File.WriteAt(p, off)
}

func (ff *faultyFile) ReadAt(p []byte, off int64) (int, error) {
	ff.fs.mu.Lock()
	ff.fs.reads++
	ff.fs.mu.Unlock()

	fault := ff.fs.current()
	if fault.FailReads {
		return 0, fault.Err
	}
	if fault.ShortReadMax > 0 && len(p) > fault.ShortReadMax {
		p = p[:fault.ShortReadMax]
	}
	return ff.File.ReadAt(p, off)
}

func (ff *faultyFile) Close() error {
	fault := ff.fs.current()
	err := ff.File.Close()
	if fault.FailOnClose {
		return fault.Err
	}
	return err
}
