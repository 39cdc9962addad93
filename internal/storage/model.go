package storage

import (
	"github.com/iamBelugaa/manmem/pkg/filesys"
)

// Config describes the spill file of a Disk.
type Config struct {
	Directory          string             // Directory holding the spill file.
	Prefix             string             // File name prefix, see seginfo.GenerateName.
	SlotSize           int                // Size of every slot in bytes.
	IOLimitBytesPerSec int64              // Zero disables throttling.
	RemoveStale        bool               // Remove spill files of other processes on Open.
	FileSystem         filesys.FileSystem // Nil means filesys.Default.
	Metrics            Metrics            // Nil means NoopMetrics.
}

// Location is a reserved slot of the spill file together with the length and checksum
// of the payload last written to it.
//
// A Location is not safe for concurrent use; its owner serializes access to it.
type Location struct {
	disk     *Disk
	offset   int64
	length   int
	checksum uint32
}

// Offset returns the byte offset of the slot. It is always a multiple of the slot size.
func (l *Location) Offset() int64 {
	return l.offset
}

// Len returns the number of valid bytes stored in the slot.
func (l *Location) Len() int {
	return l.length
}

// Checksum returns the CRC32C of the stored payload.
func (l *Location) Checksum() uint32 {
	return l.checksum
}
