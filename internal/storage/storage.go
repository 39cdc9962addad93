// Package storage implements the spill store: a single file divided into fixed-size
// slots that segments are written to when their memory is reclaimed and read back from
// when they are accessed again.
//
// Slots are handed out by a slotpool.Tracker, always reusing the lowest free slot, so
// the file only grows when every slot below the frontier is taken. The file is private
// to the process and removed on Close; nothing in it survives a restart.
package storage

import (
	"context"
	stdErrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/iamBelugaa/manmem/internal/storage/slotpool"
	"github.com/iamBelugaa/manmem/pkg/checksum"
	"github.com/iamBelugaa/manmem/pkg/errors"
	"github.com/iamBelugaa/manmem/pkg/filesys"
	"github.com/iamBelugaa/manmem/pkg/options"
	"github.com/iamBelugaa/manmem/pkg/seginfo"
)

var (
	ErrDiskClosed = stdErrors.New("operation failed: cannot access closed spill store")
)

// Disk owns the spill file and its slot allocation.
type Disk struct {
	closed      atomic.Bool
	slotSize    int
	path        string
	file        filesys.File
	fs          filesys.FileSystem
	log         *zap.SugaredLogger
	metrics     Metrics
	limiter     *rate.Limiter
	slots       *slotpool.Tracker
	checksummer *checksum.CRC32C
}

// Open creates a new spill file in cfg.Directory. The directory must exist.
func Open(log *zap.SugaredLogger, cfg Config) (*Disk, error) {
	if cfg.SlotSize < options.MinSegmentSize || cfg.SlotSize > options.MaxSegmentSize {
		return nil, errors.NewFieldRangeError("slotSize", cfg.SlotSize, options.MinSegmentSize, options.MaxSegmentSize)
	}
	if cfg.Directory == "" {
		return nil, errors.NewRequiredFieldError("directory")
	}
	if cfg.Prefix == "" {
		return nil, errors.NewRequiredFieldError("prefix")
	}

	fs := cfg.FileSystem
	if fs == nil {
		fs = filesys.Default
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}

	log.Infow(
		"Opening spill store",
		"directory", cfg.Directory,
		"prefix", cfg.Prefix,
		"slotSize", options.FormatBytes(uint64(cfg.SlotSize)),
		"ioLimitBytesPerSec", cfg.IOLimitBytesPerSec,
	)

	if cfg.RemoveStale {
		removeStaleFiles(log, fs, cfg.Directory, cfg.Prefix)
	}

	fileName := seginfo.GenerateName(cfg.Prefix, os.Getpid(), time.Now().UnixNano())
	filePath := filepath.Join(cfg.Directory, fileName)

	file, err := fs.OpenFile(filePath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, errors.ClassifyFileOpenError(err, filePath)
	}

	var limiter *rate.Limiter
	if cfg.IOLimitBytesPerSec > 0 {
		// A single slot transfer must always fit in one WaitN call.
		burst := max(int(min(cfg.IOLimitBytesPerSec, int64(options.MaxSegmentSize))), cfg.SlotSize)
		limiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), burst)
	}

	log.Infow("Spill store opened", "path", filePath)

	return &Disk{
		fs:          fs,
		log:         log,
		file:        file,
		path:        filePath,
		limiter:     limiter,
		metrics:     metrics,
		slotSize:    cfg.SlotSize,
		slots:       slotpool.New(),
		checksummer: checksum.NewCRC32C(),
	}, nil
}

// SlotSize returns the size of one slot in bytes.
func (d *Disk) SlotSize() int {
	return d.slotSize
}

// Path returns the path of the spill file.
func (d *Disk) Path() string {
	return d.path
}

// Write stores p in the slot of loc, reserving a new slot when loc is nil, and returns
// the location that now holds p. When the write of a newly reserved slot fails the
// slot goes back to the pool and nil is returned. A failed write to an existing
// location leaves its recorded length and checksum untouched.
func (d *Disk) Write(p []byte, loc *Location) (*Location, error) {
	if d.closed.Load() {
		return nil, ErrDiskClosed
	}

	if len(p) > d.slotSize {
		return nil, errors.NewStorageError(
			nil, errors.ErrSystemInvalidInput, "Payload does not fit into a slot",
		).
			WithPath(d.path).
			WithDetail("payloadSize", len(p)).
			WithDetail("slotSize", d.slotSize)
	}

	var slot uint32
	fresh := loc == nil
	if fresh {
		slot = d.slots.Retrieve()
		loc = &Location{disk: d, offset: int64(slot) * int64(d.slotSize)}
	} else if loc.disk != d {
		return nil, d.ownershipError(loc, "write")
	}

	start := time.Now()
	n, err := d.writeFull(p, loc.offset)
	d.metrics.RecordWrite(n, time.Since(start), err)

	if err != nil {
		if fresh {
			d.slots.Add(slot)
		}
		d.log.Errorw("Spill write failed", "offset", loc.offset, "written", n, "size", len(p), "error", err)
		return nil, err
	}

	loc.length = len(p)
	loc.checksum = d.checksummer.Calculate(p)

	d.log.Debugw("Spilled slot", "offset", loc.offset, "size", len(p), "fresh", fresh)
	return loc, nil
}

// Load reads the payload of loc into dst, which must hold at least loc.Len() bytes,
// and verifies its checksum.
func (d *Disk) Load(loc *Location, dst []byte) (int, error) {
	if d.closed.Load() {
		return 0, ErrDiskClosed
	}

	if loc == nil || loc.disk != d {
		return 0, d.ownershipError(loc, "load")
	}

	if len(dst) < loc.length {
		return 0, errors.NewStorageError(
			nil, errors.ErrSystemInvalidInput, "Destination buffer is smaller than the stored payload",
		).
			WithPath(d.path).
			WithOffset(loc.offset).
			WithDetail("bufferSize", len(dst)).
			WithDetail("payloadSize", loc.length)
	}

	start := time.Now()
	n, err := d.readFull(dst[:loc.length], loc.offset)
	if err == nil && !d.checksummer.Verify(dst[:n], loc.checksum) {
		err = errors.NewStorageError(
			nil, errors.ErrIOChecksumMismatch, "Spilled payload failed checksum verification",
		).
			WithPath(d.path).
			WithOffset(loc.offset).
			WithOperation("load").
			WithDetail("expected", loc.checksum).
			WithDetail("actual", d.checksummer.Calculate(dst[:n]))
	}
	d.metrics.RecordLoad(n, time.Since(start), err)

	if err != nil {
		d.log.Errorw("Spill load failed", "offset", loc.offset, "read", n, "size", loc.length, "error", err)
		return n, err
	}

	d.log.Debugw("Loaded slot", "offset", loc.offset, "size", n)
	return n, nil
}

// Recycle returns the slot of loc to the pool. The location must not be used afterwards.
func (d *Disk) Recycle(loc *Location) error {
	if loc == nil || loc.disk != d {
		return d.ownershipError(loc, "recycle")
	}

	if loc.offset%int64(d.slotSize) != 0 {
		return errors.NewStorageError(
			nil, errors.ErrInvalidState, "Location offset is not aligned to a slot",
		).
			WithPath(d.path).
			WithOffset(loc.offset).
			WithDetail("slotSize", d.slotSize)
	}

	slot := uint32(loc.offset / int64(d.slotSize))
	if d.slots.IsFree(slot) {
		return errors.NewStorageError(
			nil, errors.ErrInvalidState, "Slot is already free",
		).
			WithPath(d.path).
			WithOffset(loc.offset)
	}

	d.slots.Add(slot)
	loc.disk = nil
	loc.length = 0
	loc.checksum = 0
	return nil
}

// Close closes and removes the spill file.
func (d *Disk) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return ErrDiskClosed
	}

	d.log.Infow("Closing spill store", "path", d.path)

	var err error
	if closeErr := d.file.Close(); closeErr != nil {
		d.log.Errorw("Failed to close spill file", "path", d.path, "error", closeErr)
		err = multierr.Append(err, errors.NewStorageError(
			closeErr, errors.ErrIOCloseFailed, "Failed to close spill file",
		).WithPath(d.path).WithOperation("close"))
	}

	if removeErr := d.fs.Remove(d.path); removeErr != nil && !os.IsNotExist(removeErr) {
		d.log.Errorw("Failed to remove spill file", "path", d.path, "error", removeErr)
		err = multierr.Append(err, errors.NewStorageError(
			removeErr, errors.ErrIORemoveFailed, "Failed to remove spill file",
		).WithPath(d.path).WithOperation("remove"))
	}

	if err == nil {
		d.log.Infow("Spill store closed")
	}
	return err
}

func (d *Disk) writeFull(p []byte, offset int64) (int, error) {
	if err := d.throttle(len(p)); err != nil {
		return 0, err
	}

	written := 0
	for written < len(p) {
		n, err := d.file.WriteAt(p[written:], offset+int64(written))
		written += n

		if err != nil {
			return written, errors.NewStorageError(
				err, errors.ErrIOWriteFailed, "Failed to write spill slot",
			).
				WithPath(d.path).
				WithOffset(offset).
				WithOperation("write").
				WithDetail("written", written).
				WithDetail("size", len(p))
		}

		if n == 0 {
			return written, errors.NewStorageError(
				io.ErrShortWrite, errors.ErrIOWriteFailed,
				fmt.Sprintf(
					"Short write occurred: %s written, expected %s",
					options.FormatBytes(uint64(written)), options.FormatBytes(uint64(len(p))),
				),
			).
				WithPath(d.path).
				WithOffset(offset).
				WithOperation("write")
		}
	}
	return written, nil
}

func (d *Disk) readFull(p []byte, offset int64) (int, error) {
	if err := d.throttle(len(p)); err != nil {
		return 0, err
	}

	read := 0
	for read < len(p) {
		n, err := d.file.ReadAt(p[read:], offset+int64(read))
		read += n

		if read == len(p) {
			break
		}

		if err == io.EOF {
			return read, errors.NewStorageError(
				err, errors.ErrIOUnexpectedEOF, "Spill file ended before the slot payload",
			).
				WithPath(d.path).
				WithOffset(offset).
				WithOperation("load").
				WithDetail("read", read).
				WithDetail("size", len(p))
		}

		if err != nil {
			return read, errors.NewStorageError(
				err, errors.ErrIOReadFailed, "Failed to read spill slot",
			).
				WithPath(d.path).
				WithOffset(offset).
				WithOperation("load")
		}

		if n == 0 {
			return read, errors.NewStorageError(
				io.ErrNoProgress, errors.ErrIOReadFailed, "Spill read made no progress",
			).
				WithPath(d.path).
				WithOffset(offset).
				WithOperation("load")
		}
	}
	return read, nil
}

func (d *Disk) throttle(n int) error {
	if d.limiter == nil || n == 0 {
		return nil
	}

	if err := d.limiter.WaitN(context.Background(), n); err != nil {
		return errors.NewStorageError(err, errors.ErrSystemInternal, "IO throttle rejected transfer").
			WithPath(d.path).
			WithDetail("bytes", n)
	}
	return nil
}

func (d *Disk) ownershipError(loc *Location, op string) *errors.StorageError {
	se := errors.NewStorageError(
		nil, errors.ErrOwnershipMismatch, fmt.Sprintf("Location does not belong to this spill store (%s)", op),
	).
		WithPath(d.path)

	if loc != nil {
		se.WithOffset(loc.offset)
	}
	return se
}

// Removes spill files with the same prefix that were created by other processes.
func removeStaleFiles(log *zap.SugaredLogger, fs filesys.FileSystem, dir, prefix string) {
	files, err := seginfo.ListSpillFiles(dir, prefix)
	if err != nil {
		log.Warnw("Failed to list stale spill files", "directory", dir, "error", err)
		return
	}

	self := os.Getpid()
	removed := 0

	for _, path := range files {
		pid, _, err := seginfo.ParseName(path, prefix)
		if err != nil || pid == self {
			continue
		}

		if err := fs.Remove(path); err != nil {
			log.Warnw("Failed to remove stale spill file", "path", path, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		log.Infow("Removed stale spill files", "directory", dir, "count", removed)
	}
}
