// Package manmem provides fixed-size memory segments whose total size is bounded by a
// configurable capacity. Segments that do not fit are spilled to a file and loaded back
// transparently on the next access.
package manmem

import (
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/iamBelugaa/manmem/internal/engine"
	"github.com/iamBelugaa/manmem/pkg/logger"
	"github.com/iamBelugaa/manmem/pkg/options"
)

type (
	// Segment is a handle to one segment of managed memory.
	Segment = engine.Segment

	// Access is an open read or write view of a segment.
	Access = engine.Access

	Mode  = engine.Mode
	Stats = engine.Stats
)

const (
	ModeRead  = engine.ModeRead
	ModeWrite = engine.ModeWrite
)

// Instance is a memory manager together with its logger and configuration.
type Instance struct {
	manager *engine.Manager
	options *options.Options
	log     *zap.SugaredLogger
}

// NewInstance creates a memory manager that logs as service.
func NewInstance(service string, opts ...options.OptionFunc) (*Instance, error) {
	return NewInstanceWithLogger(logger.New(service), opts...)
}

// NewInstanceWithLogger creates a memory manager that logs to log.
func NewInstanceWithLogger(log *zap.SugaredLogger, opts ...options.OptionFunc) (*Instance, error) {
	defaultOpts := options.DefaultOptions()
	defaultOpts.Apply(opts...)

	manager, err := engine.New(log, &defaultOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize memory manager: %w", err)
	}

	log.Infow(
		"Managed memory instance initialized successfully",
		"capacity", options.FormatBytes(uint64(defaultOpts.Capacity)),
		"segmentSize", options.FormatBytes(uint64(defaultOpts.SegmentSize)),
	)

	return &Instance{manager: manager, options: &defaultOpts, log: log}, nil
}

// RequestDefaultMemory returns a new empty segment of DefaultSegmentSize bytes.
func (i *Instance) RequestDefaultMemory() (*Segment, error) {
	return i.manager.RequestDefaultMemory()
}

// RequestMemory returns enough segments to hold bytes bytes. On failure every segment
// obtained so far is released again.
func (i *Instance) RequestMemory(bytes int64) ([]*Segment, error) {
	if err := isValidRequest(bytes); err != nil {
		return nil, err
	}

	n := engine.RequiredSegments(bytes, i.manager.DefaultSegmentSize())
	segments := make([]*Segment, 0, n)

	for len(segments) < n {
		seg, err := i.manager.RequestDefaultMemory()
		if err != nil {
			for _, s := range segments {
				if releaseErr := s.Release(); releaseErr != nil {
					i.log.Errorw("Failed to release segment after failed request", "segmentID", s.ID(), "error", releaseErr)
				}
			}
			return nil, err
		}
		segments = append(segments, seg)
	}

	i.log.Debugw("Requested memory", "bytes", bytes, "segments", n)
	return segments, nil
}

// Resize changes the capacity, see engine.Manager.Resize for the shrinking rules.
func (i *Instance) Resize(capacity int64) error {
	i.log.Infow("Resize request received", "capacity", capacity)
	return i.manager.Resize(capacity)
}

func (i *Instance) DefaultSegmentSize() int {
	return i.manager.DefaultSegmentSize()
}

func (i *Instance) Capacity() int64 {
	return i.manager.Capacity()
}

func (i *Instance) UsedCapacity() int64 {
	return i.manager.UsedCapacity()
}

func (i *Instance) Stats() Stats {
	return i.manager.Stats()
}

// Options returns a copy of the options the instance was created with.
func (i *Instance) Options() options.Options {
	return *i.options
}

// Close releases the spill file.
func (i *Instance) Close() error {
	i.log.Infow("Close request received")
	return i.manager.Close()
}

// RequiredSegments returns how many segments of segmentSize bytes hold memory bytes.
func RequiredSegments(memory int64, segmentSize int) int {
	return engine.RequiredSegments(memory, segmentSize)
}

// ProvidedMemory returns the bytes held by numSegments segments.
func ProvidedMemory(numSegments, segmentSize int) int64 {
	return engine.ProvidedMemory(numSegments, segmentSize)
}

// FitMemoryToSegments rounds memory up to a whole number of segments.
func FitMemoryToSegments(memory int64, segmentSize int) int64 {
	return engine.FitMemoryToSegments(memory, segmentSize)
}

// Allocator hands out default-size segments. *Instance satisfies it.
type Allocator interface {
	RequestDefaultMemory() (*Segment, error)
	DefaultSegmentSize() int
}

var _ Allocator = (*Instance)(nil)

// ReleaseAll releases every segment and returns the combined errors.
func ReleaseAll(segments []*Segment) error {
	var err error
	for _, seg := range segments {
		err = multierr.Append(err, seg.Release())
	}
	return err
}
