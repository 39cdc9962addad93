package options

import (
	"fmt"

	"github.com/iamBelugaa/manmem/pkg/errors"
)

// Validate checks the options for values the manager cannot work with.
func (o *Options) Validate() error {
	if o.SegmentSize < MinSegmentSize || o.SegmentSize > MaxSegmentSize {
		return errors.NewFieldRangeError("segmentSize", o.SegmentSize, MinSegmentSize, MaxSegmentSize)
	}

	if o.Capacity < 0 {
		return errors.NewFieldRangeError("capacity", o.Capacity, 0, "max int64").
			WithMessage(fmt.Sprintf("Capacity must not be negative, got %d", o.Capacity))
	}

	if o.MaxConcurrentReads <= 0 {
		return errors.NewRequiredFieldError("maxConcurrentReads").WithExpected(1).WithProvided(o.MaxConcurrentReads)
	}

	if o.SpillOptions == nil {
		return errors.NewRequiredFieldError("spillOptions")
	}

	if o.SpillOptions.Directory == "" {
		return errors.NewRequiredFieldError("spillOptions.directory")
	}

	if o.SpillOptions.Prefix == "" {
		return errors.NewRequiredFieldError("spillOptions.prefix")
	}

	if o.SpillOptions.IOLimitBytesPerSec < 0 {
		return errors.NewFieldRangeError("spillOptions.ioLimitBytesPerSec", o.SpillOptions.IOLimitBytesPerSec, 0, "max int64")
	}

	return nil
}
