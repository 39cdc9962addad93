package manmem

import (
	"fmt"
	"math"

	"github.com/iamBelugaa/manmem/pkg/errors"
	"github.com/iamBelugaa/manmem/pkg/options"
)

func isValidRequest(bytes int64) error {
	if bytes <= 0 {
		return errors.NewRequiredFieldError("bytes").WithExpected(1).WithProvided(bytes)
	}

	if bytes > math.MaxInt64-int64(options.MaxSegmentSize) {
		return errors.NewFieldRangeError("bytes", bytes, 1, math.MaxInt64-int64(options.MaxSegmentSize)).
			WithMessage(
				fmt.Sprintf("Requested size %s is too large", options.FormatBytes(uint64(bytes))),
			)
	}

	return nil
}
