package virtio

import (
	"errors"
	"fmt"
)

// ErrQueueSizeInvalid is returned when a queue size is invalid.
var ErrQueueSizeInvalid = errors.New("queue size is invalid")

// CheckQueueSize checks if the given value would be a valid size for a
// virtqueue and returns ErrQueueSizeInvalid if not.
func CheckQueueSize(queueSize int) error {
	if queueSize <= 0 {
		return fmt.Errorf("%w: %d is too small", ErrQueueSizeInvalid, queueSize)
	}

	// The queue size must always be a power of 2: ring indexes need to wrap
	// correctly when the 16-bit counters overflow.
	if queueSize&(queueSize-1) != 0 {
		return fmt.Errorf("%w: %d is not a power of 2", ErrQueueSizeInvalid, queueSize)
	}

	if queueSize > 32768 {
		return fmt.Errorf("%w: %d is larger than the maximum possible queue size 32768",
			ErrQueueSizeInvalid, queueSize)
	}

	return nil
}

func align(index, alignment int) int {
	remainder := index % alignment
	if remainder == 0 {
		return index
	}
	return index + alignment - remainder
}
