package util

import "time"

// TimeOperationMicroseconds runs op and reports how long it blocked.
func TimeOperationMicroseconds(op func() error) (int64, error) {
	start := time.Now()
	err := op()
	return time.Since(start).Microseconds(), err
}
