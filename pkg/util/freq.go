package util

import (
	"fmt"
	"time"
)

func MHzToString(hz uint64) string {
	return fmt.Sprintf("%0.4f MHz", float64(hz)/1e6)
}

// SamplesToDuration converts a sample count at rate into wall time.
func SamplesToDuration(samples uint64, rate uint32) time.Duration {
	if rate == 0 {
		return 0
	}
	secs := samples / uint64(rate)
	rem := samples % uint64(rate)
	return time.Duration(secs)*time.Second + time.Duration(rem)*time.Second/time.Duration(rate)
}
