package stream

import (
	"errors"
	"fmt"

	"github.com/norasector/syncstream/pkg/syncstream/device"
)

const noChannel device.Channel = -1

// ConfigurationError is a failed setup step. The session never starts
// streaming after one.
type ConfigurationError struct {
	Op      string
	Channel device.Channel
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Channel == noChannel {
		return fmt.Sprintf("configure: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("configure %s: %s: %v", e.Channel, e.Op, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// TransferFailure ends a session in the Faulted state.
type TransferFailure struct {
	Direction device.Direction
	// Iteration is 1-based; zero means the clock could not be read.
	Iteration int
	Timestamp uint64
	Err       error
}

func (e *TransferFailure) Error() string {
	if e.Iteration == 0 {
		return fmt.Sprintf("%s: reading device timestamp: %v", e.Direction, e.Err)
	}
	return fmt.Sprintf("%s transfer %d at t=%d failed: %v", e.Direction, e.Iteration, e.Timestamp, e.Err)
}

func (e *TransferFailure) Unwrap() error { return e.Err }

// Timeout reports whether the call ran out of its time budget.
func (e *TransferFailure) Timeout() bool {
	return errors.Is(e.Err, device.ErrTimeout)
}
