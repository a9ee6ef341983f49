package stream

import "github.com/norasector/syncstream/pkg/syncstream/device"

// ClockParams are expressed in device sample ticks.
type ClockParams struct {
	// SyncInterval is the distance between forced realignments.
	SyncInterval uint64
	// DriftMargin widens the window in which the schedule snaps to the next
	// resync point.
	DriftMargin uint64
	// Delay is the fixed increment between transfers outside that window.
	Delay uint64
	// Window is added to DriftMargin; normally one second of samples.
	Window uint64
}

// DefaultClockParams resyncs every five seconds of device time. RX transfers
// are spaced 300 ms apart, TX bursts one second apart.
func DefaultClockParams(dir device.Direction, sampleRate uint32) ClockParams {
	rate := uint64(sampleRate)
	p := ClockParams{
		SyncInterval: rate * 5,
		DriftMargin:  rate * 300 / 1000,
		Delay:        rate * 300 / 1000,
		Window:       rate,
	}
	if dir == device.TX {
		p.Delay = rate
	}
	return p
}

type SyncEvent int

const (
	SyncNone SyncEvent = iota
	// SyncCompleted means the device delivered the block scheduled on the
	// resync point.
	SyncCompleted
	// SyncMissed means the device clock jumped past the resync point.
	SyncMissed
)

func (e SyncEvent) String() string {
	switch e {
	case SyncCompleted:
		return "completed"
	case SyncMissed:
		return "missed"
	}
	return "none"
}

// ClockCursor tracks the scheduling timestamp for one session.
//
// Current never decreases. NextResync is ahead of Current except right after
// a snap, where both are equal until the snapped block has been observed.
type ClockCursor struct {
	Current      uint64
	SyncInterval uint64
	NextResync   uint64
	DriftMargin  uint64
	Delay        uint64
	Window       uint64
}

// Seed starts a cursor at the device's current timestamp.
func Seed(initial uint64, p ClockParams) *ClockCursor {
	return &ClockCursor{
		Current:      initial,
		SyncInterval: p.SyncInterval,
		NextResync:   initial + p.SyncInterval,
		DriftMargin:  p.DriftMargin,
		Delay:        p.Delay,
		Window:       p.Window,
	}
}

// Advance moves the cursor to the next scheduled timestamp and returns it.
// Close to the resync point the schedule snaps onto it, absorbing whatever
// drift accumulated; otherwise it steps by Delay. A step never passes the
// resync point.
func (c *ClockCursor) Advance() uint64 {
	var gap uint64
	if c.NextResync > c.Current {
		gap = c.NextResync - c.Current
	}

	if gap <= c.DriftMargin+c.Window || gap <= c.Delay {
		if c.NextResync > c.Current {
			c.Current = c.NextResync
		}
		return c.Current
	}
	c.Current += c.Delay
	return c.Current
}

// Observe feeds back the timestamp the device reported for the last transfer.
func (c *ClockCursor) Observe(actual uint64) SyncEvent {
	switch {
	case actual == c.NextResync:
		c.Current = actual
		c.NextResync = actual + c.SyncInterval
		return SyncCompleted
	case actual > c.NextResync:
		c.Current = actual
		c.NextResync = actual + c.SyncInterval
		return SyncMissed
	case actual > c.Current:
		c.Current = actual
	}
	return SyncNone
}
