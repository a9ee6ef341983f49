package stream

import (
	"fmt"
	"time"

	"github.com/norasector/syncstream/pkg/syncstream/device"
)

const (
	DefaultRXTimeout = 10 * time.Second
	DefaultTXTimeout = time.Second
)

// Config describes one streaming session. It is passed by value and never
// modified once a scheduler has been built from it.
type Config struct {
	Direction  device.Direction
	Channels   []device.Channel
	SampleRate uint32
	Frequency  uint64
	Gain       int
	// FrameCount is the number of I/Q pairs requested per transfer.
	FrameCount int
	// IterationCount bounds the number of transfers unless Unbounded is set.
	IterationCount int
	Unbounded      bool
	Format         device.Format
	BurstMode      bool
	Sync           device.SyncConfig
	Clock          ClockParams
	// Timeout is the hard budget for a single transfer call.
	Timeout time.Duration
}

// NewConfig fills the clock, sync and timeout settings with the defaults for
// the direction.
func NewConfig(dir device.Direction, channels []device.Channel, sampleRate uint32, frameCount, iterations int) Config {
	cfg := Config{
		Direction:      dir,
		Channels:       channels,
		SampleRate:     sampleRate,
		FrameCount:     frameCount,
		IterationCount: iterations,
		Format:         device.FormatSC16Q11Meta,
		BurstMode:      dir == device.TX,
		Sync:           device.DefaultSyncConfig(),
		Clock:          DefaultClockParams(dir, sampleRate),
		Timeout:        DefaultRXTimeout,
	}
	if dir == device.TX {
		cfg.Timeout = DefaultTXTimeout
	}
	return cfg
}

func (c Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return &ConfigurationError{Op: "validate", Channel: noChannel, Err: fmt.Errorf(format, args...)}
	}

	if c.Direction != device.RX && c.Direction != device.TX {
		return invalid("unknown direction %v", c.Direction)
	}
	if len(c.Channels) == 0 {
		return invalid("no channels configured")
	}
	seen := make(map[device.Channel]struct{}, len(c.Channels))
	for _, ch := range c.Channels {
		if ch < 0 {
			return invalid("invalid channel %d", int(ch))
		}
		if ch.Direction() != c.Direction {
			return invalid("channel %s does not match direction %s", ch, c.Direction)
		}
		if _, ok := seen[ch]; ok {
			return invalid("channel %s listed twice", ch)
		}
		seen[ch] = struct{}{}
	}
	if _, err := device.LayoutFor(c.Direction, len(c.Channels)); err != nil {
		return invalid("%v", err)
	}
	if c.SampleRate == 0 {
		return invalid("sample rate must be positive")
	}
	if c.FrameCount <= 0 {
		return invalid("frame count must be positive, got %d", c.FrameCount)
	}
	if c.IterationCount < 0 {
		return invalid("iteration count must not be negative, got %d", c.IterationCount)
	}
	if c.BurstMode && c.Direction == device.RX {
		return invalid("burst framing applies to tx only")
	}
	if c.Timeout < 0 {
		return invalid("timeout must not be negative")
	}
	if c.Clock.SyncInterval == 0 {
		return invalid("sync interval must be positive")
	}
	if c.Clock.Delay == 0 {
		return invalid("scheduling delay must be positive")
	}
	return nil
}

// SyncConfig is the sync interface setup derived from the session: layout
// follows the channel set and the sample format follows Format.
func (c Config) SyncConfig() device.SyncConfig {
	sc := c.Sync
	sc.Layout, _ = device.LayoutFor(c.Direction, len(c.Channels))
	sc.Format = c.Format
	return sc
}
