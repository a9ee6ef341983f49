package device

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrTimeout       = errors.New("transfer timed out")
	ErrUnsupported   = errors.New("operation not supported by device")
	ErrBusy          = errors.New("device handle is in use")
	ErrClosed        = errors.New("device is closed")
	ErrNotConfigured = errors.New("sync interface not configured")
)

type Direction int

const (
	RX Direction = iota
	TX
)

func (d Direction) String() string {
	switch d {
	case RX:
		return "rx"
	case TX:
		return "tx"
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// Channel identifiers follow the bladeRF numbering: even channels receive,
// odd channels transmit.
type Channel int

const (
	RX1 Channel = 0
	TX1 Channel = 1
	RX2 Channel = 2
	TX2 Channel = 3
)

func (c Channel) Direction() Direction {
	if c&1 == 1 {
		return TX
	}
	return RX
}

// Index is the zero-based channel number within its direction.
func (c Channel) Index() uint {
	return uint(c >> 1)
}

func (c Channel) String() string {
	return fmt.Sprintf("%s%d", c.Direction(), c.Index()+1)
}

// ParseChannel accepts the names produced by Channel.String, e.g. "tx2".
func ParseChannel(s string) (Channel, error) {
	for _, ch := range []Channel{RX1, TX1, RX2, TX2} {
		if strings.EqualFold(s, ch.String()) {
			return ch, nil
		}
	}
	return 0, fmt.Errorf("unknown channel %q", s)
}

type Layout int

const (
	LayoutRXX1 Layout = iota
	LayoutTXX1
	LayoutRXX2
	LayoutTXX2
)

// LayoutFor picks the sync layout for a direction and channel count.
func LayoutFor(dir Direction, channels int) (Layout, error) {
	switch {
	case dir == RX && channels == 1:
		return LayoutRXX1, nil
	case dir == TX && channels == 1:
		return LayoutTXX1, nil
	case dir == RX && channels == 2:
		return LayoutRXX2, nil
	case dir == TX && channels == 2:
		return LayoutTXX2, nil
	}
	return 0, fmt.Errorf("no layout for %d %s channels", channels, dir)
}

func (l Layout) Channels() int {
	if l == LayoutRXX2 || l == LayoutTXX2 {
		return 2
	}
	return 1
}

type Format int

const (
	// FormatSC16Q11 is continuous interleaved 16-bit I/Q with no timestamps.
	FormatSC16Q11 Format = iota
	// FormatSC16Q11Meta frames every transfer with timestamp metadata.
	FormatSC16Q11Meta
)

func (f Format) String() string {
	switch f {
	case FormatSC16Q11:
		return "sc16_q11"
	case FormatSC16Q11Meta:
		return "sc16_q11_meta"
	}
	return fmt.Sprintf("format(%d)", int(f))
}

func ParseFormat(s string) (Format, error) {
	switch s {
	case "sc16_q11", "continuous":
		return FormatSC16Q11, nil
	case "sc16_q11_meta", "metadata", "":
		return FormatSC16Q11Meta, nil
	}
	return 0, fmt.Errorf("unknown sample format %q", s)
}

type GainMode int

const (
	GainModeDefault GainMode = iota
	GainModeManual
	GainModeFastAttack
	GainModeSlowAttack
	GainModeHybrid
)

type Flags uint32

const (
	FlagBurstStart Flags = 1 << 0
	FlagBurstEnd   Flags = 1 << 1
	FlagTXNow      Flags = 1 << 2
	FlagRXNow      Flags = 1 << 31
)

type Status uint32

const (
	StatusOverrun  Status = 1 << 0
	StatusUnderrun Status = 1 << 1
)

// Metadata travels with every sync transfer. Timestamp and Flags are inputs;
// the device fills Status, ActualCount and, for RX, the timestamp of the
// first returned sample.
type Metadata struct {
	Timestamp   uint64
	Flags       Flags
	Status      Status
	ActualCount int
}

func (m Metadata) Overrun() bool {
	return m.Status&StatusOverrun != 0
}

type SyncConfig struct {
	Layout        Layout
	Format        Format
	NumBuffers    int
	BufferSize    int
	NumTransfers  int
	StreamTimeout time.Duration
}

func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		Layout:        LayoutRXX1,
		Format:        FormatSC16Q11Meta,
		NumBuffers:    512,
		BufferSize:    32 * 1024,
		NumTransfers:  16,
		StreamTimeout: time.Second,
	}
}

// Device is a transceiver session. Every method blocks until the hardware
// answers; none of them may be called concurrently. Buffers handed to SyncRX
// and SyncTX belong to the caller and are not retained after return.
type Device interface {
	SetFrequency(ch Channel, hz uint64) error
	SetSampleRate(ch Channel, hz uint32) error
	SetGainMode(ch Channel, mode GainMode) error
	SetGain(ch Channel, db int) error
	ConfigureSync(cfg SyncConfig) error
	EnableModule(ch Channel, enable bool) error
	CurrentTimestamp(dir Direction) (uint64, error)
	SyncRX(buf []int16, count int, meta *Metadata, timeout time.Duration) error
	SyncTX(buf []int16, count int, meta *Metadata, timeout time.Duration) error
	Close() error
}

// CheckBuffer verifies buf can hold count interleaved I/Q pairs.
func CheckBuffer(buf []int16, count int) error {
	if count <= 0 {
		return fmt.Errorf("invalid sample count %d", count)
	}
	if len(buf) < 2*count {
		return fmt.Errorf("buffer holds %d pairs, %d requested", len(buf)/2, count)
	}
	return nil
}
