package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/norasector/syncstream/pkg/syncstream/device"
	"github.com/norasector/syncstream/pkg/syncstream/stream"
)

type Config struct {
	Device            string            `yaml:"device"`
	DeviceArgs        map[string]string `yaml:"device_args"`
	DeviceLogLevel    string            `yaml:"device_log_level"`
	RTLSDRDeviceIndex int               `yaml:"rtlsdr_device_index"`
	HackRFAmp         bool              `yaml:"hackrf_amp"`
	PlaybackLocation  string            `yaml:"playback_location"`
	PlaybackLoop      bool              `yaml:"playback_loop"`
	PlaybackInterval  int               `yaml:"playback_interval_ms"`
	RecordLocation    string            `yaml:"record_location"`
	LogLevel          string            `yaml:"log_level"`
	// Sessions is how many times a session is run back to back; Retries is
	// how many faulted sessions are tolerated before giving up.
	Sessions int    `yaml:"sessions"`
	Retries  int    `yaml:"retries"`
	RX       Stream `yaml:"rx"`
	TX       Stream `yaml:"tx"`
	Monitor  struct {
		Port           int `yaml:"port"`
		UpdateInterval int `yaml:"update_interval_ms"`
	} `yaml:"monitor"`
	InfluxDB struct {
		Host         string `yaml:"host"`
		Organization string `yaml:"organization"`
		Bucket       string `yaml:"bucket"`
	} `yaml:"influxdb"`
}

// Stream holds the settings of one direction. Zero clock and sync values
// fall back to the stream package defaults.
type Stream struct {
	Channels     []string `yaml:"channels,flow"`
	SampleRate   uint32   `yaml:"sample_rate"`
	Frequency    uint64   `yaml:"frequency"`
	Gain         int      `yaml:"gain"`
	FrameCount   int      `yaml:"frame_count"`
	Iterations   int      `yaml:"iterations"`
	Unbounded    bool     `yaml:"unbounded"`
	Format       string   `yaml:"format"`
	BurstMode    bool     `yaml:"burst_mode"`
	Timeout      int      `yaml:"timeout_ms"`
	SyncInterval int      `yaml:"sync_interval_ms"`
	Delay        int      `yaml:"delay_ms"`
	NumBuffers   int      `yaml:"num_buffers"`
	BufferSize   int      `yaml:"buffer_size"`
	NumTransfers int      `yaml:"num_transfers"`
	SyncTimeout  int      `yaml:"sync_timeout_ms"`
}

// Default is the reference setup: a 900 MHz tone burst every second on TX1
// and five RX1 captures of 200 ms, both at 30.72 Msps.
func Default() Config {
	var c Config
	c.Device = "sim"
	c.DeviceLogLevel = "error"
	c.LogLevel = "info"
	c.Sessions = 1
	c.RX = Stream{
		Channels:   []string{"rx1"},
		SampleRate: 30720000,
		Frequency:  900000000,
		Gain:       50,
		FrameCount: 6144000,
		Iterations: 5,
		Timeout:    int(stream.DefaultRXTimeout / time.Millisecond),
	}
	c.TX = Stream{
		Channels:   []string{"tx1"},
		SampleRate: 30720000,
		Frequency:  900000000,
		Gain:       60,
		FrameCount: 200000,
		Iterations: 80,
		BurstMode:  true,
		Timeout:    int(stream.DefaultTXTimeout / time.Millisecond),
	}
	c.Monitor.UpdateInterval = 1000
	return c
}

// Load overlays the YAML file at path on Default.
func Load(path string) (Config, error) {
	c := Default()
	contents, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.UnmarshalStrict(contents, &c); err != nil {
		return c, fmt.Errorf("parsing %s: %w", path, err)
	}
	return c, nil
}

func (c Config) Stream(dir device.Direction) Stream {
	if dir == device.TX {
		return c.TX
	}
	return c.RX
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// ToStream builds a validated stream configuration for dir.
func (s Stream) ToStream(dir device.Direction) (stream.Config, error) {
	channels := make([]device.Channel, 0, len(s.Channels))
	for _, name := range s.Channels {
		ch, err := device.ParseChannel(name)
		if err != nil {
			return stream.Config{}, err
		}
		channels = append(channels, ch)
	}

	cfg := stream.NewConfig(dir, channels, s.SampleRate, s.FrameCount, s.Iterations)
	cfg.Frequency = s.Frequency
	cfg.Gain = s.Gain
	cfg.Unbounded = s.Unbounded
	cfg.BurstMode = s.BurstMode

	format, err := device.ParseFormat(s.Format)
	if err != nil {
		return stream.Config{}, err
	}
	cfg.Format = format

	if s.Timeout > 0 {
		cfg.Timeout = ms(s.Timeout)
	}
	rate := uint64(s.SampleRate)
	if s.SyncInterval > 0 {
		cfg.Clock.SyncInterval = rate * uint64(s.SyncInterval) / 1000
	}
	if s.Delay > 0 {
		cfg.Clock.Delay = rate * uint64(s.Delay) / 1000
	}
	if s.NumBuffers > 0 {
		cfg.Sync.NumBuffers = s.NumBuffers
	}
	if s.BufferSize > 0 {
		cfg.Sync.BufferSize = s.BufferSize
	}
	if s.NumTransfers > 0 {
		cfg.Sync.NumTransfers = s.NumTransfers
	}
	if s.SyncTimeout > 0 {
		cfg.Sync.StreamTimeout = ms(s.SyncTimeout)
	}

	if err := cfg.Validate(); err != nil {
		return stream.Config{}, err
	}
	return cfg, nil
}
