package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/norasector/syncstream/pkg/syncstream/device"
	"github.com/norasector/syncstream/pkg/syncstream/device/sim"
	"github.com/norasector/syncstream/pkg/util"
)

func newTestSession(t *testing.T, cfg Config, dev device.Device, opts ...SchedulerOption) *Session {
	t.Helper()
	buf := make([]int16, 2*cfg.FrameCount)
	opts = append([]SchedulerOption{WithLogger(zerolog.Nop())}, opts...)

	var (
		sched *Scheduler
		err   error
	)
	if cfg.Direction == device.RX {
		sched, err = NewRXScheduler(cfg, buf, opts...)
	} else {
		sched, err = NewTXScheduler(cfg, CWTone(cfg.FrameCount, FullScale), opts...)
	}
	if err != nil {
		t.Fatal(err)
	}
	return NewSession(device.NewHandle(dev), sched)
}

func TestSessionRX(t *testing.T) {
	cfg := NewConfig(device.RX, []device.Channel{device.RX1, device.RX2}, 1e6, 1024, 3)
	cfg.Frequency = 2400000000
	cfg.Gain = 30
	dev := sim.New(sim.Options{ToneAmplitude: FullScale})
	s := newTestSession(t, cfg, dev)

	stats, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if s.State() != StateStopped || stats.Iterations != 3 {
		t.Fatalf("state = %s, iterations = %d", s.State(), stats.Iterations)
	}

	sc, ok := dev.SyncConfig()
	if !ok || sc.Layout != device.LayoutRXX2 || sc.Format != device.FormatSC16Q11Meta {
		t.Errorf("sync config = %+v", sc)
	}
	for _, ch := range cfg.Channels {
		if dev.Frequency(ch) != cfg.Frequency {
			t.Errorf("%s frequency = %d", ch, dev.Frequency(ch))
		}
		if mode, ok := dev.GainMode(ch); !ok || mode != device.GainModeManual {
			t.Errorf("%s gain mode = %v", ch, mode)
		}
		if dev.Enabled(ch) {
			t.Errorf("%s left enabled", ch)
		}
	}

	if _, err := s.Run(context.Background()); err == nil {
		t.Fatal("second run of a stopped session succeeded")
	}
}

func TestSessionTXSkipsGainMode(t *testing.T) {
	cfg := NewConfig(device.TX, []device.Channel{device.TX1}, 1e6, 1024, 2)
	dev := sim.New(sim.Options{})
	s := newTestSession(t, cfg, dev)

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if _, ok := dev.GainMode(device.TX1); ok {
		t.Error("gain mode set on a tx channel")
	}
	if len(dev.Bursts()) != 2 {
		t.Errorf("bursts = %d", len(dev.Bursts()))
	}
}

func TestSessionConfigurationFailure(t *testing.T) {
	boom := errors.New("not supported")
	tests := []struct {
		op     string
		wantOp string
	}{
		{"frequency", "set frequency"},
		{"sample_rate", "set sample rate"},
		{"gain_mode", "set gain mode"},
		{"gain", "set gain"},
		{"sync_config", "sync config"},
		{"enable", "enable module"},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			cfg := NewConfig(device.RX, []device.Channel{device.RX1}, 1e6, 1024, 3)
			dev := sim.New(sim.Options{FailSetup: map[string]error{tt.op: boom}})
			s := newTestSession(t, cfg, dev)

			_, err := s.Run(context.Background())
			var cerr *ConfigurationError
			if !errors.As(err, &cerr) || cerr.Op != tt.wantOp || !errors.Is(err, boom) {
				t.Fatalf("Run() = %v, want configuration error from %q", err, tt.wantOp)
			}
			if s.State() != StateFaulted || dev.Calls() != 0 {
				t.Fatalf("state = %s, calls = %d", s.State(), dev.Calls())
			}
			if dev.Enabled(device.RX1) {
				t.Error("module left enabled")
			}
		})
	}
}

func TestSessionConfigurationFailureWritesSummary(t *testing.T) {
	cfg := NewConfig(device.RX, []device.Channel{device.RX1}, 1e6, 1024, 3)
	writeAPI := &util.MockWriteAPI{Limit: 10}
	sched, err := NewRXScheduler(cfg, make([]int16, 2*cfg.FrameCount),
		WithLogger(zerolog.Nop()), WithInfluxDB(writeAPI))
	if err != nil {
		t.Fatal(err)
	}
	dev := sim.New(sim.Options{FailSetup: map[string]error{"gain": errors.New("not supported")}})
	s := NewSession(device.NewHandle(dev), sched, WithSessionID(4))

	var cerr *ConfigurationError
	if _, err := s.Run(context.Background()); !errors.As(err, &cerr) {
		t.Fatalf("Run() = %v, want configuration error", err)
	}
	points := writeAPI.Points()
	if len(points) != 1 {
		t.Fatalf("wrote %d points, want 1", len(points))
	}
	p := points[0]
	if p.Name() != "syncstream.session" {
		t.Fatalf("point = %q", p.Name())
	}
	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["state"] != "faulted" || tags["session"] != "4" || tags["direction"] != "rx" {
		t.Fatalf("tags = %v", tags)
	}
}

func TestSessionTransferFailureDisablesModules(t *testing.T) {
	cfg := NewConfig(device.RX, []device.Channel{device.RX1}, 1e6, 1024, 5)
	dev := sim.New(sim.Options{FailAt: map[int]error{3: errors.New("dropped")}})
	s := newTestSession(t, cfg, dev)

	stats, err := s.Run(context.Background())
	var fail *TransferFailure
	if !errors.As(err, &fail) || fail.Iteration != 3 {
		t.Fatalf("Run() = %v", err)
	}
	if s.State() != StateFaulted || stats.Iterations != 2 || dev.Calls() != 3 {
		t.Fatalf("state = %s, iterations = %d, calls = %d", s.State(), stats.Iterations, dev.Calls())
	}
	if dev.Enabled(device.RX1) {
		t.Error("module left enabled")
	}
}

func TestSessionStopRequest(t *testing.T) {
	cfg := NewConfig(device.RX, []device.Channel{device.RX1}, 1e6, 1024, 0)
	cfg.Unbounded = true
	dev := sim.New(sim.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newTestSession(t, cfg, dev, WithBlockHandler(func(b Block) {
		if b.Iteration == 3 {
			cancel()
		}
	}))

	if _, err := s.Run(ctx); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if s.State() != StateStopped || dev.Calls() != 3 || dev.Enabled(device.RX1) {
		t.Fatalf("state = %s, calls = %d", s.State(), dev.Calls())
	}
}

func TestSessionClosedHandle(t *testing.T) {
	cfg := NewConfig(device.RX, []device.Channel{device.RX1}, 1e6, 1024, 1)
	sched, err := NewRXScheduler(cfg, make([]int16, 2*cfg.FrameCount), WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	h := device.NewHandle(sim.New(sim.Options{}))
	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	s := NewSession(h, sched)
	if _, err := s.Run(context.Background()); !errors.Is(err, device.ErrClosed) {
		t.Fatalf("Run() = %v, want ErrClosed", err)
	}
	if s.State() != StateFaulted {
		t.Fatalf("state = %s", s.State())
	}
}

func TestSessionWritesSummary(t *testing.T) {
	cfg := NewConfig(device.RX, []device.Channel{device.RX1}, 1e6, 1024, 2)
	writeAPI := &util.MockWriteAPI{Limit: 10}
	s := newTestSession(t, cfg, sim.New(sim.Options{}), WithInfluxDB(writeAPI))

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	points := writeAPI.Points()
	if len(points) != 3 {
		t.Fatalf("wrote %d points, want 3", len(points))
	}
	if name := points[2].Name(); name != "syncstream.session" {
		t.Fatalf("last point = %q", name)
	}
}
