package stream

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/norasector/syncstream/pkg/syncstream/device"
	"github.com/norasector/syncstream/pkg/util"
)

// Block describes one completed transfer.
type Block struct {
	Direction   device.Direction
	Iteration   int
	Scheduled   uint64
	Timestamp   uint64
	ActualCount int
	Overrun     bool
	Sync        SyncEvent
	// PowerDBFS is set for RX blocks without overrun.
	PowerDBFS float64
	HasPower  bool
	// Samples aliases the RX buffer and is only valid inside the handler.
	Samples    []int16
	TransferUs int64
}

type BlockHandler func(b Block)

// path is the direction-specific half of a scheduler.
type path interface {
	direction() device.Direction
	transfer(dev device.Device, meta *device.Metadata, count int, timeout time.Duration) error
	inspect(meta device.Metadata, b *Block)
}

type rxPath struct {
	buf []int16
}

func (p *rxPath) direction() device.Direction { return device.RX }

func (p *rxPath) transfer(dev device.Device, meta *device.Metadata, count int, timeout time.Duration) error {
	return dev.SyncRX(p.buf, count, meta, timeout)
}

func (p *rxPath) inspect(meta device.Metadata, b *Block) {
	b.Samples = p.buf[:2*meta.ActualCount]
	if meta.Overrun() {
		return
	}
	b.PowerDBFS = AveragePowerDBFS(b.Samples)
	b.HasPower = true
}

type txPath struct {
	payload []int16
	framer  BurstFramer
}

func (p *txPath) direction() device.Direction { return device.TX }

func (p *txPath) transfer(dev device.Device, meta *device.Metadata, count int, timeout time.Duration) error {
	p.framer.Frame(meta)
	return dev.SyncTX(p.payload, count, meta, timeout)
}

func (p *txPath) inspect(device.Metadata, *Block) {}

// Scheduler issues timestamped transfers against a device, one at a time.
type Scheduler struct {
	cfg      Config
	path     path
	logger   zerolog.Logger
	writeAPI api.WriteAPI
	handlers []BlockHandler
}

type SchedulerOption func(s *Scheduler) error

func WithLogger(logger zerolog.Logger) SchedulerOption {
	return func(s *Scheduler) error {
		s.logger = logger
		return nil
	}
}

func WithInfluxDB(writeAPI api.WriteAPI) SchedulerOption {
	return func(s *Scheduler) error {
		if writeAPI == nil {
			return fmt.Errorf("nil influxdb write api")
		}
		s.writeAPI = writeAPI
		return nil
	}
}

// WithBlockHandler registers fn to run after every successful transfer.
func WithBlockHandler(fn BlockHandler) SchedulerOption {
	return func(s *Scheduler) error {
		s.handlers = append(s.handlers, fn)
		return nil
	}
}

// NewRXScheduler receives into buf, which must hold FrameCount pairs.
func NewRXScheduler(cfg Config, buf []int16, opts ...SchedulerOption) (*Scheduler, error) {
	if cfg.Direction != device.RX {
		return nil, &ConfigurationError{Op: "validate", Channel: noChannel, Err: fmt.Errorf("rx scheduler built from %s config", cfg.Direction)}
	}
	return newScheduler(cfg, &rxPath{buf: buf}, buf, opts)
}

// NewTXScheduler transmits payload, which must hold FrameCount pairs, on
// every iteration.
func NewTXScheduler(cfg Config, payload []int16, opts ...SchedulerOption) (*Scheduler, error) {
	if cfg.Direction != device.TX {
		return nil, &ConfigurationError{Op: "validate", Channel: noChannel, Err: fmt.Errorf("tx scheduler built from %s config", cfg.Direction)}
	}
	return newScheduler(cfg, &txPath{payload: payload, framer: BurstFramer{Enabled: cfg.BurstMode}}, payload, opts)
}

func newScheduler(cfg Config, p path, buf []int16, opts []SchedulerOption) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := device.CheckBuffer(buf, cfg.FrameCount); err != nil {
		return nil, &ConfigurationError{Op: "buffer", Channel: noChannel, Err: err}
	}

	s := &Scheduler{
		cfg:      cfg,
		path:     p,
		logger:   log.Logger,
		writeAPI: &util.MockWriteAPI{},
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With().Str("direction", cfg.Direction.String()).Logger()
	return s, nil
}

func (s *Scheduler) Config() Config {
	return s.cfg
}

// Run streams until the iteration budget is spent, ctx is done or a transfer
// fails. Cancellation is only checked between transfers. A failed transfer
// is returned as a *TransferFailure together with the stats gathered so far.
func (s *Scheduler) Run(ctx context.Context, dev device.Device) (Stats, error) {
	dir := s.path.direction()

	start, err := dev.CurrentTimestamp(dir)
	if err != nil {
		return Stats{Direction: dir}, &TransferFailure{Direction: dir, Err: err}
	}
	clock := Seed(start, s.cfg.Clock)
	stats := newStats(dir, start)

	s.logger.Info().
		Uint64("timestamp", start).
		Uint64("next_resync", clock.NextResync).
		Int("frame_count", s.cfg.FrameCount).
		Dur("step", util.SamplesToDuration(s.cfg.Clock.Delay, s.cfg.SampleRate)).
		Dur("resync_every", util.SamplesToDuration(s.cfg.Clock.SyncInterval, s.cfg.SampleRate)).
		Msg("streaming")

	for i := 1; s.cfg.Unbounded || i <= s.cfg.IterationCount; i++ {
		select {
		case <-ctx.Done():
			s.logger.Info().Int("iterations", stats.Iterations).Msg("stop requested")
			return stats.finish(), nil
		default:
		}

		scheduled := clock.Advance()
		meta := device.Metadata{Timestamp: scheduled}
		elapsed, err := util.TimeOperationMicroseconds(func() error {
			return s.path.transfer(dev, &meta, s.cfg.FrameCount, s.cfg.Timeout)
		})
		if err != nil {
			fail := &TransferFailure{Direction: dir, Iteration: i, Timestamp: scheduled, Err: err}
			s.logger.Error().Err(err).
				Int("iteration", i).
				Uint64("timestamp", scheduled).
				Bool("timeout", fail.Timeout()).
				Msg("transfer failed")
			s.writeAPI.WritePoint(influxdb2.NewPoint("syncstream.fault",
				map[string]string{"direction": dir.String()},
				map[string]interface{}{
					"iteration": i,
					"timestamp": scheduled,
					"timeout":   fail.Timeout(),
				}, time.Now()))
			return stats.finish(), fail
		}

		if meta.ActualCount > s.cfg.FrameCount || meta.ActualCount < 0 {
			s.logger.Warn().Int("actual_count", meta.ActualCount).Msg("device reported an impossible sample count")
			meta.ActualCount = s.cfg.FrameCount
		}

		b := Block{
			Direction:   dir,
			Iteration:   i,
			Scheduled:   scheduled,
			Timestamp:   meta.Timestamp,
			ActualCount: meta.ActualCount,
			Overrun:     meta.Overrun(),
			TransferUs:  elapsed,
		}
		s.path.inspect(meta, &b)
		b.Sync = clock.Observe(meta.Timestamp)
		stats.record(b)
		s.report(b, clock)
	}

	stats = stats.finish()
	s.logger.Info().
		Int("iterations", stats.Iterations).
		Int("overruns", stats.Overruns).
		Uint64("samples", stats.SamplesTransferred).
		Msg("iteration budget exhausted")
	return stats, nil
}

func (s *Scheduler) report(b Block, clock *ClockCursor) {
	if b.Overrun {
		s.logger.Warn().
			Int("iteration", b.Iteration).
			Int("actual_count", b.ActualCount).
			Uint64("timestamp", b.Timestamp).
			Msg("overrun detected")
	}

	ev := s.logger.Debug().
		Int("iteration", b.Iteration).
		Int("actual_count", b.ActualCount).
		Uint64("timestamp", b.Timestamp).
		Uint64("next_resync", clock.NextResync)
	if b.HasPower {
		ev = ev.Float64("power_dbfs", b.PowerDBFS)
	}
	if b.Sync != SyncNone {
		ev = ev.Str("resync", b.Sync.String())
	}
	ev.Msg("transfer complete")

	fields := map[string]interface{}{
		"timestamp":    b.Timestamp,
		"scheduled":    b.Scheduled,
		"actual_count": b.ActualCount,
		"transfer_us":  b.TransferUs,
	}
	if b.HasPower {
		fields["power_dbfs"] = b.PowerDBFS
	}
	s.writeAPI.WritePoint(influxdb2.NewPoint("syncstream.block",
		map[string]string{
			"direction": b.Direction.String(),
			"overrun":   fmt.Sprint(b.Overrun),
			"resync":    b.Sync.String(),
		},
		fields, time.Now()))

	for _, fn := range s.handlers {
		fn(b)
	}
}
