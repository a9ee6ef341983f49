package stream

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/rs/zerolog"

	"github.com/norasector/syncstream/pkg/syncstream/device"
	"github.com/norasector/syncstream/pkg/util"
)

type State int

const (
	StateIdle State = iota
	StateConfiguring
	StateStreaming
	StateStopped
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfiguring:
		return "configuring"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	case StateFaulted:
		return "faulted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether a session in this state can no longer run.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFaulted
}

// Session configures the RF front end, runs one scheduler against the device
// and disables the modules afterwards, whatever the outcome.
type Session struct {
	handle *device.Handle
	sched  *Scheduler
	logger zerolog.Logger
	id     int

	mu    sync.Mutex
	state State
}

type SessionOption func(s *Session)

// WithSessionLogger replaces the scheduler's logger for session events.
func WithSessionLogger(logger zerolog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithSessionID numbers the session in its log lines and summary point.
func WithSessionID(id int) SessionOption {
	return func(s *Session) {
		s.id = id
	}
}

func NewSession(handle *device.Handle, sched *Scheduler, opts ...SessionOption) *Session {
	s := &Session{
		handle: handle,
		sched:  sched,
		logger: sched.logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id > 0 {
		s.logger = s.logger.With().Int("session", s.id).Logger()
	}
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	s.logger.Debug().Str("from", prev.String()).Str("to", st.String()).Msg("session state")
}

// Run executes the session once. Configuration failures come back as
// *ConfigurationError, streaming failures as *TransferFailure; both leave the
// session Faulted.
func (s *Session) Run(ctx context.Context) (Stats, error) {
	if st := s.State(); st != StateIdle {
		return Stats{}, fmt.Errorf("session already %s", st)
	}

	var stats Stats
	err := s.handle.With(ctx, func(dev device.Device) error {
		s.setState(StateConfiguring)
		if err := s.configure(dev); err != nil {
			s.setState(StateFaulted)
			s.record(stats)
			s.teardown(dev)
			return err
		}

		s.setState(StateStreaming)
		var err error
		stats, err = s.sched.Run(ctx, dev)
		if err != nil {
			s.setState(StateFaulted)
		} else {
			s.setState(StateStopped)
		}
		s.record(stats)

		if terr := s.teardown(dev); err == nil {
			err = terr
		}
		return err
	})
	if err != nil && s.State() == StateIdle {
		// The handle was never acquired.
		s.setState(StateFaulted)
	}
	return stats, err
}

func (s *Session) configure(dev device.Device) error {
	cfg := s.sched.cfg

	for _, ch := range cfg.Channels {
		if err := dev.SetFrequency(ch, cfg.Frequency); err != nil {
			return &ConfigurationError{Op: "set frequency", Channel: ch, Err: err}
		}
		s.logger.Info().Str("channel", ch.String()).Str("frequency", util.MHzToString(cfg.Frequency)).Msg("frequency set")

		if err := dev.SetSampleRate(ch, cfg.SampleRate); err != nil {
			return &ConfigurationError{Op: "set sample rate", Channel: ch, Err: err}
		}
		s.logger.Info().Str("channel", ch.String()).Uint32("sample_rate", cfg.SampleRate).Msg("sample rate set")

		if ch.Direction() == device.RX {
			if err := dev.SetGainMode(ch, device.GainModeManual); err != nil {
				return &ConfigurationError{Op: "set gain mode", Channel: ch, Err: err}
			}
			s.logger.Info().Str("channel", ch.String()).Msg("gain mode set to manual")
		}

		if err := dev.SetGain(ch, cfg.Gain); err != nil {
			return &ConfigurationError{Op: "set gain", Channel: ch, Err: err}
		}
		s.logger.Info().Str("channel", ch.String()).Int("gain_db", cfg.Gain).Msg("gain set")
	}

	sc := cfg.SyncConfig()
	if err := dev.ConfigureSync(sc); err != nil {
		return &ConfigurationError{Op: "sync config", Channel: noChannel, Err: err}
	}
	s.logger.Info().
		Str("format", sc.Format.String()).
		Int("buffers", sc.NumBuffers).
		Int("buffer_size", sc.BufferSize).
		Int("transfers", sc.NumTransfers).
		Dur("stream_timeout", sc.StreamTimeout).
		Msg("sync interface configured")

	for _, ch := range cfg.Channels {
		if err := dev.EnableModule(ch, true); err != nil {
			return &ConfigurationError{Op: "enable module", Channel: ch, Err: err}
		}
		s.logger.Info().Str("channel", ch.String()).Msg("module enabled")
	}
	return nil
}

func (s *Session) record(stats Stats) {
	st := s.State()
	s.logger.Info().
		Str("state", st.String()).
		Int("iterations", stats.Iterations).
		Int("overruns", stats.Overruns).
		Int("resyncs", stats.Resyncs).
		Dur("elapsed", stats.Elapsed).
		Msg("session finished")

	fields := map[string]interface{}{
		"iterations":     stats.Iterations,
		"overruns":       stats.Overruns,
		"resyncs":        stats.Resyncs,
		"missed_resyncs": stats.MissedResyncs,
		"samples":        stats.SamplesTransferred,
		"elapsed_ms":     stats.Elapsed.Milliseconds(),
	}
	if stats.Direction == device.RX && stats.Iterations > stats.Overruns {
		fields["mean_power_dbfs"] = stats.MeanPowerDBFS
		fields["stddev_power_dbfs"] = stats.StdDevPowerDBFS
	}
	tags := map[string]string{
		"direction": s.sched.cfg.Direction.String(),
		"state":     st.String(),
	}
	if s.id > 0 {
		tags["session"] = strconv.Itoa(s.id)
	}
	s.sched.writeAPI.WritePoint(influxdb2.NewPoint("syncstream.session", tags, fields, time.Now()))
}

// teardown disables every configured channel and reports all failures.
func (s *Session) teardown(dev device.Device) error {
	var errs []error
	for _, ch := range s.sched.cfg.Channels {
		if err := dev.EnableModule(ch, false); err != nil {
			s.logger.Error().Err(err).Str("channel", ch.String()).Msg("failed to disable module")
			errs = append(errs, fmt.Errorf("disable %s: %w", ch, err))
			continue
		}
		s.logger.Info().Str("channel", ch.String()).Msg("module disabled")
	}
	return errors.Join(errs...)
}
