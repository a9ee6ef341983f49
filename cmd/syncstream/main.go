package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/norasector/syncstream/pkg/syncstream/config"
	"github.com/norasector/syncstream/pkg/syncstream/device"
	"github.com/norasector/syncstream/pkg/syncstream/device/soapy"
	"github.com/norasector/syncstream/pkg/syncstream/monitor"
	"github.com/norasector/syncstream/pkg/syncstream/stream"
	"github.com/norasector/syncstream/pkg/util"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)
	flags := kong.Parse(&cli)

	opts := config.Default()
	if cli.Config != "" {
		var err error
		if opts, err = config.Load(cli.Config); err != nil {
			log.Fatal().Err(err).Msg("error reading config file")
		}
	}

	level, err := zerolog.ParseLevel(opts.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("log_level", opts.LogLevel).Msg("invalid log level")
	}
	if cli.Verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = log.Logger.Level(level)

	switch flags.Command() {
	case "rx":
		opts.RX = override(opts.RX, cli.Rx.Iterations, cli.Rx.Unbounded)
		if err := run(opts, device.RX); err != nil {
			log.Fatal().Err(err).Msg("exited program")
		}
	case "tx":
		opts.TX = override(opts.TX, cli.Tx.Iterations, cli.Tx.Unbounded)
		if err := run(opts, device.TX); err != nil {
			log.Fatal().Err(err).Msg("exited program")
		}
	case "probe":
		probe(opts)
	default:
		log.Fatal().Str("command", flags.Command()).Msg("command not recognized")
	}
}

func override(s config.Stream, iterations int, unbounded bool) config.Stream {
	if iterations >= 0 {
		s.Iterations = iterations
	}
	if unbounded {
		s.Unbounded = true
	}
	return s
}

// run streams until the configured sessions finish or a signal arrives. It
// returns instead of exiting so the device and metrics client are released.
func run(opts config.Config, dir device.Direction) error {
	cfg, err := opts.Stream(dir).ToStream(dir)
	if err != nil {
		return fmt.Errorf("invalid stream configuration: %w", err)
	}

	dev, release, err := openDevice(opts, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to open device: %w", err)
	}
	defer release()
	handle := device.NewHandle(dev)
	defer handle.Close()

	var writeAPI api.WriteAPI = &util.MockWriteAPI{}
	if opts.InfluxDB.Host != "" {
		client := influxdb2.NewClient(opts.InfluxDB.Host, "")
		defer client.Close()
		writeAPI = client.WriteAPI(opts.InfluxDB.Organization, opts.InfluxDB.Bucket)
		defer writeAPI.Flush()
	}

	schedOpts := []stream.SchedulerOption{
		stream.WithLogger(log.Logger),
		stream.WithInfluxDB(writeAPI),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)

	if opts.Monitor.Port > 0 {
		mon := monitor.New(cfg.SampleRate)
		schedOpts = append(schedOpts, stream.WithBlockHandler(mon.Observe))
		srv := monitor.NewServer(mon, opts.Monitor.Port,
			time.Duration(opts.Monitor.UpdateInterval)*time.Millisecond, log.Logger)
		eg.Go(func() error {
			return srv.Run(ctx)
		})
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	eg.Go(func() error {
		select {
		case <-sigChan:
			log.Info().Msg("stopping after the current transfer")
			cancel()
		case <-ctx.Done():
		}
		return nil
	})

	eg.Go(func() error {
		defer cancel()
		return supervise(ctx, handle, cfg, opts.Sessions, opts.Retries, schedOpts)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// supervise runs the configured number of sessions back to back and gives up
// once more than retries of them have faulted.
func supervise(ctx context.Context, handle *device.Handle, cfg stream.Config, sessions, retries int, opts []stream.SchedulerOption) error {
	var buf []int16
	if cfg.Direction == device.TX {
		buf = stream.CWTone(cfg.FrameCount, stream.FullScale)
	} else {
		buf = make([]int16, 2*cfg.FrameCount)
	}

	faults := 0
	for i := 1; i <= sessions || sessions <= 0; i++ {
		if ctx.Err() != nil {
			return nil
		}

		var (
			sched *stream.Scheduler
			err   error
		)
		if cfg.Direction == device.TX {
			sched, err = stream.NewTXScheduler(cfg, buf, opts...)
		} else {
			sched, err = stream.NewRXScheduler(cfg, buf, opts...)
		}
		if err != nil {
			return err
		}

		stats, err := stream.NewSession(handle, sched, stream.WithSessionID(i)).Run(ctx)
		if err != nil {
			var cerr *stream.ConfigurationError
			if errors.As(err, &cerr) {
				return err
			}
			faults++
			log.Error().Err(err).Int("session", i).Int("faults", faults).Msg("session faulted")
			if faults > retries {
				return err
			}
			continue
		}

		ev := log.Info().
			Int("session", i).
			Int("iterations", stats.Iterations).
			Uint64("samples", stats.SamplesTransferred).
			Int("overruns", stats.Overruns).
			Int("resyncs", stats.Resyncs)
		if cfg.Direction == device.RX {
			ev = ev.Float64("mean_power_dbfs", stats.MeanPowerDBFS)
		}
		ev.Msgf("streamed %dM samples", stats.SamplesTransferred/1000000)
	}
	return nil
}

// probe opens the device, configures both directions with the defaults and
// reports the device clocks.
func probe(opts config.Config) {
	if opts.Device == "soapy" {
		if err := soapy.Init(log.Logger, opts.DeviceLogLevel); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize soapysdr")
		}
		devices := soapy.Enumerate()
		log.Info().Int("count", len(devices)).Msg("soapysdr devices")
		for _, args := range devices {
			ev := log.Info()
			for k, v := range args {
				ev = ev.Str(k, v)
			}
			ev.Msg("found device")
		}
	}

	dev, release, err := openDevice(opts, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open device")
	}
	defer release()
	handle := device.NewHandle(dev)
	defer handle.Close()

	err = handle.TryWith(func(dev device.Device) error {
		sc := device.DefaultSyncConfig()
		if err := dev.ConfigureSync(sc); err != nil {
			return err
		}
		for _, dir := range []device.Direction{device.RX, device.TX} {
			ts, err := dev.CurrentTimestamp(dir)
			if err != nil {
				log.Warn().Err(err).Str("direction", dir.String()).Msg("clock unavailable")
				continue
			}
			log.Info().Str("direction", dir.String()).Uint64("timestamp", ts).Msg("device clock")
		}
		return nil
	})
	if err != nil {
		log.Fatal().Err(err).Msg("probe failed")
	}
}
