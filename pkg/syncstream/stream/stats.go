package stream

import (
	"time"

	"github.com/norasector/syncstream/pkg/syncstream/device"
	"gonum.org/v1/gonum/stat"
)

// powerHistory bounds the blocks kept for the power summary of unbounded
// sessions.
const powerHistory = 1024

// Stats summarizes a streaming session.
type Stats struct {
	Direction          device.Direction
	Iterations         int
	Overruns           int
	Resyncs            int
	MissedResyncs      int
	SamplesTransferred uint64
	FirstTimestamp     uint64
	LastTimestamp      uint64
	Elapsed            time.Duration
	// MeanPowerDBFS and StdDevPowerDBFS cover the most recent complete RX
	// blocks.
	MeanPowerDBFS   float64
	StdDevPowerDBFS float64

	started time.Time
	powers  []float64
	next    int
}

func newStats(dir device.Direction, start uint64) Stats {
	return Stats{
		Direction:      dir,
		FirstTimestamp: start,
		LastTimestamp:  start,
		started:        time.Now(),
	}
}

func (s *Stats) record(b Block) {
	s.Iterations++
	s.SamplesTransferred += uint64(b.ActualCount)
	if b.Timestamp > s.LastTimestamp {
		s.LastTimestamp = b.Timestamp
	}
	if b.Overrun {
		s.Overruns++
	}
	switch b.Sync {
	case SyncCompleted:
		s.Resyncs++
	case SyncMissed:
		s.MissedResyncs++
	}

	if !b.HasPower {
		return
	}
	if len(s.powers) < powerHistory {
		s.powers = append(s.powers, b.PowerDBFS)
		return
	}
	s.powers[s.next] = b.PowerDBFS
	s.next = (s.next + 1) % powerHistory
}

func (s *Stats) finish() Stats {
	if !s.started.IsZero() {
		s.Elapsed = time.Since(s.started)
	}
	switch len(s.powers) {
	case 0:
	case 1:
		s.MeanPowerDBFS, s.StdDevPowerDBFS = s.powers[0], 0
	default:
		s.MeanPowerDBFS, s.StdDevPowerDBFS = stat.MeanStdDev(s.powers, nil)
	}
	return *s
}
