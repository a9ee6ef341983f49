// Package monitor serves the live state of a streaming session over HTTP:
// counters as JSON and plots of block power and the spectrum of the most
// recent RX block.
package monitor

import (
	"sync"
	"time"

	"github.com/norasector/syncstream/pkg/syncstream/stream"
)

const (
	powerHistory = 512
	fftSize      = 1024
)

// Status is the JSON document served on /status.
type Status struct {
	Direction     string    `json:"direction"`
	Iterations    int       `json:"iterations"`
	Overruns      int       `json:"overruns"`
	Resyncs       int       `json:"resyncs"`
	MissedResyncs int       `json:"missed_resyncs"`
	Samples       uint64    `json:"samples"`
	LastTimestamp uint64    `json:"last_timestamp"`
	LastPowerDBFS *float64  `json:"last_power_dbfs,omitempty"`
	TransferUs    int64     `json:"transfer_us"`
	Updated       time.Time `json:"updated"`
}

// Monitor accumulates blocks reported by a scheduler.
type Monitor struct {
	sampleRate uint32

	mu       sync.RWMutex
	status   Status
	powers   []float64
	spectrum []int16
}

func New(sampleRate uint32) *Monitor {
	return &Monitor{sampleRate: sampleRate}
}

// Observe is a stream.BlockHandler. RX samples are copied since the
// scheduler reuses its buffer.
func (m *Monitor) Observe(b stream.Block) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := &m.status
	st.Direction = b.Direction.String()
	st.Iterations++
	st.Samples += uint64(b.ActualCount)
	st.LastTimestamp = b.Timestamp
	st.TransferUs = b.TransferUs
	st.Updated = time.Now()
	if b.Overrun {
		st.Overruns++
	}
	switch b.Sync {
	case stream.SyncCompleted:
		st.Resyncs++
	case stream.SyncMissed:
		st.MissedResyncs++
	}

	if !b.HasPower {
		st.LastPowerDBFS = nil
		return
	}
	p := b.PowerDBFS
	st.LastPowerDBFS = &p
	m.powers = append(m.powers, p)
	if len(m.powers) > powerHistory {
		m.powers = m.powers[len(m.powers)-powerHistory:]
	}

	n := len(b.Samples) / 2
	if n > fftSize {
		n = fftSize
	}
	if n > 0 {
		m.spectrum = append(m.spectrum[:0], b.Samples[:2*n]...)
	}
}

func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := m.status
	if st.LastPowerDBFS != nil {
		p := *st.LastPowerDBFS
		st.LastPowerDBFS = &p
	}
	return st
}

func (m *Monitor) snapshot() (powers []float64, spectrum []int16) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]float64(nil), m.powers...), append([]int16(nil), m.spectrum...)
}
