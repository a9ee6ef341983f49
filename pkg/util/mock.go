package util

import (
	"sync"

	"github.com/influxdata/influxdb-client-go/api/write"
)

// MockWriteAPI keeps points in memory instead of sending them to InfluxDB.
// It is the default sink when no database is configured.
type MockWriteAPI struct {
	mu      sync.Mutex
	points  []*write.Point
	records []string
	// Limit caps retained points; zero keeps none.
	Limit int
}

func (m *MockWriteAPI) WriteRecord(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.records) < m.Limit {
		m.records = append(m.records, line)
	}
}

func (m *MockWriteAPI) WritePoint(point *write.Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.points) < m.Limit {
		m.points = append(m.points, point)
	}
}

func (m *MockWriteAPI) Flush() {}

func (m *MockWriteAPI) Close() {}

func (m *MockWriteAPI) Errors() <-chan error { return nil }

// Points returns the retained points in write order.
func (m *MockWriteAPI) Points() []*write.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*write.Point(nil), m.points...)
}
