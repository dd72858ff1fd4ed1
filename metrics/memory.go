package metrics

import "sync"

// Memory is an in-process collector that keeps every observation in maps.
// Tests and health endpoints read values back through Counter, Gauge, and
// Observations.
type Memory struct {
	mu           sync.Mutex
	counters     map[string]float64
	gauges       map[string]float64
	observations map[string][]float64
}

// NewMemory returns an empty in-memory collector.
func NewMemory() *Memory {
	return &Memory{
		counters:     make(map[string]float64),
		gauges:       make(map[string]float64),
		observations: make(map[string][]float64),
	}
}

func seriesKey(name string, labels map[string]string) string {
	return name + "|" + labelKey(labels)
}

// CounterInc adds one to the counter series.
func (m *Memory) CounterInc(name string, labels map[string]string) {
	m.CounterAdd(name, labels, 1)
}

// CounterAdd adds v to the counter series.
func (m *Memory) CounterAdd(name string, labels map[string]string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[seriesKey(name, labels)] += v
}

// GaugeSet sets the gauge series to v.
func (m *Memory) GaugeSet(name string, labels map[string]string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[seriesKey(name, labels)] = v
}

// Observe appends v to the histogram series.
func (m *Memory) Observe(name string, labels map[string]string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := seriesKey(name, labels)
	m.observations[key] = append(m.observations[key], v)
}

// Counter returns the current value of a counter series, zero if the
// series does not exist.
func (m *Memory) Counter(name string, labels map[string]string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[seriesKey(name, labels)]
}

// Gauge returns the current value of a gauge series.
func (m *Memory) Gauge(name string, labels map[string]string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[seriesKey(name, labels)]
}

// Observations returns a copy of all recorded values for a series.
func (m *Memory) Observations(name string, labels map[string]string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.observations[seriesKey(name, labels)]
	out := make([]float64, len(src))
	copy(out, src)
	return out
}

// Reset clears all recorded series.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = make(map[string]float64)
	m.gauges = make(map[string]float64)
	m.observations = make(map[string][]float64)
}
