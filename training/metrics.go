package training

import (
	"sort"
)

// LossMetrics keeps a running average per loss name over one epoch.
// A name first reported mid-epoch is averaged only over the steps since it
// appeared. LossMetrics is not safe for concurrent use.
type LossMetrics struct {
	sums   map[string]float64
	counts map[string]int
}

// NewLossMetrics creates an empty aggregator.
func NewLossMetrics() *LossMetrics {
	return &LossMetrics{
		sums:   make(map[string]float64),
		counts: make(map[string]int),
	}
}

// Update folds one step's losses into the running averages.
func (m *LossMetrics) Update(losses map[string]float64) {
	for name, v := range losses {
		m.sums[name] += v
		m.counts[name]++
	}
}

// Values returns the current average for every name seen since the last
// Reset.
func (m *LossMetrics) Values() map[string]float64 {
	values := make(map[string]float64, len(m.sums))
	for name, sum := range m.sums {
		values[name] = sum / float64(m.counts[name])
	}
	return values
}

// Names returns the tracked names in sorted order.
func (m *LossMetrics) Names() []string {
	names := make([]string, 0, len(m.sums))
	for name := range m.sums {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reset forgets all names and values.
func (m *LossMetrics) Reset() {
	m.sums = make(map[string]float64)
	m.counts = make(map[string]int)
}
