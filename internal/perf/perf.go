// Package perf implements the daemon's performance counter collection.
//
// Counters are grouped by subsystem. A group holds typed entries (monotonic
// counters, gauges, histograms) that hot paths update with atomic operations.
// The Collection aggregates groups for the admin socket's perf commands and
// doubles as a prometheus.Collector so the same numbers can be scraped
// without separate bookkeeping.
package perf

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Kind distinguishes counter semantics.
type Kind int

const (
	// KindCounter is a monotonically increasing value.
	KindCounter Kind = iota
	// KindGauge is a point-in-time value that may move both ways.
	KindGauge
	// KindHistogram accumulates observations into fixed buckets.
	KindHistogram
)

func (k Kind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindGauge:
		return "gauge"
	case KindHistogram:
		return "histogram"
	default:
		return "unknown"
	}
}

// Schema describes one entry for the perf schema admin command.
type Schema struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Kind        string `json:"type"`
}

type entry struct {
	name string
	desc string
	kind Kind

	value atomic.Int64
	hist  *histogram
}

type histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []uint64
	sum    float64
	total  uint64
}

func (h *histogram) observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, bound := range h.bounds {
		if v <= bound {
			h.counts[i]++
			break
		}
	}
	h.sum += v
	h.total++
}

func (h *histogram) reset() {
	h.mu.Lock()
	for i := range h.counts {
		h.counts[i] = 0
	}
	h.sum = 0
	h.total = 0
	h.mu.Unlock()
}

// snapshot returns cumulative bucket counts keyed by upper bound, plus the
// running sum and total observation count.
func (h *histogram) snapshot() (map[float64]uint64, float64, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	buckets := make(map[float64]uint64, len(h.bounds))
	cumulative := uint64(0)
	for i, bound := range h.bounds {
		cumulative += h.counts[i]
		buckets[bound] = cumulative
	}
	return buckets, h.sum, h.total
}

// Group is a named set of counters owned by one subsystem.
type Group struct {
	name string

	mu      sync.Mutex
	order   []string
	entries map[string]*entry
}

// NewGroup creates an empty counter group. The name becomes part of the
// exported metric names and must be stable.
func NewGroup(name string) *Group {
	return &Group{name: name, entries: make(map[string]*entry)}
}

// Name returns the group name.
func (g *Group) Name() string { return g.name }

func (g *Group) add(name, desc string, kind Kind, hist *histogram) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.entries[name]; exists {
		panic(fmt.Sprintf("perf: duplicate counter %s.%s", g.name, name))
	}
	g.entries[name] = &entry{name: name, desc: desc, kind: kind, hist: hist}
	g.order = append(g.order, name)
}

// AddCounter declares a monotonic counter.
func (g *Group) AddCounter(name, desc string) {
	g.add(name, desc, KindCounter, nil)
}

// AddGauge declares a gauge.
func (g *Group) AddGauge(name, desc string) {
	g.add(name, desc, KindGauge, nil)
}

// AddHistogram declares a histogram with the given upper bucket bounds.
func (g *Group) AddHistogram(name, desc string, bounds []float64) {
	h := &histogram{
		bounds: append([]float64(nil), bounds...),
		counts: make([]uint64, len(bounds)),
	}
	g.add(name, desc, KindHistogram, h)
}

func (g *Group) lookup(name string) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[name]
	if !ok {
		panic(fmt.Sprintf("perf: unknown counter %s.%s", g.name, name))
	}
	return e
}

// Inc adds one to a counter.
func (g *Group) Inc(name string) { g.Add(name, 1) }

// Add increments a counter by delta.
func (g *Group) Add(name string, delta int64) {
	g.lookup(name).value.Add(delta)
}

// Set stores a gauge value.
func (g *Group) Set(name string, v int64) {
	g.lookup(name).value.Store(v)
}

// Get reads a counter or gauge value.
func (g *Group) Get(name string) int64 {
	return g.lookup(name).value.Load()
}

// Observe records one histogram observation.
func (g *Group) Observe(name string, v float64) {
	e := g.lookup(name)
	if e.hist == nil {
		panic(fmt.Sprintf("perf: %s.%s is not a histogram", g.name, name))
	}
	e.hist.observe(v)
}

// Reset zeroes every entry in the group.
func (g *Group) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range g.entries {
		e.value.Store(0)
		if e.hist != nil {
			e.hist.reset()
		}
	}
}

func (g *Group) names() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.order...)
}

func (g *Group) schemas() []Schema {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Schema, 0, len(g.order))
	for _, name := range g.order {
		e := g.entries[name]
		out = append(out, Schema{Name: e.name, Description: e.desc, Kind: e.kind.String()})
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
