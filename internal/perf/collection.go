package perf

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const metricNamespace = "stashd"

// Collection aggregates counter groups for the perf admin commands and
// exposes them to a private prometheus registry.
type Collection struct {
	mu       sync.Mutex
	groups   map[string]*Group
	registry *prometheus.Registry
}

// NewCollection creates an empty collection backed by its own registry.
func NewCollection() *Collection {
	c := &Collection{
		groups:   make(map[string]*Group),
		registry: prometheus.NewRegistry(),
	}
	c.registry.MustRegister(c)
	return c
}

// Register adds a group to the collection.
func (c *Collection) Register(g *Group) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.groups[g.name]; exists {
		return fmt.Errorf("perf: group %q already registered", g.name)
	}
	c.groups[g.name] = g
	return nil
}

// Remove drops a group. Removing an absent group is a no-op.
func (c *Collection) Remove(name string) {
	c.mu.Lock()
	delete(c.groups, name)
	c.mu.Unlock()
}

// Gatherer exposes the prometheus view of the collection.
func (c *Collection) Gatherer() prometheus.Gatherer {
	return c.registry
}

func (c *Collection) snapshot() []*Group {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Group, 0, len(c.groups))
	for _, name := range sortedKeys(c.groups) {
		out = append(out, c.groups[name])
	}
	return out
}

// Dump renders current values, optionally filtered by group and counter
// name. Histograms are included only when histograms is true, and scalar
// entries only when it is false, mirroring the split between the perf dump
// and perf histogram dump commands.
func (c *Collection) Dump(group, counter string, histograms bool) map[string]any {
	out := make(map[string]any)
	for _, g := range c.snapshot() {
		if group != "" && g.name != group {
			continue
		}
		section := make(map[string]any)
		for _, name := range g.names() {
			if counter != "" && name != counter {
				continue
			}
			e := g.lookup(name)
			if (e.kind == KindHistogram) != histograms {
				continue
			}
			if e.kind == KindHistogram {
				buckets, sum, total := e.hist.snapshot()
				bucketSection := make(map[string]uint64, len(buckets))
				for bound, count := range buckets {
					bucketSection[fmt.Sprintf("le_%g", bound)] = count
				}
				section[name] = map[string]any{
					"count":   total,
					"sum":     sum,
					"buckets": bucketSection,
				}
			} else {
				section[name] = e.value.Load()
			}
		}
		if len(section) > 0 {
			out[g.name] = section
		}
	}
	return out
}

// SchemaDump renders entry metadata with the same filtering rules as Dump.
func (c *Collection) SchemaDump(group string, histograms bool) map[string]any {
	out := make(map[string]any)
	for _, g := range c.snapshot() {
		if group != "" && g.name != group {
			continue
		}
		section := make([]Schema, 0)
		for _, s := range g.schemas() {
			if (s.Kind == KindHistogram.String()) != histograms {
				continue
			}
			section = append(section, s)
		}
		if len(section) > 0 {
			out[g.name] = section
		}
	}
	return out
}

// Reset zeroes one group, or every group when target is "all". It reports
// whether anything matched.
func (c *Collection) Reset(target string) bool {
	matched := false
	for _, g := range c.snapshot() {
		if target != "all" && g.name != target {
			continue
		}
		g.Reset()
		matched = true
	}
	return matched
}

// Describe implements prometheus.Collector.
func (c *Collection) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

// Collect implements prometheus.Collector.
func (c *Collection) Collect(ch chan<- prometheus.Metric) {
	for _, g := range c.snapshot() {
		for _, name := range g.names() {
			e := g.lookup(name)
			desc := prometheus.NewDesc(
				prometheus.BuildFQName(metricNamespace, g.name, name),
				e.desc, nil, nil,
			)
			switch e.kind {
			case KindCounter:
				ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(e.value.Load()))
			case KindGauge:
				ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(e.value.Load()))
			case KindHistogram:
				buckets, sum, total := e.hist.snapshot()
				ch <- prometheus.MustNewConstHistogram(desc, total, sum, buckets)
			}
		}
	}
}
