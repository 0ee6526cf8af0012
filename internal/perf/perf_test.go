package perf

import (
	"sync"
	"testing"
)

func TestCounterAccumulates(t *testing.T) {
	g := NewGroup("store")
	g.AddCounter("reads", "object reads")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				g.Inc("reads")
			}
		}()
	}
	wg.Wait()

	if got := g.Get("reads"); got != 800 {
		t.Fatalf("reads = %d, want 800", got)
	}
}

func TestGaugeMovesBothWays(t *testing.T) {
	g := NewGroup("store")
	g.AddGauge("open_files", "open file handles")
	g.Set("open_files", 12)
	g.Set("open_files", 7)
	if got := g.Get("open_files"); got != 7 {
		t.Fatalf("open_files = %d, want 7", got)
	}
}

func TestHistogramBuckets(t *testing.T) {
	g := NewGroup("store")
	g.AddHistogram("read_latency", "read latency seconds", []float64{0.01, 0.1, 1})
	g.Observe("read_latency", 0.005)
	g.Observe("read_latency", 0.05)
	g.Observe("read_latency", 0.5)

	e := g.lookup("read_latency")
	buckets, sum, total := e.hist.snapshot()
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	if diff := sum - 0.555; diff < -1e-9 || diff > 1e-9 {
		t.Fatalf("sum = %v, want 0.555", sum)
	}
	// Cumulative counts per upper bound.
	if buckets[0.01] != 1 || buckets[0.1] != 2 || buckets[1] != 3 {
		t.Fatalf("cumulative buckets = %v", buckets)
	}
}

func TestDuplicateCounterPanics(t *testing.T) {
	g := NewGroup("store")
	g.AddCounter("reads", "object reads")
	defer func() {
		if recover() == nil {
			t.Fatal("duplicate counter registration did not panic")
		}
	}()
	g.AddCounter("reads", "object reads again")
}

func TestUnknownCounterPanics(t *testing.T) {
	g := NewGroup("store")
	defer func() {
		if recover() == nil {
			t.Fatal("unknown counter access did not panic")
		}
	}()
	g.Inc("missing")
}

func TestObserveOnScalarPanics(t *testing.T) {
	g := NewGroup("store")
	g.AddCounter("reads", "object reads")
	defer func() {
		if recover() == nil {
			t.Fatal("Observe on a counter did not panic")
		}
	}()
	g.Observe("reads", 1)
}

func TestResetZeroesEverything(t *testing.T) {
	g := NewGroup("store")
	g.AddCounter("reads", "object reads")
	g.AddHistogram("read_latency", "read latency seconds", []float64{1})
	g.Add("reads", 5)
	g.Observe("read_latency", 0.5)

	g.Reset()
	if got := g.Get("reads"); got != 0 {
		t.Fatalf("reads = %d after reset, want 0", got)
	}
	if _, _, total := g.lookup("read_latency").hist.snapshot(); total != 0 {
		t.Fatalf("histogram total = %d after reset, want 0", total)
	}
}
