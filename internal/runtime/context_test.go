package runtime

import (
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	return New(ModuleStore, FlagNoDaemonActions)
}

func TestRefcountLifecycle(t *testing.T) {
	c := newTestContext(t)
	if got := c.Refs(); got != 1 {
		t.Fatalf("initial refs = %d, want 1", got)
	}
	c.Acquire()
	if got := c.Refs(); got != 2 {
		t.Fatalf("refs after acquire = %d, want 2", got)
	}
	c.Release()
	if got := c.Refs(); got != 1 {
		t.Fatalf("refs after release = %d, want 1", got)
	}
	c.Release()
	if got := c.Refs(); got != 0 {
		t.Fatalf("refs after final release = %d, want 0", got)
	}
}

func TestConcurrentAcquireReleaseDestroysOnce(t *testing.T) {
	c := newTestContext(t)
	// A double destroy would panic inside observer removal.
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Acquire()
			c.Release()
		}()
	}
	wg.Wait()
	if got := c.Refs(); got != 1 {
		t.Fatalf("refs after balanced churn = %d, want 1", got)
	}
	c.Release()
}

func TestAcquireAfterDestroyPanics(t *testing.T) {
	c := newTestContext(t)
	c.Release()
	defer func() {
		if recover() == nil {
			t.Fatal("acquire on a destroyed context did not panic")
		}
	}()
	c.Acquire()
}

func TestReleasePastZeroPanics(t *testing.T) {
	c := newTestContext(t)
	c.Release()
	defer func() {
		if recover() == nil {
			t.Fatal("release past zero did not panic")
		}
	}()
	c.Release()
}

type testWidget struct {
	id int
}

func TestSingletonConstructedOnce(t *testing.T) {
	c := newTestContext(t)
	defer c.Release()

	var built atomic.Int64
	ctor := func(*Context) *testWidget {
		built.Add(1)
		return &testWidget{id: 7}
	}

	var wg sync.WaitGroup
	results := make([]*testWidget, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = Singleton(c, "widget", false, ctor)
		}(i)
	}
	wg.Wait()

	if got := built.Load(); got != 1 {
		t.Fatalf("constructor ran %d times, want 1", got)
	}
	for i, w := range results {
		if w != results[0] {
			t.Fatalf("caller %d got a different instance", i)
		}
	}
}

func TestSingletonKeyedByNameAndType(t *testing.T) {
	c := newTestContext(t)
	defer c.Release()

	a := Singleton(c, "thing", false, func(*Context) *testWidget { return &testWidget{id: 1} })
	b := Singleton(c, "other", false, func(*Context) *testWidget { return &testWidget{id: 2} })
	if a == b {
		t.Fatal("different names shared one instance")
	}
	s := Singleton(c, "thing", false, func(*Context) string { return "x" })
	if s != "x" {
		t.Fatal("same name with a different type did not construct separately")
	}
	again := Singleton(c, "thing", false, func(*Context) *testWidget { return &testWidget{id: 3} })
	if again != a {
		t.Fatal("repeat lookup constructed a new instance")
	}
}

type closableWidget struct {
	closed atomic.Bool
}

func (w *closableWidget) Close() error {
	w.closed.Store(true)
	return nil
}

type recordingWatcher struct {
	pre  atomic.Int64
	post atomic.Int64
}

func (w *recordingWatcher) HandlePreFork()  { w.pre.Add(1) }
func (w *recordingWatcher) HandlePostFork() { w.post.Add(1) }

func TestPreForkDropsOnlyMarkedSingletons(t *testing.T) {
	c := newTestContext(t)
	defer c.Release()

	var dropBuilt, keepBuilt atomic.Int64
	drop := Singleton(c, "droppable", true, func(*Context) *closableWidget {
		dropBuilt.Add(1)
		return &closableWidget{}
	})
	keep := Singleton(c, "durable", false, func(*Context) *testWidget {
		keepBuilt.Add(1)
		return &testWidget{id: 1}
	})

	watcher := &recordingWatcher{}
	c.RegisterForkWatcher(watcher)

	c.NotifyPreFork()
	if watcher.pre.Load() != 1 {
		t.Fatalf("pre-fork hooks ran %d times, want 1", watcher.pre.Load())
	}
	if !drop.closed.Load() {
		t.Fatal("dropped singleton was not closed")
	}

	// The durable singleton survives; the dropped one is rebuilt on demand.
	if again := Singleton(c, "durable", false, func(*Context) *testWidget {
		keepBuilt.Add(1)
		return &testWidget{id: 2}
	}); again != keep {
		t.Fatal("durable singleton was pruned by pre-fork")
	}
	rebuilt := Singleton(c, "droppable", true, func(*Context) *closableWidget {
		dropBuilt.Add(1)
		return &closableWidget{}
	})
	if rebuilt == drop {
		t.Fatal("dropped singleton instance survived pre-fork")
	}
	if dropBuilt.Load() != 2 || keepBuilt.Load() != 1 {
		t.Fatalf("ctor counts drop=%d keep=%d, want 2 and 1", dropBuilt.Load(), keepBuilt.Load())
	}

	c.NotifyPostFork()
	if watcher.post.Load() != 1 {
		t.Fatalf("post-fork hooks ran %d times, want 1", watcher.post.Load())
	}
	if again := Singleton(c, "droppable", true, func(*Context) *closableWidget {
		dropBuilt.Add(1)
		return &closableWidget{}
	}); again != rebuilt {
		t.Fatal("post-fork pruned the registry")
	}
}

func TestPeerAddrsCopyOnWrite(t *testing.T) {
	c := newTestContext(t)
	defer c.Release()

	if got := c.PeerAddrs(); got != nil {
		t.Fatalf("initial peer addrs = %v, want nil", got)
	}
	addrs := []netip.AddrPort{
		netip.MustParseAddrPort("10.0.0.1:6800"),
		netip.MustParseAddrPort("10.0.0.2:6800"),
	}
	c.SetPeerAddrs(addrs)
	addrs[0] = netip.MustParseAddrPort("127.0.0.1:1") // must not leak in

	got := c.PeerAddrs()
	if len(got) != 2 || got[0] != netip.MustParseAddrPort("10.0.0.1:6800") {
		t.Fatalf("peer addrs = %v", got)
	}
	got[1] = netip.MustParseAddrPort("127.0.0.1:2") // must not leak back
	if again := c.PeerAddrs(); again[1] != netip.MustParseAddrPort("10.0.0.2:6800") {
		t.Fatalf("stored addrs mutated through reader copy: %v", again)
	}
}

func TestExperimentalFeatures(t *testing.T) {
	c := newTestContext(t)
	defer c.Release()

	if c.CheckExperimentalFeature("sharded-index") {
		t.Fatal("feature enabled by default")
	}
	if err := c.Config().SetVal("experimental_features", "sharded-index, zero-copy"); err != nil {
		t.Fatalf("SetVal: %v", err)
	}
	c.Config().ApplyChanges(nil)

	if !c.CheckExperimentalFeature("sharded-index") || !c.CheckExperimentalFeature("zero-copy") {
		t.Fatal("listed features not enabled")
	}
	if c.CheckExperimentalFeature("other") {
		t.Fatal("unlisted feature enabled")
	}

	if err := c.Config().SetVal("experimental_features", "*"); err != nil {
		t.Fatalf("SetVal: %v", err)
	}
	c.Config().ApplyChanges(nil)
	if !c.CheckExperimentalFeature("anything") {
		t.Fatal("wildcard did not enable everything")
	}
}

func TestFinishIdempotent(t *testing.T) {
	c := New(ModuleStore, FlagNoDaemonActions)
	defer c.Release()

	if err := c.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	nonce := c.Nonce()
	if nonce == "" {
		t.Fatal("nonce empty after Finish")
	}
	if err := c.Finish(); err != nil {
		t.Fatalf("second Finish: %v", err)
	}
	if c.Nonce() != nonce {
		t.Fatal("repeat Finish reseeded the nonce")
	}
	if c.ServiceWorkerStarted() {
		t.Fatal("daemon actions ran despite FlagNoDaemonActions")
	}
}
