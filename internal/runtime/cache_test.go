package runtime

import (
	"bytes"
	"testing"
)

func TestObjectCacheSharedInstance(t *testing.T) {
	c := newTestContext(t)
	defer c.Release()

	a := ObjectCacheOf(c)
	b := ObjectCacheOf(c)
	if a != b {
		t.Fatal("ObjectCacheOf returned distinct instances")
	}
}

func TestObjectCacheHitAndMiss(t *testing.T) {
	c := newTestContext(t)
	defer c.Release()

	cache := ObjectCacheOf(c)
	payload := []byte("object payload")
	cache.Put("pool/obj", payload)

	if got := cache.Get("pool/obj"); !bytes.Equal(got, payload) {
		t.Fatalf("Get = %q, want %q", got, payload)
	}
	if got := cache.Get("pool/other"); got != nil {
		t.Fatalf("miss returned %q", got)
	}
	if got := cache.Bytes(); got != int64(len(payload)) {
		t.Fatalf("Bytes = %d, want %d", got, len(payload))
	}
}

func TestObjectCacheEvictsOldestFirst(t *testing.T) {
	c := newTestContext(t)
	defer c.Release()

	setOption(t, c, "object_cache_bytes", "100")
	cache := ObjectCacheOf(c)

	cache.Put("first", make([]byte, 40))
	cache.Put("second", make([]byte, 40))
	cache.Put("third", make([]byte, 40))

	if cache.Get("first") != nil {
		t.Fatal("oldest entry survived eviction")
	}
	if cache.Get("second") == nil || cache.Get("third") == nil {
		t.Fatal("newer entries were evicted")
	}
	if got := cache.Bytes(); got != 80 {
		t.Fatalf("Bytes = %d after eviction, want 80", got)
	}
}

func TestObjectCacheRejectsOversizedObjects(t *testing.T) {
	c := newTestContext(t)
	defer c.Release()

	setOption(t, c, "object_cache_bytes", "10")
	cache := ObjectCacheOf(c)

	cache.Put("huge", make([]byte, 11))
	if cache.Len() != 0 {
		t.Fatal("object above the whole budget was cached")
	}
}

func TestObjectCacheShrinksWithConfig(t *testing.T) {
	c := newTestContext(t)
	defer c.Release()

	setOption(t, c, "object_cache_bytes", "100")
	cache := ObjectCacheOf(c)
	cache.Put("first", make([]byte, 40))
	cache.Put("second", make([]byte, 40))

	// Shrinking the budget at runtime evicts down to the new limit.
	setOption(t, c, "object_cache_bytes", "50")
	if cache.Get("first") != nil {
		t.Fatal("shrunken cache kept its oldest entry")
	}
	if cache.Get("second") == nil {
		t.Fatal("shrunken cache lost its newest entry")
	}
}

func TestObjectCacheDroppedOnPreFork(t *testing.T) {
	c := newTestContext(t)
	defer c.Release()

	cache := ObjectCacheOf(c)
	cache.Put("obj", []byte("x"))

	c.NotifyPreFork()
	rebuilt := ObjectCacheOf(c)
	if rebuilt == cache {
		t.Fatal("cache instance survived pre-fork")
	}
	if rebuilt.Len() != 0 {
		t.Fatal("rebuilt cache inherited entries")
	}
}

func TestObjectCacheReplaceSameKey(t *testing.T) {
	c := newTestContext(t)
	defer c.Release()

	cache := ObjectCacheOf(c)
	cache.Put("obj", make([]byte, 30))
	cache.Put("obj", make([]byte, 10))
	if got := cache.Bytes(); got != 10 {
		t.Fatalf("Bytes = %d after replace, want 10", got)
	}
	if cache.Len() != 1 {
		t.Fatalf("Len = %d after replace, want 1", cache.Len())
	}
}
