package runtime

import (
	"sync"

	"stashd/internal/adminsock"
	"stashd/internal/config"
	"stashd/internal/logging"
	"stashd/internal/perf"
)

const cachePerfGroup = "object_cache"

// ObjectCache is a byte-bounded cache for recently read objects. Insertion
// past the byte budget evicts oldest entries first. The cache holds open
// state tied to the process, so it is registered drop-on-fork.
type ObjectCache struct {
	c *Context

	mu       sync.Mutex
	capacity int64
	used     int64
	entries  map[string][]byte
	order    []string

	counters *perf.Group
}

// ObjectCacheOf returns the context's shared object cache, creating it on
// first use.
func ObjectCacheOf(c *Context) *ObjectCache {
	return Singleton(c, "object_cache", true, newObjectCache)
}

func newObjectCache(c *Context) *ObjectCache {
	g := perf.NewGroup(cachePerfGroup)
	g.AddCounter("hits", "cache lookups that found the object")
	g.AddCounter("misses", "cache lookups that found nothing")
	g.AddCounter("evictions", "objects evicted to satisfy the byte budget")
	g.AddGauge("bytes", "bytes currently cached")
	if err := c.perfColl.Register(g); err != nil {
		panic(err)
	}
	return &ObjectCache{
		c:        c,
		capacity: c.cfg.GetInt("object_cache_bytes"),
		entries:  make(map[string][]byte),
		counters: g,
	}
}

// Get returns the cached bytes for key, or nil.
func (oc *ObjectCache) Get(key string) []byte {
	oc.mu.Lock()
	data, ok := oc.entries[key]
	oc.mu.Unlock()
	if !ok {
		oc.counters.Inc("misses")
		return nil
	}
	oc.counters.Inc("hits")
	return data
}

// Put stores data under key, evicting oldest entries as needed. Objects
// larger than the whole budget are not cached.
func (oc *ObjectCache) Put(key string, data []byte) {
	size := int64(len(data))
	oc.mu.Lock()
	defer oc.mu.Unlock()
	if size > oc.capacity {
		return
	}
	if old, ok := oc.entries[key]; ok {
		oc.used -= int64(len(old))
		oc.dropFromOrder(key)
	}
	for oc.used+size > oc.capacity && len(oc.order) > 0 {
		victim := oc.order[0]
		oc.order = oc.order[1:]
		oc.used -= int64(len(oc.entries[victim]))
		delete(oc.entries, victim)
		oc.counters.Inc("evictions")
	}
	oc.entries[key] = data
	oc.order = append(oc.order, key)
	oc.used += size
	oc.counters.Set("bytes", oc.used)
	if oc.c.cfg.GetBool("cache_debug") {
		oc.c.logger.Debug("object cached",
			logging.String("key", key), logging.Int64("bytes", size))
	}
}

func (oc *ObjectCache) dropFromOrder(key string) {
	for i, k := range oc.order {
		if k == key {
			oc.order = append(oc.order[:i], oc.order[i+1:]...)
			return
		}
	}
}

// Len returns the number of cached objects.
func (oc *ObjectCache) Len() int {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	return len(oc.entries)
}

// Bytes returns the cached byte total.
func (oc *ObjectCache) Bytes() int64 {
	oc.mu.Lock()
	defer oc.mu.Unlock()
	return oc.used
}

func (oc *ObjectCache) setCapacity(capacity int64) {
	oc.mu.Lock()
	oc.capacity = capacity
	for oc.used > oc.capacity && len(oc.order) > 0 {
		victim := oc.order[0]
		oc.order = oc.order[1:]
		oc.used -= int64(len(oc.entries[victim]))
		delete(oc.entries, victim)
		oc.counters.Inc("evictions")
	}
	oc.counters.Set("bytes", oc.used)
	oc.mu.Unlock()
}

// Close drops the cache's counter group. Called when the singleton is
// discarded before a fork.
func (oc *ObjectCache) Close() error {
	oc.c.perfColl.Remove(cachePerfGroup)
	return nil
}

// cacheObserver applies cache option changes to the live cache, if one has
// been constructed, and serves the cache dump admin command.
type cacheObserver struct {
	c *Context
}

func newCacheObserver(c *Context) *cacheObserver {
	return &cacheObserver{c: c}
}

func (o *cacheObserver) TrackedKeys() []string {
	return []string{"object_cache_bytes", "cache_debug"}
}

// lookup returns the cache only if the singleton already exists; observers
// must not construct it as a side effect.
func (o *cacheObserver) lookup() *ObjectCache {
	key := singletonKey{name: "object_cache", typ: reflectTypeOf[*ObjectCache]()}
	o.c.singletonMu.Lock()
	defer o.c.singletonMu.Unlock()
	if e, ok := o.c.singletons[key]; ok {
		return e.value.(*ObjectCache)
	}
	return nil
}

func (o *cacheObserver) HandleConfigChange(store *config.Store, changed map[string]struct{}) {
	if _, ok := changed["object_cache_bytes"]; !ok {
		return
	}
	if cache := o.lookup(); cache != nil {
		cache.setCapacity(store.GetInt("object_cache_bytes"))
	}
}

// Call serves "cache dump".
func (o *cacheObserver) Call(command string, args map[string]string, format string) ([]byte, error) {
	result := make(map[string]any)
	if cache := o.lookup(); cache != nil {
		result["objects"] = cache.Len()
		result["bytes"] = cache.Bytes()
		result["hits"] = cache.counters.Get("hits")
		result["misses"] = cache.counters.Get("misses")
		result["evictions"] = cache.counters.Get("evictions")
	} else {
		result["objects"] = 0
		result["bytes"] = 0
	}
	return adminsock.MarshalResult(result, format)
}
