package config

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// Observer is a collaborator interested in a subset of configuration keys.
// TrackedKeys is consulted once at registration; HandleConfigChange receives
// the store and the changed keys relevant to this observer.
type Observer interface {
	TrackedKeys() []string
	HandleConfigChange(store *Store, changed map[string]struct{})
}

// ObserverRegistry maps option names to the observers tracking them.
// Observers for one key fire in registration order. Dispatch invokes each
// (observer, key) pair at most once per call; an observer tracking several
// changed keys is invoked once per matching key, coalescing is left to
// callers that need it.
type ObserverRegistry struct {
	mu    sync.Mutex
	byKey map[string][]Observer
}

// Add registers the observer under every key it declares as tracked.
func (r *ObserverRegistry) Add(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byKey == nil {
		r.byKey = make(map[string][]Observer)
	}
	for _, key := range o.TrackedKeys() {
		r.byKey[key] = append(r.byKey[key], o)
	}
}

// Remove deletes every registration pointing at o. Every Add must be matched
// by exactly one Remove; removing an observer that was never registered
// breaks that contract and panics.
func (r *ObserverRegistry) Remove(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	found := false
	for key, list := range r.byKey {
		kept := list[:0]
		for _, existing := range list {
			if existing == o {
				found = true
				continue
			}
			kept = append(kept, existing)
		}
		if len(kept) == 0 {
			delete(r.byKey, key)
		} else {
			r.byKey[key] = kept
		}
	}
	if !found {
		panic("config: removing an observer that was never registered")
	}
}

// IsTracking reports whether any observer is registered for name.
func (r *ObserverRegistry) IsTracking(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey[name]) > 0
}

// Dispatch notifies observers of the changed keys, one callback per
// (observer, key) pair. Changed keys nobody tracks are noted in diag as
// possibly requiring a restart; that is a diagnostic, not an error.
func (r *ObserverRegistry) Dispatch(store *Store, changed map[string]struct{}, diag io.Writer) {
	keys := make([]string, 0, len(changed))
	for key := range changed {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		r.mu.Lock()
		targets := append([]Observer(nil), r.byKey[key]...)
		r.mu.Unlock()

		if diag != nil {
			if value, err := store.GetVal(key); err == nil {
				fmt.Fprintf(diag, "%s = '%s' ", key, value)
				if len(targets) == 0 {
					fmt.Fprint(diag, "(not observed, change may require restart) ")
				}
			}
		}
		for _, o := range targets {
			o.HandleConfigChange(store, map[string]struct{}{key: {}})
		}
	}
}

// CallAll fires every registered (observer, key) pair once.
func (r *ObserverRegistry) CallAll(store *Store) {
	r.mu.Lock()
	type pair struct {
		key string
		obs Observer
	}
	pairs := make([]pair, 0)
	keys := make([]string, 0, len(r.byKey))
	for key := range r.byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		for _, o := range r.byKey[key] {
			pairs = append(pairs, pair{key: key, obs: o})
		}
	}
	r.mu.Unlock()

	for _, p := range pairs {
		p.obs.HandleConfigChange(store, map[string]struct{}{p.key: {}})
	}
}
