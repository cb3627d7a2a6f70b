package state

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Item is a keyed cache entry as observed by per-key subscribers.
// Present is false when the entity is absent or was removed.
type Item[V any] struct {
	Value   V
	Present bool
}

// EntityCache holds the current set of entities of one kind and lets many
// independent consumers observe either the whole sorted collection or a
// single entity by key. Values are stored and published by copy, so cached
// state never aliases what callers hold. V should be a plain value struct.
type EntityCache[K comparable, V any] struct {
	name  string
	keyFn func(V) K
	less  func(a, b V) bool

	// wmu sections may take mu read-side; mu is never held while taking
	// wmu, so the nesting runs one way only
	mu    sync.RWMutex
	items map[K]V

	wmu         sync.Mutex
	all         *Watch[[]V]
	itemWatches map[K]*Watch[Item[V]]

	corrupted atomic.Bool
}

// NewEntityCache builds a cache seeded with initial values. keyFn extracts
// the identity of a value; less must define a total order with
// deterministic ties (break by key).
func NewEntityCache[K comparable, V any](name string, initial []V, keyFn func(V) K, less func(a, b V) bool) *EntityCache[K, V] {
	items := make(map[K]V, len(initial))
	for _, v := range initial {
		items[keyFn(v)] = v
	}

	snapshot := make([]V, len(initial))
	copy(snapshot, initial)
	sort.SliceStable(snapshot, func(i, j int) bool { return less(snapshot[i], snapshot[j]) })

	return &EntityCache[K, V]{
		name:        name,
		keyFn:       keyFn,
		less:        less,
		items:       items,
		all:         NewWatch(snapshot),
		itemWatches: make(map[K]*Watch[Item[V]]),
	}
}

// guard runs fn with panic containment. A panic in a caller-supplied
// callback marks the cache corrupted; every later call fails fast with
// ErrCorrupted instead of serving possibly-torn state.
func (c *EntityCache[K, V]) guard(section string, fn func()) (err error) {
	if c.corrupted.Load() {
		return corruptedErr(c.name, section)
	}
	defer func() {
		if r := recover(); r != nil {
			c.corrupted.Store(true)
			err = corruptedErr(c.name, section)
		}
	}()
	fn()
	return nil
}

// SubscribeAll returns a receiver over the whole sorted collection. The
// current snapshot is immediately observable.
func (c *EntityCache[K, V]) SubscribeAll() *Receiver[[]V] {
	return c.all.Subscribe()
}

// SubscribeOne returns a receiver scoped to one key. It immediately yields
// the current entry (Present=false if absent). The underlying watch is
// created lazily and shared by all subscribers of the same key.
func (c *EntityCache[K, V]) SubscribeOne(key K) (*Receiver[Item[V]], error) {
	var r *Receiver[Item[V]]
	err := c.guard("subscribe_one", func() {
		c.wmu.Lock()
		defer c.wmu.Unlock()

		w, exists := c.itemWatches[key]
		if !exists {
			// The seed is read while the registry lock is held: a
			// concurrent Upsert either lands before this read or finds
			// the watch registered and sends to it. No write can fall
			// between seed and registration.
			c.mu.RLock()
			v, ok := c.items[key]
			c.mu.RUnlock()
			w = NewWatch(Item[V]{Value: v, Present: ok})
			c.itemWatches[key] = w
		}
		r = w.Subscribe()
	})
	return r, err
}

// List returns a point-in-time sorted snapshot.
func (c *EntityCache[K, V]) List() ([]V, error) {
	var snapshot []V
	err := c.guard("list", func() {
		snapshot = c.sortedSnapshot()
	})
	return snapshot, err
}

// Get returns a point-in-time lookup by key.
func (c *EntityCache[K, V]) Get(key K) (V, bool, error) {
	var (
		v  V
		ok bool
	)
	err := c.guard("get", func() {
		c.mu.RLock()
		v, ok = c.items[key]
		c.mu.RUnlock()
	})
	return v, ok, err
}

// Upsert inserts or replaces a value by its key, notifies that key's
// subscribers, then publishes the resorted whole-collection snapshot.
func (c *EntityCache[K, V]) Upsert(value V) error {
	return c.guard("upsert", func() {
		key := c.keyFn(value)

		c.mu.Lock()
		c.items[key] = value
		c.mu.Unlock()

		// Sending under the registry lock keeps per-key notifications in
		// map-write order and pairs them with subscription seeding.
		c.wmu.Lock()
		if w := c.itemWatches[key]; w != nil {
			w.Send(Item[V]{Value: value, Present: true})
		}
		c.wmu.Unlock()

		c.publishAll()
	})
}

// Remove deletes a key. Its subscribers observe an absent entry and the
// per-key watch is retired; a fresh subscription after removal starts from
// absent. The whole-collection snapshot is republished.
func (c *EntityCache[K, V]) Remove(key K) error {
	return c.guard("remove", func() {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()

		c.wmu.Lock()
		if w := c.itemWatches[key]; w != nil {
			w.Send(Item[V]{})
			w.Close()
			delete(c.itemWatches, key)
		}
		c.wmu.Unlock()

		c.publishAll()
	})
}

func (c *EntityCache[K, V]) publishAll() {
	c.all.Send(c.sortedSnapshot())
}

// sortedSnapshot clones the values under the read lock, then sorts outside
// it so user callbacks never run while a lock is held.
func (c *EntityCache[K, V]) sortedSnapshot() []V {
	c.mu.RLock()
	snapshot := make([]V, 0, len(c.items))
	for _, v := range c.items {
		snapshot = append(snapshot, v)
	}
	c.mu.RUnlock()

	sort.SliceStable(snapshot, func(i, j int) bool { return c.less(snapshot[i], snapshot[j]) })
	return snapshot
}
