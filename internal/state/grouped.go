package state

import (
	"sort"
	"sync"
	"sync/atomic"
)

// GroupedCache is a secondary index over entities partitioned by a group
// key (e.g. sessions grouped by project). Each group has its own sorted
// collection and its own watch. The reverse index itemToGroup always
// agrees with which group's map currently contains an item: an item lives
// in at most one group at a time.
type GroupedCache[G, K comparable, V any] struct {
	name       string
	groupKeyFn func(V) G
	itemKeyFn  func(V) K
	less       func(a, b V) bool

	// wmu sections may take mu read-side; mu is never held while taking
	// wmu, so the nesting runs one way only
	mu          sync.RWMutex
	groups      map[G]map[K]V
	itemToGroup map[K]G

	wmu          sync.Mutex
	groupWatches map[G]*Watch[[]V]

	corrupted atomic.Bool
}

// NewGroupedCache builds a grouped cache seeded with initial values.
func NewGroupedCache[G, K comparable, V any](name string, initial []V, groupKeyFn func(V) G, itemKeyFn func(V) K, less func(a, b V) bool) *GroupedCache[G, K, V] {
	groups := make(map[G]map[K]V)
	itemToGroup := make(map[K]G, len(initial))

	for _, v := range initial {
		g := groupKeyFn(v)
		k := itemKeyFn(v)
		if groups[g] == nil {
			groups[g] = make(map[K]V)
		}
		groups[g][k] = v
		itemToGroup[k] = g
	}

	return &GroupedCache[G, K, V]{
		name:         name,
		groupKeyFn:   groupKeyFn,
		itemKeyFn:    itemKeyFn,
		less:         less,
		groups:       groups,
		itemToGroup:  itemToGroup,
		groupWatches: make(map[G]*Watch[[]V]),
	}
}

func (c *GroupedCache[G, K, V]) guard(section string, fn func()) (err error) {
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

// SubscribeGroup returns a receiver over one group's sorted collection,
// seeded with the group's current snapshot (empty for an unknown group).
func (c *GroupedCache[G, K, V]) SubscribeGroup(group G) (*Receiver[[]V], error) {
	var r *Receiver[[]V]
	err := c.guard("subscribe_group", func() {
		c.wmu.Lock()
		defer c.wmu.Unlock()

		w, exists := c.groupWatches[group]
		if !exists {
			// Seed while the registry lock is held: a concurrent Upsert
			// either precedes the snapshot or finds the watch registered
			// and publishes to it.
			w = NewWatch(c.groupSnapshot(group))
			c.groupWatches[group] = w
		}
		r = w.Subscribe()
	})
	return r, err
}

// ListGroup returns a point-in-time sorted snapshot of one group.
func (c *GroupedCache[G, K, V]) ListGroup(group G) ([]V, error) {
	var snapshot []V
	err := c.guard("list_group", func() {
		snapshot = c.groupSnapshot(group)
	})
	return snapshot, err
}

// Upsert inserts or replaces an item. If the item's group key changed, the
// item is first removed from its old group, and the old group is published
// before the new one, so old-group subscribers never keep seeing an item
// that has already moved.
func (c *GroupedCache[G, K, V]) Upsert(value V) error {
	return c.guard("upsert", func() {
		group := c.groupKeyFn(value)
		key := c.itemKeyFn(value)

		var (
			oldGroup   G
			publishOld bool
		)

		c.mu.Lock()
		if prev, ok := c.itemToGroup[key]; ok && prev != group {
			if old := c.groups[prev]; old != nil {
				delete(old, key)
			}
			oldGroup = prev
			publishOld = true
		}
		if c.groups[group] == nil {
			c.groups[group] = make(map[K]V)
		}
		c.groups[group][key] = value
		c.itemToGroup[key] = group
		c.mu.Unlock()

		if publishOld {
			c.publishGroup(oldGroup)
		}
		c.publishGroup(group)
	})
}

// Remove deletes an item from whatever group currently holds it and
// publishes that group. Removing an unknown item is a no-op.
func (c *GroupedCache[G, K, V]) Remove(key K) error {
	return c.guard("remove", func() {
		c.mu.Lock()
		group, ok := c.itemToGroup[key]
		if ok {
			delete(c.itemToGroup, key)
			if items := c.groups[group]; items != nil {
				delete(items, key)
			}
		}
		c.mu.Unlock()

		if ok {
			c.publishGroup(group)
		}
	})
}

// RemoveGroup drops an entire group at once: inner map, every contained
// item's reverse-index entry, and the group's watch. Used when the parent
// entity is deleted so the group disappears atomically instead of decaying
// one item at a time.
func (c *GroupedCache[G, K, V]) RemoveGroup(group G) error {
	return c.guard("remove_group", func() {
		c.mu.Lock()
		removed := c.groups[group]
		delete(c.groups, group)
		for key := range removed {
			delete(c.itemToGroup, key)
		}
		c.mu.Unlock()

		c.wmu.Lock()
		if w := c.groupWatches[group]; w != nil {
			w.Send(nil)
			w.Close()
			delete(c.groupWatches, group)
		}
		c.wmu.Unlock()
	})
}

// publishGroup snapshots and sends under the registry lock so publishes
// stay in map-write order and cannot interleave with subscription seeding.
func (c *GroupedCache[G, K, V]) publishGroup(group G) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if w := c.groupWatches[group]; w != nil {
		w.Send(c.groupSnapshot(group))
	}
}

func (c *GroupedCache[G, K, V]) groupSnapshot(group G) []V {
	c.mu.RLock()
	snapshot := make([]V, 0, len(c.groups[group]))
	for _, v := range c.groups[group] {
		snapshot = append(snapshot, v)
	}
	c.mu.RUnlock()

	sort.SliceStable(snapshot, func(i, j int) bool { return c.less(snapshot[i], snapshot[j]) })
	return snapshot
}
