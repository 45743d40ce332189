package meta

import "sync"

// SingleEntryCache holds at most one key/value pair. A GetOrCompute with a
// different key evicts the previous entry. This makes the "only one cached
// archived timeline per watermark" invariant explicit instead of implicit
// field-clearing.
type SingleEntryCache[K comparable, V any] struct {
	mu     sync.Mutex
	filled bool
	key    K
	value  V
}

// GetOrCompute returns the cached value for key, computing and caching it if
// the cache is empty or holds a different key. Compute errors leave the
// cache untouched.
func (c *SingleEntryCache[K, V]) GetOrCompute(key K, compute func() (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.filled && c.key == key {
		return c.value, nil
	}
	v, err := compute()
	if err != nil {
		var zero V
		return zero, err
	}
	c.filled = true
	c.key = key
	c.value = v
	return v, nil
}

// Invalidate drops the cached entry.
func (c *SingleEntryCache[K, V]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zeroK K
	var zeroV V
	c.filled = false
	c.key = zeroK
	c.value = zeroV
}

// Len reports 0 or 1; useful for asserting the single-entry invariant.
func (c *SingleEntryCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.filled {
		return 1
	}
	return 0
}
