package iio

import (
	"sort"
	"sync"
)

// table is a concurrency-safe map from handle to value.
type table[V any] struct {
	mu    sync.RWMutex
	items map[int32]V
}

func newTable[V any]() *table[V] {
	return &table[V]{items: make(map[int32]V)}
}

func (t *table[V]) insert(h int32, v V) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items[h] = v
}

func (t *table[V]) find(h int32) (V, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.items[h]
	return v, ok
}

// remove deletes h and reports whether it was present.
func (t *table[V]) remove(h int32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.items[h]; !ok {
		return false
	}
	delete(t.items, h)
	return true
}

func (t *table[V]) handles() []int32 {
	t.mu.RLock()
	out := make([]int32, 0, len(t.items))
	for h := range t.items {
		out = append(out, h)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
