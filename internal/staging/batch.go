// Package staging orders a batch of writes in memory before it is bulk
// loaded into a slice: keys are kept sorted and unique, a later Set of the
// same key replacing the earlier value.
package staging

import (
	"slices"
	"strings"
)

// Batch is an in-memory B-tree of keys to values. Not thread-safe.
//
// Keys are copied on Set, so the caller may reuse its buffers.
//
//	var batch staging.Batch[Entry]
//	batch.Set(key, entry)
//	for key, entry := range batch.Items {
//		...
//	}
type Batch[V any] struct {
	items []item[V]
	nodes []*node[V]
	last  *node[V]
	count int
}

type item[V any] struct {
	key string
	val V
}

// Len returns the number of distinct keys.
func (batch *Batch[V]) Len() int {
	return batch.count
}

// Reset drops every key.
func (batch *Batch[V]) Reset() {
	batch.items = nil
	batch.nodes = nil
	batch.last = nil
	batch.count = 0
}

// Set stores val under key, replacing any earlier value.
func (batch *Batch[V]) Set(key []byte, val V) {
	e := entry[V]{item: item[V]{string(key), val}}
	index, found := batch.find(e.key)
	if found {
		batch.items[index].val = val
		return
	}
	next := batch.node(index)
	if next == nil {
		batch.count++
		batch.insertItem(index, e.item)
		return
	}
	inserted, done := e.set(next)
	if inserted {
		batch.count++
	}
	if !done {
		batch.insertEntry(index, &e)
	}
}

// Get returns the value stored under key.
func (batch *Batch[V]) Get(key []byte) (val V, found bool) {
	k := string(key)
	index, found := batch.find(k)
	if found {
		return batch.items[index].val, true
	}
	for n := batch.node(index); n != nil; n = n.node(index) {
		if index, found = n.find(k); found {
			return n.items[index].val, true
		}
	}
	return
}

// Items iterates the batch in key order. The key slices are shared with the
// batch and must not be modified.
func (batch *Batch[V]) Items(yield func(key []byte, val V) bool) {
	for i := range batch.items {
		if batch.last != nil && !batch.nodes[i].walk(yield) {
			return
		}
		if !yield([]byte(batch.items[i].key), batch.items[i].val) {
			return
		}
	}
	if batch.last != nil {
		batch.last.walk(yield)
	}
}

func (batch *Batch[V]) node(i int) *node[V] {
	if i >= len(batch.nodes) {
		return batch.last
	}
	return batch.nodes[i]
}

func (batch *Batch[V]) find(key string) (int, bool) {
	return slices.BinarySearchFunc(batch.items, key, func(it item[V], key string) int {
		return strings.Compare(it.key, key)
	})
}

func (batch *Batch[V]) insertItem(i int, it item[V]) {
	batch.items = slices.Insert(batch.items, i, it)
	if len(batch.items) == double {
		lnode := &node[V]{count: order}
		copy(lnode.items[:], batch.items[:order])
		rnode := &node[V]{count: order}
		copy(rnode.items[:], batch.items[order+1:])

		batch.items[0] = batch.items[order]
		batch.items = batch.items[:1]
		batch.nodes = []*node[V]{lnode}
		batch.last = rnode
	}
}

func (batch *Batch[V]) insertEntry(i int, e *entry[V]) {
	batch.items = slices.Insert(batch.items, i, e.item)
	batch.nodes = slices.Insert(batch.nodes, i, e.node)
	if len(batch.items) == double {
		lnode := &node[V]{count: order, last: batch.nodes[order]}
		copy(lnode.items[:], batch.items[:order])
		copy(lnode.nodes[:], batch.nodes[:order])

		rnode := &node[V]{count: order, last: batch.last}
		copy(rnode.items[:], batch.items[order+1:])
		copy(rnode.nodes[:], batch.nodes[order+1:])

		batch.items[0] = batch.items[order]
		batch.items = batch.items[:1]
		batch.nodes[0] = lnode
		batch.nodes = batch.nodes[:1]
		batch.last = rnode
	}
}
