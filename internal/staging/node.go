package staging

import (
	"slices"
	"strings"
)

const order = 6 // min: 2
const half = (order + 1) / 2
const double = 2*order + 1

type node[V any] struct {
	count int
	items [order]item[V]
	nodes [order]*node[V]
	last  *node[V]
}

func (n *node[V]) node(i int) *node[V] {
	if i == n.count {
		return n.last
	}
	return n.nodes[i]
}

func (n *node[V]) find(key string) (int, bool) {
	return slices.BinarySearchFunc(n.items[:n.count], key, func(it item[V], key string) int {
		return strings.Compare(it.key, key)
	})
}

func (n *node[V]) insert(i int, e *entry[V]) {
	if i != n.count {
		copy(n.items[i+1:], n.items[i:n.count])
		copy(n.nodes[i+1:], n.nodes[i:n.count])
	}
	n.count++
	n.items[i] = e.item
	n.nodes[i] = e.node
}

func (n *node[V]) walk(yield func([]byte, V) bool) bool {
	for i := range n.count {
		if n.last != nil && !n.nodes[i].walk(yield) {
			return false
		}
		if !yield([]byte(n.items[i].key), n.items[i].val) {
			return false
		}
	}
	if n.last != nil {
		return n.last.walk(yield)
	}
	return true
}
