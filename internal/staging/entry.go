package staging

// entry is an item on its way into the tree, carrying the left sibling
// produced when a split pushes it up a level.
type entry[V any] struct {
	item[V]
	node *node[V]
}

type cursor[V any] struct {
	node  *node[V]
	index int
}

// set places e under n. inserted is false when an existing key was replaced;
// done is false when e was pushed out of n and must be inserted at the root.
func (e *entry[V]) set(n *node[V]) (inserted, done bool) {
	var cursors []cursor[V]
	var index int
	var found bool
	for {
		if index, found = n.find(e.key); found {
			n.items[index].val = e.val
			return false, true
		}
		next := n.node(index)
		if next == nil {
			break
		}
		cursors = append(cursors, cursor[V]{n, index})
		n = next
	}
	if e.insert(index, n) {
		return true, true
	}
	for i := len(cursors) - 1; i >= 0; i-- {
		if e.insert(cursors[i].index, cursors[i].node) {
			return true, true
		}
	}
	return true, false
}

func (e *entry[V]) insert(i int, n *node[V]) bool {
	if n.count < order {
		n.insert(i, e)
		return true
	}
	e.split(i, n)
	return false
}

// split makes room in the full node n for e at index i: the lower half moves
// to a new node that e carries up, along with the median.
func (e *entry[V]) split(i int, n *node[V]) {
	const total = order + 1
	var items [total]item[V]
	var nodes [total]*node[V]
	copy(items[:i], n.items[:i])
	copy(nodes[:i], n.nodes[:i])
	items[i] = e.item
	nodes[i] = e.node
	copy(items[i+1:], n.items[i:])
	copy(nodes[i+1:], n.nodes[i:])

	left := &node[V]{count: half, last: nodes[half]}
	copy(left.items[:], items[:half])
	copy(left.nodes[:], nodes[:half])

	e.item = items[half]
	e.node = left

	const r = half + 1
	clear(n.items[:])
	clear(n.nodes[:])
	copy(n.items[:], items[r:])
	copy(n.nodes[:], nodes[r:])
	n.count = order - half
}
