package priograph

import (
	"container/heap"
	"errors"
	"fmt"
)

var (
	// ErrDuplicateKey is returned when a key is inserted twice.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrOutOfOrder is returned when a key is inserted ahead of an
	// already-inserted key.
	ErrOutOfOrder = errors.New("key inserted out of priority order")
)

const noWriter = -1

type node struct {
	key      Key
	edges    []int
	blockers int
	popped   bool
	resolved bool
}

// chain tracks the unresolved holders of one resource.
type chain struct {
	writer  int
	readers []int
}

// Graph is a conflict graph over resources of type R. A Graph is built for
// one analysis unit, drained, and discarded. It is not safe for concurrent
// use.
type Graph[R comparable] struct {
	nodes    []node
	byKey    map[Key]int
	chains   []chain
	chainIdx map[R]int
	ready    keyHeap
	pending  int
	last     Key
	hasLast  bool
}

// New creates an empty graph.
func New[R comparable]() *Graph[R] {
	return &Graph[R]{
		byKey:    make(map[Key]int),
		chainIdx: make(map[R]int),
	}
}

// Insert registers a transaction. Keys must be inserted in scheduling order
// (see Key.Less); a key that is a duplicate or that would be scheduled ahead
// of the previously inserted key is rejected and the graph is left unchanged.
func (g *Graph[R]) Insert(key Key, locks LockSet[R]) error {
	if _, ok := g.byKey[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}

	if g.hasLast && key.Less(g.last) {
		return fmt.Errorf("%w: %s after %s", ErrOutOfOrder, key, g.last)
	}

	id := len(g.nodes)
	g.nodes = append(g.nodes, node{key: key})
	g.byKey[key] = id

	for _, resource := range locks.Writable {
		c := g.chain(resource)
		if len(c.readers) > 0 {
			for _, reader := range c.readers {
				g.block(reader, id)
			}
		} else if c.writer != noWriter {
			g.block(c.writer, id)
		}

		c.writer = id
		c.readers = c.readers[:0]
	}

	for _, resource := range locks.Readonly {
		c := g.chain(resource)
		if c.writer != noWriter {
			g.block(c.writer, id)
		}

		c.readers = append(c.readers, id)
	}

	if g.nodes[id].blockers == 0 {
		heap.Push(&g.ready, key)
	}

	g.pending++
	g.last = key
	g.hasLast = true

	return nil
}

// chain returns the chain state for resource, creating it on first use. The
// returned pointer is only valid until the next call.
func (g *Graph[R]) chain(resource R) *chain {
	idx, ok := g.chainIdx[resource]
	if !ok {
		idx = len(g.chains)
		g.chains = append(g.chains, chain{writer: noWriter})
		g.chainIdx[resource] = idx
	}

	return &g.chains[idx]
}

// block records that target must run after pred. Resolved predecessors and
// repeated edges are ignored. target is always the node being inserted, so a
// repeated edge can only be the last one appended to pred.
func (g *Graph[R]) block(pred, target int) {
	if pred == target {
		return
	}

	p := &g.nodes[pred]
	if n := len(p.edges); p.resolved || (n > 0 && p.edges[n-1] == target) {
		return
	}

	p.edges = append(p.edges, target)
	g.nodes[target].blockers++
}

// Pop removes and returns the highest-priority ready transaction. It returns
// false when nothing is ready; IsEmpty tells whether anything remains.
func (g *Graph[R]) Pop() (Key, bool) {
	if g.ready.Len() == 0 {
		return Key{}, false
	}

	key := heap.Pop(&g.ready).(Key)
	g.nodes[g.byKey[key]].popped = true
	g.pending--

	return key, true
}

// Unblock resolves a popped transaction and returns the transactions that
// became ready as a result, in the order their edges were recorded.
func (g *Graph[R]) Unblock(key Key) []Key {
	id, ok := g.byKey[key]
	if !ok {
		return nil
	}

	n := &g.nodes[id]
	if !n.popped || n.resolved {
		return nil
	}

	n.resolved = true
	edges := n.edges
	n.edges = nil

	var unblocked []Key

	for _, target := range edges {
		t := &g.nodes[target]
		t.blockers--

		if t.blockers == 0 {
			heap.Push(&g.ready, t.key)
			unblocked = append(unblocked, t.key)
		}
	}

	return unblocked
}

// IsBlocked reports whether key still waits on an unresolved predecessor.
func (g *Graph[R]) IsBlocked(key Key) bool {
	id, ok := g.byKey[key]
	if !ok {
		return false
	}

	return g.nodes[id].blockers > 0
}

// IsEmpty reports whether every inserted transaction has been popped.
func (g *Graph[R]) IsEmpty() bool {
	return g.pending == 0
}

// Len returns the number of transactions not yet popped.
func (g *Graph[R]) Len() int {
	return g.pending
}
