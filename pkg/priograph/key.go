// Package priograph reconstructs the conflict-serialization order a
// priority-driven transaction scheduler imposes on a batch of transactions.
//
// Transactions are inserted highest priority first. Each declares the
// resources it writes and the resources it reads; the graph links every
// transaction to the nearest unresolved conflicting predecessor on each
// resource, and the resulting DAG is drained in ready layers.
package priograph

import (
	"fmt"
	"slices"
)

// Key identifies a transaction within one graph. Keys are ordered by
// Priority descending, then by Index ascending, so equal-priority
// transactions keep their arrival order.
type Key struct {
	Priority uint64
	Index    int
}

// Less reports whether k is scheduled ahead of o.
func (k Key) Less(o Key) bool {
	if k.Priority != o.Priority {
		return k.Priority > o.Priority
	}

	return k.Index < o.Index
}

// Compare returns -1 when k is scheduled ahead of o, 1 when o is ahead of k
// and 0 when both keys are equal.
func (k Key) Compare(o Key) int {
	switch {
	case k == o:
		return 0
	case k.Less(o):
		return -1
	default:
		return 1
	}
}

// String returns a string representation of the key.
func (k Key) String() string {
	return fmt.Sprintf("%d@%d", k.Priority, k.Index)
}

// SortKeys sorts keys into insertion order.
func SortKeys(keys []Key) {
	slices.SortStableFunc(keys, Key.Compare)
}

// LockSet is the set of resources a transaction locks. A resource must not
// appear in both lists; a write lock subsumes the read.
type LockSet[R comparable] struct {
	Writable []R
	Readonly []R
}

// keyHeap satisfies container/heap, popping the key scheduled first.
type keyHeap []Key

func (h keyHeap) Len() int           { return len(h) }
func (h keyHeap) Less(i, j int) bool { return h[i].Less(h[j]) }
func (h keyHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *keyHeap) Push(x any) {
	*h = append(*h, x.(Key))
}

func (h *keyHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[0 : n-1]

	return item
}
