// Package progress implements the hierarchical, unit-budgeted progress tree
// the step runner reports through. A root node pre-allocates one unit per
// registered step; each step may fan out into children with budgets of their
// own. Reporting is advisory: it never blocks, never fails a build, and has
// no effect on scheduling.
package progress

import (
	"sync"
	"sync/atomic"
)

// Producer mints one child node with the given description and unit budget.
// A producer is bound to the node it was created from and may outlive it;
// budget accounting is best-effort, so minting from a closed node is allowed.
type Producer func(description string, totalUnits int64) *Node

// Node is one node in the progress tree. It must be closed exactly once;
// closing releases any unconsumed budget rather than erroring.
type Node struct {
	description string
	total       int64
	used        atomic.Int64
	sink        Sink
	parent      *Node
	closeOnce   sync.Once
}

// NewRoot creates the top node of a build's progress tree.
func NewRoot(sink Sink, description string, totalUnits int64) *Node {
	if sink == nil {
		sink = NopSink{}
	}
	n := &Node{description: description, total: totalUnits, sink: sink}
	n.sink.Publish(Event{Kind: EventOpened, Description: description, Units: totalUnits})
	return n
}

// Child mints a child node consuming units from this node's budget.
// Consuming more than the declared budget is tolerated.
func (n *Node) Child(description string, totalUnits int64) *Node {
	n.used.Add(totalUnits)
	c := &Node{description: description, total: totalUnits, sink: n.sink, parent: n}
	n.sink.Publish(Event{Kind: EventOpened, Description: description, Units: totalUnits})
	return c
}

// ChildProducer returns a factory bound to this node. A node may mint any
// number of children over its lifetime.
func (n *Node) ChildProducer() Producer {
	return n.Child
}

// Advance reports units of direct work completed under this node.
func (n *Node) Advance(units int64) {
	n.used.Add(units)
	n.sink.Publish(Event{Kind: EventAdvanced, Description: n.description, Units: units})
}

// Close finishes the node, releasing any unconsumed budget. Only the first
// call has any effect; every exit path of the owning scope must close.
func (n *Node) Close() {
	n.closeOnce.Do(func() {
		remaining := n.total - n.used.Load()
		if remaining < 0 {
			remaining = 0
		}
		n.sink.Publish(Event{Kind: EventClosed, Description: n.description, Units: remaining})
	})
}

// Description returns the node's human-readable description.
func (n *Node) Description() string {
	return n.description
}

// Total returns the node's declared unit budget.
func (n *Node) Total() int64 {
	return n.total
}
