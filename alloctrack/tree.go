package alloctrack

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrWorkingDir reports that the current working directory, needed for
// category classification, could not be resolved. It reflects the caller
// environment, not data integrity.
var ErrWorkingDir = errors.New("alloctrack: cannot resolve working directory")

// Key discriminates tree nodes: frames with equal Keys are the same call
// site and merge into one node.
type Key struct {
	File        string `json:"filename"`
	Line        int    `json:"lineno"`
	Column      int    `json:"colno"`
	FuncAddress uint64 `json:"-"`
	Func        string `json:"fn_name"`
}

// keyFromFrame derives a usable Key. A frame without a filename and a
// function name cannot discriminate a call site and is skipped during
// the fold.
func keyFromFrame(f FrameInfo) (Key, bool) {
	if f.File == "" || f.Func == "" {
		return Key{}, false
	}
	return Key{
		File:        f.File,
		Line:        f.Line,
		Column:      f.Column,
		FuncAddress: f.FuncAddress,
		Func:        f.Func,
	}, true
}

// NodeID addresses a node inside the tree's arena.
type NodeID int32

// Node is one call site with its totals. Before aggregation the metric
// fields hold only the node's direct contribution; afterwards they also
// include the recursive sum over all descendants, per metric. Children
// keep insertion order and are never sorted.
type Node struct {
	Key      Key
	Category Category

	Allocation        uint64
	AllocationCount   uint64
	Deallocation      uint64
	DeallocationCount uint64

	Children []NodeID
	Context  *SourceContext
}

// Tree is the merged call-stack tree of one tracked window. Nodes live in
// an index-addressed arena; the root is synthetic and carries the window's
// grand totals after aggregation.
type Tree struct {
	nodes []Node
}

// Tree folds the resolved records into a single-rooted tree merging
// identical call-stack prefixes, then computes bottom-up aggregated
// totals.
func (s *Stats) Tree() (*Tree, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWorkingDir, err)
	}

	t := &Tree{nodes: []Node{{
		Key:      Key{File: "<root>", Func: "<root>"},
		Category: CategoryUnknown,
	}}}

	for i := range s.Allocations {
		t.insert(cwd, &s.Allocations[i])
	}
	t.aggregate(t.Root())
	return t, nil
}

// Root returns the synthetic root node's ID.
func (t *Tree) Root() NodeID { return 0 }

// At returns the node with the given ID.
func (t *Tree) At(id NodeID) *Node { return &t.nodes[id] }

// Len returns the number of nodes, root included.
func (t *Tree) Len() int { return len(t.nodes) }

func (t *Tree) insert(cwd string, a *Allocation) {
	cur := t.Root()
	last := NodeID(-1)
	for _, f := range a.Stack { // outermost to innermost
		key, ok := keyFromFrame(f)
		if !ok {
			continue
		}
		cur = t.child(cwd, cur, key, f.Context)
		last = cur
	}
	if last < 0 {
		return
	}
	// Only the deepest resolved frame takes the direct contribution.
	n := &t.nodes[last]
	n.Allocation += a.AllocationSize
	n.Deallocation += a.DeallocationSize
	if a.AllocationSize > 0 {
		n.AllocationCount++
	}
	if a.DeallocationSize > 0 {
		n.DeallocationCount++
	}
}

// child reuses an existing child with an exactly equal Key or appends a
// new one. Category is assigned once here, from the node's own filename.
func (t *Tree) child(cwd string, parent NodeID, key Key, ctx *SourceContext) NodeID {
	for _, id := range t.nodes[parent].Children {
		if t.nodes[id].Key == key {
			return id
		}
	}
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, Node{
		Key:      key,
		Category: guessCategory(cwd, key.File),
		Context:  ctx,
	})
	t.nodes[parent].Children = append(t.nodes[parent].Children, id)
	return id
}

// aggregate folds each descendant's totals into its ancestors in a
// single post-order pass. A child's count reaches the parent only when
// that child's aggregated byte total for the same metric is nonzero; the
// two metrics are gated independently.
func (t *Tree) aggregate(id NodeID) {
	var alloc, allocCount, dealloc, deallocCount uint64
	for _, c := range t.nodes[id].Children {
		t.aggregate(c)
		child := &t.nodes[c]
		alloc += child.Allocation
		if child.Allocation > 0 {
			allocCount += child.AllocationCount
		}
		dealloc += child.Deallocation
		if child.Deallocation > 0 {
			deallocCount += child.DeallocationCount
		}
	}
	n := &t.nodes[id]
	n.Allocation += alloc
	n.AllocationCount += allocCount
	n.Deallocation += dealloc
	n.DeallocationCount += deallocCount
}

type jsonNode struct {
	Key               Key            `json:"key"`
	Category          Category       `json:"category"`
	Allocation        uint64         `json:"allocation"`
	AllocationCount   uint64         `json:"allocation_count"`
	Deallocation      uint64         `json:"deallocation"`
	DeallocationCount uint64         `json:"deallocation_count"`
	Context           *SourceContext `json:"file_content,omitempty"`
	Children          []jsonNode     `json:"children"`
}

// MarshalJSON serializes the tree as the nested structure consumed by
// external renderers.
func (t *Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.encode(t.Root()))
}

func (t *Tree) encode(id NodeID) jsonNode {
	n := &t.nodes[id]
	out := jsonNode{
		Key:               n.Key,
		Category:          n.Category,
		Allocation:        n.Allocation,
		AllocationCount:   n.AllocationCount,
		Deallocation:      n.Deallocation,
		DeallocationCount: n.DeallocationCount,
		Context:           n.Context,
		Children:          make([]jsonNode, 0, len(n.Children)),
	}
	for _, c := range n.Children {
		out.Children = append(out.Children, t.encode(c))
	}
	return out
}
