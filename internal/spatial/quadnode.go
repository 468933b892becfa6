package spatial

import (
	"fmt"
	"io"
	"strings"
)

// quadNode is one square of a region quadtree. E is what the node stores:
// the object itself for the static tree, a slot index for the dynamic one.
// Children are created on demand and never removed.
type quadNode[E any] struct {
	area      Rect
	depth     int
	quadrants [4]Rect
	children  [4]*quadNode[E]
	items     []E
}

func newQuadNode[E any](area Rect, depth int) *quadNode[E] {
	return &quadNode[E]{
		area:      area,
		depth:     depth,
		quadrants: area.Quadrants(),
	}
}

// descend returns the deepest node whose quadrant strictly contains b,
// creating missing children on the way. Quadrants are tried in TL, TR, BL,
// BR order and the first match wins.
func (n *quadNode[E]) descend(b Rect, maxDepth int) *quadNode[E] {
	node := n
	for node.depth+1 < maxDepth {
		next := -1
		for i := range node.quadrants {
			if node.quadrants[i].Contains(b) {
				next = i
				break
			}
		}
		if next < 0 {
			break
		}
		if node.children[next] == nil {
			node.children[next] = newQuadNode[E](node.quadrants[next], node.depth+1)
		}
		node = node.children[next]
	}
	return node
}

// search calls fn for every item whose bounds overlap query. Subtrees whose
// quadrant lies fully inside query are emitted without per-item tests.
func (n *quadNode[E]) search(query Rect, bounds func(E) Rect, fn func(E)) {
	if !query.Overlaps(n.area) {
		return
	}
	for _, it := range n.items {
		if query.Overlaps(bounds(it)) {
			fn(it)
		}
	}
	for i, child := range n.children {
		if child == nil {
			continue
		}
		switch {
		case query.Contains(n.quadrants[i]):
			child.each(fn)
		case query.Overlaps(n.quadrants[i]):
			child.search(query, bounds, fn)
		}
	}
}

// each calls fn for every item in the subtree.
func (n *quadNode[E]) each(fn func(E)) {
	for _, it := range n.items {
		fn(it)
	}
	for _, child := range n.children {
		if child != nil {
			child.each(fn)
		}
	}
}

func (n *quadNode[E]) size() int {
	count := len(n.items)
	for _, child := range n.children {
		if child != nil {
			count += child.size()
		}
	}
	return count
}

func (n *quadNode[E]) walk(fn func(Node)) {
	fn(Node{Area: n.area, Depth: n.depth, Objects: len(n.items)})
	for _, child := range n.children {
		if child != nil {
			child.walk(fn)
		}
	}
}

func (n *quadNode[E]) stats() TreeStats {
	var st TreeStats
	n.walk(func(nd Node) {
		st.Nodes++
		st.Objects += nd.Objects
		if nd.Depth > st.MaxDepth {
			st.MaxDepth = nd.Depth
		}
	})
	return st
}

// print writes one line per node, indented two spaces per level.
func (n *quadNode[E]) print(w io.Writer) error {
	var err error
	n.walk(func(nd Node) {
		if err != nil {
			return
		}
		_, err = fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", nd.Depth), nd.Area)
	})
	return err
}
