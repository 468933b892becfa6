package spatial

import (
	"fmt"
	"io"
	"strings"
)

// kdNode holds one object. halves[0] is the left (even depth) or lower (odd
// depth) part of area split at the object's position, halves[1] the other
// side. extent covers the bounds of every object in the subtree, which can
// reach past area when objects sit close to a split line.
type kdNode[T Object] struct {
	obj      T
	depth    int
	area     Rect
	halves   [2]Rect
	children [2]*kdNode[T]
	extent   Rect
}

func newKDNode[T Object](obj T, area Rect, depth int) *kdNode[T] {
	p := obj.Position()
	n := &kdNode[T]{obj: obj, depth: depth, area: area, extent: obj.Bounds()}
	if depth%2 == 0 {
		n.halves = [2]Rect{area.LeftOf(p), area.RightOf(p)}
	} else {
		n.halves = [2]Rect{area.LowerOf(p), area.UpperOf(p)}
	}
	return n
}

// KDTree is an unbalanced 2D k-d tree with one object per node, splitting on
// X at even depths and Y at odd depths. Insertion order decides the shape;
// depth is unbounded.
//
// The zero value is ready to use with DefaultArea.
type KDTree[T Object] struct {
	area    Rect
	areaSet bool
	root    *kdNode[T]
	size    int
}

// NewKDTree returns an empty tree over area.
func NewKDTree[T Object](area Rect) *KDTree[T] {
	return &KDTree[T]{area: area, areaSet: true}
}

// SetArea sets the domain. It fails once the tree holds objects.
func (t *KDTree[T]) SetArea(area Rect) error {
	if t.root != nil {
		return errAreaLocked(t.Area())
	}
	t.area = area
	t.areaSet = true
	return nil
}

// Area returns the domain.
func (t *KDTree[T]) Area() Rect {
	if !t.areaSet {
		return DefaultArea
	}
	return t.area
}

// Insert stores obj. Positions strictly less than a node's on its split axis
// go to the first child, ties go to the second.
func (t *KDTree[T]) Insert(obj T) {
	t.size++
	if t.root == nil {
		t.root = newKDNode(obj, t.Area(), 0)
		return
	}

	p, b := obj.Position(), obj.Bounds()
	node := t.root
	for {
		node.extent = node.extent.Union(b)
		axis := node.depth % 2
		side := 1
		if p.Axis(axis) < node.obj.Position().Axis(axis) {
			side = 0
		}
		if node.children[side] == nil {
			node.children[side] = newKDNode(obj, node.halves[side], node.depth+1)
			return
		}
		node = node.children[side]
	}
}

func (n *kdNode[T]) search(query Rect, fn func(T)) {
	if query.Overlaps(n.obj.Bounds()) {
		fn(n.obj)
	}
	for i, child := range n.children {
		if child == nil {
			continue
		}
		switch {
		case query.Contains(n.halves[i]):
			child.each(fn)
		case query.Overlaps(n.halves[i]) || query.Overlaps(child.extent):
			child.search(query, fn)
		}
	}
}

func (n *kdNode[T]) each(fn func(T)) {
	fn(n.obj)
	for _, child := range n.children {
		if child != nil {
			child.each(fn)
		}
	}
}

func (n *kdNode[T]) walk(fn func(Node)) {
	fn(Node{Area: n.area, Depth: n.depth, Objects: 1})
	for _, child := range n.children {
		if child != nil {
			child.walk(fn)
		}
	}
}

// Search returns every object whose bounds overlap query.
func (t *KDTree[T]) Search(query Rect) []T {
	var found []T
	t.SearchFunc(query, func(obj T) {
		found = append(found, obj)
	})
	return found
}

// SearchFunc calls fn for every object whose bounds overlap query.
func (t *KDTree[T]) SearchFunc(query Rect, fn func(T)) {
	if t.root == nil || query.IsEmpty() || t.Area().IsEmpty() {
		return
	}
	t.root.search(query, fn)
}

// Items returns every stored object in pre-order.
func (t *KDTree[T]) Items() []T {
	if t.root == nil {
		return nil
	}
	items := make([]T, 0, t.size)
	t.root.each(func(obj T) {
		items = append(items, obj)
	})
	return items
}

// Size returns the number of nodes, which equals the number of objects.
func (t *KDTree[T]) Size() int {
	return t.size
}

// Walk visits every node in pre-order.
func (t *KDTree[T]) Walk(fn func(Node)) {
	if t.root != nil {
		t.root.walk(fn)
	}
}

// Stats reports node count and depth. Depth grows with unlucky insertion
// order, up to one level per object for sorted input.
func (t *KDTree[T]) Stats() TreeStats {
	var st TreeStats
	t.Walk(func(nd Node) {
		st.Nodes++
		st.Objects++
		if nd.Depth > st.MaxDepth {
			st.MaxDepth = nd.Depth
		}
	})
	return st
}

// Print writes each node's area, indented two spaces per level.
func (t *KDTree[T]) Print(w io.Writer) error {
	var err error
	t.Walk(func(nd Node) {
		if err != nil {
			return
		}
		_, err = fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", nd.Depth), nd.Area)
	})
	return err
}
