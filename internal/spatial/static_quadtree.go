package spatial

import (
	"io"
)

// StaticQuadTree is an insert-only region quadtree. Each object is stored in
// the deepest node whose quadrant strictly contains its bounds, down to
// MaxDepth levels.
//
// The zero value is ready to use with DefaultArea and DefaultMaxDepth.
type StaticQuadTree[T Object] struct {
	area     Rect
	maxDepth int
	areaSet  bool
	root     *quadNode[T]
}

// NewStaticQuadTree returns an empty tree over area.
func NewStaticQuadTree[T Object](area Rect) *StaticQuadTree[T] {
	return &StaticQuadTree[T]{area: area, areaSet: true, maxDepth: DefaultMaxDepth}
}

// SetArea sets the domain. It fails once the tree holds objects.
func (t *StaticQuadTree[T]) SetArea(area Rect) error {
	if t.root != nil {
		return errAreaLocked(t.Area())
	}
	t.area = area
	t.areaSet = true
	return nil
}

// SetMaxDepth sets the subdivision limit. It fails once the tree holds
// objects.
func (t *StaticQuadTree[T]) SetMaxDepth(depth int) error {
	if depth < 1 {
		return errInvalidConfig("max_depth", depth)
	}
	if t.root != nil {
		return errAreaLocked(t.Area())
	}
	t.maxDepth = depth
	return nil
}

// Area returns the domain.
func (t *StaticQuadTree[T]) Area() Rect {
	if !t.areaSet {
		return DefaultArea
	}
	return t.area
}

func (t *StaticQuadTree[T]) depthLimit() int {
	if t.maxDepth == 0 {
		return DefaultMaxDepth
	}
	return t.maxDepth
}

// Insert stores obj.
func (t *StaticQuadTree[T]) Insert(obj T) {
	if t.root == nil {
		t.root = newQuadNode[T](t.Area(), 0)
	}
	node := t.root.descend(obj.Bounds(), t.depthLimit())
	node.items = append(node.items, obj)
}

// Search returns every object whose bounds overlap query.
func (t *StaticQuadTree[T]) Search(query Rect) []T {
	var found []T
	t.SearchFunc(query, func(obj T) {
		found = append(found, obj)
	})
	return found
}

// SearchFunc calls fn for every object whose bounds overlap query.
func (t *StaticQuadTree[T]) SearchFunc(query Rect, fn func(T)) {
	if t.root == nil || query.IsEmpty() || t.Area().IsEmpty() {
		return
	}
	t.root.search(query, func(obj T) Rect { return obj.Bounds() }, fn)
}

// Items returns every stored object.
func (t *StaticQuadTree[T]) Items() []T {
	if t.root == nil {
		return nil
	}
	items := make([]T, 0, t.root.size())
	t.root.each(func(obj T) {
		items = append(items, obj)
	})
	return items
}

// Size returns the number of stored objects.
func (t *StaticQuadTree[T]) Size() int {
	if t.root == nil {
		return 0
	}
	return t.root.size()
}

// Walk visits every node, parents before children.
func (t *StaticQuadTree[T]) Walk(fn func(Node)) {
	if t.root != nil {
		t.root.walk(fn)
	}
}

// Stats reports node count, depth and object count.
func (t *StaticQuadTree[T]) Stats() TreeStats {
	if t.root == nil {
		return TreeStats{}
	}
	return t.root.stats()
}

// Print writes the node areas as an indented outline.
func (t *StaticQuadTree[T]) Print(w io.Writer) error {
	if t.root == nil {
		return nil
	}
	return t.root.print(w)
}
