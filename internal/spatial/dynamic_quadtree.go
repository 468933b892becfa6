package spatial

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
)

// Handle references an object stored in a DynamicQuadTree. It stays valid
// until that object is removed, no matter what else is inserted or removed.
// A handle from a removed object never matches a later object that reuses
// the same slot.
type Handle struct {
	tree       uint32
	index      uint32
	generation uint32
}

var treeIDs atomic.Uint32

// String renders the handle as "index.generation".
func (h Handle) String() string {
	return fmt.Sprintf("%d.%d", h.index, h.generation)
}

// ParseHandle parses the String form of a handle issued by t.
func (t *DynamicQuadTree[T]) ParseHandle(s string) (Handle, error) {
	idx, gen, ok := strings.Cut(s, ".")
	if !ok {
		return Handle{}, errMalformedHandle(s)
	}
	index, err := strconv.ParseUint(idx, 10, 32)
	if err != nil {
		return Handle{}, errMalformedHandle(s)
	}
	generation, err := strconv.ParseUint(gen, 10, 32)
	if err != nil {
		return Handle{}, errMalformedHandle(s)
	}
	return Handle{tree: t.treeID, index: uint32(index), generation: uint32(generation)}, nil
}

// slot is one arena entry. node and pos locate the slot's index inside the
// owning node's item list while the slot is live.
type slot[T Object] struct {
	obj        T
	node       *quadNode[uint32]
	pos        int
	generation uint32
	live       bool
}

// DynamicQuadTree is a region quadtree that supports O(1) removal through
// handles. Objects live in an arena owned by the tree; nodes store arena
// indices and every arena slot records where its index sits.
//
// The zero value is ready to use with DefaultArea and DefaultMaxDepth.
type DynamicQuadTree[T Object] struct {
	area     Rect
	areaSet  bool
	maxDepth int
	treeID   uint32
	root     *quadNode[uint32]
	slots    []slot[T]
	free     []uint32
	live     int
}

// NewDynamicQuadTree returns an empty tree over area.
func NewDynamicQuadTree[T Object](area Rect) *DynamicQuadTree[T] {
	return &DynamicQuadTree[T]{
		area:     area,
		areaSet:  true,
		maxDepth: DefaultMaxDepth,
		treeID:   treeIDs.Add(1),
	}
}

// SetArea sets the domain. It fails once the tree has held objects.
func (t *DynamicQuadTree[T]) SetArea(area Rect) error {
	if t.root != nil {
		return errAreaLocked(t.Area())
	}
	t.area = area
	t.areaSet = true
	return nil
}

// SetMaxDepth sets the subdivision limit. It fails once the tree has held
// objects.
func (t *DynamicQuadTree[T]) SetMaxDepth(depth int) error {
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
func (t *DynamicQuadTree[T]) Area() Rect {
	if !t.areaSet {
		return DefaultArea
	}
	return t.area
}

// id assigns the ID of a zero-value tree. Only mutating paths call it; a
// tree without an ID holds no slots, so readers can compare treeID as is.
func (t *DynamicQuadTree[T]) id() uint32 {
	if t.treeID == 0 {
		t.treeID = treeIDs.Add(1)
	}
	return t.treeID
}

func (t *DynamicQuadTree[T]) depthLimit() int {
	if t.maxDepth == 0 {
		return DefaultMaxDepth
	}
	return t.maxDepth
}

// Insert stores obj and returns its handle.
func (t *DynamicQuadTree[T]) Insert(obj T) Handle {
	if t.root == nil {
		t.root = newQuadNode[uint32](t.Area(), 0)
	}

	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		idx = uint32(len(t.slots))
		t.slots = append(t.slots, slot[T]{})
	}

	node := t.root.descend(obj.Bounds(), t.depthLimit())
	s := &t.slots[idx]
	s.obj = obj
	s.node = node
	s.pos = len(node.items)
	s.live = true
	node.items = append(node.items, idx)
	t.live++

	return Handle{tree: t.id(), index: idx, generation: s.generation}
}

func (t *DynamicQuadTree[T]) lookup(h Handle) (*slot[T], bool) {
	if h.tree != t.treeID || int(h.index) >= len(t.slots) {
		return nil, false
	}
	s := &t.slots[h.index]
	if !s.live || s.generation != h.generation {
		return nil, false
	}
	return s, true
}

// Get returns the object behind h.
func (t *DynamicQuadTree[T]) Get(h Handle) (T, error) {
	s, ok := t.lookup(h)
	if !ok {
		var zero T
		return zero, errInvalidHandle(h)
	}
	return s.obj, nil
}

// Remove deletes the object behind h in constant time. Removing a handle
// that is stale or from another tree returns an invalid_handle error and
// leaves the tree untouched.
func (t *DynamicQuadTree[T]) Remove(h Handle) error {
	if _, ok := t.lookup(h); !ok {
		return errInvalidHandle(h)
	}
	t.release(h.index)
	return nil
}

// release unlinks slot idx from its node and returns it to the free list.
// The node's last item moves into the vacated position.
func (t *DynamicQuadTree[T]) release(idx uint32) {
	s := &t.slots[idx]
	items := s.node.items
	last := len(items) - 1
	if s.pos != last {
		moved := items[last]
		items[s.pos] = moved
		t.slots[moved].pos = s.pos
	}
	s.node.items = items[:last]

	var zero T
	s.obj = zero
	s.node = nil
	s.pos = 0
	s.live = false
	s.generation++
	t.free = append(t.free, idx)
	t.live--
}

// RemoveValue deletes the first stored object equal to obj under eq by
// scanning the whole tree. It is the linear-time counterpart of Remove.
func (t *DynamicQuadTree[T]) RemoveValue(obj T, eq func(a, b T) bool) bool {
	if t.root == nil {
		return false
	}
	var (
		target uint32
		found  bool
	)
	t.root.each(func(idx uint32) {
		if !found && eq(t.slots[idx].obj, obj) {
			target, found = idx, true
		}
	})
	if found {
		t.release(target)
	}
	return found
}

// Search returns handles of every object whose bounds overlap query.
func (t *DynamicQuadTree[T]) Search(query Rect) []Handle {
	var found []Handle
	t.SearchFunc(query, func(h Handle, _ T) {
		found = append(found, h)
	})
	return found
}

// SearchFunc calls fn for every object whose bounds overlap query.
func (t *DynamicQuadTree[T]) SearchFunc(query Rect, fn func(Handle, T)) {
	if t.root == nil || query.IsEmpty() || t.Area().IsEmpty() {
		return
	}
	t.root.search(query, t.boundsOf, func(idx uint32) {
		s := &t.slots[idx]
		fn(Handle{tree: t.treeID, index: idx, generation: s.generation}, s.obj)
	})
}

func (t *DynamicQuadTree[T]) boundsOf(idx uint32) Rect {
	return t.slots[idx].obj.Bounds()
}

// Items returns handles of every stored object.
func (t *DynamicQuadTree[T]) Items() []Handle {
	if t.root == nil {
		return nil
	}
	items := make([]Handle, 0, t.live)
	t.root.each(func(idx uint32) {
		items = append(items, Handle{tree: t.treeID, index: idx, generation: t.slots[idx].generation})
	})
	return items
}

// Size counts stored objects by walking the tree.
func (t *DynamicQuadTree[T]) Size() int {
	if t.root == nil {
		return 0
	}
	return t.root.size()
}

// Len returns the number of live objects without walking the tree.
func (t *DynamicQuadTree[T]) Len() int {
	return t.live
}

// Walk visits every node, parents before children.
func (t *DynamicQuadTree[T]) Walk(fn func(Node)) {
	if t.root != nil {
		t.root.walk(fn)
	}
}

// Stats reports node count, depth and object count.
func (t *DynamicQuadTree[T]) Stats() TreeStats {
	if t.root == nil {
		return TreeStats{}
	}
	return t.root.stats()
}

// Print writes the node areas as an indented outline.
func (t *DynamicQuadTree[T]) Print(w io.Writer) error {
	if t.root == nil {
		return nil
	}
	return t.root.print(w)
}
