package spatial

// Object is anything an index can store. Bounds must not change while the
// object is stored; to move an object, remove and reinsert it (dynamic
// quadtree) or rebuild the index.
type Object interface {
	Position() Vec2
	Bounds() Rect
}

// TreeStats summarises the shape of a tree index.
type TreeStats struct {
	Nodes    int
	MaxDepth int
	Objects  int
}

// Node describes one partition node to a Walk callback.
type Node struct {
	Area    Rect
	Depth   int
	Objects int
}

const (
	// DefaultMaxDepth bounds quadtree subdivision.
	DefaultMaxDepth = 8

	// DefaultGridCells is the per-axis cell count of a grid built without
	// explicit dimensions.
	DefaultGridCells = 20
)

// DefaultArea is the domain an index uses until SetArea is called.
var DefaultArea = NewRect(0, 0, 100, 100)
