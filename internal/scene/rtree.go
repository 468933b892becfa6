package scene

import (
	"github.com/dhconnelly/rtreego"

	"tree-display/internal/spatial"
)

const (
	rtreeMinChildren = 25
	rtreeMaxChildren = 50

	// rtreego rejects zero-length sides and treats touching boxes as
	// disjoint; boxes are padded by this much and hits are re-checked with
	// spatial.Rect.Overlaps.
	rtreePad = 1e-3
)

// rtreeEntry adapts an Entity to rtreego.Spatial.
type rtreeEntry struct {
	entity Entity
	box    rtreego.Rect
}

func (r *rtreeEntry) Bounds() rtreego.Rect {
	return r.box
}

// RTreeIndex is a reference R-tree over the same population, used to
// compare the region partitions against a balanced structure.
type RTreeIndex struct {
	tree *rtreego.Rtree
}

// NewRTreeIndex bulk-loads entities into an R-tree.
func NewRTreeIndex(entities []Entity) (*RTreeIndex, error) {
	objs := make([]rtreego.Spatial, 0, len(entities))
	for _, e := range entities {
		box, err := rtreeRect(e.Bounds())
		if err != nil {
			return nil, err
		}
		objs = append(objs, &rtreeEntry{entity: e, box: box})
	}
	return &RTreeIndex{
		tree: rtreego.NewTree(2, rtreeMinChildren, rtreeMaxChildren, objs...),
	}, nil
}

func rtreeRect(r spatial.Rect) (rtreego.Rect, error) {
	return rtreego.NewRect(
		rtreego.Point{float64(r.Pos.X) - rtreePad, float64(r.Pos.Y) - rtreePad},
		[]float64{float64(r.Size.X) + 2*rtreePad, float64(r.Size.Y) + 2*rtreePad},
	)
}

// Search returns every entity whose bounds overlap query.
func (t *RTreeIndex) Search(query spatial.Rect) []Entity {
	if query.IsEmpty() {
		return nil
	}
	box, err := rtreeRect(query)
	if err != nil {
		return nil
	}

	var found []Entity
	for _, hit := range t.tree.SearchIntersect(box) {
		e := hit.(*rtreeEntry).entity
		if query.Overlaps(e.Bounds()) {
			found = append(found, e)
		}
	}
	return found
}

// Size returns the number of stored entities.
func (t *RTreeIndex) Size() int {
	return t.tree.Size()
}
