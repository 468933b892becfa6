// Package spatial provides region-partitioning indexes for 2D objects with
// axis-aligned bounds: a static and a dynamic region quadtree, a uniform
// grid, a k-d tree and a linear baseline.
//
// All indexes answer the same range query: every stored object whose bounds
// overlap the query rect. They share one set of rectangle predicates (see
// Rect) and every structure is single-threaded; callers that share an index
// between goroutines must serialize access themselves.
//
// Objects are expected to lie inside the index's domain. Objects outside it
// are still stored (at the root for the quadtrees, nowhere for the grid) but
// range queries only guarantee completeness inside the domain.
package spatial

import (
	"fmt"
)

// Vec2 is a 2D vector in world units.
type Vec2 struct {
	X, Y float32
}

// Add returns v+o.
func (v Vec2) Add(o Vec2) Vec2 { return Vec2{v.X + o.X, v.Y + o.Y} }

// Sub returns v-o.
func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{v.X - o.X, v.Y - o.Y} }

// Scale returns v*s.
func (v Vec2) Scale(s float32) Vec2 { return Vec2{v.X * s, v.Y * s} }

// Axis returns X for axis 0 and Y otherwise.
func (v Vec2) Axis(axis int) float32 {
	if axis == 0 {
		return v.X
	}
	return v.Y
}

// Rect is an axis-aligned rectangle anchored at its top-left corner.
type Rect struct {
	Pos  Vec2
	Size Vec2
}

// NewRect builds a rect from its corner and extent.
func NewRect(x, y, w, h float32) Rect {
	return Rect{Pos: Vec2{x, y}, Size: Vec2{w, h}}
}

// Max returns the far corner.
func (r Rect) Max() Vec2 { return r.Pos.Add(r.Size) }

// IsEmpty reports whether the rect has no area.
func (r Rect) IsEmpty() bool {
	return r.Size.X <= 0 || r.Size.Y <= 0
}

// ContainsPoint reports whether p lies in [Pos, Pos+Size) on both axes.
func (r Rect) ContainsPoint(p Vec2) bool {
	return !(p.X < r.Pos.X || p.Y < r.Pos.Y ||
		p.X >= r.Pos.X+r.Size.X || p.Y >= r.Pos.Y+r.Size.Y)
}

// Contains reports whether o fits inside r. The near edges may touch, the
// far edges may not: a rect never contains itself.
func (r Rect) Contains(o Rect) bool {
	return o.Pos.X >= r.Pos.X && o.Pos.X+o.Size.X < r.Pos.X+r.Size.X &&
		o.Pos.Y >= r.Pos.Y && o.Pos.Y+o.Size.Y < r.Pos.Y+r.Size.Y
}

// Overlaps reports whether r and o intersect. The test is strict against o's
// far edge and inclusive against o's near edge, so it is not symmetric on
// touching boundaries. Indexes always call it as query.Overlaps(x).
func (r Rect) Overlaps(o Rect) bool {
	return r.Pos.X < o.Pos.X+o.Size.X && r.Pos.X+r.Size.X >= o.Pos.X &&
		r.Pos.Y < o.Pos.Y+o.Size.Y && r.Pos.Y+r.Size.Y >= o.Pos.Y
}

// Union returns the smallest rect covering r and o.
func (r Rect) Union(o Rect) Rect {
	lo := Vec2{min(r.Pos.X, o.Pos.X), min(r.Pos.Y, o.Pos.Y)}
	rm, om := r.Max(), o.Max()
	hi := Vec2{max(rm.X, om.X), max(rm.Y, om.Y)}
	return Rect{Pos: lo, Size: hi.Sub(lo)}
}

// Quadrants splits r into equal quarters ordered top-left, top-right,
// bottom-left, bottom-right.
func (r Rect) Quadrants() [4]Rect {
	half := r.Size.Scale(0.5)
	return [4]Rect{
		{Pos: r.Pos, Size: half},
		{Pos: r.Pos.Add(Vec2{half.X, 0}), Size: half},
		{Pos: r.Pos.Add(Vec2{0, half.Y}), Size: half},
		{Pos: r.Pos.Add(half), Size: half},
	}
}

// LeftOf returns the part of r left of p.X.
func (r Rect) LeftOf(p Vec2) Rect {
	return Rect{Pos: r.Pos, Size: Vec2{p.X - r.Pos.X, r.Size.Y}}
}

// RightOf returns the part of r from p.X rightwards.
func (r Rect) RightOf(p Vec2) Rect {
	return Rect{Pos: Vec2{p.X, r.Pos.Y}, Size: Vec2{r.Pos.X + r.Size.X - p.X, r.Size.Y}}
}

// LowerOf returns the part of r above p.Y (smaller Y).
func (r Rect) LowerOf(p Vec2) Rect {
	return Rect{Pos: r.Pos, Size: Vec2{r.Size.X, p.Y - r.Pos.Y}}
}

// UpperOf returns the part of r from p.Y downwards (larger Y).
func (r Rect) UpperOf(p Vec2) Rect {
	return Rect{Pos: Vec2{r.Pos.X, p.Y}, Size: Vec2{r.Size.X, r.Pos.Y + r.Size.Y - p.Y}}
}

// String formats the rect the way Print writes node areas.
func (r Rect) String() string {
	return fmt.Sprintf("(%g , %g , %g , %g)", r.Pos.X, r.Pos.Y, r.Size.X, r.Size.Y)
}
