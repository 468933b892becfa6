package spatial

import (
	"math/rand"
	"sort"
)

// disc is a round test object: bounds are the square of side 2r around pos.
type disc struct {
	id  int
	pos Vec2
	r   float32
}

func (d disc) Position() Vec2 { return d.pos }

func (d disc) Bounds() Rect {
	return Rect{Pos: d.pos.Sub(Vec2{d.r, d.r}), Size: Vec2{2 * d.r, 2 * d.r}}
}

func sameDisc(a, b disc) bool { return a.id == b.id }

// randomDiscs returns n discs lying fully inside [0, side) on both axes.
func randomDiscs(rng *rand.Rand, n int, side, maxR float32) []disc {
	discs := make([]disc, n)
	for i := range discs {
		r := 0.5 + rng.Float32()*(maxR-0.5)
		span := side - 2*r - 1
		discs[i] = disc{
			id:  i,
			pos: Vec2{r + rng.Float32()*span, r + rng.Float32()*span},
			r:   r,
		}
	}
	return discs
}

// randomQuery returns a rect that may reach past the domain edges.
func randomQuery(rng *rand.Rand, side float32) Rect {
	w := 1 + rng.Float32()*side*0.6
	h := 1 + rng.Float32()*side*0.6
	x := rng.Float32()*(side+w) - w
	y := rng.Float32()*(side+h) - h
	return NewRect(x, y, w, h)
}

// ids returns the sorted ids of discs, one entry per element.
func ids(discs []disc) []int {
	out := make([]int, len(discs))
	for i, d := range discs {
		out[i] = d.id
	}
	sort.Ints(out)
	return out
}

// uniqueIDs returns the sorted distinct ids of discs.
func uniqueIDs(discs []disc) []int {
	seen := make(map[int]bool)
	var out []int
	for _, d := range discs {
		if !seen[d.id] {
			seen[d.id] = true
			out = append(out, d.id)
		}
	}
	sort.Ints(out)
	return out
}

// twoDiscs is the two-object layout used by the small scenario tests.
func twoDiscs() (disc, disc) {
	return disc{id: 1, pos: Vec2{10, 10}, r: 5}, disc{id: 2, pos: Vec2{90, 90}, r: 5}
}
