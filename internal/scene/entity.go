// Package scene owns the object population and one instance of every index
// built over it. It is the single place where the indexes are mutated and
// queried, and it serializes that access.
package scene

import (
	"image/color"
	"math/rand"

	"tree-display/internal/config"
	"tree-display/internal/spatial"
)

// Entity is a circle in world space.
type Entity struct {
	ID    uint32
	Pos   spatial.Vec2
	Vel   spatial.Vec2
	R     float32
	Color color.RGBA
}

// Position implements spatial.Object.
func (e Entity) Position() spatial.Vec2 { return e.Pos }

// Bounds implements spatial.Object: the square around the circle.
func (e Entity) Bounds() spatial.Rect {
	return spatial.Rect{
		Pos:  e.Pos.Sub(spatial.Vec2{X: e.R, Y: e.R}),
		Size: spatial.Vec2{X: 2 * e.R, Y: 2 * e.R},
	}
}

// SameShape reports whether a and b occupy the same circle.
func SameShape(a, b Entity) bool {
	return a.Pos == b.Pos && a.R == b.R
}

// Populate generates cfg.NumEntities entities spread uniformly over the
// domain, with radii in [0, MaxEntitySize) and random opaque colours. The
// same seed always yields the same population.
func Populate(cfg config.DomainConfig) []Entity {
	rng := rand.New(rand.NewSource(cfg.Seed))
	randf := func(lo, hi float64) float32 {
		return float32(lo + rng.Float64()*(hi-lo))
	}

	entities := make([]Entity, cfg.NumEntities)
	for i := range entities {
		entities[i] = Entity{
			ID:  uint32(i),
			Pos: spatial.Vec2{X: randf(0, cfg.AreaLength), Y: randf(0, cfg.AreaLength)},
			R:   randf(0, cfg.MaxEntitySize),
			Color: color.RGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			},
		}
	}
	return entities
}
