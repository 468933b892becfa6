package scene

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"

	"tree-display/internal/config"
	"tree-display/internal/spatial"
)

// ErrTypeNoLayout is returned when a method has no partition to walk.
const ErrTypeNoLayout = "no_layout"

// Scene holds the population and every index built over it.
//
// The static quadtree, grid, k-d tree and R-tree are built once from the
// initial population. Inserts, removals and erases only touch the dynamic
// quadtree. All access goes through mu: queries take the read lock,
// mutations the write lock.
type Scene struct {
	mu sync.RWMutex

	area     spatial.Rect
	entities []Entity
	nextID   uint32
	active   Method
	version  uint64 // Bumped by every dynamic quadtree mutation

	linear  *spatial.Linear[Entity]
	quad    *spatial.StaticQuadTree[Entity]
	grid    *spatial.Grid[Entity]
	kd      *spatial.KDTree[Entity]
	dynamic *spatial.DynamicQuadTree[Entity]
	rtree   *RTreeIndex

	builds map[Method]time.Duration
}

// New builds every index over entities.
func New(cfg config.DomainConfig, entities []Entity) (*Scene, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	side := float32(cfg.AreaLength)
	area := spatial.NewRect(0, 0, side, side)

	s := &Scene{
		area:     area,
		entities: entities,
		active:   QuadTree,
		quad:     spatial.NewStaticQuadTree[Entity](area),
		kd:       spatial.NewKDTree[Entity](area),
		dynamic:  spatial.NewDynamicQuadTree[Entity](area),
		builds:   make(map[Method]time.Duration, methodCount),
	}
	for _, e := range entities {
		if e.ID >= s.nextID {
			s.nextID = e.ID + 1
		}
	}

	if err := s.quad.SetMaxDepth(cfg.MaxDepth); err != nil {
		return nil, err
	}
	if err := s.dynamic.SetMaxDepth(cfg.MaxDepth); err != nil {
		return nil, err
	}
	grid, err := spatial.NewGrid[Entity](area, cfg.GridCells, cfg.GridCells)
	if err != nil {
		return nil, err
	}
	s.grid = grid

	s.timeBuild(Linear, func() { s.linear = spatial.NewLinear(entities) })
	s.timeBuild(QuadTree, func() { insertAll(s.quad, entities) })
	s.timeBuild(Grid, func() { insertAll(s.grid, entities) })
	s.timeBuild(KDTree, func() { insertAll(s.kd, entities) })
	s.timeBuild(DynamicQuadTree, func() {
		for _, e := range entities {
			s.dynamic.Insert(e)
		}
	})
	s.timeBuild(RTree, func() { s.rtree, err = NewRTreeIndex(entities) })
	if err != nil {
		return nil, errors.New("building r-tree failed").Wrap(err)
	}

	for _, m := range Methods() {
		logs.WithTag("method", m.String()).
			WithTag("objects", len(entities)).
			WithTag("duration", s.builds[m].String()).
			Info("index built")
	}
	return s, nil
}

func insertAll[T spatial.Object](idx interface{ Insert(T) }, objs []T) {
	for _, o := range objs {
		idx.Insert(o)
	}
}

func (s *Scene) timeBuild(m Method, build func()) {
	start := time.Now()
	build()
	s.builds[m] = time.Since(start)
}

// Area returns the domain shared by all indexes.
func (s *Scene) Area() spatial.Rect {
	return s.area
}

// Active returns the method used when a query names none.
func (s *Scene) Active() Method {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SetActive selects the default method.
func (s *Scene) SetActive(m Method) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = m
}

// Cycle advances the default method and returns it.
func (s *Scene) Cycle() Method {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = s.active.Next()
	return s.active
}

// QueryResult is the outcome of one timed range query.
type QueryResult struct {
	Method   Method
	Count    int              // Matches found
	Total    int              // Objects held by the index
	Duration time.Duration    // Index search time only
	Entities []Entity         // Up to the requested limit
	Handles  []spatial.Handle // Parallel to Entities for DynamicQuadTree
}

// String renders the result like the on-screen info line of the viewer.
func (r QueryResult) String() string {
	return fmt.Sprintf("%s: %d/%d Time: %f s", r.Method, r.Count, r.Total, r.Duration.Seconds())
}

// Query runs a range query on one index. limit caps the returned entities;
// Count always reports the full match count. The grid reports distinct
// entities.
func (s *Scene) Query(m Method, query spatial.Rect, limit int) (QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := QueryResult{Method: m}
	start := time.Now()

	switch m {
	case Linear:
		res.Entities = s.linear.Search(query)
		res.Total = s.linear.Size()
	case QuadTree:
		res.Entities = s.quad.Search(query)
		res.Total = s.quad.Size()
	case Grid:
		res.Entities = s.grid.SearchUnique(query)
		res.Total = s.grid.Len()
	case KDTree:
		res.Entities = s.kd.Search(query)
		res.Total = s.kd.Size()
	case DynamicQuadTree:
		s.dynamic.SearchFunc(query, func(h spatial.Handle, e Entity) {
			res.Handles = append(res.Handles, h)
			res.Entities = append(res.Entities, e)
		})
		res.Total = s.dynamic.Len()
	case RTree:
		res.Entities = s.rtree.Search(query)
		res.Total = s.rtree.Size()
	default:
		return QueryResult{}, errors.New("unknown method").
			WithType(ErrTypeUnknownMethod).
			WithTag("method", int(m))
	}

	res.Duration = time.Since(start)
	res.Count = len(res.Entities)
	if limit >= 0 && len(res.Entities) > limit {
		res.Entities = res.Entities[:limit]
		if res.Handles != nil {
			res.Handles = res.Handles[:limit]
		}
	}
	return res, nil
}

// Insert adds e to the dynamic quadtree under a fresh ID.
func (s *Scene) Insert(e Entity) (Entity, spatial.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = s.nextID
	s.nextID++
	s.version++
	return e, s.dynamic.Insert(e)
}

// Get resolves a handle string from the dynamic quadtree.
func (s *Scene) Get(handle string) (Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, err := s.dynamic.ParseHandle(handle)
	if err != nil {
		return Entity{}, err
	}
	return s.dynamic.Get(h)
}

// Remove deletes one object from the dynamic quadtree by handle string.
func (s *Scene) Remove(handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, err := s.dynamic.ParseHandle(handle)
	if err != nil {
		return err
	}
	if err := s.dynamic.Remove(h); err != nil {
		return err
	}
	s.version++
	return nil
}

// EraseResult reports what an erase removed.
type EraseResult struct {
	Area    spatial.Rect
	Removed []spatial.Handle
	Left    int
}

// Erase removes every dynamic-quadtree object under area: one search, then a
// constant-time removal per hit.
func (s *Scene) Erase(area spatial.Rect) EraseResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := EraseResult{Area: area, Removed: s.dynamic.Search(area)}
	for _, h := range res.Removed {
		if err := s.dynamic.Remove(h); err != nil {
			logs.Warn(errors.New("erasing search hit failed").
				WithTag("handle", h.String()).
				Wrap(err))
		}
	}
	if len(res.Removed) > 0 {
		s.version++
	}
	res.Left = s.dynamic.Len()
	return res
}

// Version changes whenever the dynamic quadtree does. The other indexes
// never change after New.
func (s *Scene) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Stats is a point-in-time summary of every index.
type Stats struct {
	Area     spatial.Rect
	Active   Method
	Entities int
	Builds   map[Method]time.Duration

	QuadTree     spatial.TreeStats
	Grid         spatial.GridStats
	KDTree       spatial.TreeStats
	Dynamic      spatial.TreeStats
	DynamicLive  int
	RTreeObjects int
}

// Stats collects sizes and shapes of every index.
func (s *Scene) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	builds := make(map[Method]time.Duration, len(s.builds))
	for m, d := range s.builds {
		builds[m] = d
	}
	return Stats{
		Area:         s.area,
		Active:       s.active,
		Entities:     len(s.entities),
		Builds:       builds,
		QuadTree:     s.quad.Stats(),
		Grid:         s.grid.Stats(),
		KDTree:       s.kd.Stats(),
		Dynamic:      s.dynamic.Stats(),
		DynamicLive:  s.dynamic.Len(),
		RTreeObjects: s.rtree.Size(),
	}
}

// Print writes the partition outline of m.
func (s *Scene) Print(m Method, w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch m {
	case QuadTree:
		return s.quad.Print(w)
	case Grid:
		return s.grid.Print(w)
	case KDTree:
		return s.kd.Print(w)
	case DynamicQuadTree:
		return s.dynamic.Print(w)
	}
	return errNoLayout(m)
}

// Layout returns a snapshot of the partition nodes of m.
func (s *Scene) Layout(m Method) ([]spatial.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var nodes []spatial.Node
	collect := func(n spatial.Node) { nodes = append(nodes, n) }

	switch m {
	case QuadTree:
		s.quad.Walk(collect)
	case Grid:
		s.grid.Walk(collect)
	case KDTree:
		s.kd.Walk(collect)
	case DynamicQuadTree:
		s.dynamic.Walk(collect)
	default:
		return nil, errNoLayout(m)
	}
	return nodes, nil
}

func errNoLayout(m Method) error {
	return errors.New("method has no partition layout").
		WithType(ErrTypeNoLayout).
		WithTag("method", m.String())
}
