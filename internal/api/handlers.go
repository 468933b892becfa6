package api

import (
	"bytes"
	"fmt"
	"image/color"
	"math"
	"net/http"
	"strconv"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/go-chi/chi/v5"
	"github.com/segmentio/encoding/json"

	"tree-display/internal/config"
	"tree-display/internal/render"
	"tree-display/internal/scene"
	"tree-display/internal/spatial"
)

// ErrTypeBadRequest marks request input the handlers could not use.
const ErrTypeBadRequest = "bad_request"

// Handler methods for routerHandlers.
// They are shared by the standalone router (tests) and the full Server.

// objectJSON is an entity on the wire. Handle is only set for objects held
// by the dynamic quadtree.
type objectJSON struct {
	ID     uint32  `json:"id"`
	Handle string  `json:"handle,omitempty"`
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
	R      float32 `json:"r"`
	VX     float32 `json:"vx,omitempty"`
	VY     float32 `json:"vy,omitempty"`
	Color  string  `json:"color"`
}

type rectJSON struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	W float32 `json:"w"`
	H float32 `json:"h"`
}

func toRectJSON(r spatial.Rect) rectJSON {
	return rectJSON{X: r.Pos.X, Y: r.Pos.Y, W: r.Size.X, H: r.Size.Y}
}

func (r rectJSON) rect() spatial.Rect {
	return spatial.NewRect(r.X, r.Y, r.W, r.H)
}

type searchResponse struct {
	Method     string       `json:"method"`
	Count      int          `json:"count"`
	Total      int          `json:"total"`
	DurationMs float64      `json:"durationMs"`
	Truncated  bool         `json:"truncated"`
	Query      rectJSON     `json:"query"`
	Objects    []objectJSON `json:"objects"`
}

func newSearchResponse(res scene.QueryResult, query spatial.Rect) searchResponse {
	objects := make([]objectJSON, len(res.Entities))
	for i, e := range res.Entities {
		objects[i] = toObjectJSON(e)
		if i < len(res.Handles) {
			objects[i].Handle = res.Handles[i].String()
		}
	}
	return searchResponse{
		Method:     res.Method.String(),
		Count:      res.Count,
		Total:      res.Total,
		DurationMs: float64(res.Duration.Microseconds()) / 1000,
		Truncated:  len(res.Entities) < res.Count,
		Query:      toRectJSON(query),
		Objects:    objects,
	}
}

func toObjectJSON(e scene.Entity) objectJSON {
	return objectJSON{
		ID:    e.ID,
		X:     e.Pos.X,
		Y:     e.Pos.Y,
		R:     e.R,
		VX:    e.Vel.X,
		VY:    e.Vel.Y,
		Color: fmt.Sprintf("#%02x%02x%02x", e.Color.R, e.Color.G, e.Color.B),
	}
}

func (h *routerHandlers) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	m := h.scene.Active()
	if name := q.Get("method"); name != "" {
		parsed, err := scene.ParseMethod(name)
		if err != nil {
			writeErr(w, err)
			return
		}
		m = parsed
	}

	query, err := rectFromQuery(q.Get)
	if err != nil {
		writeErr(w, err)
		return
	}

	limit, err := h.limit(q.Get("limit"))
	if err != nil {
		writeErr(w, err)
		return
	}

	res, err := h.scene.Query(m, query, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	RecordQuery(res)
	writeJSON(w, newSearchResponse(res, query))
}

// limit parses the requested result cap and clamps it to MaxResults.
func (h *routerHandlers) limit(s string) (int, error) {
	if s == "" {
		return h.maxResults, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("invalid limit").WithType(ErrTypeBadRequest).WithTag("limit", s)
	}
	return min(n, h.maxResults), nil
}

func (h *routerHandlers) handleGetMethods(w http.ResponseWriter, r *http.Request) {
	all := scene.Methods()
	names := make([]string, len(all))
	for i, m := range all {
		names[i] = m.String()
	}
	writeJSON(w, map[string]interface{}{
		"methods": names,
		"active":  h.scene.Active().String(),
	})
}

func (h *routerHandlers) handleNextMethod(w http.ResponseWriter, r *http.Request) {
	m := h.scene.Cycle()
	logs.WithTag("method", m.String()).Debug("active method changed")
	writeJSON(w, map[string]interface{}{
		"active": m.String(),
	})
}

type insertRequest struct {
	X     float32 `json:"x"`
	Y     float32 `json:"y"`
	R     float32 `json:"r"`
	VX    float32 `json:"vx"`
	VY    float32 `json:"vy"`
	Color string  `json:"color"`
}

func (h *routerHandlers) handleInsertObject(w http.ResponseWriter, r *http.Request) {
	var req insertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, errors.New("invalid request body").WithType(ErrTypeBadRequest).Wrap(err))
		return
	}
	if req.R <= 0 {
		writeErr(w, errors.New("radius must be positive").WithType(ErrTypeBadRequest).WithTag("r", req.R))
		return
	}

	c := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	if req.Color != "" {
		parsed, err := parseHexColor(req.Color)
		if err != nil {
			writeErr(w, err)
			return
		}
		c = parsed
	}

	e, handle := h.scene.Insert(scene.Entity{
		Pos:   spatial.Vec2{X: req.X, Y: req.Y},
		Vel:   spatial.Vec2{X: req.VX, Y: req.VY},
		R:     req.R,
		Color: c,
	})
	RecordMutation("insert", 1)

	obj := toObjectJSON(e)
	obj.Handle = handle.String()
	writeJSONStatus(w, http.StatusCreated, obj)
}

func (h *routerHandlers) handleRemoveObject(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	if err := h.scene.Remove(handle); err != nil {
		writeErr(w, err)
		return
	}
	RecordMutation("remove", 1)
	w.WriteHeader(http.StatusNoContent)
}

type eraseResponse struct {
	Area    rectJSON `json:"area"`
	Removed int      `json:"removed"`
	Left    int      `json:"left"`
	Handles []string `json:"handles"`
}

func newEraseResponse(res scene.EraseResult) eraseResponse {
	handles := make([]string, len(res.Removed))
	for i, hd := range res.Removed {
		handles[i] = hd.String()
	}
	return eraseResponse{
		Area:    toRectJSON(res.Area),
		Removed: len(res.Removed),
		Left:    res.Left,
		Handles: handles,
	}
}

func (h *routerHandlers) handleErase(w http.ResponseWriter, r *http.Request) {
	var req rectJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, errors.New("invalid request body").WithType(ErrTypeBadRequest).Wrap(err))
		return
	}

	out := newEraseResponse(h.scene.Erase(req.rect()))
	RecordMutation("erase", out.Removed)

	if h.events != nil && out.Removed > 0 {
		h.events.Broadcast("objects:erased", out)
	}
	writeJSON(w, out)
}

type treeStatsJSON struct {
	Nodes    int `json:"nodes"`
	MaxDepth int `json:"maxDepth"`
	Objects  int `json:"objects"`
}

func toTreeStatsJSON(s spatial.TreeStats) treeStatsJSON {
	return treeStatsJSON{Nodes: s.Nodes, MaxDepth: s.MaxDepth, Objects: s.Objects}
}

type statsResponse struct {
	Area     rectJSON           `json:"area"`
	Active   string             `json:"active"`
	Entities int                `json:"entities"`
	BuildMs  map[string]float64 `json:"buildMs"`

	QuadTree treeStatsJSON `json:"quadtree"`
	KDTree   treeStatsJSON `json:"kdtree"`
	Dynamic  struct {
		treeStatsJSON
		Live int `json:"live"`
	} `json:"dynamic"`
	Grid struct {
		TotalCells     int     `json:"totalCells"`
		NonEmptyCells  int     `json:"nonEmptyCells"`
		TotalEntries   int     `json:"totalEntries"`
		Objects        int     `json:"objects"`
		MaxInCell      int     `json:"maxInCell"`
		AvgPerNonEmpty float64 `json:"avgPerNonEmpty"`
	} `json:"grid"`
	RTree struct {
		Objects int `json:"objects"`
	} `json:"rtree"`
}

func (h *routerHandlers) handleGetStats(w http.ResponseWriter, r *http.Request) {
	st := h.scene.Stats()

	out := statsResponse{
		Area:     toRectJSON(st.Area),
		Active:   st.Active.String(),
		Entities: st.Entities,
		BuildMs:  make(map[string]float64, len(st.Builds)),
		QuadTree: toTreeStatsJSON(st.QuadTree),
		KDTree:   toTreeStatsJSON(st.KDTree),
	}
	for m, d := range st.Builds {
		out.BuildMs[m.String()] = float64(d.Microseconds()) / 1000
	}
	out.Dynamic.treeStatsJSON = toTreeStatsJSON(st.Dynamic)
	out.Dynamic.Live = st.DynamicLive
	out.Grid.TotalCells = st.Grid.TotalCells
	out.Grid.NonEmptyCells = st.Grid.NonEmptyCells
	out.Grid.TotalEntries = st.Grid.TotalEntries
	out.Grid.Objects = st.Grid.Objects
	out.Grid.MaxInCell = st.Grid.MaxInCell
	out.Grid.AvgPerNonEmpty = st.Grid.AvgPerNonEmpty
	out.RTree.Objects = st.RTreeObjects

	UpdateIndexSizes(st)
	writeJSON(w, out)
}

func (h *routerHandlers) handlePrintTree(w http.ResponseWriter, r *http.Request) {
	m, err := scene.ParseMethod(chi.URLParam(r, "method"))
	if err != nil {
		writeErr(w, err)
		return
	}

	var buf bytes.Buffer
	if err := h.scene.Print(m, &buf); err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(buf.Bytes())
}

// handleLayoutPNG renders the partition of a method. With x, y, w and h set
// the query is outlined and its hits are drawn on top. Images are cached
// until the index they show changes.
func (h *routerHandlers) handleLayoutPNG(w http.ResponseWriter, r *http.Request) {
	m, err := scene.ParseMethod(chi.URLParam(r, "method"))
	if err != nil {
		writeErr(w, err)
		return
	}

	q := r.URL.Query()
	size := render.DefaultSize
	if s := q.Get("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxImageSize {
			writeErr(w, errors.New("invalid image size").WithType(ErrTypeBadRequest).WithTag("size", s))
			return
		}
		size = n
	}

	var query *spatial.Rect
	if q.Has("x") {
		rect, err := rectFromQuery(q.Get)
		if err != nil {
			writeErr(w, err)
			return
		}
		query = &rect
	}

	var version uint64
	if m == scene.DynamicQuadTree {
		version = h.scene.Version()
	}
	key := fmt.Sprintf("%s|%d|%d", m, version, size)
	if query != nil {
		key += "|" + query.String()
	}

	data, err := h.layouts.GetOrRender(key, func() ([]byte, error) {
		return h.renderLayout(m, size, query)
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(data)
}

func (h *routerHandlers) renderLayout(m scene.Method, size int, query *spatial.Rect) ([]byte, error) {
	nodes, err := h.scene.Layout(m)
	if err != nil {
		return nil, err
	}

	opts := render.Options{
		Size:  size,
		Label: fmt.Sprintf("%s nodes: %d", m, len(nodes)),
	}
	if query != nil {
		res, err := h.scene.Query(m, *query, h.maxResults)
		if err != nil {
			return nil, err
		}
		opts.Query = query
		opts.Label = res.String()
		opts.Marks = make([]render.Mark, len(res.Entities))
		for i, e := range res.Entities {
			opts.Marks[i] = render.Mark{Center: e.Pos, R: e.R, Color: e.Color}
		}
	}

	var buf bytes.Buffer
	if err := render.WritePNG(&buf, h.scene.Area(), nodes, opts); err != nil {
		return nil, errors.New("encoding layout failed").Wrap(err)
	}
	return buf.Bytes(), nil
}

const maxImageSize = 4096

// rectFromQuery reads x, y, w and h. All four are required and finite.
func rectFromQuery(get func(string) string) (spatial.Rect, error) {
	var v [4]float32
	for i, key := range []string{"x", "y", "w", "h"} {
		s := get(key)
		if s == "" {
			return spatial.Rect{}, errors.New("missing query parameter").WithType(ErrTypeBadRequest).WithTag("param", key)
		}
		f, err := strconv.ParseFloat(s, 32)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return spatial.Rect{}, errors.New("invalid query parameter").WithType(ErrTypeBadRequest).
				WithTag("param", key).
				WithTag("value", s)
		}
		v[i] = float32(f)
	}
	return spatial.NewRect(v[0], v[1], v[2], v[3]), nil
}

func parseHexColor(s string) (color.RGBA, error) {
	var c color.RGBA
	if len(s) != 7 || s[0] != '#' {
		return c, errors.New("invalid color").WithType(ErrTypeBadRequest).WithTag("color", s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return c, errors.New("invalid color").WithType(ErrTypeBadRequest).WithTag("color", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

// Helper functions (package-level for reuse)

func writeJSON(w http.ResponseWriter, data interface{}) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logs.Warn(errors.New("encoding response failed").Wrap(err))
	}
}

func writeError(w http.ResponseWriter, message, errType string, code int) {
	writeJSONStatus(w, code, map[string]string{
		"error": message,
		"type":  errType,
	})
}

// writeErr maps err to a status code by its error type.
func writeErr(w http.ResponseWriter, err error) {
	errType := errors.Type(err)
	code := statusCode(errType)
	if code >= http.StatusInternalServerError {
		logs.WithTag("status", code).Error(err)
		writeError(w, "internal error", errType, code)
		return
	}
	writeError(w, err.Error(), errType, code)
}

func statusCode(errType string) int {
	switch errType {
	case spatial.ErrTypeInvalidHandle, scene.ErrTypeNoLayout:
		return http.StatusNotFound
	case ErrTypeBadRequest, scene.ErrTypeUnknownMethod, config.ErrTypeInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
