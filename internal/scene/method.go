package scene

import (
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
)

// Method selects which index answers a query.
type Method int

const (
	Linear Method = iota
	QuadTree
	Grid
	KDTree
	DynamicQuadTree
	RTree

	methodCount
)

// ErrTypeUnknownMethod is returned for method names ParseMethod cannot map.
const ErrTypeUnknownMethod = "unknown_method"

var methodNames = [methodCount]string{
	Linear:          "LINEAR",
	QuadTree:        "QUADTREE",
	Grid:            "GRID",
	KDTree:          "KDTREE",
	DynamicQuadTree: "DYNAMIC",
	RTree:           "RTREE",
}

// Methods lists every method in cycling order.
func Methods() []Method {
	all := make([]Method, methodCount)
	for i := range all {
		all[i] = Method(i)
	}
	return all
}

func (m Method) String() string {
	if m < 0 || m >= methodCount {
		return "UNKNOWN"
	}
	return methodNames[m]
}

// Next returns the method after m, wrapping around.
func (m Method) Next() Method {
	return (m + 1) % methodCount
}

// ParseMethod maps a case-insensitive method name to its Method.
func ParseMethod(s string) (Method, error) {
	for i, name := range methodNames {
		if strings.EqualFold(s, name) {
			return Method(i), nil
		}
	}
	return 0, errors.New("unknown method").
		WithType(ErrTypeUnknownMethod).
		WithTag("method", s)
}
