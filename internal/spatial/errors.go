package spatial

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
)

// Error types reported by the indexes. Match them with errors.IsType.
const (
	ErrTypeInvalidHandle = "invalid_handle"
	ErrTypeAreaLocked    = "area_locked"
	ErrTypeInvalidConfig = "invalid_config"
)

func errInvalidHandle(h Handle) error {
	return errors.New("handle does not reference a live object").
		WithType(ErrTypeInvalidHandle).
		WithTag("handle", h.String())
}

func errAreaLocked(area Rect) error {
	return errors.New("index layout cannot change after the first insert").
		WithType(ErrTypeAreaLocked).
		WithTag("area", area.String())
}

func errInvalidConfig(name string, value int) error {
	return errors.Newf("%s must be at least 1", name).
		WithType(ErrTypeInvalidConfig).
		WithTag(name, value)
}

func errMalformedHandle(s string) error {
	return errors.New("malformed handle").
		WithType(ErrTypeInvalidHandle).
		WithTag("handle", s)
}
