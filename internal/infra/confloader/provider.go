package confloader

import (
	"errors"

	"github.com/knadh/koanf/maps"
)

// ErrReadBytesNotSupported is returned by providers that only yield maps.
var ErrReadBytesNotSupported = errors.New("confloader: ReadBytes not supported, use Read()")

// mapProvider loads a possibly dotted map, e.g. from CLI flags.
type mapProvider map[string]any

// ReadBytes is not supported.
func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, ErrReadBytesNotSupported
}

// Read returns the map with dotted keys expanded.
func (m mapProvider) Read() (map[string]any, error) {
	return maps.Unflatten(m, "."), nil
}
