// Package codec turns change envelopes into bytes and back.
//
// Two encodings are provided: JSON (deterministic key order, the default)
// and MessagePack (compact). Both go through the envelope's plain-data
// form, so anything one codec can carry the other can too.
package codec

import (
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/docsync/internal/doc"
)

// ErrUnknownCodec is returned by ByName for unregistered names.
var ErrUnknownCodec = errors.New("unknown codec")

// Codec encodes change envelopes.
type Codec interface {
	// Name is the registry name, also used in config files.
	Name() string
	Marshal(env *doc.Envelope) ([]byte, error)
	// Unmarshal decodes and validates an envelope. Malformed input wraps
	// doc.ErrInvalidChanges.
	Unmarshal(data []byte) (*doc.Envelope, error)
}

var registry = map[string]Codec{
	JSON{}.Name():    JSON{},
	Msgpack{}.Name(): Msgpack{},
}

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	c, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (have %v)", ErrUnknownCodec, name, Names())
	}
	return c, nil
}

// Names returns the registered codec names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
