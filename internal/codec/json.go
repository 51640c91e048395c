package codec

import (
	"fmt"

	"github.com/roach88/docsync/internal/doc"
	"github.com/roach88/docsync/internal/ir"
)

// JSON encodes envelopes as JSON with object keys in canonical order, so
// equal envelopes always produce equal bytes.
type JSON struct{}

// Name implements Codec.
func (JSON) Name() string { return "json" }

// Marshal implements Codec.
func (JSON) Marshal(env *doc.Envelope) ([]byte, error) {
	data, err := ir.Marshal(env.ToValue())
	if err != nil {
		return nil, fmt.Errorf("json: marshal envelope: %w", err)
	}
	return data, nil
}

// Unmarshal implements Codec.
func (JSON) Unmarshal(data []byte) (*doc.Envelope, error) {
	env, err := doc.ParseEnvelope(data)
	if err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}
	return env, nil
}
