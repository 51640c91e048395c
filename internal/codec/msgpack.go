package codec

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/roach88/docsync/internal/doc"
	"github.com/roach88/docsync/internal/ir"
)

// Msgpack encodes envelopes as MessagePack maps with sorted keys.
type Msgpack struct{}

// Name implements Codec.
func (Msgpack) Name() string { return "msgpack" }

// Marshal implements Codec.
func (Msgpack) Marshal(env *doc.Envelope) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(ir.ToGo(env.ToValue())); err != nil {
		return nil, fmt.Errorf("msgpack: marshal envelope: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal implements Codec.
func (Msgpack) Unmarshal(data []byte) (*doc.Envelope, error) {
	var raw any
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("msgpack: %w: %v", doc.ErrInvalidChanges, err)
	}
	v, err := ir.FromGo(raw)
	if err != nil {
		return nil, fmt.Errorf("msgpack: %w: %v", doc.ErrInvalidChanges, err)
	}
	return doc.EnvelopeFromValue(v)
}
