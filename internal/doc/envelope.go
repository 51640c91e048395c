package doc

import (
	"fmt"

	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/version"
)

// Envelope header constants.
const (
	KindChanges   = "CHANGES"
	FormatVersion = 1
)

// Header identifies the envelope kind and wire format.
type Header struct {
	Kind          string
	FormatVersion int
}

// PeerState is this replica's bookkeeping for one remote replica.
type PeerState struct {
	PeerID string
	// LastAcknowledged is the newest local version we know the peer has.
	LastAcknowledged version.Version
	// LastReceived is the newest peer version we have merged.
	LastReceived version.Version
}

// Envelope is the delta or snapshot message exchanged between replicas.
// ChangesSince is None for a full snapshot. Changes is nil when nothing
// changed after ChangesSince.
type Envelope struct {
	Header       Header
	SentBy       string
	FromVersion  version.Version
	ClientStates []PeerState
	ChangesSince version.Version
	Changes      *Change
}

// IsSnapshot reports whether the envelope carries the full document.
func (e *Envelope) IsSnapshot() bool {
	return !e.ChangesSince.IsSet()
}

// ToValue renders the envelope as plain data.
func (e *Envelope) ToValue() ir.Value {
	states := make(ir.Array, len(e.ClientStates))
	for i, ps := range e.ClientStates {
		states[i] = ir.Object{
			"peerID":           ir.String(ps.PeerID),
			"lastAcknowledged": versionValue(ps.LastAcknowledged),
			"lastReceived":     versionValue(ps.LastReceived),
		}
	}
	var changes ir.Value = ir.Null{}
	if e.Changes != nil {
		changes = e.Changes.ToValue()
	}
	return ir.Object{
		"header": ir.Object{
			"kind":          ir.String(e.Header.Kind),
			"formatVersion": ir.Int(e.Header.FormatVersion),
		},
		"sentBy":       ir.String(e.SentBy),
		"fromVersion":  versionValue(e.FromVersion),
		"clientStates": states,
		"changesSince": versionValue(e.ChangesSince),
		"changes":      changes,
	}
}

// EnvelopeFromValue parses plain data produced by ToValue.
// Every failure wraps ErrInvalidChanges.
func EnvelopeFromValue(v ir.Value) (*Envelope, error) {
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("%w: envelope is not an object", ErrInvalidChanges)
	}

	env := &Envelope{}
	hdr, ok := obj["header"].(ir.Object)
	if !ok {
		return nil, fmt.Errorf("%w: missing header", ErrInvalidChanges)
	}
	kind, _ := hdr["kind"].(ir.String)
	fv, _ := hdr["formatVersion"].(ir.Int)
	env.Header = Header{Kind: string(kind), FormatVersion: int(fv)}
	if err := env.Header.validate(); err != nil {
		return nil, err
	}

	var err error
	sentBy, err := stringField(obj, "sentBy", "envelope")
	if err != nil {
		return nil, err
	}
	env.SentBy = sentBy
	if env.FromVersion, err = versionField(obj, "fromVersion", "envelope"); err != nil {
		return nil, err
	}
	if env.ChangesSince, err = versionField(obj, "changesSince", "envelope"); err != nil {
		return nil, err
	}

	if raw, ok := obj["clientStates"]; ok {
		list, ok := raw.(ir.Array)
		if !ok {
			return nil, fmt.Errorf("%w: clientStates is not an array", ErrInvalidChanges)
		}
		for i, entry := range list {
			eo, ok := entry.(ir.Object)
			if !ok {
				return nil, fmt.Errorf("%w: clientStates[%d] is not an object", ErrInvalidChanges, i)
			}
			at := fmt.Sprintf("clientStates[%d]", i)
			var ps PeerState
			if ps.PeerID, err = stringField(eo, "peerID", at); err != nil {
				return nil, err
			}
			if ps.LastAcknowledged, err = versionField(eo, "lastAcknowledged", at); err != nil {
				return nil, err
			}
			if ps.LastReceived, err = versionField(eo, "lastReceived", at); err != nil {
				return nil, err
			}
			env.ClientStates = append(env.ClientStates, ps)
		}
	}

	switch raw := obj["changes"].(type) {
	case nil, ir.Null:
	default:
		if env.Changes, err = ChangeFromValue(raw); err != nil {
			return nil, err
		}
	}

	if err := env.validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// MarshalJSON encodes the envelope through its plain-data form.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	return ir.Marshal(e.ToValue())
}

// ParseEnvelope decodes and validates a JSON envelope. Input that is not
// JSON at all is reported as ErrInvalidChanges too.
func ParseEnvelope(data []byte) (*Envelope, error) {
	v, err := ir.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChanges, err)
	}
	return EnvelopeFromValue(v)
}

// UnmarshalJSON decodes and validates an envelope.
// encoding/json rejects malformed input before calling it; use
// ParseEnvelope when raw bytes may not be JSON.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	parsed, err := ParseEnvelope(data)
	if err != nil {
		return err
	}
	*e = *parsed
	return nil
}

func (h Header) validate() error {
	if h.Kind != KindChanges {
		return fmt.Errorf("%w: header kind %q", ErrInvalidChanges, h.Kind)
	}
	if h.FormatVersion != FormatVersion {
		return fmt.Errorf("%w: unsupported format version %d", ErrInvalidChanges, h.FormatVersion)
	}
	return nil
}

// validate checks everything MergeChanges relies on before it mutates.
func (e *Envelope) validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil envelope", ErrInvalidChanges)
	}
	if err := e.Header.validate(); err != nil {
		return err
	}
	if e.SentBy == "" {
		return fmt.Errorf("%w: missing sentBy", ErrInvalidChanges)
	}
	if e.Changes == nil {
		return nil
	}
	if e.Changes.State == nil || e.Changes.State.IsArray {
		return fmt.Errorf("%w: root change is not an object node", ErrInvalidChanges)
	}
	return e.Changes.validate("changes")
}

func newHeader() Header {
	return Header{Kind: KindChanges, FormatVersion: FormatVersion}
}
