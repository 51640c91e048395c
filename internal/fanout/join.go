package fanout

import (
	"context"
	"fmt"

	"github.com/roach88/docsync/internal/codec"
	"github.com/roach88/docsync/internal/doc"
	"github.com/roach88/docsync/internal/store"
)

// Join creates a new replica of docID from the newest snapshot part of the
// first client (in master manifest order) that has one. The returned State
// marks that snapshot and the parts before it as merged; a Syncer started
// with it pulls the rest. Parts that do not name their codec are decoded
// with c, or as JSON when c is nil.
func Join(ctx context.Context, folder store.Storage, docID string, c codec.Codec, opts ...doc.Option) (*doc.Document, State, error) {
	if c == nil {
		c = codec.JSON{}
	}
	if err := store.ValidateDocumentID(docID); err != nil {
		return nil, State{}, err
	}
	master, err := ReadMaster(ctx, folder, docID)
	if err != nil {
		return nil, State{}, err
	}

	for _, clientID := range master.Clients {
		m, err := ReadClient(ctx, folder, docID, clientID)
		if err != nil {
			return nil, State{}, err
		}
		at := -1
		for i, p := range m.Parts {
			if p.Snapshot {
				at = i
			}
		}
		if at < 0 {
			continue
		}

		env, found, err := readPart(ctx, folder, docID, clientID, m.Parts[at], c)
		if err != nil {
			return nil, State{}, err
		}
		if !found {
			return nil, State{}, fmt.Errorf("join %s: snapshot of %s is missing, retry", docID, clientID)
		}
		d, err := doc.FromSnapshot(env, opts...)
		if err != nil {
			return nil, State{}, fmt.Errorf("join %s: %w", docID, err)
		}

		merged := make([]string, 0, at+1)
		for _, p := range m.Parts[:at+1] {
			merged = append(merged, p.ID)
		}
		return d, State{Merged: map[string][]string{clientID: merged}}, nil
	}
	return nil, State{}, fmt.Errorf("join %s: %w", docID, ErrNoSnapshot)
}
