package fanout

import (
	"context"

	"github.com/roach88/docsync/internal/store"
)

// StateKey returns the key a replica's State is kept under in its local store.
func StateKey(docID string) string {
	return "sync/" + docID
}

// LoadState reads the State saved for docID. A missing State is returned
// zero.
func LoadState(ctx context.Context, local store.Storage, docID string) (State, error) {
	var st State
	if err := readJSON(ctx, local, StateKey(docID), &st); err != nil {
		return State{}, err
	}
	return st, nil
}

// SaveState writes st for docID.
func SaveState(ctx context.Context, local store.Storage, docID string, st State) error {
	return writeJSON(ctx, local, StateKey(docID), st)
}
