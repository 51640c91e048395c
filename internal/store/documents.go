package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/docsync/internal/codec"
	"github.com/roach88/docsync/internal/doc"
)

// documentPrefix keeps local replicas apart from fan-out folders,
// which are rooted at the bare document id.
const documentPrefix = "docs/"

// DocumentKey returns the key a replica of docID is persisted under.
func DocumentKey(docID string) string {
	return documentPrefix + docID
}

// ValidateDocumentID rejects ids that would not form a single key segment.
func ValidateDocumentID(docID string) error {
	if docID == "" || strings.Contains(docID, "/") {
		return fmt.Errorf("%w: document id %q", ErrInvalidKey, docID)
	}
	return ValidateKey(docID)
}

// SaveDocument writes d's full snapshot, including its replica id, clock
// and peer table, under DocumentKey(docID).
func SaveDocument(ctx context.Context, s Storage, docID string, d *doc.Document, c codec.Codec) error {
	if err := ValidateDocumentID(docID); err != nil {
		return err
	}
	data, err := c.Marshal(d.GetChanges(""))
	if err != nil {
		return fmt.Errorf("save %s: %w", docID, err)
	}
	if err := s.Write(ctx, DocumentKey(docID), data); err != nil {
		return fmt.Errorf("save %s: %w", docID, err)
	}
	return nil
}

// LoadDocument reads a replica written by SaveDocument and rebuilds it in
// restore mode. A missing document returns (nil, false, nil).
func LoadDocument(ctx context.Context, s Storage, docID string, c codec.Codec, opts ...doc.Option) (*doc.Document, bool, error) {
	if err := ValidateDocumentID(docID); err != nil {
		return nil, false, err
	}
	data, found, err := s.Read(ctx, DocumentKey(docID))
	if err != nil {
		return nil, false, fmt.Errorf("load %s: %w", docID, err)
	}
	if !found {
		return nil, false, nil
	}
	env, err := c.Unmarshal(data)
	if err != nil {
		return nil, false, fmt.Errorf("load %s: %w", docID, err)
	}
	d, err := doc.Restore(env, opts...)
	if err != nil {
		return nil, false, fmt.Errorf("load %s: %w", docID, err)
	}
	return d, true, nil
}

// ListDocuments returns the ids of all persisted documents, sorted.
func ListDocuments(ctx context.Context, s Storage) ([]string, error) {
	keys, err := s.List(ctx, documentPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, documentPrefix))
	}
	return ids, nil
}
