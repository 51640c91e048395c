package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/roach88/docsync/internal/store"
	"github.com/roach88/docsync/internal/version"
)

// FormatVersion is written into every manifest.
const FormatVersion = 1

const manifestName = "manifest"

// Part describes one published envelope.
type Part struct {
	ID          string          `json:"id"`
	Size        int             `json:"size"`
	Codec       string          `json:"codec"`
	FromVersion version.Version `json:"fromVersion"`
	Snapshot    bool            `json:"snapshot,omitempty"`
}

// ClientManifest lists a replica's parts in publication order.
type ClientManifest struct {
	FormatVersion int    `json:"formatVersion"`
	ClientID      string `json:"clientID"`
	Parts         []Part `json:"parts"`
}

// TotalSize returns the summed size of all parts.
func (m *ClientManifest) TotalSize() int {
	n := 0
	for _, p := range m.Parts {
		n += p.Size
	}
	return n
}

// MasterManifest lists the replicas publishing to a document folder.
type MasterManifest struct {
	FormatVersion int      `json:"formatVersion"`
	Clients       []string `json:"clients"`
}

// add inserts clientID keeping Clients sorted. It reports whether the
// manifest changed.
func (m *MasterManifest) add(clientID string) bool {
	i, found := slices.BinarySearch(m.Clients, clientID)
	if found {
		return false
	}
	m.Clients = slices.Insert(m.Clients, i, clientID)
	return true
}

// MasterKey returns the master manifest key of docID.
func MasterKey(docID string) string {
	return docID + "/" + manifestName
}

// ClientKey returns the client manifest key of clientID in docID.
func ClientKey(docID, clientID string) string {
	return docID + "/" + clientID + "/" + manifestName
}

// PartKey returns the key of a part.
func PartKey(docID, clientID, partID string) string {
	return docID + "/" + clientID + "/" + partID
}

// ReadMaster loads the master manifest of docID. A missing manifest is
// returned empty.
func ReadMaster(ctx context.Context, s store.Storage, docID string) (*MasterManifest, error) {
	m := &MasterManifest{FormatVersion: FormatVersion}
	if err := readJSON(ctx, s, MasterKey(docID), m); err != nil {
		return nil, err
	}
	slices.Sort(m.Clients)
	m.Clients = slices.Compact(m.Clients)
	return m, nil
}

// ReadClient loads the manifest of clientID. A missing manifest is
// returned empty.
func ReadClient(ctx context.Context, s store.Storage, docID, clientID string) (*ClientManifest, error) {
	m := &ClientManifest{FormatVersion: FormatVersion, ClientID: clientID}
	if err := readJSON(ctx, s, ClientKey(docID, clientID), m); err != nil {
		return nil, err
	}
	if m.ClientID != clientID {
		return nil, fmt.Errorf("%w: manifest of %s names client %q", ErrCorrupt, clientID, m.ClientID)
	}
	return m, nil
}

func readJSON(ctx context.Context, s store.Storage, key string, v any) error {
	data, found, err := s.Read(ctx, key)
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if !found {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return nil
}

func writeJSON(ctx context.Context, s store.Storage, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.Write(ctx, key, data); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}
