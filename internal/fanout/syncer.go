package fanout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/roach88/docsync/internal/codec"
	"github.com/roach88/docsync/internal/doc"
	"github.com/roach88/docsync/internal/ir"
	"github.com/roach88/docsync/internal/store"
	"github.com/roach88/docsync/internal/version"
)

var (
	// ErrCorrupt is returned when a manifest or part cannot be decoded or
	// does not belong where it was found.
	ErrCorrupt = errors.New("fanout: corrupt folder")

	// ErrNoSnapshot is returned by Join when no replica has published a
	// full snapshot of the document yet.
	ErrNoSnapshot = errors.New("fanout: no snapshot published")
)

// Defaults for a Syncer.
const (
	DefaultMaxPartBytes = 64 << 10
	DefaultMaxParts     = 16
	DefaultInterval     = 5 * time.Second
)

// State is the per-replica bookkeeping a Syncer needs across restarts.
type State struct {
	// Published is the document version covered by the last part.
	Published version.Version `json:"published"`

	// PublishedPeers is the peer table carried by the last part.
	PublishedPeers []doc.PeerState `json:"publishedPeers,omitempty"`

	// Merged lists, per client, the part ids already merged.
	Merged map[string][]string `json:"merged,omitempty"`
}

// PublishResult describes one Publish call.
type PublishResult struct {
	Part      Part
	Skipped   bool
	Compacted bool
	Removed   int
}

// PullResult describes one Pull call.
type PullResult struct {
	Clients int
	Merged  int
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithCodec sets the codec for published parts. Default: JSON.
func WithCodec(c codec.Codec) Option {
	return func(s *Syncer) { s.codec = c }
}

// WithMaxPartBytes sets the nominal part size used by the compaction budget.
func WithMaxPartBytes(n int) Option {
	return func(s *Syncer) { s.maxPartBytes = n }
}

// WithMaxParts sets how many parts a client manifest may hold before it
// is compacted into one snapshot.
func WithMaxParts(n int) Option {
	return func(s *Syncer) { s.maxParts = n }
}

// WithLogger sets the logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) { s.logger = l }
}

// WithState resumes from bookkeeping saved by an earlier Syncer.
func WithState(st State) Option {
	return func(s *Syncer) { s.state = st }
}

// WithAfterSync registers a hook run after every successful Sync, typically
// to persist the document and the State.
func WithAfterSync(fn func(context.Context) error) Option {
	return func(s *Syncer) { s.afterSync = fn }
}

// Syncer publishes one replica's changes to a shared folder and merges
// the changes of every other replica found there.
type Syncer struct {
	folder       store.Storage
	docID        string
	doc          *doc.Document
	codec        codec.Codec
	maxPartBytes int
	maxParts     int
	logger       *slog.Logger
	state        State
	afterSync    func(context.Context) error
	trigger      chan struct{} // buffered, size 1
}

// New creates a Syncer for d in the docID folder.
func New(folder store.Storage, docID string, d *doc.Document, opts ...Option) (*Syncer, error) {
	if err := store.ValidateDocumentID(docID); err != nil {
		return nil, err
	}
	if err := store.ValidateKey(d.ClientID()); err != nil {
		return nil, fmt.Errorf("client id: %w", err)
	}
	s := &Syncer{
		folder:       folder,
		docID:        docID,
		doc:          d,
		codec:        codec.JSON{},
		maxPartBytes: DefaultMaxPartBytes,
		maxParts:     DefaultMaxParts,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		trigger:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxParts < 1 || s.maxPartBytes < 1 {
		return nil, fmt.Errorf("fanout: maxParts and maxPartBytes must be positive")
	}
	if s.state.Merged == nil {
		s.state.Merged = make(map[string][]string)
	}
	return s, nil
}

// State returns a copy of the current bookkeeping.
func (s *Syncer) State() State {
	st := State{
		Published:      s.state.Published,
		PublishedPeers: slices.Clone(s.state.PublishedPeers),
		Merged:         make(map[string][]string, len(s.state.Merged)),
	}
	for k, v := range s.state.Merged {
		st.Merged[k] = slices.Clone(v)
	}
	return st
}

// Publish writes the changes made since the last publication as a new
// part. Nothing is written when neither the document nor its peer table
// changed. The client manifest is compacted into a single snapshot part
// when it would exceed its part or size budget.
func (s *Syncer) Publish(ctx context.Context) (PublishResult, error) {
	self := s.doc.ClientID()
	peers := s.doc.PeerStates()
	if s.state.Published.IsSet() &&
		version.Compare(s.doc.DocVersion(), s.state.Published) == 0 &&
		slices.Equal(peers, s.state.PublishedPeers) {
		return PublishResult{Skipped: true}, nil
	}

	m, err := ReadClient(ctx, s.folder, s.docID, self)
	if err != nil {
		return PublishResult{}, err
	}

	since := s.state.Published
	if len(m.Parts) == 0 {
		since = version.None
	}
	part, data, err := s.encode(s.doc.GetChangesSince(since))
	if err != nil {
		return PublishResult{}, err
	}

	res := PublishResult{}
	var stale []Part
	if len(m.Parts) > 0 && (len(m.Parts)+1 > s.maxParts || m.TotalSize()+part.Size > s.maxParts*s.maxPartBytes) {
		part, data, err = s.encode(s.doc.GetChangesSince(version.None))
		if err != nil {
			return PublishResult{}, err
		}
		stale = m.Parts
		m.Parts = nil
		res.Compacted = true
	}

	if n := len(m.Parts); n == 0 || m.Parts[n-1].ID != part.ID {
		if err := s.folder.Write(ctx, PartKey(s.docID, self, part.ID), data); err != nil {
			return PublishResult{}, fmt.Errorf("publish part: %w", err)
		}
		m.Parts = append(m.Parts, part)
	}
	if err := writeJSON(ctx, s.folder, ClientKey(s.docID, self), m); err != nil {
		return PublishResult{}, err
	}
	if err := s.register(ctx, self); err != nil {
		return PublishResult{}, err
	}

	// Old parts go only after the manifest no longer names them.
	for _, p := range stale {
		if p.ID == part.ID {
			continue
		}
		if err := s.folder.Delete(ctx, PartKey(s.docID, self, p.ID)); err != nil {
			return PublishResult{}, fmt.Errorf("delete compacted part: %w", err)
		}
		res.Removed++
	}

	s.state.Published = s.doc.DocVersion()
	s.state.PublishedPeers = peers
	res.Part = part

	if res.Compacted {
		s.logger.Info("compacted parts",
			"doc", s.docID,
			"client", self,
			"removed", res.Removed,
			"snapshot", part.ID)
	} else {
		s.logger.Info("published part",
			"doc", s.docID,
			"client", self,
			"part", part.ID,
			"size", part.Size,
			"from_version", part.FromVersion)
	}
	return res, nil
}

func (s *Syncer) encode(env *doc.Envelope) (Part, []byte, error) {
	data, err := s.codec.Marshal(env)
	if err != nil {
		return Part{}, nil, fmt.Errorf("encode part: %w", err)
	}
	return Part{
		ID:          ir.PartID(data),
		Size:        len(data),
		Codec:       s.codec.Name(),
		FromVersion: env.FromVersion,
		Snapshot:    env.IsSnapshot(),
	}, data, nil
}

// register makes sure the master manifest lists clientID.
func (s *Syncer) register(ctx context.Context, clientID string) error {
	master, err := ReadMaster(ctx, s.folder, s.docID)
	if err != nil {
		return err
	}
	if !master.add(clientID) {
		return nil
	}
	s.logger.Debug("registered client", "doc", s.docID, "client", clientID)
	return writeJSON(ctx, s.folder, MasterKey(s.docID), master)
}

// Pull merges, in manifest order, every part of every other replica that
// has not been merged yet. A client whose folder is damaged is skipped and
// reported in the returned error; the others are still merged.
func (s *Syncer) Pull(ctx context.Context) (PullResult, error) {
	self := s.doc.ClientID()
	master, err := ReadMaster(ctx, s.folder, s.docID)
	if err != nil {
		return PullResult{}, err
	}

	var (
		res  PullResult
		errs []error
	)
	merged := make(map[string][]string, len(master.Clients))
	for _, clientID := range master.Clients {
		if clientID == self {
			continue
		}
		res.Clients++
		kept, n, err := s.pullClient(ctx, clientID)
		merged[clientID] = kept
		res.Merged += n
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			s.logger.Warn("skipping client",
				"doc", s.docID,
				"client", clientID,
				"error", err)
			errs = append(errs, fmt.Errorf("client %s: %w", clientID, err))
		}
	}
	s.state.Merged = merged

	if res.Merged > 0 {
		s.logger.Debug("pulled parts",
			"doc", s.docID,
			"clients", res.Clients,
			"merged", res.Merged,
			"doc_version", s.doc.DocVersion())
	}
	return res, errors.Join(errs...)
}

// pullClient merges the unmerged parts of one client and returns the ids
// now known merged that its manifest still lists.
func (s *Syncer) pullClient(ctx context.Context, clientID string) ([]string, int, error) {
	done := s.state.Merged[clientID]
	m, err := ReadClient(ctx, s.folder, s.docID, clientID)
	if err != nil {
		return done, 0, err
	}

	var kept []string
	merged := 0
	for i, p := range m.Parts {
		if slices.Contains(done, p.ID) {
			kept = append(kept, p.ID)
			continue
		}
		env, found, err := readPart(ctx, s.folder, s.docID, clientID, p, s.codec)
		if err == nil && !found {
			// compacted away after the manifest was read
			s.logger.Debug("part gone, retrying next round", "client", clientID, "part", p.ID)
			return stillMerged(kept, done, m.Parts[i+1:]), merged, nil
		}
		if err == nil {
			err = s.doc.MergeChanges(env)
		}
		if err != nil {
			return stillMerged(kept, done, m.Parts[i+1:]), merged, err
		}
		kept = append(kept, p.ID)
		merged++
	}
	return kept, merged, nil
}

// stillMerged appends the ids in rest that were merged in an earlier round.
func stillMerged(kept, done []string, rest []Part) []string {
	for _, p := range rest {
		if slices.Contains(done, p.ID) {
			kept = append(kept, p.ID)
		}
	}
	return kept
}

// readPart loads and checks one part. fallback decodes parts that do not
// name their codec.
func readPart(ctx context.Context, folder store.Storage, docID, clientID string, p Part, fallback codec.Codec) (*doc.Envelope, bool, error) {
	data, found, err := folder.Read(ctx, PartKey(docID, clientID, p.ID))
	if err != nil || !found {
		return nil, false, err
	}
	if ir.PartID(data) != p.ID {
		return nil, false, fmt.Errorf("%w: part %s content does not match its id", ErrCorrupt, p.ID)
	}
	c := fallback
	if p.Codec != "" {
		if c, err = codec.ByName(p.Codec); err != nil {
			return nil, false, fmt.Errorf("%w: part %s: %v", ErrCorrupt, p.ID, err)
		}
	}
	env, err := c.Unmarshal(data)
	if err != nil {
		return nil, false, fmt.Errorf("part %s: %w", p.ID, err)
	}
	if env.SentBy != clientID {
		return nil, false, fmt.Errorf("%w: part %s sent by %q", ErrCorrupt, p.ID, env.SentBy)
	}
	return env, true, nil
}

// SyncResult describes one Sync round.
type SyncResult struct {
	Pull    PullResult
	Publish PublishResult
}

// Sync pulls, then publishes so the new part carries the updated peer
// table, then runs the after-sync hook.
func (s *Syncer) Sync(ctx context.Context) (SyncResult, error) {
	var res SyncResult
	pulled, pullErr := s.Pull(ctx)
	res.Pull = pulled
	if ctx.Err() != nil {
		return res, ctx.Err()
	}

	published, err := s.Publish(ctx)
	if err != nil {
		return res, errors.Join(pullErr, err)
	}
	res.Publish = published

	if s.afterSync != nil {
		if err := s.afterSync(ctx); err != nil {
			return res, errors.Join(pullErr, fmt.Errorf("after sync: %w", err))
		}
	}
	return res, pullErr
}

// Trigger requests a Sync round from Run without waiting for the next tick.
// Safe from any goroutine; pending requests coalesce.
func (s *Syncer) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run syncs immediately and then on every interval tick or Trigger until
// ctx is cancelled. Round failures are logged and the loop continues.
// Returns ctx.Err().
func (s *Syncer) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s.logger.Info("sync starting", "doc", s.docID, "client", s.doc.ClientID(), "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sync(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("sync round failed", "doc", s.docID, "error", err)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("sync stopping: context cancelled", "doc", s.docID)
			return ctx.Err()
		case <-ticker.C:
		case <-s.trigger:
		}
	}
}
