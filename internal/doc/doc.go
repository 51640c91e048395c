// Package doc implements the replicated JSON document.
//
// A Document is a tree of objects, arrays and primitives. Objects and
// arrays are nodes: they carry an id, the document version of their last
// own change, a wall clock timestamp and an optional tombstone. Replicas
// exchange Envelopes holding the sparse tree of nodes changed after a
// version, and merge them with MergeChanges.
//
// Merging follows three rules:
//   - a node's own properties take the remote side when the peer is ahead
//     and we have nothing unsent for that node, or when the remote
//     timestamp is not older than ours
//   - tombstones always win, and a removed node ignores later edits
//   - arrays are reconciled around elements both sides know (anchors):
//     shared elements take the remote order and the content between two
//     anchors is the remote content followed by local-only insertions
//
// Every local mutation advances the document clock exactly once; a merge
// advances it at most once. Peer bookkeeping (PeerState) records the last
// version each peer acknowledged and the last version received from it,
// and envelopes carry the whole table so acknowledgments spread through
// third parties.
//
// The package does no I/O. Envelopes convert to and from ir.Value with
// ToValue and EnvelopeFromValue; byte encodings live in package codec.
package doc
