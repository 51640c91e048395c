// Package fanout shares a document between many replicas through a
// common folder instead of point-to-point connections.
//
// Each replica appends its changes as immutable parts and lists them in
// its own manifest; a master manifest lists the replicas. Any
// store.Storage can serve as the folder (a synced directory, Redis, ...).
//
// # Folder layout
//
//	<docID>/manifest                  master manifest: sorted client ids
//	<docID>/<clientID>/manifest       client manifest: ordered parts
//	<docID>/<clientID>/<partID>       one encoded change envelope
//
// Part ids are content hashes (ir.PartID), so a part never changes once
// written and re-publishing identical bytes is a no-op.
//
// # Concurrency
//
// Only the owning replica writes its client manifest and parts. The
// master manifest is read-modify-write and may lose an entry under
// concurrent first publishes; every Publish re-adds its client, so the
// entry reappears on the next round.
//
// A Syncer is not safe for concurrent use, and while Run is active it
// must be the only goroutine touching the document.
package fanout
