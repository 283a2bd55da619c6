// Package memdb models the device flash database in host memory.
//
// The device stores credentials and data blobs as fixed 132-byte nodes in
// flash, threaded into two doubly-linked parent chains (credentials and
// data), each parent owning a linked chain of children. This package holds
// the in-memory mirror of that structure built by a memory management
// session: the node lists with their byte-for-byte clones, favorites, the
// CTR value and per-card CPZ/CTR records.
//
// On top of the model it implements:
//
//   - the integrity checker (TagPointedNodes / CheckLoadedNodes), which
//     walks the canonical chains, tags reachable nodes and classifies the
//     rest as orphans;
//   - the repairer (AddOrphanParent / AddOrphanChild), which threads
//     orphans back in while keeping parents ordered by service and re-homes
//     stray credential children under a "_recovered_" service;
//   - virtual addressing (ResolveVirtualAddresses): nodes created in memory
//     receive monotonically increasing virtual ids until a free physical
//     slot is known;
//   - the diff generator (GenerateSaveOps / Packets), which produces the
//     minimal write-back set that turns the cloned state into the live
//     state;
//   - a repair self-test (RunSelfTest) that corrupts a clean database in
//     known ways and verifies the repairs restore it byte-exactly.
//
// Nodes are referenced by address; all traversal goes through the flat node
// lists rather than nested collections, so pointer-cyclic corruption cannot
// take the host down with it.
package memdb
