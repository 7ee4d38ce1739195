// Package docstore implements the on-disk storage engine of an embeddable
// document database: a paged file with a slotted record layout, a
// fixed-capacity buffer cache, a write-ahead log, and the crash-recovery
// pipeline that reconstructs committed state after an unclean shutdown.
//
// The collection wrapper, query language, indexes, and auth layers are not
// part of this package; they are expected to be built on top of the
// Storage contract in storage.go.
package docstore
