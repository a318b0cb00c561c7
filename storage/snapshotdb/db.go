// Copyright 2020 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package snapshotdb

import "github.com/cfxstorage/snapshotdb/epoch"

// Delta is a single state key-value change between two epochs, the unit
// DeltaIterator yields.
type Delta struct {
	Key   []byte
	Value []byte // nil Value means the key was deleted
}

// DeltaIterator is the lazy sequence of state deltas between an old and a
// new epoch that MergeEngine dumps into a freshly staged snapshot. Its
// production (diffing two world-state tries) is an external collaborator's
// concern; the manager only consumes it.
type DeltaIterator interface {
	// Next returns the next delta, or ok=false once exhausted.
	Next() (d Delta, ok bool, err error)
}

// SliceDeltaIterator adapts an in-memory slice to DeltaIterator, used by
// tests and by small full-sync batches.
type SliceDeltaIterator struct {
	deltas []Delta
	pos    int
}

func NewSliceDeltaIterator(deltas []Delta) *SliceDeltaIterator {
	return &SliceDeltaIterator{deltas: deltas}
}

func (it *SliceDeltaIterator) Next() (Delta, bool, error) {
	if it.pos >= len(it.deltas) {
		return Delta{}, false, nil
	}
	d := it.deltas[it.pos]
	it.pos++
	return d, true, nil
}

// SnapshotInfo is the metadata record a merge or full sync hands back to
// its caller. The manager never persists it itself: it builds a fresh
// record (Height, MerkleRoot, ParentEpochID, ParentHeight) and returns it
// with a held write lock on the caller's SnapshotInfoMap (spec.md §3,
// §4.4). It does not take a caller-supplied record to fill in.
type SnapshotInfo struct {
	Height            uint64
	MerkleRoot        MerkleRoot
	ParentEpochID     epoch.ID
	ParentHeight      uint64
	// Serialized is an opaque, caller-defined payload (e.g. pivot chain
	// parts in the original source). The manager never reads or sets it;
	// records it returns carry a nil Serialized.
	Serialized []byte
}

// SnapshotDB is the trait the manager consumes to create, open, and merge
// an individual on-disk snapshot database (spec.md §4.3's "SnapshotDb
// adapter contract"). Its inner schema is out of scope; this interface is
// the entire surface the manager needs from a concrete implementation.
type SnapshotDB interface {
	// Close releases any OS-level resources (file descriptors, etc). It
	// is called exactly once, by the owning Handle's destructor.
	Close() error

	// IsMPTTableInCurrentDB reports whether this database holds the MPT
	// table inline (as opposed to it living in a separate, isolated MPT
	// database).
	IsMPTTableInCurrentDB() bool

	// DropMPTTableDump drops the delta-mpt staging table inherited from a
	// COW-copied predecessor, before a fresh DumpDelta call.
	DropMPTTableDump() error

	// DumpDelta writes every entry the iterator yields into the database.
	DumpDelta(it DeltaIterator) error

	// DirectMerge computes the new merkle root by merging this database's
	// staged deltas against an optional external MPT source (nil when the
	// MPT table is inline).
	DirectMerge(mptSource SnapshotDB) (MerkleRoot, error)

	// CopyAndMerge merges against old directly (used on the COW-failure
	// fallback path, reading from old and rewriting into this database).
	CopyAndMerge(old SnapshotDB) (MerkleRoot, error)

	// UpdateMPTSnapshot attaches an externally-opened MPT database to this
	// snapshot for the lifetime of its handle, when the MPT table isn't
	// stored inline: on a read-only open with attachMPT, and on a
	// write-open given an MPT handle (spec.md §4.1).
	UpdateMPTSnapshot(mpt SnapshotDB)
}

// SnapshotDBFactory opens or creates the concrete SnapshotDB implementation
// backing a directory. The default factory (NewLevelDBFactory) backs each
// snapshot with an embedded LevelDB instance.
type SnapshotDBFactory interface {
	// Create initializes a new, empty database at path.
	Create(path string, mptTableInline bool) (SnapshotDB, error)

	// Open opens an existing database at path. readonly governs whether
	// writes are rejected.
	Open(path string, readonly bool, mptTableInline bool) (SnapshotDB, error)
}

// nullSnapshotDB backs epoch.Null: a synthetic, always-empty handle that
// never touches disk.
type nullSnapshotDB struct{}

func (nullSnapshotDB) Close() error                      { return nil }
func (nullSnapshotDB) IsMPTTableInCurrentDB() bool        { return true }
func (nullSnapshotDB) DropMPTTableDump() error            { return nil }
func (nullSnapshotDB) DumpDelta(DeltaIterator) error      { return nil }
func (nullSnapshotDB) DirectMerge(SnapshotDB) (MerkleRoot, error) {
	return MerkleRoot{}, nil
}
func (nullSnapshotDB) CopyAndMerge(SnapshotDB) (MerkleRoot, error) {
	return MerkleRoot{}, nil
}
func (nullSnapshotDB) UpdateMPTSnapshot(SnapshotDB) {}
