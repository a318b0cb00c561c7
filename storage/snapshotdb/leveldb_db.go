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

import (
	"bytes"
	"crypto/sha256"
	"os"
	"sort"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/cfxstorage/snapshotdb/internal/log"
)

// Key-space layout within the embedded LevelDB instance: the data table and
// the (optionally inline) MPT-dump table are disjoint prefixes of the same
// database, so dropping one doesn't touch the other's entries.
var (
	dataTablePrefix = []byte{0x01}
	mptTablePrefix  = []byte{0x02}
)

// LevelDBFactory is the default SnapshotDBFactory, backing every snapshot
// directory with an embedded syndtr/goleveldb instance -- the same
// key-value engine core/rawdb.NewLevelDBDatabase wraps in the teacher's
// cmd/journaldump.
type LevelDBFactory struct{}

func NewLevelDBFactory() *LevelDBFactory { return &LevelDBFactory{} }

func (f *LevelDBFactory) Create(path string, mptTableInline bool) (SnapshotDB, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, err
	}
	db, err := leveldb.OpenFile(path, &opt.Options{ErrorIfExist: true})
	if err != nil {
		return nil, err
	}
	return &levelDBSnapshotDB{db: db, path: path, mptInline: mptTableInline, log: log.New("path", path)}, nil
}

func (f *LevelDBFactory) Open(path string, readonly bool, mptTableInline bool) (SnapshotDB, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{ReadOnly: readonly})
	if err != nil {
		return nil, err
	}
	return &levelDBSnapshotDB{db: db, path: path, mptInline: mptTableInline, log: log.New("path", path)}, nil
}

// levelDBSnapshotDB is the concrete SnapshotDB adapter of spec.md §4.3.
type levelDBSnapshotDB struct {
	db        *leveldb.DB
	path      string
	mptInline bool
	log       *log.Logger

	// mptSource is the externally-attached MPT database for an open where
	// the MPT table isn't inline. The inner query surface that
	// would consult it is out of scope; it is kept resident purely so its
	// lifetime is tied to this handle's (see dbHandle.extraRelease).
	mptSource SnapshotDB
}

func (d *levelDBSnapshotDB) UpdateMPTSnapshot(mpt SnapshotDB) { d.mptSource = mpt }

func (d *levelDBSnapshotDB) Close() error { return d.db.Close() }

func (d *levelDBSnapshotDB) IsMPTTableInCurrentDB() bool { return d.mptInline }

// DropMPTTableDump removes every entry under the MPT-dump prefix that was
// inherited by a COW copy of the predecessor, ahead of a fresh DumpDelta.
// It must never touch dataTablePrefix: on the COW-success path this runs
// against a whole-directory clone of the parent's data table, which the
// new epoch's own delta is about to be layered on top of, not replace.
func (d *levelDBSnapshotDB) DropMPTTableDump() error {
	iter := d.db.NewIterator(util.BytesPrefix(mptTablePrefix), nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte{}, iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return err
	}
	return d.db.Write(batch, nil)
}

func (d *levelDBSnapshotDB) DumpDelta(it DeltaIterator) error {
	batch := new(leveldb.Batch)
	for {
		delta, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		key := append(append([]byte{}, dataTablePrefix...), delta.Key...)
		if delta.Value == nil {
			batch.Delete(key)
		} else {
			batch.Put(key, delta.Value)
		}
	}
	d.log.Debug("dumped delta", "entries", batch.Len())
	return d.db.Write(batch, nil)
}

func (d *levelDBSnapshotDB) DirectMerge(mptSource SnapshotDB) (MerkleRoot, error) {
	return d.computeRoot(mptSource)
}

// CopyAndMerge is the slow-but-correct path used when COW copy isn't
// available: it reads every entry out of old and rewrites it into this
// (already-created, empty) database before computing the root.
func (d *levelDBSnapshotDB) CopyAndMerge(old SnapshotDB) (MerkleRoot, error) {
	if oldDB, ok := old.(*levelDBSnapshotDB); ok {
		iter := oldDB.db.NewIterator(util.BytesPrefix(dataTablePrefix), nil)
		batch := new(leveldb.Batch)
		for iter.Next() {
			batch.Put(append([]byte{}, iter.Key()...), append([]byte{}, iter.Value()...))
		}
		err := iter.Error()
		iter.Release()
		if err != nil {
			return MerkleRoot{}, err
		}
		if err := d.db.Write(batch, nil); err != nil {
			return MerkleRoot{}, err
		}
	}
	return d.computeRoot(nil)
}

// computeRoot is a deterministic stand-in for the external merkle-patricia
// algorithm, which spec.md §1 puts out of scope: it folds every key/value
// pair currently in the data table (plus, if given, the external MPT
// source's) in sorted order into a single sha256 digest.
func (d *levelDBSnapshotDB) computeRoot(mptSource SnapshotDB) (MerkleRoot, error) {
	type kv struct{ k, v []byte }
	var entries []kv

	iter := d.db.NewIterator(util.BytesPrefix(dataTablePrefix), nil)
	for iter.Next() {
		entries = append(entries, kv{append([]byte{}, iter.Key()...), append([]byte{}, iter.Value()...)})
	}
	err := iter.Error()
	iter.Release()
	if err != nil {
		return MerkleRoot{}, err
	}

	if src, ok := mptSource.(*levelDBSnapshotDB); ok {
		mptIter := src.db.NewIterator(util.BytesPrefix(dataTablePrefix), nil)
		for mptIter.Next() {
			entries = append(entries, kv{append([]byte{}, mptIter.Key()...), append([]byte{}, mptIter.Value()...)})
		}
		err := mptIter.Error()
		mptIter.Release()
		if err != nil {
			return MerkleRoot{}, err
		}
	}

	sort.Slice(entries, func(i, j int) bool { return bytes.Compare(entries[i].k, entries[j].k) < 0 })

	h := sha256.New()
	for _, e := range entries {
		h.Write(e.k)
		h.Write(e.v)
	}
	var root MerkleRoot
	copy(root[:], h.Sum(nil))
	return root, nil
}
