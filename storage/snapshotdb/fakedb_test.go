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

import "os"

// fakeFactory backs a Manager with an in-memory SnapshotDB for tests that
// exercise the admission/registry/permit machinery without caring about
// on-disk content fidelity across Create/Open (which, unlike the real
// LevelDBFactory, a fresh in-memory map can't preserve). Tests that merge
// or full-sync real content use NewLevelDBFactory instead.
type fakeFactory struct{}

func (fakeFactory) Create(path string, mptTableInline bool) (SnapshotDB, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, err
	}
	return &fakeDB{mptInline: mptTableInline}, nil
}

func (fakeFactory) Open(path string, readonly bool, mptTableInline bool) (SnapshotDB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return &fakeDB{mptInline: mptTableInline}, nil
}

type fakeDB struct {
	mptInline bool
	mptSource SnapshotDB
	closed    bool
}

func (d *fakeDB) Close() error                     { d.closed = true; return nil }
func (d *fakeDB) IsMPTTableInCurrentDB() bool       { return d.mptInline }
func (d *fakeDB) DropMPTTableDump() error           { return nil }
func (d *fakeDB) DumpDelta(it DeltaIterator) error {
	for {
		_, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
}
func (d *fakeDB) DirectMerge(SnapshotDB) (MerkleRoot, error)  { return MerkleRoot{}, nil }
func (d *fakeDB) CopyAndMerge(SnapshotDB) (MerkleRoot, error) { return MerkleRoot{}, nil }
func (d *fakeDB) UpdateMPTSnapshot(mpt SnapshotDB)            { d.mptSource = mpt }
