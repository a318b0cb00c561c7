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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cfxstorage/snapshotdb/epoch"
)

func TestFullSyncFinalizeWithMatchingRoot(t *testing.T) {
	m := newLevelDBTestManager(t)
	info := NewInfoMap()
	id := testEpochID(t, 0x20)

	var placeholderRoot MerkleRoot
	dataHandle, mptHandle, err := m.NewTempSnapshotForFullSync(id, 5, placeholderRoot)
	require.NoError(t, err)
	require.Nil(t, mptHandle) // MPT table is inline by default

	require.NoError(t, dataHandle.DB().DumpDelta(NewSliceDeltaIterator([]Delta{{Key: []byte("x"), Value: []byte("y")}})))
	actualRoot, err := dataHandle.DB().DirectMerge(nil)
	require.NoError(t, err)

	sinfo, lock, err := m.FinalizeFullSyncSnapshot(dataHandle, mptHandle, id, 5, actualRoot, epoch.Null, 0, info)
	require.NoError(t, err)
	lock.Install(id, sinfo)
	lock.Unlock()

	require.Equal(t, actualRoot, sinfo.MerkleRoot)

	_, err = os.Stat(m.paths.snapshotDBPath(id))
	require.NoError(t, err)

	latestID, latestHeight, known := m.LatestSnapshotPointer()
	require.True(t, known)
	require.Equal(t, id, latestID)
	require.Equal(t, uint64(5), latestHeight)
}

func TestFullSyncFinalizeWithIsolatedMPTPublishesIntoLatest(t *testing.T) {
	root := filepath.Join(t.TempDir(), "snapshots")
	m, err := New(Config{SnapshotRoot: root, MaxOpenSnapshots: 4, UseIsolatedDBForMPTTable: true, EraEpochCount: 10}, NewLevelDBFactory())
	require.NoError(t, err)
	info := NewInfoMap()
	id := testEpochID(t, 0x22)

	var placeholderRoot MerkleRoot
	dataHandle, mptHandle, err := m.NewTempSnapshotForFullSync(id, 10, placeholderRoot)
	require.NoError(t, err)
	require.NotNil(t, mptHandle) // MPT table is isolated at this height

	mptTempPath := mptHandle.Path()
	require.NoError(t, mptHandle.DB().DumpDelta(NewSliceDeltaIterator([]Delta{{Key: []byte("m"), Value: []byte("1")}})))
	require.NoError(t, dataHandle.DB().DumpDelta(NewSliceDeltaIterator([]Delta{{Key: []byte("x"), Value: []byte("y")}})))

	actualRoot, err := dataHandle.DB().DirectMerge(mptHandle.DB())
	require.NoError(t, err)

	sinfo, lock, err := m.FinalizeFullSyncSnapshot(dataHandle, mptHandle, id, 10, actualRoot, epoch.Null, 0, info)
	require.NoError(t, err)
	lock.Install(id, sinfo)
	lock.Unlock()

	// The MPT temp is gone from its staged path...
	_, err = os.Stat(mptTempPath)
	require.True(t, os.IsNotExist(err))

	// ...and "latest" now holds exactly what was staged there (I6).
	latestDB, err := m.factory.Open(m.paths.latestMPTSnapshotDBPath(), true, true)
	require.NoError(t, err)
	latestRoot, err := latestDB.DirectMerge(nil)
	require.NoError(t, err)
	require.NoError(t, latestDB.Close())

	mptOnlyDB, err := m.factory.Create(filepath.Join(t.TempDir(), "mpt-only"), true)
	require.NoError(t, err)
	require.NoError(t, mptOnlyDB.DumpDelta(NewSliceDeltaIterator([]Delta{{Key: []byte("m"), Value: []byte("1")}})))
	expectedLatestRoot, err := mptOnlyDB.DirectMerge(nil)
	require.NoError(t, err)
	require.NoError(t, mptOnlyDB.Close())

	require.Equal(t, expectedLatestRoot, latestRoot)

	// height 10 is an EAR boundary (EraEpochCount: 10), and the MPT isn't
	// inline at this height, so the per-epoch checkpoint must also equal
	// the new "latest" rather than whatever "latest" held beforehand.
	checkpointDB, err := m.factory.Open(m.paths.mptSnapshotDBPath(id), true, true)
	require.NoError(t, err)
	checkpointRoot, err := checkpointDB.DirectMerge(nil)
	require.NoError(t, err)
	require.NoError(t, checkpointDB.Close())
	require.Equal(t, expectedLatestRoot, checkpointRoot)
}

func TestFullSyncFinalizeRejectsRootMismatch(t *testing.T) {
	m := newLevelDBTestManager(t)
	info := NewInfoMap()
	id := testEpochID(t, 0x21)

	var placeholderRoot MerkleRoot
	dataHandle, mptHandle, err := m.NewTempSnapshotForFullSync(id, 5, placeholderRoot)
	require.NoError(t, err)

	require.NoError(t, dataHandle.DB().DumpDelta(NewSliceDeltaIterator([]Delta{{Key: []byte("x"), Value: []byte("y")}})))

	wrongRoot := MerkleRoot{0xff}
	_, _, err = m.FinalizeFullSyncSnapshot(dataHandle, mptHandle, id, 5, wrongRoot, epoch.Null, 0, info)
	require.Error(t, err)

	_, err = os.Stat(m.paths.snapshotDBPath(id))
	require.True(t, os.IsNotExist(err))
	_, ok := info.Get(id)
	require.False(t, ok)
}
