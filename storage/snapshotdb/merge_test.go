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

func newLevelDBTestManager(t *testing.T) *Manager {
	t.Helper()
	root := filepath.Join(t.TempDir(), "snapshots")
	m, err := New(Config{SnapshotRoot: root, MaxOpenSnapshots: 4}, NewLevelDBFactory())
	require.NoError(t, err)
	return m
}

func TestGenesisMergeCreatesFreshSnapshot(t *testing.T) {
	m := newLevelDBTestManager(t)
	info := NewInfoMap()

	genesisID := testEpochID(t, 0x01)
	deltas := NewSliceDeltaIterator([]Delta{{Key: []byte("a"), Value: []byte("1")}})

	sinfo, lock, err := m.NewSnapshotByMerging(epoch.Null, 0, genesisID, 1, deltas, info)
	require.NoError(t, err)
	lock.Install(genesisID, sinfo)
	lock.Unlock()

	require.Equal(t, uint64(1), sinfo.Height)
	require.True(t, epoch.Null.IsNull())
	require.Equal(t, epoch.Null, sinfo.ParentEpochID)

	got, ok := info.Get(genesisID)
	require.True(t, ok)
	require.Equal(t, sinfo, got)

	_, err = os.Stat(m.paths.snapshotDBPath(genesisID))
	require.NoError(t, err)

	latestID, latestHeight, known := m.LatestSnapshotPointer()
	require.True(t, known)
	require.Equal(t, genesisID, latestID)
	require.Equal(t, uint64(1), latestHeight)
}

func TestIncrementalMergeFromParent(t *testing.T) {
	m := newLevelDBTestManager(t)
	info := NewInfoMap()

	parentID := testEpochID(t, 0x02)
	childID := testEpochID(t, 0x03)

	parentInfo, lock, err := m.NewSnapshotByMerging(epoch.Null, 0, parentID, 1,
		NewSliceDeltaIterator([]Delta{{Key: []byte("a"), Value: []byte("1")}}), info)
	require.NoError(t, err)
	lock.Install(parentID, parentInfo)
	lock.Unlock()

	childInfo, lock2, err := m.NewSnapshotByMerging(parentID, 1, childID, 2,
		NewSliceDeltaIterator([]Delta{{Key: []byte("b"), Value: []byte("2")}}), info)
	require.NoError(t, err)
	lock2.Install(childID, childInfo)
	lock2.Unlock()

	require.Equal(t, parentID, childInfo.ParentEpochID)
	require.Equal(t, uint64(1), childInfo.ParentHeight)

	_, err = os.Stat(m.paths.snapshotDBPath(childID))
	require.NoError(t, err)
	// The temp staging directory must not survive a successful merge.
	_, err = os.Stat(m.paths.mergeTempDBPath(parentID, childID))
	require.True(t, os.IsNotExist(err))

	// The parent remains independently readable afterwards.
	ph, err := m.GetSnapshotByEpochID(parentID, 1, true, false)
	require.NoError(t, err)
	require.NotNil(t, ph)
	require.NoError(t, ph.Close())
}

func TestMergeRejectsUnknownParent(t *testing.T) {
	m := newLevelDBTestManager(t)
	info := NewInfoMap()
	missingParent := testEpochID(t, 0xee)
	newID := testEpochID(t, 0xff)

	_, _, err := m.NewSnapshotByMerging(missingParent, 1, newID, 2, NewSliceDeltaIterator(nil), info)
	require.Error(t, err)

	_, err = os.Stat(m.paths.snapshotDBPath(newID))
	require.True(t, os.IsNotExist(err))
}
