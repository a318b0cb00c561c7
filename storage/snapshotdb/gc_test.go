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
)

func TestCollectOrphansRemovesTempDirsOnly(t *testing.T) {
	m := newTestManager(t)

	liveID := testEpochID(t, 0x40)
	require.NoError(t, os.MkdirAll(m.paths.snapshotDBPath(liveID), 0755))

	orphanMerge := m.paths.mergeTempDBPath(testEpochID(t, 0x41), testEpochID(t, 0x42))
	require.NoError(t, os.MkdirAll(orphanMerge, 0755))

	orphanFullSync := m.paths.fullSyncTempDBPath(testEpochID(t, 0x43), MerkleRoot{0x01})
	require.NoError(t, os.MkdirAll(orphanFullSync, 0755))

	unrelated := filepath.Join(m.paths.snapshotDir(), "not_a_snapshot_dir")
	require.NoError(t, os.MkdirAll(unrelated, 0755))

	require.NoError(t, m.CollectOrphans())

	_, err := os.Stat(m.paths.snapshotDBPath(liveID))
	require.NoError(t, err, "a canonical snapshot directory must survive the sweep")

	_, err = os.Stat(orphanMerge)
	require.True(t, os.IsNotExist(err), "an orphaned merge-temp directory must be removed")

	_, err = os.Stat(orphanFullSync)
	require.True(t, os.IsNotExist(err), "an orphaned full-sync-temp directory must be removed")

	_, err = os.Stat(unrelated)
	require.NoError(t, err, "a directory matching neither temp pattern is left alone even though it's not registered as live")
}

func TestCollectOrphansSparesLiveTempDir(t *testing.T) {
	m := newTestManager(t)

	parentID := testEpochID(t, 0x44)
	newID := testEpochID(t, 0x45)
	tempPath := m.paths.mergeTempDBPath(parentID, newID)

	wh, err := m.openSnapshotWrite(tempPath, true, 10, nil)
	require.NoError(t, err)

	require.NoError(t, m.CollectOrphans())

	_, err = os.Stat(tempPath)
	require.NoError(t, err, "a merge-temp directory currently held open must not be swept")

	require.NoError(t, wh.Close())
}

func TestCollectOrphansOnAbsentRootsIsNoop(t *testing.T) {
	root := filepath.Join(t.TempDir(), "snapshots")
	m, err := New(Config{SnapshotRoot: root, MaxOpenSnapshots: 4}, fakeFactory{})
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(m.paths.mptSnapshotDir()))
	require.NoError(t, m.CollectOrphans())
}
