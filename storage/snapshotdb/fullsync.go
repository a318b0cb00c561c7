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
	"context"
	"fmt"
	"os"

	"github.com/cfxstorage/snapshotdb/epoch"
)

// NewTempSnapshotForFullSync stages a brand-new database for a network
// full-sync import (spec.md §4.5): unlike a merge, it has no parent to
// clone from, so it always creates fresh, and is keyed by both epoch and
// the expected merkle root so concurrent imports of competing candidate
// roots for the same epoch can't collide on the same temp directory.
//
// The caller streams arbitrary key/value state into the returned data
// handle (typically via DumpDelta with a SliceDeltaIterator or a custom
// DeltaIterator reading off the wire) and then calls
// FinalizeFullSyncSnapshot. mptHandle is nil when the epoch's MPT table is
// inline; otherwise it is a second, independently staged temp database
// the caller must also stream into, and must pass back unchanged to
// Finalize.
func (m *Manager) NewTempSnapshotForFullSync(id epoch.ID, height uint64, expectedRoot MerkleRoot) (dataHandle *Handle, mptHandle *Handle, err error) {
	mptInline := m.cfg.MPTInlineForHeight(height)
	tempPath := m.paths.fullSyncTempDBPath(id, expectedRoot)

	if !mptInline {
		mptTempPath := m.paths.fullSyncTempMPTDBPath(id, expectedRoot)
		mptHandle, err = m.openMPTSnapshotWrite(mptTempPath, true, false)
		if err != nil {
			return nil, nil, err
		}
	}

	dataHandle, err = m.openSnapshotWrite(tempPath, true, height, mptHandle)
	if err != nil {
		m.fs.removeTempDir(tempPath)
		if mptHandle != nil {
			mptHandle.Close()
		}
		return nil, nil, err
	}
	return dataHandle, mptHandle, nil
}

// FinalizeFullSyncSnapshot verifies the staged import's computed merkle
// root matches what the caller asked to sync to, publishes it under its
// canonical name on success, and otherwise tears the temp directories
// down without publishing anything (a root mismatch means the imported
// state is corrupt or the wrong candidate, never a partial-but-usable
// result).
func (m *Manager) FinalizeFullSyncSnapshot(dataHandle *Handle, mptHandle *Handle, id epoch.ID, height uint64, expectedRoot MerkleRoot, parentID epoch.ID, parentHeight uint64, infoMap *InfoMap) (info *SnapshotInfo, lock *InfoMapWriteLock, err error) {
	tempPath := dataHandle.Path()
	var mptTempPath string
	if mptHandle != nil {
		mptTempPath = mptHandle.Path()
	}
	abortTemp := func() {
		dataHandle.Close()
		m.fs.removeTempDir(tempPath)
		if mptHandle != nil {
			mptHandle.Close()
			m.fs.removeTempDir(mptTempPath)
		}
	}

	var mptSource SnapshotDB
	if mptHandle != nil {
		mptSource = mptHandle.DB()
	}
	root, err := dataHandle.DB().DirectMerge(mptSource)
	if err != nil {
		abortTemp()
		return nil, nil, err
	}
	if root != expectedRoot {
		abortTemp()
		return nil, nil, fmt.Errorf("snapshotdb: full sync root mismatch for epoch %s: computed %s, expected %s", id, root.Hex(), expectedRoot.Hex())
	}

	if err := dataHandle.Close(); err != nil {
		m.fs.removeTempDir(tempPath)
		if mptHandle != nil {
			mptHandle.Close()
			m.fs.removeTempDir(mptTempPath)
		}
		return nil, nil, err
	}

	finalPath := m.paths.snapshotDBPath(id)
	if err := m.fs.rename(tempPath, finalPath); err != nil {
		m.fs.removeTempDir(tempPath)
		if mptHandle != nil {
			mptHandle.Close()
			m.fs.removeTempDir(mptTempPath)
		}
		return nil, nil, err
	}

	// The data snapshot is now published; from here on, any failure in the
	// MPT side is logged rather than rolled back, matching the merge
	// path's treatment of its own post-publish EAR checkpoint (the data
	// snapshot's publication, not the MPT bookkeeping around it, is the
	// operation's true commit point).
	newMPTInline := m.cfg.MPTInlineForHeight(height)
	if mptHandle != nil {
		if err := m.publishFullSyncMPT(mptHandle); err != nil {
			m.log.Error("publishing full sync mpt snapshot failed", "epoch", id, "err", err)
		}
	}

	if m.cfg.isEraCheckpoint(height) && !newMPTInline {
		if err := m.checkpointLatestMPT(id); err != nil {
			m.log.Error("era checkpoint copy failed after full sync", "epoch", id, "err", err)
		}
	}

	m.latest.set(id, height)
	m.cache.storeRoot(id, root)

	info = &SnapshotInfo{
		Height:        height,
		MerkleRoot:    root,
		ParentEpochID: parentID,
		ParentHeight:  parentHeight,
	}
	return info, infoMap.writeLock(), nil
}

// publishFullSyncMPT replaces the shared "latest" MPT database with the
// just-verified isolated MPT temp directory staged by
// NewTempSnapshotForFullSync: remove the old "latest", rename the temp
// directory into its place (snapshot_db_manager_sqlite.rs:1111-1134),
// so a later EAR checkpoint of "latest" picks up this epoch's own MPT
// content rather than its predecessor's (I6).
func (m *Manager) publishFullSyncMPT(mptHandle *Handle) error {
	tempPath := mptHandle.Path()
	if err := mptHandle.Close(); err != nil {
		m.fs.removeTempDir(tempPath)
		return err
	}

	if err := m.permits.acquireLatestMPTWriter(context.Background(), blocking); err != nil {
		m.fs.removeTempDir(tempPath)
		return err
	}
	defer m.permits.releaseLatestMPTWriter()

	m.createDeleteMu.Lock()
	defer m.createDeleteMu.Unlock()

	latestPath := m.paths.latestMPTSnapshotDBPath()
	res, h := m.mptRegistry.lookup(latestPath)
	if res == lookupShared {
		h.release() // drop lookup's retain(); the reader still holds its own
	}
	if res != lookupAbsent {
		m.fs.removeTempDir(tempPath)
		return ErrSnapshotBusy
	}

	if err := os.RemoveAll(latestPath); err != nil {
		m.fs.removeTempDir(tempPath)
		return err
	}
	return m.fs.rename(tempPath, latestPath)
}
