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
	"fmt"

	"github.com/cfxstorage/snapshotdb/epoch"
)

// NewSnapshotByMerging is the consensus-driven publish path (spec.md §4.4):
// given the already-finalized parent epoch and the delta between it and
// the new epoch, it stages a new snapshot database, merges in the parent's
// state, computes the new merkle root, and atomically publishes the
// result under its canonical name.
//
// It follows the parent's lead on whether to attempt a copy-on-write
// clone: genesis (parentID == epoch.Null) always creates a fresh database
// and merges the deltas directly; every other merge first tries a COW
// clone of the parent and falls back to CopyAndMerge (reading the parent
// byte-for-byte) when COW isn't available or fails and ForceCOW is unset.
//
// On success it returns the new SnapshotInfo and a write lock already
// held on infoMap; the caller installs the entry and releases the lock,
// making the install atomic with respect to any reader that must acquire
// the map's read lock to see it (spec.md §4.4 step 5).
func (m *Manager) NewSnapshotByMerging(parentID epoch.ID, parentHeight uint64, newID epoch.ID, newHeight uint64, deltas DeltaIterator, infoMap *InfoMap) (info *SnapshotInfo, lock *InfoMapWriteLock, err error) {
	newMPTInline := m.cfg.MPTInlineForHeight(newHeight)
	tempPath := m.paths.mergeTempDBPath(parentID, newID)

	var parentHandle *Handle
	if !parentID.IsNull() {
		parentHandle, err = m.GetSnapshotByEpochID(parentID, parentHeight, false, false)
		if err != nil {
			return nil, nil, fmt.Errorf("snapshotdb: opening parent snapshot: %w", err)
		}
		if parentHandle == nil {
			return nil, nil, ErrSnapshotNotFound
		}
		defer parentHandle.Close()
	}

	var cow bool
	var createFresh bool
	if parentID.IsNull() {
		createFresh = true
	} else {
		// Try a COW clone of the parent directly into the temp path; on
		// failure (or no COW-capable platform), fall back to creating an
		// empty database and merging the parent's content into it
		// algorithmically via CopyAndMerge, rather than a slower
		// whole-directory byte copy.
		res, cowErr := m.fs.tryCOWCopy(m.paths.snapshotDBPath(parentID), tempPath)
		if cowErr != nil {
			return nil, nil, cowErr
		}
		cow = res == cowYes
		createFresh = !cow
	}

	var mptTempHandle *Handle
	if !newMPTInline {
		mptTempHandle, err = m.openLatestMPTForMerge()
		if err != nil {
			m.fs.removeTempDir(tempPath)
			return nil, nil, err
		}
	}

	tempHandle, err := m.openSnapshotWrite(tempPath, createFresh, newHeight, mptTempHandle)
	if err != nil {
		m.fs.removeTempDir(tempPath)
		if mptTempHandle != nil {
			mptTempHandle.Close()
		}
		return nil, nil, err
	}

	if cow && !newMPTInline {
		// A COW clone carries over the parent's inline MPT table dump;
		// it must be dropped before dumping this epoch's own delta.
		if err := tempHandle.DB().DropMPTTableDump(); err != nil {
			tempHandle.Close()
			m.fs.removeTempDir(tempPath)
			return nil, nil, err
		}
	}

	if createFresh && !parentID.IsNull() {
		// The COW-failure fallback: the temp database started empty, so
		// the parent's content has to be copied in algorithmically,
		// before the new epoch's own delta is applied on top (so the
		// delta's values win on any overlapping key).
		if _, err := tempHandle.DB().CopyAndMerge(parentHandle.DB()); err != nil {
			tempHandle.Close()
			m.fs.removeTempDir(tempPath)
			return nil, nil, err
		}
	}

	if err := tempHandle.DB().DumpDelta(deltas); err != nil {
		tempHandle.Close()
		m.fs.removeTempDir(tempPath)
		return nil, nil, err
	}

	var mptSource SnapshotDB
	if mptTempHandle != nil {
		mptSource = mptTempHandle.DB()
	}
	root, err := tempHandle.DB().DirectMerge(mptSource)
	if err != nil {
		tempHandle.Close()
		m.fs.removeTempDir(tempPath)
		return nil, nil, err
	}

	// Step 5: close the temp snapshot (releasing its exclusive registry
	// entry and, if attached, the latest MPT write handle with its
	// latest-writer permit), then rename into place -- the sole
	// linearization point after which the new epoch becomes observable to
	// a fresh GetSnapshotByEpochID call.
	if err := tempHandle.Close(); err != nil {
		m.fs.removeTempDir(tempPath)
		return nil, nil, err
	}

	finalPath := m.paths.snapshotDBPath(newID)
	if err := m.fs.rename(tempPath, finalPath); err != nil {
		m.fs.removeTempDir(tempPath)
		return nil, nil, err
	}

	if m.cfg.isEraCheckpoint(newHeight) && !newMPTInline {
		if err := m.checkpointLatestMPT(newID); err != nil {
			m.log.Error("era checkpoint copy failed", "epoch", newID, "err", err)
		}
	}

	if shouldDefragment(cow, newID[epoch.IDLength-1]) {
		m.fs.defragmentXFS(finalPath)
	}

	m.latest.set(newID, newHeight)
	m.cache.storeRoot(newID, root)

	info = &SnapshotInfo{
		Height:        newHeight,
		MerkleRoot:    root,
		ParentEpochID: parentID,
		ParentHeight:  parentHeight,
	}
	return info, infoMap.writeLock(), nil
}

// openLatestMPTForMerge acquires a write handle on the shared "latest" MPT
// database for a merge that needs to mutate it (the MPT table isn't
// inline at this height).
func (m *Manager) openLatestMPTForMerge() (*Handle, error) {
	return m.openMPTSnapshotWrite(m.paths.latestMPTSnapshotDBPath(), false, true)
}

// checkpointLatestMPT duplicates the "latest" MPT database into a
// per-epoch checkpoint directory at an EAR boundary (spec.md §5's
// MPTInlineForHeight / era_epoch_count), so a later read of this epoch
// doesn't depend on "latest" having not moved on.
func (m *Manager) checkpointLatestMPT(id epoch.ID) error {
	src := m.paths.latestMPTSnapshotDBPath()
	dst := m.paths.mptSnapshotDBPath(id)
	_, err := m.fs.copySnapshot(src, dst)
	return err
}
