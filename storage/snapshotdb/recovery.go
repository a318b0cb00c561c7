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
	"os"

	"github.com/cfxstorage/snapshotdb/epoch"
)

// RecoverLatestMPTSnapshot rebuilds the single writable "latest" MPT
// database from the EAR checkpoint directory of checkpointEpoch (spec.md
// §4.6): the recovery path when a crash leaves "latest" in a state the
// caller can't trust (e.g. the checkpointed epoch recorded in the
// caller's SnapshotInfoMap as a parent doesn't match what "latest" holds
// on disk). It waits for the latest-writer permit, and returns
// ErrSnapshotBusy if the MPT registry holds any entry for "latest".
//
// When checkpointEpoch has no checkpoint directory on disk (R3: no era
// checkpoint has ever been written yet, or it was itself lost to
// corruption), it falls back to recreating an empty "latest" rather than
// failing recovery outright.
func (m *Manager) RecoverLatestMPTSnapshot(checkpointEpoch epoch.ID) error {
	checkpointPath := m.paths.mptSnapshotDBPath(checkpointEpoch)
	var haveCheckpoint bool
	switch _, err := os.Stat(checkpointPath); {
	case err == nil:
		haveCheckpoint = true
	case os.IsNotExist(err):
		haveCheckpoint = false
	default:
		return err
	}
	latestPath := m.paths.latestMPTSnapshotDBPath()

	if err := m.permits.acquireLatestMPTWriter(context.Background(), blocking); err != nil {
		return err
	}
	defer m.permits.releaseLatestMPTWriter()

	m.createDeleteMu.Lock()
	defer m.createDeleteMu.Unlock()

	res, h := m.mptRegistry.lookup(latestPath)
	if res == lookupShared {
		h.release() // drop lookup's retain(); the reader still holds its own
	}
	if res != lookupAbsent {
		return ErrSnapshotBusy
	}

	if !haveCheckpoint {
		if err := os.RemoveAll(latestPath); err != nil {
			return err
		}
		db, err := m.factory.Create(latestPath, true)
		if err != nil {
			return err
		}
		if err := db.Close(); err != nil {
			return err
		}
		m.log.Info("recreated empty latest mpt snapshot: no checkpoint found", "epoch", checkpointEpoch)
		return nil
	}

	tempPath := latestPath + ".recovering"
	m.fs.removeTempDir(tempPath)
	if _, err := m.fs.copySnapshot(checkpointPath, tempPath); err != nil {
		return err
	}
	if err := os.RemoveAll(latestPath); err != nil {
		m.fs.removeTempDir(tempPath)
		return err
	}
	if err := m.fs.rename(tempPath, latestPath); err != nil {
		return err
	}

	m.log.Info("recovered latest mpt snapshot from checkpoint", "epoch", checkpointEpoch)
	return nil
}
