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

	mapset "github.com/deckarep/golang-set"
)

// CollectOrphans sweeps the snapshot and MPT roots for temp directories
// left behind by a merge or full-sync import that crashed before its
// publishing rename (SPEC_FULL.md §4.8; Q1 generalized from a single
// failed call to a startup-wide sweep). It computes the orphan set as the
// set-difference between everything currently on disk and everything the
// manager already knows is live (open in a registry, which at startup is
// always empty, but the computation is written generally so a future
// caller invoking it mid-run stays correct).
func (m *Manager) CollectOrphans() error {
	if err := m.sweepDir(m.paths.snapshotDir(), m.dataRegistry); err != nil {
		return err
	}
	return m.sweepDir(m.paths.mptSnapshotDir(), m.mptRegistry)
}

func (m *Manager) sweepDir(root string, reg *registry) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	onDisk := mapset.NewThreadUnsafeSet()
	for _, e := range entries {
		if e.IsDir() {
			onDisk.Add(e.Name())
		}
	}

	live := mapset.NewThreadUnsafeSet()
	for _, name := range onDisk.ToSlice() {
		path := filepath.Join(root, name.(string))
		res, h := reg.lookup(path)
		if res == lookupShared {
			h.release() // only presence matters; drop lookup's retain()
		}
		if res != lookupAbsent {
			live.Add(name)
		}
	}

	orphaned := onDisk.Difference(live)
	for name := range orphaned.Iter() {
		dirName := name.(string)
		if !isMergeTempSnapshotDBPath(dirName) && !isFullSyncTempSnapshotDBPath(dirName) {
			continue
		}
		path := filepath.Join(root, dirName)
		m.log.Info("removing orphaned temp snapshot directory", "path", path)
		if err := os.RemoveAll(path); err != nil {
			m.log.Error("failed to remove orphaned temp directory", "path", path, "err", err)
			continue
		}
		m.orphanMeter.Mark(1)
	}
	return nil
}
