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
	"sync"

	"github.com/cfxstorage/snapshotdb/epoch"
)

// InfoMap is the caller-supplied keyed registry of finalized snapshots
// (spec.md §3's SnapshotInfoMap). The manager never mutates it directly;
// it returns a held write lock at the successful completion of
// NewSnapshotByMerging and FinalizeFullSyncSnapshot so the caller can
// install the new entry atomically with the rename that published it.
type InfoMap struct {
	mu      sync.RWMutex
	entries map[epoch.ID]*SnapshotInfo
}

// NewInfoMap returns an empty InfoMap.
func NewInfoMap() *InfoMap {
	return &InfoMap{entries: make(map[epoch.ID]*SnapshotInfo)}
}

// Get returns the finalized info for id, if any.
func (m *InfoMap) Get(id epoch.ID) (*SnapshotInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.entries[id]
	return info, ok
}

// InfoMapWriteLock is the held write lock the manager returns to its
// caller; the caller installs the new entry via Install before calling
// Unlock, making the install atomic with respect to any reader who must
// first acquire the map's read lock to observe it.
type InfoMapWriteLock struct {
	m   *InfoMap
	did bool
}

// Install records info under id. Must be called at most once per lock.
func (l *InfoMapWriteLock) Install(id epoch.ID, info *SnapshotInfo) {
	l.m.entries[id] = info
	l.did = true
}

// Unlock releases the write lock.
func (l *InfoMapWriteLock) Unlock() {
	l.m.mu.Unlock()
}

// writeLock acquires the map's write lock and returns a handle the caller
// installs through and then unlocks. It is taken by the manager only after
// the publishing rename has completed (spec.md §4.4 step 5), so it is the
// linearization point for "the caller's install-into-map is atomic with
// the publish."
func (m *InfoMap) writeLock() *InfoMapWriteLock {
	m.mu.Lock()
	return &InfoMapWriteLock{m: m}
}
