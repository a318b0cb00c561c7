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
	"sync"

	"github.com/cfxstorage/snapshotdb/epoch"
	"github.com/cfxstorage/snapshotdb/internal/log"
	"github.com/cfxstorage/snapshotdb/internal/metrics"
)

// latestPointer tracks the (epoch, height) of the most recently published
// snapshot (by a merge or a full sync), the manager's in-memory substitute for "the consensus layer's
// notion of the pivot tip" (spec.md §3).
type latestPointer struct {
	mu     sync.RWMutex
	id     epoch.ID
	height uint64
	known  bool
}

func (p *latestPointer) get() (epoch.ID, uint64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.id, p.height, p.known
}

func (p *latestPointer) set(id epoch.ID, height uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.id, p.height, p.known = id, height, true
}

// Manager is the top-level entry point of this package: it owns the
// open-state registries, resource permits, filesystem operations and path
// layout that spec.md §3-§4 describe, and is the single object every engine
// (merge, full sync, recovery) is built around.
type Manager struct {
	cfg     Config
	paths   *paths
	factory SnapshotDBFactory
	fs      *fsOps

	dataRegistry *registry
	mptRegistry  *registry
	permits      *resourcePermits

	// createDeleteMu is the open_create_delete_lock of spec.md §3: a single
	// mutex spanning both the data and MPT pools, held across a registry
	// mutation plus its accompanying disk operation so the two pools never
	// observe a torn intermediate state. A public call may take it several
	// times in sequence (a merge opens its parent, the latest MPT and its
	// temp snapshot one after another) but never nested; internal helpers
	// with a "Locked" suffix assume it is already held.
	createDeleteMu sync.Mutex

	latest latestPointer
	cache  *snapshotCache

	log *log.Logger

	orphanMeter metrics.Meter
}

// New constructs a Manager rooted at cfg.SnapshotRoot, creating the
// snapshot and MPT root directories and the initial "latest" MPT database
// if absent, and sweeping for orphaned temp directories left by a prior
// crash (spec.md §4.8).
func New(cfg Config, factory SnapshotDBFactory) (*Manager, error) {
	if factory == nil {
		factory = NewLevelDBFactory()
	}
	p := newPaths(cfg.SnapshotRoot)
	if err := os.MkdirAll(p.snapshotDir(), 0755); err != nil {
		return nil, fmt.Errorf("snapshotdb: creating snapshot root: %w", err)
	}
	if err := os.MkdirAll(p.mptSnapshotDir(), 0755); err != nil {
		return nil, fmt.Errorf("snapshotdb: creating mpt root: %w", err)
	}

	m := &Manager{
		cfg:          cfg,
		paths:        p,
		factory:      factory,
		fs:           newFSOps(cfg.ForceCOW),
		dataRegistry: newRegistry("data"),
		mptRegistry:  newRegistry("mpt"),
		permits:      newResourcePermits(cfg.maxOpenSnapshots()),
		cache:        newSnapshotCache(),
		log:          log.New("component", "manager"),
		orphanMeter:  metrics.NewRegisteredMeter("snapshotdb/manager/orphans_removed"),
	}

	latestPath := p.latestMPTSnapshotDBPath()
	if _, err := os.Stat(latestPath); os.IsNotExist(err) {
		db, err := factory.Create(latestPath, true)
		if err != nil {
			return nil, fmt.Errorf("snapshotdb: creating initial latest mpt: %w", err)
		}
		if err := db.Close(); err != nil {
			return nil, err
		}
	}

	if err := m.CollectOrphans(); err != nil {
		m.log.Warn("orphan directory sweep failed", "err", err)
	}

	return m, nil
}

// GetSnapshotDir returns the directory data snapshots are stored under.
func (m *Manager) GetSnapshotDir() string { return m.paths.snapshotDir() }

// GetMPTSnapshotDir returns the directory MPT-only snapshots are stored
// under.
func (m *Manager) GetMPTSnapshotDir() string { return m.paths.mptSnapshotDir() }

// GetSnapshotDBName returns the directory name (not a full path) for id.
func (m *Manager) GetSnapshotDBName(id epoch.ID) string { return snapshotDBName(id) }

// GetLatestMPTSnapshotDBName returns the directory name of the single
// writable "latest" MPT database.
func (m *Manager) GetLatestMPTSnapshotDBName() string { return latestMPTSnapshotDBName() }

// GetSnapshotDBPath returns the full path of the canonical snapshot
// directory for id.
func (m *Manager) GetSnapshotDBPath(id epoch.ID) string { return m.paths.snapshotDBPath(id) }

// GetEpochIDFromSnapshotDBName is the inverse of GetSnapshotDBName.
func (m *Manager) GetEpochIDFromSnapshotDBName(name string) (epoch.ID, error) {
	if cached, ok := m.cache.lookupEpochID(name); ok {
		return cached, nil
	}
	id, err := epochIDFromSnapshotDBName(name)
	if err != nil {
		return epoch.ID{}, err
	}
	m.cache.storeEpochID(name, id)
	return id, nil
}

// LatestSnapshotPointer reports the (epoch, height) of the most recently
// published snapshot, and false if none has been published yet this
// process (a freshly-initialized manager with no merges applied).
func (m *Manager) LatestSnapshotPointer() (epoch.ID, uint64, bool) {
	return m.latest.get()
}

// GetSnapshotByEpochID is the public read-open entry point (spec.md §4.1).
// height must be the epoch's height (needed to decide whether its MPT
// table is inline); tryOpen selects the non-blocking RPC-driven admission
// mode over the blocking consensus-driven one; attachMPT additionally
// opens and attaches the epoch's MPT database when it isn't stored inline.
// A nil, nil return means the epoch is currently unavailable (open for
// exclusive write, or absent from disk) rather than an error.
func (m *Manager) GetSnapshotByEpochID(id epoch.ID, height uint64, tryOpen bool, attachMPT bool) (*Handle, error) {
	if id.IsNull() {
		return nullHandle(), nil
	}
	path := m.paths.snapshotDBPath(id)
	mptInline := m.cfg.MPTInlineForHeight(height)

	h, created, err := m.openReadonly(m.dataRegistry, m.permits.acquireData, m.permits.releaseData, path, tryOpen, mptInline)
	if err != nil || h == nil {
		return h, err
	}
	if created && attachMPT && !mptInline {
		mptHandle, err := m.openMPTSnapshotReadonly(id, tryOpen)
		if err != nil {
			h.Close()
			return nil, err
		}
		if mptHandle != nil {
			h.DB().UpdateMPTSnapshot(mptHandle.DB())
			if !h.core.setExtraReleaseOnce(closer(mptHandle)) {
				mptHandle.Close()
			}
		}
	}
	return h, nil
}

// openMPTSnapshotReadonly opens the MPT database for id: its own per-epoch
// checkpoint directory if one was ever taken (an EAR checkpoint), or the
// shared "latest" database when id is the current pivot tip.
func (m *Manager) openMPTSnapshotReadonly(id epoch.ID, tryOpen bool) (*Handle, error) {
	path := m.paths.mptSnapshotDBPath(id)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		latestID, _, known := m.latest.get()
		if !known || latestID != id {
			return nil, ErrMPTMissing
		}
		path = m.paths.latestMPTSnapshotDBPath()
	}
	h, _, err := m.openReadonly(m.mptRegistry, m.permits.acquireMPT, m.permits.releaseMPT, path, tryOpen, true)
	return h, err
}

// openReadonly is the shared core of the read-open path, used by both the
// data and MPT registries. It returns created=true only for the caller
// whose factory.Open call actually populated the registry entry, so that
// caller (and only that caller) may safely perform once-only follow-up
// wiring (like attaching an MPT database) without racing a concurrent
// reader of the same, already-open handle.
func (m *Manager) openReadonly(reg *registry, acquirePermit func(context.Context, acquireMode) error, releasePermit func(), path string, tryOpen bool, mptInline bool) (h *Handle, created bool, err error) {
	if res, existing := reg.lookup(path); res == lookupShared {
		return existing.newOwner(), false, nil
	} else if res == lookupExclusive {
		return nil, false, nil
	}

	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		return nil, false, nil
	}

	mode := nonBlocking
	if !tryOpen {
		mode = blocking
	}
	if err := acquirePermit(context.Background(), mode); err != nil {
		return nil, false, err
	}

	m.createDeleteMu.Lock()
	defer m.createDeleteMu.Unlock()

	res, existing := reg.acquireSharedWaiting(path)
	switch res {
	case lookupShared:
		releasePermit()
		return existing.newOwner(), false, nil
	case lookupExclusive:
		releasePermit()
		return nil, false, nil
	}

	db, err := m.factory.Open(path, true, mptInline)
	if err != nil {
		releasePermit()
		return nil, false, err
	}
	dh := &dbHandle{db: db, path: path, refs: 1, onClose: func(p string, removeOnClose bool) {
		reg.remove(p)
		releasePermit()
		if removeOnClose {
			m.fs.removeRecursiveAsync(p)
		}
	}}
	reg.insertShared(path, dh)
	return dh.newOwner(), true, nil
}

// openSnapshotWriteLocked performs the write-open of a single data
// snapshot, assuming createDeleteMu is already held. create selects
// between factory.Create (a brand-new directory) and factory.Open in
// read-write mode (an existing, typically COW-copied, directory).
func (m *Manager) openSnapshotWriteLocked(path string, create bool, newEpochHeight uint64, mptHandle *Handle) (*Handle, error) {
	if err := m.dataRegistry.installExclusive(path); err != nil {
		return nil, err
	}

	mptInline := m.cfg.MPTInlineForHeight(newEpochHeight)
	var db SnapshotDB
	var err error
	if create {
		db, err = m.factory.Create(path, mptInline)
	} else {
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			err = ErrSnapshotNotFound
		} else {
			db, err = m.factory.Open(path, false, mptInline)
			if err == nil && !mptInline {
				err = db.DropMPTTableDump()
			}
		}
	}
	if err != nil {
		m.dataRegistry.remove(path)
		return nil, err
	}
	if mptHandle != nil {
		db.UpdateMPTSnapshot(mptHandle.DB())
	}

	dh := &dbHandle{db: db, path: path, refs: 1, onClose: func(p string, removeOnClose bool) {
		m.dataRegistry.remove(p)
		if removeOnClose {
			m.fs.removeRecursiveAsync(p)
		}
	}}
	if mptHandle != nil {
		dh.extraRelease = closer(mptHandle)
	}
	return dh.newOwner(), nil
}

// openSnapshotWrite is the top-level (locking) entry point wrapping
// openSnapshotWriteLocked for callers outside this file (MergeEngine,
// FullSyncEngine) that aren't already inside a createDeleteMu critical
// section.
func (m *Manager) openSnapshotWrite(path string, create bool, newEpochHeight uint64, mptHandle *Handle) (*Handle, error) {
	m.createDeleteMu.Lock()
	defer m.createDeleteMu.Unlock()
	return m.openSnapshotWriteLocked(path, create, newEpochHeight, mptHandle)
}

// openMPTSnapshotWriteLocked is the MPT-pool counterpart of
// openSnapshotWriteLocked, also assuming createDeleteMu is held. It is the
// single path through which a writer obtains the shared "latest" MPT
// database (acquiring the capacity-one latest-writer permit) or creates a
// brand-new per-epoch MPT checkpoint (an ordinary MPT-pool open, no special
// permit).
func (m *Manager) openMPTSnapshotWriteLocked(path string, create bool, isLatest bool) (*Handle, error) {
	if isLatest {
		if err := m.permits.acquireLatestMPTWriter(context.Background(), blocking); err != nil {
			return nil, err
		}
	}
	if err := m.mptRegistry.installExclusive(path); err != nil {
		if isLatest {
			m.permits.releaseLatestMPTWriter()
		}
		return nil, err
	}

	var db SnapshotDB
	var err error
	if create {
		db, err = m.factory.Create(path, true)
	} else {
		db, err = m.factory.Open(path, false, true)
	}
	if err != nil {
		m.mptRegistry.remove(path)
		if isLatest {
			m.permits.releaseLatestMPTWriter()
		}
		return nil, err
	}

	dh := &dbHandle{db: db, path: path, refs: 1, onClose: func(p string, removeOnClose bool) {
		m.mptRegistry.remove(p)
		if isLatest {
			m.permits.releaseLatestMPTWriter()
		}
		if removeOnClose {
			m.fs.removeRecursiveAsync(p)
		}
	}}
	return dh.newOwner(), nil
}

// openMPTSnapshotWrite is the top-level (locking) entry point wrapping
// openMPTSnapshotWriteLocked, used by MergeEngine (the "latest" MPT) and
// FullSyncEngine (a staged MPT temp) before their data snapshot write-open.
func (m *Manager) openMPTSnapshotWrite(path string, create bool, isLatest bool) (*Handle, error) {
	m.createDeleteMu.Lock()
	defer m.createDeleteMu.Unlock()
	return m.openMPTSnapshotWriteLocked(path, create, isLatest)
}

// DestroySnapshot removes a data snapshot's on-disk directory, either
// immediately (if currently unopened) or by flagging its handle so the
// last owner's Close triggers the removal (spec.md §3 Lifecycle,
// destroy_snapshot). It resolves Q3: a path open for exclusive write
// returns ErrSnapshotBusy rather than panicking.
func (m *Manager) DestroySnapshot(id epoch.ID) error {
	path := m.paths.snapshotDBPath(id)

	m.createDeleteMu.Lock()
	res, h := m.dataRegistry.lookup(path)
	switch res {
	case lookupExclusive:
		m.createDeleteMu.Unlock()
		return ErrSnapshotBusy
	case lookupShared:
		h.setRemoveOnClose()
		m.createDeleteMu.Unlock()
		h.release() // drop our own retain() from lookup; the real owner(s) still hold theirs
		return nil
	}
	m.createDeleteMu.Unlock()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return ErrSnapshotNotFound
	}
	m.fs.removeRecursiveAsync(path)
	return nil
}

func nullHandle() *Handle {
	dh := &dbHandle{db: nullSnapshotDB{}, refs: 1, onClose: func(string, bool) {}}
	return dh.newOwner()
}

// closer adapts a *Handle's Close method to the zero-argument function
// shape dbHandle.extraRelease expects.
func closer(h *Handle) func() {
	return func() { h.Close() }
}
