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
	"sync/atomic"
	"time"

	"github.com/cfxstorage/snapshotdb/internal/log"
	"github.com/cfxstorage/snapshotdb/internal/metrics"
)

// drainPollInterval is the spin-wait tick of the drain-window protocol
// (spec.md §4.1): the exact 5ms the source's thread::sleep uses.
const drainPollInterval = 5 * time.Millisecond

// lookupResult is the outcome of a registry lookup.
type lookupResult int

const (
	lookupAbsent lookupResult = iota
	lookupExclusive
	lookupShared
	lookupDraining
)

// registryEntry is the sum-of-three-variants value of spec.md §3's
// Open-State Registry: exclusive is ExclusiveWriter, handle non-nil is
// SharedReaders(weak_handle), and a missing map key is the absent variant.
type registryEntry struct {
	exclusive bool
	handle    *dbHandle
}

// registry is the map path -> OpenState plus the LifecycleGate operations
// of spec.md §4.1. The manager owns two instances, one for the data pool
// and one for the MPT pool.
type registry struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items map[string]*registryEntry

	log          *log.Logger
	drainMeter   metrics.Meter
	removedMeter metrics.Meter
}

func newRegistry(name string) *registry {
	r := &registry{
		items:        make(map[string]*registryEntry),
		log:          log.New("registry", name),
		drainMeter:   metrics.NewRegisteredMeter("snapshotdb/registry/" + name + "/drain_spins"),
		removedMeter: metrics.NewRegisteredMeter("snapshotdb/registry/" + name + "/removed"),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *registry) lookupLocked(path string) (lookupResult, *dbHandle) {
	e, ok := r.items[path]
	if !ok {
		return lookupAbsent, nil
	}
	if e.exclusive {
		return lookupExclusive, nil
	}
	if e.handle.retain() {
		return lookupShared, e.handle
	}
	return lookupDraining, nil
}

// lookup is a single, non-waiting read; a draining entry is reported as
// lookupDraining rather than waited on. On lookupShared it has retained the
// handle, and the caller owns that reference and must release it.
func (r *registry) lookup(path string) (lookupResult, *dbHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookupLocked(path)
}

// acquireSharedWaiting implements the drain-window protocol of spec.md
// §4.1: when a shared entry's weak fails to upgrade, it is a transient
// state (the last owner has decremented its refcount but the destructor
// hasn't yet run) and the caller must wait rather than treat it as absent.
func (r *registry) acquireSharedWaiting(path string) (lookupResult, *dbHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		res, h := r.lookupLocked(path)
		if res != lookupDraining {
			return res, h
		}
		r.drainMeter.Mark(1)
		r.waitTickLocked()
	}
}

// waitTickLocked blocks until either a close callback broadcasts (a
// registry mutation happened) or drainPollInterval elapses, whichever
// comes first. Must be called with r.mu held; releases and reacquires it,
// matching sync.Cond.Wait semantics.
func (r *registry) waitTickLocked() {
	woke := make(chan struct{})
	timer := time.AfterFunc(drainPollInterval, func() {
		r.mu.Lock()
		select {
		case <-woke:
		default:
			r.cond.Broadcast()
		}
		r.mu.Unlock()
	})
	r.cond.Wait()
	timer.Stop()
	close(woke)
}

// installExclusive records path as ExclusiveWriter. The caller must already
// hold the manager-wide open_create_delete_lock; it fails if the key
// exists in any state.
func (r *registry) installExclusive(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[path]; ok {
		return ErrSnapshotAlreadyExists
	}
	r.items[path] = &registryEntry{exclusive: true}
	return nil
}

// downgradeToShared replaces an ExclusiveWriter entry with
// SharedReaders(weak) after write-side publication, returning the caller's
// first owned Handle over it.
func (r *registry) downgradeToShared(path string, db SnapshotDB, onClose func(path string, removeOnClose bool)) *Handle {
	h := &dbHandle{db: db, path: path, refs: 1, onClose: onClose}
	r.mu.Lock()
	r.items[path] = &registryEntry{handle: h}
	r.mu.Unlock()
	return &Handle{core: h}
}

// insertShared installs a fresh SharedReaders entry directly (used by the
// read-open path, which creates the handle with its first owner already
// attached rather than going through an exclusive phase first).
func (r *registry) insertShared(path string, h *dbHandle) {
	r.mu.Lock()
	r.items[path] = &registryEntry{handle: h}
	r.mu.Unlock()
}

// remove deletes path's entry and wakes any drain-window waiters. Called
// by a handle's destructor once the underlying database has been closed.
func (r *registry) remove(path string) {
	r.mu.Lock()
	delete(r.items, path)
	r.cond.Broadcast()
	r.mu.Unlock()
	r.removedMeter.Mark(1)
}

// dbHandle is the shared, reference-counted owner of an open SnapshotDB: it
// plays the role of the Arc in AlreadyOpenSnapshots<T>, with retain/release
// standing in for Weak::upgrade and Drop.
type dbHandle struct {
	mu            sync.Mutex
	refs          int32
	db            SnapshotDB
	path          string
	removeOnClose int32 // atomic bool
	closeOnce     sync.Once
	onClose       func(path string, removeOnClose bool)

	// extra, optional release hooks run once, after onClose, for callers
	// layering additional semaphore accounting (the MPT-handle-tied-to-
	// latest case of spec.md §4.7(iv)).
	extraRelease func()
}

// retain is the Weak::upgrade equivalent: it succeeds (and bumps the
// refcount) only while at least one owner remains.
func (h *dbHandle) retain() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.refs <= 0 {
		return false
	}
	h.refs++
	return true
}

func (h *dbHandle) release() {
	h.mu.Lock()
	h.refs--
	zero := h.refs == 0
	h.mu.Unlock()
	if !zero {
		return
	}
	h.closeOnce.Do(func() {
		removeOnClose := atomic.LoadInt32(&h.removeOnClose) != 0
		if err := h.db.Close(); err != nil {
			log.Error("error closing snapshot db", "path", h.path, "err", err)
		}
		h.onClose(h.path, removeOnClose)
		if h.extraRelease != nil {
			h.extraRelease()
		}
	})
}

// setExtraReleaseOnce installs fn as the handle's extraRelease hook unless
// one is already installed, returning whether it won the race. Used to
// attach a secondary resource (an MPT sub-handle) to a freshly-opened
// handle without two concurrent attachers clobbering each other.
func (h *dbHandle) setExtraReleaseOnce(fn func()) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.extraRelease != nil {
		return false
	}
	h.extraRelease = fn
	return true
}

// setRemoveOnClose flags the handle so that, once the last owner drops it,
// the close callback deletes the directory instead of merely releasing
// the registry entry and permit (destroy_snapshot, spec.md §3 Lifecycle).
func (h *dbHandle) setRemoveOnClose() {
	atomic.StoreInt32(&h.removeOnClose, 1)
}

// Handle is a caller-owned reference to an open snapshot database (the
// Owned<Db> of spec.md §4.1). Every Handle returned to a caller must be
// Closed exactly once; Close is idempotent.
type Handle struct {
	core   *dbHandle
	closed int32
}

// DB exposes the underlying adapter for callers that need to read or
// write through it directly.
func (h *Handle) DB() SnapshotDB { return h.core.db }

// Path is the canonical on-disk directory this handle is open against.
func (h *Handle) Path() string { return h.core.path }

// Close releases this owner's reference. The last Close for a given
// underlying database triggers the destructor contract of spec.md §4.7.
func (h *Handle) Close() error {
	if !atomic.CompareAndSwapInt32(&h.closed, 0, 1) {
		return nil
	}
	h.core.release()
	return nil
}

// newOwner returns a new Handle sharing the same underlying dbHandle. It
// does not bump the refcount itself: it is used for a freshly created
// handle's first owner, or after a lookup's retain() already bumped it.
func (h *dbHandle) newOwner() *Handle {
	return &Handle{core: h}
}
