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

import "errors"

var (
	// ErrSnapshotAlreadyExists is returned when a create/write-open call
	// targets a path the registry already holds an entry for.
	ErrSnapshotAlreadyExists = errors.New("snapshotdb: snapshot already exists")

	// ErrSnapshotNotFound is returned when a write-open or destroy call
	// targets a path with no directory on disk.
	ErrSnapshotNotFound = errors.New("snapshotdb: snapshot not found")

	// ErrTryAcquire is returned by a non-blocking open that would have
	// blocked on a resource permit.
	ErrTryAcquire = errors.New("snapshotdb: semaphore try-acquire would block")

	// ErrSnapshotCOWCreation is returned when force_cow is enabled and a
	// COW copy is unavailable or failed.
	ErrSnapshotCOWCreation = errors.New("snapshotdb: cow copy unavailable or failed")

	// ErrSnapshotCopyFailure is returned when the byte-wise copy fallback
	// fails.
	ErrSnapshotCopyFailure = errors.New("snapshotdb: byte-wise copy failed")

	// ErrMPTMissing is returned on a read path that needs an MPT source
	// and finds neither a per-epoch checkpoint nor the latest MPT.
	ErrMPTMissing = errors.New("snapshotdb: mpt snapshot missing")

	// ErrSnapshotBusy is returned by destroy when the target path is open
	// for exclusive write. The source calls this case unreachable; this
	// repo resolves Q3 by returning a distinct error instead.
	ErrSnapshotBusy = errors.New("snapshotdb: snapshot is open for exclusive write")

	errBadSnapshotDBName = errors.New("snapshotdb: malformed snapshot db name")
)
