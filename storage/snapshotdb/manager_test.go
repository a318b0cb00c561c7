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
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cfxstorage/snapshotdb/epoch"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	root := filepath.Join(t.TempDir(), "snapshots")
	m, err := New(Config{SnapshotRoot: root, MaxOpenSnapshots: 4}, fakeFactory{})
	require.NoError(t, err)
	return m
}

func testEpochID(t *testing.T, b byte) epoch.ID {
	t.Helper()
	id, err := epoch.FromHex(strings.Repeat(string([]byte{hexDigit(b >> 4), hexDigit(b & 0x0f)}), 32))
	require.NoError(t, err)
	return id
}

func hexDigit(n byte) byte {
	const table = "0123456789abcdef"
	return table[n]
}

func TestGetSnapshotByEpochIDNull(t *testing.T) {
	m := newTestManager(t)
	h, err := m.GetSnapshotByEpochID(epoch.Null, 0, false, false)
	require.NoError(t, err)
	require.NotNil(t, h)
	require.NoError(t, h.Close())
}

func TestGetSnapshotByEpochIDAbsent(t *testing.T) {
	m := newTestManager(t)
	id := testEpochID(t, 0xab)
	h, err := m.GetSnapshotByEpochID(id, 10, true, false)
	require.NoError(t, err)
	require.Nil(t, h)
}

func TestGetSnapshotByEpochIDSharedAcrossCallers(t *testing.T) {
	m := newTestManager(t)
	id := testEpochID(t, 0x01)
	path := m.paths.snapshotDBPath(id)
	h1, err := m.openSnapshotWrite(path, true, 10, nil)
	require.NoError(t, err)
	require.NoError(t, h1.Close())

	// The write-path's handle is closed, releasing the exclusive entry;
	// the directory is now on disk and readable.
	h2, err := m.GetSnapshotByEpochID(id, 10, true, false)
	require.NoError(t, err)
	require.NotNil(t, h2)

	h3, err := m.GetSnapshotByEpochID(id, 10, true, false)
	require.NoError(t, err)
	require.NotNil(t, h3)
	require.Same(t, h2.core, h3.core)

	require.NoError(t, h2.Close())
	require.NoError(t, h3.Close())
}

func TestGetSnapshotByEpochIDExclusiveBlocksReaders(t *testing.T) {
	m := newTestManager(t)
	id := testEpochID(t, 0x02)
	path := m.paths.snapshotDBPath(id)

	wh, err := m.openSnapshotWrite(path, true, 10, nil)
	require.NoError(t, err)

	h, err := m.GetSnapshotByEpochID(id, 10, true, false)
	require.NoError(t, err)
	require.Nil(t, h) // open for exclusive write: unavailable, not an error

	require.NoError(t, wh.Close())
}

func TestDestroySnapshotNotFound(t *testing.T) {
	m := newTestManager(t)
	id := testEpochID(t, 0x03)
	err := m.DestroySnapshot(id)
	require.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestDestroySnapshotBusyWhileExclusive(t *testing.T) {
	m := newTestManager(t)
	id := testEpochID(t, 0x04)
	path := m.paths.snapshotDBPath(id)

	wh, err := m.openSnapshotWrite(path, true, 10, nil)
	require.NoError(t, err)

	err = m.DestroySnapshot(id)
	require.ErrorIs(t, err, ErrSnapshotBusy)

	require.NoError(t, wh.Close())
}

func TestDoubleWriteOpenRejected(t *testing.T) {
	m := newTestManager(t)
	id := testEpochID(t, 0x05)
	path := m.paths.snapshotDBPath(id)

	wh, err := m.openSnapshotWrite(path, true, 10, nil)
	require.NoError(t, err)

	_, err = m.openSnapshotWrite(path, true, 10, nil)
	require.ErrorIs(t, err, ErrSnapshotAlreadyExists)

	require.NoError(t, wh.Close())
}
