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

func TestCopyRecursive(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")

	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("hello"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "b.txt"), []byte("world"), 0644))

	f := newFSOps(false)
	require.NoError(t, f.copyRecursive(src, dst))

	got, err := os.ReadFile(filepath.Join(dst, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))

	got, err = os.ReadFile(filepath.Join(dst, "sub", "b.txt"))
	require.NoError(t, err)
	require.Equal(t, "world", string(got))
}

func TestRemoveTempDirNoopWhenMissing(t *testing.T) {
	f := newFSOps(false)
	// Must not panic or error out on a path that was never created.
	f.removeTempDir(filepath.Join(t.TempDir(), "never-existed"))
}

func TestRemoveTempDirRemovesExisting(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "temp")
	require.NoError(t, os.MkdirAll(target, 0755))

	f := newFSOps(false)
	f.removeTempDir(target)

	_, err := os.Stat(target)
	require.True(t, os.IsNotExist(err))
}

func TestCopySnapshotFallsBackWithoutForceCOW(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.MkdirAll(src, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "f"), []byte("x"), 0644))

	f := newFSOps(false)
	_, err := f.copySnapshot(src, dst)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(dst, "f"))
	require.NoError(t, err)
	require.Equal(t, "x", string(got))
}

func TestShouldDefragmentOnlyOneInSixteen(t *testing.T) {
	require.False(t, shouldDefragment(false, 0x00)) // no COW, never
	require.False(t, shouldDefragment(true, 0x01))   // wrong low nibble
}
