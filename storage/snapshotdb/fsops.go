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
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/cfxstorage/snapshotdb/internal/log"
	"github.com/cfxstorage/snapshotdb/internal/metrics"
)

// cowResult is the outcome of an attempted copy-on-write directory clone.
type cowResult int

const (
	cowYes cowResult = iota
	cowNo
	cowErr
)

// fsOps is the platform-aware filesystem layer of spec.md §4.3.
type fsOps struct {
	forceCOW bool
	log      *log.Logger

	cowOKMeter     metrics.Meter
	cowFailedMeter metrics.Meter
	removeMeter    metrics.Meter
}

func newFSOps(forceCOW bool) *fsOps {
	return &fsOps{
		forceCOW:       forceCOW,
		log:            log.New("component", "fsops"),
		cowOKMeter:     metrics.NewRegisteredMeter("snapshotdb/fsops/cow/ok"),
		cowFailedMeter: metrics.NewRegisteredMeter("snapshotdb/fsops/cow/failed"),
		removeMeter:    metrics.NewRegisteredMeter("snapshotdb/fsops/removed"),
	}
}

// tryCOWCopy issues a reflink-capable recursive copy, exactly as the
// source does: "cp -R --reflink=always" on Linux (XFS/btrfs), "cp -R -c"
// on macOS (APFS), cowNo on any other platform. A failed attempt removes
// the partial destination.
func (f *fsOps) tryCOWCopy(src, dst string) (cowResult, error) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("cp", "-R", "--reflink=always", src, dst)
	case "darwin":
		cmd = exec.Command("cp", "-R", "-c", src, dst)
	default:
		return cowNo, nil
	}

	if err := cmd.Run(); err != nil {
		os.RemoveAll(dst)
		f.cowFailedMeter.Mark(1)
		if f.forceCOW {
			f.log.Error("cow copy failed, check filesystem support", "cmd", cmd.String(), "err", err)
			return cowErr, ErrSnapshotCOWCreation
		}
		f.log.Info("cow copy failed, falling back to byte copy", "cmd", cmd.String(), "err", err)
		return cowNo, nil
	}
	f.cowOKMeter.Mark(1)
	return cowYes, nil
}

// copyRecursive is the byte-wise fallback used when COW isn't available.
func (f *fsOps) copyRecursive(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, dst, info.Mode())
	}
	if err := os.MkdirAll(dst, info.Mode()); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		s := filepath.Join(src, entry.Name())
		d := filepath.Join(dst, entry.Name())
		if entry.IsDir() {
			if err := f.copyRecursive(s, d); err != nil {
				return err
			}
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		if err := copyFile(s, d, info.Mode()); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// copySnapshot performs a whole-directory COW copy, falling back to the
// byte-wise copy on any platform/failure where force_cow is not set. It
// returns whether the COW path was taken. Used for EAR checkpoint
// duplication and recovery, where the destination has no separate
// database of its own to merge into (unlike a merge's COW-failure
// fallback, which uses CopyAndMerge against an open parent handle
// instead of duplicating bytes).
func (f *fsOps) copySnapshot(src, dst string) (cow bool, err error) {
	res, err := f.tryCOWCopy(src, dst)
	if err != nil {
		return false, err
	}
	if res == cowYes {
		return true, nil
	}
	if err := f.copyRecursive(src, dst); err != nil {
		os.RemoveAll(dst)
		f.log.Warn("byte-wise copy failed", "src", src, "dst", dst, "err", err)
		return false, ErrSnapshotCopyFailure
	}
	return false, nil
}

// rename is the atomic publish step; src and dst must be on the same
// filesystem.
func (f *fsOps) rename(src, dst string) error {
	return os.Rename(src, dst)
}

// removeRecursiveAsync removes path in a background goroutine so that
// destructors never block the calling thread. Errors are logged, never
// propagated, matching fs_remove_snapshot's thread::spawn.
func (f *fsOps) removeRecursiveAsync(path string) {
	go func() {
		if err := os.RemoveAll(path); err != nil {
			f.log.Error("remove snapshot failed", "path", path, "err", err)
			return
		}
		f.removeMeter.Mark(1)
		f.log.Debug("finished removing snapshot", "path", path)
	}()
}

// removeTempDir cleans up a temp directory created (but not yet renamed)
// by a failed merge or full-sync operation (Q1: "remove any temp directory
// the engine created but did not rename"). Unlike removeRecursiveAsync it
// runs synchronously; a removal failure is logged, not returned, since it
// runs on the error path of a call that is already about to return an
// error to its caller.
func (f *fsOps) removeTempDir(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return
	}
	if err := os.RemoveAll(path); err != nil {
		f.log.Error("failed to clean up temp directory after error", "path", path, "err", err)
	}
}

// defragmentXFS launches a background "xfs_fsr -v" pass over every file in
// dir, the probabilistic post-COW-merge defragmentation of spec.md §4.3
// (Q2: unexplained 1/16 trigger, kept as-is, safe to omit without changing
// correctness).
func (f *fsOps) defragmentXFS(dir string) {
	go func() {
		entries, err := os.ReadDir(dir)
		if err != nil {
			f.log.Error("defragmenting xfs files: readdir failed", "dir", dir, "err", err)
			return
		}
		var files []string
		for _, e := range entries {
			if !e.IsDir() {
				files = append(files, filepath.Join(dir, e.Name()))
			}
		}
		if len(files) == 0 {
			return
		}
		args := append([]string{"-v"}, files...)
		cmd := exec.Command("xfs_fsr", args...)
		if err := cmd.Run(); err != nil {
			f.log.Error("defragmenting xfs files failed", "cmd", cmd.String(), "err", err)
			return
		}
		f.log.Info("defragmenting xfs files succeeded", "dir", dir)
	}()
}

// shouldDefragment reports whether a just-merged epoch qualifies for the
// probabilistic XFS defragmentation pass: Linux, the merge took the COW
// path, and the epoch id's low nibble is zero (1/16 of epochs).
func shouldDefragment(cow bool, lowByte byte) bool {
	return runtime.GOOS == "linux" && cow && lowByte&0x0f == 0
}
