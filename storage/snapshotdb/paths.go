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

	"github.com/cfxstorage/snapshotdb/epoch"
)

const (
	dbDirPrefix        = "sqlite_"
	mergeTempInfix     = "merge_temp_"
	fullSyncTempInfix  = "full_sync_temp_"
	latestMPTDirSuffix = "latest"
	mptRootDirName     = "mpt_snapshot"
)

// MerkleRoot is the opaque 32-byte root produced by the external MPT/merkle
// collaborator. Its algorithm is out of scope; the manager only threads the
// value through path naming and SnapshotInfo.
type MerkleRoot [32]byte

func (r MerkleRoot) Hex() string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(r)*2)
	for i, b := range r {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}

// snapshotDBName returns the directory name (not the full path) of the
// canonical data/MPT snapshot for an epoch, e.g. "sqlite_01ab..".
func snapshotDBName(id epoch.ID) string {
	return dbDirPrefix + id.Hex()
}

// latestMPTSnapshotDBName returns the directory name of the single
// writable "latest" MPT database.
func latestMPTSnapshotDBName() string {
	return dbDirPrefix + latestMPTDirSuffix
}

// mergeTempDBName returns the directory name used to stage a merge from
// old to new before the atomic rename that publishes it.
func mergeTempDBName(oldID, newID epoch.ID) string {
	return dbDirPrefix + mergeTempInfix + oldID.Hex() + newID.Hex()
}

// mergeTempMPTDBName is the parallel staging name under the MPT root; it is
// keyed only by the new epoch because the MPT merge always starts from
// "latest", not from a named old snapshot.
func mergeTempMPTDBName(newID epoch.ID) string {
	return dbDirPrefix + mergeTempInfix + newID.Hex()
}

// fullSyncTempDBName returns the directory name used to stage a full-sync
// import, keyed by both epoch and merkle root so that concurrent imports of
// distinct candidate roots for the same epoch can't collide.
func fullSyncTempDBName(id epoch.ID, root MerkleRoot) string {
	return dbDirPrefix + fullSyncTempInfix + id.Hex() + root.Hex()
}

// paths bundles the directory-naming surface the manager exposes, scoped to
// one (snapshot_root, mpt_root) pair.
type paths struct {
	snapshotRoot string
	mptRoot      string
}

func newPaths(snapshotRoot string) *paths {
	snapshotRoot = filepath.Clean(snapshotRoot)
	return &paths{
		snapshotRoot: snapshotRoot,
		mptRoot:      filepath.Join(filepath.Dir(snapshotRoot), mptRootDirName),
	}
}

func (p *paths) snapshotDir() string    { return p.snapshotRoot }
func (p *paths) mptSnapshotDir() string { return p.mptRoot }

func (p *paths) snapshotDBPath(id epoch.ID) string {
	return filepath.Join(p.snapshotRoot, snapshotDBName(id))
}

func (p *paths) mptSnapshotDBPath(id epoch.ID) string {
	return filepath.Join(p.mptRoot, snapshotDBName(id))
}

func (p *paths) latestMPTSnapshotDBPath() string {
	return filepath.Join(p.mptRoot, latestMPTSnapshotDBName())
}

func (p *paths) mergeTempDBPath(oldID, newID epoch.ID) string {
	return filepath.Join(p.snapshotRoot, mergeTempDBName(oldID, newID))
}

func (p *paths) mergeTempMPTDBPath(newID epoch.ID) string {
	return filepath.Join(p.mptRoot, mergeTempMPTDBName(newID))
}

func (p *paths) fullSyncTempDBPath(id epoch.ID, root MerkleRoot) string {
	return filepath.Join(p.snapshotRoot, fullSyncTempDBName(id, root))
}

func (p *paths) fullSyncTempMPTDBPath(id epoch.ID, root MerkleRoot) string {
	return filepath.Join(p.mptRoot, fullSyncTempDBName(id, root))
}

// epochIDFromSnapshotDBName is the inverse of snapshotDBName: it fails on a
// missing prefix or malformed hex suffix.
func epochIDFromSnapshotDBName(name string) (epoch.ID, error) {
	if !strings.HasPrefix(name, dbDirPrefix) {
		return epoch.ID{}, errBadSnapshotDBName
	}
	return epoch.FromHex(name[len(dbDirPrefix):])
}

// isMergeTempSnapshotDBPath matches the source's is_merge_temp_snapshot_db_path.
func isMergeTempSnapshotDBPath(dirName string) bool {
	return strings.HasPrefix(dirName, dbDirPrefix+mergeTempInfix)
}

// isFullSyncTempSnapshotDBPath recognizes a staged full-sync import
// directory. The original source's is_temp_snapshot_db_path only ever
// delegated to the merge-temp check; this repo additionally recognizes
// full-sync temp names for its own orphan GC sweep (SPEC_FULL §4.8),
// documented as a supplement in DESIGN.md rather than changing the public
// IsTempSnapshotDBPath predicate's externally-observed behavior.
func isFullSyncTempSnapshotDBPath(dirName string) bool {
	return strings.HasPrefix(dirName, dbDirPrefix+fullSyncTempInfix)
}

// ParseSnapshotDBName is the package-level counterpart of
// Manager.GetEpochIDFromSnapshotDBName, usable by callers (like sdmctl)
// that only need the naming convention, not a running manager.
func ParseSnapshotDBName(name string) (epoch.ID, error) {
	return epochIDFromSnapshotDBName(name)
}

// IsTempSnapshotDBPath is the package-level temp-name predicate, matching
// the source exactly: a temp path is one staged by a merge. It does not
// recognize full-sync temp names; CollectOrphans checks both patterns
// itself rather than calling this.
func IsTempSnapshotDBPath(dirName string) bool {
	return isMergeTempSnapshotDBPath(dirName)
}
