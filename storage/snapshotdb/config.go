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

// Config holds the construction-time parameters recognized by Manager.
type Config struct {
	// SnapshotRoot is the base directory data snapshots are stored under.
	// It is created if absent. The MPT root is always its sibling
	// directory "mpt_snapshot".
	SnapshotRoot string

	// MaxOpenSnapshots bounds concurrent opens, independently, for the
	// data-snapshot pool and the MPT-snapshot pool.
	MaxOpenSnapshots uint16

	// UseIsolatedDBForMPTTable splits the MPT table into its own database
	// rather than storing it inline with the data snapshot.
	UseIsolatedDBForMPTTable bool

	// UseIsolatedDBForMPTTableHeight, when set, keeps the MPT table inline
	// for any epoch below this height regardless of
	// UseIsolatedDBForMPTTable.
	UseIsolatedDBForMPTTableHeight *uint64

	// EraEpochCount is the checkpoint period: every height that is a
	// multiple of this duplicates the latest MPT into a per-epoch
	// directory (an EAR checkpoint).
	EraEpochCount uint64

	// ForceCOW escalates a COW-copy failure on a recognized platform from
	// a silent fallback to a fatal error.
	ForceCOW bool
}

func (c *Config) eraEpochCount() uint64 {
	if c.EraEpochCount == 0 {
		return 1
	}
	return c.EraEpochCount
}

// MPTInlineForHeight reports whether the MPT table should live inline with
// the data snapshot for a snapshot taken at the given height. This is the
// exact decision function of the source's
// is_mpt_table_in_current_db_for_epoch:
//   - isolation disabled entirely -> always inline
//   - isolation enabled with no configured cutover height -> never inline
//   - isolation enabled with a cutover height -> inline strictly below it
func (c *Config) MPTInlineForHeight(height uint64) bool {
	if !c.UseIsolatedDBForMPTTable {
		return true
	}
	if c.UseIsolatedDBForMPTTableHeight == nil {
		return false
	}
	return height < *c.UseIsolatedDBForMPTTableHeight
}

// isEraCheckpoint reports whether height lands on an EAR checkpoint
// boundary.
func (c *Config) isEraCheckpoint(height uint64) bool {
	return height%c.eraEpochCount() == 0
}

func (c *Config) maxOpenSnapshots() int64 {
	if c.MaxOpenSnapshots == 0 {
		return 1
	}
	return int64(c.MaxOpenSnapshots)
}
