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
	lru "github.com/hashicorp/golang-lru"
	"github.com/VictoriaMetrics/fastcache"

	"github.com/cfxstorage/snapshotdb/epoch"
)

const (
	epochNameCacheSize = 4096
	rootCacheBytes     = 8 * 1024 * 1024
)

// snapshotCache holds the two small hot-path caches a manager keeps beside
// its registries: a bounded LRU translating a snapshot directory name back
// to its epoch.ID (consulted by Manager.GetEpochIDFromSnapshotDBName), and a
// fastcache of merkle roots keyed by epoch id, filled when a merge or full
// sync publishes. No exported accessor reads the root cache back.
type snapshotCache struct {
	epochIDs *lru.Cache
	roots    *fastcache.Cache
}

func newSnapshotCache() *snapshotCache {
	epochIDs, err := lru.New(epochNameCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// epochNameCacheSize never is.
		panic(err)
	}
	return &snapshotCache{
		epochIDs: epochIDs,
		roots:    fastcache.New(rootCacheBytes),
	}
}

func (c *snapshotCache) lookupEpochID(name string) (epoch.ID, bool) {
	v, ok := c.epochIDs.Get(name)
	if !ok {
		return epoch.ID{}, false
	}
	return v.(epoch.ID), true
}

func (c *snapshotCache) storeEpochID(name string, id epoch.ID) {
	c.epochIDs.Add(name, id)
}

func (c *snapshotCache) lookupRoot(id epoch.ID) (MerkleRoot, bool) {
	buf, ok := c.roots.HasGet(nil, id[:])
	if !ok {
		return MerkleRoot{}, false
	}
	var root MerkleRoot
	copy(root[:], buf)
	return root, true
}

func (c *snapshotCache) storeRoot(id epoch.ID, root MerkleRoot) {
	c.roots.Set(id[:], root[:])
}
