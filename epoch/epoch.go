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

// Package epoch defines the opaque epoch identifier the snapshot database
// manager keys snapshots by.
package epoch

import (
	"encoding/hex"
	"errors"
)

// IDLength is the byte length of an epoch identifier.
const IDLength = 32

// ID is a 32-byte opaque hash identifying a consensus epoch.
type ID [IDLength]byte

// Null is the sentinel identifier meaning "before the first snapshot". It
// never participates in on-disk naming: callers that resolve Null receive a
// synthetic empty snapshot handle instead of a path lookup.
var Null = ID{}

// IsNull reports whether id is the sentinel NULL_EPOCH.
func (id ID) IsNull() bool {
	return id == Null
}

// Hex encodes id as lowercase hex, the same representation used in
// directory names.
func (id ID) Hex() string {
	return hex.EncodeToString(id[:])
}

func (id ID) String() string {
	return id.Hex()
}

// errBadLength is returned when a hex string doesn't decode to exactly
// IDLength bytes.
var errBadLength = errors.New("epoch: hex string is not 32 bytes")

// FromHex parses a lowercase or uppercase hex string into an ID. It is the
// exact inverse of Hex: FromHex(id.Hex()) == id for every id.
func FromHex(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	if len(b) != IDLength {
		return id, errBadLength
	}
	copy(id[:], b)
	return id, nil
}
