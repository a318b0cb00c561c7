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

// Package metrics provides the minimal Meter/Counter registry the manager
// uses to track opens, drain-wait spins, COW outcomes and background
// removals. It mirrors the shape of github.com/ethereum/go-ethereum/metrics
// (metrics.NewRegisteredMeter, Meter.Mark) used throughout the teacher
// (e.g. core/rawdb/freezer_table.go's readMeter/writeMeter), without
// depending on that sibling-module package.
package metrics

import "sync/atomic"

// Meter tracks a monotonically increasing count of events.
type Meter interface {
	Mark(n int64)
	Count() int64
}

type meter struct {
	count int64
}

func (m *meter) Mark(n int64) { atomic.AddInt64(&m.count, n) }
func (m *meter) Count() int64 { return atomic.LoadInt64(&m.count) }

// Counter is an alias kept for call sites that read more naturally with a
// plain counter than a rate meter; both share the same implementation.
type Counter = Meter

var registry = struct {
	m map[string]Meter
}{m: make(map[string]Meter)}

// NewRegisteredMeter creates a Meter and registers it under name. Re-registering
// the same name returns the existing meter, matching the teacher's
// metrics.NewRegisteredMeter idempotence.
func NewRegisteredMeter(name string) Meter {
	if existing, ok := registry.m[name]; ok {
		return existing
	}
	m := &meter{}
	registry.m[name] = m
	return m
}

// Get returns the meter registered under name, or nil.
func Get(name string) Meter {
	return registry.m[name]
}
