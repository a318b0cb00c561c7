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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResourcePermitsTryAcquireFailsWhenExhausted(t *testing.T) {
	p := newResourcePermits(1)
	require.NoError(t, p.acquireData(context.Background(), nonBlocking))
	err := p.acquireData(context.Background(), nonBlocking)
	require.ErrorIs(t, err, ErrTryAcquire)
	p.releaseData()
	require.NoError(t, p.acquireData(context.Background(), nonBlocking))
}

func TestResourcePermitsBlockingWaitsForRelease(t *testing.T) {
	p := newResourcePermits(1)
	require.NoError(t, p.acquireData(context.Background(), blocking))

	done := make(chan struct{})
	go func() {
		require.NoError(t, p.acquireData(context.Background(), blocking))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("blocking acquire returned before the only permit was released")
	case <-time.After(50 * time.Millisecond):
	}

	p.releaseData()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocking acquire never unblocked after release")
	}
	p.releaseData()
}

func TestResourcePermitsIndependentPools(t *testing.T) {
	p := newResourcePermits(1)
	require.NoError(t, p.acquireData(context.Background(), nonBlocking))
	// The MPT pool is a distinct semaphore; exhausting data opens must not
	// affect it.
	require.NoError(t, p.acquireMPT(context.Background(), nonBlocking))
	p.releaseData()
	p.releaseMPT()
}

func TestLatestMPTWriterIsCapacityOne(t *testing.T) {
	p := newResourcePermits(4)
	require.NoError(t, p.acquireLatestMPTWriter(context.Background(), nonBlocking))
	err := p.acquireLatestMPTWriter(context.Background(), nonBlocking)
	require.ErrorIs(t, err, ErrTryAcquire)
	p.releaseLatestMPTWriter()
	require.NoError(t, p.acquireLatestMPTWriter(context.Background(), nonBlocking))
}
