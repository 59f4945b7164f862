// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangtaoking1/admin-bridge/protocol"
)

func TestPendingTable(t *testing.T) {
	tbl := newPendingTable()
	now := time.Now()

	require.NoError(t, tbl.add(&pendingEntry{id: "a", submittedAt: now, epoch: 1}))
	require.NoError(t, tbl.add(&pendingEntry{id: "b", submittedAt: now.Add(-time.Minute), epoch: 2}))
	assert.ErrorIs(t, tbl.add(&pendingEntry{id: "a"}), errDuplicateCommand)
	assert.Equal(t, 2, tbl.len())

	assert.Equal(t, 1, tbl.markLost(1))
	assert.Equal(t, 0, tbl.markLost(1))

	expired := tbl.expired(now, 30*time.Second)
	require.Len(t, expired, 1)
	assert.Equal(t, "b", expired[0].id)
	assert.False(t, expired[0].lost)

	a := tbl.take("a")
	require.NotNil(t, a)
	assert.True(t, a.lost)
	assert.Nil(t, tbl.take("a"))
}

func TestPendingTable_Undelivered(t *testing.T) {
	tbl := newPendingTable()
	env := protocol.NewErrorResponse("x", protocol.NewError(protocol.Timeout, "late"))

	require.True(t, tbl.restore(&pendingEntry{id: "x", response: env, final: true, submittedAt: time.Now().Add(-time.Hour)}))
	assert.False(t, tbl.restore(&pendingEntry{id: "x"}))
	require.NoError(t, tbl.add(&pendingEntry{id: "y"}))

	// Final entries never expire again.
	assert.Empty(t, tbl.expired(time.Now(), time.Second))

	got := tbl.undelivered()
	require.Len(t, got, 1)
	assert.Equal(t, env, got[0].response)
	assert.Equal(t, 1, tbl.len())
}

func TestPendingTable_Drain(t *testing.T) {
	tbl := newPendingTable()
	require.NoError(t, tbl.add(&pendingEntry{id: "a"}))
	require.NoError(t, tbl.add(&pendingEntry{id: "b"}))

	assert.Len(t, tbl.drain(), 2)
	assert.Equal(t, 0, tbl.len())
	assert.ErrorIs(t, tbl.add(&pendingEntry{id: "c"}), ErrStopped)
	assert.False(t, tbl.restore(&pendingEntry{id: "c"}))
	assert.Empty(t, tbl.drain())
}
