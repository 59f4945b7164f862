// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package queue

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wangtaoking1/admin-bridge/protocol"
)

func command(id string) *protocol.Envelope {
	return protocol.NewCommand(id, "server.ping", nil)
}

func TestInbound_FIFO(t *testing.T) {
	q := NewInbound(0)
	q.Push(command("A"), 1)
	q.Push(command("B"), 1)
	q.Push(command("C"), 2)

	batch := q.PopBatch(2)
	assert.Len(t, batch, 2)
	assert.Equal(t, "A", batch[0].Env.ID)
	assert.Equal(t, "B", batch[1].Env.ID)
	assert.Equal(t, uint64(1), batch[0].Epoch)

	batch = q.PopBatch(10)
	assert.Len(t, batch, 1)
	assert.Equal(t, "C", batch[0].Env.ID)
	assert.Equal(t, uint64(2), batch[0].Epoch)
	assert.Nil(t, q.PopBatch(10))
}

func TestInbound_BatchBound(t *testing.T) {
	q := NewInbound(10)
	for i := 0; i < 100; i++ {
		q.Push(command(fmt.Sprint(i)), 1)
	}

	assert.Len(t, q.PopBatch(64), 64)
	assert.Equal(t, 36, q.Len())

	rest := q.Drain()
	assert.Len(t, rest, 36)
	assert.Equal(t, "64", rest[0].Env.ID)
	assert.Equal(t, 0, q.Len())
}

func TestInbound_ConcurrentProducers(t *testing.T) {
	q := NewInbound(0)
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				q.Push(command(fmt.Sprintf("%d-%d", p, i)), uint64(p))
			}
		}(p)
	}
	wg.Wait()

	last := map[uint64]int{}
	for _, it := range q.Drain() {
		var p uint64
		var i int
		_, err := fmt.Sscanf(it.Env.ID, "%d-%d", &p, &i)
		assert.NoError(t, err)
		if prev, ok := last[p]; ok {
			assert.Greater(t, i, prev)
		}
		last[p] = i
	}
	assert.Len(t, last, 4)
}
