// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package queue

import (
	"sync"
	"time"

	"github.com/wangtaoking1/admin-bridge/log"
	"github.com/wangtaoking1/admin-bridge/protocol"
)

// Inbound is an unbounded FIFO between the connection reader and the host
// loop. It never drops; a backlog above the high watermark is reported once
// per crossing.
type Inbound struct {
	mu            sync.Mutex
	items         []Item
	head          int
	highWatermark int
	alarmed       bool
}

// NewInbound returns an empty inbound queue. A non-positive watermark
// disables backlog alarms.
func NewInbound(highWatermark int) *Inbound {
	return &Inbound{highWatermark: highWatermark}
}

// Push appends env received on connection epoch.
func (q *Inbound) Push(env *protocol.Envelope, epoch uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, Item{Env: env, Epoch: epoch, EnqueuedAt: time.Now()})

	n := len(q.items) - q.head
	if q.highWatermark > 0 && n > q.highWatermark && !q.alarmed {
		q.alarmed = true
		log.Errorw("Inbound backlog exceeds high watermark, host loop is not keeping up",
			"length", n, "watermark", q.highWatermark)
	}
}

// PopBatch removes and returns up to max items in arrival order.
func (q *Inbound) PopBatch(max int) []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items) - q.head
	if n == 0 || max <= 0 {
		return nil
	}
	if n > max {
		n = max
	}

	batch := make([]Item, n)
	copy(batch, q.items[q.head:q.head+n])
	for i := q.head; i < q.head+n; i++ {
		q.items[i] = Item{}
	}
	q.head += n
	q.compact()

	return batch
}

// Drain removes and returns every queued item.
func (q *Inbound) Drain() []Item {
	return q.PopBatch(q.Len())
}

// Len returns the number of queued items.
func (q *Inbound) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items) - q.head
}

func (q *Inbound) compact() {
	remaining := len(q.items) - q.head
	if remaining == 0 {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > len(q.items)/2 {
		q.items = append(q.items[:0], q.items[q.head:]...)
		q.head = 0
	}
	if q.alarmed && remaining <= q.highWatermark/2 {
		q.alarmed = false
	}
}
