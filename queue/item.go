// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package queue holds the two handoff queues of the bridge: the inbound FIFO
// drained by the host loop and the bounded outbound queue drained by the
// connection writer.
package queue

import (
	"container/list"
	"time"

	"github.com/wangtaoking1/admin-bridge/errors"
	"github.com/wangtaoking1/admin-bridge/protocol"
)

var (
	// ErrQueueFull is returned when an item can not be accepted in time.
	ErrQueueFull = errors.New("queue is full")
	// ErrClosed is returned by a closed queue.
	ErrClosed = errors.New("queue is closed")
)

// AnyEpoch marks an item deliverable on whatever connection is live.
const AnyEpoch uint64 = 0

// Item is an envelope together with its queue bookkeeping.
type Item struct {
	Env *protocol.Envelope
	// Epoch is the connection the item belongs to.
	Epoch      uint64
	EnqueuedAt time.Time
	// Lost is set once a response has been replaced by a ConnectionLost
	// response. Lost items no longer age out.
	Lost bool

	elem *list.Element
}

// Deliverable reports whether the item may be written on connection epoch.
func (it *Item) Deliverable(epoch uint64) bool {
	return it.Epoch == AnyEpoch || it.Epoch == epoch
}

func (it *Item) isResponse() bool {
	return it.Env != nil && it.Env.Type == protocol.TypeResponse
}
