// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package queue

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/wangtaoking1/admin-bridge/log"
	"github.com/wangtaoking1/admin-bridge/protocol"
)

// Outbound is a bounded queue of envelopes waiting for the wire. Any
// goroutine may push; a single writer consumes with Next and Ack.
type Outbound struct {
	mu       sync.Mutex
	items    *list.List
	capacity int
	maxAge   time.Duration
	closed   bool

	// ready and space are closed and replaced to wake every waiter.
	ready chan struct{}
	space chan struct{}
}

// ExpireResult reports what an Expire pass did.
type ExpireResult struct {
	Dropped int
	Lost    []string
}

// NewOutbound returns an outbound queue holding at most capacity items.
// Items older than maxAge are subject to Expire; zero disables aging.
func NewOutbound(capacity int, maxAge time.Duration) *Outbound {
	if capacity <= 0 {
		capacity = 1
	}
	return &Outbound{
		items:    list.New(),
		capacity: capacity,
		maxAge:   maxAge,
		ready:    make(chan struct{}),
		space:    make(chan struct{}),
	}
}

// Push appends env for connection epoch, waiting up to wait for room. When
// the queue is still full a response evicts the oldest non-response item;
// anything else is rejected with ErrQueueFull.
func (q *Outbound) Push(env *protocol.Envelope, epoch uint64, wait time.Duration) error {
	it := &Item{Env: env, Epoch: epoch}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		if q.items.Len() < q.capacity {
			q.pushBackLocked(it)
			q.mu.Unlock()
			return nil
		}
		space := q.space
		q.mu.Unlock()

		if wait <= 0 {
			break
		}
		if timer == nil {
			timer = time.NewTimer(wait)
		}
		select {
		case <-space:
			continue
		case <-timer.C:
		}
		break
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if q.items.Len() < q.capacity {
		q.pushBackLocked(it)
		return nil
	}
	if !it.isResponse() {
		return ErrQueueFull
	}
	for e := q.items.Front(); e != nil; e = e.Next() {
		victim := e.Value.(*Item)
		if victim.isResponse() {
			continue
		}
		q.items.Remove(e)
		log.Warnw("Outbound queue full, evicted item for a response",
			"evicted_type", victim.Env.Type, "evicted_id", victim.Env.ID, "response_id", env.ID)
		q.pushBackLocked(it)
		return nil
	}
	log.Errorw("Outbound queue is full of undelivered responses, rejecting response",
		"response_id", env.ID, "capacity", q.capacity)

	return ErrQueueFull
}

// PushFront puts env at the head of the queue without waiting.
func (q *Outbound) PushFront(env *protocol.Envelope, epoch uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if q.items.Len() >= q.capacity {
		return ErrQueueFull
	}
	it := &Item{Env: env, Epoch: epoch, EnqueuedAt: time.Now()}
	it.elem = q.items.PushFront(it)
	q.wakeReadyLocked()

	return nil
}

func (q *Outbound) pushBackLocked(it *Item) {
	it.EnqueuedAt = time.Now()
	it.elem = q.items.PushBack(it)
	q.wakeReadyLocked()
}

func (q *Outbound) wakeReadyLocked() {
	close(q.ready)
	q.ready = make(chan struct{})
}

func (q *Outbound) wakeSpaceLocked() {
	close(q.space)
	q.space = make(chan struct{})
}

// Next blocks until an item is queued and returns a snapshot of the head
// without removing it. Call Ack once the item has been written.
func (q *Outbound) Next(ctx context.Context) (Item, error) {
	for {
		q.mu.Lock()
		if q.closed && q.items.Len() == 0 {
			q.mu.Unlock()
			return Item{}, ErrClosed
		}
		if e := q.items.Front(); e != nil {
			it := *e.Value.(*Item)
			q.mu.Unlock()
			return it, nil
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Item{}, ctx.Err()
		case <-ready:
		}
	}
}

// Ack removes an item returned by Next. Items already evicted or expired are
// ignored.
func (q *Outbound) Ack(it Item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if it.elem == nil {
		return
	}
	before := q.items.Len()
	q.items.Remove(it.elem)
	if q.items.Len() < before {
		q.wakeSpaceLocked()
	}
}

// Expire ages out items older than the max age. It is meant to run only while
// no connection is live. Events and heartbeats are dropped; responses are
// replaced in place by a ConnectionLost response for the same id.
func (q *Outbound) Expire(now time.Time) ExpireResult {
	var res ExpireResult
	if q.maxAge <= 0 {
		return res
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for e := q.items.Front(); e != nil; {
		next := e.Next()
		it := e.Value.(*Item)
		if it.Lost || now.Sub(it.EnqueuedAt) < q.maxAge {
			e = next
			continue
		}
		if it.isResponse() {
			it.Env = protocol.NewErrorResponse(it.Env.ID,
				protocol.NewError(protocol.ConnectionLost, "response aged out while disconnected"))
			it.Epoch = AnyEpoch
			it.Lost = true
			res.Lost = append(res.Lost, it.Env.ID)
		} else {
			q.items.Remove(e)
			res.Dropped++
		}
		e = next
	}
	if res.Dropped > 0 {
		q.wakeSpaceLocked()
	}

	return res
}

// Len returns the number of queued items.
func (q *Outbound) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.items.Len()
}

// Close rejects further pushes. Queued items stay readable through Next.
func (q *Outbound) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.wakeReadyLocked()
	q.wakeSpaceLocked()
}
