// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package bridge

import (
	"sync"
	"time"

	"github.com/wangtaoking1/admin-bridge/protocol"
)

// pendingEntry tracks one command between dispatch and the moment its
// response is accepted by the outbound queue.
type pendingEntry struct {
	id          string
	name        string
	submittedAt time.Time
	epoch       uint64
	// lost is set when the connection the command arrived on went down.
	lost bool
	// response holds an answer the outbound queue did not accept yet.
	response *protocol.Envelope
	// final marks a synthetic answer that must not be replaced again.
	final bool
}

// pendingTable maps command ids to in-flight commands. Whoever takes an
// entry out owns the single response for that id.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
	closed  bool
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: map[string]*pendingEntry{}}
}

// add registers e. It fails for a duplicate id or a closed table.
func (t *pendingTable) add(e *pendingEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrStopped
	}
	if _, ok := t.entries[e.id]; ok {
		return errDuplicateCommand
	}
	t.entries[e.id] = e

	return nil
}

// take removes and returns the entry for id, or nil.
func (t *pendingTable) take(id string) *pendingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return nil
	}
	delete(t.entries, id)

	return e
}

// restore puts back an entry whose response could not be queued.
func (t *pendingTable) restore(e *pendingEntry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}
	if _, ok := t.entries[e.id]; ok {
		return false
	}
	t.entries[e.id] = e

	return true
}

// markLost flags every entry that arrived on epoch or earlier.
func (t *pendingTable) markLost(epoch uint64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, e := range t.entries {
		if e.epoch <= epoch && !e.lost {
			e.lost = true
			n++
		}
	}

	return n
}

// expired removes and returns entries older than timeout that have not been
// given a final answer yet.
func (t *pendingTable) expired(now time.Time, timeout time.Duration) []*pendingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*pendingEntry
	for id, e := range t.entries {
		if e.final || now.Sub(e.submittedAt) < timeout {
			continue
		}
		delete(t.entries, id)
		out = append(out, e)
	}

	return out
}

// undelivered removes and returns entries holding an answer to retry.
func (t *pendingTable) undelivered() []*pendingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*pendingEntry
	for id, e := range t.entries {
		if e.response == nil {
			continue
		}
		delete(t.entries, id)
		out = append(out, e)
	}

	return out
}

// drain closes the table and returns what was left in it.
func (t *pendingTable) drain() []*pendingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	out := make([]*pendingEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	t.entries = map[string]*pendingEntry{}

	return out
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.entries)
}
