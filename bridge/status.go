// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package bridge

import (
	"github.com/wangtaoking1/admin-bridge/websocket"
)

// Status is a point-in-time view of the bridge.
type Status struct {
	State      string   `json:"state"`
	Epoch      uint64   `json:"epoch"`
	Reconnects int64    `json:"reconnects"`
	Inbound    int      `json:"inbound"`
	Outbound   int      `json:"outbound"`
	Pending    int      `json:"pending"`
	Handlers   []string `json:"handlers"`
	Stopping   bool     `json:"stopping"`
}

// Status returns the current status.
func (b *Bridge) Status() Status {
	st := Status{
		State:    websocket.StateDisconnected.String(),
		Inbound:  b.inbound.Len(),
		Outbound: b.outbound.Len(),
		Pending:  b.pending.len(),
		Stopping: b.stopping.Load(),
	}
	if c := b.client.Load(); c != nil {
		st.State = c.State().String()
		st.Epoch = c.LiveEpoch()
		st.Reconnects = c.Reconnects()
	}

	b.mu.Lock()
	st.Handlers = b.handlerNames()
	b.mu.Unlock()

	return st
}
