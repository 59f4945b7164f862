// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package websocket

import "github.com/wangtaoking1/admin-bridge/protocol"

// Dispatcher receives every decoded inbound envelope other than heartbeat
// acknowledgments, together with the epoch of the connection it arrived on.
// Dispatch runs on the reader goroutine and must not block.
type Dispatcher interface {
	Dispatch(env *protocol.Envelope, epoch uint64)
}

// DispatchFunc adapts a function to a Dispatcher.
type DispatchFunc func(env *protocol.Envelope, epoch uint64)

func (f DispatchFunc) Dispatch(env *protocol.Envelope, epoch uint64) {
	f(env, epoch)
}

// StateListener is told about every state transition. It is called with the
// client's state lock held and must not call back into the Client.
type StateListener func(from, to State, epoch uint64)
