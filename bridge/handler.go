// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package bridge

import (
	"context"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"

	"github.com/wangtaoking1/admin-bridge/protocol"
)

// Handler executes one administrative command. It runs on the goroutine
// that calls Poll, so it may touch host state freely. The result is
// marshalled into the response; an error becomes an error response.
type Handler interface {
	Handle(ctx context.Context, req *Request) (any, error)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, req *Request) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, req *Request) (any, error) {
	return f(ctx, req)
}

// Request is a command handed to a Handler.
type Request struct {
	ID         string
	Name       string
	Payload    json.RawMessage
	ReceivedAt time.Time

	bridge    *Bridge
	responder atomic.Pointer[Responder]
}

// Bind unmarshals the payload into v.
func (r *Request) Bind(v any) error {
	if len(r.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Payload, v); err != nil {
		return protocol.WrapError(err, protocol.DecodingError, "bind payload of "+r.Name)
	}

	return nil
}

// Defer detaches the response from the handler's return. The handler's
// result is ignored unless it also returns an error, and the command is
// answered through the returned Responder, from any goroutine. The pending
// timeout still applies.
func (r *Request) Defer() *Responder {
	resp := &Responder{bridge: r.bridge, id: r.ID}
	if r.responder.CompareAndSwap(nil, resp) {
		return resp
	}

	return r.responder.Load()
}

func (r *Request) deferred() bool {
	return r.responder.Load() != nil
}

// Responder completes a deferred command.
type Responder struct {
	bridge *Bridge
	id     string
}

// ID returns the id of the command.
func (r *Responder) ID() string {
	return r.id
}

// Resolve answers the command with result. It returns ErrAlreadyResolved when
// the command was already answered, timed out, or cancelled.
func (r *Responder) Resolve(result any) error {
	return r.bridge.complete(r.id, result, nil)
}

// Reject answers the command with err.
func (r *Responder) Reject(err error) error {
	if err == nil {
		err = protocol.NewError(protocol.HandlerFailure, "rejected")
	}
	return r.bridge.complete(r.id, nil, err)
}
