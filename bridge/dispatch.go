// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package bridge

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/wangtaoking1/admin-bridge/errors"
	"github.com/wangtaoking1/admin-bridge/log"
	"github.com/wangtaoking1/admin-bridge/protocol"
	"github.com/wangtaoking1/admin-bridge/queue"
)

// Poll handles at most one batch of queued inbound envelopes and returns how
// many it took. It must be called from the host loop, never concurrently,
// and does not block on the network.
func (b *Bridge) Poll() int {
	if !b.polling.CompareAndSwap(false, true) {
		log.Warn("Poll is already running on another goroutine")
		return 0
	}
	defer b.polling.Store(false)

	items := b.inbound.PopBatch(b.opts.BatchSize)
	for _, it := range items {
		b.dispatch(it)
	}
	b.metrics.inbound.Set(float64(b.inbound.Len()))

	return len(items)
}

func (b *Bridge) dispatch(it queue.Item) {
	env := it.Env
	switch env.Type {
	case protocol.TypeCommand:
		b.handleCommand(it)
	case protocol.TypeHeartbeat:
		if err := b.outbound.PushFront(protocol.NewHeartbeatAck(env.ID), it.Epoch); err != nil {
			log.Warnw("Can not queue heartbeat ack", "id", env.ID, "error", err)
		}
	default:
		log.Debugw("Discard unexpected inbound envelope", "type", env.Type, "raw_type", env.RawType, "id", env.ID)
	}
}

func (b *Bridge) handleCommand(it queue.Item) {
	env := it.Env
	if b.stopping.Load() {
		b.reply(env.ID, protocol.NewError(protocol.Shutdown, "bridge is shutting down"))
		return
	}
	if it.Epoch != b.liveEpoch() {
		// The connection it came from is gone; the control plane already
		// considers it lost, so it is not executed.
		b.reply(env.ID, protocol.NewError(protocol.ConnectionLost, "command arrived on a closed connection"))
		return
	}

	h, ok := b.handlers[env.Name]
	if !ok {
		log.Debugw("No handler for command", "id", env.ID, "command", env.Name)
		b.reply(env.ID, protocol.NewError(protocol.UnknownCommand, "no handler for command %q", env.Name))
		return
	}

	entry := &pendingEntry{
		id:          env.ID,
		name:        env.Name,
		submittedAt: time.Now(),
		epoch:       it.Epoch,
	}
	if err := b.pending.add(entry); err != nil {
		if errors.Is(err, errDuplicateCommand) {
			log.Warnw("Discard duplicate command", "id", env.ID, "command", env.Name)
			return
		}
		b.reply(env.ID, protocol.NewError(protocol.Shutdown, "bridge is shutting down"))
		return
	}

	req := &Request{
		ID:         env.ID,
		Name:       env.Name,
		Payload:    env.Payload,
		ReceivedAt: it.EnqueuedAt,
		bridge:     b,
	}
	ctx := log.WithContext(b.ctx, "command_id", env.ID, "command", env.Name)
	result, err := b.invoke(ctx, h, req)
	if err == nil && req.deferred() {
		return
	}
	if cerr := b.complete(env.ID, result, err); cerr != nil {
		log.Debugw("Command answered elsewhere", "id", env.ID, "error", cerr)
	}
}

// invoke runs the handler and converts a panic into a HandlerFailure.
func (b *Bridge) invoke(ctx context.Context, h Handler, req *Request) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.From(ctx).Errorw("Command handler panic", "panic", r, "stack", string(debug.Stack()))
			result = nil
			err = protocol.NewError(protocol.HandlerFailure, "handler panic: %v", r)
		}
	}()

	return h.Handle(ctx, req)
}

// complete publishes the single response for id. Only the caller that takes
// the pending entry gets to answer.
func (b *Bridge) complete(id string, result any, err error) error {
	entry := b.pending.take(id)
	if entry == nil {
		return ErrAlreadyResolved
	}

	var env *protocol.Envelope
	switch {
	case entry.lost:
		env = protocol.NewErrorResponse(id,
			protocol.NewError(protocol.ConnectionLost, "connection lost while %q was running", entry.name))
		entry.final = true
	case err != nil:
		code := protocol.CodeOf(err)
		if code == protocol.HandlerFailure {
			log.Errorw("Command failed", "id", id, "command", entry.name, "error", err)
		} else {
			log.Infow("Command rejected", "id", id, "command", entry.name, "code", code, "error", err)
		}
		env = protocol.NewErrorResponse(id, err)
	default:
		var rerr error
		env, rerr = protocol.NewResponse(id, result)
		if rerr != nil {
			log.Errorw("Encode command result failed", "id", id, "command", entry.name, "error", rerr)
			env = protocol.NewErrorResponse(id, rerr)
		}
	}
	b.deliver(entry, env)

	return nil
}

// deliver queues env for entry, parking it in the pending table for a retry
// by the sweeper when the outbound queue is full.
func (b *Bridge) deliver(entry *pendingEntry, env *protocol.Envelope) {
	if err := b.outbound.Push(env, queue.AnyEpoch, 0); err != nil {
		entry.response = env
		if !b.pending.restore(entry) {
			log.Errorw("Response dropped, bridge is stopping", "id", entry.id, "error", err)
			return
		}
		log.Warnw("Response parked until the outbound queue has room", "id", entry.id, "error", err)
		return
	}
	b.metrics.observe(protocol.ResponseCode(env))
	b.metrics.outbound.Set(float64(b.outbound.Len()))
}

// reply answers a command that never entered the pending table.
func (b *Bridge) reply(id string, err *protocol.Error) {
	entry := &pendingEntry{id: id, submittedAt: time.Now(), final: true}
	b.deliver(entry, protocol.NewErrorResponse(id, err))
}

// Pending returns the number of commands waiting for an answer.
func (b *Bridge) Pending() int {
	return b.pending.len()
}
