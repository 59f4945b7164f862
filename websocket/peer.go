// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package websocket

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/wangtaoking1/admin-bridge/errors"
	"github.com/wangtaoking1/admin-bridge/log"
	"github.com/wangtaoking1/admin-bridge/protocol"
	"github.com/wangtaoking1/admin-bridge/queue"
)

// peer serves one established connection.
type peer struct {
	client *Client
	conn   *websocket.Conn
	epoch  uint64

	readerDone chan struct{}
}

func newPeer(client *Client, conn *websocket.Conn, epoch uint64) *peer {
	return &peer{
		client:     client,
		conn:       conn,
		epoch:      epoch,
		readerDone: make(chan struct{}),
	}
}

// Run blocks until the connection fails or ctx is done. Cancelling ctx starts
// the close handshake.
func (p *peer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(p.readerDone)
		return p.readLoop()
	})
	g.Go(func() error {
		return p.writeLoop(gctx)
	})
	g.Go(func() error {
		return p.heartbeatLoop(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			p.close()
		}
		return p.conn.Close()
	})

	return g.Wait()
}

// close sends a close frame and waits for the peer to answer within the
// close grace period.
func (p *peer) close() {
	p.client.setState(StateClosing)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown")
	deadline := time.Now().Add(p.client.opts.WriteTimeout)
	if err := p.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		log.Warnw("Write close frame failed", "epoch", p.epoch, "error", err)
		return
	}

	select {
	case <-p.readerDone:
	case <-time.After(p.client.opts.CloseGrace):
		log.Warnw("Close handshake not answered in time, closing anyway", "epoch", p.epoch)
	}
}

func (p *peer) readLoop() error {
	for {
		messageType, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return protocol.WrapError(err, protocol.ConnectionError, "closed by control plane")
			}
			return protocol.WrapError(err, protocol.ConnectionError, "read frame")
		}
		if messageType != websocket.TextMessage {
			log.Debugw("Ignore non-text frame", "type", messageType, "epoch", p.epoch)
			continue
		}

		env, err := p.client.codec.Decode(data)
		if err != nil {
			log.Warnw("Discard undecodable frame", "epoch", p.epoch, "size", len(data), "error", err)
			continue
		}
		if protocol.IsHeartbeatAck(env) {
			p.client.ackHeartbeat(env.ID)
			continue
		}
		p.dispatch(env)
	}
}

func (p *peer) dispatch(env *protocol.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("Dispatch inbound envelope panic", "id", env.ID, "type", env.Type, "panic", r)
		}
	}()

	p.client.dispatcher.Dispatch(env, p.epoch)
}

func (p *peer) writeLoop(ctx context.Context) error {
	out := p.client.outbound
	for {
		it, err := out.Next(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				<-ctx.Done()
				return nil
			}
			return err
		}
		if !it.Deliverable(p.epoch) {
			log.Debugw("Skip envelope of a previous connection", "id", it.Env.ID, "type", it.Env.Type,
				"item_epoch", it.Epoch, "epoch", p.epoch)
			out.Ack(it)
			continue
		}

		data, err := p.client.codec.Encode(it.Env)
		if err != nil {
			log.Errorw("Drop unencodable outbound envelope", "id", it.Env.ID, "type", it.Env.Type, "error", err)
			out.Ack(it)
			continue
		}
		_ = p.conn.SetWriteDeadline(time.Now().Add(p.client.opts.WriteTimeout))
		if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return protocol.WrapError(err, protocol.ConnectionError, "write frame")
		}
		out.Ack(it)
	}
}

func (p *peer) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.client.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			due, err := p.client.heartbeatDue(now)
			if err != nil {
				return protocol.WrapError(err, protocol.ConnectionError, "heartbeat")
			}
			if due {
				p.sendHeartbeat(now)
			}
		}
	}
}

// sendHeartbeat marks a new heartbeat outstanding and queues it ahead of
// other frames. The mark comes first since the ack may be read before
// PushFront returns. An unqueued heartbeat still counts so a stuck writer
// eventually trips the timeout.
func (p *peer) sendHeartbeat(now time.Time) {
	hb := protocol.NewHeartbeat()
	p.client.heartbeatSent(hb.ID, now)
	if err := p.client.outbound.PushFront(hb, p.epoch); err != nil {
		log.Warnw("Queue heartbeat failed", "epoch", p.epoch, "error", err)
	}
}
