// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package bridge

import (
	"context"
	"time"

	"github.com/wangtaoking1/admin-bridge/log"
	"github.com/wangtaoking1/admin-bridge/protocol"
)

func (b *Bridge) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(b.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			b.sweep(now)
		}
	}
}

// sweep resolves expired commands, retries parked responses and ages out
// the outbound queue while disconnected.
func (b *Bridge) sweep(now time.Time) {
	for _, e := range b.pending.expired(now, b.opts.PendingTimeout) {
		code := protocol.Timeout
		if e.lost {
			code = protocol.ConnectionLost
		}
		log.Warnw("Command not answered in time", "id", e.id, "command", e.name, "code", code,
			"age", now.Sub(e.submittedAt))
		e.final = true
		b.deliver(e, protocol.NewErrorResponse(e.id,
			protocol.NewError(code, "command %q not answered within %v", e.name, b.opts.PendingTimeout)))
	}

	for _, e := range b.pending.undelivered() {
		env := e.response
		e.response = nil
		b.deliver(e, env)
	}

	if b.liveEpoch() == 0 {
		if res := b.outbound.Expire(now); res.Dropped > 0 || len(res.Lost) > 0 {
			log.Warnw("Outbound envelopes aged out while disconnected",
				"dropped", res.Dropped, "connection_lost", res.Lost)
			b.metrics.dropped.WithLabelValues("aged").Add(float64(res.Dropped))
		}
	}

	b.metrics.pending.Set(float64(b.pending.len()))
	b.metrics.outbound.Set(float64(b.outbound.Len()))
	b.metrics.inbound.Set(float64(b.inbound.Len()))
}

func (b *Bridge) reportLoop(ctx context.Context) {
	ticker := time.NewTicker(b.opts.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !b.Connected() || b.stopping.Load() {
				continue
			}
			b.report()
		}
	}
}

func (b *Bridge) report() {
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("Metrics collector panic", "panic", r)
		}
	}()

	_ = b.Notify(ServerMetricsEvent, b.collector())
}
