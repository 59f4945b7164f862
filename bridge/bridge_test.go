// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package bridge

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangtaoking1/admin-bridge/protocol"
	"github.com/wangtaoking1/admin-bridge/queue"
	"github.com/wangtaoking1/admin-bridge/websocket"
)

func newTestBridge(t *testing.T, options ...Option) *Bridge {
	opts := NewOptions()
	opts.PendingTimeout = time.Second
	opts.StopTimeout = 2 * time.Second
	opts.DrainGrace = 100 * time.Millisecond
	b, err := New(opts, options...)
	require.NoError(t, err)

	return b
}

// inject queues env as if it was read on a connection with epoch. Without a
// started client the live epoch is zero.
func inject(b *Bridge, env *protocol.Envelope) {
	b.enqueue(env, 0)
}

func drainOutbound(b *Bridge) []*protocol.Envelope {
	var out []*protocol.Envelope
	for b.outbound.Len() > 0 {
		it, err := b.outbound.Next(context.Background())
		if err != nil {
			break
		}
		b.outbound.Ack(it)
		out = append(out, it.Env)
	}

	return out
}

func body(t *testing.T, env *protocol.Envelope) *protocol.ResponseBody {
	require.Equal(t, protocol.TypeResponse, env.Type)
	rb, err := protocol.DecodeResponse(env.Payload)
	require.NoError(t, err)

	return rb
}

func TestBridge_CommandSucceeds(t *testing.T) {
	b := newTestBridge(t)

	var player string
	require.NoError(t, b.RegisterFunc("kick-player", func(_ context.Context, req *Request) (any, error) {
		var in struct {
			Player string `json:"player"`
		}
		if err := req.Bind(&in); err != nil {
			return nil, err
		}
		player = in.Player
		return nil, nil
	}))

	inject(b, protocol.NewCommand("abc1", "kick-player", json.RawMessage(`{"player":"Steve"}`)))
	assert.Equal(t, 1, b.Poll())

	out := drainOutbound(b)
	require.Len(t, out, 1)
	assert.Equal(t, "abc1", out[0].ID)
	assert.JSONEq(t, `{"ok":true}`, string(out[0].Payload))
	assert.Equal(t, "Steve", player)
	assert.Equal(t, 0, b.Pending())
}

func TestBridge_CommandResult(t *testing.T) {
	b := newTestBridge(t)
	require.NoError(t, b.RegisterFunc("players.list", func(context.Context, *Request) (any, error) {
		return []string{"alex", "steve"}, nil
	}))

	inject(b, protocol.NewCommand("c1", "players.list", nil))
	b.Poll()

	out := drainOutbound(b)
	require.Len(t, out, 1)
	rb := body(t, out[0])
	assert.True(t, rb.OK)
	assert.JSONEq(t, `["alex","steve"]`, string(rb.Result))
}

func TestBridge_UnknownCommand(t *testing.T) {
	b := newTestBridge(t)

	inject(b, protocol.NewCommand("xyz9", "foo", json.RawMessage(`{}`)))
	b.Poll()

	out := drainOutbound(b)
	require.Len(t, out, 1)
	assert.Equal(t, "xyz9", out[0].ID)
	assert.Equal(t, protocol.UnknownCommand, body(t, out[0]).Error)
}

func TestBridge_HandlerErrors(t *testing.T) {
	b := newTestBridge(t)
	require.NoError(t, b.RegisterFunc("boom", func(context.Context, *Request) (any, error) {
		panic("boom")
	}))
	require.NoError(t, b.RegisterFunc("fail", func(context.Context, *Request) (any, error) {
		return nil, fmt.Errorf("disk full")
	}))
	require.NoError(t, b.RegisterFunc("bind", func(_ context.Context, req *Request) (any, error) {
		var n int
		return nil, req.Bind(&n)
	}))
	require.NoError(t, b.RegisterFunc("chan", func(context.Context, *Request) (any, error) {
		return make(chan int), nil
	}))

	inject(b, protocol.NewCommand("1", "boom", nil))
	inject(b, protocol.NewCommand("2", "fail", nil))
	inject(b, protocol.NewCommand("3", "bind", json.RawMessage(`"x"`)))
	inject(b, protocol.NewCommand("4", "chan", nil))
	assert.Equal(t, 4, b.Poll())

	out := drainOutbound(b)
	require.Len(t, out, 4)
	assert.Equal(t, protocol.HandlerFailure, body(t, out[0]).Error)
	assert.Equal(t, protocol.HandlerFailure, body(t, out[1]).Error)
	assert.Contains(t, body(t, out[1]).Message, "disk full")
	assert.Equal(t, protocol.DecodingError, body(t, out[2]).Error)
	assert.Equal(t, protocol.EncodingError, body(t, out[3]).Error)
	assert.Equal(t, 0, b.Pending())
}

func TestBridge_PollBatchBound(t *testing.T) {
	b := newTestBridge(t)

	var seen []string
	require.NoError(t, b.RegisterFunc("noop", func(_ context.Context, req *Request) (any, error) {
		seen = append(seen, req.ID)
		return nil, nil
	}))
	for i := 0; i < 100; i++ {
		inject(b, protocol.NewCommand(fmt.Sprintf("c%03d", i), "noop", nil))
	}

	assert.Equal(t, 64, b.Poll())
	assert.Equal(t, 36, b.Poll())
	assert.Equal(t, 0, b.Poll())

	require.Len(t, seen, 100)
	for i, id := range seen {
		assert.Equal(t, fmt.Sprintf("c%03d", i), id)
	}
}

func TestBridge_HeartbeatAck(t *testing.T) {
	b := newTestBridge(t)

	inject(b, protocol.NewHeartbeat())
	inject(b, protocol.NewEvent("ignored", nil))
	b.Poll()

	out := drainOutbound(b)
	require.Len(t, out, 1)
	assert.True(t, protocol.IsHeartbeatAck(out[0]))
}

func TestBridge_DeferredResponse(t *testing.T) {
	b := newTestBridge(t)

	responders := make(chan *Responder, 1)
	require.NoError(t, b.RegisterFunc("console.execute", func(_ context.Context, req *Request) (any, error) {
		responders <- req.Defer()
		return nil, nil
	}))

	inject(b, protocol.NewCommand("d1", "console.execute", nil))
	b.Poll()
	assert.Empty(t, drainOutbound(b))
	assert.Equal(t, 1, b.Pending())

	r := <-responders
	assert.Equal(t, "d1", r.ID())

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- r.Resolve("done")
		}()
	}
	wg.Wait()
	close(errs)

	var ok, resolved int
	for err := range errs {
		if err == nil {
			ok++
		} else if assert.ErrorIs(t, err, ErrAlreadyResolved) {
			resolved++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, resolved)

	out := drainOutbound(b)
	require.Len(t, out, 1)
	assert.JSONEq(t, `"done"`, string(body(t, out[0]).Result))
	assert.ErrorIs(t, r.Reject(nil), ErrAlreadyResolved)
}

func TestBridge_Timeout(t *testing.T) {
	b := newTestBridge(t)

	var r *Responder
	require.NoError(t, b.RegisterFunc("slow", func(_ context.Context, req *Request) (any, error) {
		r = req.Defer()
		return nil, nil
	}))
	inject(b, protocol.NewCommand("s1", "slow", nil))
	b.Poll()

	b.sweep(time.Now())
	assert.Empty(t, drainOutbound(b))

	b.sweep(time.Now().Add(2 * time.Second))
	out := drainOutbound(b)
	require.Len(t, out, 1)
	assert.Equal(t, protocol.Timeout, body(t, out[0]).Error)
	assert.ErrorIs(t, r.Resolve(nil), ErrAlreadyResolved)
	assert.Empty(t, drainOutbound(b))
}

func TestBridge_ConnectionLostWhilePending(t *testing.T) {
	b := newTestBridge(t)

	var r *Responder
	require.NoError(t, b.RegisterFunc("slow", func(_ context.Context, req *Request) (any, error) {
		r = req.Defer()
		return nil, nil
	}))
	inject(b, protocol.NewCommand("p1", "slow", nil))
	b.Poll()

	b.onStateChange(websocket.StateConnected, websocket.StateDisconnected, 0)
	b.sweep(time.Now().Add(2 * time.Second))

	out := drainOutbound(b)
	require.Len(t, out, 1)
	assert.Equal(t, "p1", out[0].ID)
	assert.Equal(t, protocol.ConnectionLost, body(t, out[0]).Error)

	// Nothing else is produced for p1.
	assert.ErrorIs(t, r.Resolve(nil), ErrAlreadyResolved)
	b.sweep(time.Now().Add(time.Hour))
	assert.Empty(t, drainOutbound(b))
}

func TestBridge_LostCommandAnsweredLate(t *testing.T) {
	b := newTestBridge(t)

	var r *Responder
	require.NoError(t, b.RegisterFunc("slow", func(_ context.Context, req *Request) (any, error) {
		r = req.Defer()
		return nil, nil
	}))
	inject(b, protocol.NewCommand("p2", "slow", nil))
	b.Poll()
	b.onStateChange(websocket.StateConnected, websocket.StateDisconnected, 0)

	require.NoError(t, r.Resolve("late"))
	out := drainOutbound(b)
	require.Len(t, out, 1)
	assert.Equal(t, protocol.ConnectionLost, body(t, out[0]).Error)
}

func TestBridge_StaleEpoch(t *testing.T) {
	b := newTestBridge(t)

	called := false
	require.NoError(t, b.RegisterFunc("noop", func(context.Context, *Request) (any, error) {
		called = true
		return nil, nil
	}))
	b.enqueue(protocol.NewCommand("old", "noop", nil), 3)
	b.Poll()

	assert.False(t, called)
	out := drainOutbound(b)
	require.Len(t, out, 1)
	assert.Equal(t, protocol.ConnectionLost, body(t, out[0]).Error)
}

func TestBridge_DuplicateID(t *testing.T) {
	b := newTestBridge(t)

	calls := 0
	require.NoError(t, b.RegisterFunc("slow", func(_ context.Context, req *Request) (any, error) {
		calls++
		req.Defer()
		return nil, nil
	}))
	inject(b, protocol.NewCommand("dup", "slow", nil))
	inject(b, protocol.NewCommand("dup", "slow", nil))
	b.Poll()

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, b.Pending())
	assert.Empty(t, drainOutbound(b))
}

func TestBridge_ParkedResponseRetried(t *testing.T) {
	opts := NewOptions()
	opts.OutboundSize = 1
	b, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, b.RegisterFunc("noop", func(context.Context, *Request) (any, error) {
		return nil, nil
	}))

	blocker, err := protocol.NewResponse("blocker", nil)
	require.NoError(t, err)
	require.NoError(t, b.outbound.Push(blocker, queue.AnyEpoch, 0))
	inject(b, protocol.NewCommand("r1", "noop", nil))
	b.Poll()
	assert.Equal(t, 1, b.Pending())

	assert.Len(t, drainOutbound(b), 1)
	b.sweep(time.Now())
	out := drainOutbound(b)
	require.Len(t, out, 1)
	assert.Equal(t, "r1", out[0].ID)
	assert.True(t, body(t, out[0]).OK)
	assert.Equal(t, 0, b.Pending())
}

func TestBridge_RegisterHandler(t *testing.T) {
	b := newTestBridge(t)

	assert.Error(t, b.RegisterHandler("", HandlerFunc(func(context.Context, *Request) (any, error) { return nil, nil })))
	assert.Error(t, b.RegisterFunc("x", nil))
	require.NoError(t, b.RegisterFunc("x", func(context.Context, *Request) (any, error) { return nil, nil }))
	assert.Error(t, b.RegisterFunc("x", func(context.Context, *Request) (any, error) { return nil, nil }))

	require.NoError(t, b.Start("ws://127.0.0.1:1/admin", "t"))
	defer func() { _ = b.Stop() }()

	assert.ErrorIs(t, b.RegisterFunc("y", func(context.Context, *Request) (any, error) { return nil, nil }), ErrRegistryFrozen)
	assert.ErrorIs(t, b.Start("", ""), ErrAlreadyStarted)
	assert.Equal(t, []string{"x"}, b.Status().Handlers)
}

func TestBridge_StopAnswersShutdown(t *testing.T) {
	b := newTestBridge(t)
	require.NoError(t, b.RegisterFunc("slow", func(_ context.Context, req *Request) (any, error) {
		req.Defer()
		return nil, nil
	}))
	require.NoError(t, b.RegisterFunc("noop", func(context.Context, *Request) (any, error) {
		return nil, nil
	}))

	inject(b, protocol.NewCommand("pending", "slow", nil))
	b.Poll()
	inject(b, protocol.NewCommand("queued", "noop", nil))

	require.NoError(t, b.Stop())
	require.NoError(t, b.Stop())

	got := map[string]protocol.ErrorCode{}
	for _, env := range drainOutbound(b) {
		got[env.ID] = body(t, env).Error
	}
	assert.Equal(t, map[string]protocol.ErrorCode{
		"pending": protocol.Shutdown,
		"queued":  protocol.Shutdown,
	}, got)

	inject(b, protocol.NewCommand("late", "noop", nil))
	b.Poll()
	assert.ErrorIs(t, b.Start("", ""), ErrStopped)
	assert.ErrorIs(t, b.Notify("after", nil), queue.ErrClosed)
}

func TestNew_InvalidOptions(t *testing.T) {
	opts := NewOptions()
	opts.BatchSize = 0
	opts.TypeNames = map[string]string{"bogus": "x"}

	_, err := New(opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch-size")
	assert.Contains(t, err.Error(), "bogus")
}

func TestOptions_Codec(t *testing.T) {
	codec, err := NewOptions().Codec()
	require.NoError(t, err)
	assert.Same(t, protocol.DefaultCodec, codec)

	opts := NewOptions()
	opts.TypeNames = map[string]string{"event": "notify", "command": "rpc"}
	codec, err = opts.Codec()
	require.NoError(t, err)
	assert.Equal(t, "notify", codec.WireName(protocol.TypeEvent))
	assert.Equal(t, "rpc", codec.WireName(protocol.TypeCommand))
	assert.Equal(t, "response", codec.WireName(protocol.TypeResponse))
}
