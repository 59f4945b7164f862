// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangtaoking1/admin-bridge/protocol"
	"github.com/wangtaoking1/admin-bridge/queue"
)

type accepted struct {
	conn   *websocket.Conn
	header http.Header
	query  url.Values
}

// fakePlane is a minimal control plane that hands every accepted
// connection to the test.
type fakePlane struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader
	conns    chan accepted
	// reject fails that many handshakes before accepting again.
	reject atomic.Int32
	dials  atomic.Int32
}

func newFakePlane(t *testing.T) *fakePlane {
	fp := &fakePlane{conns: make(chan accepted, 8)}
	fp.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fp.dials.Add(1)
		if fp.reject.Add(-1) >= 0 {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		conn, err := fp.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fp.conns <- accepted{conn: conn, header: r.Header, query: r.URL.Query()}
	}))
	t.Cleanup(fp.srv.Close)

	return fp
}

func (fp *fakePlane) url() string {
	return "ws" + strings.TrimPrefix(fp.srv.URL, "http")
}

func (fp *fakePlane) accept(t *testing.T) accepted {
	select {
	case a := <-fp.conns:
		t.Cleanup(func() { _ = a.conn.Close() })
		return a
	case <-time.After(3 * time.Second):
		require.FailNow(t, "no connection from client")
	}
	return accepted{}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) *protocol.Envelope {
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.DefaultCodec.Decode(data)
	require.NoError(t, err)

	return env
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, env *protocol.Envelope) {
	data, err := protocol.DefaultCodec.Encode(env)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

type recorder struct {
	mu     sync.Mutex
	envs   chan *protocol.Envelope
	epochs []uint64
	states []State
}

func newRecorder() *recorder {
	return &recorder{envs: make(chan *protocol.Envelope, 64)}
}

func (r *recorder) Dispatch(env *protocol.Envelope, epoch uint64) {
	r.mu.Lock()
	r.epochs = append(r.epochs, epoch)
	r.mu.Unlock()
	r.envs <- env
}

func (r *recorder) onState(_, to State, _ uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, to)
}

func (r *recorder) sawState(s State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.states {
		if st == s {
			return true
		}
	}
	return false
}

func (r *recorder) next(t *testing.T) *protocol.Envelope {
	select {
	case env := <-r.envs:
		return env
	case <-time.After(3 * time.Second):
		require.FailNow(t, "no envelope dispatched")
	}
	return nil
}

func testOptions(endpoint string) *Options {
	opts := NewOptions()
	opts.Endpoint = endpoint
	opts.Token = "secret"
	opts.HeartbeatInterval = time.Hour
	opts.HeartbeatTimeout = time.Hour
	opts.BackoffBase = 10 * time.Millisecond
	opts.BackoffMax = 50 * time.Millisecond
	opts.CloseGrace = 500 * time.Millisecond
	return opts
}

type running struct {
	client *Client
	cancel context.CancelFunc
	done   chan error
}

func startClient(t *testing.T, opts *Options, out *queue.Outbound, rec *recorder) *running {
	c, err := NewClient(opts, out, rec, WithStateListener(rec.onState))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	r := &running{client: c, cancel: cancel, done: make(chan error, 1)}
	go func() { r.done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-r.done
	})

	return r
}

func waitState(t *testing.T, c *Client, s State) {
	assert.Eventually(t, func() bool { return c.State() == s }, 3*time.Second, 5*time.Millisecond)
}

func TestClient_ConnectAndAuthenticate(t *testing.T) {
	fp := newFakePlane(t)
	opts := testOptions(fp.url())
	opts.TokenInQuery = true
	opts.AuthEnvelope = true
	rec := newRecorder()
	r := startClient(t, opts, queue.NewOutbound(8, 0), rec)

	a := fp.accept(t)
	assert.Equal(t, "Bearer secret", a.header.Get("Authorization"))
	assert.Equal(t, "secret", a.query.Get("token"))

	auth := readEnvelope(t, a.conn)
	assert.Equal(t, protocol.TypeEvent, auth.Type)
	assert.Equal(t, AuthenticateEvent, auth.Name)
	assert.JSONEq(t, `{"token":"secret","version":"dev"}`, string(auth.Payload))

	waitState(t, r.client, StateConnected)
	assert.Equal(t, uint64(1), r.client.LiveEpoch())
	assert.True(t, rec.sawState(StateConnecting))
}

func TestClient_InboundAndOutbound(t *testing.T) {
	fp := newFakePlane(t)
	out := queue.NewOutbound(8, 0)
	rec := newRecorder()
	r := startClient(t, testOptions(fp.url()), out, rec)
	a := fp.accept(t)
	waitState(t, r.client, StateConnected)

	require.NoError(t, a.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"command",`)))
	writeEnvelope(t, a.conn, protocol.NewCommand("abc1", "kick-player", []byte(`{"player":"Steve"}`)))

	env := rec.next(t)
	assert.Equal(t, "abc1", env.ID)
	assert.Equal(t, "kick-player", env.Name)
	assert.Equal(t, []uint64{1}, rec.epochs)
	assert.Equal(t, StateConnected, r.client.State())

	resp, err := protocol.NewResponse("abc1", nil)
	require.NoError(t, err)
	require.NoError(t, out.Push(resp, 1, 0))
	require.NoError(t, out.Push(protocol.NewEvent("stale", nil), 99, 0))
	require.NoError(t, out.Push(protocol.NewEvent("player.join", nil), queue.AnyEpoch, 0))

	got := readEnvelope(t, a.conn)
	assert.Equal(t, "abc1", got.ID)
	assert.JSONEq(t, `{"ok":true}`, string(got.Payload))
	got = readEnvelope(t, a.conn)
	assert.Equal(t, "player.join", got.Name)
	assert.Eventually(t, func() bool { return out.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestClient_HeartbeatAcknowledged(t *testing.T) {
	fp := newFakePlane(t)
	opts := testOptions(fp.url())
	opts.HeartbeatInterval = 10 * time.Millisecond
	opts.HeartbeatTimeout = 50 * time.Millisecond
	opts.HeartbeatTolerance = 0
	r := startClient(t, opts, queue.NewOutbound(8, 0), newRecorder())
	a := fp.accept(t)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			_, data, err := a.conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := protocol.DefaultCodec.Decode(data)
			if err == nil && env.Type == protocol.TypeHeartbeat {
				d, _ := protocol.DefaultCodec.Encode(protocol.NewHeartbeatAck(env.ID))
				_ = a.conn.WriteMessage(websocket.TextMessage, d)
			}
		}
	}()

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, StateConnected, r.client.State())
	assert.Equal(t, uint64(1), r.client.LiveEpoch())
}

func TestClient_HeartbeatTimeoutReconnects(t *testing.T) {
	fp := newFakePlane(t)
	opts := testOptions(fp.url())
	opts.HeartbeatInterval = 10 * time.Millisecond
	opts.HeartbeatTimeout = 20 * time.Millisecond
	opts.HeartbeatTolerance = 1
	rec := newRecorder()
	r := startClient(t, opts, queue.NewOutbound(8, 0), rec)

	first := fp.accept(t)
	go func() {
		// Swallow heartbeats without acknowledging.
		for {
			if _, _, err := first.conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	fp.accept(t)
	assert.True(t, rec.sawState(StateDisconnected))
	assert.Eventually(t, func() bool { return r.client.Reconnects() >= 1 }, 3*time.Second, 5*time.Millisecond)
}

func TestClient_ReconnectAfterRemoteClose(t *testing.T) {
	fp := newFakePlane(t)
	rec := newRecorder()
	r := startClient(t, testOptions(fp.url()), queue.NewOutbound(8, 0), rec)

	first := fp.accept(t)
	waitState(t, r.client, StateConnected)
	_ = first.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"))
	_ = first.conn.Close()

	second := fp.accept(t)
	assert.Eventually(t, func() bool { return r.client.LiveEpoch() == 2 }, 3*time.Second, 5*time.Millisecond)

	writeEnvelope(t, second.conn, protocol.NewCommand("c2", "server.ping", nil))
	assert.Equal(t, "c2", rec.next(t).ID)
	rec.mu.Lock()
	assert.Equal(t, []uint64{2}, rec.epochs)
	rec.mu.Unlock()
}

func TestClient_DialFailureBacksOff(t *testing.T) {
	opts := testOptions("ws://127.0.0.1:1/ws")
	rec := newRecorder()
	r := startClient(t, opts, queue.NewOutbound(8, 0), rec)

	assert.Eventually(t, func() bool { return r.client.backoff.Attempts() >= 2 }, 3*time.Second, 5*time.Millisecond)
	assert.True(t, rec.sawState(StateDisconnected))
	assert.Equal(t, uint64(0), r.client.LiveEpoch())
}

func TestClient_BackoffResetsAfterConnect(t *testing.T) {
	fp := newFakePlane(t)
	fp.reject.Store(5)
	opts := testOptions(fp.url())
	opts.BackoffBase = 20 * time.Millisecond
	opts.BackoffMax = 5 * time.Second
	opts.BackoffJitter = 0
	r := startClient(t, opts, queue.NewOutbound(8, 0), newRecorder())

	first := fp.accept(t)
	waitState(t, r.client, StateConnected)
	assert.Equal(t, int32(6), fp.dials.Load())
	assert.Eventually(t, func() bool { return r.client.backoff.Attempts() == 0 }, time.Second, time.Millisecond)

	// Five failures grew the delay to 640ms; a connection brings it back to
	// the base delay.
	dropped := time.Now()
	_ = first.conn.Close()
	fp.accept(t)
	assert.Less(t, time.Since(dropped), 400*time.Millisecond)
	assert.Eventually(t, func() bool { return r.client.LiveEpoch() == 2 }, 3*time.Second, 5*time.Millisecond)
}

func TestPeer_HeartbeatAckedBeforeQueueing(t *testing.T) {
	opts := testOptions("ws://127.0.0.1:1/ws")
	opts.HeartbeatTimeout = time.Second
	opts.HeartbeatTolerance = 0
	out := queue.NewOutbound(8, 0)
	c, err := NewClient(opts, out, newRecorder())
	require.NoError(t, err)
	p := newPeer(c, nil, 1)

	for i := 0; i < 200; i++ {
		acked := make(chan struct{})
		go func() {
			defer close(acked)
			it, err := out.Next(context.Background())
			if err != nil {
				return
			}
			out.Ack(it)
			c.ackHeartbeat(it.Env.ID)
		}()

		now := time.Now()
		p.sendHeartbeat(now)
		<-acked

		due, err := c.heartbeatDue(now.Add(2 * opts.HeartbeatTimeout))
		require.NoError(t, err, "iteration %d", i)
		require.True(t, due)
	}
}

func TestClient_NoReconnect(t *testing.T) {
	opts := testOptions("ws://127.0.0.1:1/ws")
	opts.AutoReconnect = false
	c, err := NewClient(opts, queue.NewOutbound(8, 0), newRecorder())
	require.NoError(t, err)

	err = c.Run(context.Background())
	assert.Equal(t, protocol.ConnectionError, protocol.CodeOf(err))
	assert.Equal(t, StateClosing, c.State())
}

func TestClient_GracefulClose(t *testing.T) {
	fp := newFakePlane(t)
	rec := newRecorder()
	r := startClient(t, testOptions(fp.url()), queue.NewOutbound(8, 0), rec)
	a := fp.accept(t)
	waitState(t, r.client, StateConnected)

	r.cancel()

	_ = a.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := a.conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	select {
	case err := <-r.done:
		assert.NoError(t, err)
		r.done <- err
	case <-time.After(3 * time.Second):
		require.FailNow(t, "client did not stop")
	}
	assert.Equal(t, StateClosing, r.client.State())
	assert.Equal(t, uint64(0), r.client.LiveEpoch())
}

func TestNewClient_Validate(t *testing.T) {
	opts := NewOptions()
	opts.Endpoint = "http://example.com"
	opts.BackoffJitter = 2
	_, err := NewClient(opts, queue.NewOutbound(1, 0), newRecorder())
	assert.Error(t, err)

	_, err = NewClient(NewOptions(), nil, newRecorder())
	assert.Error(t, err)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Connected", StateConnected.String())
	assert.Equal(t, "Invalid", State(42).String())
}
