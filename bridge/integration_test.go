// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wangtaoking1/admin-bridge/websocket"
)

type controlPlane struct {
	srv   *httptest.Server
	conns chan *gws.Conn
}

func newControlPlane(t *testing.T) *controlPlane {
	cp := &controlPlane{conns: make(chan *gws.Conn, 4)}
	upgrader := gws.Upgrader{}
	cp.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		cp.conns <- conn
	}))
	t.Cleanup(cp.srv.Close)

	return cp
}

func (cp *controlPlane) accept(t *testing.T) *gws.Conn {
	select {
	case conn := <-cp.conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(3 * time.Second):
		require.FailNow(t, "bridge did not connect")
	}
	return nil
}

func send(t *testing.T, conn *gws.Conn, raw string) {
	require.NoError(t, conn.WriteMessage(gws.TextMessage, []byte(raw)))
}

func receive(t *testing.T, conn *gws.Conn) map[string]any {
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	m := map[string]any{}
	require.NoError(t, json.Unmarshal(data, &m))

	return m
}

// hostLoop polls the bridge like a game tick loop until ctx is done.
func hostLoop(ctx context.Context, b *Bridge) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Poll()
		}
	}
}

func TestBridge_EndToEnd(t *testing.T) {
	cp := newControlPlane(t)

	wsOpts := websocket.NewOptions()
	wsOpts.HeartbeatInterval = time.Hour
	wsOpts.HeartbeatTimeout = time.Hour
	wsOpts.BackoffBase = 10 * time.Millisecond
	wsOpts.BackoffMax = 50 * time.Millisecond
	wsOpts.CloseGrace = 500 * time.Millisecond

	b := newTestBridge(t, WithWebsocketOptions(wsOpts))
	require.NoError(t, b.RegisterFunc("kick-player", func(_ context.Context, req *Request) (any, error) {
		var in struct {
			Player string `json:"player"`
		}
		if err := req.Bind(&in); err != nil {
			return nil, err
		}
		return nil, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hostLoop(ctx, b)

	endpoint := "ws" + strings.TrimPrefix(cp.srv.URL, "http")
	require.NoError(t, b.Start(endpoint, "secret"))
	conn := cp.accept(t)
	assert.Eventually(t, b.Connected, 3*time.Second, 5*time.Millisecond)

	send(t, conn, `{"type":"command","id":"abc1","name":"kick-player","payload":{"player":"Steve"}}`)
	resp := receive(t, conn)
	assert.Equal(t, "response", resp["type"])
	assert.Equal(t, "abc1", resp["id"])
	assert.Equal(t, map[string]any{"ok": true}, resp["payload"])

	send(t, conn, `{"type":"command","id":"xyz9","payload":{}}`)
	resp = receive(t, conn)
	assert.Equal(t, "xyz9", resp["id"])
	assert.Equal(t, "UnknownCommand", resp["payload"].(map[string]any)["error"])

	send(t, conn, `{"type":"heartbeat","id":"hb1"}`)
	resp = receive(t, conn)
	assert.Equal(t, "heartbeat", resp["type"])
	assert.Equal(t, "hb1", resp["id"])

	require.NoError(t, b.Notify("player.join", map[string]string{"player": "alex"}))
	resp = receive(t, conn)
	assert.Equal(t, "event", resp["type"])
	assert.Equal(t, "player.join", resp["name"])

	require.NoError(t, b.Stop())
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, gws.IsCloseError(err, gws.CloseNormalClosure), "unexpected error: %v", err)
	assert.Equal(t, "Closing", b.Status().State)
}

func TestBridge_ReconnectResendsQueued(t *testing.T) {
	cp := newControlPlane(t)

	wsOpts := websocket.NewOptions()
	wsOpts.HeartbeatInterval = time.Hour
	wsOpts.HeartbeatTimeout = time.Hour
	wsOpts.BackoffBase = 10 * time.Millisecond
	wsOpts.BackoffMax = 50 * time.Millisecond
	wsOpts.CloseGrace = 200 * time.Millisecond

	b := newTestBridge(t, WithWebsocketOptions(wsOpts))
	endpoint := "ws" + strings.TrimPrefix(cp.srv.URL, "http")
	require.NoError(t, b.Start(endpoint, "secret"))
	defer func() { _ = b.Stop() }()

	first := cp.accept(t)
	assert.Eventually(t, b.Connected, 3*time.Second, 5*time.Millisecond)
	require.NoError(t, first.Close())
	assert.Eventually(t, func() bool { return !b.Connected() }, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, b.Notify("while.down", nil))

	second := cp.accept(t)
	resp := receive(t, second)
	assert.Equal(t, "while.down", resp["name"])
	assert.Eventually(t, func() bool { return b.Status().Reconnects >= 1 }, 3*time.Second, 5*time.Millisecond)
}
