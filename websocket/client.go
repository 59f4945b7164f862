// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package websocket

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wangtaoking1/admin-bridge/errors"
	"github.com/wangtaoking1/admin-bridge/log"
	"github.com/wangtaoking1/admin-bridge/protocol"
	"github.com/wangtaoking1/admin-bridge/queue"
	"github.com/wangtaoking1/admin-bridge/utils/backoff"
)

// Version is reported to the control plane in the authenticate envelope.
var Version = "dev"

// AuthenticateEvent is the name of the in-band authentication event.
const AuthenticateEvent = "authenticate"

// State is the lifecycle state of the control channel.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateClosing:
		return "Closing"
	default:
		return "Invalid"
	}
}

// ErrHeartbeatTimeout is returned when too many heartbeats go unacknowledged.
var ErrHeartbeatTimeout = errors.New("heartbeat acknowledgment timed out")

// Client keeps at most one connection to the control plane open. Outbound
// frames are taken from an outbound queue; inbound envelopes are handed to a
// Dispatcher.
type Client struct {
	opts       *Options
	codec      *protocol.Codec
	outbound   *queue.Outbound
	dispatcher Dispatcher
	listener   StateListener
	dialer     *websocket.Dialer
	backoff    *backoff.Exponential

	mu    sync.Mutex
	state State
	epoch uint64

	hbMu        sync.Mutex
	outstanding string
	sentAt      time.Time
	missed      int

	reconnects atomic.Int64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithCodec sets the codec used for frames.
func WithCodec(codec *protocol.Codec) ClientOption {
	return func(c *Client) {
		c.codec = codec
	}
}

// WithStateListener registers a listener for state transitions.
func WithStateListener(l StateListener) ClientOption {
	return func(c *Client) {
		c.listener = l
	}
}

// NewClient creates a client. Run starts it.
func NewClient(opts *Options, outbound *queue.Outbound, dispatcher Dispatcher, options ...ClientOption) (*Client, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if errs := opts.Validate(); len(errs) != 0 {
		return nil, errors.NewAggregate(errs)
	}
	if outbound == nil || dispatcher == nil {
		return nil, errors.New("websocket client needs an outbound queue and a dispatcher")
	}

	c := &Client{
		opts:       opts,
		codec:      protocol.DefaultCodec,
		outbound:   outbound,
		dispatcher: dispatcher,
		state:      StateDisconnected,
		backoff:    backoff.NewExponential(opts.BackoffBase, opts.BackoffMax, opts.BackoffJitter),
		dialer: &websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  opts.HandshakeTimeout,
			ReadBufferSize:    opts.ReadBufferSize,
			WriteBufferSize:   opts.WriteBufferSize,
			EnableCompression: opts.Compression,
		},
	}
	for _, o := range options {
		o(c)
	}

	return c, nil
}

// State returns the current state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// LiveEpoch returns the epoch of the current connection, or zero when no
// connection is up.
func (c *Client) LiveEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected {
		return 0
	}
	return c.epoch
}

// Reconnects returns how many connections were established after the first.
func (c *Client) Reconnects() int64 {
	return c.reconnects.Load()
}

// setState performs a transition. Closing is terminal.
func (c *Client) setState(to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.setStateLocked(to)
}

func (c *Client) setStateLocked(to State) bool {
	from := c.state
	if from == to || from == StateClosing {
		return false
	}
	c.state = to
	log.Debugw("Control channel state changed", "from", from, "to", to, "epoch", c.epoch)
	if c.listener != nil {
		c.listener(from, to, c.epoch)
	}

	return true
}

// connected starts a new epoch and resets the health counters.
func (c *Client) connected() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosing {
		return 0, false
	}
	c.epoch++
	if c.epoch > 1 {
		c.reconnects.Add(1)
	}
	c.resetHeartbeat()
	c.setStateLocked(StateConnected)

	return c.epoch, true
}

// Run connects and keeps reconnecting until ctx is done. It returns nil on
// shutdown, or the last connection error when auto reconnect is disabled.
func (c *Client) Run(ctx context.Context) error {
	defer c.setState(StateClosing)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if !c.setState(StateConnecting) && c.State() == StateClosing {
			return nil
		}

		err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.setState(StateDisconnected)
		if !c.opts.AutoReconnect {
			return err
		}

		delay := c.backoff.Next()
		log.Warnw("Control channel unavailable, retry later",
			"endpoint", c.opts.Endpoint, "attempt", c.backoff.Attempts(), "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (c *Client) connectAndServe(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	epoch, ok := c.connected()
	if !ok {
		_ = conn.Close()
		return nil
	}
	c.backoff.Reset()
	log.Infow("Control channel connected", "endpoint", c.opts.Endpoint, "epoch", epoch)

	p := newPeer(c, conn, epoch)
	err = p.Run(ctx)
	log.Infow("Control channel closed", "epoch", epoch, "error", err)

	return err
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	if c.opts.Endpoint == "" {
		return nil, protocol.NewError(protocol.ConnectionError, "no endpoint configured")
	}
	u, err := url.Parse(c.opts.Endpoint)
	if err != nil {
		return nil, protocol.WrapError(err, protocol.ConnectionError, "parse endpoint")
	}
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
		if c.opts.TokenInQuery {
			q := u.Query()
			q.Set("token", c.opts.Token)
			u.RawQuery = q.Encode()
		}
	}

	dctx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	defer cancel()
	conn, resp, err := c.dialer.DialContext(dctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, protocol.WrapError(err, protocol.ConnectionError, "handshake rejected with status "+resp.Status)
		}
		return nil, protocol.WrapError(err, protocol.ConnectionError, "dial control plane")
	}
	if c.opts.MaxMessageSize > 0 {
		conn.SetReadLimit(c.opts.MaxMessageSize)
	}

	if c.opts.AuthEnvelope {
		if err := c.authenticate(conn); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	return conn, nil
}

func (c *Client) authenticate(conn *websocket.Conn) error {
	payload, err := protocol.NewPayload(map[string]string{
		"token":   c.opts.Token,
		"version": Version,
	})
	if err != nil {
		return err
	}
	data, err := c.codec.Encode(protocol.NewEvent(AuthenticateEvent, payload))
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return protocol.WrapError(err, protocol.ConnectionError, "send authenticate envelope")
	}

	return nil
}

func (c *Client) resetHeartbeat() {
	c.hbMu.Lock()
	defer c.hbMu.Unlock()

	c.outstanding = ""
	c.missed = 0
}

// ackHeartbeat clears the outstanding heartbeat if id matches it.
func (c *Client) ackHeartbeat(id string) {
	c.hbMu.Lock()
	defer c.hbMu.Unlock()

	if id != c.outstanding {
		log.Debugw("Ignore stale heartbeat ack", "id", id)
		return
	}
	c.outstanding = ""
	c.missed = 0
}

// heartbeatDue checks the outstanding heartbeat at now and reports whether a
// new one should be sent. It fails once misses exceed the tolerance.
func (c *Client) heartbeatDue(now time.Time) (bool, error) {
	c.hbMu.Lock()
	defer c.hbMu.Unlock()

	if c.outstanding != "" {
		if now.Sub(c.sentAt) < c.opts.HeartbeatTimeout {
			return false, nil
		}
		c.missed++
		log.Warnw("Heartbeat not acknowledged", "id", c.outstanding, "missed", c.missed)
		c.outstanding = ""
		if c.missed > c.opts.HeartbeatTolerance {
			return false, errors.Wrapf(ErrHeartbeatTimeout, "%d consecutive heartbeats missed", c.missed)
		}
	}

	return true, nil
}

func (c *Client) heartbeatSent(id string, at time.Time) {
	c.hbMu.Lock()
	defer c.hbMu.Unlock()

	c.outstanding = id
	c.sentAt = at
}
