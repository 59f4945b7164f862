// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package websocket

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/pflag"
)

// Options contains configuration options of the control channel client.
type Options struct {
	Endpoint      string `json:"endpoint"       mapstructure:"endpoint"`
	Token         string `json:"token"          mapstructure:"token"`
	TokenInQuery  bool   `json:"token-in-query" mapstructure:"token-in-query"`
	AuthEnvelope  bool   `json:"auth-envelope"  mapstructure:"auth-envelope"`
	AutoReconnect bool   `json:"auto-reconnect" mapstructure:"auto-reconnect"`

	HandshakeTimeout time.Duration `json:"handshake-timeout" mapstructure:"handshake-timeout"`
	WriteTimeout     time.Duration `json:"write-timeout"     mapstructure:"write-timeout"`
	CloseGrace       time.Duration `json:"close-grace"       mapstructure:"close-grace"`

	HeartbeatInterval  time.Duration `json:"heartbeat-interval"  mapstructure:"heartbeat-interval"`
	HeartbeatTimeout   time.Duration `json:"heartbeat-timeout"   mapstructure:"heartbeat-timeout"`
	HeartbeatTolerance int           `json:"heartbeat-tolerance" mapstructure:"heartbeat-tolerance"`

	BackoffBase   time.Duration `json:"backoff-base"   mapstructure:"backoff-base"`
	BackoffMax    time.Duration `json:"backoff-max"    mapstructure:"backoff-max"`
	BackoffJitter float64       `json:"backoff-jitter" mapstructure:"backoff-jitter"`

	ReadBufferSize  int   `json:"read-buffer-size"  mapstructure:"read-buffer-size"`
	WriteBufferSize int   `json:"write-buffer-size" mapstructure:"write-buffer-size"`
	MaxMessageSize  int64 `json:"max-message-size"  mapstructure:"max-message-size"`
	Compression     bool  `json:"compression"       mapstructure:"compression"`
}

// NewOptions returns the default client options.
func NewOptions() *Options {
	return &Options{
		AutoReconnect:      true,
		HandshakeTimeout:   10 * time.Second,
		WriteTimeout:       10 * time.Second,
		CloseGrace:         2 * time.Second,
		HeartbeatInterval:  10 * time.Second,
		HeartbeatTimeout:   10 * time.Second,
		HeartbeatTolerance: 2,
		BackoffBase:        500 * time.Millisecond,
		BackoffMax:         30 * time.Second,
		BackoffJitter:      0.2,
		ReadBufferSize:     4096,
		WriteBufferSize:    4096,
		MaxMessageSize:     1 << 20,
		Compression:        true,
	}
}

// Validate checks the options. An empty endpoint is allowed here because it
// may be supplied when the bridge starts.
func (o *Options) Validate() []error {
	var errs []error
	if o.Endpoint != "" {
		if err := validateEndpoint(o.Endpoint); err != nil {
			errs = append(errs, err)
		}
	}
	if o.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("--websocket.heartbeat-interval must be positive"))
	}
	if o.HeartbeatTimeout <= 0 {
		errs = append(errs, fmt.Errorf("--websocket.heartbeat-timeout must be positive"))
	}
	if o.HeartbeatTolerance < 0 {
		errs = append(errs, fmt.Errorf("--websocket.heartbeat-tolerance %d must not be negative", o.HeartbeatTolerance))
	}
	if o.BackoffBase <= 0 || o.BackoffMax < o.BackoffBase {
		errs = append(errs, fmt.Errorf("--websocket.backoff-base %v must be positive and not above --websocket.backoff-max %v",
			o.BackoffBase, o.BackoffMax))
	}
	if o.BackoffJitter < 0 || o.BackoffJitter > 1 {
		errs = append(errs, fmt.Errorf("--websocket.backoff-jitter %v must be between 0 and 1", o.BackoffJitter))
	}

	return errs
}

func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("--websocket.endpoint %q is not a valid url: %v", endpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("--websocket.endpoint %q must use ws or wss scheme", endpoint)
	}

	return nil
}

func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Endpoint, "websocket.endpoint", o.Endpoint, "The ws:// or wss:// url of the control plane.")
	fs.StringVar(&o.Token, "websocket.token", o.Token, "The token used to authenticate against the control plane.")
	fs.BoolVar(&o.TokenInQuery, "websocket.token-in-query", o.TokenInQuery, "Also send the token as the token query parameter.")
	fs.BoolVar(&o.AuthEnvelope, "websocket.auth-envelope", o.AuthEnvelope, "Send an authenticate event as the first frame of every connection.")
	fs.BoolVar(&o.AutoReconnect, "websocket.auto-reconnect", o.AutoReconnect, "Reconnect with backoff when the connection is lost.")
	fs.DurationVar(&o.HandshakeTimeout, "websocket.handshake-timeout", o.HandshakeTimeout, "Timeout of the websocket handshake.")
	fs.DurationVar(&o.WriteTimeout, "websocket.write-timeout", o.WriteTimeout, "Timeout of a single frame write.")
	fs.DurationVar(&o.CloseGrace, "websocket.close-grace", o.CloseGrace, "How long to wait for the close handshake on shutdown.")
	fs.DurationVar(&o.HeartbeatInterval, "websocket.heartbeat-interval", o.HeartbeatInterval, "Interval between heartbeats.")
	fs.DurationVar(&o.HeartbeatTimeout, "websocket.heartbeat-timeout", o.HeartbeatTimeout, "How long a heartbeat may stay unacknowledged.")
	fs.IntVar(&o.HeartbeatTolerance, "websocket.heartbeat-tolerance", o.HeartbeatTolerance, "Consecutive missed heartbeats tolerated before reconnecting.")
	fs.DurationVar(&o.BackoffBase, "websocket.backoff-base", o.BackoffBase, "First reconnect delay.")
	fs.DurationVar(&o.BackoffMax, "websocket.backoff-max", o.BackoffMax, "Maximum reconnect delay.")
	fs.Float64Var(&o.BackoffJitter, "websocket.backoff-jitter", o.BackoffJitter, "Fraction of each reconnect delay added at random.")
	fs.IntVar(&o.ReadBufferSize, "websocket.read-buffer-size", o.ReadBufferSize, "The byte size of websocket read buffer")
	fs.IntVar(&o.WriteBufferSize, "websocket.write-buffer-size", o.WriteBufferSize, "The byte size of websocket write buffer")
	fs.Int64Var(&o.MaxMessageSize, "websocket.max-message-size", o.MaxMessageSize, "Largest accepted inbound frame in bytes, 0 for no limit.")
	fs.BoolVar(&o.Compression, "websocket.compression", o.Compression, "Enable compression for websocket message")
}
