// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/wangtaoking1/admin-bridge/app"
	"github.com/wangtaoking1/admin-bridge/flag"
	"github.com/wangtaoking1/admin-bridge/protocol"
	"github.com/wangtaoking1/admin-bridge/queue"
	"github.com/wangtaoking1/admin-bridge/websocket"
)

type probeOptions struct {
	WebSocket *websocket.Options
	Timeout   time.Duration
}

func (o *probeOptions) Flags() (fss flag.NamedFlagSets) {
	o.WebSocket.AddFlags(fss.FlagSet("websocket"))
	o.addFlags(fss.FlagSet("probe"))

	return fss
}

func (o *probeOptions) addFlags(fs *pflag.FlagSet) {
	fs.DurationVar(&o.Timeout, "timeout", o.Timeout, "How long to wait for the connection.")
}

func (o *probeOptions) Validate() []error {
	errs := o.WebSocket.Validate()
	if o.WebSocket.Endpoint == "" {
		errs = append(errs, fmt.Errorf("--websocket.endpoint must be set"))
	}

	return errs
}

func newProbeCommand() app.Command {
	opts := &probeOptions{WebSocket: websocket.NewOptions(), Timeout: 10 * time.Second}

	return app.NewCommand("probe", "Check that the control plane accepts a connection",
		app.WithCmdOptions(opts),
		app.WithCmdDescription("probe dials the control plane once with the configured credentials and reports the result."),
		app.WithCmdRunFunc(func(string) error {
			if errs := opts.Validate(); len(errs) != 0 {
				return errs[0]
			}
			took, err := probe(opts)
			if err != nil {
				return err
			}
			fmt.Printf("%v connected to %s in %v\n", color.GreenString("OK"), opts.WebSocket.Endpoint, took)

			return nil
		}))
}

// probe connects once and returns how long the handshake took.
func probe(opts *probeOptions) (time.Duration, error) {
	ws := *opts.WebSocket
	ws.AutoReconnect = false

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	start := time.Now()
	connected := make(chan time.Duration, 1)
	client, err := websocket.NewClient(&ws, queue.NewOutbound(1, 0),
		websocket.DispatchFunc(func(*protocol.Envelope, uint64) {}),
		websocket.WithStateListener(func(_, to websocket.State, _ uint64) {
			if to == websocket.StateConnected {
				select {
				case connected <- time.Since(start):
				default:
				}
				cancel()
			}
		}))
	if err != nil {
		return 0, err
	}

	runErr := client.Run(ctx)
	select {
	case took := <-connected:
		return took, nil
	default:
	}
	if runErr != nil {
		return 0, runErr
	}

	return 0, protocol.NewError(protocol.ConnectionError, "no connection within %v", opts.Timeout)
}
