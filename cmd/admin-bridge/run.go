// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wangtaoking1/admin-bridge/app"
	"github.com/wangtaoking1/admin-bridge/bridge"
	"github.com/wangtaoking1/admin-bridge/kafka"
	"github.com/wangtaoking1/admin-bridge/log"
	"github.com/wangtaoking1/admin-bridge/server"
	"github.com/wangtaoking1/admin-bridge/shutdown"
	"github.com/wangtaoking1/admin-bridge/shutdown/trigger/posixsignal"
)

func run(opts *Options) app.RunFunc {
	return func(name string) error {
		if err := log.Init(opts.Log); err != nil {
			return err
		}
		defer log.Flush()

		host := newGameServer(opts.Host)
		options := []bridge.Option{
			bridge.WithWebsocketOptions(opts.WebSocket),
			bridge.WithRegisterer(prometheus.DefaultRegisterer),
			bridge.WithMetricsCollector(host.metrics),
		}

		var mirror *kafka.Mirror
		if opts.Kafka.Enabled() {
			codec, err := opts.Bridge.Codec()
			if err != nil {
				return err
			}
			m, err := kafka.NewMirror(opts.Kafka, codec)
			if err != nil {
				return err
			}
			mirror = m
			defer mirror.Close()
			options = append(options, bridge.WithEventSink(mirror))
		}

		b, err := bridge.New(opts.Bridge, options...)
		if err != nil {
			return err
		}
		if err := host.attach(b); err != nil {
			return err
		}
		if err := b.Start("", ""); err != nil {
			return err
		}

		var srv server.APIServer
		if opts.Server.Enabled {
			srv = server.New(opts.Server,
				server.WithStatus(func() any { return b.Status() }),
				server.WithReadiness(b.Connected),
			)
			go func() {
				if err := srv.Run(); err != nil {
					log.Errorw("Status server stopped", "error", err)
				}
			}()
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		gs := shutdown.New(posixsignal.New())
		gs.SetTimeout(opts.Bridge.StopTimeout + 5*time.Second)
		gs.SetErrorHandler(shutdown.ErrorFunc(func(err error) {
			log.Errorw("Graceful shutdown failed", "error", err)
		}))
		gs.AddCallback(shutdown.CallbackFunc(func(string) error {
			cancel()
			return nil
		}))
		gs.AddCallback(b)
		if srv != nil {
			gs.AddCallback(shutdown.CallbackFunc(func(string) error {
				srv.Close()
				return nil
			}))
		}
		if err := gs.Start(); err != nil {
			return err
		}

		host.Run(ctx)

		// Reached on a server.stop command; signals exit from the trigger.
		err = b.Stop()
		if srv != nil {
			srv.Close()
		}
		log.Infow("Exited", "name", name)

		return err
	}
}
