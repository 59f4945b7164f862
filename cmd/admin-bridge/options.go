// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/pflag"

	"github.com/wangtaoking1/admin-bridge/bridge"
	"github.com/wangtaoking1/admin-bridge/flag"
	"github.com/wangtaoking1/admin-bridge/kafka"
	"github.com/wangtaoking1/admin-bridge/log"
	"github.com/wangtaoking1/admin-bridge/server"
	"github.com/wangtaoking1/admin-bridge/websocket"
)

// Options aggregates the options of every component.
type Options struct {
	Log       *log.Options       `json:"log"       mapstructure:"log"`
	WebSocket *websocket.Options `json:"websocket" mapstructure:"websocket"`
	Bridge    *bridge.Options    `json:"bridge"    mapstructure:"bridge"`
	Server    *server.Options    `json:"server"    mapstructure:"server"`
	Kafka     *kafka.Options     `json:"kafka"     mapstructure:"kafka"`
	Host      *HostOptions       `json:"host"      mapstructure:"host"`
}

func NewOptions() *Options {
	return &Options{
		Log:       log.NewOptions(),
		WebSocket: websocket.NewOptions(),
		Bridge:    bridge.NewOptions(),
		Server:    server.NewOptions(),
		Kafka:     kafka.NewOptions(),
		Host:      NewHostOptions(),
	}
}

func (o *Options) Flags() (fss flag.NamedFlagSets) {
	o.Log.AddFlags(fss.FlagSet("log"))
	o.WebSocket.AddFlags(fss.FlagSet("websocket"))
	o.Bridge.AddFlags(fss.FlagSet("bridge"))
	o.Server.AddFlags(fss.FlagSet("server"))
	o.Kafka.AddFlags(fss.FlagSet("kafka"))
	o.Host.AddFlags(fss.FlagSet("host"))

	return fss
}

func (o *Options) Validate() []error {
	var errs []error
	errs = append(errs, o.Log.Validate()...)
	errs = append(errs, o.WebSocket.Validate()...)
	if o.WebSocket.Endpoint == "" {
		errs = append(errs, fmt.Errorf("--websocket.endpoint must be set"))
	}
	errs = append(errs, o.Bridge.Validate()...)
	errs = append(errs, o.Server.Validate()...)
	errs = append(errs, o.Kafka.Validate()...)
	errs = append(errs, o.Host.Validate()...)

	return errs
}

// String prints the options with secrets masked.
func (o *Options) String() string {
	masked := *o
	ws := *o.WebSocket
	if ws.Token != "" {
		ws.Token = "******"
	}
	masked.WebSocket = &ws

	data, _ := json.Marshal(&masked)
	return string(data)
}

// HostOptions configures the simulated game server.
type HostOptions struct {
	TickRate    int           `json:"tick-rate"    mapstructure:"tick-rate"`
	Players     []string      `json:"players"      mapstructure:"players"`
	PlayerChurn time.Duration `json:"player-churn" mapstructure:"player-churn"`
}

func NewHostOptions() *HostOptions {
	return &HostOptions{
		TickRate:    20,
		Players:     []string{"alex", "steve", "notch"},
		PlayerChurn: 30 * time.Second,
	}
}

func (o *HostOptions) Validate() []error {
	var errs []error
	if o.TickRate <= 0 || o.TickRate > 1000 {
		errs = append(errs, fmt.Errorf("--host.tick-rate %d must be between 1 and 1000", o.TickRate))
	}

	return errs
}

func (o *HostOptions) AddFlags(fs *pflag.FlagSet) {
	fs.IntVar(&o.TickRate, "host.tick-rate", o.TickRate, "Ticks per second of the simulated server.")
	fs.StringSliceVar(&o.Players, "host.players", o.Players, "Players online at startup.")
	fs.DurationVar(&o.PlayerChurn, "host.player-churn", o.PlayerChurn, ""+
		"Interval at which a simulated player joins or leaves, 0 to disable.")
}
