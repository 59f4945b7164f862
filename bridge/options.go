// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package bridge

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/wangtaoking1/admin-bridge/protocol"
)

// Options contains configuration options of the bridge.
type Options struct {
	BatchSize            int               `json:"batch-size"             mapstructure:"batch-size"`
	PendingTimeout       time.Duration     `json:"pending-timeout"        mapstructure:"pending-timeout"`
	SweepInterval        time.Duration     `json:"sweep-interval"         mapstructure:"sweep-interval"`
	OutboundSize         int               `json:"outbound-size"          mapstructure:"outbound-size"`
	OutboundMaxAge       time.Duration     `json:"outbound-max-age"       mapstructure:"outbound-max-age"`
	PublishWait          time.Duration     `json:"publish-wait"           mapstructure:"publish-wait"`
	InboundHighWatermark int               `json:"inbound-high-watermark" mapstructure:"inbound-high-watermark"`
	DrainGrace           time.Duration     `json:"drain-grace"            mapstructure:"drain-grace"`
	StopTimeout          time.Duration     `json:"stop-timeout"           mapstructure:"stop-timeout"`
	TypeNames            map[string]string `json:"type-names"             mapstructure:"type-names"`
	SinkWorkers          int               `json:"sink-workers"           mapstructure:"sink-workers"`
	MetricsInterval      time.Duration     `json:"metrics-interval"       mapstructure:"metrics-interval"`
}

// NewOptions returns the default bridge options.
func NewOptions() *Options {
	return &Options{
		BatchSize:            64,
		PendingTimeout:       30 * time.Second,
		SweepInterval:        100 * time.Millisecond,
		OutboundSize:         1024,
		OutboundMaxAge:       time.Minute,
		PublishWait:          10 * time.Millisecond,
		InboundHighWatermark: 10000,
		DrainGrace:           3 * time.Second,
		StopTimeout:          10 * time.Second,
		TypeNames:            map[string]string{},
		SinkWorkers:          4,
		MetricsInterval:      3 * time.Second,
	}
}

func (o *Options) Validate() []error {
	var errs []error
	if o.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("--bridge.batch-size %d must be positive", o.BatchSize))
	}
	if o.PendingTimeout <= 0 {
		errs = append(errs, fmt.Errorf("--bridge.pending-timeout must be positive"))
	}
	if o.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("--bridge.sweep-interval must be positive"))
	}
	if o.OutboundSize <= 0 {
		errs = append(errs, fmt.Errorf("--bridge.outbound-size %d must be positive", o.OutboundSize))
	}
	if o.SinkWorkers <= 0 {
		errs = append(errs, fmt.Errorf("--bridge.sink-workers %d must be positive", o.SinkWorkers))
	}
	if _, err := o.Codec(); err != nil {
		errs = append(errs, fmt.Errorf("--bridge.type-names: %v", err))
	}

	return errs
}

// Codec builds the wire codec from the configured type names. Everything
// that serializes envelopes for the control plane side should share it.
func (o *Options) Codec() (*protocol.Codec, error) {
	if len(o.TypeNames) == 0 {
		return protocol.DefaultCodec, nil
	}

	names := make(map[protocol.Type]string, len(o.TypeNames))
	known := make(map[protocol.Type]bool, len(protocol.Types))
	for _, t := range protocol.Types {
		known[t] = true
	}
	for k, v := range o.TypeNames {
		t := protocol.Type(k)
		if !known[t] {
			return nil, fmt.Errorf("unknown envelope type %q", k)
		}
		names[t] = v
	}

	return protocol.NewCodec(protocol.WithTypeNames(names))
}

func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.IntVar(&o.BatchSize, "bridge.batch-size", o.BatchSize, "Maximum number of inbound envelopes handled per poll.")
	fs.DurationVar(&o.PendingTimeout, "bridge.pending-timeout", o.PendingTimeout, "How long a dispatched command may stay unanswered.")
	fs.DurationVar(&o.SweepInterval, "bridge.sweep-interval", o.SweepInterval, "Interval of the pending command sweep.")
	fs.IntVar(&o.OutboundSize, "bridge.outbound-size", o.OutboundSize, "Capacity of the outbound queue.")
	fs.DurationVar(&o.OutboundMaxAge, "bridge.outbound-max-age", o.OutboundMaxAge, ""+
		"How long outbound envelopes are kept while disconnected, 0 to keep them forever.")
	fs.DurationVar(&o.PublishWait, "bridge.publish-wait", o.PublishWait, "How long publishing may wait for room in the outbound queue.")
	fs.IntVar(&o.InboundHighWatermark, "bridge.inbound-high-watermark", o.InboundHighWatermark, "Inbound backlog that raises an alarm.")
	fs.DurationVar(&o.DrainGrace, "bridge.drain-grace", o.DrainGrace, "How long stop waits for queued envelopes to be sent.")
	fs.DurationVar(&o.StopTimeout, "bridge.stop-timeout", o.StopTimeout, "Upper bound of the whole stop sequence.")
	fs.StringToStringVar(&o.TypeNames, "bridge.type-names", o.TypeNames, ""+
		"Wire names of envelope types, for example command=rpc,response=rpc_response.")
	fs.IntVar(&o.SinkWorkers, "bridge.sink-workers", o.SinkWorkers, "Workers mirroring events to the event sink.")
	fs.DurationVar(&o.MetricsInterval, "bridge.metrics-interval", o.MetricsInterval, "Interval of server metrics events.")
}
