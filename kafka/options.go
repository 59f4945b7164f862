// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package kafka

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/wangtaoking1/admin-bridge/kafka/auth"
)

// Options contains configuration of the event mirror. The mirror is off
// while no broker is configured.
type Options struct {
	Brokers       []string      `json:"brokers"        mapstructure:"brokers"`
	Topic         string        `json:"topic"          mapstructure:"topic"`
	AuthType      string        `json:"auth-type"      mapstructure:"auth-type"`
	Username      string        `json:"username"       mapstructure:"username"`
	Password      string        `json:"-"              mapstructure:"password"`
	RequiredAcks  int           `json:"required-acks"  mapstructure:"required-acks"`
	Async         bool          `json:"async"          mapstructure:"async"`
	Compression   string        `json:"compression"    mapstructure:"compression"`
	Retries       int           `json:"retries"        mapstructure:"retries"`
	RetryInterval time.Duration `json:"retry-interval" mapstructure:"retry-interval"`
	WriteTimeout  time.Duration `json:"write-timeout"  mapstructure:"write-timeout"`
}

func NewOptions() *Options {
	return &Options{
		Topic:         "admin-bridge-events",
		AuthType:      string(auth.AuthTypeRaw),
		RequiredAcks:  1,
		Compression:   "gzip",
		Retries:       3,
		RetryInterval: 100 * time.Millisecond,
		WriteTimeout:  5 * time.Second,
	}
}

// Enabled reports whether events should be mirrored.
func (o *Options) Enabled() bool {
	return len(o.Brokers) > 0
}

func (o *Options) Validate() []error {
	if !o.Enabled() {
		return nil
	}

	var errs []error
	if o.Topic == "" {
		errs = append(errs, fmt.Errorf("--kafka.topic must be set when brokers are configured"))
	}
	if _, err := auth.New(auth.AuthType(o.AuthType), o.Username, o.Password); err != nil {
		errs = append(errs, fmt.Errorf("--kafka.auth-type: %v", err))
	}
	if o.RequiredAcks < -1 || o.RequiredAcks > 1 {
		errs = append(errs, fmt.Errorf("--kafka.required-acks %d must be -1, 0 or 1", o.RequiredAcks))
	}
	if _, err := compression(o.Compression); err != nil {
		errs = append(errs, err)
	}
	if o.Retries <= 0 {
		errs = append(errs, fmt.Errorf("--kafka.retries %d must be positive", o.Retries))
	}

	return errs
}

func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringSliceVar(&o.Brokers, "kafka.brokers", o.Brokers, "Kafka brokers that receive a copy of every event, empty to disable.")
	fs.StringVar(&o.Topic, "kafka.topic", o.Topic, "Topic of mirrored events.")
	fs.StringVar(&o.AuthType, "kafka.auth-type", o.AuthType, "Authentication of the brokers, raw or sasl.")
	fs.StringVar(&o.Username, "kafka.username", o.Username, "SASL username.")
	fs.StringVar(&o.Password, "kafka.password", o.Password, "SASL password.")
	fs.IntVar(&o.RequiredAcks, "kafka.required-acks", o.RequiredAcks, "Acks required from replicas, -1 for all.")
	fs.BoolVar(&o.Async, "kafka.async", o.Async, "Write without waiting for the brokers.")
	fs.StringVar(&o.Compression, "kafka.compression", o.Compression, "Compression codec: none, gzip, snappy, lz4 or zstd.")
	fs.IntVar(&o.Retries, "kafka.retries", o.Retries, "Attempts per mirrored event.")
	fs.DurationVar(&o.RetryInterval, "kafka.retry-interval", o.RetryInterval, "Interval between attempts.")
	fs.DurationVar(&o.WriteTimeout, "kafka.write-timeout", o.WriteTimeout, "Timeout of a single write.")
}
