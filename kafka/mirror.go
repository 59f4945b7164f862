// Copyright 2023 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package kafka mirrors bridge events to a kafka topic.
package kafka

import (
	"context"
	"strconv"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"github.com/wangtaoking1/admin-bridge/errors"
	"github.com/wangtaoking1/admin-bridge/kafka/auth"
	"github.com/wangtaoking1/admin-bridge/log"
	"github.com/wangtaoking1/admin-bridge/protocol"
	"github.com/wangtaoking1/admin-bridge/utils"
)

const (
	HeaderID        = "envelope-id"
	HeaderType      = "envelope-type"
	HeaderTimestamp = "envelope-timestamp"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Mirror writes a copy of bridge events to kafka. It implements
// bridge.EventSink.
type Mirror struct {
	opts   *Options
	codec  *protocol.Codec
	writer messageWriter
}

// NewMirror creates a mirror writing to the configured brokers.
func NewMirror(opts *Options, codec *protocol.Codec) (*Mirror, error) {
	if !opts.Enabled() {
		return nil, errors.New("no kafka brokers configured")
	}
	if errs := opts.Validate(); len(errs) != 0 {
		return nil, errors.NewAggregate(errs)
	}
	author, err := auth.New(auth.AuthType(opts.AuthType), opts.Username, opts.Password)
	if err != nil {
		return nil, err
	}
	codecType, _ := compression(opts.Compression)

	w := &kafka.Writer{
		Transport:    author.Transport(),
		Addr:         kafka.TCP(opts.Brokers...),
		Topic:        opts.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequiredAcks(opts.RequiredAcks),
		Async:        opts.Async,
		Compression:  codecType,
		WriteTimeout: opts.WriteTimeout,
	}
	if opts.Async {
		w.Completion = func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Warnw("Async event mirror failed", "count", len(msgs), "error", err)
			}
		}
	}

	return newMirror(opts, codec, w), nil
}

func newMirror(opts *Options, codec *protocol.Codec, w messageWriter) *Mirror {
	if codec == nil {
		codec = protocol.DefaultCodec
	}
	return &Mirror{opts: opts, codec: codec, writer: w}
}

// Mirror writes env to the topic, keyed by event name so that events of one
// kind stay ordered within a partition.
func (m *Mirror) Mirror(ctx context.Context, env *protocol.Envelope) error {
	msg, err := m.message(env)
	if err != nil {
		return err
	}

	return utils.Retry(ctx, m.opts.Retries, m.opts.RetryInterval, func() error {
		return m.writer.WriteMessages(ctx, msg)
	})
}

func (m *Mirror) message(env *protocol.Envelope) (kafka.Message, error) {
	value, err := m.codec.Encode(env)
	if err != nil {
		return kafka.Message{}, err
	}

	return kafka.Message{
		Key:   []byte(env.Name),
		Value: value,
		Headers: []kafka.Header{
			{Key: HeaderID, Value: []byte(env.ID)},
			{Key: HeaderType, Value: []byte(m.wireType(env))},
			{Key: HeaderTimestamp, Value: []byte(strconv.FormatInt(env.Timestamp, 10))},
		},
	}, nil
}

// wireType is the tag the control channel uses for env.
func (m *Mirror) wireType(env *protocol.Envelope) string {
	if name := m.codec.WireName(env.Type); name != "" {
		return name
	}
	if env.RawType != "" {
		return env.RawType
	}
	return string(env.Type)
}

func (m *Mirror) Close() {
	if m.writer == nil {
		return
	}
	if err := m.writer.Close(); err != nil {
		log.Errorw("Error close kafka event mirror", "error", err)
	}
}

func compression(name string) (kafka.Compression, error) {
	switch name {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return compress.None, errors.Errorf("--kafka.compression %q is not supported", name)
	}
}
