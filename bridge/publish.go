// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package bridge

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/wangtaoking1/admin-bridge/log"
	"github.com/wangtaoking1/admin-bridge/protocol"
	"github.com/wangtaoking1/admin-bridge/queue"
)

const (
	// ConsoleOutputEvent carries lines written to ConsoleWriter.
	ConsoleOutputEvent = "console.output"
	// ServerMetricsEvent carries the periodic collector output.
	ServerMetricsEvent = "server.metrics"
)

// Publish queues env for the control plane from any goroutine. It waits at
// most the publish wait for room in the outbound queue.
func (b *Bridge) Publish(env *protocol.Envelope) error {
	if env == nil {
		return protocol.NewError(protocol.EncodingError, "nil envelope")
	}
	if err := b.outbound.Push(env, queue.AnyEpoch, b.opts.PublishWait); err != nil {
		b.metrics.dropped.WithLabelValues(string(env.Type)).Inc()
		log.Warnw("Publish envelope failed", "type", env.Type, "id", env.ID, "name", env.Name, "error", err)
		return err
	}
	b.metrics.outbound.Set(float64(b.outbound.Len()))
	if env.Type == protocol.TypeEvent {
		b.metrics.events.Inc()
		b.mirror(env)
	}

	return nil
}

// Notify publishes a fire-and-forget event.
func (b *Bridge) Notify(event string, data any) error {
	payload, err := protocol.NewPayload(data)
	if err != nil {
		log.Warnw("Encode event failed", "event", event, "error", err)
		return err
	}

	return b.Publish(protocol.NewEvent(event, payload))
}

func (b *Bridge) mirror(env *protocol.Envelope) {
	if b.sink == nil || b.pool == nil {
		return
	}
	err := b.pool.Submit(func() {
		if err := b.sink.Mirror(b.ctx, env); err != nil {
			log.Warnw("Mirror event failed", "event", env.Name, "id", env.ID, "error", err)
		}
	})
	if err != nil {
		log.Debugw("Event sink busy, skip mirroring", "event", env.Name, "error", err)
	}
}

// ConsoleWriter returns a writer that publishes every complete line written
// to it as a console.output event with the given level.
func (b *Bridge) ConsoleWriter(level string) io.Writer {
	return &consoleWriter{bridge: b, level: level}
}

type consoleLine struct {
	Line  string `json:"line"`
	Level string `json:"level"`
	Time  int64  `json:"time"`
}

type consoleWriter struct {
	bridge *Bridge
	level  string

	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *consoleWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.buf.Write(p)
	var lines []string
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimRight(w.buf.Next(i+1), "\r\n"))
		if line != "" {
			lines = append(lines, line)
		}
	}
	w.mu.Unlock()

	now := time.Now().UnixMilli()
	for _, line := range lines {
		// Dropped console lines are already logged by Publish.
		_ = w.bridge.Notify(ConsoleOutputEvent, &consoleLine{Line: line, Level: w.level, Time: now})
	}

	return len(p), nil
}
