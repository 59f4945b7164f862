// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package bridge connects a single-threaded host loop to a remote control
// plane. Commands received over the control channel are queued and executed
// on the goroutine that calls Poll; responses and host events flow back
// through a bounded outbound queue.
package bridge

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wangtaoking1/admin-bridge/errors"
	"github.com/wangtaoking1/admin-bridge/log"
	"github.com/wangtaoking1/admin-bridge/protocol"
	"github.com/wangtaoking1/admin-bridge/queue"
	"github.com/wangtaoking1/admin-bridge/shutdown"
	"github.com/wangtaoking1/admin-bridge/utils/retry"
	"github.com/wangtaoking1/admin-bridge/websocket"
)

var (
	ErrRegistryFrozen  = errors.New("handlers can not be registered after start")
	ErrAlreadyStarted  = errors.New("bridge already started")
	ErrStopped         = errors.New("bridge stopped")
	ErrAlreadyResolved = errors.New("command already resolved")

	errDuplicateCommand = errors.New("command id already in flight")
)

// EventSink receives a copy of every event published by the bridge.
type EventSink interface {
	Mirror(ctx context.Context, env *protocol.Envelope) error
}

// Collector gathers the payload of periodic server.metrics events. It runs on
// the bridge's own goroutine.
type Collector func() any

// Bridge is the host-facing side of the control channel.
type Bridge struct {
	opts   *Options
	wsOpts *websocket.Options
	codec  *protocol.Codec

	handlers map[string]Handler
	inbound  *queue.Inbound
	outbound *queue.Outbound
	pending  *pendingTable
	client   atomic.Pointer[websocket.Client]
	metrics  *metrics

	sink      EventSink
	pool      *ants.Pool
	collector Collector

	mu       sync.Mutex
	started  bool
	frozen   atomic.Bool
	stopping atomic.Bool
	polling  atomic.Bool
	stopOnce sync.Once
	stopErr  error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ shutdown.Callback = (*Bridge)(nil)

// Option configures a Bridge.
type Option func(*Bridge)

// WithWebsocketOptions sets the control channel options.
func WithWebsocketOptions(opts *websocket.Options) Option {
	return func(b *Bridge) {
		b.wsOpts = opts
	}
}

// WithEventSink mirrors every published event to sink.
func WithEventSink(sink EventSink) Option {
	return func(b *Bridge) {
		b.sink = sink
	}
}

// WithMetricsCollector publishes a server.metrics event built by collect
// every metrics interval while connected.
func WithMetricsCollector(collect Collector) Option {
	return func(b *Bridge) {
		b.collector = collect
	}
}

// WithRegisterer registers the bridge's prometheus metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(b *Bridge) {
		b.metrics = newMetrics(reg)
	}
}

// New creates a bridge. Handlers are registered next, then Start connects.
func New(opts *Options, options ...Option) (*Bridge, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if errs := opts.Validate(); len(errs) != 0 {
		return nil, errors.NewAggregate(errs)
	}
	codec, err := opts.Codec()
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		opts:     opts,
		wsOpts:   websocket.NewOptions(),
		codec:    codec,
		handlers: map[string]Handler{},
		inbound:  queue.NewInbound(opts.InboundHighWatermark),
		outbound: queue.NewOutbound(opts.OutboundSize, opts.OutboundMaxAge),
		pending:  newPendingTable(),
	}
	for _, o := range options {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = newMetrics(nil)
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())

	if b.sink != nil {
		b.pool, err = ants.NewPool(opts.SinkWorkers,
			ants.WithNonblocking(true),
			ants.WithPanicHandler(func(p any) {
				log.Errorw("Event sink panic", "panic", p)
			}))
		if err != nil {
			return nil, errors.Wrap(err, "create event sink pool")
		}
	}

	return b, nil
}

// RegisterHandler binds name to h. Registration is closed once the bridge
// starts.
func (b *Bridge) RegisterHandler(name string, h Handler) error {
	if name == "" || h == nil {
		return errors.New("handler needs a name and an implementation")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frozen.Load() {
		return ErrRegistryFrozen
	}
	if _, ok := b.handlers[name]; ok {
		return errors.Errorf("handler %q already registered", name)
	}
	b.handlers[name] = h

	return nil
}

// RegisterFunc binds name to a function handler.
func (b *Bridge) RegisterFunc(name string, f HandlerFunc) error {
	if f == nil {
		return b.RegisterHandler(name, nil)
	}
	return b.RegisterHandler(name, f)
}

// Start connects to endpoint with token. Empty arguments keep the values of
// the websocket options.
func (b *Bridge) Start(endpoint, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopping.Load() {
		return ErrStopped
	}
	if b.started {
		return ErrAlreadyStarted
	}

	wsOpts := *b.wsOpts
	if endpoint != "" {
		wsOpts.Endpoint = endpoint
	}
	if token != "" {
		wsOpts.Token = token
	}
	client, err := websocket.NewClient(&wsOpts, b.outbound, websocket.DispatchFunc(b.enqueue),
		websocket.WithCodec(b.codec),
		websocket.WithStateListener(b.onStateChange))
	if err != nil {
		return err
	}
	b.wsOpts = &wsOpts
	b.client.Store(client)
	b.frozen.Store(true)
	b.started = true

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		if err := client.Run(b.ctx); err != nil {
			log.Errorw("Control channel stopped", "error", err)
		}
	}()
	go func() {
		defer b.wg.Done()
		b.sweepLoop(b.ctx)
	}()
	if b.collector != nil {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.reportLoop(b.ctx)
		}()
	}
	log.Infow("Bridge started", "endpoint", wsOpts.Endpoint, "handlers", b.handlerNames())

	return nil
}

// Stop answers everything still queued or pending with a Shutdown error,
// gives the outbound queue a short grace period to flush, and closes the
// connection. It is bounded by the stop timeout and safe to call repeatedly.
func (b *Bridge) Stop() error {
	b.stopOnce.Do(func() {
		b.stopErr = b.stop()
	})
	return b.stopErr
}

// OnShutdown stops the bridge when a shutdown trigger fires.
func (b *Bridge) OnShutdown(trigger string) error {
	log.Infow("Shutdown triggered, stopping bridge", "trigger", trigger)
	return b.Stop()
}

func (b *Bridge) stop() error {
	b.mu.Lock()
	b.stopping.Store(true)
	b.frozen.Store(true)
	started := b.started
	b.mu.Unlock()

	log.Info("Stopping bridge")
	deadline := time.Now().Add(b.opts.StopTimeout)

	for _, it := range b.inbound.Drain() {
		if it.Env.IsCommand() {
			b.reply(it.Env.ID, protocol.NewError(protocol.Shutdown, "bridge is shutting down"))
		}
	}
	for _, e := range b.pending.drain() {
		env := e.response
		if env == nil {
			env = protocol.NewErrorResponse(e.id, protocol.NewError(protocol.Shutdown, "bridge is shutting down"))
		}
		if err := b.outbound.Push(env, queue.AnyEpoch, 0); err != nil {
			log.Errorw("Can not queue final response", "id", e.id, "error", err)
		}
		b.metrics.observe(protocol.ResponseCode(env))
	}

	if started && b.liveEpoch() != 0 {
		derr := retry.RetryWithTimeout(context.Background(), 10*time.Millisecond, b.opts.DrainGrace, func() error {
			if b.outbound.Len() == 0 {
				return nil
			}
			if b.liveEpoch() == 0 {
				return errors.New("connection lost while draining")
			}
			return retry.RetryableErr
		})
		if derr != nil {
			log.Warnw("Outbound queue not drained before close", "remaining", b.outbound.Len(), "error", derr)
		}
	}
	b.outbound.Close()
	b.cancel()

	var err error
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Until(deadline)):
		err = errors.New("bridge goroutines did not stop in time")
		log.Errorw("Stop timed out", "timeout", b.opts.StopTimeout)
	}

	if b.pool != nil {
		if perr := b.pool.ReleaseTimeout(time.Second); perr != nil {
			log.Warnw("Event sink workers still busy", "error", perr)
		}
	}
	log.Info("Bridge stopped")

	return err
}

// Connected reports whether the control channel is up.
func (b *Bridge) Connected() bool {
	return b.liveEpoch() != 0
}

func (b *Bridge) liveEpoch() uint64 {
	c := b.client.Load()
	if c == nil {
		return 0
	}
	return c.LiveEpoch()
}

func (b *Bridge) handlerNames() []string {
	names := make([]string, 0, len(b.handlers))
	for name := range b.handlers {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// enqueue is called by the connection reader for every inbound envelope.
func (b *Bridge) enqueue(env *protocol.Envelope, epoch uint64) {
	b.inbound.Push(env, epoch)
	b.metrics.inbound.Set(float64(b.inbound.Len()))
}

// onStateChange runs under the client's state lock.
func (b *Bridge) onStateChange(from, to websocket.State, epoch uint64) {
	b.metrics.state.Set(float64(to))
	if from == websocket.StateConnected {
		if n := b.pending.markLost(epoch); n > 0 {
			log.Warnw("Connection lost with commands in flight", "epoch", epoch, "pending", n)
		}
	}
	if to == websocket.StateConnected && epoch > 1 {
		b.metrics.reconnects.Inc()
	}
}
