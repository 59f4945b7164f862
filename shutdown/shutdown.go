// Copyright 2023 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package shutdown

import (
	"sync"
	"time"

	"github.com/wangtaoking1/admin-bridge/errors"
)

// DefaultTimeout bounds how long callbacks may run before the trigger's
// After is called anyway.
const DefaultTimeout = 15 * time.Second

// ErrCallbackTimeout is handed to the error handler when callbacks did not
// return within the timeout.
var ErrCallbackTimeout = errors.New("shutdown callbacks timed out")

// Callback is an interface you have to implement for callbacks.
type Callback interface {
	// OnShutdown will be called when shutdown is triggered. The parameter
	// is the name of the shutdown trigger that trigger shutdown.
	OnShutdown(string) error
}

// CallbackFunc is a helper type, so you can easily provide anonymous functions
// as shutdown Callbacks.
type CallbackFunc func(string) error

func (f CallbackFunc) OnShutdown(trigger string) error {
	return f(trigger)
}

// ErrorHandler is an interface you can pass to SetErrorHandler to
// handle asynchronous errors.
type ErrorHandler interface {
	OnError(error)
}

// ErrorFunc is a helper type, so you can easily provide anonymous functions
// as ErrorHandlers.
type ErrorFunc func(err error)

// OnError defines the action needed to run when error occurred.
func (f ErrorFunc) OnError(err error) {
	f(err)
}

// Executor is the interface of execute func after triggering shutdown.
type Executor interface {
	Execute(Trigger)
}

// ExecuteFunc defines the execute func.
type ExecuteFunc func(Trigger)

func (f ExecuteFunc) Execute(trigger Trigger) {
	f(trigger)
}

// Trigger is an interface implemnted by shutdown triggers.
type Trigger interface {
	// GetName returns the name of the trigger.
	GetName() string
	// Start starts the trigger to listen some shutdown requests.
	Start(Executor) error
	// After fun do something after shutdown, like exit.
	After()
}

// Shutdown is an interface implemented by shutdownController,
// that receives shutdown triggers when shutdown is requested.
type Shutdown interface {
	// Start starts the graceful shutdown controller.
	Start() error
	// AddCallback adds callback func to the shutdown controller.
	AddCallback(Callback)
	// SetErrorHandler set errorHandler for the shutdown controller.
	SetErrorHandler(ErrorHandler)
	// SetTimeout bounds the time callbacks may take, 0 waits forever.
	SetTimeout(time.Duration)
}

type shutdownController struct {
	mu           sync.Mutex
	triggers     []Trigger
	callbacks    []Callback
	errorHandler ErrorHandler
	timeout      time.Duration
	once         sync.Once
}

// New returns a new graceful shutdown instance with the specified triggers.
func New(triggers ...Trigger) Shutdown {
	return &shutdownController{
		triggers:  triggers,
		callbacks: make([]Callback, 0, 1),
		timeout:   DefaultTimeout,
	}
}

func (g *shutdownController) AddCallback(cb Callback) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.callbacks = append(g.callbacks, cb)
}

func (g *shutdownController) SetErrorHandler(h ErrorHandler) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.errorHandler = h
}

func (g *shutdownController) SetTimeout(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.timeout = d
}

func (g *shutdownController) Start() error {
	for _, t := range g.triggers {
		if err := t.Start(g.executeFunc()); err != nil {
			return errors.WithMessagef(err, "start shutdown trigger %s error", t.GetName())
		}
	}

	return nil
}

// executeFunc runs the callbacks once, whichever trigger fires first.
func (g *shutdownController) executeFunc() Executor {
	return ExecuteFunc(func(trigger Trigger) {
		g.once.Do(func() {
			g.mu.Lock()
			callbacks := append([]Callback(nil), g.callbacks...)
			timeout := g.timeout
			g.mu.Unlock()

			var wg sync.WaitGroup
			for _, cb := range callbacks {
				wg.Add(1)
				go func(callback Callback) {
					defer wg.Done()

					g.handleError(callback.OnShutdown(trigger.GetName()))
				}(cb)
			}

			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()
			var expired <-chan time.Time
			if timeout > 0 {
				t := time.NewTimer(timeout)
				defer t.Stop()
				expired = t.C
			}
			select {
			case <-done:
			case <-expired:
				g.handleError(ErrCallbackTimeout)
			}

			trigger.After()
		})
	})
}

func (g *shutdownController) handleError(err error) {
	g.mu.Lock()
	h := g.errorHandler
	g.mu.Unlock()

	if err == nil || h == nil {
		return
	}
	h.OnError(err)
}
