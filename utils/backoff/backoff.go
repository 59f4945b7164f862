// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package backoff

import (
	"math/rand"
	"sync"
	"time"

	"github.com/wangtaoking1/admin-bridge/utils"
)

const defaultMultiplier = 2.0

// Exponential produces growing delays between attempts: base, then doubled
// each time up to max, with an upward jitter. Delays of consecutive attempts
// never decrease until Reset.
type Exponential struct {
	mu         sync.Mutex
	base       time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64
	current    time.Duration
	last       time.Duration
	attempts   int
	rand       func() float64
}

// NewExponential returns a backoff starting at base and capped at max.
// jitter is the fraction in [0, 1] of each delay that may be added at random.
func NewExponential(base, max time.Duration, jitter float64) *Exponential {
	if base <= 0 {
		base = time.Millisecond
	}
	max = utils.Max(max, base)
	jitter = utils.Min(utils.Max(jitter, 0), 1)

	return &Exponential{
		base:       base,
		max:        max,
		multiplier: defaultMultiplier,
		jitter:     jitter,
		current:    base,
		rand:       rand.Float64,
	}
}

// Next returns the delay before the next attempt.
func (b *Exponential) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	interval := b.current
	if b.jitter > 0 {
		interval += time.Duration(float64(interval) * b.jitter * b.rand())
	}
	interval = utils.Min(utils.Max(interval, b.last), b.max)

	next := time.Duration(float64(b.current) * b.multiplier)
	b.current = utils.Min(next, b.max)
	b.last = interval
	b.attempts++

	return interval
}

// Attempts returns how many delays were handed out since the last reset.
func (b *Exponential) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.attempts
}

// Reset brings the delay back to base.
func (b *Exponential) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current = b.base
	b.last = 0
	b.attempts = 0
}
