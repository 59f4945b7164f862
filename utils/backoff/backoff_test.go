// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExponential_NoJitter(t *testing.T) {
	b := NewExponential(100*time.Millisecond, time.Second, 0)

	var got []time.Duration
	for i := 0; i < 6; i++ {
		got = append(got, b.Next())
	}
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}, got)
	assert.Equal(t, 6, b.Attempts())

	b.Reset()
	assert.Equal(t, 100*time.Millisecond, b.Next())
	assert.Equal(t, 1, b.Attempts())
}

func TestExponential_JitterNonDecreasing(t *testing.T) {
	b := NewExponential(50*time.Millisecond, 3*time.Second, 1)

	for round := 0; round < 20; round++ {
		prev := time.Duration(0)
		for i := 0; i < 12; i++ {
			d := b.Next()
			assert.GreaterOrEqual(t, d, prev)
			assert.GreaterOrEqual(t, d, 50*time.Millisecond)
			assert.LessOrEqual(t, d, 3*time.Second)
			prev = d
		}
		assert.Equal(t, 3*time.Second, prev)
		b.Reset()
	}
}

func TestExponential_JitterBounds(t *testing.T) {
	b := NewExponential(100*time.Millisecond, time.Minute, 0.5)
	b.rand = func() float64 { return 0.999 }

	d := b.Next()
	assert.Greater(t, d, 100*time.Millisecond)
	assert.Less(t, d, 150*time.Millisecond)
}

func TestNewExponential_Normalizes(t *testing.T) {
	b := NewExponential(time.Second, time.Millisecond, 7)
	assert.Equal(t, time.Second, b.max)
	assert.Equal(t, 1.0, b.jitter)
	assert.Equal(t, time.Second, b.Next())
}
