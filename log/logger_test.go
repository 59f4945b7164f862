// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package log

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestDebugLogger(t *testing.T) {
	err := InitLogger(true)
	assert.NoError(t, err)

	Debug("Debug")
	Debugf("Debug for %s", "test")
	Debugw("Debug", "command", "players.list")

	Errorw("Error", "err", errors.New("test"))
	Errorf("Error: %v", errors.New("test"))
}

func TestProdLogger(t *testing.T) {
	err := InitLogger(false)
	assert.NoError(t, err)

	Debug("Debug")
	Infow("Info", "data", "test")
	Infof("Info: %v", "test")
	Warnw("Warn", "queue", "outbound")

	Errorw("Error", "err", errors.New("test"))
	Flush()
}

func TestInit_InvalidOutput(t *testing.T) {
	opts := NewOptions()
	opts.OutputPaths = []string{"/nonexistent-dir/bridge.log"}
	assert.Error(t, Init(opts))
	assert.NotNil(t, Logger())
}

func TestOptions_Validate(t *testing.T) {
	opts := NewOptions()
	assert.Empty(t, opts.Validate())

	opts.Level = "loud"
	opts.Format = "xml"
	assert.Len(t, opts.Validate(), 2)
}

func TestWithContext(t *testing.T) {
	_ = InitLogger(false)

	ctx := context.Background()
	assert.Equal(t, SugarLogger(), From(ctx))

	ctx0 := WithContext(ctx, "command_id", "abc1")
	assert.NotEqual(t, From(ctx), From(ctx0))
	From(ctx0).Info("this is a info message for ctx0")

	ctx1 := WithContext(ctx0, "command", "kick-player")
	From(ctx1).Info("this is a info message for ctx1")
	With("k", "v").Info("this is a info message")
}
