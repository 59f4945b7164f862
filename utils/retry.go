// Copyright 2023 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package utils

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// NotRetryErr is an error that should not retry.
var NotRetryErr = errors.New("not retry error")

// Retry calls f up to retryLimit times, sleeping interval between attempts.
// It stops early when f succeeds, returns an error wrapping NotRetryErr, or
// ctx is done.
func Retry(ctx context.Context, retryLimit int, interval time.Duration, f func() error) error {
	var err error
	for i := 0; i < retryLimit; i++ {
		err = f()
		if err == nil {
			return nil
		}
		if errors.Is(err, NotRetryErr) {
			return err
		}
		if i == retryLimit-1 {
			break
		}
		select {
		case <-ctx.Done():
			return errors.WithMessage(err, ctx.Err().Error())
		case <-time.After(interval):
		}
	}
	return err
}
