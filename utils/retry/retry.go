// Copyright 2023 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package retry

import (
	"context"
	goerrors "errors"
	"fmt"
	"time"
)

var (
	// RetryableErr marks an error that should be retried.
	RetryableErr = fmt.Errorf("retry")
	// TimeoutErr is returned when the deadline passes before do succeeds.
	TimeoutErr = fmt.Errorf("retry timeout")
)

// RetryWithTimeout calls do every interval until it succeeds, returns an error
// that does not wrap RetryableErr, or the timeout elapses. A zero timeout
// retries until ctx is done.
func RetryWithTimeout(ctx context.Context, interval time.Duration, timeout time.Duration, do func() error) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return TimeoutErr
		case <-time.After(interval):
			err := do()
			if err == nil {
				return nil
			}
			if !goerrors.Is(err, RetryableErr) {
				return err
			}
		}
	}
}
