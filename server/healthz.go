// Copyright 2023 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wangtaoking1/admin-bridge/errors"
	"github.com/wangtaoking1/admin-bridge/log"
	"github.com/wangtaoking1/admin-bridge/utils/retry"
)

const (
	healthzPath = "/healthz"
	readyzPath  = "/readyz"
	statusPath  = "/status"
)

func (s *apiServer) addHealthzRouter() {
	s.GET(healthzPath, func(c *gin.Context) {
		c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}

// readyz answers 503 until the control channel is connected.
func (s *apiServer) addReadyzRouter() {
	s.GET(readyzPath, func(c *gin.Context) {
		if !s.ready() {
			c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
		c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}

func (s *apiServer) addStatusRouter() {
	s.GET(statusPath, func(c *gin.Context) {
		c.JSON(http.StatusOK, s.status())
	})
}

func (s *apiServer) healthCheck() error {
	// Ping the server to make sure the router is working.
	if err := s.ping(context.Background(), 10*time.Second); err != nil {
		return errors.WithMessage(err, "healthz check failed")
	}

	return nil
}

// ping pings the http server until the router answers or timeout passes.
func (s *apiServer) ping(ctx context.Context, timeout time.Duration) error {
	url := fmt.Sprintf("http://%s%s", s.options.HTTP.healthzAddr(), healthzPath)

	return retry.RetryWithTimeout(ctx, 100*time.Millisecond, timeout, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			log.Debug("Waiting for the router deploy, retry later.")
			return retry.RetryableErr
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return retry.RetryableErr
		}
		log.Debug("The router has been deployed successfully.")

		return nil
	})
}
