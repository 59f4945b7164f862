// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	for _, name := range []string{"requestid", "logger", "recovery", "cors"} {
		assert.NotNil(t, Get(name), name)
	}
	assert.Nil(t, Get("unknown"))
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	e := gin.New()
	e.Use(RequestID())
	e.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(XRequestIDKey))
	})

	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	rid := w.Header().Get(XRequestIDKey)
	assert.NotEmpty(t, rid)
	assert.Equal(t, rid, w.Body.String())

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(XRequestIDKey, "abc")
	e.ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Header().Get(XRequestIDKey))
}

func TestCors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	e := gin.New()
	e.Use(Cors())
	e.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	e.ServeHTTP(w, req)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
