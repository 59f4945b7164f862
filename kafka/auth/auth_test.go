// Copyright 2025 Tao Wang <wangtaoking1@qq.com>. All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

package auth

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	a, err := New("", "", "")
	require.NoError(t, err)
	assert.Nil(t, a.Transport().(*kafka.Transport).SASL)

	a, err = New(AuthTypeSASL, "admin", "pw")
	require.NoError(t, err)
	assert.Equal(t, plain.Mechanism{Username: "admin", Password: "pw"}, a.Transport().(*kafka.Transport).SASL)

	_, err = New(AuthTypeSASL, "", "pw")
	assert.Error(t, err)
	_, err = New("aws", "", "")
	assert.Error(t, err)
}
